package prices

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

func setupHistoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE price_bars (
			symbol TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			vwap REAL NOT NULL,
			PRIMARY KEY (symbol, timestamp)
		);
		CREATE TABLE sync_state (
			symbol TEXT PRIMARY KEY,
			last_synced_at INTEGER NOT NULL,
			last_error TEXT
		);
	`)
	require.NoError(t, err)
	return db
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(setupHistoryDB(t), zerolog.New(nil).Level(zerolog.Disabled))
}

func hour(d, h int) time.Time {
	return time.Date(2022, 1, d, h, 0, 0, 0, time.UTC)
}

func bar(symbol string, ts time.Time, vwap float64) domain.PriceBar {
	return domain.PriceBar{Symbol: symbol, Timestamp: ts, VWAP: vwap}
}

func TestFirstBarAtOrAfter(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.UpsertBars([]domain.PriceBar{
		bar("AAPL", hour(10, 15), 100),
		bar("AAPL", hour(10, 16), 101),
		bar("AAPL", hour(10, 17), 102),
	}))

	// Exact bucket
	got, found, err := repo.FirstBarAtOrAfter("AAPL", hour(10, 16))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 101.0, got.VWAP)
	assert.True(t, got.Timestamp.Equal(hour(10, 16)))

	// Gap: next bucket after the requested instant
	got, found, err = repo.FirstBarAtOrAfter("AAPL", hour(10, 16).Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 102.0, got.VWAP)

	// Beyond the horizon
	_, found, err = repo.FirstBarAtOrAfter("AAPL", hour(10, 18))
	require.NoError(t, err)
	assert.False(t, found)

	// Unknown symbol
	_, found, err = repo.FirstBarAtOrAfter("TSLA", hour(10, 15))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPriceAtExactBucketOnly(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.UpsertBars([]domain.PriceBar{
		bar("AAPL", hour(10, 15), 100),
	}))

	vwap, found, err := repo.PriceAt("AAPL", hour(10, 15))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 100.0, vwap)

	// Off-bucket lookups never interpolate
	_, found, err = repo.PriceAt("AAPL", hour(10, 16))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMaxTimestamp(t *testing.T) {
	repo := newTestRepository(t)

	_, found, err := repo.MaxTimestamp("AAPL")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.UpsertBars([]domain.PriceBar{
		bar("AAPL", hour(10, 15), 100),
		bar("AAPL", hour(12, 20), 104),
		bar("TSLA", hour(14, 18), 900),
	}))

	ts, found, err := repo.MaxTimestamp("AAPL")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, ts.Equal(hour(12, 20)))

	global, found, err := repo.GlobalMaxTimestamp()
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, global.Equal(hour(14, 18)))
}

func TestUpsertBarsReplacesBucket(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.UpsertBars([]domain.PriceBar{bar("AAPL", hour(10, 15), 100)}))
	require.NoError(t, repo.UpsertBars([]domain.PriceBar{bar("AAPL", hour(10, 15), 107)}))

	vwap, found, err := repo.PriceAt("AAPL", hour(10, 15))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 107.0, vwap)
}

func TestUpsertBarsNormalizesSymbol(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.UpsertBars([]domain.PriceBar{bar(" aapl ", hour(10, 15), 100)}))

	_, found, err := repo.PriceAt("AAPL", hour(10, 15))
	require.NoError(t, err)
	assert.True(t, found)

	symbols, err := repo.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, symbols)
}

func TestRecordSyncState(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.RecordSyncState("AAPL", hour(10, 15), ""))
	require.NoError(t, repo.RecordSyncState("AAPL", hour(10, 16), "feed returned 503"))

	var lastError sql.NullString
	var syncedAt int64
	err := repo.historyDB.QueryRow(`SELECT last_synced_at, last_error FROM sync_state WHERE symbol = ?`, "AAPL").
		Scan(&syncedAt, &lastError)
	require.NoError(t, err)
	assert.Equal(t, hour(10, 16).Unix(), syncedAt)
	require.True(t, lastError.Valid)
	assert.Equal(t, "feed returned 503", lastError.String)
}
