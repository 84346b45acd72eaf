package prices

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed serves canned bars per symbol and records what was requested
type fakeFeed struct {
	mu      sync.Mutex
	bars    map[string][]Bar
	errs    map[string]error
	fetched []string
}

func (f *fakeFeed) HistoricBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, symbol)
	f.mu.Unlock()

	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	return f.bars[symbol], nil
}

func newTestSyncService(t *testing.T, feed *fakeFeed) (*SyncService, *Repository) {
	t.Helper()
	repo := NewRepository(setupHistoryDB(t), zerolog.New(nil).Level(zerolog.Disabled))
	return NewSyncService(feed, repo, zerolog.New(nil).Level(zerolog.Disabled)), repo
}

func TestSyncStoresBarsPerSymbol(t *testing.T) {
	feed := &fakeFeed{bars: map[string][]Bar{
		"AAPL": {{Timestamp: hour(10, 15), VWAP: 100}, {Timestamp: hour(10, 16), VWAP: 101}},
		"TSLA": {{Timestamp: hour(10, 15), VWAP: 900}},
	}}
	svc, repo := newTestSyncService(t, feed)

	result, err := svc.Sync(context.Background(), []string{"AAPL", "TSLA"}, hour(10, 0), hour(11, 0))
	require.NoError(t, err)

	assert.Equal(t, 3, result.BarsStored)
	assert.Equal(t, []string{"AAPL", "TSLA"}, result.SymbolsSynced)
	assert.Empty(t, result.Failures)

	vwap, found, err := repo.PriceAt("TSLA", hour(10, 15))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 900.0, vwap)
}

func TestSyncFailureIsolation(t *testing.T) {
	feed := &fakeFeed{
		bars: map[string][]Bar{
			"AAPL": {{Timestamp: hour(10, 15), VWAP: 100}},
		},
		errs: map[string]error{
			"TSLA": errors.New("feed returned 503"),
		},
	}
	svc, repo := newTestSyncService(t, feed)

	result, err := svc.Sync(context.Background(), []string{"AAPL", "TSLA"}, hour(10, 0), hour(11, 0))
	require.NoError(t, err, "one symbol failing must not abort the pass")

	assert.Equal(t, []string{"AAPL"}, result.SymbolsSynced)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "TSLA", result.Failures[0].Symbol)
	assert.Contains(t, result.Failures[0].Err, "503")

	// The healthy symbol's bars landed
	_, found, err := repo.PriceAt("AAPL", hour(10, 15))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSyncDeduplicatesAndSkipsBlank(t *testing.T) {
	feed := &fakeFeed{bars: map[string][]Bar{
		"AAPL": {{Timestamp: hour(10, 15), VWAP: 100}},
	}}
	svc, _ := newTestSyncService(t, feed)

	result, err := svc.Sync(context.Background(),
		[]string{"AAPL", "aapl", " AAPL ", "BLANK", ""}, hour(10, 0), hour(11, 0))
	require.NoError(t, err)

	sort.Strings(feed.fetched)
	assert.Equal(t, []string{"AAPL"}, feed.fetched)
	assert.Equal(t, 1, result.BarsStored)
}

func TestSyncTruncatesTimestampsToHour(t *testing.T) {
	feed := &fakeFeed{bars: map[string][]Bar{
		"AAPL": {{Timestamp: hour(10, 15).Add(17 * time.Minute), VWAP: 100}},
	}}
	svc, repo := newTestSyncService(t, feed)

	_, err := svc.Sync(context.Background(), []string{"AAPL"}, hour(10, 0), hour(11, 0))
	require.NoError(t, err)

	_, found, err := repo.PriceAt("AAPL", hour(10, 15))
	require.NoError(t, err)
	assert.True(t, found, "bar buckets align to the hour")
}
