// Package prices provides the market data feed surface: the price-bar store
// the core values against, and the sync service that fills it.
package prices

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// Repository stores hourly VWAP bars in history.db and answers the price
// lookups the execution resolver and valuation loop need. It implements
// domain.PriceSource.
type Repository struct {
	historyDB *sql.DB
	log       zerolog.Logger
}

// NewRepository creates a new price repository
func NewRepository(historyDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		historyDB: historyDB,
		log:       log.With().Str("repo", "prices").Logger(),
	}
}

// UpsertBars writes bars, replacing any existing bucket for the same
// symbol/timestamp. Duplicate buckets collapse here, which is what keeps the
// first-bucket-at-or-after lookup deterministic.
func (r *Repository) UpsertBars(bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.historyDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin bar upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO price_bars (symbol, timestamp, vwap)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		symbol := strings.ToUpper(strings.TrimSpace(bar.Symbol))
		if _, err := stmt.Exec(symbol, bar.Timestamp.Unix(), bar.VWAP); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to upsert bar %s@%s: %w", symbol, bar.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bar upsert: %w", err)
	}

	return nil
}

// FirstBarAtOrAfter returns the earliest bar for symbol at or after ts.
// The (symbol, timestamp) primary key makes the selection stable: there is
// exactly one bucket per timestamp, so the earliest match is unambiguous.
func (r *Repository) FirstBarAtOrAfter(symbol string, ts time.Time) (domain.PriceBar, bool, error) {
	query := `
		SELECT symbol, timestamp, vwap
		FROM price_bars
		WHERE symbol = ? AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT 1
	`

	var bar domain.PriceBar
	var unix int64
	err := r.historyDB.QueryRow(query, symbol, ts.Unix()).Scan(&bar.Symbol, &unix, &bar.VWAP)
	if err == sql.ErrNoRows {
		return domain.PriceBar{}, false, nil
	}
	if err != nil {
		return domain.PriceBar{}, false, fmt.Errorf("failed to query first bar for %s: %w", symbol, err)
	}

	bar.Timestamp = time.Unix(unix, 0).UTC()
	return bar, true, nil
}

// PriceAt returns the VWAP of the exact bucket at ts, if present
func (r *Repository) PriceAt(symbol string, ts time.Time) (float64, bool, error) {
	query := `SELECT vwap FROM price_bars WHERE symbol = ? AND timestamp = ?`

	var vwap float64
	err := r.historyDB.QueryRow(query, symbol, ts.Unix()).Scan(&vwap)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query price for %s: %w", symbol, err)
	}

	return vwap, true, nil
}

// MaxTimestamp returns the latest bar timestamp for symbol
func (r *Repository) MaxTimestamp(symbol string) (time.Time, bool, error) {
	query := `SELECT MAX(timestamp) FROM price_bars WHERE symbol = ?`

	var unix sql.NullInt64
	if err := r.historyDB.QueryRow(query, symbol).Scan(&unix); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query max timestamp for %s: %w", symbol, err)
	}
	if !unix.Valid {
		return time.Time{}, false, nil
	}

	return time.Unix(unix.Int64, 0).UTC(), true, nil
}

// GlobalMaxTimestamp returns the latest bar timestamp across all symbols.
// The valuation loop's terminal checkpoint sits at or beyond this instant.
func (r *Repository) GlobalMaxTimestamp() (time.Time, bool, error) {
	var unix sql.NullInt64
	if err := r.historyDB.QueryRow(`SELECT MAX(timestamp) FROM price_bars`).Scan(&unix); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query global max timestamp: %w", err)
	}
	if !unix.Valid {
		return time.Time{}, false, nil
	}

	return time.Unix(unix.Int64, 0).UTC(), true, nil
}

// Symbols returns the distinct symbols that have at least one bar
func (r *Repository) Symbols() ([]string, error) {
	rows, err := r.historyDB.Query(`SELECT DISTINCT symbol FROM price_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}

	return symbols, nil
}

// RecordSyncState records the outcome of a symbol sync. A non-empty
// lastError marks the symbol as degraded without blocking other symbols.
func (r *Repository) RecordSyncState(symbol string, syncedAt time.Time, lastError string) error {
	query := `
		INSERT OR REPLACE INTO sync_state (symbol, last_synced_at, last_error)
		VALUES (?, ?, ?)
	`

	var errVal interface{}
	if lastError != "" {
		errVal = lastError
	}

	if _, err := r.historyDB.Exec(query, symbol, syncedAt.Unix(), errVal); err != nil {
		return fmt.Errorf("failed to record sync state for %s: %w", symbol, err)
	}

	return nil
}
