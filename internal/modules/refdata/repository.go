// Package refdata provides corporate-action reference data: dividends,
// splits, mergers and ticker renames, plus the resolver the valuation loop
// and execution resolver query.
package refdata

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// Repository handles corporate-action database operations against refdata.db
type Repository struct {
	refdataDB *sql.DB
	log       zerolog.Logger
}

// NewRepository creates a new corporate-action repository
func NewRepository(refdataDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		refdataDB: refdataDB,
		log:       log.With().Str("repo", "refdata").Logger(),
	}
}

const dateLayout = "2006-01-02"

// AllDividendSplits loads every dividend and split record, ordered by payment date
func (r *Repository) AllDividendSplits() ([]domain.DividendSplit, error) {
	query := `
		SELECT symbol, kind, payment_date, amount
		FROM dividend_splits
		ORDER BY payment_date, symbol
	`

	rows, err := r.refdataDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividend/split records: %w", err)
	}
	defer rows.Close()

	var records []domain.DividendSplit
	for rows.Next() {
		var rec domain.DividendSplit
		var kind, paymentDate string
		if err := rows.Scan(&rec.Symbol, &kind, &paymentDate, &rec.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan dividend/split record: %w", err)
		}

		rec.Kind = domain.ActionKind(kind)
		rec.PaymentDate, err = time.Parse(dateLayout, paymentDate)
		if err != nil {
			return nil, fmt.Errorf("invalid payment_date %q for %s: %w", paymentDate, rec.Symbol, err)
		}
		rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dividend/split records: %w", err)
	}

	return records, nil
}

// AllMergers loads every merger record
func (r *Repository) AllMergers() ([]domain.Merger, error) {
	query := `SELECT symbol, merger_date, entry_price FROM mergers`

	rows, err := r.refdataDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query merger records: %w", err)
	}
	defer rows.Close()

	var records []domain.Merger
	for rows.Next() {
		var rec domain.Merger
		var mergerDate string
		if err := rows.Scan(&rec.Symbol, &mergerDate, &rec.EntryPrice); err != nil {
			return nil, fmt.Errorf("failed to scan merger record: %w", err)
		}

		rec.MergerDate, err = time.Parse(dateLayout, mergerDate)
		if err != nil {
			return nil, fmt.Errorf("invalid merger_date %q for %s: %w", mergerDate, rec.Symbol, err)
		}
		rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merger records: %w", err)
	}

	return records, nil
}

// AllTickerChanges loads every ticker rename record
func (r *Repository) AllTickerChanges() ([]domain.TickerChange, error) {
	query := `SELECT old_symbol, new_symbol, record_date FROM ticker_changes`

	rows, err := r.refdataDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticker change records: %w", err)
	}
	defer rows.Close()

	var records []domain.TickerChange
	for rows.Next() {
		var rec domain.TickerChange
		var recordDate string
		if err := rows.Scan(&rec.OldSymbol, &rec.NewSymbol, &recordDate); err != nil {
			return nil, fmt.Errorf("failed to scan ticker change record: %w", err)
		}

		rec.RecordDate, err = time.Parse(dateLayout, recordDate)
		if err != nil {
			return nil, fmt.Errorf("invalid record_date %q for %s: %w", recordDate, rec.OldSymbol, err)
		}
		rec.OldSymbol = strings.ToUpper(strings.TrimSpace(rec.OldSymbol))
		rec.NewSymbol = strings.ToUpper(strings.TrimSpace(rec.NewSymbol))

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticker change records: %w", err)
	}

	return records, nil
}

// LoadResolver builds an in-memory resolver from all stored records
func (r *Repository) LoadResolver() (*Resolver, error) {
	divSplits, err := r.AllDividendSplits()
	if err != nil {
		return nil, err
	}

	mergers, err := r.AllMergers()
	if err != nil {
		return nil, err
	}

	changes, err := r.AllTickerChanges()
	if err != nil {
		return nil, err
	}

	r.log.Debug().
		Int("dividend_splits", len(divSplits)).
		Int("mergers", len(mergers)).
		Int("ticker_changes", len(changes)).
		Msg("Loaded corporate action reference data")

	return NewResolver(divSplits, mergers, changes), nil
}
