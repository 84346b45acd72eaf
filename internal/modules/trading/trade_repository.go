package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/database"
	"github.com/coveylabs/valuation-engine/internal/domain"
)

// Repository persists resolved fills in the ledger database, scoped by run.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new trade repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// ReplaceRun atomically replaces the fill history for a run. Fills keep the
// IDs assigned by the resolver; the (run_id, id) pair is the stable identity
// downstream queries join on.
func (r *Repository) ReplaceRun(runID string, fills []domain.ResolvedFill) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM fills WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear run %s: %w", runID, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO fills (
				id, run_id, account_id, chain, symbol, target_percentage,
				entry_time, market_entry_time, execution_price,
				prior_share_count, post_share_count, share_delta,
				prior_position_value, current_position_value, prior_portfolio_value,
				cash_used, realized_profit, adjusted_entry_price, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare fill insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, fill := range fills {
			var price interface{}
			if fill.Priced {
				price = fill.ExecutionPrice
			}
			var adjusted interface{}
			if fill.Position.AdjustedEntryPrice != 0 {
				adjusted = fill.Position.AdjustedEntryPrice
			}

			_, err := stmt.Exec(
				fill.ID, runID, fill.AccountID, string(fill.Chain), fill.Symbol,
				fill.TargetPercentage, fill.EntryTime.Unix(), fill.MarketEntryTime.Unix(),
				price,
				fill.Position.PriorShareCount, fill.Position.PostShareCount, fill.Position.ShareDelta,
				fill.Position.PriorPositionValue, fill.Position.CurrentPositionValue, fill.Position.PriorPortfolioValue,
				fill.Position.CashUsed, fill.Position.RealizedProfit, adjusted, now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert fill %d (%s): %w", fill.ID, fill.Symbol, err)
			}
		}

		return nil
	})
}

// UpdatePositionState rewrites the position-state columns of one fill.
// Called by the valuation loop exactly once per fill, when the checkpoint
// window containing the fill is processed.
func (r *Repository) UpdatePositionState(runID string, fillID int64, state domain.PositionState) error {
	var adjusted interface{}
	if state.AdjustedEntryPrice != 0 {
		adjusted = state.AdjustedEntryPrice
	}

	result, err := r.db.Exec(`
		UPDATE fills SET
			prior_share_count = ?, post_share_count = ?, share_delta = ?,
			prior_position_value = ?, current_position_value = ?, prior_portfolio_value = ?,
			cash_used = ?, realized_profit = ?, adjusted_entry_price = ?
		WHERE run_id = ? AND id = ?
	`,
		state.PriorShareCount, state.PostShareCount, state.ShareDelta,
		state.PriorPositionValue, state.CurrentPositionValue, state.PriorPortfolioValue,
		state.CashUsed, state.RealizedProfit, adjusted,
		runID, fillID,
	)
	if err != nil {
		return fmt.Errorf("failed to update position state for fill %d: %w", fillID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("fill %d not found in run %s", fillID, runID)
	}

	return nil
}

// GetRunFills returns a run's fills in ID order
func (r *Repository) GetRunFills(runID string) ([]domain.ResolvedFill, error) {
	rows, err := r.db.Query(`
		SELECT id, account_id, chain, symbol, target_percentage,
		       entry_time, market_entry_time, execution_price,
		       prior_share_count, post_share_count, share_delta,
		       prior_position_value, current_position_value, prior_portfolio_value,
		       cash_used, realized_profit, adjusted_entry_price
		FROM fills
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills for run %s: %w", runID, err)
	}
	defer rows.Close()

	var fills []domain.ResolvedFill
	for rows.Next() {
		fill, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}

	return fills, rows.Err()
}

// GetSymbolFills returns a run's fills for one symbol in market-entry order
func (r *Repository) GetSymbolFills(runID, symbol string) ([]domain.ResolvedFill, error) {
	rows, err := r.db.Query(`
		SELECT id, account_id, chain, symbol, target_percentage,
		       entry_time, market_entry_time, execution_price,
		       prior_share_count, post_share_count, share_delta,
		       prior_position_value, current_position_value, prior_portfolio_value,
		       cash_used, realized_profit, adjusted_entry_price
		FROM fills
		WHERE run_id = ? AND symbol = ?
		ORDER BY market_entry_time, id
	`, runID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills for %s: %w", symbol, err)
	}
	defer rows.Close()

	var fills []domain.ResolvedFill
	for rows.Next() {
		fill, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}

	return fills, rows.Err()
}

func scanFill(rows *sql.Rows) (domain.ResolvedFill, error) {
	var fill domain.ResolvedFill
	var chain string
	var entryUnix, marketEntryUnix int64
	var price, adjusted sql.NullFloat64

	err := rows.Scan(
		&fill.ID, &fill.AccountID, &chain, &fill.Symbol, &fill.TargetPercentage,
		&entryUnix, &marketEntryUnix, &price,
		&fill.Position.PriorShareCount, &fill.Position.PostShareCount, &fill.Position.ShareDelta,
		&fill.Position.PriorPositionValue, &fill.Position.CurrentPositionValue, &fill.Position.PriorPortfolioValue,
		&fill.Position.CashUsed, &fill.Position.RealizedProfit, &adjusted,
	)
	if err != nil {
		return domain.ResolvedFill{}, fmt.Errorf("failed to scan fill: %w", err)
	}

	fill.Chain = domain.Chain(chain)
	fill.EntryTime = time.Unix(entryUnix, 0).UTC()
	fill.MarketEntryTime = time.Unix(marketEntryUnix, 0).UTC()
	if price.Valid {
		fill.ExecutionPrice = price.Float64
		fill.Priced = true
	}
	if adjusted.Valid {
		fill.Position.AdjustedEntryPrice = adjusted.Float64
	}

	return fill, nil
}
