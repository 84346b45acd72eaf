package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/database"
	"github.com/coveylabs/valuation-engine/internal/domain"
)

// Run is the persisted record of one valuation run
type Run struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	CheckpointCount int       `json:"checkpoint_count"`
	FillCount       int       `json:"fill_count"`
	UnpricedCount   int       `json:"unpriced_count"`
}

// SnapshotRepository persists sealed valuation output in portfolio.db.
// A run's snapshots land in a single transaction: a fatal error mid-run
// leaves no partial rows behind.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// SaveRun writes the run record, its snapshot sequence, its position
// snapshots, and the encoded artifact atomically.
func (r *SnapshotRepository) SaveRun(run Run, result *LoopResult, artifact []byte) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO runs (id, account_id, started_at, finished_at, checkpoint_count, fill_count, unpriced_count, artifact)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, run.AccountID, run.StartedAt.Unix(), run.FinishedAt.Unix(),
			run.CheckpointCount, run.FillCount, run.UnpricedCount, artifact)
		if err != nil {
			return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
		}

		snapStmt, err := tx.Prepare(`
			INSERT INTO portfolio_snapshots (
				run_id, timestamp, cash, positions_usd, usd_value, inception_return,
				gross_exposure_usd, long_exposure_usd, short_exposure_usd, net_exposure_usd,
				gross_exposure_percent, long_exposure_percent, short_exposure_percent, net_exposure_percent,
				gross_traded_usd, net_traded_usd, gross_traded_percent, net_traded_percent,
				unrealized_long_pnl, unrealized_short_pnl, unrealized_pnl,
				realized_long_pnl, realized_short_pnl, realized_pnl,
				total_long_pnl, total_short_pnl, total_pnl
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot insert: %w", err)
		}
		defer snapStmt.Close()

		for _, s := range result.Snapshots {
			_, err := snapStmt.Exec(
				run.ID, s.Timestamp.Unix(), s.Cash, s.PositionsUSD, s.USDValue, s.InceptionReturn,
				s.GrossExposureUSD, s.LongExposureUSD, s.ShortExposureUSD, s.NetExposureUSD,
				s.GrossExposurePercent, s.LongExposurePercent, s.ShortExposurePercent, s.NetExposurePercent,
				s.GrossTradedUSD, s.NetTradedUSD, s.GrossTradedPercent, s.NetTradedPercent,
				s.UnrealizedLongPnL, s.UnrealizedShortPnL, s.UnrealizedPnL,
				s.RealizedLongPnL, s.RealizedShortPnL, s.RealizedPnL,
				s.TotalLongPnL, s.TotalShortPnL, s.TotalPnL,
			)
			if err != nil {
				return fmt.Errorf("failed to insert snapshot at %s: %w", s.Timestamp, err)
			}
		}

		posStmt, err := tx.Prepare(`
			INSERT INTO position_snapshots (
				run_id, timestamp, symbol, share_count, price, entry_price,
				usd_position_value, percent_of_portfolio, unrealized_pnl, position_pnl, position_roi
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare position snapshot insert: %w", err)
		}
		defer posStmt.Close()

		for _, p := range result.Positions {
			var roi interface{}
			if p.ROIDefined {
				roi = p.PositionROI
			}
			_, err := posStmt.Exec(
				run.ID, p.Timestamp.Unix(), p.Symbol, p.ShareCount, p.Price, p.EntryPrice,
				p.USDPositionValue, p.PercentOfPortfolio, p.UnrealizedPnL, p.PositionPnL, roi,
			)
			if err != nil {
				return fmt.Errorf("failed to insert position snapshot %s@%s: %w", p.Symbol, p.Timestamp, err)
			}
		}

		return nil
	})
}

// LatestRun returns the most recently finished run, if any
func (r *SnapshotRepository) LatestRun() (Run, bool, error) {
	var run Run
	var started, finished int64

	err := r.db.QueryRow(`
		SELECT id, account_id, started_at, finished_at, checkpoint_count, fill_count, unpriced_count
		FROM runs
		ORDER BY finished_at DESC, id DESC
		LIMIT 1
	`).Scan(&run.ID, &run.AccountID, &started, &finished,
		&run.CheckpointCount, &run.FillCount, &run.UnpricedCount)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("failed to query latest run: %w", err)
	}

	run.StartedAt = time.Unix(started, 0).UTC()
	run.FinishedAt = time.Unix(finished, 0).UTC()
	return run, true, nil
}

// GetSnapshots returns a run's portfolio snapshots in timestamp order
func (r *SnapshotRepository) GetSnapshots(runID string) ([]domain.PortfolioSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT timestamp, cash, positions_usd, usd_value, inception_return,
		       gross_exposure_usd, long_exposure_usd, short_exposure_usd, net_exposure_usd,
		       gross_exposure_percent, long_exposure_percent, short_exposure_percent, net_exposure_percent,
		       gross_traded_usd, net_traded_usd, gross_traded_percent, net_traded_percent,
		       unrealized_long_pnl, unrealized_short_pnl, unrealized_pnl,
		       realized_long_pnl, realized_short_pnl, realized_pnl,
		       total_long_pnl, total_short_pnl, total_pnl
		FROM portfolio_snapshots
		WHERE run_id = ?
		ORDER BY timestamp
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for run %s: %w", runID, err)
	}
	defer rows.Close()

	var snaps []domain.PortfolioSnapshot
	for rows.Next() {
		var s domain.PortfolioSnapshot
		var unix int64
		err := rows.Scan(&unix, &s.Cash, &s.PositionsUSD, &s.USDValue, &s.InceptionReturn,
			&s.GrossExposureUSD, &s.LongExposureUSD, &s.ShortExposureUSD, &s.NetExposureUSD,
			&s.GrossExposurePercent, &s.LongExposurePercent, &s.ShortExposurePercent, &s.NetExposurePercent,
			&s.GrossTradedUSD, &s.NetTradedUSD, &s.GrossTradedPercent, &s.NetTradedPercent,
			&s.UnrealizedLongPnL, &s.UnrealizedShortPnL, &s.UnrealizedPnL,
			&s.RealizedLongPnL, &s.RealizedShortPnL, &s.RealizedPnL,
			&s.TotalLongPnL, &s.TotalShortPnL, &s.TotalPnL)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Timestamp = time.Unix(unix, 0).UTC()
		snaps = append(snaps, s)
	}

	return snaps, rows.Err()
}

// GetPositions returns a run's position snapshots at one checkpoint,
// ordered by symbol
func (r *SnapshotRepository) GetPositions(runID string, ts time.Time) ([]domain.PositionSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT timestamp, symbol, share_count, price, entry_price,
		       usd_position_value, percent_of_portfolio, unrealized_pnl, position_pnl, position_roi
		FROM position_snapshots
		WHERE run_id = ? AND timestamp = ?
		ORDER BY symbol
	`, runID, ts.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var positions []domain.PositionSnapshot
	for rows.Next() {
		var p domain.PositionSnapshot
		var unix int64
		var roi sql.NullFloat64
		err := rows.Scan(&unix, &p.Symbol, &p.ShareCount, &p.Price, &p.EntryPrice,
			&p.USDPositionValue, &p.PercentOfPortfolio, &p.UnrealizedPnL, &p.PositionPnL, &roi)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position snapshot: %w", err)
		}
		p.Timestamp = time.Unix(unix, 0).UTC()
		if roi.Valid {
			p.PositionROI = roi.Float64
			p.ROIDefined = true
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetArtifact returns a run's encoded artifact blob
func (r *SnapshotRepository) GetArtifact(runID string) ([]byte, error) {
	var blob []byte
	err := r.db.QueryRow(`SELECT artifact FROM runs WHERE id = ?`, runID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact for run %s: %w", runID, err)
	}
	return blob, nil
}

// LatestCheckpoint returns the last snapshot timestamp of a run
func (r *SnapshotRepository) LatestCheckpoint(runID string) (time.Time, bool, error) {
	var unix sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(timestamp) FROM portfolio_snapshots WHERE run_id = ?`, runID).Scan(&unix)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest checkpoint: %w", err)
	}
	if !unix.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(unix.Int64, 0).UTC(), true, nil
}
