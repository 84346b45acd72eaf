package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/clients/covey"
	"github.com/coveylabs/valuation-engine/internal/domain"
	"github.com/coveylabs/valuation-engine/internal/modules/ledger"
	"github.com/coveylabs/valuation-engine/internal/modules/prices"
	"github.com/coveylabs/valuation-engine/internal/modules/refdata"
	"github.com/coveylabs/valuation-engine/internal/modules/trading"
)

// Runner executes the full reconstruction pipeline: gather ledger entries,
// sync prices, resolve fills, run the valuation loop, and persist the
// sealed output. It owns run identity and the diagnostics report.
type Runner struct {
	accountID string
	params    Params

	gatherer  *covey.Gatherer
	priceSync *prices.SyncService
	priceRepo *prices.Repository
	refdata   *refdata.Repository
	calendar  domain.Calendar
	trades    *trading.Repository
	snapshots *SnapshotRepository
	log       zerolog.Logger
}

// NewRunner creates a new pipeline runner
func NewRunner(
	accountID string,
	params Params,
	gatherer *covey.Gatherer,
	priceSync *prices.SyncService,
	priceRepo *prices.Repository,
	refdataRepo *refdata.Repository,
	calendar domain.Calendar,
	trades *trading.Repository,
	snapshots *SnapshotRepository,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		accountID: accountID,
		params:    params,
		gatherer:  gatherer,
		priceSync: priceSync,
		priceRepo: priceRepo,
		refdata:   refdataRepo,
		calendar:  calendar,
		trades:    trades,
		snapshots: snapshots,
		log:       log.With().Str("component", "runner").Logger(),
	}
}

// Execute performs one valuation run end to end. Chain and symbol failures
// degrade to partial input and are carried in the run artifact's
// diagnostics. Resolved fills are persisted as soon as resolution succeeds;
// the sealed snapshots and per-fill position state land only after the
// valuation loop completes.
func (r *Runner) Execute(ctx context.Context) (*Run, error) {
	startedAt := time.Now().UTC()
	runID := uuid.NewString()
	log := r.log.With().Str("run_id", runID).Logger()

	entries, chainFailures := r.gatherer.FetchAll(ctx, r.accountID)
	for _, failure := range chainFailures {
		log.Warn().Str("chain", string(failure.Chain)).Str("error", failure.Err).Msg("Chain contributed zero trades")
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no ledger entries available for %s", r.accountID)
	}

	intents := trading.ParseIntents(entries)
	log.Info().Int("entries", len(entries)).Int("intents", len(intents)).Msg("Parsed ledger entries")

	if r.priceSync != nil {
		symbols := make([]string, 0, len(intents))
		for _, intent := range intents {
			symbols = append(symbols, trading.CleanupTicker(intent.Symbol))
		}
		syncStart := intents[0].EntryTime.Add(-24 * time.Hour)
		if _, err := r.priceSync.Sync(ctx, symbols, syncStart, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("price sync failed: %w", err)
		}
	}

	actions, err := r.refdata.LoadResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to load corporate actions: %w", err)
	}

	resolver := trading.NewExecutionResolver(r.calendar, r.priceRepo, actions, log)
	fills, err := resolver.Resolve(intents)
	if err != nil {
		return nil, fmt.Errorf("fill resolution failed: %w", err)
	}

	book := ledger.New(fills)
	for _, fill := range book.Unpriced() {
		log.Warn().Str("symbol", fill.Symbol).Time("entry", fill.EntryTime).Msg("Fill has no price anywhere in the feed")
	}

	// The resolved fill history is an audit trail in its own right: persist
	// it before the loop so a valuation failure still leaves it inspectable
	if err := r.trades.ReplaceRun(runID, append(book.Fills(), book.Unpriced()...)); err != nil {
		return nil, fmt.Errorf("failed to persist fills: %w", err)
	}

	valuation := NewService(r.calendar, r.priceRepo, actions, r.params, log)
	result, err := valuation.Run(ctx, book)
	if err != nil {
		return nil, fmt.Errorf("valuation failed: %w", err)
	}

	finalFills := append(book.Fills(), book.Unpriced()...)
	for _, fill := range book.Fills() {
		if err := r.trades.UpdatePositionState(runID, fill.ID, fill.Position); err != nil {
			return nil, fmt.Errorf("failed to persist position state: %w", err)
		}
	}

	run := Run{
		ID:              runID,
		AccountID:       r.accountID,
		StartedAt:       startedAt,
		FinishedAt:      time.Now().UTC(),
		CheckpointCount: len(result.Snapshots),
		FillCount:       len(finalFills),
		UnpricedCount:   len(book.Unpriced()),
	}

	unpriced := make([]string, 0, len(book.Unpriced()))
	for _, fill := range book.Unpriced() {
		unpriced = append(unpriced, fmt.Sprintf("%s@%s", fill.Symbol, fill.EntryTime.Format(time.RFC3339)))
	}
	chainDiags := make([]string, 0, len(chainFailures))
	for _, failure := range chainFailures {
		chainDiags = append(chainDiags, fmt.Sprintf("%s: %s", failure.Chain, failure.Err))
	}

	blob, err := EncodeArtifact(Artifact{
		Version:       artifactVersion,
		RunID:         runID,
		AccountID:     r.accountID,
		GeneratedAt:   run.FinishedAt,
		Snapshots:     result.Snapshots,
		Positions:     result.Positions,
		Fills:         finalFills,
		Unpriced:      unpriced,
		ChainFailures: chainDiags,
		Stats:         ComputeStats(result.Snapshots),
	})
	if err != nil {
		return nil, err
	}

	if err := r.snapshots.SaveRun(run, result, blob); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	log.Info().
		Int("checkpoints", run.CheckpointCount).
		Int("fills", run.FillCount).
		Int("unpriced", run.UnpricedCount).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Valuation run complete")

	return &run, nil
}
