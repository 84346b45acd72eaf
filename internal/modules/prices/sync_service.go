package prices

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// SyncService fills the price store from the feed, one goroutine per symbol.
// Symbol fetches are independent: a failure on one symbol degrades that
// symbol to unpriced and never blocks or aborts the others.
type SyncService struct {
	client FeedClient
	repo   *Repository
	log    zerolog.Logger
}

// NewSyncService creates a new price sync service
func NewSyncService(client FeedClient, repo *Repository, log zerolog.Logger) *SyncService {
	return &SyncService{
		client: client,
		repo:   repo,
		log:    log.With().Str("component", "price_sync").Logger(),
	}
}

// SyncResult reports the outcome of one sync pass
type SyncResult struct {
	BarsStored    int
	SymbolsSynced []string
	Failures      []SymbolFailure
}

// SymbolFailure records a symbol whose fetch failed
type SymbolFailure struct {
	Symbol string
	Err    string
}

// Sync fetches hourly bars for every symbol concurrently and persists them.
// Symbols are deduplicated and uppercased before fetching.
func (s *SyncService) Sync(ctx context.Context, symbols []string, start, end time.Time) (*SyncResult, error) {
	unique := make(map[string]bool)
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" && sym != domain.BlankSymbol {
			unique[sym] = true
		}
	}

	type fetchOutcome struct {
		symbol string
		bars   []Bar
		err    error
	}

	outcomes := make([]fetchOutcome, 0, len(unique))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for sym := range unique {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			bars, err := s.client.HistoricBars(ctx, symbol, start, end)
			mu.Lock()
			outcomes = append(outcomes, fetchOutcome{symbol: symbol, bars: bars, err: err})
			mu.Unlock()
		}(sym)
	}
	wg.Wait()

	// Deterministic processing order regardless of goroutine completion order
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].symbol < outcomes[j].symbol })

	result := &SyncResult{}
	now := time.Now().UTC()

	for _, out := range outcomes {
		if out.err != nil {
			s.log.Warn().Err(out.err).Str("symbol", out.symbol).Msg("Price sync failed for symbol")
			result.Failures = append(result.Failures, SymbolFailure{Symbol: out.symbol, Err: out.err.Error()})
			if err := s.repo.RecordSyncState(out.symbol, now, out.err.Error()); err != nil {
				s.log.Error().Err(err).Str("symbol", out.symbol).Msg("Failed to record sync state")
			}
			continue
		}

		bars := make([]domain.PriceBar, 0, len(out.bars))
		for _, b := range out.bars {
			bars = append(bars, domain.PriceBar{
				Symbol:    out.symbol,
				Timestamp: b.Timestamp.Truncate(time.Hour),
				VWAP:      b.VWAP,
			})
		}

		if err := s.repo.UpsertBars(bars); err != nil {
			result.Failures = append(result.Failures, SymbolFailure{Symbol: out.symbol, Err: err.Error()})
			continue
		}

		result.BarsStored += len(bars)
		result.SymbolsSynced = append(result.SymbolsSynced, out.symbol)
		if err := s.repo.RecordSyncState(out.symbol, now, ""); err != nil {
			s.log.Error().Err(err).Str("symbol", out.symbol).Msg("Failed to record sync state")
		}
	}

	s.log.Info().
		Int("symbols", len(result.SymbolsSynced)).
		Int("bars", result.BarsStored).
		Int("failures", len(result.Failures)).
		Msg("Price sync completed")

	return result, nil
}
