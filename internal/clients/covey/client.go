// Package covey provides clients for the Covey on-chain trade ledger.
// Each chain exposes the same analyst-content surface: tuples of
// (address, position string, unix time) appended by the analyst's wallet.
package covey

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// HTTPReader reads ledger entries for one chain from a ledger indexer
// endpoint. It implements domain.ChainReader.
type HTTPReader struct {
	chain      domain.Chain
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPReader creates a reader for one chain's indexer endpoint
func NewHTTPReader(chain domain.Chain, baseURL string, log zerolog.Logger) *HTTPReader {
	return &HTTPReader{
		chain:   chain,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "covey_reader").Str("chain", string(chain)).Logger(),
	}
}

// Chain returns the chain this reader serves
func (r *HTTPReader) Chain() domain.Chain {
	return r.chain
}

// contentRow mirrors the indexer's analyst-content payload
type contentRow struct {
	Address   string `json:"address"`
	Trades    string `json:"trades"`
	EntryTime int64  `json:"entry_date_time"`
}

// FetchEntries retrieves all ledger entries recorded by accountID on this chain
func (r *HTTPReader) FetchEntries(ctx context.Context, accountID string) ([]domain.RawLedgerEntry, error) {
	endpoint := fmt.Sprintf("%s/analysts/%s/content", r.baseURL, url.PathEscape(accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request failed on %s: %w", r.chain, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger response on %s: %w", r.chain, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger request on %s returned %d: %s", r.chain, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []contentRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode ledger response on %s: %w", r.chain, err)
	}

	entries := make([]domain.RawLedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.RawLedgerEntry{
			AccountID: row.Address,
			Chain:     r.chain,
			Trades:    row.Trades,
			EntryUnix: row.EntryTime,
		})
	}

	r.log.Debug().Int("entries", len(entries)).Msg("Fetched ledger entries")
	return entries, nil
}

// ChainFailure records a chain whose fetch failed. The chain contributes
// zero entries; other chains are unaffected.
type ChainFailure struct {
	Chain domain.Chain
	Err   string
}

// Gatherer fans out over all configured chain readers concurrently and
// collects their entries into one dataset before the valuation begins.
type Gatherer struct {
	readers []domain.ChainReader
	log     zerolog.Logger
}

// NewGatherer creates a gatherer over the given chain readers
func NewGatherer(readers []domain.ChainReader, log zerolog.Logger) *Gatherer {
	return &Gatherer{
		readers: readers,
		log:     log.With().Str("component", "covey_gatherer").Logger(),
	}
}

// FetchAll fetches from every chain concurrently. A failed chain is reported
// in the failures slice and contributes no entries; it never aborts the
// gather. Entries are returned grouped by reader registration order so the
// result is deterministic.
func (g *Gatherer) FetchAll(ctx context.Context, accountID string) ([]domain.RawLedgerEntry, []ChainFailure) {
	type outcome struct {
		entries []domain.RawLedgerEntry
		err     error
	}

	outcomes := make([]outcome, len(g.readers))
	done := make(chan int, len(g.readers))

	for i, reader := range g.readers {
		go func(idx int, rd domain.ChainReader) {
			entries, err := rd.FetchEntries(ctx, accountID)
			outcomes[idx] = outcome{entries: entries, err: err}
			done <- idx
		}(i, reader)
	}
	for range g.readers {
		<-done
	}

	var all []domain.RawLedgerEntry
	var failures []ChainFailure

	for i, out := range outcomes {
		chain := g.readers[i].Chain()
		if out.err != nil {
			g.log.Warn().Err(out.err).Str("chain", string(chain)).Msg("Chain fetch failed, contributing zero trades")
			failures = append(failures, ChainFailure{Chain: chain, Err: out.err.Error()})
			continue
		}
		all = append(all, out.entries...)
	}

	return all, failures
}
