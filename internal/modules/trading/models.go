// Package trading converts raw ledger entries into executable fills: it
// parses intent tokens, resolves pricing timestamps against the trading
// calendar, attaches prices, and persists the resolved fill history.
package trading

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// ParseIntents explodes raw ledger entries into one TradeIntent per
// symbol:target token. Empty or malformed tokens normalize to BLANK:0 and
// non-numeric targets coerce to zero (ledger reset rows), so every recorded
// entry survives parsing. Intents are returned in ascending entry-time order.
func ParseIntents(entries []domain.RawLedgerEntry) []domain.TradeIntent {
	var intents []domain.TradeIntent

	for _, entry := range entries {
		entryTime := time.Unix(entry.EntryUnix, 0).UTC()

		tokens := strings.Split(entry.Trades, ",")
		for _, token := range tokens {
			symbol, target := parseToken(token)
			intents = append(intents, domain.TradeIntent{
				AccountID:        entry.AccountID,
				Chain:            entry.Chain,
				Symbol:           symbol,
				TargetPercentage: target,
				EntryTime:        entryTime,
			})
		}
	}

	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].EntryTime.Before(intents[j].EntryTime)
	})

	return intents
}

// parseToken splits one "SYMBOL:target" token. Blank tokens become BLANK:0.
func parseToken(token string) (string, float64) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.BlankSymbol, 0
	}

	parts := strings.SplitN(token, ":", 2)
	symbol := strings.ToUpper(strings.TrimSpace(parts[0]))
	if symbol == "" {
		return domain.BlankSymbol, 0
	}

	if len(parts) < 2 {
		return symbol, 0
	}

	target, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		// Non-numeric targets (ledger reset markers) flatten to zero
		return symbol, 0
	}

	return symbol, target
}

// sortFillsByMarketEntry orders fills by pricing timestamp, preserving the
// original ledger order within equal timestamps.
func sortFillsByMarketEntry(fills []domain.ResolvedFill) {
	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].MarketEntryTime.Before(fills[j].MarketEntryTime)
	})
}

// CleanupTicker rewrites stablecoin-pair suffixes to the fiat-pair
// equivalent (ETHUSDT -> ETHUSD) before any calendar or price join.
func CleanupTicker(symbol string) string {
	if strings.HasSuffix(symbol, "USDT") {
		return strings.TrimSuffix(symbol, "USDT") + "USD"
	}
	return symbol
}
