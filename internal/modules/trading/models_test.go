package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

func TestParseIntents_ExplodesTokens(t *testing.T) {
	entries := []domain.RawLedgerEntry{
		{
			AccountID: "0xabc",
			Chain:     domain.ChainPolygon,
			Trades:    "AAPL:0.5,TSLA:-0.25",
			EntryUnix: 1640995200, // 2022-01-01 00:00:00 UTC
		},
	}

	intents := ParseIntents(entries)
	require.Len(t, intents, 2)

	assert.Equal(t, "AAPL", intents[0].Symbol)
	assert.Equal(t, 0.5, intents[0].TargetPercentage)
	assert.Equal(t, "TSLA", intents[1].Symbol)
	assert.Equal(t, -0.25, intents[1].TargetPercentage)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), intents[0].EntryTime)
	assert.Equal(t, domain.ChainPolygon, intents[0].Chain)
}

func TestParseIntents_SortsByEntryTime(t *testing.T) {
	entries := []domain.RawLedgerEntry{
		{AccountID: "0xabc", Chain: domain.ChainSkale, Trades: "MSFT:0.1", EntryUnix: 2000},
		{AccountID: "0xabc", Chain: domain.ChainPolygon, Trades: "AAPL:0.1", EntryUnix: 1000},
	}

	intents := ParseIntents(entries)
	require.Len(t, intents, 2)
	assert.Equal(t, "AAPL", intents[0].Symbol)
	assert.Equal(t, "MSFT", intents[1].Symbol)
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantSymbol string
		wantTarget float64
	}{
		{"regular", "AAPL:0.5", "AAPL", 0.5},
		{"short", "TSLA:-0.3", "TSLA", -0.3},
		{"lowercase normalized", "aapl:0.5", "AAPL", 0.5},
		{"whitespace trimmed", " AAPL : 0.5 ", "AAPL", 0.5},
		{"empty token", "", domain.BlankSymbol, 0},
		{"whitespace only", "   ", domain.BlankSymbol, 0},
		{"missing target", "AAPL", "AAPL", 0},
		{"non-numeric target", "AAPL:covey-reset", "AAPL", 0},
		{"missing symbol", ":0.5", domain.BlankSymbol, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			symbol, target := parseToken(tt.token)
			assert.Equal(t, tt.wantSymbol, symbol)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}

func TestCleanupTicker(t *testing.T) {
	assert.Equal(t, "ETHUSD", CleanupTicker("ETHUSDT"))
	assert.Equal(t, "BTCUSD", CleanupTicker("BTCUSDT"))
	assert.Equal(t, "AAPL", CleanupTicker("AAPL"))
	assert.Equal(t, "ETHUSD", CleanupTicker("ETHUSD"))
}
