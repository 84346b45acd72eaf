package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

func TestArtifactRoundTrip(t *testing.T) {
	generated := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	original := Artifact{
		Version:     artifactVersion,
		RunID:       "run-1",
		AccountID:   "0xabc",
		GeneratedAt: generated,
		Snapshots: []domain.PortfolioSnapshot{
			{Timestamp: day(10, 21), Cash: 5000, PositionsUSD: 5000, USDValue: 10000, InceptionReturn: 1.0},
		},
		Positions: []domain.PositionSnapshot{
			{Timestamp: day(10, 21), Symbol: "AAPL", ShareCount: 50, Price: 100, USDPositionValue: 5000, ROIDefined: true},
		},
		Fills: []domain.ResolvedFill{
			pricedFill(1, "AAPL", 0.5, day(10, 16), 100),
		},
		Unpriced:      []string{"OBSCURE"},
		ChainFailures: []string{"SKL: rpc timeout"},
		Stats:         PerformanceStats{TotalReturn: 0.05, SharpeRatio: 1.2},
	}

	blob, err := EncodeArtifact(original)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	decoded, err := DecodeArtifact(blob)
	require.NoError(t, err)

	assert.Equal(t, original.RunID, decoded.RunID)
	assert.Equal(t, original.AccountID, decoded.AccountID)
	assert.True(t, decoded.GeneratedAt.Equal(generated))
	assert.Equal(t, original.Snapshots[0].USDValue, decoded.Snapshots[0].USDValue)
	assert.Equal(t, original.Positions[0].Symbol, decoded.Positions[0].Symbol)
	assert.Equal(t, original.Fills[0].ExecutionPrice, decoded.Fills[0].ExecutionPrice)
	assert.Equal(t, original.Unpriced, decoded.Unpriced)
	assert.Equal(t, original.ChainFailures, decoded.ChainFailures)
	assert.Equal(t, original.Stats, decoded.Stats)
}

func TestDecodeArtifact_RejectsUnknownVersion(t *testing.T) {
	blob, err := EncodeArtifact(Artifact{Version: artifactVersion + 1, RunID: "run-2"})
	require.NoError(t, err)

	_, err = DecodeArtifact(blob)
	assert.ErrorContains(t, err, "unsupported artifact version")
}

func TestEncodeArtifact_Deterministic(t *testing.T) {
	a := Artifact{
		Version:   artifactVersion,
		RunID:     "run-3",
		Snapshots: []domain.PortfolioSnapshot{{USDValue: 10000}},
	}

	first, err := EncodeArtifact(a)
	require.NoError(t, err)
	second, err := EncodeArtifact(a)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
