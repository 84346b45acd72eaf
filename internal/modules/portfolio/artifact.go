package portfolio

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// artifactVersion is bumped whenever the encoded layout changes
const artifactVersion = 1

// Artifact is the sealed, self-contained record of one valuation run:
// everything a consumer needs to reproduce or audit the run without the
// databases. Slices only, in deterministic order, so identical inputs
// encode to identical bytes.
type Artifact struct {
	Version     int                        `msgpack:"version"`
	RunID       string                     `msgpack:"run_id"`
	AccountID   string                     `msgpack:"account_id"`
	GeneratedAt time.Time                  `msgpack:"generated_at"`
	Snapshots   []domain.PortfolioSnapshot `msgpack:"snapshots"`
	Positions   []domain.PositionSnapshot  `msgpack:"positions"`
	Fills       []domain.ResolvedFill      `msgpack:"fills"`
	Unpriced    []string                   `msgpack:"unpriced"`
	// ChainFailures lists chains that contributed zero trades this run,
	// as "CHAIN: error". Non-fatal: the run proceeds on partial input.
	ChainFailures []string         `msgpack:"chain_failures"`
	Stats         PerformanceStats `msgpack:"stats"`
}

// EncodeArtifact serializes an artifact with msgpack
func EncodeArtifact(a Artifact) ([]byte, error) {
	blob, err := msgpack.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run artifact: %w", err)
	}
	return blob, nil
}

// DecodeArtifact deserializes an artifact blob
func DecodeArtifact(blob []byte) (Artifact, error) {
	var a Artifact
	if err := msgpack.Unmarshal(blob, &a); err != nil {
		return Artifact{}, fmt.Errorf("failed to decode run artifact: %w", err)
	}
	if a.Version != artifactVersion {
		return Artifact{}, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	return a, nil
}
