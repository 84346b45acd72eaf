package domain

import "errors"

// ErrRowCountMismatch indicates the trade-to-price join produced a different
// number of resolved fills than input intents. This is fatal: it means the
// join would silently duplicate or drop exposure.
var ErrRowCountMismatch = errors.New("resolved fill count does not match intent count")

// ErrNoCheckpoints indicates the valuation loop had no checkpoint timestamps
// to walk (no priced fills, or no price history overlapping them).
var ErrNoCheckpoints = errors.New("no valuation checkpoints available")
