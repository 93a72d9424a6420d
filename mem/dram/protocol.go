package dram

import (
	"github.com/sarchlab/mipsim/mem/dram/internal/signal"
)

// Source re-exports the request source so that clients of the
// controller do not reach into the internal packages.
type Source = signal.Source

// The request sources.
const (
	SourceFetch  = signal.SourceFetch
	SourceMemory = signal.SourceMemory
)
