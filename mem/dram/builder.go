package dram

import (
	"github.com/sarchlab/mipsim/mem/dram/internal/addressmapping"
	"github.com/sarchlab/mipsim/mem/dram/internal/org"
)

// Builder can build DRAM controllers.
type Builder struct {
	numBanks int
	queueCap int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numBanks: addressmapping.NumBanks,
		queueCap: 256,
	}
}

// WithNumBanks sets the bank count.
func (b Builder) WithNumBanks(numBanks int) Builder {
	b.numBanks = numBanks
	return b
}

// WithQueueCapacity caps the request queue. Overflowing the cap is a
// fatal error; the controller never drops requests.
func (b Builder) WithQueueCapacity(capacity int) Builder {
	b.queueCap = capacity
	return b
}

// Build creates the controller.
func (b Builder) Build(name string) *Comp {
	return &Comp{
		name:     name,
		mapper:   addressmapping.New(),
		banks:    make([]org.Bank, b.numBanks),
		queueCap: b.queueCap,
	}
}
