package cache

import (
	"github.com/sarchlab/mipsim/mem/cache/internal/policy"
	"github.com/sarchlab/mipsim/mem/cache/internal/tagging"
)

// MESIState re-exports the line coherence state so that clients of the
// caches do not reach into the internal packages.
type MESIState = tagging.MESIState

// The four MESI states.
const (
	Invalid   = tagging.Invalid
	Shared    = tagging.Shared
	Exclusive = tagging.Exclusive
	Modified  = tagging.Modified
)

// Block re-exports the cache line record.
type Block = tagging.Block

// Policy names a replacement policy.
type Policy = policy.Kind

// The supported replacement policies.
const (
	LRU   = policy.LRU
	DIP   = policy.DIP
	DRRIP = policy.DRRIP
	EAF   = policy.EAF
)

// ParsePolicy converts a policy name.
func ParsePolicy(name string) (Policy, error) {
	return policy.ParseKind(name)
}
