package risksource

import (
	"context"

	"github.com/yourorg/agent-bank/internal/types"
)

// Blocklist rejects a fixed set of destinations
type Blocklist struct {
	blocked map[types.Identity]struct{}
}

// NewBlocklist builds a blocklist; entries are canonicalised like identities
func NewBlocklist(entries []string) *Blocklist {
	b := &Blocklist{blocked: make(map[types.Identity]struct{}, len(entries))}
	for _, e := range entries {
		id, err := types.ParseIdentity(e)
		if err != nil {
			continue
		}
		b.blocked[id] = struct{}{}
	}
	return b
}

// Name returns "blocklist"
func (b *Blocklist) Name() string { return "blocklist" }

// Check fails for listed addresses
func (b *Blocklist) Check(_ context.Context, addr types.Identity) (Verdict, error) {
	if _, ok := b.blocked[addr]; ok {
		return Verdict{Detail: "destination is blocklisted", RiskScore: 100}, nil
	}
	return Verdict{Passed: true, Detail: "not blocklisted"}, nil
}

// Len returns the number of entries
func (b *Blocklist) Len() int {
	return len(b.blocked)
}
