package risksource

import (
	"context"

	"github.com/yourorg/agent-bank/internal/types"
)

// HeuristicSource flags structurally suspicious addresses without any
// network call: the all-zero burn address and single-byte patterns.
type HeuristicSource struct{}

// NewHeuristicSource creates the local heuristic adapter
func NewHeuristicSource() *HeuristicSource {
	return &HeuristicSource{}
}

// Name returns "heuristic"
func (HeuristicSource) Name() string { return "heuristic" }

// Check never returns an error
func (HeuristicSource) Check(_ context.Context, addr types.Identity) (Verdict, error) {
	b := addr.Bytes()
	if len(b) == 0 {
		return Verdict{Detail: "empty destination", RiskScore: 100}, nil
	}

	zero := true
	same := true
	for _, c := range b {
		if c != 0 {
			zero = false
		}
		if c != b[0] {
			same = false
		}
	}

	switch {
	case zero:
		return Verdict{Detail: "burn address", RiskScore: 100}, nil
	case same && len(b) > 1:
		return Verdict{Detail: "suspicious repeated-byte address", RiskScore: 95}, nil
	default:
		return Verdict{Passed: true, Detail: "no suspicious pattern"}, nil
	}
}
