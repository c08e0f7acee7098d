package model

import (
	"fmt"

	"github.com/yourorg/agent-bank/internal/types"
)

// MaxAdmins bounds the admin registry
const MaxAdmins = 5

// AdminRegistry is the governance singleton
type AdminRegistry struct {
	Admins        []types.Identity `json:"admins"`
	Threshold     uint8            `json:"threshold"`
	ProposalCount uint64           `json:"proposal_count"`
}

// IsAdmin reports whether id is a registered admin
func (r AdminRegistry) IsAdmin(id types.Identity) bool {
	for _, a := range r.Admins {
		if a == id {
			return true
		}
	}
	return false
}

// ProposalStatus is the lifecycle state of a treasury proposal
type ProposalStatus int

// Proposal states
const (
	ProposalPending ProposalStatus = iota
	ProposalApproved
	ProposalRejected
	ProposalExecuted
	ProposalExpired
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalPending:
		return "pending"
	case ProposalApproved:
		return "approved"
	case ProposalRejected:
		return "rejected"
	case ProposalExecuted:
		return "executed"
	case ProposalExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalRejected || s == ProposalExecuted || s == ProposalExpired
}

// MarshalText implements encoding.TextMarshaler
func (s ProposalStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *ProposalStatus) UnmarshalText(b []byte) error {
	for _, candidate := range []ProposalStatus{ProposalPending, ProposalApproved, ProposalRejected, ProposalExecuted, ProposalExpired} {
		if candidate.String() == string(b) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown proposal status %q", string(b))
}

// TreasuryProposal is a multi-admin request to spend treasury funds
type TreasuryProposal struct {
	ID           uint64           `json:"id"`
	Proposer     types.Identity   `json:"proposer"`
	Destination  types.Identity   `json:"destination"`
	Amount       uint64           `json:"amount"`
	Memo         string           `json:"memo"`
	Status       ProposalStatus   `json:"status"`
	VotesFor     uint8            `json:"votes_for"`
	VotesAgainst uint8            `json:"votes_against"`
	Voters       []types.Identity `json:"voters"`
	CreatedAt    int64            `json:"created_at"`
	ExpiresAt    int64            `json:"expires_at"`
	ExecutedAt   *int64           `json:"executed_at,omitempty"`
}

// HasVoted reports whether id already voted
func (p TreasuryProposal) HasVoted(id types.Identity) bool {
	for _, v := range p.Voters {
		if v == id {
			return true
		}
	}
	return false
}

// EffectiveStatus applies lazy expiry: a proposal that was not executed (or
// otherwise finalised) before ExpiresAt reads as Expired.
func (p TreasuryProposal) EffectiveStatus(now int64) ProposalStatus {
	if (p.Status == ProposalPending || p.Status == ProposalApproved) && now > p.ExpiresAt {
		return ProposalExpired
	}
	return p.Status
}
