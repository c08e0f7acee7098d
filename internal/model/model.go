// Package model defines the core data structures for the agent custody bank.
package model

import (
	"fmt"
	"strings"

	"github.com/yourorg/agent-bank/internal/types"
)

// Agent is an autonomous financial identity with its own custody account and
// spending policy. There is exactly one Agent per owner identity.
type Agent struct {
	// Owner is the identity controlling this agent
	Owner types.Identity `json:"owner"`

	// Name is a human-readable label (at most 32 characters)
	Name string `json:"name"`

	// SpendingLimit is the maximum cumulative spend per period
	SpendingLimit uint64 `json:"spending_limit"`

	// PeriodDuration is the length of a spending period in seconds
	PeriodDuration int64 `json:"period_duration"`

	// CurrentPeriodStart is the unix time the current period started
	CurrentPeriodStart int64 `json:"current_period_start"`

	// CurrentPeriodSpend is the amount already spent in the current period
	CurrentPeriodSpend uint64 `json:"current_period_spend"`

	// TotalDeposited counts every unit ever deposited, including paid yield
	TotalDeposited uint64 `json:"total_deposited"`

	// StakedAmount is the share of deposits earning yield
	StakedAmount uint64 `json:"staked_amount"`

	// LastYieldTimestamp is the unix time yield was last accrued
	LastYieldTimestamp int64 `json:"last_yield_timestamp"`

	// CreatedAt is the unix time of registration
	CreatedAt int64 `json:"created_at"`
}

// PeriodEndsAt returns the unix time at which the stored period elapses
func (a Agent) PeriodEndsAt() int64 {
	return a.CurrentPeriodStart + a.PeriodDuration
}

// Capability names a permission a delegate can hold
type Capability int

const (
	// CapabilitySpend allows withdrawals
	CapabilitySpend Capability = iota
	// CapabilityManageYield allows yield strategy changes
	CapabilityManageYield
)

func (c Capability) String() string {
	if c == CapabilityManageYield {
		return "manage_yield"
	}
	return "spend"
}

// DelegateRecord grants a secondary identity capabilities on an agent
type DelegateRecord struct {
	Agent          types.Identity `json:"agent"`
	Delegate       types.Identity `json:"delegate"`
	CanSpend       bool           `json:"can_spend"`
	CanManageYield bool           `json:"can_manage_yield"`

	// ValidUntil is a unix time; 0 means the grant never expires
	ValidUntil int64 `json:"valid_until"`

	CreatedAt int64 `json:"created_at"`
}

// Allows reports whether the record grants cap
func (d DelegateRecord) Allows(cap Capability) bool {
	switch cap {
	case CapabilitySpend:
		return d.CanSpend
	case CapabilityManageYield:
		return d.CanManageYield
	default:
		return false
	}
}

// ActiveAt reports whether the grant is still valid at now
func (d DelegateRecord) ActiveAt(now int64) bool {
	return d.ValidUntil == 0 || now <= d.ValidUntil
}

// PauseReason explains why fund movement is halted
type PauseReason uint8

// Pause reasons
const (
	PauseNone PauseReason = iota
	PauseSecurity
	PauseMaintenance
	PauseUpgrade
)

func (r PauseReason) String() string {
	switch r {
	case PauseSecurity:
		return "Security"
	case PauseMaintenance:
		return "Maintenance"
	case PauseUpgrade:
		return "Upgrade"
	default:
		return "None"
	}
}

// ParsePauseReason parses a reason name (case-insensitive)
func ParsePauseReason(s string) (PauseReason, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PauseNone, nil
	case "security":
		return PauseSecurity, nil
	case "maintenance":
		return PauseMaintenance, nil
	case "upgrade":
		return PauseUpgrade, nil
	default:
		return PauseNone, fmt.Errorf("unknown pause reason %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (r PauseReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *PauseReason) UnmarshalText(b []byte) error {
	parsed, err := ParsePauseReason(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// BankConfig is the global singleton holding the circuit breaker state
type BankConfig struct {
	Admin                   types.Identity `json:"admin"`
	ProtocolFeeBps          uint16         `json:"protocol_fee_bps"`
	Paused                  bool           `json:"paused"`
	PauseReason             PauseReason    `json:"pause_reason"`
	SuspiciousActivityCount uint32         `json:"suspicious_activity_count"`

	// AutoPauseThreshold of 0 disables auto-pause
	AutoPauseThreshold uint32 `json:"auto_pause_threshold"`

	LastSecurityCheck int64 `json:"last_security_check"`
}
