package model

import (
	"fmt"
	"strings"

	"github.com/yourorg/agent-bank/internal/types"
)

// ConditionKind selects which hook condition a strategy uses
type ConditionKind string

// Hook condition kinds
const (
	ConditionBalanceAbove ConditionKind = "balance_above"
	ConditionTimeElapsed  ConditionKind = "time_elapsed"
	ConditionYieldAbove   ConditionKind = "yield_above"
)

// HookCondition is the trigger condition of a yield strategy.
// Threshold is an amount for BalanceAbove/YieldAbove and seconds for TimeElapsed.
type HookCondition struct {
	Kind      ConditionKind `json:"kind"`
	Threshold uint64        `json:"threshold"`
}

// BalanceAbove builds a balance condition
func BalanceAbove(threshold uint64) HookCondition {
	return HookCondition{Kind: ConditionBalanceAbove, Threshold: threshold}
}

// TimeElapsed builds an interval condition (seconds)
func TimeElapsed(interval uint64) HookCondition {
	return HookCondition{Kind: ConditionTimeElapsed, Threshold: interval}
}

// YieldAbove builds an accrued-yield condition
func YieldAbove(threshold uint64) HookCondition {
	return HookCondition{Kind: ConditionYieldAbove, Threshold: threshold}
}

// Validate checks the condition kind
func (c HookCondition) Validate() error {
	switch c.Kind {
	case ConditionBalanceAbove, ConditionTimeElapsed, ConditionYieldAbove:
		return nil
	default:
		return fmt.Errorf("unknown hook condition %q", c.Kind)
	}
}

func (c HookCondition) String() string {
	return fmt.Sprintf("%s(%d)", c.Kind, c.Threshold)
}

// Venue is a yield destination for deployed funds
type Venue string

// Supported venues
const (
	VenueInternal Venue = "internal"
	VenueJupiter  Venue = "jupiter"
	VenueMeteora  Venue = "meteora"
	VenueMarinade Venue = "marinade"
	VenueJito     Venue = "jito"
)

// ParseVenue validates a venue name
func ParseVenue(s string) (Venue, error) {
	v := Venue(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case VenueInternal, VenueJupiter, VenueMeteora, VenueMarinade, VenueJito:
		return v, nil
	default:
		return "", fmt.Errorf("unknown venue %q", s)
	}
}

// YieldStrategy is the per-agent auto-deployment hook
type YieldStrategy struct {
	Agent            types.Identity `json:"agent"`
	Condition        HookCondition  `json:"condition"`
	Venue            Venue          `json:"venue"`
	DeployPercentage uint8          `json:"deploy_percentage"`
	Enabled          bool           `json:"enabled"`
	LastTriggered    int64          `json:"last_triggered"`
	TriggerCount     uint64         `json:"trigger_count"`
}
