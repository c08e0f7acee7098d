// Package yieldhook deploys idle agent funds to a yield venue when a stored
// condition holds. Triggering is permissionless: any keeper may crank it.
package yieldhook

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
)

// Deployer moves funds from an agent's custody account to a venue
type Deployer interface {
	Deploy(ctx context.Context, agent types.Identity, venue model.Venue, amount uint64) error
}

// Status is the read-only explanation returned to keepers
type Status struct {
	Configured    bool                `json:"configured"`
	Enabled       bool                `json:"enabled"`
	WouldTrigger  bool                `json:"would_trigger"`
	Reason        string              `json:"reason"`
	Condition     model.HookCondition `json:"condition"`
	Venue         model.Venue         `json:"venue,omitempty"`
	TriggerCount  uint64              `json:"trigger_count"`
	LastTriggered int64               `json:"last_triggered"`
}

// Result describes a successful trigger
type Result struct {
	Strategy model.YieldStrategy `json:"strategy"`
	Deployed uint64              `json:"deployed"`
}

// Engine holds at most one strategy per agent
type Engine struct {
	strategies map[types.Identity]*model.YieldStrategy
	deployer   Deployer
	mu         sync.Mutex
}

// NewEngine creates an engine deploying through d
func NewEngine(d Deployer) *Engine {
	return &Engine{
		strategies: make(map[types.Identity]*model.YieldStrategy),
		deployer:   d,
	}
}

// Configure creates or replaces the agent's strategy. Replacing resets the
// trigger history.
func (e *Engine) Configure(agent types.Identity, cond model.HookCondition, venue model.Venue, pct uint8, enabled bool) (model.YieldStrategy, error) {
	if pct > 100 {
		return model.YieldStrategy{}, bankerr.New(bankerr.KindInvalidPercentage, "deploy percentage %d outside [0,100]", pct)
	}
	if err := cond.Validate(); err != nil {
		return model.YieldStrategy{}, bankerr.New(bankerr.KindInvalidArgument, "%v", err)
	}
	if _, err := model.ParseVenue(string(venue)); err != nil {
		return model.YieldStrategy{}, bankerr.New(bankerr.KindInvalidArgument, "%v", err)
	}

	s := &model.YieldStrategy{
		Agent:            agent,
		Condition:        cond,
		Venue:            venue,
		DeployPercentage: pct,
		Enabled:          enabled,
	}

	e.mu.Lock()
	e.strategies[agent] = s
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"agent":     agent,
		"condition": cond.String(),
		"venue":     venue,
		"pct":       pct,
		"enabled":   enabled,
	}).Info("Yield strategy configured")
	return *s, nil
}

// Strategy returns the agent's strategy
func (e *Engine) Strategy(agent types.Identity) (model.YieldStrategy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.strategies[agent]
	if !ok {
		return model.YieldStrategy{}, false
	}
	return *s, true
}

// Trigger deploys DeployPercentage of the eligible balance when the stored
// condition holds. Nothing is updated unless the deploy succeeds.
func (e *Engine) Trigger(ctx context.Context, agent types.Identity, st AgentState) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strategies[agent]
	if !ok {
		return Result{}, bankerr.New(bankerr.KindNotFound, "no yield strategy for %s", agent)
	}
	if !s.Enabled {
		return Result{}, bankerr.New(bankerr.KindHookDisabled, "yield hook for %s is disabled", agent)
	}
	if s.DeployPercentage > 100 {
		return Result{}, bankerr.New(bankerr.KindInvalidPercentage, "deploy percentage %d outside [0,100]", s.DeployPercentage)
	}
	if met, reason := Explain(*s, st); !met {
		return Result{}, bankerr.New(bankerr.KindHookConditionNotMet, "%s", reason)
	}

	amount := deployAmount(st.EligibleBalance, s.DeployPercentage)
	if amount > 0 {
		if err := e.deployer.Deploy(ctx, agent, s.Venue, amount); err != nil {
			return Result{}, fmt.Errorf("deploy to %s: %w", s.Venue, err)
		}
	}

	s.LastTriggered = st.Now
	s.TriggerCount++

	logrus.WithFields(logrus.Fields{
		"agent":         agent,
		"venue":         s.Venue,
		"amount":        amount,
		"trigger_count": s.TriggerCount,
	}).Info("Yield hook triggered")
	return Result{Strategy: *s, Deployed: amount}, nil
}

// Status explains whether a trigger would succeed right now
func (e *Engine) Status(agent types.Identity, st AgentState) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strategies[agent]
	if !ok {
		return Status{Reason: "no strategy configured"}
	}
	out := Status{
		Configured:    true,
		Enabled:       s.Enabled,
		Condition:     s.Condition,
		Venue:         s.Venue,
		TriggerCount:  s.TriggerCount,
		LastTriggered: s.LastTriggered,
	}
	if !s.Enabled {
		out.Reason = "strategy disabled"
		return out
	}
	out.WouldTrigger, out.Reason = Explain(*s, st)
	return out
}

func deployAmount(eligible uint64, pct uint8) uint64 {
	return eligible/100*uint64(pct) + eligible%100*uint64(pct)/100
}
