package bank

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/audit"
	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
	"github.com/yourorg/agent-bank/internal/yieldhook"
)

// Accrual describes one yield accrual
type Accrual struct {
	Agent        types.Identity `json:"agent"`
	Pending      uint64         `json:"pending"`
	Paid         uint64         `json:"paid"`
	StakedAmount uint64         `json:"staked_amount"`
	At           int64          `json:"at"`
}

// ConfigureYieldStrategy sets the agent's yield hook. The owner, or a
// delegate holding the manage-yield capability, may call it.
func (s *Service) ConfigureYieldStrategy(ctx context.Context, caller, owner types.Identity, cond model.HookCondition, venue model.Venue, pct uint8, enabled bool) (model.YieldStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(owner); err != nil {
		return model.YieldStrategy{}, err
	}
	if _, err := s.delegates.Resolve(owner, caller, model.CapabilityManageYield, s.now()); err != nil {
		return model.YieldStrategy{}, err
	}

	strategy, err := s.yield.Configure(owner, cond, venue, pct, enabled)
	if err != nil {
		return model.YieldStrategy{}, err
	}
	s.record(ctx, audit.Event{Type: audit.EventYieldConfigured, Agent: owner, Actor: caller, Detail: cond.String() + " -> " + string(venue)})
	return strategy, nil
}

// TriggerYieldHook deploys idle funds if the stored condition holds. Anyone
// may call it; the outcome depends only on stored state.
func (s *Service) TriggerYieldHook(ctx context.Context, caller, owner types.Identity) (yieldhook.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.breaker.RequireNotPaused(); err != nil {
		return yieldhook.Result{}, err
	}
	a, err := s.lookup(owner)
	if err != nil {
		return yieldhook.Result{}, err
	}

	res, err := s.yield.Trigger(ctx, owner, s.hookState(a))
	if err != nil {
		return yieldhook.Result{}, err
	}
	s.record(ctx, audit.Event{
		Type:   audit.EventYieldInteract,
		Agent:  owner,
		Actor:  caller,
		Amount: res.Deployed,
		Detail: string(res.Strategy.Venue),
	})
	return res, nil
}

// HookStatus explains whether a trigger would succeed right now
func (s *Service) HookStatus(owner types.Identity) (yieldhook.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.lookup(owner)
	if err != nil {
		return yieldhook.Status{}, err
	}
	return s.yield.Status(owner, s.hookState(a)), nil
}

// YieldStrategy returns the agent's strategy
func (s *Service) YieldStrategy(owner types.Identity) (model.YieldStrategy, error) {
	strategy, ok := s.yield.Strategy(owner)
	if !ok {
		return model.YieldStrategy{}, bankerr.New(bankerr.KindNotFound, "no yield strategy for %s", owner)
	}
	return strategy, nil
}

// AccrueYield pays the staked balance's yield since the last accrual out of
// the treasury. A short treasury pays what it holds. Anyone may call it.
func (s *Service) AccrueYield(ctx context.Context, caller, owner types.Identity) (Accrual, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.breaker.RequireNotPaused(); err != nil {
		return Accrual{}, err
	}
	a, err := s.lookup(owner)
	if err != nil {
		return Accrual{}, err
	}

	now := s.now()
	pending := yieldhook.PendingYield(a.StakedAmount, a.LastYieldTimestamp, now)
	paid := pending
	if treasury := s.custody.TreasuryBalance(); paid > treasury {
		paid = treasury
	}
	staked, ok := addUint64(a.StakedAmount, paid)
	total, ok2 := addUint64(a.TotalDeposited, paid)
	if !ok || !ok2 {
		return Accrual{}, bankerr.New(bankerr.KindInternal, "yield overflows agent totals")
	}
	if paid > 0 {
		if err := s.custody.PayYield(owner, paid); err != nil {
			return Accrual{}, err
		}
	}

	a.StakedAmount = staked
	a.TotalDeposited = total
	a.LastYieldTimestamp = now

	out := Accrual{Agent: owner, Pending: pending, Paid: paid, StakedAmount: staked, At: now}
	if paid < pending {
		logrus.WithFields(logrus.Fields{
			"agent":   owner,
			"pending": pending,
			"paid":    paid,
		}).Warn("Treasury short, yield partially paid")
	}
	if paid > 0 {
		s.record(ctx, audit.Event{Type: audit.EventYieldAccrued, Agent: owner, Actor: caller, Amount: paid})
	}
	return out, nil
}

// hookState snapshots what a yield condition sees; callers hold s.mu
func (s *Service) hookState(a *model.Agent) yieldhook.AgentState {
	eligible := a.StakedAmount
	if balance := s.custody.Balance(a.Owner); balance < eligible {
		eligible = balance
	}
	return yieldhook.AgentState{
		Now:                s.now(),
		EligibleBalance:    eligible,
		StakedAmount:       a.StakedAmount,
		LastYieldTimestamp: a.LastYieldTimestamp,
	}
}
