// Package ledger enforces the rolling-period spending limit of an agent.
//
// Authorize (mutating) and Validate (pre-flight) share one projection
// function, so a Validate that succeeds against a snapshot is exactly the
// Authorize that would succeed against the same state and time.
package ledger

import (
	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
)

// Projection is the rollover-aware view of an agent's period at a given time
type Projection struct {
	PeriodStart int64  `json:"period_start"`
	PeriodSpend uint64 `json:"period_spend"`
	Remaining   uint64 `json:"remaining"`
	ResetsAt    int64  `json:"resets_at"`
	RolledOver  bool   `json:"rolled_over"`
}

// Project computes the period state at now. If the stored period has elapsed
// (now >= start + duration) the projection starts a fresh period at now with
// zero spend; unused budget never carries over, however many periods were missed.
func Project(a model.Agent, now int64) Projection {
	p := Projection{
		PeriodStart: a.CurrentPeriodStart,
		PeriodSpend: a.CurrentPeriodSpend,
	}
	if now >= a.CurrentPeriodStart+a.PeriodDuration {
		p.PeriodStart = now
		p.PeriodSpend = 0
		p.RolledOver = true
	}
	if p.PeriodSpend < a.SpendingLimit {
		p.Remaining = a.SpendingLimit - p.PeriodSpend
	}
	p.ResetsAt = p.PeriodStart + a.PeriodDuration
	return p
}

// Validate reports whether amount could be authorized at now without touching a.
func Validate(a model.Agent, amount uint64, now int64) (Projection, error) {
	p := Project(a, now)
	if amount == 0 {
		return p, bankerr.New(bankerr.KindInvalidArgument, "amount must be positive")
	}
	if amount > p.Remaining {
		return p, bankerr.New(bankerr.KindSpendingLimitExceeded,
			"amount %d exceeds remaining period budget %d (spent %d of %d, resets at %d)",
			amount, p.Remaining, p.PeriodSpend, a.SpendingLimit, p.ResetsAt)
	}
	return p, nil
}

// Authorize applies the rollover and commits amount to the period spend.
// On failure a is left untouched, including the rollover.
func Authorize(a *model.Agent, amount uint64, now int64) (Projection, error) {
	p, err := Validate(*a, amount, now)
	if err != nil {
		return p, err
	}

	a.CurrentPeriodStart = p.PeriodStart
	a.CurrentPeriodSpend = p.PeriodSpend + amount

	p.PeriodSpend = a.CurrentPeriodSpend
	p.Remaining -= amount

	if p.RolledOver {
		logrus.WithFields(logrus.Fields{
			"agent":        a.Owner,
			"period_start": p.PeriodStart,
		}).Debug("Spending period rolled over")
	}
	return p, nil
}
