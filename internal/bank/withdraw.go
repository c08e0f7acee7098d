package bank

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/audit"
	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/delegation"
	"github.com/yourorg/agent-bank/internal/ledger"
	"github.com/yourorg/agent-bank/internal/model"
	tracing "github.com/yourorg/agent-bank/internal/otel"
	"github.com/yourorg/agent-bank/internal/ratelimit"
	"github.com/yourorg/agent-bank/internal/security"
	"github.com/yourorg/agent-bank/internal/settlement"
	"github.com/yourorg/agent-bank/internal/types"
	"github.com/yourorg/agent-bank/internal/validation"
)

// Withdrawal describes a committed withdrawal
type Withdrawal struct {
	Agent          types.Identity            `json:"agent"`
	Caller         types.Identity            `json:"caller"`
	Authority      string                    `json:"authority"`
	Destination    types.Identity            `json:"destination"`
	Amount         uint64                    `json:"amount"`
	Fee            uint64                    `json:"fee"`
	Net            uint64                    `json:"net"`
	PeriodSpend    uint64                    `json:"period_spend"`
	RemainingLimit uint64                    `json:"remaining_limit"`
	PeriodResetsAt int64                     `json:"period_resets_at"`
	Security       model.SecurityCheckResult `json:"security"`
	At             int64                     `json:"at"`
}

// Intent is the non-mutating answer to ValidateIntent
type Intent struct {
	Valid              bool   `json:"valid"`
	Amount             uint64 `json:"amount"`
	Memo               string `json:"memo,omitempty"`
	RemainingLimit     uint64 `json:"remaining_limit"`
	VaultBalance       uint64 `json:"vault_balance"`
	CurrentPeriodSpend uint64 `json:"current_period_spend"`
	PeriodResetsAt     int64  `json:"period_resets_at"`
	EvaluatedAt        int64  `json:"evaluated_at"`
	Reason             string `json:"reason,omitempty"`
}

// Withdraw moves amount from the agent's custody account to destination on
// behalf of caller (the owner or a delegate with spend rights). A protocol
// fee is taken from amount; the whole amount counts against the period.
//
// The rate limiter reserves the request before the ledger and the risk gate
// run. Any later denial cancels the reservation's volume and puts the agent
// into cooldown.
func (s *Service) Withdraw(ctx context.Context, caller, owner types.Identity, amount uint64, destination types.Identity) (Withdrawal, *security.Receipt, error) {
	ctx, span := tracing.Tracer().Start(ctx, "bank.Withdraw")
	defer span.End()

	w, receipt, err := s.withdraw(ctx, caller, owner, amount, destination)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return w, receipt, err
}

func (s *Service) withdraw(ctx context.Context, caller, owner types.Identity, amount uint64, destination types.Identity) (Withdrawal, *security.Receipt, error) {
	if err := validation.Amount(amount); err != nil {
		return Withdrawal{}, nil, err
	}
	if err := validation.Destination(destination, settlement.VaultFor(owner)); err != nil {
		return Withdrawal{}, nil, err
	}

	s.mu.Lock()
	_, err := s.authorizeCaller(caller, owner)
	s.mu.Unlock()
	if err != nil {
		return Withdrawal{}, nil, err
	}

	reservation, err := s.limiter.Reserve(owner, amount)
	if err != nil {
		return Withdrawal{}, nil, err
	}

	s.mu.Lock()
	err = s.preflight(owner, amount)
	s.mu.Unlock()
	if err != nil {
		s.deny(ctx, reservation, caller, owner, destination, amount, 0, err)
		return Withdrawal{}, nil, err
	}

	verdict := s.gate.Evaluate(ctx, destination, amount)
	if !verdict.Approved {
		err := bankerr.SecurityCheckFailed(verdict.BlockedReason, verdict.RiskScore)
		s.deny(ctx, reservation, caller, owner, destination, amount, verdict.RiskScore, err)
		if verdict.RiskScore >= s.opts.SuspiciousRiskScore {
			detail := fmt.Sprintf("withdrawal from %s to %s blocked: %s", owner, destination, verdict.BlockedReason)
			if s.breaker.RecordSuspicious(detail) {
				s.record(ctx, audit.Event{Type: audit.EventAutoPaused, Agent: owner, Actor: caller, RiskScore: verdict.RiskScore, Detail: detail})
			}
		}
		return Withdrawal{}, nil, err
	}

	w, err := s.commit(ctx, caller, owner, amount, destination, verdict)
	if err != nil {
		s.deny(ctx, reservation, caller, owner, destination, amount, verdict.RiskScore, err)
		return Withdrawal{}, nil, err
	}

	var receipt *security.Receipt
	if s.signer != nil {
		r, err := s.signer.Sign(w)
		if err != nil {
			logrus.WithField("agent", owner).Errorf("Failed to sign withdrawal receipt: %v", err)
		} else {
			receipt = &r
		}
	}
	return w, receipt, nil
}

// authorizeCaller checks the agent exists, the caller may spend and the bank
// is not paused, in that order; callers hold s.mu
func (s *Service) authorizeCaller(caller, owner types.Identity) (delegation.Authority, error) {
	if _, err := s.lookup(owner); err != nil {
		return 0, err
	}
	authority, err := s.delegates.Resolve(owner, caller, model.CapabilitySpend, s.now())
	if err != nil {
		return 0, err
	}
	if err := s.breaker.RequireNotPaused(); err != nil {
		return 0, err
	}
	return authority, nil
}

// preflight runs the ledger and balance checks without mutating; callers hold s.mu
func (s *Service) preflight(owner types.Identity, amount uint64) error {
	a, err := s.lookup(owner)
	if err != nil {
		return err
	}
	if _, err := ledger.Validate(*a, amount, s.now()); err != nil {
		return err
	}
	if balance := s.custody.Balance(owner); balance < amount {
		return bankerr.New(bankerr.KindInsufficientFunds, "custody account holds %d, withdrawal needs %d", balance, amount)
	}
	return nil
}

// commit re-checks every precondition under the lock, since the risk gate ran
// without it, then moves the funds and mutates the agent last
func (s *Service) commit(ctx context.Context, caller, owner types.Identity, amount uint64, destination types.Identity, verdict model.SecurityCheckResult) (Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	authority, err := s.authorizeCaller(caller, owner)
	if err != nil {
		return Withdrawal{}, err
	}
	a, _ := s.lookup(owner)

	now := s.now()
	next := *a
	proj, err := ledger.Authorize(&next, amount, now)
	if err != nil {
		return Withdrawal{}, err
	}
	if balance := s.custody.Balance(owner); balance < amount {
		return Withdrawal{}, bankerr.New(bankerr.KindInsufficientFunds, "custody account holds %d, withdrawal needs %d", balance, amount)
	}

	fee := s.breaker.FeeFor(amount)
	if fee > 0 {
		if err := s.custody.CreditTreasuryFrom(owner, fee); err != nil {
			return Withdrawal{}, fmt.Errorf("collect protocol fee: %w", err)
		}
	}
	if err := s.custody.Debit(owner, amount-fee, destination); err != nil {
		if fee > 0 {
			if rerr := s.custody.PayYield(owner, fee); rerr != nil {
				logrus.WithField("agent", owner).Errorf("Failed to refund protocol fee: %v", rerr)
			}
		}
		return Withdrawal{}, err
	}
	*a = next

	w := Withdrawal{
		Agent:          owner,
		Caller:         caller,
		Authority:      authority.String(),
		Destination:    destination,
		Amount:         amount,
		Fee:            fee,
		Net:            amount - fee,
		PeriodSpend:    proj.PeriodSpend,
		RemainingLimit: proj.Remaining,
		PeriodResetsAt: proj.ResetsAt,
		Security:       verdict,
		At:             now,
	}

	logrus.WithFields(logrus.Fields{
		"agent":        owner,
		"caller":       caller,
		"authority":    w.Authority,
		"destination":  destination,
		"amount":       amount,
		"fee":          fee,
		"period_spend": proj.PeriodSpend,
	}).Info("Withdrawal committed")
	s.record(ctx, audit.Event{
		Type:         audit.EventWithdrawal,
		Agent:        owner,
		Actor:        caller,
		Counterparty: destination,
		Amount:       amount,
		Fee:          fee,
		PeriodSpend:  proj.PeriodSpend,
		RiskScore:    verdict.RiskScore,
	})
	return w, nil
}

// deny releases the reserved volume, cools the agent down and journals the denial.
// A pause that lands mid-withdrawal only releases the reservation.
func (s *Service) deny(ctx context.Context, r *ratelimit.Reservation, caller, owner, destination types.Identity, amount uint64, riskScore int, cause error) {
	r.Cancel()
	kind := bankerr.KindOf(cause)
	if kind != bankerr.KindBankPaused && kind != bankerr.KindUnauthorized {
		s.limiter.ApplyCooldown(owner)
	}

	logrus.WithFields(logrus.Fields{
		"agent":       owner,
		"caller":      caller,
		"destination": destination,
		"amount":      amount,
		"kind":        kind,
		"risk_score":  riskScore,
	}).Warn("Withdrawal denied")
	s.record(ctx, audit.Event{
		Type:         audit.EventWithdrawalDenied,
		Agent:        owner,
		Actor:        caller,
		Counterparty: destination,
		Amount:       amount,
		RiskScore:    riskScore,
		Detail:       cause.Error(),
	})
}

// ValidateIntent answers whether a withdrawal of amount would pass the
// spending ledger and the balance check, now or at execTime if given. It
// mutates nothing, so repeated calls with the same inputs agree.
func (s *Service) ValidateIntent(owner types.Identity, amount uint64, memo string, execTime *int64) (Intent, error) {
	if err := validation.Amount(amount); err != nil {
		return Intent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.lookup(owner)
	if err != nil {
		return Intent{}, err
	}

	at := s.now()
	if execTime != nil {
		if *execTime < at {
			return Intent{}, bankerr.New(bankerr.KindInvalidArgument, "execution time %d is in the past", *execTime)
		}
		at = *execTime
	}

	proj, ledgerErr := ledger.Validate(*a, amount, at)
	intent := Intent{
		Valid:              true,
		Amount:             amount,
		Memo:               validation.Memo(memo, s.opts.Validation),
		RemainingLimit:     proj.Remaining,
		VaultBalance:       s.custody.Balance(owner),
		CurrentPeriodSpend: proj.PeriodSpend,
		PeriodResetsAt:     proj.ResetsAt,
		EvaluatedAt:        at,
	}

	switch {
	case s.breaker.RequireNotPaused() != nil:
		intent.Valid = false
		intent.Reason = "bank is paused: " + s.breaker.Config().PauseReason.String()
	case ledgerErr != nil:
		intent.Valid = false
		intent.Reason = fmt.Sprintf("exceeds remaining limit of %d", proj.Remaining)
	case intent.VaultBalance < amount:
		intent.Valid = false
		intent.Reason = fmt.Sprintf("insufficient vault balance %d", intent.VaultBalance)
	}

	logrus.WithFields(logrus.Fields{
		"agent":  owner,
		"amount": amount,
		"valid":  intent.Valid,
	}).Debug("Intent validated")
	return intent, nil
}
