// Package bank is the custody bank: it owns every Agent and routes each
// operation through delegation, the pause controller, the rate limiter, the
// spending ledger, the risk gate and settlement, in that order.
package bank

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/audit"
	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/circuitbreaker"
	"github.com/yourorg/agent-bank/internal/clock"
	"github.com/yourorg/agent-bank/internal/delegation"
	"github.com/yourorg/agent-bank/internal/governance"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/ratelimit"
	"github.com/yourorg/agent-bank/internal/riskgate"
	"github.com/yourorg/agent-bank/internal/security"
	"github.com/yourorg/agent-bank/internal/settlement"
	"github.com/yourorg/agent-bank/internal/types"
	"github.com/yourorg/agent-bank/internal/validation"
	"github.com/yourorg/agent-bank/internal/yieldhook"
)

// StakedPercent is the share of total deposits that earns yield
const StakedPercent = 80

// Options tunes the service
type Options struct {
	// SuspiciousRiskScore is the score at which a blocked withdrawal counts
	// toward the auto-pause threshold
	SuspiciousRiskScore int

	Governance governance.Options
	Validation validation.ValidationOptions
}

// DefaultOptions returns the bank defaults
func DefaultOptions() Options {
	return Options{
		SuspiciousRiskScore: 50,
		Governance:          governance.DefaultOptions(),
		Validation:          validation.DefaultValidationOptions(),
	}
}

// Dependencies are the collaborators a Service is built from. Custody,
// Breaker and Limiter are required.
type Dependencies struct {
	Custody  settlement.Custody
	Breaker  *circuitbreaker.PauseController
	Limiter  *ratelimit.Limiter
	Gate     *riskgate.Pipeline
	Clock    clock.Clock
	Recorder audit.Recorder
	Signer   *security.ReceiptSigner
}

// Service is the bank
type Service struct {
	custody   settlement.Custody
	breaker   *circuitbreaker.PauseController
	limiter   *ratelimit.Limiter
	gate      *riskgate.Pipeline
	clock     clock.Clock
	recorder  audit.Recorder
	signer    *security.ReceiptSigner
	delegates *delegation.Registry
	gov       *governance.Engine
	yield     *yieldhook.Engine
	opts      Options

	// mu serializes agent mutations; the risk gate runs outside it
	mu     sync.Mutex
	agents map[types.Identity]*model.Agent
}

// New wires a Service. It is the bank's initialisation: the breaker passed
// in already carries the admin, fee and auto-pause threshold.
func New(deps Dependencies, opts Options) (*Service, error) {
	if deps.Custody == nil || deps.Breaker == nil || deps.Limiter == nil {
		return nil, errors.New("bank: custody, breaker and limiter are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.NewNoopRecorder()
	}
	if deps.Gate == nil {
		deps.Gate = riskgate.New()
	}
	if opts.Validation.MaxNameLength == 0 {
		opts.Validation = validation.DefaultValidationOptions()
	}

	s := &Service{
		custody:   deps.Custody,
		breaker:   deps.Breaker,
		limiter:   deps.Limiter,
		gate:      deps.Gate,
		clock:     deps.Clock,
		recorder:  deps.Recorder,
		signer:    deps.Signer,
		delegates: delegation.NewRegistry(),
		gov:       governance.New(deps.Custody, deps.Clock, opts.Governance),
		yield:     yieldhook.NewEngine(deps.Custody),
		opts:      opts,
		agents:    make(map[types.Identity]*model.Agent),
	}

	logrus.WithFields(logrus.Fields{
		"admin":         deps.Breaker.Config().Admin,
		"fee_bps":       deps.Breaker.Config().ProtocolFeeBps,
		"risk_checks":   deps.Gate.Len(),
		"receipts":      deps.Signer != nil,
		"suspicious_at": opts.SuspiciousRiskScore,
	}).Info("Bank initialized")
	return s, nil
}

func (s *Service) now() int64 {
	return s.clock.Now().Unix()
}

// RegisterAgent creates the owner's agent with a fresh spending period
func (s *Service) RegisterAgent(ctx context.Context, owner types.Identity, name string, limit uint64, period int64) (model.Agent, error) {
	if err := validation.Registration(owner, name, limit, period, s.opts.Validation); err != nil {
		return model.Agent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[owner]; exists {
		return model.Agent{}, bankerr.New(bankerr.KindAlreadyExists, "%s already has an agent", owner)
	}

	now := s.now()
	a := &model.Agent{
		Owner:              owner,
		Name:               name,
		SpendingLimit:      limit,
		PeriodDuration:     period,
		CurrentPeriodStart: now,
		CreatedAt:          now,
	}
	s.agents[owner] = a

	logrus.WithFields(logrus.Fields{
		"agent":  owner,
		"name":   name,
		"limit":  limit,
		"period": period,
	}).Info("Agent registered")
	s.record(ctx, audit.Event{Type: audit.EventAgentRegistered, Agent: owner, Actor: owner, Amount: limit, Detail: name})
	return *a, nil
}

// Agent returns a copy of the owner's agent
func (s *Service) Agent(owner types.Identity) (model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lookup(owner)
	if err != nil {
		return model.Agent{}, err
	}
	return *a, nil
}

// VaultBalance returns the agent's custody account balance
func (s *Service) VaultBalance(owner types.Identity) uint64 {
	return s.custody.Balance(owner)
}

// Deposit moves amount from the owner's wallet into the custody account.
// Deposits stay open while the bank is paused.
func (s *Service) Deposit(ctx context.Context, caller, owner types.Identity, amount uint64) (model.Agent, error) {
	if err := validation.Amount(amount); err != nil {
		return model.Agent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.lookup(owner)
	if err != nil {
		return model.Agent{}, err
	}
	if caller != owner {
		return model.Agent{}, bankerr.New(bankerr.KindUnauthorized, "only the owner may deposit into %s", owner)
	}
	total, ok := addUint64(a.TotalDeposited, amount)
	if !ok {
		return model.Agent{}, bankerr.New(bankerr.KindInvalidArgument, "deposit overflows total deposited")
	}
	if err := s.custody.Deposit(owner, amount); err != nil {
		return model.Agent{}, err
	}

	a.TotalDeposited = total
	a.StakedAmount = stakedShare(total)
	if a.LastYieldTimestamp == 0 {
		a.LastYieldTimestamp = s.now()
	}

	logrus.WithFields(logrus.Fields{
		"agent":  owner,
		"amount": amount,
		"total":  a.TotalDeposited,
		"staked": a.StakedAmount,
	}).Info("Deposit received")
	s.record(ctx, audit.Event{Type: audit.EventDeposit, Agent: owner, Actor: caller, Amount: amount})
	return *a, nil
}

// AddDelegate grants delegate capabilities on the owner's agent
func (s *Service) AddDelegate(ctx context.Context, caller, owner, delegate types.Identity, canSpend, canManageYield bool, validUntil int64) (model.DelegateRecord, error) {
	if err := s.requireOwner(caller, owner); err != nil {
		return model.DelegateRecord{}, err
	}
	now := s.now()
	if err := validation.DelegateExpiry(validUntil, now); err != nil {
		return model.DelegateRecord{}, err
	}

	rec := model.DelegateRecord{
		Agent:          owner,
		Delegate:       delegate,
		CanSpend:       canSpend,
		CanManageYield: canManageYield,
		ValidUntil:     validUntil,
		CreatedAt:      now,
	}
	if err := s.delegates.Add(rec); err != nil {
		return model.DelegateRecord{}, err
	}
	s.record(ctx, audit.Event{Type: audit.EventDelegateAdded, Agent: owner, Actor: caller, Counterparty: delegate})
	return rec, nil
}

// RemoveDelegate revokes a delegate; its next resolution fails immediately
func (s *Service) RemoveDelegate(ctx context.Context, caller, owner, delegate types.Identity) error {
	if err := s.requireOwner(caller, owner); err != nil {
		return err
	}
	if err := s.delegates.Remove(owner, delegate); err != nil {
		return err
	}
	s.record(ctx, audit.Event{Type: audit.EventDelegateRemoved, Agent: owner, Actor: caller, Counterparty: delegate})
	return nil
}

// ListDelegates returns the agent's delegate records
func (s *Service) ListDelegates(owner types.Identity) ([]model.DelegateRecord, error) {
	if _, err := s.Agent(owner); err != nil {
		return nil, err
	}
	return s.delegates.List(owner), nil
}

// BankConfig returns the pause controller state
func (s *Service) BankConfig() model.BankConfig {
	return s.breaker.Config()
}

// TogglePause is the admin's manual pause override
func (s *Service) TogglePause(ctx context.Context, caller types.Identity, paused bool, reason model.PauseReason) (model.BankConfig, error) {
	if err := s.breaker.TogglePause(caller, paused, reason); err != nil {
		return model.BankConfig{}, err
	}
	cfg := s.breaker.Config()
	s.record(ctx, audit.Event{Type: audit.EventPauseToggled, Actor: caller, Detail: cfg.PauseReason.String()})
	return cfg, nil
}

// ResetSuspiciousActivityCount zeroes the anomaly counter without unpausing
func (s *Service) ResetSuspiciousActivityCount(caller types.Identity) (model.BankConfig, error) {
	if err := s.breaker.ResetSuspiciousActivityCount(caller); err != nil {
		return model.BankConfig{}, err
	}
	return s.breaker.Config(), nil
}

// SetAutoPauseThreshold changes the trip threshold; 0 disables auto-pause
func (s *Service) SetAutoPauseThreshold(caller types.Identity, threshold uint32) (model.BankConfig, error) {
	if err := s.breaker.SetAutoPauseThreshold(caller, threshold); err != nil {
		return model.BankConfig{}, err
	}
	return s.breaker.Config(), nil
}

// RateLimitCheck previews the limiter for an agent without recording anything
func (s *Service) RateLimitCheck(owner types.Identity, amount uint64) ratelimit.Decision {
	return s.limiter.Check(owner, amount)
}

// Events lists journaled events
func (s *Service) Events(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	return s.recorder.List(ctx, f)
}

// lookup returns the stored agent; callers hold s.mu
func (s *Service) lookup(owner types.Identity) (*model.Agent, error) {
	a, ok := s.agents[owner]
	if !ok {
		return nil, bankerr.New(bankerr.KindNotFound, "no agent for %s", owner)
	}
	return a, nil
}

func (s *Service) requireOwner(caller, owner types.Identity) error {
	if _, err := s.Agent(owner); err != nil {
		return err
	}
	if caller != owner {
		return bankerr.New(bankerr.KindUnauthorized, "only the owner of %s may manage delegates", owner)
	}
	return nil
}

// record journals evt; a failing journal never fails the operation
func (s *Service) record(ctx context.Context, evt audit.Event) {
	if evt.At == 0 {
		evt.At = s.now()
	}
	if err := s.recorder.Record(ctx, &evt); err != nil {
		logrus.WithFields(logrus.Fields{
			"type":  evt.Type,
			"agent": evt.Agent,
		}).Errorf("Failed to record audit event: %v", err)
	}
}

func stakedShare(total uint64) uint64 {
	return total/100*StakedPercent + total%100*StakedPercent/100
}

func addUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}
