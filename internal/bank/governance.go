package bank

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/audit"
	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
	"github.com/yourorg/agent-bank/internal/validation"
)

// InitializeGovernance sets up the admin registry. Only the bank admin may
// call it, once.
func (s *Service) InitializeGovernance(ctx context.Context, caller types.Identity, admins []types.Identity, threshold uint8) (model.AdminRegistry, error) {
	if !s.breaker.IsAdmin(caller) {
		return model.AdminRegistry{}, bankerr.New(bankerr.KindUnauthorized, "only the bank admin may initialize governance")
	}
	reg, err := s.gov.Initialize(admins, threshold)
	if err != nil {
		return model.AdminRegistry{}, err
	}
	s.record(ctx, audit.Event{Type: audit.EventGovernanceInitialized, Actor: caller, Detail: fmt.Sprintf("%d admins, threshold %d", len(reg.Admins), reg.Threshold)})
	return reg, nil
}

// AdminRegistry returns the governance registry
func (s *Service) AdminRegistry() (model.AdminRegistry, error) {
	return s.gov.Registry()
}

// FundTreasury moves amount from an external wallet into the treasury
func (s *Service) FundTreasury(ctx context.Context, from types.Identity, amount uint64) (uint64, error) {
	if err := validation.Amount(amount); err != nil {
		return 0, err
	}
	if err := s.custody.FundTreasury(from, amount); err != nil {
		return 0, err
	}
	balance := s.custody.TreasuryBalance()
	logrus.WithFields(logrus.Fields{
		"from":     from,
		"amount":   amount,
		"treasury": balance,
	}).Info("Treasury funded")
	s.record(ctx, audit.Event{Type: audit.EventTreasuryFunded, Actor: from, Amount: amount})
	return balance, nil
}

// TreasuryBalance returns the treasury balance
func (s *Service) TreasuryBalance() uint64 {
	return s.custody.TreasuryBalance()
}

// CreateProposal opens a treasury spend proposal
func (s *Service) CreateProposal(ctx context.Context, caller, destination types.Identity, amount uint64, memo string) (model.TreasuryProposal, error) {
	p, err := s.gov.CreateProposal(caller, destination, amount, validation.Memo(memo, s.opts.Validation))
	if err != nil {
		return model.TreasuryProposal{}, err
	}
	s.record(ctx, audit.Event{
		Type:         audit.EventProposalCreated,
		Actor:        caller,
		Counterparty: destination,
		Amount:       amount,
		Detail:       fmt.Sprintf("proposal %d: %s", p.ID, p.Memo),
	})
	return p, nil
}

// Vote casts caller's vote on a proposal
func (s *Service) Vote(ctx context.Context, caller types.Identity, id uint64, approve bool) (model.TreasuryProposal, error) {
	p, err := s.gov.Vote(caller, id, approve)
	if err != nil {
		return model.TreasuryProposal{}, err
	}
	s.record(ctx, audit.Event{
		Type:   audit.EventProposalVoted,
		Actor:  caller,
		Detail: fmt.Sprintf("proposal %d: approve=%t status=%s", id, approve, p.Status),
	})
	return p, nil
}

// ExecuteProposal pays out an approved, unexpired proposal. Anyone may call
// it; it is blocked while the bank is paused.
func (s *Service) ExecuteProposal(ctx context.Context, caller types.Identity, id uint64) (model.TreasuryProposal, error) {
	if err := s.breaker.RequireNotPaused(); err != nil {
		return model.TreasuryProposal{}, err
	}
	p, err := s.gov.Execute(id)
	if err != nil {
		return model.TreasuryProposal{}, err
	}
	s.record(ctx, audit.Event{
		Type:         audit.EventProposalExecuted,
		Actor:        caller,
		Counterparty: p.Destination,
		Amount:       p.Amount,
		Detail:       fmt.Sprintf("proposal %d", id),
	})
	return p, nil
}

// Proposal returns one proposal with expiry applied
func (s *Service) Proposal(id uint64) (model.TreasuryProposal, error) {
	return s.gov.Proposal(id)
}

// Proposals lists every proposal with expiry applied
func (s *Service) Proposals() ([]model.TreasuryProposal, error) {
	return s.gov.Proposals()
}
