// Package governance implements the multi-admin treasury proposal lifecycle.
//
//	Pending -> Approved -> Executed
//	        \-> Rejected  \-> Expired
//
// Expiry is lazy: a proposal is never swept, it reads as Expired once
// now > ExpiresAt, and every vote or execute re-checks the deadline itself
// instead of trusting the stored status.
package governance

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/clock"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
)

// Treasury is the settlement collaborator that holds protocol funds
type Treasury interface {
	TreasuryBalance() uint64
	PayFromTreasury(destination types.Identity, amount uint64) error
}

// Options configures the engine
type Options struct {
	// ProposalTTL is how long a proposal stays actionable
	ProposalTTL time.Duration `yaml:"proposal_ttl"`

	// MaxMemoLength truncates memos (in characters)
	MaxMemoLength int `yaml:"max_memo_length"`
}

// DefaultOptions returns a three-day TTL and 64-character memos
func DefaultOptions() Options {
	return Options{
		ProposalTTL:   72 * time.Hour,
		MaxMemoLength: 64,
	}
}

// Engine owns the AdminRegistry singleton and every proposal
type Engine struct {
	registry  *model.AdminRegistry
	proposals map[uint64]*model.TreasuryProposal
	treasury  Treasury
	clock     clock.Clock
	opts      Options
	mu        sync.RWMutex
}

// New creates an engine with no registry; Initialize must be called first
func New(treasury Treasury, clk clock.Clock, opts Options) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.ProposalTTL <= 0 {
		opts.ProposalTTL = DefaultOptions().ProposalTTL
	}
	if opts.MaxMemoLength <= 0 {
		opts.MaxMemoLength = DefaultOptions().MaxMemoLength
	}
	return &Engine{
		proposals: make(map[uint64]*model.TreasuryProposal),
		treasury:  treasury,
		clock:     clk,
		opts:      opts,
	}
}

// Initialize creates the admin registry. It can only run once.
func (e *Engine) Initialize(admins []types.Identity, threshold uint8) (model.AdminRegistry, error) {
	if len(admins) == 0 || len(admins) > model.MaxAdmins {
		return model.AdminRegistry{}, bankerr.New(bankerr.KindInvalidArgument, "admin count must be between 1 and %d, got %d", model.MaxAdmins, len(admins))
	}
	if threshold == 0 || int(threshold) > len(admins) {
		return model.AdminRegistry{}, bankerr.New(bankerr.KindInvalidArgument, "threshold must be between 1 and %d, got %d", len(admins), threshold)
	}
	seen := make(map[types.Identity]struct{}, len(admins))
	for _, a := range admins {
		if a.IsZero() {
			return model.AdminRegistry{}, bankerr.New(bankerr.KindInvalidArgument, "admin identity must not be empty")
		}
		if _, dup := seen[a]; dup {
			return model.AdminRegistry{}, bankerr.New(bankerr.KindInvalidArgument, "duplicate admin %s", a)
		}
		seen[a] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registry != nil {
		return model.AdminRegistry{}, bankerr.New(bankerr.KindAlreadyExists, "governance already initialized")
	}

	e.registry = &model.AdminRegistry{
		Admins:    append([]types.Identity(nil), admins...),
		Threshold: threshold,
	}
	logrus.WithFields(logrus.Fields{
		"admins":    len(admins),
		"threshold": threshold,
	}).Info("Governance initialized")
	return e.copyRegistry(), nil
}

// Registry returns a snapshot of the admin registry
func (e *Engine) Registry() (model.AdminRegistry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireRegistry(); err != nil {
		return model.AdminRegistry{}, err
	}
	return e.copyRegistry(), nil
}

// CreateProposal opens a treasury spend. The proposer's own vote counts as
// the first "for" vote, so a threshold of 1 approves immediately.
func (e *Engine) CreateProposal(proposer, destination types.Identity, amount uint64, memo string) (model.TreasuryProposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRegistry(); err != nil {
		return model.TreasuryProposal{}, err
	}
	if !e.registry.IsAdmin(proposer) {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindUnauthorized, "%s is not a governance admin", proposer)
	}
	if destination.IsZero() {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindInvalidArgument, "destination is required")
	}
	if amount == 0 {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindInvalidArgument, "amount must be positive")
	}
	if balance := e.treasury.TreasuryBalance(); balance < amount {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindInsufficientTreasuryFunds, "treasury holds %d, proposal needs %d", balance, amount)
	}

	now := e.clock.Now().Unix()
	p := &model.TreasuryProposal{
		ID:          e.registry.ProposalCount,
		Proposer:    proposer,
		Destination: destination,
		Amount:      amount,
		Memo:        truncate(memo, e.opts.MaxMemoLength),
		Status:      model.ProposalPending,
		VotesFor:    1,
		Voters:      []types.Identity{proposer},
		CreatedAt:   now,
		ExpiresAt:   now + int64(e.opts.ProposalTTL/time.Second),
	}
	if p.VotesFor >= e.registry.Threshold {
		p.Status = model.ProposalApproved
	}

	e.proposals[p.ID] = p
	e.registry.ProposalCount++

	logrus.WithFields(logrus.Fields{
		"proposal_id": p.ID,
		"proposer":    proposer,
		"destination": destination,
		"amount":      amount,
		"status":      p.Status,
	}).Info("Treasury proposal created")
	return copyProposal(p), nil
}

// Vote records one admin vote on a Pending proposal
func (e *Engine) Vote(voter types.Identity, id uint64, approve bool) (model.TreasuryProposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRegistry(); err != nil {
		return model.TreasuryProposal{}, err
	}
	if !e.registry.IsAdmin(voter) {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindUnauthorized, "%s is not a governance admin", voter)
	}
	p, err := e.lookup(id)
	if err != nil {
		return model.TreasuryProposal{}, err
	}

	now := e.clock.Now().Unix()
	if p.EffectiveStatus(now) == model.ProposalExpired {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindProposalExpired, "proposal %d expired at %d", id, p.ExpiresAt)
	}
	if p.Status != model.ProposalPending {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindProposalNotPending, "proposal %d is %s", id, p.Status)
	}
	if p.HasVoted(voter) {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindAlreadyVoted, "%s already voted on proposal %d", voter, id)
	}

	if approve {
		p.VotesFor++
	} else {
		p.VotesAgainst++
	}
	p.Voters = append(p.Voters, voter)

	admins := uint8(len(e.registry.Admins))
	switch {
	case p.VotesFor >= e.registry.Threshold:
		p.Status = model.ProposalApproved
	case p.VotesAgainst > admins-e.registry.Threshold:
		// Not enough admins left to reach the threshold
		p.Status = model.ProposalRejected
	}

	logrus.WithFields(logrus.Fields{
		"proposal_id":   id,
		"voter":         voter,
		"approve":       approve,
		"votes_for":     p.VotesFor,
		"votes_against": p.VotesAgainst,
		"status":        p.Status,
	}).Info("Vote cast")
	return copyProposal(p), nil
}

// Execute pays an Approved proposal out of the treasury. Anyone may call it;
// the proposal's state is the only gate.
func (e *Engine) Execute(id uint64) (model.TreasuryProposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireRegistry(); err != nil {
		return model.TreasuryProposal{}, err
	}
	p, err := e.lookup(id)
	if err != nil {
		return model.TreasuryProposal{}, err
	}

	now := e.clock.Now().Unix()
	if p.EffectiveStatus(now) == model.ProposalExpired {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindProposalExpired, "proposal %d expired at %d", id, p.ExpiresAt)
	}
	if p.Status != model.ProposalApproved {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindProposalNotApproved, "proposal %d is %s", id, p.Status)
	}
	if balance := e.treasury.TreasuryBalance(); balance < p.Amount {
		return model.TreasuryProposal{}, bankerr.New(bankerr.KindInsufficientTreasuryFunds, "treasury holds %d, proposal needs %d", balance, p.Amount)
	}
	if err := e.treasury.PayFromTreasury(p.Destination, p.Amount); err != nil {
		return model.TreasuryProposal{}, err
	}

	p.Status = model.ProposalExecuted
	p.ExecutedAt = &now

	logrus.WithFields(logrus.Fields{
		"proposal_id": id,
		"destination": p.Destination,
		"amount":      p.Amount,
	}).Info("Treasury proposal executed")
	return copyProposal(p), nil
}

// Proposal returns one proposal with lazy expiry applied
func (e *Engine) Proposal(id uint64) (model.TreasuryProposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.requireRegistry(); err != nil {
		return model.TreasuryProposal{}, err
	}
	p, err := e.lookup(id)
	if err != nil {
		return model.TreasuryProposal{}, err
	}
	out := copyProposal(p)
	out.Status = p.EffectiveStatus(e.clock.Now().Unix())
	return out, nil
}

// Proposals returns every proposal ordered by id with lazy expiry applied
func (e *Engine) Proposals() ([]model.TreasuryProposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.requireRegistry(); err != nil {
		return nil, err
	}
	now := e.clock.Now().Unix()
	out := make([]model.TreasuryProposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		cp := copyProposal(p)
		cp.Status = p.EffectiveStatus(now)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// requireRegistry distinguishes "not set up yet" from a broken store
func (e *Engine) requireRegistry() error {
	if e.registry != nil {
		return nil
	}
	if len(e.proposals) > 0 {
		logrus.WithField("proposals", len(e.proposals)).Error("Admin registry missing while proposals exist")
		return bankerr.New(bankerr.KindInternal, "admin registry missing while %d proposals exist", len(e.proposals))
	}
	return bankerr.New(bankerr.KindNotInitialized, "governance is not initialized")
}

func (e *Engine) lookup(id uint64) (*model.TreasuryProposal, error) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, bankerr.New(bankerr.KindNotFound, "proposal %d not found", id)
	}
	return p, nil
}

func (e *Engine) copyRegistry() model.AdminRegistry {
	r := *e.registry
	r.Admins = append([]types.Identity(nil), e.registry.Admins...)
	return r
}

func copyProposal(p *model.TreasuryProposal) model.TreasuryProposal {
	out := *p
	out.Voters = append([]types.Identity(nil), p.Voters...)
	if p.ExecutedAt != nil {
		at := *p.ExecutedAt
		out.ExecutedAt = &at
	}
	return out
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
