package governance

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/clock"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
)

type fakeTreasury struct {
	balance uint64
	paid    map[types.Identity]uint64
}

func (f *fakeTreasury) TreasuryBalance() uint64 { return f.balance }

func (f *fakeTreasury) PayFromTreasury(dest types.Identity, amount uint64) error {
	if f.balance < amount {
		return bankerr.New(bankerr.KindInsufficientTreasuryFunds, "short")
	}
	f.balance -= amount
	if f.paid == nil {
		f.paid = make(map[types.Identity]uint64)
	}
	f.paid[dest] += amount
	return nil
}

var admins = []types.Identity{"a1", "a2", "a3", "a4", "a5"}

func setup(t *testing.T, threshold uint8, balance uint64) (*Engine, *fakeTreasury, *clock.Manual) {
	treasury := &fakeTreasury{balance: balance}
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	e := New(treasury, clk, DefaultOptions())
	_, err := e.Initialize(admins, threshold)
	require.NoError(t, err)
	return e, treasury, clk
}

func TestInitialize_Validation(t *testing.T) {
	tests := []struct {
		name      string
		admins    []types.Identity
		threshold uint8
		kind      bankerr.Kind
	}{
		{"no admins", nil, 1, bankerr.KindInvalidArgument},
		{"too many admins", []types.Identity{"1", "2", "3", "4", "5", "6"}, 1, bankerr.KindInvalidArgument},
		{"zero threshold", []types.Identity{"1"}, 0, bankerr.KindInvalidArgument},
		{"threshold above count", []types.Identity{"1", "2"}, 3, bankerr.KindInvalidArgument},
		{"duplicate", []types.Identity{"1", "1"}, 1, bankerr.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&fakeTreasury{}, nil, DefaultOptions())
			_, err := e.Initialize(tt.admins, tt.threshold)
			assert.Equal(t, tt.kind, bankerr.KindOf(err))
		})
	}

	e, _, _ := setup(t, 1, 0)
	_, err := e.Initialize(admins, 1)
	assert.Equal(t, bankerr.KindAlreadyExists, bankerr.KindOf(err))
}

func TestNotInitialized(t *testing.T) {
	e := New(&fakeTreasury{balance: 10}, nil, DefaultOptions())
	_, err := e.CreateProposal("a1", "dest", 1, "")
	assert.True(t, errors.Is(err, bankerr.ErrNotInitialized))
}

func TestMissingRegistryWithProposalsIsInternal(t *testing.T) {
	e, _, _ := setup(t, 2, 100)
	_, err := e.CreateProposal("a1", "dest", 10, "")
	require.NoError(t, err)

	e.registry = nil

	_, err = e.Vote("a2", 0, true)
	assert.Equal(t, bankerr.KindInternal, bankerr.KindOf(err))
	_, err = e.Proposals()
	assert.Equal(t, bankerr.KindInternal, bankerr.KindOf(err))
}

func TestThresholdThreeScenario(t *testing.T) {
	e, treasury, _ := setup(t, 3, 1_000)

	p, err := e.CreateProposal("a1", "dest", 400, "grant")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, p.Status)
	assert.Equal(t, uint8(1), p.VotesFor, "Proposer votes for on creation")

	p, err = e.Vote("a2", p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, p.Status, "Two for votes stay pending")

	p, err = e.Vote("a3", p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, p.Status, "Third for vote approves on that vote")

	_, err = e.Vote("a4", p.ID, true)
	assert.True(t, errors.Is(err, bankerr.ErrProposalNotPending))

	p, err = e.Execute(p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalExecuted, p.Status)
	require.NotNil(t, p.ExecutedAt)
	assert.Equal(t, uint64(600), treasury.balance)
	assert.Equal(t, uint64(400), treasury.paid["dest"])

	_, err = e.Execute(p.ID)
	assert.True(t, errors.Is(err, bankerr.ErrProposalNotApproved), "Executed is terminal")
}

func TestRejectionWhenApprovalImpossible(t *testing.T) {
	// 5 admins, threshold 4: two against votes leave only 3 possible for votes
	e, _, _ := setup(t, 4, 1_000)
	p, err := e.CreateProposal("a1", "dest", 10, "")
	require.NoError(t, err)

	p, err = e.Vote("a2", p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, p.Status)

	p, err = e.Vote("a3", p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, p.Status)

	_, err = e.Execute(p.ID)
	assert.True(t, errors.Is(err, bankerr.ErrProposalNotApproved))
}

func TestVotePreconditions(t *testing.T) {
	e, _, _ := setup(t, 3, 1_000)
	p, err := e.CreateProposal("a1", "dest", 10, "")
	require.NoError(t, err)

	_, err = e.Vote("a1", p.ID, true)
	assert.Equal(t, bankerr.KindAlreadyVoted, bankerr.KindOf(err))

	_, err = e.Vote("outsider", p.ID, true)
	assert.True(t, errors.Is(err, bankerr.ErrUnauthorized))

	_, err = e.Vote("a2", 99, true)
	assert.Equal(t, bankerr.KindNotFound, bankerr.KindOf(err))

	got, err := e.Proposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), got.VotesFor, "Failed votes mutate nothing")
	assert.Len(t, got.Voters, 1)
}

func TestExpiryCheckedAtCallTime(t *testing.T) {
	e, treasury, clk := setup(t, 2, 1_000)

	pending, err := e.CreateProposal("a1", "dest", 10, "")
	require.NoError(t, err)
	approved, err := e.CreateProposal("a1", "dest", 10, "")
	require.NoError(t, err)
	_, err = e.Vote("a2", approved.ID, true)
	require.NoError(t, err)

	clk.Advance(72 * time.Hour)
	_, err = e.Vote("a3", pending.ID, true)
	require.NoError(t, err, "Voting exactly at expiresAt is still allowed")

	clk.Advance(time.Second)

	_, err = e.Vote("a4", pending.ID, true)
	assert.True(t, errors.Is(err, bankerr.ErrProposalExpired))

	_, err = e.Execute(approved.ID)
	assert.True(t, errors.Is(err, bankerr.ErrProposalExpired), "Stored Approved status is not trusted after expiry")
	assert.Equal(t, uint64(1_000), treasury.balance)

	got, err := e.Proposal(approved.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalExpired, got.Status, "Lazy expiry on read")

	all, err := e.Proposals()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(0), all[0].ID)
	assert.Equal(t, model.ProposalExpired, all[1].Status)
}

func TestTreasuryChecks(t *testing.T) {
	e, treasury, _ := setup(t, 1, 100)

	_, err := e.CreateProposal("a1", "dest", 101, "")
	assert.True(t, errors.Is(err, bankerr.ErrInsufficientTreasuryFunds))

	p, err := e.CreateProposal("a1", "dest", 100, "")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, p.Status, "Threshold 1 approves on creation")

	treasury.balance = 50
	_, err = e.Execute(p.ID)
	assert.True(t, errors.Is(err, bankerr.ErrInsufficientTreasuryFunds))

	got, err := e.Proposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, got.Status)
}

func TestProposalIDsAreMonotonicAndMemoTruncated(t *testing.T) {
	e, _, _ := setup(t, 2, 1_000)

	first, err := e.CreateProposal("a1", "dest", 1, strings.Repeat("x", 100))
	require.NoError(t, err)
	second, err := e.CreateProposal("a2", "dest", 1, "short")
	require.NoError(t, err)

	assert.Equal(t, uint64(0), first.ID)
	assert.Equal(t, uint64(1), second.ID)
	assert.Len(t, first.Memo, 64)
	assert.Equal(t, "short", second.Memo)

	reg, err := e.Registry()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reg.ProposalCount)
}
