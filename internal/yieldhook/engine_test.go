package yieldhook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
)

const agent = types.Identity("agent")

type recordingDeployer struct {
	calls []uint64
	venue model.Venue
	err   error
}

func (d *recordingDeployer) Deploy(_ context.Context, _ types.Identity, venue model.Venue, amount uint64) error {
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, amount)
	d.venue = venue
	return nil
}

func TestPendingYield(t *testing.T) {
	// one year at 5% on 1,000,000
	assert.Equal(t, uint64(50_000), PendingYield(1_000_000, 0, 365*24*3600))
	assert.Equal(t, uint64(0), PendingYield(1_000_000, 10, 10))
	assert.Equal(t, uint64(0), PendingYield(1_000_000, 10, 5))
	assert.Equal(t, uint64(0), PendingYield(0, 0, 1<<40))
	assert.Equal(t, ^uint64(0), PendingYield(^uint64(0), 0, 1<<60), "Saturates instead of wrapping")
}

func TestCheckCondition(t *testing.T) {
	tests := []struct {
		name     string
		strategy model.YieldStrategy
		state    AgentState
		want     bool
	}{
		{
			"balance at threshold",
			model.YieldStrategy{Condition: model.BalanceAbove(500)},
			AgentState{EligibleBalance: 500},
			true,
		},
		{
			"balance below threshold",
			model.YieldStrategy{Condition: model.BalanceAbove(500)},
			AgentState{EligibleBalance: 499},
			false,
		},
		{
			"interval elapsed",
			model.YieldStrategy{Condition: model.TimeElapsed(3600), LastTriggered: 1000},
			AgentState{Now: 4600},
			true,
		},
		{
			"interval not elapsed",
			model.YieldStrategy{Condition: model.TimeElapsed(3600), LastTriggered: 1000},
			AgentState{Now: 4599},
			false,
		},
		{
			"yield since last deposit accrual",
			model.YieldStrategy{Condition: model.YieldAbove(50_000)},
			AgentState{Now: 365 * 24 * 3600, StakedAmount: 1_000_000},
			true,
		},
		{
			"yield measured from last trigger",
			model.YieldStrategy{Condition: model.YieldAbove(50_000), LastTriggered: 1},
			AgentState{Now: 365 * 24 * 3600, StakedAmount: 1_000_000},
			false,
		},
		{
			"unknown kind",
			model.YieldStrategy{Condition: model.HookCondition{Kind: "moon_phase"}},
			AgentState{},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCondition(tt.strategy, tt.state))
		})
	}
}

func TestConfigure_Validation(t *testing.T) {
	e := NewEngine(&recordingDeployer{})

	_, err := e.Configure(agent, model.BalanceAbove(1), model.VenueJupiter, 101, true)
	assert.True(t, errors.Is(err, bankerr.ErrInvalidPercentage))

	_, err = e.Configure(agent, model.HookCondition{Kind: "bogus"}, model.VenueJupiter, 10, true)
	assert.Equal(t, bankerr.KindInvalidArgument, bankerr.KindOf(err))

	_, err = e.Configure(agent, model.BalanceAbove(1), "nowhere", 10, true)
	assert.Equal(t, bankerr.KindInvalidArgument, bankerr.KindOf(err))

	_, ok := e.Strategy(agent)
	assert.False(t, ok, "Invalid configurations store nothing")
}

func TestTrigger(t *testing.T) {
	d := &recordingDeployer{}
	e := NewEngine(d)

	_, err := e.Trigger(context.Background(), agent, AgentState{})
	assert.Equal(t, bankerr.KindNotFound, bankerr.KindOf(err))

	_, err = e.Configure(agent, model.BalanceAbove(1_000), model.VenueMarinade, 40, false)
	require.NoError(t, err)
	_, err = e.Trigger(context.Background(), agent, AgentState{EligibleBalance: 5_000})
	assert.True(t, errors.Is(err, bankerr.ErrHookDisabled))

	_, err = e.Configure(agent, model.BalanceAbove(1_000), model.VenueMarinade, 40, true)
	require.NoError(t, err)
	_, err = e.Trigger(context.Background(), agent, AgentState{EligibleBalance: 999})
	assert.True(t, errors.Is(err, bankerr.ErrHookConditionNotMet))
	assert.Empty(t, d.calls)

	res, err := e.Trigger(context.Background(), agent, AgentState{Now: 77, EligibleBalance: 5_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), res.Deployed)
	assert.Equal(t, []uint64{2_000}, d.calls)
	assert.Equal(t, model.VenueMarinade, d.venue)
	assert.Equal(t, int64(77), res.Strategy.LastTriggered)
	assert.Equal(t, uint64(1), res.Strategy.TriggerCount)
}

func TestTrigger_FailedDeployLeavesStrategyUntouched(t *testing.T) {
	d := &recordingDeployer{err: errors.New("venue offline")}
	e := NewEngine(d)
	_, err := e.Configure(agent, model.TimeElapsed(0), model.VenueJito, 100, true)
	require.NoError(t, err)

	_, err = e.Trigger(context.Background(), agent, AgentState{Now: 10, EligibleBalance: 10})
	require.Error(t, err)

	s, ok := e.Strategy(agent)
	require.True(t, ok)
	assert.Equal(t, uint64(0), s.TriggerCount)
	assert.Equal(t, int64(0), s.LastTriggered)
}

func TestStatus(t *testing.T) {
	e := NewEngine(&recordingDeployer{})
	assert.False(t, e.Status(agent, AgentState{}).Configured)

	_, err := e.Configure(agent, model.BalanceAbove(10), model.VenueInternal, 50, true)
	require.NoError(t, err)

	st := e.Status(agent, AgentState{EligibleBalance: 20})
	assert.True(t, st.Configured)
	assert.True(t, st.WouldTrigger)
	assert.Contains(t, st.Reason, ">= 10")

	st = e.Status(agent, AgentState{EligibleBalance: 5})
	assert.False(t, st.WouldTrigger)
}

func TestDeployAmount(t *testing.T) {
	assert.Equal(t, uint64(0), deployAmount(1_000, 0))
	assert.Equal(t, uint64(1_000), deployAmount(1_000, 100))
	assert.Equal(t, uint64(333), deployAmount(1_000, 33))
	assert.Equal(t, uint64(1), deployAmount(3, 50))
}
