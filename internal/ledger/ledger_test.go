package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
)

const day = int64(86400)

func newAgent(start int64) model.Agent {
	return model.Agent{
		Owner:              "owner",
		SpendingLimit:      1_000_000,
		PeriodDuration:     day,
		CurrentPeriodStart: start,
	}
}

func TestAuthorize_DailyScenario(t *testing.T) {
	a := newAgent(1000)

	_, err := Authorize(&a, 500_000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), a.CurrentPeriodSpend)

	_, err = Authorize(&a, 600_000, 1001)
	assert.True(t, errors.Is(err, bankerr.ErrSpendingLimitExceeded))
	assert.Equal(t, uint64(500_000), a.CurrentPeriodSpend, "failed authorization must not mutate")

	p, err := Authorize(&a, 600_000, 1000+day)
	require.NoError(t, err)
	assert.True(t, p.RolledOver)
	assert.Equal(t, uint64(600_000), a.CurrentPeriodSpend)
	assert.Equal(t, 1000+day, a.CurrentPeriodStart)
}

func TestAuthorize_ExactRemainingBoundary(t *testing.T) {
	a := newAgent(0)
	a.CurrentPeriodSpend = 250_000

	over := a
	_, err := Authorize(&over, 750_001, 10)
	assert.True(t, errors.Is(err, bankerr.ErrSpendingLimitExceeded))

	_, err = Authorize(&a, 750_000, 10)
	require.NoError(t, err)
	assert.Equal(t, a.SpendingLimit, a.CurrentPeriodSpend)
}

func TestAuthorize_RolloverExactlyAtBoundary(t *testing.T) {
	a := newAgent(0)
	a.CurrentPeriodSpend = 1_000_000

	_, err := Authorize(&a, 1, day-1)
	assert.Error(t, err, "one second before the boundary the period is still full")

	p, err := Authorize(&a, 1, day)
	require.NoError(t, err)
	assert.True(t, p.RolledOver)
	assert.Equal(t, uint64(1), a.CurrentPeriodSpend)
	assert.Equal(t, day, a.CurrentPeriodStart)
}

func TestAuthorize_MultipleMissedPeriodsDoNotCarryBudget(t *testing.T) {
	a := newAgent(0)

	_, err := Authorize(&a, 1_000_001, 5*day)
	assert.True(t, errors.Is(err, bankerr.ErrSpendingLimitExceeded))
	assert.Equal(t, int64(0), a.CurrentPeriodStart, "rollover is not committed on failure")
}

func TestAuthorize_RejectsZeroAmount(t *testing.T) {
	a := newAgent(0)
	_, err := Authorize(&a, 0, 1)
	assert.Equal(t, bankerr.KindInvalidArgument, bankerr.KindOf(err))
}

func TestValidate_MatchesAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		spent  uint64
		amount uint64
		now    int64
	}{
		{"fits", 0, 10, 5},
		{"exact", 400, 999_600, 5},
		{"over", 400, 999_601, 5},
		{"rollover fits", 1_000_000, 1_000_000, day},
		{"rollover over", 1_000_000, 1_000_001, 2 * day},
		{"zero", 0, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAgent(0)
			a.CurrentPeriodSpend = tt.spent
			snapshot := a

			vp, verr := Validate(snapshot, tt.amount, tt.now)
			vp2, verr2 := Validate(snapshot, tt.amount, tt.now)
			assert.Equal(t, vp, vp2, "validate is idempotent")
			assert.Equal(t, bankerr.KindOf(verr), bankerr.KindOf(verr2))
			assert.Equal(t, snapshot, a, "validate never mutates")

			_, aerr := Authorize(&a, tt.amount, tt.now)
			assert.Equal(t, verr == nil, aerr == nil)
			assert.Equal(t, bankerr.KindOf(verr), bankerr.KindOf(aerr))
			if aerr == nil {
				assert.Equal(t, vp.PeriodSpend+tt.amount, a.CurrentPeriodSpend)
				assert.LessOrEqual(t, a.CurrentPeriodSpend, a.SpendingLimit)
			}
		})
	}
}

func TestProject_RemainingNeverUnderflows(t *testing.T) {
	a := newAgent(0)
	a.CurrentPeriodSpend = 2_000_000 // limit lowered below spend by migration

	p := Project(a, 1)
	assert.Equal(t, uint64(0), p.Remaining)
	assert.Equal(t, day, p.ResetsAt)
}
