package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/clock"
	"github.com/yourorg/agent-bank/internal/types"
)

const agent = types.Identity("agent")

func newLimiter(cfg Config) (*Limiter, *clock.Manual) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	return New(cfg, clk), clk
}

func TestReserve_RequestsPerMinuteScenario(t *testing.T) {
	l, clk := newLimiter(Config{MaxRequestsPerMinute: 10, MaxAmountPerHour: 1_000_000, Cooldown: time.Minute})

	for i := 0; i < 10; i++ {
		_, err := l.Reserve(agent, 1)
		require.NoError(t, err, "request %d", i+1)
		if i < 9 {
			clk.Advance(6 * time.Second)
		}
	}
	// 10 requests inside 54s; the 11th at 59s is denied
	clk.Advance(5 * time.Second)

	assert.False(t, l.Check(agent, 1).Allowed)
	_, err := l.Reserve(agent, 1)
	require.True(t, errors.Is(err, bankerr.ErrRateLimited))

	e, ok := bankerr.As(err)
	require.True(t, ok)
	assert.Equal(t, time.Second, e.RetryAfter, "The first request leaves the window at 60s")

	clk.Advance(e.RetryAfter)
	_, err = l.Reserve(agent, 1)
	assert.NoError(t, err, "An equivalent request is allowed once the window frees up")
}

func TestCheck_IsNonMutating(t *testing.T) {
	l, _ := newLimiter(Config{MaxRequestsPerMinute: 1, MaxAmountPerHour: 100})
	for i := 0; i < 5; i++ {
		assert.True(t, l.Check(agent, 100).Allowed)
	}
	_, err := l.Reserve(agent, 100)
	require.NoError(t, err)
	assert.False(t, l.Check(agent, 1).Allowed)
}

func TestReserve_HourlyVolume(t *testing.T) {
	l, clk := newLimiter(Config{MaxRequestsPerMinute: 100, MaxAmountPerHour: 1_000})

	_, err := l.Reserve(agent, 600)
	require.NoError(t, err)
	clk.Advance(10 * time.Minute)
	_, err = l.Reserve(agent, 300)
	require.NoError(t, err)

	_, err = l.Reserve(agent, 101)
	require.Error(t, err)
	e, _ := bankerr.As(err)
	assert.Equal(t, 50*time.Minute, e.RetryAfter, "The 600 entry expires first")

	_, err = l.Reserve(agent, 100)
	assert.NoError(t, err, "Exactly filling the hourly cap is allowed")

	_, err = l.Reserve(agent, 1_001)
	assert.Equal(t, bankerr.KindInvalidArgument, bankerr.KindOf(err), "Never satisfiable")
}

func TestReservation_CancelReleasesVolumeOnly(t *testing.T) {
	l, _ := newLimiter(Config{MaxRequestsPerMinute: 2, MaxAmountPerHour: 100})

	r, err := l.Reserve(agent, 100)
	require.NoError(t, err)
	assert.False(t, l.Check(agent, 1).Allowed)

	r.Cancel()
	r.Cancel()

	_, err = l.Reserve(agent, 100)
	require.NoError(t, err, "Volume was released")

	_, err = l.Reserve(agent, 0)
	assert.True(t, errors.Is(err, bankerr.ErrRateLimited), "The cancelled request still counts")
}

func TestApplyCooldown(t *testing.T) {
	l, clk := newLimiter(Config{MaxRequestsPerMinute: 10, MaxAmountPerHour: 100, Cooldown: 5 * time.Minute})

	l.ApplyCooldown(agent)
	d := l.Check(agent, 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, 5*time.Minute, d.RetryAfter)

	clk.Advance(5 * time.Minute)
	assert.True(t, l.Check(agent, 1).Allowed)

	assert.True(t, l.Check("other", 1).Allowed, "Cooldown is per agent")
}

func TestReserve_RequestLimitHoldsForLargeLimits(t *testing.T) {
	l, clk := newLimiter(Config{MaxRequestsPerMinute: 150})

	admitted := 0
	for i := 0; i < 400; i++ {
		if _, err := l.Reserve(agent, 1); err == nil {
			admitted++
		}
	}
	assert.Equal(t, 150, admitted)

	clk.Advance(time.Minute)
	_, err := l.Reserve(agent, 1)
	assert.NoError(t, err)
}

func TestReserve_FullVolumeLogNeverLoosensCap(t *testing.T) {
	l, clk := newLimiter(Config{MaxAmountPerHour: 1_000})

	for i := 0; i < MaxLogEntries; i++ {
		_, err := l.Reserve(agent, 1)
		require.NoError(t, err)
	}

	// 100 units are still in the window, so 900 fits the cap but the log is full
	_, err := l.Reserve(agent, 900)
	require.True(t, errors.Is(err, bankerr.ErrRateLimited))
	e, _ := bankerr.As(err)
	assert.Equal(t, time.Hour, e.RetryAfter)

	var admitted uint64
	for i := 0; i < 300; i++ {
		if _, err := l.Reserve(agent, 1); err == nil {
			admitted++
		}
	}
	assert.Zero(t, admitted)
	assert.Len(t, l.state(agent).volume, MaxLogEntries)

	clk.Advance(time.Hour)
	_, err = l.Reserve(agent, 900)
	assert.NoError(t, err, "The window has rolled over")
}

func TestReserve_VolumeCapHoldsAcrossManySmallRequests(t *testing.T) {
	l, clk := newLimiter(Config{MaxAmountPerHour: 1_000})

	var admitted uint64
	for i := 0; i < 400; i++ {
		amount := uint64(1)
		if i == 100 {
			amount = 900
		}
		if _, err := l.Reserve(agent, amount); err == nil {
			admitted += amount
		}
		clk.Advance(time.Second)
	}
	assert.LessOrEqual(t, admitted, uint64(1_000))
}

func TestCheck_AgreesWithReserveAboveCap(t *testing.T) {
	l, _ := newLimiter(Config{MaxAmountPerHour: 100})

	d := l.Check(agent, 101)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "exceeds the hourly cap")
	assert.Zero(t, d.RetryAfter)

	_, err := l.Reserve(agent, 101)
	assert.Equal(t, bankerr.KindInvalidArgument, bankerr.KindOf(err))
}

func TestRecord_OnlyLogsConfiguredLimits(t *testing.T) {
	l, _ := newLimiter(Config{MaxRequestsPerMinute: 5})
	for i := 0; i < 3; i++ {
		l.Record(agent, 10)
	}
	st := l.state(agent)
	assert.Len(t, st.requests, 3)
	assert.Empty(t, st.volume)
}

func TestReserve_ConcurrentRequestsNeverExceedLimit(t *testing.T) {
	l, _ := newLimiter(Config{MaxRequestsPerMinute: 10, MaxAmountPerHour: 1_000_000})

	var (
		wg      sync.WaitGroup
		allowed int32
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(agent, 1); err == nil {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed)
}

func TestReserve_ConcurrentVolumeNeverExceedsCap(t *testing.T) {
	l, _ := newLimiter(Config{MaxRequestsPerMinute: 1000, MaxAmountPerHour: 1_000})

	var (
		wg    sync.WaitGroup
		total uint64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(agent, 75); err == nil {
				atomic.AddUint64(&total, 75)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(975), total)
}
