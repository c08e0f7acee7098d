package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
)

const admin = types.Identity("admin")

func newController(t *testing.T, threshold uint32) *PauseController {
	pc, err := New(admin, Options{ProtocolFeeBps: 25, AutoPauseThreshold: threshold})
	require.NoError(t, err)
	return pc
}

func TestPauseController_BasicFunctionality(t *testing.T) {
	pc := newController(t, DefaultAutoPauseThreshold)
	cfg := pc.Config()

	assert.False(t, cfg.Paused, "Bank should start unpaused")
	assert.Equal(t, model.PauseNone, cfg.PauseReason)
	assert.Equal(t, admin, cfg.Admin)
	assert.NoError(t, pc.RequireNotPaused())
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	_, err := New("", DefaultOptions())
	assert.Equal(t, bankerr.KindInvalidArgument, bankerr.KindOf(err))

	_, err = New(admin, Options{ProtocolFeeBps: 10001})
	assert.Equal(t, bankerr.KindInvalidArgument, bankerr.KindOf(err))
}

func TestPauseController_TripsOnTriggeringCall(t *testing.T) {
	pc := newController(t, 3)

	assert.False(t, pc.RecordSuspicious("first"))
	assert.False(t, pc.RecordSuspicious("second"))
	assert.False(t, pc.Config().Paused, "Threshold-1 events must not pause")

	assert.True(t, pc.RecordSuspicious("third"), "The triggering call itself trips")
	cfg := pc.Config()
	assert.True(t, cfg.Paused)
	assert.Equal(t, model.PauseSecurity, cfg.PauseReason)
	assert.Equal(t, uint32(3), cfg.SuspiciousActivityCount)

	err := pc.RequireNotPaused()
	assert.True(t, errors.Is(err, bankerr.ErrBankPaused))
	e, ok := bankerr.As(err)
	require.True(t, ok)
	assert.Equal(t, "Security", e.Reason)
}

func TestPauseController_ZeroThresholdDisablesAutoPause(t *testing.T) {
	pc := newController(t, 0)
	for i := 0; i < 50; i++ {
		pc.RecordSuspicious("flagged")
	}
	assert.False(t, pc.Config().Paused)
	assert.Equal(t, uint32(50), pc.Config().SuspiciousActivityCount)
}

func TestPauseController_ResetDoesNotUnpause(t *testing.T) {
	pc := newController(t, 1)
	require.True(t, pc.RecordSuspicious("flagged"))

	require.NoError(t, pc.ResetSuspiciousActivityCount(admin))
	cfg := pc.Config()
	assert.Equal(t, uint32(0), cfg.SuspiciousActivityCount)
	assert.True(t, cfg.Paused, "Reset must not auto-unpause")

	require.NoError(t, pc.TogglePause(admin, false, model.PauseSecurity))
	cfg = pc.Config()
	assert.False(t, cfg.Paused)
	assert.Equal(t, model.PauseNone, cfg.PauseReason, "Unpausing clears the reason")
}

func TestPauseController_AdminOnly(t *testing.T) {
	pc := newController(t, 10)
	intruder := types.Identity("intruder")

	assert.True(t, errors.Is(pc.ResetSuspiciousActivityCount(intruder), bankerr.ErrUnauthorized))
	assert.True(t, errors.Is(pc.SetAutoPauseThreshold(intruder, 0), bankerr.ErrUnauthorized))
	assert.True(t, errors.Is(pc.TogglePause(intruder, true, model.PauseUpgrade), bankerr.ErrUnauthorized))
	assert.False(t, pc.Config().Paused)

	require.NoError(t, pc.SetAutoPauseThreshold(admin, 2))
	assert.Equal(t, uint32(2), pc.Config().AutoPauseThreshold)
}

func TestPauseController_ManualPause(t *testing.T) {
	pc := newController(t, 10)

	require.NoError(t, pc.TogglePause(admin, true, model.PauseUpgrade))
	err := pc.RequireNotPaused()
	e, ok := bankerr.As(err)
	require.True(t, ok)
	assert.Equal(t, "Upgrade", e.Reason)

	require.NoError(t, pc.TogglePause(admin, true, model.PauseNone))
	assert.Equal(t, model.PauseMaintenance, pc.Config().PauseReason, "A pause always carries a reason")
}

func TestPauseController_CallbackExecution(t *testing.T) {
	var (
		wg     sync.WaitGroup
		reason model.PauseReason
		count  uint32
	)
	wg.Add(1)

	pc := newController(t, 1).WithTripCallback(func(r model.PauseReason, c uint32) {
		reason, count = r, c
		wg.Done()
	})
	require.True(t, pc.RecordSuspicious("flagged"))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Callback should be executed when the breaker trips")
	}
	assert.Equal(t, model.PauseSecurity, reason)
	assert.Equal(t, uint32(1), count)
}

func TestPauseController_FeeFor(t *testing.T) {
	pc := newController(t, 10)
	assert.Equal(t, uint64(25), pc.FeeFor(10_000))
	assert.Equal(t, uint64(0), pc.FeeFor(399))
	assert.Equal(t, uint64(1), pc.FeeFor(400))

	huge := ^uint64(0)
	assert.Equal(t, huge/10000*25+huge%10000*25/10000, pc.FeeFor(huge))
}
