// Package circuitbreaker holds the bank-wide pause flag and the suspicious
// activity counter that trips it.
package circuitbreaker

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/clock"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
)

// DefaultAutoPauseThreshold is the number of flagged events that trips the breaker
const DefaultAutoPauseThreshold = 10

// MaxProtocolFeeBps caps the protocol fee at 100%
const MaxProtocolFeeBps = 10000

// Options configures a PauseController
type Options struct {
	// ProtocolFeeBps is charged on every withdrawal
	ProtocolFeeBps uint16 `json:"protocol_fee_bps" yaml:"protocol_fee_bps"`

	// AutoPauseThreshold of 0 disables auto-pause
	AutoPauseThreshold uint32 `json:"auto_pause_threshold" yaml:"auto_pause_threshold"`
}

// DefaultOptions returns the bank defaults
func DefaultOptions() Options {
	return Options{AutoPauseThreshold: DefaultAutoPauseThreshold}
}

// TripFunc is notified when the breaker auto-pauses the bank
type TripFunc func(reason model.PauseReason, suspiciousCount uint32)

// PauseController owns the BankConfig singleton. It is passed by reference to
// every component that moves funds; there is no package-level state.
type PauseController struct {
	cfg   model.BankConfig
	clock clock.Clock
	mu    sync.RWMutex

	// Event callback for monitoring/alerting
	onTripCallback TripFunc
}

// New initializes the bank config with admin as the sole breaker authority
func New(admin types.Identity, opts Options) (*PauseController, error) {
	if admin.IsZero() {
		return nil, bankerr.New(bankerr.KindInvalidArgument, "bank admin is required")
	}
	if opts.ProtocolFeeBps > MaxProtocolFeeBps {
		return nil, bankerr.New(bankerr.KindInvalidArgument, "protocol fee %d bps exceeds %d", opts.ProtocolFeeBps, MaxProtocolFeeBps)
	}
	return &PauseController{
		cfg: model.BankConfig{
			Admin:              admin,
			ProtocolFeeBps:     opts.ProtocolFeeBps,
			AutoPauseThreshold: opts.AutoPauseThreshold,
		},
		clock: clock.System{},
	}, nil
}

// WithClock sets the time source and returns the controller
func (pc *PauseController) WithClock(c clock.Clock) *PauseController {
	pc.clock = c
	return pc
}

// WithTripCallback sets a callback function that is called when the breaker trips
func (pc *PauseController) WithTripCallback(callback TripFunc) *PauseController {
	pc.onTripCallback = callback
	return pc
}

// Config returns a snapshot of the bank config
func (pc *PauseController) Config() model.BankConfig {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.cfg
}

// IsAdmin reports whether id is the bank admin
func (pc *PauseController) IsAdmin(id types.Identity) bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.cfg.Admin == id
}

// FeeFor returns the protocol fee owed on amount
func (pc *PauseController) FeeFor(amount uint64) uint64 {
	pc.mu.RLock()
	bps := uint64(pc.cfg.ProtocolFeeBps)
	pc.mu.RUnlock()

	// amount*bps may overflow for very large amounts
	return amount/MaxProtocolFeeBps*bps + amount%MaxProtocolFeeBps*bps/MaxProtocolFeeBps
}

// RequireNotPaused returns BankPaused(reason) while the bank is halted
func (pc *PauseController) RequireNotPaused() error {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if pc.cfg.Paused {
		return bankerr.Paused(pc.cfg.PauseReason.String())
	}
	return nil
}

// RecordSuspicious counts one detector-flagged event. If the count reaches the
// auto-pause threshold the bank is paused for Security within this same call.
// It reports whether this call tripped the breaker.
func (pc *PauseController) RecordSuspicious(detail string) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.cfg.SuspiciousActivityCount++
	pc.cfg.LastSecurityCheck = pc.clock.Now().Unix()
	count := pc.cfg.SuspiciousActivityCount

	logrus.WithFields(logrus.Fields{
		"count":     count,
		"threshold": pc.cfg.AutoPauseThreshold,
		"detail":    detail,
	}).Warn("Suspicious activity recorded")

	if pc.cfg.Paused || pc.cfg.AutoPauseThreshold == 0 || count < pc.cfg.AutoPauseThreshold {
		return false
	}
	pc.trip(model.PauseSecurity)
	return true
}

// ResetSuspiciousActivityCount zeroes the counter. It does not unpause.
func (pc *PauseController) ResetSuspiciousActivityCount(caller types.Identity) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if caller != pc.cfg.Admin {
		return bankerr.New(bankerr.KindUnauthorized, "only the bank admin may reset the suspicious activity count")
	}
	pc.cfg.SuspiciousActivityCount = 0
	logrus.WithField("admin", caller).Info("Suspicious activity count reset")
	return nil
}

// SetAutoPauseThreshold changes the trip threshold; 0 disables auto-pause
func (pc *PauseController) SetAutoPauseThreshold(caller types.Identity, threshold uint32) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if caller != pc.cfg.Admin {
		return bankerr.New(bankerr.KindUnauthorized, "only the bank admin may change the auto-pause threshold")
	}
	pc.cfg.AutoPauseThreshold = threshold
	logrus.WithFields(logrus.Fields{
		"admin":     caller,
		"threshold": threshold,
	}).Info("Auto-pause threshold updated")
	return nil
}

// TogglePause is the admin's manual override. Unpausing always clears the reason.
func (pc *PauseController) TogglePause(caller types.Identity, paused bool, reason model.PauseReason) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if caller != pc.cfg.Admin {
		return bankerr.New(bankerr.KindUnauthorized, "only the bank admin may toggle the pause")
	}
	if paused && reason == model.PauseNone {
		reason = model.PauseMaintenance
	}
	if !paused {
		reason = model.PauseNone
	}
	pc.cfg.Paused = paused
	pc.cfg.PauseReason = reason

	logrus.WithFields(logrus.Fields{
		"admin":  caller,
		"paused": paused,
		"reason": reason,
	}).Warn("Bank pause toggled")
	return nil
}

// trip pauses the bank; callers hold the write lock
func (pc *PauseController) trip(reason model.PauseReason) {
	pc.cfg.Paused = true
	pc.cfg.PauseReason = reason
	count := pc.cfg.SuspiciousActivityCount
	logrus.Warnf("Circuit breaker tripped: %s after %d suspicious events", reason, count)

	// Call the callback if registered
	if pc.onTripCallback != nil {
		go pc.onTripCallback(reason, count)
	}
}
