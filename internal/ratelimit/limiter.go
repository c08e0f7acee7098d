// Package ratelimit throttles withdrawals per agent with two sliding windows
// (request count per minute, volume per hour) and a cooldown that downstream
// checks can impose after a denial.
//
// Reserve checks and records under one per-agent lock, so concurrent requests
// for the same agent can never both pass a check that only one of them fits.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/clock"
	"github.com/yourorg/agent-bank/internal/types"
)

const (
	// RequestWindow is the trailing window for the request count
	RequestWindow = time.Minute
	// VolumeWindow is the trailing window for the summed amount
	VolumeWindow = time.Hour
	// MaxLogEntries caps the volume log and bounds the configurable request
	// limit. Entries are never dropped while still inside their window; a
	// full log denies instead.
	MaxLogEntries = 100
)

// Config holds the limiter thresholds
type Config struct {
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute"`
	MaxAmountPerHour     uint64        `yaml:"max_amount_per_hour"`
	Cooldown             time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns conservative defaults
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerMinute: 10,
		MaxAmountPerHour:     10_000_000_000,
		Cooldown:             5 * time.Minute,
	}
}

// Decision is the result of a non-mutating Check
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type volumeEntry struct {
	id     uint64
	amount uint64
	at     time.Time
}

type agentState struct {
	mu            sync.Mutex
	requests      []time.Time
	volume        []volumeEntry
	cooldownUntil time.Time
	nextID        uint64
}

// Limiter owns every agent's windows. It is safe for concurrent use.
type Limiter struct {
	cfg    Config
	clock  clock.Clock
	mu     sync.Mutex
	agents map[types.Identity]*agentState
}

// New creates a limiter
func New(cfg Config, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &Limiter{
		cfg:    cfg,
		clock:  clk,
		agents: make(map[types.Identity]*agentState),
	}
}

// Config returns the thresholds
func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) state(agent types.Identity) *agentState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.agents[agent]
	if !ok {
		st = &agentState{}
		l.agents[agent] = st
	}
	return st
}

// Check previews whether a request for amount would be admitted now. It
// records nothing; use Reserve to admit a request.
func (l *Limiter) Check(agent types.Identity, amount uint64) Decision {
	if l.exceedsCap(amount) {
		return Decision{Reason: fmt.Sprintf("amount %d exceeds the hourly cap %d", amount, l.cfg.MaxAmountPerHour)}
	}

	st := l.state(agent)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.clock.Now()
	st.prune(now)
	return l.decide(st, amount, now)
}

// Reservation is an admitted request. Cancel it if a later check rejects the
// withdrawal so the volume does not count against the agent.
type Reservation struct {
	limiter *Limiter
	agent   types.Identity
	id      uint64
	once    sync.Once
}

// Reserve atomically checks both windows and the cooldown and, if allowed,
// records the request. Denials carry a concrete RetryAfter. An amount above
// the hourly cap can never be admitted and is an InvalidArgument instead.
func (l *Limiter) Reserve(agent types.Identity, amount uint64) (*Reservation, error) {
	if l.exceedsCap(amount) {
		return nil, bankerr.New(bankerr.KindInvalidArgument, "amount %d exceeds the hourly cap %d", amount, l.cfg.MaxAmountPerHour)
	}

	st := l.state(agent)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.clock.Now()
	st.prune(now)
	if d := l.decide(st, amount, now); !d.Allowed {
		logrus.WithFields(logrus.Fields{
			"agent":       agent,
			"amount":      amount,
			"reason":      d.Reason,
			"retry_after": d.RetryAfter,
		}).Warn("Rate limit denied request")
		return nil, bankerr.RateLimited(d.RetryAfter, "%s", d.Reason)
	}

	id := l.record(st, amount, now)
	return &Reservation{limiter: l, agent: agent, id: id}, nil
}

func (l *Limiter) exceedsCap(amount uint64) bool {
	return l.cfg.MaxAmountPerHour > 0 && amount > l.cfg.MaxAmountPerHour
}

// Record appends a request unconditionally, for callers that admitted it elsewhere
func (l *Limiter) Record(agent types.Identity, amount uint64) {
	st := l.state(agent)
	st.mu.Lock()
	defer st.mu.Unlock()
	now := l.clock.Now()
	st.prune(now)
	l.record(st, amount, now)
}

// ApplyCooldown blocks the agent for the configured cooldown
func (l *Limiter) ApplyCooldown(agent types.Identity) time.Time {
	st := l.state(agent)
	st.mu.Lock()
	defer st.mu.Unlock()

	until := l.clock.Now().Add(l.cfg.Cooldown)
	if until.After(st.cooldownUntil) {
		st.cooldownUntil = until
	}
	logrus.WithFields(logrus.Fields{
		"agent": agent,
		"until": st.cooldownUntil,
	}).Warn("Cooldown applied")
	return st.cooldownUntil
}

// Cancel releases the reserved volume. The request itself still counts
// toward the per-minute window. Cancel is idempotent.
func (r *Reservation) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		st := r.limiter.state(r.agent)
		st.mu.Lock()
		defer st.mu.Unlock()
		for i, e := range st.volume {
			if e.id == r.id {
				st.volume = append(st.volume[:i], st.volume[i+1:]...)
				return
			}
		}
	})
}

// decide applies the three rules; callers hold st.mu
func (l *Limiter) decide(st *agentState, amount uint64, now time.Time) Decision {
	if now.Before(st.cooldownUntil) {
		return Decision{Reason: "agent is cooling down", RetryAfter: st.cooldownUntil.Sub(now)}
	}

	if l.cfg.MaxRequestsPerMinute > 0 && len(st.requests) >= l.cfg.MaxRequestsPerMinute {
		// the window frees up when the oldest counted request leaves it
		oldest := st.requests[len(st.requests)-l.cfg.MaxRequestsPerMinute]
		return Decision{
			Reason:     "too many requests in the last minute",
			RetryAfter: oldest.Add(RequestWindow).Sub(now),
		}
	}

	if l.cfg.MaxAmountPerHour > 0 {
		if len(st.volume) >= MaxLogEntries {
			return Decision{
				Reason:     "too many withdrawals in the last hour",
				RetryAfter: st.volume[len(st.volume)-MaxLogEntries].at.Add(VolumeWindow).Sub(now),
			}
		}

		var total uint64
		for _, e := range st.volume {
			total += e.amount
		}
		if total > l.cfg.MaxAmountPerHour || amount > l.cfg.MaxAmountPerHour-total {
			return Decision{
				Reason:     "hourly volume exceeded",
				RetryAfter: volumeRetryAfter(st.volume, amount, l.cfg.MaxAmountPerHour, now),
			}
		}
	}

	return Decision{Allowed: true}
}

// volumeRetryAfter finds when enough old volume has expired for amount to fit
func volumeRetryAfter(entries []volumeEntry, amount, max uint64, now time.Time) time.Duration {
	var total uint64
	for _, e := range entries {
		total += e.amount
	}
	for _, e := range entries {
		total -= e.amount
		if total <= max && amount <= max-total {
			return e.at.Add(VolumeWindow).Sub(now)
		}
	}
	return VolumeWindow
}

// record appends to the logs the configured limits read; callers hold st.mu
func (l *Limiter) record(st *agentState, amount uint64, now time.Time) uint64 {
	st.nextID++
	if l.cfg.MaxRequestsPerMinute > 0 {
		st.requests = append(st.requests, now)
	}
	if l.cfg.MaxAmountPerHour > 0 {
		st.volume = append(st.volume, volumeEntry{id: st.nextID, amount: amount, at: now})
	}
	return st.nextID
}

// prune drops entries outside their windows; entries are kept in time order
func (st *agentState) prune(now time.Time) {
	i := 0
	for i < len(st.requests) && !st.requests[i].After(now.Add(-RequestWindow)) {
		i++
	}
	st.requests = st.requests[i:]

	j := 0
	for j < len(st.volume) && !st.volume[j].at.After(now.Add(-VolumeWindow)) {
		j++
	}
	st.volume = st.volume[j:]
}
