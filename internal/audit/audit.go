// Package audit journals every custody event (deposits, withdrawals,
// delegation changes, yield actions, pauses and governance) for later review.
package audit

import (
	"context"
	"sync"

	"github.com/yourorg/agent-bank/internal/types"
)

// EventType names a journaled event
type EventType string

// Event types
const (
	EventAgentRegistered       EventType = "agent_registered"
	EventDeposit               EventType = "deposit"
	EventWithdrawal            EventType = "withdrawal"
	EventWithdrawalDenied      EventType = "withdrawal_denied"
	EventDelegateAdded         EventType = "delegate_added"
	EventDelegateRemoved       EventType = "delegate_removed"
	EventYieldConfigured       EventType = "yield_configured"
	EventYieldInteract         EventType = "yield_interact"
	EventYieldAccrued          EventType = "yield_accrued"
	EventPauseToggled          EventType = "pause_toggled"
	EventAutoPaused            EventType = "auto_paused"
	EventGovernanceInitialized EventType = "governance_initialized"
	EventProposalCreated       EventType = "proposal_created"
	EventProposalVoted         EventType = "proposal_voted"
	EventProposalExecuted      EventType = "proposal_executed"
	EventTreasuryFunded        EventType = "treasury_funded"
)

// Event is one journal entry
type Event struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Agent        types.Identity `json:"agent,omitempty"`
	Actor        types.Identity `json:"actor,omitempty"`
	Counterparty types.Identity `json:"counterparty,omitempty"`
	Amount       uint64         `json:"amount,omitempty"`
	Fee          uint64         `json:"fee,omitempty"`
	PeriodSpend  uint64         `json:"period_spend,omitempty"`
	RiskScore    int            `json:"risk_score,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	At           int64          `json:"at"`
}

// Filter narrows a List query; zero fields match everything
type Filter struct {
	Agent types.Identity
	Type  EventType
	Limit int
}

func (f Filter) matches(e Event) bool {
	if !f.Agent.IsZero() && e.Agent != f.Agent {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// Recorder persists events
type Recorder interface {
	Record(ctx context.Context, evt *Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
	Close() error
}

// NoopRecorder is used when no journal is configured
type NoopRecorder struct{}

// NewNoopRecorder creates a recorder that drops everything
func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Record(_ context.Context, _ *Event) error { return nil }
func (n *NoopRecorder) List(_ context.Context, _ Filter) ([]Event, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }

// MemoryRecorder keeps events in process, newest last
type MemoryRecorder struct {
	events []Event
	mu     sync.Mutex
}

// NewMemoryRecorder creates an in-memory journal
func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

// Record appends evt, assigning an ID if it has none
func (m *MemoryRecorder) Record(_ context.Context, evt *Event) error {
	if evt.ID == "" {
		evt.ID = NewID()
	}
	m.mu.Lock()
	m.events = append(m.events, *evt)
	m.mu.Unlock()
	return nil
}

// List returns matching events, newest first
func (m *MemoryRecorder) List(_ context.Context, f Filter) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if !f.matches(m.events[i]) {
			continue
		}
		out = append(out, m.events[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRecorder) Close() error { return nil }
