// Package delegation stores per-(agent, delegate) capability grants and
// resolves who may act on an agent's behalf.
package delegation

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
)

// Authority is the role under which a caller acts
type Authority int

const (
	// AuthorityOwner is the agent's owner
	AuthorityOwner Authority = iota + 1
	// AuthorityDelegate is a holder of a valid delegate record
	AuthorityDelegate
)

func (a Authority) String() string {
	switch a {
	case AuthorityOwner:
		return "owner"
	case AuthorityDelegate:
		return "delegate"
	default:
		return "none"
	}
}

// Resolve decides the caller's authority over agent for cap. rec is the
// delegate record for (agent, caller) if one exists.
func Resolve(agent, caller types.Identity, rec *model.DelegateRecord, cap model.Capability, now int64) (Authority, error) {
	if caller == agent {
		return AuthorityOwner, nil
	}
	if rec == nil || rec.Agent != agent || rec.Delegate != caller {
		return 0, bankerr.New(bankerr.KindUnauthorized, "%s is not authorized for agent %s", caller, agent)
	}
	if !rec.Allows(cap) {
		return 0, bankerr.New(bankerr.KindUnauthorized, "delegate %s lacks %s capability", caller, cap)
	}
	if !rec.ActiveAt(now) {
		return 0, bankerr.New(bankerr.KindUnauthorized, "delegate %s expired at %d", caller, rec.ValidUntil)
	}
	return AuthorityDelegate, nil
}

type key struct {
	agent    types.Identity
	delegate types.Identity
}

// Registry holds at most one record per (agent, delegate) pair
type Registry struct {
	records map[key]model.DelegateRecord
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{records: make(map[key]model.DelegateRecord)}
}

// Add stores a new grant. Granting to the owner itself or re-granting an
// existing pair is rejected; remove the old record first to change it.
func (r *Registry) Add(rec model.DelegateRecord) error {
	if rec.Agent.IsZero() || rec.Delegate.IsZero() {
		return bankerr.New(bankerr.KindInvalidArgument, "agent and delegate are required")
	}
	if rec.Agent == rec.Delegate {
		return bankerr.New(bankerr.KindInvalidArgument, "owner cannot delegate to itself")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{rec.Agent, rec.Delegate}
	if _, exists := r.records[k]; exists {
		return bankerr.New(bankerr.KindAlreadyExists, "delegate %s already registered for %s", rec.Delegate, rec.Agent)
	}
	r.records[k] = rec

	logrus.WithFields(logrus.Fields{
		"agent":            rec.Agent,
		"delegate":         rec.Delegate,
		"can_spend":        rec.CanSpend,
		"can_manage_yield": rec.CanManageYield,
		"valid_until":      rec.ValidUntil,
	}).Info("Delegate added")
	return nil
}

// Remove deletes a grant; subsequent resolutions fail immediately
func (r *Registry) Remove(agent, delegate types.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{agent, delegate}
	if _, exists := r.records[k]; !exists {
		return bankerr.New(bankerr.KindNotFound, "no delegate %s for %s", delegate, agent)
	}
	delete(r.records, k)

	logrus.WithFields(logrus.Fields{
		"agent":    agent,
		"delegate": delegate,
	}).Info("Delegate removed")
	return nil
}

// Get returns the record for the pair
func (r *Registry) Get(agent, delegate types.Identity) (model.DelegateRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key{agent, delegate}]
	return rec, ok
}

// List returns every record of agent ordered by delegate
func (r *Registry) List(agent types.Identity) []model.DelegateRecord {
	r.mu.RLock()
	out := make([]model.DelegateRecord, 0)
	for k, rec := range r.records {
		if k.agent == agent {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Delegate < out[j].Delegate })
	return out
}

// Resolve looks up the caller's record and resolves its authority
func (r *Registry) Resolve(agent, caller types.Identity, cap model.Capability, now int64) (Authority, error) {
	var rec *model.DelegateRecord
	if caller != agent {
		if found, ok := r.Get(agent, caller); ok {
			rec = &found
		}
	}
	return Resolve(agent, caller, rec, cap, now)
}
