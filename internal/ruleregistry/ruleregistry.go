// Package ruleregistry is the rule lifecycle map: it tracks which
// relay rules are currently live and holds the cancellation that tears
// each one's TCP/UDP workers down, in place of a one-slot command
// channel that could leave a worker parked on a recv nobody will ever
// send to.
package ruleregistry

import (
	"sync"

	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/rerrors"
	"github.com/relaymesh/relaymesh/internal/utils"
)

// entry is one active rule: its built descriptor and the cancellation
// that tears its TCP/UDP workers down. cancel is nil between Reserve
// and Commit, while the caller is still binding sockets for the rule.
type entry struct {
	info *endpoint.Info

	mu      sync.Mutex
	cancel  func()
	removed bool
}

// Registry maps rule-id (an endpoint's local address string) to its
// live entry.
type Registry struct {
	m *utils.TypedSyncMap[string, *entry]
}

// New constructs an empty rule registry.
func New() *Registry {
	return &Registry{m: utils.NewTypedSyncMap[string, *entry]()}
}

// Reservation is a rule-id claimed in the registry before its sockets
// are bound, so two concurrent requests for the same id can never both
// proceed to bind. Call Commit once the workers are up, or Rollback if
// binding failed.
type Reservation struct {
	registry *Registry
	id       string
	entry    *entry
}

// Reserve claims info's RuleID atomically, rejecting a duplicate before
// any socket is bound for it. Callers must Commit or Rollback the
// returned Reservation exactly once.
func (r *Registry) Reserve(info *endpoint.Info) (*Reservation, error) {
	id := info.Endpoint.RuleID()
	e := &entry{info: info}
	_, loaded := r.m.LoadOrStore(id, e)
	if loaded {
		return nil, rerrors.New("rule ", id, " already exists").AtWarning().WithKind(rerrors.KindDuplicate)
	}
	return &Reservation{registry: r, id: id, entry: e}, nil
}

// Commit attaches the teardown cancellation now that the rule's
// workers are running. If the reservation was removed in the meantime
// (a racing Remove found it before Commit), cancel runs immediately
// instead of being stored.
func (res *Reservation) Commit(cancel func()) {
	res.entry.mu.Lock()
	removed := res.entry.removed
	if !removed {
		res.entry.cancel = cancel
	}
	res.entry.mu.Unlock()
	if removed {
		cancel()
	}
}

// Rollback releases a reservation whose socket binding failed.
func (res *Reservation) Rollback() {
	res.registry.m.Delete(res.id)
}

// Add is a convenience for callers with no bind step to stage: it
// reserves and commits in one call.
func (r *Registry) Add(info *endpoint.Info, cancel func()) error {
	res, err := r.Reserve(info)
	if err != nil {
		return err
	}
	res.Commit(cancel)
	return nil
}

// Remove tears down and deletes the rule for id. Reports NotFound if
// no such rule exists.
func (r *Registry) Remove(id string) error {
	e, loaded := r.m.LoadAndDelete(id)
	if !loaded {
		return rerrors.New("rule ", id, " not found").AtWarning().WithKind(rerrors.KindNotFound)
	}
	e.mu.Lock()
	cancel := e.cancel
	e.removed = true
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Get returns the live descriptor for id.
func (r *Registry) Get(id string) (*endpoint.Info, bool) {
	e, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}
	return e.info, true
}

// List returns every active rule's descriptor.
func (r *Registry) List() []*endpoint.Info {
	infos := make([]*endpoint.Info, 0)
	r.m.Range(func(_ string, e *entry) bool {
		infos = append(infos, e.info)
		return true
	})
	return infos
}
