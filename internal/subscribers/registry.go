// Package subscribers holds the process-wide address subscription registry.
package subscribers

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"slpdexdb/internal/model"
)

// Subscriber is one registration for an address.
type Subscriber struct {
	ID           uuid.UUID
	Address      model.Address
	SubscribedAt time.Time
}

// Registry maps addresses to their subscribers. It is safe for concurrent use; the lock is
// only held inside its own methods.
type Registry struct {
	mu        sync.RWMutex
	byAddress map[model.Address]map[uuid.UUID]Subscriber
	byID      map[uuid.UUID]model.Address
	now       func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byAddress: make(map[model.Address]map[uuid.UUID]Subscriber),
		byID:      make(map[uuid.UUID]model.Address),
		now:       time.Now,
	}
}

// Subscribe registers interest in addr and returns the new subscriber.
func (r *Registry) Subscribe(addr model.Address) Subscriber {
	sub := Subscriber{ID: uuid.New(), Address: addr, SubscribedAt: r.now().UTC()}

	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byAddress[addr]
	if !ok {
		subs = make(map[uuid.UUID]Subscriber)
		r.byAddress[addr] = subs
	}
	subs[sub.ID] = sub
	r.byID[sub.ID] = addr
	return sub
}

// Unsubscribe removes a registration. It reports whether id was registered.
func (r *Registry) Unsubscribe(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	subs := r.byAddress[addr]
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.byAddress, addr)
	}
	return true
}

// Relevant returns the addresses among addrs that have at least one subscriber.
func (r *Registry) Relevant(addrs []model.Address) map[model.Address]struct{} {
	out := make(map[model.Address]struct{})
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, addr := range addrs {
		if _, ok := r.byAddress[addr]; ok {
			out[addr] = struct{}{}
		}
	}
	return out
}

// Subscribers returns a copy of the registrations for addr.
func (r *Registry) Subscribers(addr model.Address) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.byAddress[addr]
	out := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

// Len returns the number of subscribed addresses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}
