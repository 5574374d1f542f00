// Package notify delivers persisted transaction batches to downstream listeners.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slpdexdb/internal/model"
	"slpdexdb/internal/storage"
	"slpdexdb/internal/subscribers"
)

// Event is the snapshot of one persisted batch. Every listener receives the same pointer and
// must treat it, and everything it references, as read-only.
type Event struct {
	ID          uuid.UUID
	Now         time.Time
	History     *model.TxHistory
	Relevant    map[model.Address]struct{}
	Store       storage.Reader
	Subscribers *subscribers.Registry
}

func NewEvent(now time.Time, history *model.TxHistory, relevant map[model.Address]struct{}, store storage.Reader, subs *subscribers.Registry) *Event {
	return &Event{
		ID:          uuid.New(),
		Now:         now,
		History:     history,
		Relevant:    relevant,
		Store:       store,
		Subscribers: subs,
	}
}

// IsRelevant reports whether addr is subscribed and touched by the batch.
func (e *Event) IsRelevant(addr model.Address) bool {
	_, ok := e.Relevant[addr]
	return ok
}

// Listener consumes notification events.
type Listener interface {
	Name() string
	HandleTransactions(ctx context.Context, ev *Event) error
}
