package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"slpdexdb/internal/metrics"
)

// Broadcaster fans events out to its listeners. Each listener runs in its own supervised task:
// an error or panic is logged for that listener only and never reaches the caller.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener

	ctx      context.Context
	cancel   context.CancelFunc
	timeout  time.Duration
	inflight sync.WaitGroup
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewBroadcaster creates a broadcaster. timeout bounds a single delivery; zero means none.
func NewBroadcaster(timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{ctx: ctx, cancel: cancel, timeout: timeout, metrics: m, logger: logger}
}

// Register adds a listener for subsequent broadcasts.
func (b *Broadcaster) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Listeners returns the number of registered listeners.
func (b *Broadcaster) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Broadcast starts delivery of ev to every listener and returns without waiting.
func (b *Broadcaster) Broadcast(ev *Event) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		var wg conc.WaitGroup
		for _, l := range listeners {
			l := l
			wg.Go(func() { b.deliver(l, ev) })
		}
		wg.Wait()
	}()
}

func (b *Broadcaster) deliver(l Listener, ev *Event) {
	ctx := b.ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() { err = l.HandleTransactions(ctx, ev) })
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
	}
	if err != nil {
		b.metrics.ListenerFailure(l.Name())
		b.logger.Error("listener failed",
			zap.String("listener", l.Name()),
			zap.Stringer("event_id", ev.ID),
			zap.Int("txs", ev.History.Len()),
			zap.Error(err),
		)
	}
}

// Wait blocks until every started delivery has finished.
func (b *Broadcaster) Wait() {
	b.inflight.Wait()
}

// Close cancels outstanding deliveries and waits for them to return.
func (b *Broadcaster) Close() {
	b.cancel()
	b.inflight.Wait()
}
