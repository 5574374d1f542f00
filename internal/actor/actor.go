// Package actor runs handlers one at a time from a bounded mailbox.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"slpdexdb/internal/metrics"
)

// ErrStopped is returned for messages sent to an actor that is not running.
var ErrStopped = errors.New("actor stopped")

// Handler is one unit of work executed by the actor goroutine.
type Handler func(ctx context.Context) error

type envelope struct {
	ctx   context.Context
	fn    Handler
	reply chan error
	name  string
}

// Actor executes messages sequentially in arrival order on a single goroutine. A handler error
// or panic is returned to the sender (Ask) or logged (Tell); the actor keeps running.
type Actor struct {
	name    string
	mailbox chan envelope
	logger  *zap.Logger
	metrics *metrics.Metrics

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup

	// mu is held shared by senders and exclusively when the actor stops, so no message can
	// enter the mailbox after its final drain.
	mu      sync.RWMutex
	stopped bool
}

// New creates an actor with a mailbox of the given capacity.
func New(name string, capacity int, m *metrics.Metrics, logger *zap.Logger) *Actor {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actor{
		name:     name,
		mailbox:  make(chan envelope, capacity),
		logger:   logger.With(zap.String("actor", name)),
		metrics:  m,
		stopChan: make(chan struct{}),
	}
}

// Name returns the actor name.
func (a *Actor) Name() string { return a.name }

// Start launches the actor goroutine. When startup is not nil it runs first, before any
// message is taken from the mailbox; messages sent meanwhile are queued.
func (a *Actor) Start(ctx context.Context, startup Handler) {
	a.startOnce.Do(func() {
		a.wg.Add(1)
		go a.run(ctx, startup)
	})
}

// Stop stops accepting messages, lets the current handler finish and waits for the goroutine.
// Queued messages that were not started fail with ErrStopped.
func (a *Actor) Stop() {
	a.markStopped()
	a.wg.Wait()
	a.drain()
}

// markStopped rejects further messages. It is called by Stop and whenever the actor goroutine
// exits, including when its start context ends.
func (a *Actor) markStopped() {
	a.stopOnce.Do(func() { close(a.stopChan) })
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
}

func (a *Actor) run(ctx context.Context, startup Handler) {
	defer a.wg.Done()
	defer func() {
		a.markStopped()
		a.drain()
	}()

	if startup != nil {
		if err := a.invoke(ctx, startup); err != nil {
			a.logger.Error("startup task failed", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case env := <-a.mailbox:
			a.metrics.Mailbox(a.name, len(a.mailbox))
			err := a.invoke(env.ctx, env.fn)
			if env.reply != nil {
				env.reply <- err
			} else if err != nil {
				a.logger.Error("message failed", zap.String("message", env.name), zap.Error(err))
			}
		}
	}
}

func (a *Actor) drain() {
	for {
		select {
		case env := <-a.mailbox:
			if env.reply != nil {
				env.reply <- ErrStopped
			}
		default:
			return
		}
	}
}

func (a *Actor) invoke(ctx context.Context, fn Handler) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	var catcher panics.Catcher
	catcher.Try(func() { err = fn(ctx) })
	if recovered := catcher.Recovered(); recovered != nil {
		return fmt.Errorf("%s: handler panic: %w", a.name, recovered.AsError())
	}
	return err
}

func (a *Actor) enqueue(ctx context.Context, env envelope) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		return ErrStopped
	}
	select {
	case a.mailbox <- env:
		a.metrics.Mailbox(a.name, len(a.mailbox))
		return nil
	case <-a.stopChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ask queues fn and waits for its result. fn runs with ctx.
func (a *Actor) Ask(ctx context.Context, fn Handler) error {
	reply := make(chan error, 1)
	if err := a.enqueue(ctx, envelope{ctx: ctx, fn: fn, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tell queues fn without waiting for it. fn runs with ctx; its error is logged under name.
func (a *Actor) Tell(ctx context.Context, name string, fn Handler) error {
	return a.enqueue(ctx, envelope{ctx: ctx, fn: fn, name: name})
}

// AskValue is Ask for handlers that produce a value. The value is handed over on a buffered
// channel, never through a variable shared with the handler.
func AskValue[T any](ctx context.Context, a *Actor, fn func(ctx context.Context) (T, error)) (T, error) {
	values := make(chan T, 1)
	err := a.Ask(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		values <- v
		return nil
	})
	var out T
	if err != nil {
		return out, err
	}
	select {
	case out = <-values:
	default:
	}
	return out, nil
}
