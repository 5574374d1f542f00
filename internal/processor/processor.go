// Package processor gates, validates, persists and announces live transaction batches.
package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"slpdexdb/internal/metrics"
	"slpdexdb/internal/model"
	"slpdexdb/internal/notify"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/storage"
	"slpdexdb/internal/subscribers"
)

// Outcome is how a batch left the processor.
type Outcome int

const (
	// Skipped: nothing SLP and nothing relevant after classification.
	Skipped Outcome = iota + 1
	// SkippedAfterValidation: validation removed every SLP classification and nothing is relevant.
	SkippedAfterValidation
	// Persisted: the batch was stored and an event was broadcast.
	Persisted
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case SkippedAfterValidation:
		return "skipped_after_validation"
	case Persisted:
		return "persisted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Validator runs full protocol validation over a batch, downgrading invalid entries in place.
// Remember is called once a validated batch is stored.
type Validator interface {
	ValidateHistory(ctx context.Context, history *model.TxHistory) (int, error)
	Remember(history *model.TxHistory)
}

// Store is what the processor persists to and hands to listeners.
type Store interface {
	storage.Reader
	AddTxHistory(ctx context.Context, history *model.TxHistory) error
}

// Notifier starts delivery of an event without waiting for listeners.
type Notifier interface {
	Broadcast(ev *notify.Event)
}

// Processor handles live transaction batches. It is not safe for concurrent use; the processor
// actor owns it.
type Processor struct {
	classifier *slp.Classifier
	validator  Validator
	store      Store
	registry   *subscribers.Registry
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// Config wires the processor's collaborators.
type Config struct {
	Classifier *slp.Classifier
	Validator  Validator
	Store      Store
	Registry   *subscribers.Registry
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

func New(cfg Config) (*Processor, error) {
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("subscriber registry is nil")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = slp.NewClassifier(slp.DefaultConfig(), cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		classifier: cfg.Classifier,
		validator:  cfg.Validator,
		store:      cfg.Store,
		registry:   cfg.Registry,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// Process classifies a raw batch and runs it through the pipeline.
func (p *Processor) Process(ctx context.Context, entries []model.TxEntry) (Outcome, error) {
	now := p.now()
	return p.process(ctx, p.classifier.History(entries, now), now)
}

// ProcessTxs runs an already classified batch through the pipeline. The slice is not retained
// beyond the batch it builds.
func (p *Processor) ProcessTxs(ctx context.Context, txs []model.Tx) (Outcome, error) {
	now := p.now()
	history := &model.TxHistory{Txs: append([]model.Tx(nil), txs...), Timestamp: now}
	return p.process(ctx, history, now)
}

func (p *Processor) process(ctx context.Context, history *model.TxHistory, now time.Time) (Outcome, error) {
	relevant := p.registry.Relevant(history.Addresses())

	if history.SLPCount() == 0 && len(relevant) == 0 {
		return p.done(Skipped, history), nil
	}

	downgraded, err := p.validator.ValidateHistory(ctx, history)
	if err != nil {
		p.logger.Error("validate batch", zap.Int("txs", history.Len()), zap.Error(err))
		return 0, fmt.Errorf("validate batch: %w", err)
	}
	if downgraded > 0 {
		p.logger.Debug("slp transactions downgraded", zap.Int("downgraded", downgraded))
	}

	if history.SLPCount() == 0 && len(relevant) == 0 {
		return p.done(SkippedAfterValidation, history), nil
	}

	if err := p.store.AddTxHistory(ctx, history); err != nil {
		p.logger.Error("persist batch", zap.Int("txs", history.Len()), zap.Error(err))
		return 0, fmt.Errorf("persist batch: %w", err)
	}
	p.validator.Remember(history)

	ev := notify.NewEvent(now, history, relevant, p.store, p.registry)
	p.notifier.Broadcast(ev)
	p.logger.Info("batch persisted",
		zap.Stringer("event_id", ev.ID),
		zap.Int("txs", history.Len()),
		zap.Int("slp", history.SLPCount()),
		zap.Int("relevant_addresses", len(relevant)),
	)
	return p.done(Persisted, history), nil
}

func (p *Processor) done(outcome Outcome, history *model.TxHistory) Outcome {
	p.metrics.ProcessorOutcome(outcome.String())
	if outcome != Persisted {
		p.logger.Debug("batch skipped", zap.Stringer("outcome", outcome), zap.Int("txs", history.Len()))
	}
	return outcome
}
