package resync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"slpdexdb/internal/metrics"
	"slpdexdb/internal/model"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/storage"
)

// Source is the ledger query source the loop pages through.
type Source interface {
	RequestTransactions(ctx context.Context, filters []model.TxFilter, conf model.Confirmedness) ([]model.TxEntry, error)
	RequestTokens(ctx context.Context, filters []model.TxFilter) ([]model.TokenEntry, error)
}

// Config holds runtime settings for the resync loop.
type Config struct {
	PageSize     int
	MaxRetries   int
	RetryBackoff time.Duration
}

// BatchResult describes one completed iteration.
type BatchResult struct {
	Subject    model.Subject
	Items      int
	Skipped    int
	Checkpoint model.Checkpoint
	// Done is true when the source returned nothing new; no checkpoint was written.
	Done bool
}

// Loop advances subject checkpoints against the source. Callers must not run two loops over
// the same subject concurrently; the resync actor serializes them.
type Loop struct {
	cfg        Config
	source     Source
	store      storage.SyncStore
	classifier *slp.Classifier
	validator  *slp.Validator
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// Option customizes a Loop.
type Option func(*Loop)

// WithClock injects the time source used for batch timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithValidator validates SLP transactions before they are persisted.
func WithValidator(v *slp.Validator) Option {
	return func(l *Loop) { l.validator = v }
}

// WithMetrics records batch counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop builds a Loop with its dependencies.
func NewLoop(cfg Config, source Source, store storage.SyncStore, classifier *slp.Classifier, logger *zap.Logger, opts ...Option) (*Loop, error) {
	if source == nil {
		return nil, fmt.Errorf("source is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is nil")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be greater than zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if classifier == nil {
		classifier = slp.NewClassifier(slp.DefaultConfig(), logger)
	}
	l := &Loop{
		cfg:        cfg,
		source:     source,
		store:      store,
		classifier: classifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Advance runs one fetch-persist-checkpoint iteration for subject. On error nothing of this
// iteration's checkpoint is written; earlier iterations stay committed.
func (l *Loop) Advance(ctx context.Context, subject model.Subject) (BatchResult, error) {
	res, err := l.advance(ctx, subject)
	if err != nil {
		l.metrics.ResyncError(subject.Type.String(), subject.Confirmed)
		l.logger.Error("resync iteration failed", zap.Stringer("subject", subject), zap.Error(err))
	}
	return res, err
}

func (l *Loop) advance(ctx context.Context, subject model.Subject) (BatchResult, error) {
	if err := subject.Validate(); err != nil {
		return BatchResult{}, err
	}
	now := l.now()

	var tip int32
	header, ok, err := l.store.HeaderTip(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	if ok {
		tip = header.Height
	}

	cp, _, err := l.store.LastUpdate(ctx, subject)
	if err != nil {
		return BatchResult{}, err
	}
	filters, err := cp.NextFilters(l.cfg.PageSize)
	if err != nil {
		return BatchResult{}, err
	}

	var (
		progress []model.Progress
		persist  func() (int, error)
	)
	if subject.Type == model.SubjectToken {
		progress, persist, err = l.fetchTokens(ctx, cp, filters)
	} else {
		progress, persist, err = l.fetchTransactions(ctx, cp, filters, now)
	}
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Subject: subject, Checkpoint: cp}
	if len(progress) == 0 {
		res.Done = true
		l.logger.Debug("subject up to date", zap.Stringer("subject", subject), zap.Int32("last_height", cp.LastHeight))
		return res, nil
	}

	skipped, err := persist()
	if err != nil {
		return BatchResult{}, err
	}
	next := cp.Advance(progress, tip, now)
	if err := l.store.AddUpdateHistory(ctx, next); err != nil {
		return BatchResult{}, err
	}

	res.Items = len(progress)
	res.Skipped = skipped
	res.Checkpoint = next
	l.metrics.ResyncBatch(subject.Type.String(), subject.Confirmed, res.Items, next.LastHeight)
	l.logger.Info("batch complete",
		zap.Stringer("subject", subject),
		zap.Int("items", res.Items),
		zap.Int("skipped", skipped),
		zap.Int32("last_height", next.LastHeight),
		zap.Int32("tip_height", tip),
	)
	return res, nil
}

// fetchTransactions queries one page of transactions and returns the items that advance the
// cursor along with the write that persists them.
func (l *Loop) fetchTransactions(ctx context.Context, cp model.Checkpoint, filters []model.TxFilter, now time.Time) ([]model.Progress, func() (int, error), error) {
	var entries []model.TxEntry
	err := withRetry(ctx, l.cfg.MaxRetries, l.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		entries, err = l.source.RequestTransactions(ctx, filters, cp.Subject.Confirmedness())
		if err != nil {
			l.logger.Warn("request transactions failed", zap.Error(err), zap.Stringer("subject", cp.Subject), zap.Strings("filters", model.FilterStrings(filters)))
		}
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resync %s: %w", cp.Subject, err)
	}

	fresh := make([]model.TxEntry, 0, len(entries))
	for _, entry := range entries {
		if cp.Folded(model.Progress{Height: entry.Height, Hash: entry.Hash}) {
			l.logger.Warn("source returned folded transaction", zap.Stringer("subject", cp.Subject), zap.Stringer("tx_hash", entry.Hash))
			continue
		}
		fresh = append(fresh, entry)
	}
	if len(fresh) == 0 {
		return nil, nil, nil
	}

	history := l.classifier.History(fresh, now)
	persist := func() (int, error) {
		downgraded := 0
		if l.validator != nil {
			var err error
			if downgraded, err = l.validator.ValidateHistory(ctx, history); err != nil {
				return 0, err
			}
		}
		if err := l.store.AddTxHistory(ctx, history); err != nil {
			return 0, err
		}
		if l.validator != nil {
			l.validator.Remember(history)
		}
		return downgraded, nil
	}
	return model.HistoryProgress(history), persist, nil
}

// fetchTokens queries one page of tokens. Malformed entries are logged and skipped but still
// advance the cursor.
func (l *Loop) fetchTokens(ctx context.Context, cp model.Checkpoint, filters []model.TxFilter) ([]model.Progress, func() (int, error), error) {
	var entries []model.TokenEntry
	err := withRetry(ctx, l.cfg.MaxRetries, l.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		entries, err = l.source.RequestTokens(ctx, filters)
		if err != nil {
			l.logger.Warn("request tokens failed", zap.Error(err), zap.Strings("filters", model.FilterStrings(filters)))
		}
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resync %s: %w", cp.Subject, err)
	}

	var (
		progress []model.Progress
		tokens   []model.Token
		skipped  int
	)
	for _, entry := range entries {
		pos := model.Progress{Height: entry.Height, Hash: entry.ID}
		if cp.Folded(pos) {
			l.logger.Warn("source returned folded token", zap.Stringer("token_id", entry.ID))
			continue
		}
		progress = append(progress, pos)
		token, err := model.TokenFromEntry(entry)
		if err != nil {
			skipped++
			l.logger.Warn("skip malformed token", zap.Stringer("token_id", entry.ID), zap.Error(err))
			continue
		}
		tokens = append(tokens, token)
	}
	persist := func() (int, error) {
		return skipped, l.store.AddTokens(ctx, tokens)
	}
	return progress, persist, nil
}

// Run advances subject until the source has nothing new and returns the number of items synced.
func (l *Loop) Run(ctx context.Context, subject model.Subject) (int, error) {
	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		res, err := l.Advance(ctx, subject)
		if err != nil {
			return total, err
		}
		if res.Done {
			return total, nil
		}
		total += res.Items
	}
}

// ResyncAddress syncs the confirmed then unconfirmed history of addr and recomputes its
// unspent outputs once both are complete.
func (l *Loop) ResyncAddress(ctx context.Context, addr model.Address) (int, error) {
	total := 0
	for _, confirmed := range []bool{true, false} {
		n, err := l.Run(ctx, model.AddressSubject(addr, confirmed))
		total += n
		if err != nil {
			return total, err
		}
	}
	if err := l.store.UpdateUTXOSet(ctx, addr); err != nil {
		return total, err
	}
	l.logger.Info("address resynced", zap.Stringer("address", addr), zap.Int("items", total))
	return total, nil
}

// ResyncExchange syncs confirmed then unconfirmed exchange offers and recomputes the exchange
// unspent outputs.
func (l *Loop) ResyncExchange(ctx context.Context) (int, error) {
	total := 0
	for _, confirmed := range []bool{true, false} {
		n, err := l.Run(ctx, model.Subject{Type: model.SubjectExchangeOffers, Confirmed: confirmed})
		total += n
		if err != nil {
			return total, err
		}
	}
	if err := l.store.UpdateExchangeUTXOSet(ctx); err != nil {
		return total, err
	}
	l.logger.Info("exchange offers resynced", zap.Int("items", total))
	return total, nil
}

// ResyncTokens syncs the confirmed token list.
func (l *Loop) ResyncTokens(ctx context.Context) (int, error) {
	n, err := l.Run(ctx, model.Subject{Type: model.SubjectToken, Confirmed: true})
	if err != nil {
		return n, err
	}
	l.logger.Info("tokens resynced", zap.Int("items", n))
	return n, nil
}
