// Package activation resolves pending activations once their triggering transaction confirms.
package activation

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"slpdexdb/internal/metrics"
	"slpdexdb/internal/model"
)

// Store is the storage surface the processor needs.
type Store interface {
	PendingActivations(ctx context.Context) ([]model.PendingActivation, error)
	EntitiesByIDs(ctx context.Context, ids []int64) (map[int64]model.Entity, error)
	AddActivatedEntity(ctx context.Context, activated model.ActivatedEntity) error
}

// RecordFailure is the error of one pending activation. Other records are unaffected.
type RecordFailure struct {
	PendingID int64
	Err       error
}

func (f RecordFailure) Error() string {
	return fmt.Sprintf("pending activation %d: %v", f.PendingID, f.Err)
}

func (f RecordFailure) Unwrap() error { return f.Err }

// Result reports what one block resolved.
type Result struct {
	BlockHash chainhash.Hash
	Activated []model.ActivatedEntity
	Failures  []RecordFailure
}

// Err combines the record failures, or returns nil when there were none.
func (r Result) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// Processor resolves pending activations triggered by a block.
type Processor struct {
	store    Store
	combiner Combiner
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewProcessor(store Store, combiner Combiner, m *metrics.Metrics, logger *zap.Logger) (*Processor, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is nil")
	}
	if combiner == nil {
		combiner = DefaultCombiner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, combiner: combiner, metrics: m, logger: logger}, nil
}

// ProcessBlock activates every pending record whose trigger is among txHashes. Storage errors
// while loading abort the block; errors resolving one record are reported in the result.
func (p *Processor) ProcessBlock(ctx context.Context, header model.Header, txHashes []chainhash.Hash) (Result, error) {
	res := Result{BlockHash: header.Hash}

	pending, err := p.store.PendingActivations(ctx)
	if err != nil {
		return res, fmt.Errorf("block %s: %w", header.Hash, err)
	}

	inBlock := make(map[chainhash.Hash]struct{}, len(txHashes))
	for _, h := range txHashes {
		inBlock[h] = struct{}{}
	}
	var triggered []model.PendingActivation
	for _, rec := range pending {
		if _, ok := inBlock[rec.TriggerTx]; ok {
			triggered = append(triggered, rec)
		}
	}
	if len(triggered) == 0 {
		return res, nil
	}

	ids := make([]int64, 0, 2*len(triggered))
	seen := make(map[int64]bool, 2*len(triggered))
	for _, t := range triggered {
		for _, id := range []int64{t.ParentA, t.ParentB} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	parents, err := p.store.EntitiesByIDs(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("block %s: %w", header.Hash, err)
	}

	for _, t := range triggered {
		activated, err := p.activate(ctx, header, t, parents)
		if err != nil {
			res.Failures = append(res.Failures, RecordFailure{PendingID: t.ID, Err: err})
			p.logger.Error("activation failed",
				zap.Int64("pending_id", t.ID),
				zap.Stringer("tx_hash", t.TriggerTx),
				zap.Stringer("block_hash", header.Hash),
				zap.Error(err),
			)
			continue
		}
		res.Activated = append(res.Activated, activated)
	}

	p.metrics.Activation("activated", len(res.Activated))
	p.metrics.Activation("failed", len(res.Failures))
	p.logger.Info("block processed",
		zap.Stringer("block_hash", header.Hash),
		zap.Int32("height", header.Height),
		zap.Int("activated", len(res.Activated)),
		zap.Int("failed", len(res.Failures)),
	)
	return res, nil
}

func (p *Processor) activate(ctx context.Context, header model.Header, pending model.PendingActivation, parents map[int64]model.Entity) (model.ActivatedEntity, error) {
	a, ok := parents[pending.ParentA]
	if !ok {
		return model.ActivatedEntity{}, fmt.Errorf("%w: parent %d missing", model.ErrConsistency, pending.ParentA)
	}
	b, ok := parents[pending.ParentB]
	if !ok {
		return model.ActivatedEntity{}, fmt.Errorf("%w: parent %d missing", model.ErrConsistency, pending.ParentB)
	}

	seed := p.combiner.Seed(header.Hash, pending.TriggerTx)
	activated := model.ActivatedEntity{
		PendingID:  pending.ID,
		ParentA:    pending.ParentA,
		ParentB:    pending.ParentB,
		TriggerTx:  pending.TriggerTx,
		BlockHash:  header.Hash,
		Seed:       seed,
		Attributes: p.combiner.Combine(a.Attributes, b.Attributes, seed),
	}
	if err := p.store.AddActivatedEntity(ctx, activated); err != nil {
		return model.ActivatedEntity{}, err
	}
	return activated, nil
}
