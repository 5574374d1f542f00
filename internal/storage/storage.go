package storage

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"slpdexdb/internal/model"
)

// Reader is the read-only view handed to notification listeners.
type Reader interface {
	LastUpdate(ctx context.Context, subject model.Subject) (model.Checkpoint, bool, error)
	HeaderTip(ctx context.Context) (model.Header, bool, error)
	Tokens(ctx context.Context, ids []chainhash.Hash) ([]model.Token, error)
	TokenOutputs(ctx context.Context, outpoints []model.OutPoint) (map[model.OutPoint]model.TokenAmount, error)
	EntitiesByIDs(ctx context.Context, ids []int64) (map[int64]model.Entity, error)
}

// SyncStore is what the resync loop persists through. Every write is an idempotent upsert.
type SyncStore interface {
	HeaderTip(ctx context.Context) (model.Header, bool, error)
	LastUpdate(ctx context.Context, subject model.Subject) (model.Checkpoint, bool, error)
	AddUpdateHistory(ctx context.Context, checkpoint model.Checkpoint) error
	AddTokens(ctx context.Context, tokens []model.Token) error
	AddTxHistory(ctx context.Context, history *model.TxHistory) error
	UpdateUTXOSet(ctx context.Context, addr model.Address) error
	UpdateExchangeUTXOSet(ctx context.Context) error
}

// ActivationStore is what the block activation processor reads and writes.
type ActivationStore interface {
	AddHeader(ctx context.Context, header model.Header) error
	PendingActivations(ctx context.Context) ([]model.PendingActivation, error)
	AddPendingActivation(ctx context.Context, pending model.PendingActivation) error
	EntitiesByIDs(ctx context.Context, ids []int64) (map[int64]model.Entity, error)
	AddEntity(ctx context.Context, entity model.Entity) error
	AddActivatedEntity(ctx context.Context, activated model.ActivatedEntity) error
}

// Storage is the full persistence surface of the sync core.
type Storage interface {
	Reader
	SyncStore
	ActivationStore
}
