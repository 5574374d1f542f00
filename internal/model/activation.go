package model

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AttributeSize is the fixed size of an entity attribute payload.
const AttributeSize = 48

// Attributes is the attribute payload of an entity.
type Attributes [AttributeSize]byte

// Seed is the block-derived entropy for an activation.
type Seed [32]byte

// Header is a confirmed block header.
type Header struct {
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	Height   int32
	Time     time.Time
}

// PendingActivation links two parent entities to the transaction that requested their
// combination. It resolves once that transaction confirms.
type PendingActivation struct {
	ID        int64
	ParentA   int64
	ParentB   int64
	TriggerTx chainhash.Hash
}

// Entity is a stored entity with its attribute payload.
type Entity struct {
	ID         int64
	Attributes Attributes
	TxHash     chainhash.Hash
}

// ActivatedEntity is the outcome of resolving a pending activation.
type ActivatedEntity struct {
	PendingID  int64
	ParentA    int64
	ParentB    int64
	TriggerTx  chainhash.Hash
	BlockHash  chainhash.Hash
	Seed       Seed
	Attributes Attributes
}
