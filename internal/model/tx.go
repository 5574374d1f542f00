package model

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// OutputKind classifies a locking script.
type OutputKind int

const (
	OutputUnknown OutputKind = iota
	OutputAddress
	OutputOpReturn
)

// OutputType is the decoded form of a locking script.
type OutputType struct {
	Kind    OutputKind
	Address Address
	Script  []byte
}

// AddressOf returns the address an output pays to, if it pays to one.
func (o OutputType) AddressOf() (Address, bool) {
	if o.Kind != OutputAddress {
		return Address{}, false
	}
	return o.Address, true
}

// TokenAmount is the SLP value carried by an output.
type TokenAmount struct {
	TokenID chainhash.Hash
	Amount  uint64
	Baton   bool
}

// Input spends a prior output.
type Input struct {
	PrevHash  chainhash.Hash
	PrevIndex uint32
	Output    OutputType
	Value     int64
	Token     *TokenAmount
}

// Output is a newly created output.
type Output struct {
	Output OutputType
	Value  int64
	Token  *TokenAmount
}

// TxKind tags a transaction as plain or SLP.
type TxKind int

const (
	TxDefault TxKind = iota
	TxSLP
)

func (k TxKind) String() string {
	if k == TxSLP {
		return "slp"
	}
	return "default"
}

// TxType is the protocol classification of a transaction.
type TxType struct {
	Kind TxKind
	SLP  *SLPPayload
}

// IsSLP reports whether the transaction currently carries an SLP classification.
func (t TxType) IsSLP() bool {
	return t.Kind == TxSLP && t.SLP != nil
}

// Tx is a classified ledger transaction.
type Tx struct {
	Hash      chainhash.Hash
	Height    int32
	Confirmed bool
	Inputs    []Input
	Outputs   []Output
	Type      TxType
}

// Downgrade drops the SLP classification and the token values it assigned.
func (tx *Tx) Downgrade() {
	tx.Type = TxType{Kind: TxDefault}
	for i := range tx.Outputs {
		tx.Outputs[i].Token = nil
	}
}

// Addresses returns every address touched by an input or output, in order, with duplicates.
func (tx *Tx) Addresses() []Address {
	out := make([]Address, 0, len(tx.Inputs)+len(tx.Outputs))
	for _, output := range tx.Outputs {
		if addr, ok := output.Output.AddressOf(); ok {
			out = append(out, addr)
		}
	}
	for _, input := range tx.Inputs {
		if addr, ok := input.Output.AddressOf(); ok {
			out = append(out, addr)
		}
	}
	return out
}

// TxHistory is an ordered batch of transactions observed at Timestamp.
type TxHistory struct {
	Txs       []Tx
	Timestamp time.Time
}

// SLPCount counts transactions still classified as SLP.
func (h *TxHistory) SLPCount() int {
	count := 0
	for i := range h.Txs {
		if h.Txs[i].Type.IsSLP() {
			count++
		}
	}
	return count
}

// Addresses returns every address touched by the batch.
func (h *TxHistory) Addresses() []Address {
	var out []Address
	for i := range h.Txs {
		out = append(out, h.Txs[i].Addresses()...)
	}
	return out
}

// Hashes returns the transaction hashes of the batch in order.
func (h *TxHistory) Hashes() []chainhash.Hash {
	out := make([]chainhash.Hash, 0, len(h.Txs))
	for i := range h.Txs {
		out = append(out, h.Txs[i].Hash)
	}
	return out
}

// Len returns the number of transactions.
func (h *TxHistory) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Txs)
}

// TxEntry is a raw transaction as returned by the ledger source, before classification.
type TxEntry struct {
	Hash      chainhash.Hash
	Height    int32
	Confirmed bool
	Inputs    []InputEntry
	Outputs   []OutputEntry
}

// InputEntry references a prior output. PrevScript is the spent locking script when the source
// knows it; otherwise the address is recovered from SigScript where possible.
type InputEntry struct {
	PrevHash   chainhash.Hash
	PrevIndex  uint32
	PrevScript []byte
	SigScript  []byte
	Value      int64
}

// OutputEntry is a raw output.
type OutputEntry struct {
	Script []byte
	Value  int64
}

// OutPoint identifies an output by transaction hash and index.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}
