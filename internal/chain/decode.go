package chain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"

	"slpdexdb/internal/model"
)

// PrevOut is the spent output of an input, when the source resolves it.
type PrevOut struct {
	Script []byte
	Value  int64
}

// DecodeTx deserializes a raw transaction into an entry. prevOuts, when not nil, is indexed
// like the transaction's inputs.
func DecodeTx(raw []byte, height int32, confirmed bool, prevOuts []PrevOut) (model.TxEntry, error) {
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return model.TxEntry{}, fmt.Errorf("deserialize tx: %w", err)
	}
	if prevOuts != nil && len(prevOuts) != len(msg.TxIn) {
		return model.TxEntry{}, fmt.Errorf("tx %s: %d prev outputs for %d inputs", msg.TxHash(), len(prevOuts), len(msg.TxIn))
	}

	entry := model.TxEntry{
		Hash:      msg.TxHash(),
		Height:    height,
		Confirmed: confirmed,
		Inputs:    make([]model.InputEntry, 0, len(msg.TxIn)),
		Outputs:   make([]model.OutputEntry, 0, len(msg.TxOut)),
	}
	for i, in := range msg.TxIn {
		input := model.InputEntry{
			PrevHash:  in.PreviousOutPoint.Hash,
			PrevIndex: in.PreviousOutPoint.Index,
			SigScript: in.SignatureScript,
		}
		if prevOuts != nil {
			input.PrevScript = prevOuts[i].Script
			input.Value = prevOuts[i].Value
		}
		entry.Inputs = append(entry.Inputs, input)
	}
	for _, out := range msg.TxOut {
		entry.Outputs = append(entry.Outputs, model.OutputEntry{Script: out.PkScript, Value: out.Value})
	}
	return entry, nil
}

// DecodeHeader deserializes an 80-byte block header.
func DecodeHeader(raw []byte, height int32) (model.Header, error) {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return model.Header{}, fmt.Errorf("deserialize header: %w", err)
	}
	return model.Header{
		Hash:     header.BlockHash(),
		PrevHash: header.PrevBlock,
		Height:   height,
		Time:     header.Timestamp.UTC().Truncate(time.Second),
	}, nil
}
