// Package slptest builds locking scripts and raw entries for tests.
package slptest

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"slpdexdb/internal/model"
)

// Push encodes chunks as plain data pushes, the way SLP payloads are written.
func Push(chunks ...[]byte) []byte {
	var out []byte
	for _, chunk := range chunks {
		switch {
		case len(chunk) == 0:
			out = append(out, txscript.OP_PUSHDATA1, 0)
		case len(chunk) < txscript.OP_PUSHDATA1:
			out = append(out, byte(len(chunk)))
		default:
			out = append(out, txscript.OP_PUSHDATA1, byte(len(chunk)))
		}
		out = append(out, chunk...)
	}
	return out
}

// OpReturn builds an OP_RETURN script with the given pushes.
func OpReturn(chunks ...[]byte) []byte {
	return append([]byte{txscript.OP_RETURN}, Push(chunks...)...)
}

// P2PKH builds a pay-to-pubkey-hash script for addr.
func P2PKH(addr model.Address) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(addr.Hash[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		panic(err)
	}
	return script
}

// Amount encodes a token quantity.
func Amount(v uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, v)
	return out
}

// TokenIDBytes encodes a token id in payload byte order.
func TokenIDBytes(id chainhash.Hash) []byte {
	out := make([]byte, chainhash.HashSize)
	for i := range id {
		out[i] = id[chainhash.HashSize-1-i]
	}
	return out
}

// Genesis builds a GENESIS payload script.
func Genesis(ticker string, decimals byte, baton []byte, qty uint64) []byte {
	return OpReturn([]byte("SLP\x00"), []byte{1}, []byte("GENESIS"), []byte(ticker), []byte(ticker+" token"), nil, nil, []byte{decimals}, baton, Amount(qty))
}

// Mint builds a MINT payload script.
func Mint(id chainhash.Hash, baton []byte, qty uint64) []byte {
	return OpReturn([]byte("SLP\x00"), []byte{1}, []byte("MINT"), TokenIDBytes(id), baton, Amount(qty))
}

// Send builds a SEND payload script.
func Send(id chainhash.Hash, amounts ...uint64) []byte {
	chunks := [][]byte{[]byte("SLP\x00"), {1}, []byte("SEND"), TokenIDBytes(id)}
	for _, amount := range amounts {
		chunks = append(chunks, Amount(amount))
	}
	return OpReturn(chunks...)
}

// Hash returns a hash whose first byte is n.
func Hash(n byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = n
	return h
}

// Addr returns a P2PKH address whose hash starts with n.
func Addr(n byte) model.Address {
	return model.Address{Kind: model.AddressP2PKH, Hash: [20]byte{n}}
}

// Entry builds a confirmed entry with one input and outputs from scripts, 546 sats each.
func Entry(hash chainhash.Hash, height int32, prev model.OutPoint, prevScript []byte, scripts ...[]byte) model.TxEntry {
	entry := model.TxEntry{
		Hash:      hash,
		Height:    height,
		Confirmed: height > 0,
		Inputs:    []model.InputEntry{{PrevHash: prev.Hash, PrevIndex: prev.Index, PrevScript: prevScript, Value: 1000}},
	}
	for _, script := range scripts {
		value := int64(546)
		if len(script) > 0 && script[0] == txscript.OP_RETURN {
			value = 0
		}
		entry.Outputs = append(entry.Outputs, model.OutputEntry{Script: script, Value: value})
	}
	return entry
}
