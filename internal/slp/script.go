package slp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"slpdexdb/internal/model"
)

var (
	// LokadID prefixes every SLP OP_RETURN payload.
	LokadID = []byte("SLP\x00")
	// ExchangeLokadID prefixes exchange offer payloads.
	ExchangeLokadID = []byte("EXCH")

	errNotSLP = errors.New("not an slp payload")
)

const (
	maxSendOutputs = 19
	amountSize     = 8
)

// ClassifyScript decodes a locking script into an OutputType.
func ClassifyScript(script []byte) model.OutputType {
	out := model.OutputType{Kind: model.OutputUnknown, Script: script}
	if len(script) > 0 && script[0] == txscript.OP_RETURN {
		out.Kind = model.OutputOpReturn
		return out
	}

	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		// OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG
		out.Kind = model.OutputAddress
		out.Address.Kind = model.AddressP2PKH
		copy(out.Address.Hash[:], script[3:23])
	case txscript.ScriptHashTy:
		// OP_HASH160 <20> OP_EQUAL
		out.Kind = model.OutputAddress
		out.Address.Kind = model.AddressP2SH
		copy(out.Address.Hash[:], script[2:22])
	}
	return out
}

// AddressFromSigScript recovers the spender of a P2PKH input from its unlocking script.
func AddressFromSigScript(sigScript []byte) (model.Address, bool) {
	pushes, err := pushes(sigScript)
	if err != nil || len(pushes) != 2 {
		return model.Address{}, false
	}
	pubKey := pushes[1]
	if len(pubKey) != 33 && len(pubKey) != 65 {
		return model.Address{}, false
	}
	var addr model.Address
	addr.Kind = model.AddressP2PKH
	copy(addr.Hash[:], btcutil.Hash160(pubKey))
	return addr, true
}

// HasPrefix reports whether an OP_RETURN script starts with the given lokad id push.
func HasPrefix(script []byte, lokad []byte) bool {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return false
	}
	chunks, err := pushes(script[1:])
	if err != nil || len(chunks) == 0 {
		return false
	}
	return bytes.Equal(chunks[0], lokad)
}

// ParsePayload parses an SLP OP_RETURN script. It returns errNotSLP for scripts without the
// SLP lokad id, and an ErrValidation-wrapped error for malformed SLP payloads.
func ParsePayload(script []byte, tokenTypes []uint8) (*model.SLPPayload, error) {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, errNotSLP
	}
	chunks, err := pushes(script[1:])
	if err != nil || len(chunks) == 0 || !bytes.Equal(chunks[0], LokadID) {
		return nil, errNotSLP
	}
	if len(chunks) < 3 {
		return nil, invalid("too few pushes: %d", len(chunks))
	}

	tokenType, err := parseTokenType(chunks[1], tokenTypes)
	if err != nil {
		return nil, err
	}

	payload := &model.SLPPayload{TokenType: tokenType, MintBatonVout: model.NoBaton}
	switch string(chunks[2]) {
	case "GENESIS":
		payload.Kind = model.SLPGenesis
		err = parseGenesis(payload, chunks[3:])
	case "MINT":
		payload.Kind = model.SLPMint
		err = parseMint(payload, chunks[3:])
	case "SEND":
		payload.Kind = model.SLPSend
		err = parseSend(payload, chunks[3:])
	default:
		return nil, invalid("unknown transaction type %q", chunks[2])
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func parseTokenType(chunk []byte, allowed []uint8) (uint8, error) {
	if len(chunk) != 1 && len(chunk) != 2 {
		return 0, invalid("token type length %d", len(chunk))
	}
	value := uint16(chunk[len(chunk)-1])
	if len(chunk) == 2 {
		value |= uint16(chunk[0]) << 8
	}
	for _, t := range allowed {
		if value == uint16(t) {
			return t, nil
		}
	}
	return 0, invalid("unsupported token type %d", value)
}

func parseGenesis(p *model.SLPPayload, chunks [][]byte) error {
	if len(chunks) != 7 {
		return invalid("genesis expects 7 fields, got %d", len(chunks))
	}
	p.Ticker = string(chunks[0])
	p.Name = string(chunks[1])
	p.DocumentURI = string(chunks[2])
	if len(chunks[3]) != 0 && len(chunks[3]) != chainhash.HashSize {
		return invalid("document hash length %d", len(chunks[3]))
	}
	p.DocumentHash = chunks[3]
	if len(chunks[4]) != 1 || chunks[4][0] > model.MaxDecimals {
		return invalid("bad decimals")
	}
	p.Decimals = chunks[4][0]
	baton, err := parseBaton(chunks[5])
	if err != nil {
		return err
	}
	p.MintBatonVout = baton
	qty, err := parseAmount(chunks[6])
	if err != nil {
		return err
	}
	p.Amounts = []uint64{qty}
	return nil
}

func parseMint(p *model.SLPPayload, chunks [][]byte) error {
	if len(chunks) != 3 {
		return invalid("mint expects 3 fields, got %d", len(chunks))
	}
	id, err := parseTokenID(chunks[0])
	if err != nil {
		return err
	}
	p.TokenID = id
	baton, err := parseBaton(chunks[1])
	if err != nil {
		return err
	}
	p.MintBatonVout = baton
	qty, err := parseAmount(chunks[2])
	if err != nil {
		return err
	}
	p.Amounts = []uint64{qty}
	return nil
}

func parseSend(p *model.SLPPayload, chunks [][]byte) error {
	if len(chunks) < 2 || len(chunks) > maxSendOutputs+1 {
		return invalid("send expects 1..%d amounts, got %d", maxSendOutputs, len(chunks)-1)
	}
	id, err := parseTokenID(chunks[0])
	if err != nil {
		return err
	}
	p.TokenID = id
	p.Amounts = make([]uint64, 0, len(chunks)-1)
	for _, chunk := range chunks[1:] {
		amount, err := parseAmount(chunk)
		if err != nil {
			return err
		}
		p.Amounts = append(p.Amounts, amount)
	}
	return nil
}

// parseTokenID converts the big-endian id of the payload into chainhash byte order.
func parseTokenID(chunk []byte) (chainhash.Hash, error) {
	if len(chunk) != chainhash.HashSize {
		return chainhash.Hash{}, invalid("token id length %d", len(chunk))
	}
	var id chainhash.Hash
	for i := range chunk {
		id[i] = chunk[chainhash.HashSize-1-i]
	}
	return id, nil
}

func parseBaton(chunk []byte) (int, error) {
	switch len(chunk) {
	case 0:
		return model.NoBaton, nil
	case 1:
		if chunk[0] < 2 {
			return 0, invalid("mint baton vout %d", chunk[0])
		}
		return int(chunk[0]), nil
	default:
		return 0, invalid("mint baton length %d", len(chunk))
	}
}

func parseAmount(chunk []byte) (uint64, error) {
	if len(chunk) != amountSize {
		return 0, invalid("amount length %d", len(chunk))
	}
	return binary.BigEndian.Uint64(chunk), nil
}

// pushes returns the data pushes of a script; any non-push opcode is an error.
func pushes(script []byte) ([][]byte, error) {
	var out [][]byte
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() > txscript.OP_PUSHDATA4 {
			return nil, fmt.Errorf("non-push opcode 0x%02x", tokenizer.Opcode())
		}
		out = append(out, tokenizer.Data())
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, fmt.Sprintf(format, args...))
}
