package model

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shopspring/decimal"
)

// MaxDecimals is the largest decimals value the token protocol allows.
const MaxDecimals = 9

// TokenEntry is a token listing as returned by the ledger source.
type TokenEntry struct {
	ID              chainhash.Hash
	Height          int32
	Version         int
	Ticker          string
	Name            string
	DocumentURI     string
	DocumentHash    []byte
	Decimals        int
	MintBatonVout   int
	InitialQuantity string
}

// Token is a validated token definition.
type Token struct {
	ID            chainhash.Hash
	Version       int
	Ticker        string
	Name          string
	DocumentURI   string
	DocumentHash  []byte
	Decimals      uint8
	MintBatonVout int
	InitialSupply decimal.Decimal
	Height        int32
}

// TokenFromEntry validates a source entry. InitialQuantity is in base units.
func TokenFromEntry(entry TokenEntry) (Token, error) {
	if entry.Decimals < 0 || entry.Decimals > MaxDecimals {
		return Token{}, fmt.Errorf("token %s: decimals out of range: %d", entry.ID, entry.Decimals)
	}
	if len(entry.DocumentHash) != 0 && len(entry.DocumentHash) != chainhash.HashSize {
		return Token{}, fmt.Errorf("token %s: document hash length %d", entry.ID, len(entry.DocumentHash))
	}
	qty := decimal.Zero
	if entry.InitialQuantity != "" {
		parsed, err := decimal.NewFromString(entry.InitialQuantity)
		if err != nil {
			return Token{}, fmt.Errorf("token %s: initial quantity: %w", entry.ID, err)
		}
		if parsed.IsNegative() || !parsed.Equal(parsed.Truncate(0)) {
			return Token{}, fmt.Errorf("token %s: invalid initial quantity %s", entry.ID, entry.InitialQuantity)
		}
		qty = parsed
	}
	batonVout := entry.MintBatonVout
	if batonVout < 2 {
		batonVout = NoBaton
	}

	return Token{
		ID:            entry.ID,
		Version:       entry.Version,
		Ticker:        entry.Ticker,
		Name:          entry.Name,
		DocumentURI:   entry.DocumentURI,
		DocumentHash:  entry.DocumentHash,
		Decimals:      uint8(entry.Decimals),
		MintBatonVout: batonVout,
		InitialSupply: qty.Shift(-int32(entry.Decimals)),
		Height:        entry.Height,
	}, nil
}

// TokenFromGenesis builds a token definition from a GENESIS transaction.
func TokenFromGenesis(tx *Tx) (Token, bool) {
	if !tx.Type.IsSLP() || tx.Type.SLP.Kind != SLPGenesis {
		return Token{}, false
	}
	payload := tx.Type.SLP
	qty := decimal.NewFromBigInt(new(big.Int).SetUint64(payload.OutputAmount(1)), 0)
	return Token{
		ID:            tx.Hash,
		Version:       int(payload.TokenType),
		Ticker:        payload.Ticker,
		Name:          payload.Name,
		DocumentURI:   payload.DocumentURI,
		DocumentHash:  payload.DocumentHash,
		Decimals:      payload.Decimals,
		MintBatonVout: payload.MintBatonVout,
		InitialSupply: qty.Shift(-int32(payload.Decimals)),
		Height:        tx.Height,
	}, true
}
