package model

import (
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// SLPTxKind is the SLP transaction type carried in the OP_RETURN payload.
type SLPTxKind int

const (
	SLPGenesis SLPTxKind = iota + 1
	SLPMint
	SLPSend
)

func (k SLPTxKind) String() string {
	switch k {
	case SLPGenesis:
		return "GENESIS"
	case SLPMint:
		return "MINT"
	case SLPSend:
		return "SEND"
	default:
		return "UNKNOWN"
	}
}

// NoBaton marks a GENESIS or MINT without a mint baton output.
const NoBaton = -1

// SLPPayload is a syntactically valid SLP message.
type SLPPayload struct {
	TokenType     uint8
	Kind          SLPTxKind
	TokenID       chainhash.Hash
	Ticker        string
	Name          string
	DocumentURI   string
	DocumentHash  []byte
	Decimals      uint8
	MintBatonVout int
	// Amounts[i] is the token quantity assigned to output i+1.
	Amounts []uint64
}

// OutputAmount returns the quantity assigned to output vout.
func (p *SLPPayload) OutputAmount(vout int) uint64 {
	if vout < 1 || vout > len(p.Amounts) {
		return 0
	}
	return p.Amounts[vout-1]
}

// TotalOut sums the assigned quantities; ok is false on overflow.
func (p *SLPPayload) TotalOut() (uint64, bool) {
	var total uint64
	for _, amount := range p.Amounts {
		if amount > math.MaxUint64-total {
			return 0, false
		}
		total += amount
	}
	return total, true
}
