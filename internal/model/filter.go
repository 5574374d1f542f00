package model

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// FilterKind selects how a TxFilter restricts a source query.
type FilterKind int

const (
	FilterTxHash FilterKind = iota + 1
	FilterTokenID
	FilterAddress
	FilterExchange
	FilterMinHeight
	FilterExcludeHashes
	FilterLimit
)

func (k FilterKind) String() string {
	switch k {
	case FilterTxHash:
		return "tx_hash"
	case FilterTokenID:
		return "token_id"
	case FilterAddress:
		return "address"
	case FilterExchange:
		return "exchange"
	case FilterMinHeight:
		return "min_height"
	case FilterExcludeHashes:
		return "exclude"
	case FilterLimit:
		return "limit"
	default:
		return fmt.Sprintf("filter(%d)", int(k))
	}
}

// TxFilter is one clause of a source query. All clauses of a filter set must hold.
type TxFilter struct {
	Kind    FilterKind
	Hash    chainhash.Hash
	Address Address
	Height  int32
	Hashes  []chainhash.Hash
	Limit   int
}

func TxHashFilter(hash chainhash.Hash) TxFilter { return TxFilter{Kind: FilterTxHash, Hash: hash} }
func TokenIDFilter(id chainhash.Hash) TxFilter  { return TxFilter{Kind: FilterTokenID, Hash: id} }
func AddressFilter(addr Address) TxFilter       { return TxFilter{Kind: FilterAddress, Address: addr} }
func ExchangeFilter() TxFilter                  { return TxFilter{Kind: FilterExchange} }
func MinHeightFilter(height int32) TxFilter     { return TxFilter{Kind: FilterMinHeight, Height: height} }
func LimitFilter(limit int) TxFilter            { return TxFilter{Kind: FilterLimit, Limit: limit} }
func ExcludeFilter(hashes []chainhash.Hash) TxFilter {
	return TxFilter{Kind: FilterExcludeHashes, Hashes: hashes}
}

func (f TxFilter) String() string {
	switch f.Kind {
	case FilterTxHash, FilterTokenID:
		return fmt.Sprintf("%s=%s", f.Kind, f.Hash)
	case FilterAddress:
		return fmt.Sprintf("%s=%s", f.Kind, f.Address)
	case FilterMinHeight:
		return fmt.Sprintf("%s=%d", f.Kind, f.Height)
	case FilterExcludeHashes:
		return fmt.Sprintf("%s=%d", f.Kind, len(f.Hashes))
	case FilterLimit:
		return fmt.Sprintf("%s=%d", f.Kind, f.Limit)
	default:
		return f.Kind.String()
	}
}

// FilterStrings renders a filter set for logging.
func FilterStrings(filters []TxFilter) []string {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		out = append(out, f.String())
	}
	return out
}
