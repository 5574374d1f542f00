package model

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Checkpoint is the persisted cursor of a subject. Every item with height below LastHeight, and
// every item at LastHeight whose hash is in LastHashes, has been folded into it.
type Checkpoint struct {
	Subject    Subject
	LastHeight int32
	LastHashes []chainhash.Hash
	TipHeight  int32
	Timestamp  time.Time
}

// Progress is the cursor position of one synchronized item.
type Progress struct {
	Height int32
	Hash   chainhash.Hash
}

// InitialCheckpoint is the cursor of a subject without prior progress.
func InitialCheckpoint(subject Subject) Checkpoint {
	return Checkpoint{Subject: subject}
}

// IsInitial reports whether nothing has been folded into the checkpoint.
func (c Checkpoint) IsInitial() bool {
	return c.LastHeight == 0 && len(c.LastHashes) == 0
}

// NextFilters derives the query for the next page after this checkpoint.
func (c Checkpoint) NextFilters(pageSize int) ([]TxFilter, error) {
	filters := make([]TxFilter, 0, 4)
	switch c.Subject.Type {
	case SubjectToken:
	case SubjectExchangeOffers:
		filters = append(filters, ExchangeFilter())
	case SubjectAddressHistory:
		addr, err := AddressFromBytes(c.Subject.ScopeKey)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", c.Subject, err)
		}
		filters = append(filters, AddressFilter(addr))
	default:
		return nil, fmt.Errorf("unknown subject type %d", int(c.Subject.Type))
	}

	filters = append(filters, MinHeightFilter(c.LastHeight))
	if len(c.LastHashes) > 0 {
		hashes := make([]chainhash.Hash, len(c.LastHashes))
		copy(hashes, c.LastHashes)
		filters = append(filters, ExcludeFilter(hashes))
	}
	if pageSize > 0 {
		filters = append(filters, LimitFilter(pageSize))
	}
	return filters, nil
}

// Advance folds a batch into the checkpoint and stamps it with the tip height and time
// captured at the start of the iteration.
func (c Checkpoint) Advance(items []Progress, tipHeight int32, now time.Time) Checkpoint {
	next := Checkpoint{
		Subject:    c.Subject,
		LastHeight: c.LastHeight,
		LastHashes: c.LastHashes,
		TipHeight:  tipHeight,
		Timestamp:  now,
	}
	if len(items) == 0 {
		return next
	}

	maxHeight := items[0].Height
	for _, item := range items[1:] {
		if item.Height > maxHeight {
			maxHeight = item.Height
		}
	}
	if maxHeight < c.LastHeight {
		return next
	}

	var hashes []chainhash.Hash
	if maxHeight == c.LastHeight {
		hashes = append(hashes, c.LastHashes...)
	}
	for _, item := range items {
		if item.Height == maxHeight {
			hashes = append(hashes, item.Hash)
		}
	}

	next.LastHeight = maxHeight
	next.LastHashes = sortedUniqueHashes(hashes)
	return next
}

// Folded reports whether an item at this position is already covered by the checkpoint.
func (c Checkpoint) Folded(p Progress) bool {
	if p.Height < c.LastHeight {
		return true
	}
	if p.Height > c.LastHeight {
		return false
	}
	for _, hash := range c.LastHashes {
		if hash == p.Hash {
			return true
		}
	}
	return false
}

// HistoryProgress returns the cursor positions of a transaction batch.
func HistoryProgress(history *TxHistory) []Progress {
	out := make([]Progress, 0, history.Len())
	for i := range history.Txs {
		out = append(out, Progress{Height: history.Txs[i].Height, Hash: history.Txs[i].Hash})
	}
	return out
}

// TokenProgress returns the cursor positions of a token batch.
func TokenProgress(tokens []Token) []Progress {
	out := make([]Progress, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, Progress{Height: token.Height, Hash: token.ID})
	}
	return out
}

func sortedUniqueHashes(hashes []chainhash.Hash) []chainhash.Hash {
	if len(hashes) == 0 {
		return nil
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	out := hashes[:1]
	for _, hash := range hashes[1:] {
		if hash != out[len(out)-1] {
			out = append(out, hash)
		}
	}
	return out
}
