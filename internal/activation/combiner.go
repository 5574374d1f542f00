package activation

import (
	"math/rand/v2"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"slpdexdb/internal/model"
)

// Combiner derives activation entropy and mixes two attribute payloads with it. Implementations
// must be deterministic.
type Combiner interface {
	Seed(blockHash, txHash chainhash.Hash) model.Seed
	Combine(a, b model.Attributes, seed model.Seed) model.Attributes
}

// mutationRate is the chance, out of 256, that a combined byte is replaced with fresh entropy.
const mutationRate = 8

// DefaultCombiner picks every attribute byte from one parent, occasionally mutating it.
type DefaultCombiner struct{}

// Seed is the double SHA-256 of blockHash followed by txHash.
func (DefaultCombiner) Seed(blockHash, txHash chainhash.Hash) model.Seed {
	buf := make([]byte, 0, 2*chainhash.HashSize)
	buf = append(buf, blockHash[:]...)
	buf = append(buf, txHash[:]...)
	return model.Seed(chainhash.DoubleHashH(buf))
}

func (DefaultCombiner) Combine(a, b model.Attributes, seed model.Seed) model.Attributes {
	rng := rand.New(rand.NewChaCha8(seed))
	var out model.Attributes
	for i := range out {
		r := rng.Uint32()
		if r&1 == 0 {
			out[i] = a[i]
		} else {
			out[i] = b[i]
		}
		if byte(r>>8) < mutationRate {
			out[i] = byte(r >> 16)
		}
	}
	return out
}
