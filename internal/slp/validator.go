package slp

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"slpdexdb/internal/model"
)

// OutputLookup resolves the token values of previously stored outputs. Outpoints that carry no
// token value are absent from the result.
type OutputLookup interface {
	TokenOutputs(ctx context.Context, outpoints []model.OutPoint) (map[model.OutPoint]model.TokenAmount, error)
}

// Validator runs full SLP validation over a classified batch, downgrading invalid transactions.
type Validator struct {
	lookup OutputLookup
	cache  *lru.Cache
	logger *zap.Logger
}

func NewValidator(cfg Config, lookup OutputLookup, logger *zap.Logger) (*Validator, error) {
	if lookup == nil {
		return nil, fmt.Errorf("output lookup is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create output cache: %w", err)
	}
	return &Validator{lookup: lookup, cache: cache, logger: logger}, nil
}

// tokenSlot is a cached outpoint lookup. Known is false for outpoints without token value.
type tokenSlot struct {
	amount model.TokenAmount
	known  bool
}

// ValidateHistory validates every SLP transaction of the batch in place and returns the number
// of downgraded transactions. Only lookup failures are returned as errors.
func (v *Validator) ValidateHistory(ctx context.Context, history *model.TxHistory) (int, error) {
	if history.SLPCount() == 0 {
		return 0, nil
	}

	index := make(map[chainhash.Hash]int, len(history.Txs))
	for i := range history.Txs {
		index[history.Txs[i].Hash] = i
	}

	prior, err := v.resolvePrior(ctx, history, index)
	if err != nil {
		return 0, err
	}

	run := &validation{history: history, index: index, prior: prior, state: make([]int, len(history.Txs))}
	downgraded := 0
	for i := range history.Txs {
		if !history.Txs[i].Type.IsSLP() {
			continue
		}
		if !run.validate(i) {
			v.logger.Debug("slp transaction invalid", zap.Stringer("tx_hash", history.Txs[i].Hash), zap.String("reason", run.reasons[i]))
			downgraded++
		}
	}
	return downgraded, nil
}

// Remember caches the outputs of a validated batch. Call it only once the batch is stored, so
// later batches never resolve inputs against outputs that failed to persist.
func (v *Validator) Remember(history *model.TxHistory) {
	for i := range history.Txs {
		tx := &history.Txs[i]
		for vout, output := range tx.Outputs {
			op := model.OutPoint{Hash: tx.Hash, Index: uint32(vout)}
			if output.Token != nil {
				v.cache.Add(op, tokenSlot{amount: *output.Token, known: true})
			} else {
				v.cache.Add(op, tokenSlot{})
			}
		}
	}
}

// resolvePrior loads the token values of inputs of SLP transactions that spend outputs created
// outside the batch.
func (v *Validator) resolvePrior(ctx context.Context, history *model.TxHistory, index map[chainhash.Hash]int) (map[model.OutPoint]tokenSlot, error) {
	prior := make(map[model.OutPoint]tokenSlot)
	var missing []model.OutPoint
	for i := range history.Txs {
		tx := &history.Txs[i]
		if !tx.Type.IsSLP() {
			continue
		}
		for _, input := range tx.Inputs {
			if _, inBatch := index[input.PrevHash]; inBatch {
				continue
			}
			op := model.OutPoint{Hash: input.PrevHash, Index: input.PrevIndex}
			if _, seen := prior[op]; seen {
				continue
			}
			if cached, ok := v.cache.Get(op); ok {
				prior[op] = cached.(tokenSlot)
				continue
			}
			prior[op] = tokenSlot{}
			missing = append(missing, op)
		}
	}
	if len(missing) == 0 {
		return prior, nil
	}

	found, err := v.lookup.TokenOutputs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("%w: token outputs: %w", model.ErrStorage, err)
	}
	for _, op := range missing {
		slot := tokenSlot{}
		if amount, ok := found[op]; ok {
			slot = tokenSlot{amount: amount, known: true}
		}
		prior[op] = slot
		v.cache.Add(op, slot)
	}
	return prior, nil
}

const (
	unvisited = iota
	visiting
	done
)

type validation struct {
	history *model.TxHistory
	index   map[chainhash.Hash]int
	prior   map[model.OutPoint]tokenSlot
	state   []int
	valid   map[int]bool
	reasons map[int]string
}

// validate checks transaction i after its in-batch parents. Cycles are invalid.
func (r *validation) validate(i int) bool {
	if r.valid == nil {
		r.valid = make(map[int]bool)
		r.reasons = make(map[int]string)
	}
	switch r.state[i] {
	case done:
		return r.valid[i]
	case visiting:
		return false
	}
	r.state[i] = visiting

	tx := &r.history.Txs[i]
	for _, input := range tx.Inputs {
		if j, ok := r.index[input.PrevHash]; ok && r.history.Txs[j].Type.IsSLP() {
			r.validate(j)
		}
	}

	ok := true
	if tx.Type.IsSLP() {
		r.annotateInputs(tx)
		if reason := checkRules(tx); reason != "" {
			r.reasons[i] = reason
			tx.Downgrade()
			ok = false
		}
	}
	r.state[i] = done
	r.valid[i] = ok
	return ok
}

// annotateInputs records the token value each input spends, from the batch or from storage.
func (r *validation) annotateInputs(tx *model.Tx) {
	for k := range tx.Inputs {
		input := &tx.Inputs[k]
		input.Token = nil
		if j, ok := r.index[input.PrevHash]; ok {
			parent := &r.history.Txs[j]
			if int(input.PrevIndex) < len(parent.Outputs) && parent.Outputs[input.PrevIndex].Token != nil {
				amount := *parent.Outputs[input.PrevIndex].Token
				input.Token = &amount
			}
			continue
		}
		if slot := r.prior[model.OutPoint{Hash: input.PrevHash, Index: input.PrevIndex}]; slot.known {
			amount := slot.amount
			input.Token = &amount
		}
	}
}

// checkRules returns a non-empty reason when the transaction breaks the token rules.
func checkRules(tx *model.Tx) string {
	payload := tx.Type.SLP
	switch payload.Kind {
	case model.SLPGenesis:
		return ""
	case model.SLPMint:
		for _, input := range tx.Inputs {
			if input.Token != nil && input.Token.Baton && input.Token.TokenID == payload.TokenID {
				return ""
			}
		}
		return "mint without baton input"
	case model.SLPSend:
		out, ok := payload.TotalOut()
		if !ok {
			return "output amount overflow"
		}
		var in uint64
		for _, input := range tx.Inputs {
			if input.Token == nil || input.Token.Baton || input.Token.TokenID != payload.TokenID {
				continue
			}
			in += input.Token.Amount
			if in < input.Token.Amount {
				return "input amount overflow"
			}
		}
		if in < out {
			return fmt.Sprintf("inputs %d below outputs %d", in, out)
		}
		return ""
	default:
		return "unknown transaction type"
	}
}
