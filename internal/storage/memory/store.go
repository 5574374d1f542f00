// Package memory is an in-process Storage used by tests and by the replay command.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"slpdexdb/internal/model"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

// Store keeps every record in maps behind one mutex. Writes are idempotent upserts.
type Store struct {
	mu sync.RWMutex

	txs         map[chainhash.Hash]model.Tx
	tokens      map[chainhash.Hash]model.Token
	checkpoints map[string]model.Checkpoint
	headers     map[chainhash.Hash]model.Header
	tip         *model.Header
	pending     map[int64]model.PendingActivation
	resolved    map[int64]bool
	entities    map[int64]model.Entity
	activated   map[int64]model.ActivatedEntity
	utxos       map[model.Address][]model.OutPoint
	exchange    []model.OutPoint
}

func NewStore() *Store {
	return &Store{
		txs:         make(map[chainhash.Hash]model.Tx),
		tokens:      make(map[chainhash.Hash]model.Token),
		checkpoints: make(map[string]model.Checkpoint),
		headers:     make(map[chainhash.Hash]model.Header),
		pending:     make(map[int64]model.PendingActivation),
		resolved:    make(map[int64]bool),
		entities:    make(map[int64]model.Entity),
		activated:   make(map[int64]model.ActivatedEntity),
		utxos:       make(map[model.Address][]model.OutPoint),
	}
}

func (s *Store) AddTokens(_ context.Context, tokens []model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range tokens {
		s.tokens[token.ID] = token
	}
	return nil
}

func (s *Store) Tokens(_ context.Context, ids []chainhash.Hash) ([]model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Token
	seen := make(map[chainhash.Hash]bool, len(ids))
	for _, id := range ids {
		if token, ok := s.tokens[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

// TokenCount returns the number of stored token definitions.
func (s *Store) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *Store) AddTxHistory(_ context.Context, history *model.TxHistory) error {
	if history.Len() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range history.Txs {
		s.txs[tx.Hash] = tx
	}
	return nil
}

// Tx returns a stored transaction.
func (s *Store) Tx(hash chainhash.Hash) (model.Tx, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[hash]
	return tx, ok
}

// TxCount returns the number of stored transactions.
func (s *Store) TxCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}

func (s *Store) TokenOutputs(_ context.Context, outpoints []model.OutPoint) (map[model.OutPoint]model.TokenAmount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.OutPoint]model.TokenAmount)
	for _, op := range outpoints {
		tx, ok := s.txs[op.Hash]
		if !ok || !tx.Type.IsSLP() || int(op.Index) >= len(tx.Outputs) {
			continue
		}
		if token := tx.Outputs[op.Index].Token; token != nil {
			out[op] = *token
		}
	}
	return out, nil
}

func (s *Store) LastUpdate(_ context.Context, subject model.Subject) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[subject.Key()]
	if !ok {
		return model.InitialCheckpoint(subject), false, nil
	}
	return cp, true, nil
}

func (s *Store) AddUpdateHistory(_ context.Context, cp model.Checkpoint) error {
	if err := cp.Subject.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hashes := make([]chainhash.Hash, len(cp.LastHashes))
	copy(hashes, cp.LastHashes)
	cp.LastHashes = hashes
	s.checkpoints[cp.Subject.Key()] = cp
	return nil
}

func (s *Store) HeaderTip(_ context.Context) (model.Header, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tip == nil {
		return model.Header{}, false, nil
	}
	return *s.tip, true, nil
}

func (s *Store) AddHeader(_ context.Context, header model.Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[header.Hash] = header
	if s.tip == nil || header.Height > s.tip.Height {
		h := header
		s.tip = &h
	}
	return nil
}

func (s *Store) UpdateUTXOSet(_ context.Context, addr model.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spent := s.spentLocked()
	var utxos []model.OutPoint
	for hash, tx := range s.txs {
		for vout, output := range tx.Outputs {
			op := model.OutPoint{Hash: hash, Index: uint32(vout)}
			if paid, ok := output.Output.AddressOf(); ok && paid == addr && !spent[op] {
				utxos = append(utxos, op)
			}
		}
	}
	sortOutPoints(utxos)
	s.utxos[addr] = utxos
	return nil
}

func (s *Store) UpdateExchangeUTXOSet(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spent := s.spentLocked()
	var utxos []model.OutPoint
	for hash, tx := range s.txs {
		if len(tx.Outputs) == 0 || !slp.HasPrefix(tx.Outputs[0].Output.Script, slp.ExchangeLokadID) {
			continue
		}
		for vout, output := range tx.Outputs {
			op := model.OutPoint{Hash: hash, Index: uint32(vout)}
			if _, ok := output.Output.AddressOf(); ok && !spent[op] {
				utxos = append(utxos, op)
			}
		}
	}
	sortOutPoints(utxos)
	s.exchange = utxos
	return nil
}

// UTXOs returns the last computed unspent outputs of addr.
func (s *Store) UTXOs(addr model.Address) []model.OutPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.OutPoint(nil), s.utxos[addr]...)
}

// ExchangeUTXOs returns the last computed unspent exchange offer outputs.
func (s *Store) ExchangeUTXOs() []model.OutPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.OutPoint(nil), s.exchange...)
}

func (s *Store) spentLocked() map[model.OutPoint]bool {
	spent := make(map[model.OutPoint]bool)
	for _, tx := range s.txs {
		for _, input := range tx.Inputs {
			spent[model.OutPoint{Hash: input.PrevHash, Index: input.PrevIndex}] = true
		}
	}
	return spent
}

func sortOutPoints(ops []model.OutPoint) {
	sort.Slice(ops, func(i, j int) bool {
		if c := bytes.Compare(ops[i].Hash[:], ops[j].Hash[:]); c != 0 {
			return c < 0
		}
		return ops[i].Index < ops[j].Index
	})
}

func (s *Store) PendingActivations(_ context.Context) ([]model.PendingActivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PendingActivation, 0, len(s.pending))
	for id, p := range s.pending {
		if !s.resolved[id] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddPendingActivation(_ context.Context, p model.PendingActivation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[p.ID]; !ok {
		s.pending[p.ID] = p
	}
	return nil
}

func (s *Store) EntitiesByIDs(_ context.Context, ids []int64) (map[int64]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]model.Entity, len(ids))
	for _, id := range ids {
		if e, ok := s.entities[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (s *Store) AddEntity(_ context.Context, e model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	return nil
}

func (s *Store) AddActivatedEntity(_ context.Context, a model.ActivatedEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated[a.PendingID] = a
	s.resolved[a.PendingID] = true
	return nil
}

// Activated returns the stored outcome of a pending activation.
func (s *Store) Activated(pendingID int64) (model.ActivatedEntity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activated[pendingID]
	return a, ok
}

// ActivatedCount returns the number of stored activation outcomes.
func (s *Store) ActivatedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activated)
}
