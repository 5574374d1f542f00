package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slpdexdb/internal/model"
	"slpdexdb/internal/notify"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/slp/slptest"
	"slpdexdb/internal/storage/memory"
	"slpdexdb/internal/subscribers"
)

type spyStore struct {
	*memory.Store
	adds int
	err  error
}

func (s *spyStore) AddTxHistory(ctx context.Context, history *model.TxHistory) error {
	s.adds++
	if s.err != nil {
		return s.err
	}
	return s.Store.AddTxHistory(ctx, history)
}

type spyNotifier struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (n *spyNotifier) Broadcast(ev *notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

type countingValidator struct {
	inner      Validator
	calls      int
	remembered int
}

func (v *countingValidator) ValidateHistory(ctx context.Context, history *model.TxHistory) (int, error) {
	v.calls++
	return v.inner.ValidateHistory(ctx, history)
}

func (v *countingValidator) Remember(history *model.TxHistory) {
	v.remembered++
	v.inner.Remember(history)
}

type failingValidator struct{}

func (failingValidator) ValidateHistory(context.Context, *model.TxHistory) (int, error) {
	return 0, fmt.Errorf("%w: lookup", model.ErrStorage)
}

func (failingValidator) Remember(*model.TxHistory) {}

type harness struct {
	proc      *Processor
	store     *spyStore
	notifier  *spyNotifier
	validator *countingValidator
	registry  *subscribers.Registry
}

var now = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := &spyStore{Store: memory.NewStore()}
	inner, err := slp.NewValidator(slp.DefaultConfig(), store, nil)
	require.NoError(t, err)
	h := &harness{
		store:     store,
		notifier:  &spyNotifier{},
		validator: &countingValidator{inner: inner},
		registry:  subscribers.NewRegistry(),
	}
	h.proc, err = New(Config{
		Validator: h.validator,
		Store:     store,
		Registry:  h.registry,
		Notifier:  h.notifier,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return h
}

func plainTx(hash byte, addr model.Address) model.TxEntry {
	return slptest.Entry(slptest.Hash(hash), 100, model.OutPoint{Hash: slptest.Hash(0xf0)}, nil, slptest.P2PKH(addr))
}

func TestIrrelevantDefaultBatchIsSkipped(t *testing.T) {
	h := newHarness(t)
	addr1 := slptest.Addr(1)

	outcome, err := h.proc.Process(context.Background(), []model.TxEntry{plainTx(1, addr1)})
	require.NoError(t, err)

	assert.Equal(t, Skipped, outcome)
	assert.Zero(t, h.validator.calls)
	assert.Zero(t, h.store.adds)
	assert.Empty(t, h.notifier.events)
}

func TestDowngradedBatchIsSkippedAfterValidation(t *testing.T) {
	h := newHarness(t)
	unfunded := slptest.Entry(slptest.Hash(2), 100, model.OutPoint{Hash: slptest.Hash(0xf1)}, nil,
		slptest.Send(slptest.Hash(9), 50), slptest.P2PKH(slptest.Addr(1)))

	outcome, err := h.proc.Process(context.Background(), []model.TxEntry{unfunded})
	require.NoError(t, err)

	assert.Equal(t, SkippedAfterValidation, outcome)
	assert.Equal(t, 1, h.validator.calls)
	assert.Zero(t, h.store.adds)
	assert.Empty(t, h.notifier.events)
}

func TestRelevantBatchIsPersistedAndBroadcast(t *testing.T) {
	h := newHarness(t)
	addr := slptest.Addr(1)
	h.registry.Subscribe(addr)

	outcome, err := h.proc.Process(context.Background(), []model.TxEntry{plainTx(1, addr), plainTx(2, slptest.Addr(2))})
	require.NoError(t, err)

	assert.Equal(t, Persisted, outcome)
	assert.Equal(t, 1, h.store.adds)
	assert.Equal(t, 1, h.validator.remembered)
	assert.Equal(t, 2, h.store.TxCount())
	require.Len(t, h.notifier.events, 1)
	ev := h.notifier.events[0]
	assert.Equal(t, now, ev.Now)
	assert.Equal(t, 2, ev.History.Len())
	assert.True(t, ev.IsRelevant(addr))
	assert.False(t, ev.IsRelevant(slptest.Addr(2)))
	assert.Same(t, h.registry, ev.Subscribers)
}

func TestValidSLPBatchIsPersistedWithoutSubscribers(t *testing.T) {
	h := newHarness(t)
	genesis := slptest.Entry(slptest.Hash(3), 100, model.OutPoint{Hash: slptest.Hash(0xf2)}, nil,
		slptest.Genesis("PND", 0, nil, 10), slptest.P2PKH(slptest.Addr(1)))

	outcome, err := h.proc.Process(context.Background(), []model.TxEntry{genesis})
	require.NoError(t, err)

	assert.Equal(t, Persisted, outcome)
	require.Len(t, h.notifier.events, 1)
	assert.Empty(t, h.notifier.events[0].Relevant)
	tx, ok := h.store.Tx(slptest.Hash(3))
	require.True(t, ok)
	assert.True(t, tx.Type.IsSLP())
}

func TestStorageFailureIsReturnedWithoutNotification(t *testing.T) {
	h := newHarness(t)
	h.registry.Subscribe(slptest.Addr(1))
	h.store.err = fmt.Errorf("%w: disk full", model.ErrStorage)

	_, err := h.proc.Process(context.Background(), []model.TxEntry{plainTx(1, slptest.Addr(1))})
	assert.ErrorIs(t, err, model.ErrStorage)
	assert.Empty(t, h.notifier.events)
	assert.Zero(t, h.validator.remembered)
}

func TestUnstoredOutputsDoNotFundLaterBatches(t *testing.T) {
	h := newHarness(t)
	genesisHash := slptest.Hash(3)
	genesis := slptest.Entry(genesisHash, 100, model.OutPoint{Hash: slptest.Hash(0xf2)}, nil,
		slptest.Genesis("PND", 0, nil, 10), slptest.P2PKH(slptest.Addr(1)))
	send := slptest.Entry(slptest.Hash(4), 101, model.OutPoint{Hash: genesisHash, Index: 1}, nil,
		slptest.Send(genesisHash, 10), slptest.P2PKH(slptest.Addr(2)))

	h.store.err = fmt.Errorf("%w: disk full", model.ErrStorage)
	_, err := h.proc.Process(context.Background(), []model.TxEntry{genesis})
	require.ErrorIs(t, err, model.ErrStorage)

	h.store.err = nil
	outcome, err := h.proc.Process(context.Background(), []model.TxEntry{send})
	require.NoError(t, err)
	assert.Equal(t, SkippedAfterValidation, outcome)
	_, ok := h.store.Tx(slptest.Hash(4))
	assert.False(t, ok)
}

func TestValidationLookupFailureAbortsBatch(t *testing.T) {
	h := newHarness(t)
	proc, err := New(Config{Validator: failingValidator{}, Store: h.store, Registry: h.registry, Notifier: h.notifier})
	require.NoError(t, err)
	h.registry.Subscribe(slptest.Addr(1))

	_, err = proc.Process(context.Background(), []model.TxEntry{plainTx(1, slptest.Addr(1))})
	assert.True(t, errors.Is(err, model.ErrStorage))
	assert.Zero(t, h.store.adds)
}

func TestProcessTxsUsesClassifiedBatch(t *testing.T) {
	h := newHarness(t)
	h.registry.Subscribe(slptest.Addr(1))
	tx := slp.NewClassifier(slp.DefaultConfig(), nil).Classify(plainTx(1, slptest.Addr(1)))

	outcome, err := h.proc.ProcessTxs(context.Background(), []model.Tx{tx})
	require.NoError(t, err)
	assert.Equal(t, Persisted, outcome)
}
