package activation

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slpdexdb/internal/model"
	"slpdexdb/internal/slp/slptest"
	"slpdexdb/internal/storage/memory"
)

func attrs(b byte) model.Attributes {
	var a model.Attributes
	for i := range a {
		a[i] = b
	}
	return a
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.AddEntity(ctx, model.Entity{ID: 1, Attributes: attrs(0x11)}))
	require.NoError(t, store.AddEntity(ctx, model.Entity{ID: 2, Attributes: attrs(0x22)}))
	return store
}

func TestProcessBlockIsolatesMissingParent(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	good := model.PendingActivation{ID: 10, ParentA: 1, ParentB: 2, TriggerTx: slptest.Hash(1)}
	broken := model.PendingActivation{ID: 11, ParentA: 1, ParentB: 99, TriggerTx: slptest.Hash(2)}
	require.NoError(t, store.AddPendingActivation(ctx, good))
	require.NoError(t, store.AddPendingActivation(ctx, broken))

	proc, err := NewProcessor(store, nil, nil, nil)
	require.NoError(t, err)
	header := model.Header{Hash: slptest.Hash(0xb0), Height: 700000}
	res, err := proc.ProcessBlock(ctx, header, []chainhash.Hash{slptest.Hash(1), slptest.Hash(2)})
	require.NoError(t, err)

	require.Len(t, res.Activated, 1)
	assert.Equal(t, int64(10), res.Activated[0].PendingID)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, int64(11), res.Failures[0].PendingID)
	assert.ErrorIs(t, res.Err(), model.ErrConsistency)

	stored, ok := store.Activated(10)
	require.True(t, ok)
	assert.Equal(t, header.Hash, stored.BlockHash)
	_, ok = store.Activated(11)
	assert.False(t, ok)

	pending, err := store.PendingActivations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(11), pending[0].ID)
}

func TestProcessBlockWithoutTriggersIsNoop(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	require.NoError(t, store.AddPendingActivation(ctx, model.PendingActivation{ID: 10, ParentA: 1, ParentB: 2, TriggerTx: slptest.Hash(1)}))
	proc, err := NewProcessor(store, nil, nil, nil)
	require.NoError(t, err)

	res, err := proc.ProcessBlock(ctx, model.Header{Hash: slptest.Hash(0xb0)}, []chainhash.Hash{slptest.Hash(5)})
	require.NoError(t, err)
	assert.Empty(t, res.Activated)
	assert.NoError(t, res.Err())
	assert.Zero(t, store.ActivatedCount())
}

type failingStore struct {
	*memory.Store
}

func (failingStore) AddActivatedEntity(context.Context, model.ActivatedEntity) error {
	return errors.New("write failed")
}

func TestStorageFailureIsRecordScoped(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	require.NoError(t, store.AddPendingActivation(ctx, model.PendingActivation{ID: 10, ParentA: 1, ParentB: 2, TriggerTx: slptest.Hash(1)}))
	require.NoError(t, store.AddPendingActivation(ctx, model.PendingActivation{ID: 11, ParentA: 2, ParentB: 1, TriggerTx: slptest.Hash(2)}))
	proc, err := NewProcessor(failingStore{store}, nil, nil, nil)
	require.NoError(t, err)

	res, err := proc.ProcessBlock(ctx, model.Header{Hash: slptest.Hash(0xb0)}, []chainhash.Hash{slptest.Hash(1), slptest.Hash(2)})
	require.NoError(t, err)
	assert.Len(t, res.Failures, 2)
}

func TestDefaultCombinerIsDeterministic(t *testing.T) {
	c := DefaultCombiner{}
	seed := c.Seed(slptest.Hash(1), slptest.Hash(2))
	assert.Equal(t, seed, c.Seed(slptest.Hash(1), slptest.Hash(2)))
	assert.NotEqual(t, seed, c.Seed(slptest.Hash(2), slptest.Hash(1)))

	a, b := attrs(0x11), attrs(0x22)
	out := c.Combine(a, b, seed)
	assert.Equal(t, out, c.Combine(a, b, seed))

	fromParents := 0
	for _, v := range out {
		if v == 0x11 || v == 0x22 {
			fromParents++
		}
	}
	assert.Greater(t, fromParents, model.AttributeSize/2)
}

// unreadableStore leaves out entities whose stored row could not be decoded.
type unreadableStore struct {
	*memory.Store
	unreadable map[int64]bool
}

func (s unreadableStore) EntitiesByIDs(ctx context.Context, ids []int64) (map[int64]model.Entity, error) {
	out, err := s.Store.EntitiesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id := range s.unreadable {
		delete(out, id)
	}
	return out, nil
}

func TestUnreadableParentFailsOnlyItsRecord(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	require.NoError(t, store.AddEntity(ctx, model.Entity{ID: 3, Attributes: attrs(0x33)}))
	require.NoError(t, store.AddEntity(ctx, model.Entity{ID: 4, Attributes: attrs(0x44)}))
	require.NoError(t, store.AddPendingActivation(ctx, model.PendingActivation{ID: 10, ParentA: 1, ParentB: 2, TriggerTx: slptest.Hash(1)}))
	require.NoError(t, store.AddPendingActivation(ctx, model.PendingActivation{ID: 11, ParentA: 3, ParentB: 4, TriggerTx: slptest.Hash(2)}))

	proc, err := NewProcessor(unreadableStore{Store: store, unreadable: map[int64]bool{3: true}}, nil, nil, nil)
	require.NoError(t, err)
	res, err := proc.ProcessBlock(ctx, model.Header{Hash: slptest.Hash(0xb0)}, []chainhash.Hash{slptest.Hash(1), slptest.Hash(2)})
	require.NoError(t, err)

	require.Len(t, res.Activated, 1)
	assert.Equal(t, int64(10), res.Activated[0].PendingID)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, int64(11), res.Failures[0].PendingID)
	assert.ErrorIs(t, res.Failures[0].Err, model.ErrConsistency)
	_, ok := store.Activated(10)
	assert.True(t, ok)
}
