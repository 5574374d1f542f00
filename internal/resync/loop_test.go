package resync

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slpdexdb/internal/model"
	"slpdexdb/internal/slp/slptest"
	"slpdexdb/internal/storage/memory"
)

type fakeSource struct {
	mu        sync.Mutex
	txs       []model.TxEntry
	owner     map[chainhash.Hash]model.Address
	exchange  map[chainhash.Hash]bool
	tokens    []model.TokenEntry
	filters   [][]model.TxFilter
	delivered map[chainhash.Hash]int
	failOn    map[int]error
	calls     int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		owner:     make(map[chainhash.Hash]model.Address),
		exchange:  make(map[chainhash.Hash]bool),
		delivered: make(map[chainhash.Hash]int),
		failOn:    make(map[int]error),
	}
}

func (s *fakeSource) addTx(addr model.Address, hash chainhash.Hash, height int32) {
	entry := slptest.Entry(hash, height, model.OutPoint{Hash: slptest.Hash(0xee), Index: uint32(len(s.txs))}, nil, slptest.P2PKH(addr))
	s.txs = append(s.txs, entry)
	s.owner[hash] = addr
}

type item struct {
	pos   model.Progress
	index int
}

// page applies a filter set the way a conforming source does: all clauses hold, results are
// ordered by height then hash, and the limit caps the page.
func page(items []item, filters []model.TxFilter, match func(int, model.TxFilter) bool) []int {
	var out []item
	for _, it := range items {
		ok := true
		for _, f := range filters {
			switch f.Kind {
			case model.FilterMinHeight:
				ok = ok && it.pos.Height >= f.Height
			case model.FilterExcludeHashes:
				for _, h := range f.Hashes {
					if h == it.pos.Hash {
						ok = false
					}
				}
			case model.FilterLimit:
			default:
				ok = ok && match(it.index, f)
			}
		}
		if ok {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].pos.Height != out[j].pos.Height {
			return out[i].pos.Height < out[j].pos.Height
		}
		return bytes.Compare(out[i].pos.Hash[:], out[j].pos.Hash[:]) < 0
	})
	for _, f := range filters {
		if f.Kind == model.FilterLimit && len(out) > f.Limit {
			out = out[:f.Limit]
		}
	}
	idx := make([]int, 0, len(out))
	for _, it := range out {
		idx = append(idx, it.index)
	}
	return idx
}

func (s *fakeSource) call(filters []model.TxFilter) error {
	s.calls++
	s.filters = append(s.filters, filters)
	if err, ok := s.failOn[s.calls]; ok {
		return err
	}
	return nil
}

func (s *fakeSource) RequestTransactions(_ context.Context, filters []model.TxFilter, conf model.Confirmedness) ([]model.TxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(filters); err != nil {
		return nil, err
	}
	var items []item
	for i, tx := range s.txs {
		if tx.Confirmed == (conf == model.Confirmed) {
			items = append(items, item{pos: model.Progress{Height: tx.Height, Hash: tx.Hash}, index: i})
		}
	}
	var out []model.TxEntry
	for _, i := range page(items, filters, func(i int, f model.TxFilter) bool {
		switch f.Kind {
		case model.FilterAddress:
			return s.owner[s.txs[i].Hash] == f.Address
		case model.FilterExchange:
			return s.exchange[s.txs[i].Hash]
		case model.FilterTxHash:
			return s.txs[i].Hash == f.Hash
		}
		return true
	}) {
		s.delivered[s.txs[i].Hash]++
		out = append(out, s.txs[i])
	}
	return out, nil
}

func (s *fakeSource) RequestTokens(_ context.Context, filters []model.TxFilter) ([]model.TokenEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(filters); err != nil {
		return nil, err
	}
	items := make([]item, 0, len(s.tokens))
	for i, token := range s.tokens {
		items = append(items, item{pos: model.Progress{Height: token.Height, Hash: token.ID}, index: i})
	}
	var out []model.TokenEntry
	for _, i := range page(items, filters, func(i int, f model.TxFilter) bool {
		return f.Kind != model.FilterTokenID || s.tokens[i].ID == f.Hash
	}) {
		s.delivered[s.tokens[i].ID]++
		out = append(out, s.tokens[i])
	}
	return out, nil
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestLoop(t *testing.T, source Source, store *memory.Store, pageSize int) *Loop {
	t.Helper()
	loop, err := NewLoop(Config{PageSize: pageSize, RetryBackoff: time.Millisecond}, source, store, nil, nil,
		WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return loop
}

func TestFirstIterationUsesInitialFilters(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	loop := newTestLoop(t, source, memory.NewStore(), 10)

	_, err := loop.Advance(context.Background(), model.AddressSubject(addr, true))
	require.NoError(t, err)

	require.Len(t, source.filters, 1)
	assert.Equal(t, []model.TxFilter{model.AddressFilter(addr), model.MinHeightFilter(0), model.LimitFilter(10)}, source.filters[0])
}

func TestRunSyncsEverythingOnceAcrossSameHeightPages(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	heights := []int32{1, 2, 2, 2, 2, 2, 3}
	for i, h := range heights {
		source.addTx(addr, slptest.Hash(byte(i+1)), h)
	}
	source.addTx(slptest.Addr(2), slptest.Hash(0x50), 2)
	store := memory.NewStore()
	loop := newTestLoop(t, source, store, 2)
	subject := model.AddressSubject(addr, true)

	n, err := loop.Run(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, len(heights), n)
	assert.Equal(t, len(heights), store.TxCount())
	for i := range heights {
		assert.Equal(t, 1, source.delivered[slptest.Hash(byte(i+1))], "tx %d delivered once", i+1)
	}
	assert.Zero(t, source.delivered[slptest.Hash(0x50)])

	cp, ok, err := store.LastUpdate(context.Background(), subject)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(3), cp.LastHeight)
	assert.Equal(t, []chainhash.Hash{slptest.Hash(7)}, cp.LastHashes)
	assert.Equal(t, fixedNow, cp.Timestamp)
}

func TestRunIsIdempotent(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	source.addTx(addr, slptest.Hash(1), 5)
	source.addTx(addr, slptest.Hash(2), 6)
	store := memory.NewStore()
	loop := newTestLoop(t, source, store, 10)
	subject := model.AddressSubject(addr, true)

	_, err := loop.Run(context.Background(), subject)
	require.NoError(t, err)
	before, _, err := store.LastUpdate(context.Background(), subject)
	require.NoError(t, err)

	n, err := loop.Run(context.Background(), subject)
	require.NoError(t, err)
	assert.Zero(t, n)
	after, _, err := store.LastUpdate(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 2, store.TxCount())

	last := source.filters[len(source.filters)-1]
	assert.Contains(t, last, model.MinHeightFilter(6))
	assert.Contains(t, last, model.ExcludeFilter([]chainhash.Hash{slptest.Hash(2)}))
}

func TestEmptySourceWritesNoCheckpoint(t *testing.T) {
	store := memory.NewStore()
	loop := newTestLoop(t, newFakeSource(), store, 10)
	subject := model.Subject{Type: model.SubjectExchangeOffers, Confirmed: true}

	res, err := loop.Advance(context.Background(), subject)
	require.NoError(t, err)
	assert.True(t, res.Done)
	_, ok, err := store.LastUpdate(context.Background(), subject)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnconfirmedStreamAccumulatesExclusions(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	for i := 1; i <= 5; i++ {
		source.addTx(addr, slptest.Hash(byte(i)), 0)
	}
	store := memory.NewStore()
	loop := newTestLoop(t, source, store, 2)

	n, err := loop.Run(context.Background(), model.AddressSubject(addr, false))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	cp, _, err := store.LastUpdate(context.Background(), model.AddressSubject(addr, false))
	require.NoError(t, err)
	assert.Len(t, cp.LastHashes, 5)
}

func TestSourceErrorAbortsAndKeepsCommittedProgress(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	for i := 1; i <= 4; i++ {
		source.addTx(addr, slptest.Hash(byte(i)), int32(i))
	}
	boom := errors.New("node unavailable")
	source.failOn[2] = boom
	store := memory.NewStore()
	loop := newTestLoop(t, source, store, 2)
	subject := model.AddressSubject(addr, true)

	n, err := loop.Run(context.Background(), subject)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, n)
	cp, ok, err := store.LastUpdate(context.Background(), subject)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(2), cp.LastHeight)

	n, err = loop.Run(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, store.TxCount())
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	source.addTx(addr, slptest.Hash(1), 1)
	source.failOn[1] = errors.New("timeout")
	store := memory.NewStore()
	loop, err := NewLoop(Config{PageSize: 10, MaxRetries: 1, RetryBackoff: time.Millisecond}, source, store, nil, nil)
	require.NoError(t, err)

	n, err := loop.Run(context.Background(), model.AddressSubject(addr, true))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResyncAddressUpdatesUTXOSet(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	source.addTx(addr, slptest.Hash(1), 3)
	source.addTx(addr, slptest.Hash(2), 0)
	store := memory.NewStore()
	loop := newTestLoop(t, source, store, 10)

	n, err := loop.ResyncAddress(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []model.OutPoint{{Hash: slptest.Hash(1)}, {Hash: slptest.Hash(2)}}, store.UTXOs(addr))

	_, ok, err := store.LastUpdate(context.Background(), model.AddressSubject(addr, false))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResyncTokensSkipsMalformedButAdvances(t *testing.T) {
	source := newFakeSource()
	source.tokens = []model.TokenEntry{
		{ID: slptest.Hash(1), Height: 10, Ticker: "A", Decimals: 2, InitialQuantity: "100"},
		{ID: slptest.Hash(2), Height: 11, Ticker: "B", Decimals: 42},
		{ID: slptest.Hash(3), Height: 12, Ticker: "C", InitialQuantity: "5"},
	}
	store := memory.NewStore()
	loop := newTestLoop(t, source, store, 2)

	n, err := loop.ResyncTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, store.TokenCount())

	cp, _, err := store.LastUpdate(context.Background(), model.Subject{Type: model.SubjectToken, Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, int32(12), cp.LastHeight)
}

func TestBootstrapStoresTokenAndGenesis(t *testing.T) {
	source := newFakeSource()
	id, err := chainhash.NewHashFromStr(DefaultBootstrapToken)
	require.NoError(t, err)
	source.tokens = []model.TokenEntry{{ID: *id, Height: 600000, Ticker: "PND", InitialQuantity: "1"}}
	source.addTx(slptest.Addr(1), *id, 600000)
	store := memory.NewStore()
	loop := newTestLoop(t, source, store, 10)

	require.NoError(t, loop.Bootstrap(context.Background(), *id))
	assert.Equal(t, 1, store.TokenCount())
	_, ok := store.Tx(*id)
	assert.True(t, ok)
	_, ok, err = store.LastUpdate(context.Background(), model.Subject{Type: model.SubjectToken, Confirmed: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

type flakyStore struct {
	*memory.Store
	historyErr    error
	checkpointErr error
}

func (s *flakyStore) AddTxHistory(ctx context.Context, history *model.TxHistory) error {
	if s.historyErr != nil {
		return s.historyErr
	}
	return s.Store.AddTxHistory(ctx, history)
}

func (s *flakyStore) AddUpdateHistory(ctx context.Context, cp model.Checkpoint) error {
	if s.checkpointErr != nil {
		return s.checkpointErr
	}
	return s.Store.AddUpdateHistory(ctx, cp)
}

func TestPersistFailureLeavesCheckpoint(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	source.addTx(addr, slptest.Hash(1), 1)
	store := &flakyStore{Store: memory.NewStore(), historyErr: errors.New("disk full")}
	loop, err := NewLoop(Config{PageSize: 10}, source, store, nil, nil)
	require.NoError(t, err)
	subject := model.AddressSubject(addr, true)

	_, err = loop.Advance(context.Background(), subject)
	require.Error(t, err)
	_, ok, err := store.LastUpdate(context.Background(), subject)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.TxCount())

	store.historyErr = nil
	n, err := loop.Run(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.TxCount())
}

func TestCheckpointFailureReplaysStoredPage(t *testing.T) {
	source := newFakeSource()
	addr := slptest.Addr(1)
	source.addTx(addr, slptest.Hash(1), 1)
	source.addTx(addr, slptest.Hash(2), 2)
	store := &flakyStore{Store: memory.NewStore(), checkpointErr: errors.New("connection reset")}
	loop, err := NewLoop(Config{PageSize: 10}, source, store, nil, nil)
	require.NoError(t, err)
	subject := model.AddressSubject(addr, true)

	_, err = loop.Advance(context.Background(), subject)
	require.Error(t, err)
	assert.Equal(t, 2, store.TxCount(), "history is committed before the checkpoint")

	store.checkpointErr = nil
	n, err := loop.Run(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.TxCount())
	cp, ok, err := store.LastUpdate(context.Background(), subject)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(2), cp.LastHeight)
}
