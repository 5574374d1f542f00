package chain

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slpdexdb/internal/model"
)

type fakeNode struct {
	txs         []rpcTx
	tokens      []rpcToken
	blocks      []rpcBlock
	lastFilters []rpcFilter
	lastConf    string
}

func (n *fakeNode) RequestTransactions(filters []rpcFilter, conf string) ([]rpcTx, error) {
	n.lastFilters = filters
	n.lastConf = conf
	return n.txs, nil
}

func (n *fakeNode) RequestTokens(filters []rpcFilter) ([]rpcToken, error) {
	n.lastFilters = filters
	return n.tokens, nil
}

func (n *fakeNode) NewBlocks(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		for _, b := range n.blocks {
			_ = notifier.Notify(sub.ID, b)
		}
	}()
	return sub, nil
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName(namespace, node))
	client := NewClientFromRPC(rpc.DialInProc(server), nil)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}

func rawTx(t *testing.T) ([]byte, chainhash.Hash) {
	t.Helper()
	msg := wire.NewMsgTx(1)
	msg.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{7}, 2), []byte{0x01, 0x02}, nil))
	msg.AddTxOut(wire.NewTxOut(546, []byte{0x6a}))
	var buf bytes.Buffer
	require.NoError(t, msg.Serialize(&buf))
	return buf.Bytes(), msg.TxHash()
}

func TestRequestTransactionsDecodesRawTx(t *testing.T) {
	raw, hash := rawTx(t)
	node := &fakeNode{txs: []rpcTx{{Raw: raw, Height: 12, Confirmed: true, PrevOuts: []rpcPrevOut{{Script: []byte{0x51}, Value: 1000}}}}}
	client := newTestClient(t, node)

	filters := []model.TxFilter{model.MinHeightFilter(10), model.ExcludeFilter([]chainhash.Hash{{1}}), model.LimitFilter(5)}
	entries, err := client.RequestTransactions(context.Background(), filters, model.Confirmed)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, hash, entry.Hash)
	assert.Equal(t, int32(12), entry.Height)
	assert.Equal(t, chainhash.Hash{7}, entry.Inputs[0].PrevHash)
	assert.Equal(t, uint32(2), entry.Inputs[0].PrevIndex)
	assert.Equal(t, []byte{0x51}, entry.Inputs[0].PrevScript)
	assert.Equal(t, int64(1000), entry.Inputs[0].Value)
	assert.Equal(t, []byte{0x6a}, entry.Outputs[0].Script)

	require.Len(t, node.lastFilters, 3)
	assert.Equal(t, "min_height", node.lastFilters[0].Kind)
	assert.Equal(t, int32(10), *node.lastFilters[0].Height)
	assert.Len(t, node.lastFilters[1].Hashes, 1)
	assert.Equal(t, 5, node.lastFilters[2].Limit)
	assert.Equal(t, "confirmed", node.lastConf)
}

func TestRequestTransactionsRejectsGarbage(t *testing.T) {
	client := newTestClient(t, &fakeNode{txs: []rpcTx{{Raw: []byte{0x01}}}})
	_, err := client.RequestTransactions(context.Background(), nil, model.Unconfirmed)
	assert.ErrorIs(t, err, model.ErrSource)
}

func TestRequestTokens(t *testing.T) {
	id := chainhash.Hash{3}
	client := newTestClient(t, &fakeNode{tokens: []rpcToken{{ID: id.String(), Height: 5, Ticker: "PND", Decimals: 2, InitialQuantity: "100"}}})

	entries, err := client.RequestTokens(context.Background(), []model.TxFilter{model.MinHeightFilter(0)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "PND", entries[0].Ticker)
}

func TestSubscribeBlocks(t *testing.T) {
	header := wire.BlockHeader{Version: 1, PrevBlock: chainhash.Hash{1}, Timestamp: time.Unix(1700000000, 0)}
	var buf bytes.Buffer
	require.NoError(t, header.Serialize(&buf))
	txHash := chainhash.Hash{9}
	client := newTestClient(t, &fakeNode{blocks: []rpcBlock{{Header: buf.Bytes(), Height: 100, TxHashes: []string{txHash.String()}}}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := make(chan Block, 1)
	sub, err := client.SubscribeBlocks(ctx, ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case block := <-ch:
		assert.Equal(t, header.BlockHash(), block.Header.Hash)
		assert.Equal(t, chainhash.Hash{1}, block.Header.PrevHash)
		assert.Equal(t, int32(100), block.Header.Height)
		assert.Equal(t, []chainhash.Hash{txHash}, block.TxHashes)
	case <-ctx.Done():
		t.Fatal("no block received")
	}
}
