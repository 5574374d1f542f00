package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"slpdexdb/internal/model"
)

const namespace = "slpdex"

// Client is the ledger query source, speaking JSON-RPC to an SLP indexing node.
// Live feeds need a websocket or IPC endpoint.
type Client struct {
	rpcClient *rpc.Client
	logger    *zap.Logger
}

// NewClient creates a new source client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, logger *zap.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return NewClientFromRPC(rpcClient, logger), nil
}

// NewClientFromRPC wraps an existing connection.
func NewClientFromRPC(rpcClient *rpc.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{rpcClient: rpcClient, logger: logger}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

type rpcFilter struct {
	Kind    string   `json:"kind"`
	Hash    string   `json:"hash,omitempty"`
	Address string   `json:"address,omitempty"`
	Height  *int32   `json:"height,omitempty"`
	Hashes  []string `json:"hashes,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func toRPCFilters(filters []model.TxFilter) []rpcFilter {
	out := make([]rpcFilter, 0, len(filters))
	for _, f := range filters {
		wf := rpcFilter{Kind: f.Kind.String()}
		switch f.Kind {
		case model.FilterTxHash, model.FilterTokenID:
			wf.Hash = f.Hash.String()
		case model.FilterAddress:
			wf.Address = f.Address.String()
		case model.FilterMinHeight:
			height := f.Height
			wf.Height = &height
		case model.FilterExcludeHashes:
			for _, h := range f.Hashes {
				wf.Hashes = append(wf.Hashes, h.String())
			}
		case model.FilterLimit:
			wf.Limit = f.Limit
		}
		out = append(out, wf)
	}
	return out
}

type rpcPrevOut struct {
	Script hexutil.Bytes `json:"script"`
	Value  int64         `json:"value"`
}

type rpcTx struct {
	Raw       hexutil.Bytes `json:"raw"`
	Height    int32         `json:"height"`
	Confirmed bool          `json:"confirmed"`
	PrevOuts  []rpcPrevOut  `json:"prevOuts,omitempty"`
}

func (t rpcTx) entry() (model.TxEntry, error) {
	var prevOuts []PrevOut
	if t.PrevOuts != nil {
		prevOuts = make([]PrevOut, 0, len(t.PrevOuts))
		for _, p := range t.PrevOuts {
			prevOuts = append(prevOuts, PrevOut{Script: p.Script, Value: p.Value})
		}
	}
	return DecodeTx(t.Raw, t.Height, t.Confirmed, prevOuts)
}

type rpcToken struct {
	ID              string        `json:"id"`
	Height          int32         `json:"height"`
	Version         int           `json:"version"`
	Ticker          string        `json:"ticker"`
	Name            string        `json:"name"`
	DocumentURI     string        `json:"documentUri"`
	DocumentHash    hexutil.Bytes `json:"documentHash"`
	Decimals        int           `json:"decimals"`
	MintBatonVout   int           `json:"mintBatonVout"`
	InitialQuantity string        `json:"initialQuantity"`
}

type rpcBlock struct {
	Header   hexutil.Bytes `json:"header"`
	Height   int32         `json:"height"`
	TxHashes []string      `json:"txHashes"`
}

// RequestTransactions returns the transactions matching every filter.
func (c *Client) RequestTransactions(ctx context.Context, filters []model.TxFilter, conf model.Confirmedness) ([]model.TxEntry, error) {
	var result []rpcTx
	if err := c.rpcClient.CallContext(ctx, &result, namespace+"_requestTransactions", toRPCFilters(filters), conf.String()); err != nil {
		return nil, fmt.Errorf("%w: request transactions: %w", model.ErrSource, err)
	}
	entries := make([]model.TxEntry, 0, len(result))
	for _, tx := range result {
		entry, err := tx.entry()
		if err != nil {
			return nil, fmt.Errorf("%w: request transactions: %w", model.ErrSource, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RequestTokens returns the token listings matching every filter.
func (c *Client) RequestTokens(ctx context.Context, filters []model.TxFilter) ([]model.TokenEntry, error) {
	var result []rpcToken
	if err := c.rpcClient.CallContext(ctx, &result, namespace+"_requestTokens", toRPCFilters(filters)); err != nil {
		return nil, fmt.Errorf("%w: request tokens: %w", model.ErrSource, err)
	}
	entries := make([]model.TokenEntry, 0, len(result))
	for _, token := range result {
		id, err := chainhash.NewHashFromStr(token.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: token id %q: %w", model.ErrSource, token.ID, err)
		}
		entries = append(entries, model.TokenEntry{
			ID:              *id,
			Height:          token.Height,
			Version:         token.Version,
			Ticker:          token.Ticker,
			Name:            token.Name,
			DocumentURI:     token.DocumentURI,
			DocumentHash:    token.DocumentHash,
			Decimals:        token.Decimals,
			MintBatonVout:   token.MintBatonVout,
			InitialQuantity: token.InitialQuantity,
		})
	}
	return entries, nil
}

// Block is a newly connected block with the hashes of its transactions.
type Block struct {
	Header   model.Header
	TxHashes []chainhash.Hash
}

// Subscription is a live feed. Err reports the terminal error once the feed ends.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// SubscribeTransactions streams new mempool and confirmed transactions into ch until ctx ends
// or the subscription fails. Undecodable notifications are logged and dropped.
func (c *Client) SubscribeTransactions(ctx context.Context, ch chan<- model.TxEntry) (Subscription, error) {
	raw := make(chan rpcTx, cap(ch))
	sub, err := c.rpcClient.Subscribe(ctx, namespace, raw, "newTransactions")
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe transactions: %w", model.ErrSource, err)
	}
	return relay(ctx, c.logger.With(zap.String("feed", "transactions")), sub, raw, ch, rpcTx.entry), nil
}

// SubscribeBlocks streams newly connected blocks into ch.
func (c *Client) SubscribeBlocks(ctx context.Context, ch chan<- Block) (Subscription, error) {
	raw := make(chan rpcBlock, cap(ch))
	sub, err := c.rpcClient.Subscribe(ctx, namespace, raw, "newBlocks")
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe blocks: %w", model.ErrSource, err)
	}
	return relay(ctx, c.logger.With(zap.String("feed", "blocks")), sub, raw, ch, rpcBlock.block), nil
}

type feed struct {
	sub *rpc.ClientSubscription
	err chan error
}

func (f *feed) Unsubscribe()      { f.sub.Unsubscribe() }
func (f *feed) Err() <-chan error { return f.err }

// relay decodes notifications from raw into out until ctx ends or the subscription fails.
func relay[W, T any](ctx context.Context, logger *zap.Logger, sub *rpc.ClientSubscription, raw <-chan W, out chan<- T, decode func(W) (T, error)) *feed {
	f := &feed{sub: sub, err: make(chan error, 1)}
	go func() {
		defer close(f.err)
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err := <-sub.Err():
				if err != nil {
					f.err <- fmt.Errorf("%w: feed closed: %w", model.ErrSource, err)
				}
				return
			case w := <-raw:
				v, err := decode(w)
				if err != nil {
					logger.Warn("drop undecodable notification", zap.Error(err))
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					sub.Unsubscribe()
					return
				}
			}
		}
	}()
	return f
}

func (b rpcBlock) block() (Block, error) {
	header, err := DecodeHeader(b.Header, b.Height)
	if err != nil {
		return Block{}, err
	}
	block := Block{Header: header, TxHashes: make([]chainhash.Hash, 0, len(b.TxHashes))}
	for _, s := range b.TxHashes {
		hash, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return Block{}, fmt.Errorf("block %s tx hash %q: %w", header.Hash, s, err)
		}
		block.TxHashes = append(block.TxHashes, *hash)
	}
	return block, nil
}
