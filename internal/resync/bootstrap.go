package resync

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"slpdexdb/internal/model"
)

// DefaultBootstrapToken is the token the exchange is seeded with on startup.
const DefaultBootstrapToken = "16668131b2563dd32ef7b098056fd696b010233f66bcab5cc22bdf2b2a60f294"

// Bootstrap fetches a single token definition and its genesis transaction and stores both.
// It does not touch any checkpoint.
func (l *Loop) Bootstrap(ctx context.Context, tokenID chainhash.Hash) error {
	filters := []model.TxFilter{model.TokenIDFilter(tokenID)}
	var entries []model.TokenEntry
	err := withRetry(ctx, l.cfg.MaxRetries, l.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		entries, err = l.source.RequestTokens(ctx, filters)
		return err
	})
	if err != nil {
		return fmt.Errorf("bootstrap token %s: %w", tokenID, err)
	}

	tokens := make([]model.Token, 0, len(entries))
	for _, entry := range entries {
		token, err := model.TokenFromEntry(entry)
		if err != nil {
			return fmt.Errorf("bootstrap token %s: %w", tokenID, err)
		}
		tokens = append(tokens, token)
	}
	if err := l.store.AddTokens(ctx, tokens); err != nil {
		return err
	}

	var txs []model.TxEntry
	err = withRetry(ctx, l.cfg.MaxRetries, l.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		txs, err = l.source.RequestTransactions(ctx, []model.TxFilter{model.TxHashFilter(tokenID)}, model.Confirmed)
		return err
	})
	if err != nil {
		return fmt.Errorf("bootstrap genesis %s: %w", tokenID, err)
	}
	if err := l.store.AddTxHistory(ctx, l.classifier.History(txs, l.now())); err != nil {
		return err
	}

	l.logger.Info("bootstrap complete", zap.Stringer("token_id", tokenID), zap.Int("tokens", len(tokens)), zap.Int("txs", len(txs)))
	return nil
}
