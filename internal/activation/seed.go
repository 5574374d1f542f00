package activation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"slpdexdb/internal/model"
)

// SeedStore receives entities and pending activations created outside the ledger sync.
type SeedStore interface {
	AddEntity(ctx context.Context, e model.Entity) error
	AddPendingActivation(ctx context.Context, pending model.PendingActivation) error
}

// seedRecord is one input line. Exactly one of Entity and Pending is set.
type seedRecord struct {
	Entity  *seedEntity  `json:"entity,omitempty"`
	Pending *seedPending `json:"pending,omitempty"`
}

type seedEntity struct {
	ID         int64         `json:"id"`
	Attributes hexutil.Bytes `json:"attributes"`
	TxHash     string        `json:"txHash,omitempty"`
}

type seedPending struct {
	ID        int64  `json:"id"`
	ParentA   int64  `json:"parentA"`
	ParentB   int64  `json:"parentB"`
	TriggerTx string `json:"triggerTx"`
}

// SeedStats counts what Seed read and stored.
type SeedStats struct {
	Lines    int
	Entities int
	Pending  int
	Failed   int
}

// Seed loads JSONL entity and pending activation records from in. Malformed lines are logged
// and counted; a storage error stops the load.
func Seed(ctx context.Context, store SeedStore, in io.Reader, logger *zap.Logger) (SeedStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats SeedStats

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		entity, pending, err := decodeSeedLine(line)
		if err != nil {
			stats.Failed++
			logger.Warn("skip malformed seed line", zap.Int("line", stats.Lines), zap.Error(err))
			continue
		}
		if entity != nil {
			if err := store.AddEntity(ctx, *entity); err != nil {
				return stats, fmt.Errorf("line %d: add entity %d: %w", stats.Lines, entity.ID, err)
			}
			stats.Entities++
			continue
		}
		if err := store.AddPendingActivation(ctx, *pending); err != nil {
			return stats, fmt.Errorf("line %d: add pending activation %d: %w", stats.Lines, pending.ID, err)
		}
		stats.Pending++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan seed input: %w", err)
	}
	return stats, nil
}

func decodeSeedLine(line []byte) (*model.Entity, *model.PendingActivation, error) {
	var record seedRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, nil, err
	}
	switch {
	case record.Entity != nil && record.Pending == nil:
		e := record.Entity
		if len(e.Attributes) != model.AttributeSize {
			return nil, nil, fmt.Errorf("%w: entity %d has %d attribute bytes", model.ErrValidation, e.ID, len(e.Attributes))
		}
		out := &model.Entity{ID: e.ID}
		copy(out.Attributes[:], e.Attributes)
		if e.TxHash != "" {
			hash, err := chainhash.NewHashFromStr(e.TxHash)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: entity %d tx hash: %w", model.ErrValidation, e.ID, err)
			}
			out.TxHash = *hash
		}
		return out, nil, nil
	case record.Pending != nil && record.Entity == nil:
		p := record.Pending
		trigger, err := chainhash.NewHashFromStr(p.TriggerTx)
		if err != nil || p.TriggerTx == "" {
			return nil, nil, fmt.Errorf("%w: pending activation %d trigger tx %q", model.ErrValidation, p.ID, p.TriggerTx)
		}
		return nil, &model.PendingActivation{ID: p.ID, ParentA: p.ParentA, ParentB: p.ParentB, TriggerTx: *trigger}, nil
	default:
		return nil, nil, fmt.Errorf("%w: record must set exactly one of entity and pending", model.ErrValidation)
	}
}
