package notify

import (
	"context"

	"go.uber.org/zap"

	"slpdexdb/internal/storage"
)

// LogListener logs a summary of every event.
type LogListener struct {
	logger *zap.Logger
}

func NewLogListener(logger *zap.Logger) *LogListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogListener{logger: logger}
}

func (l *LogListener) Name() string { return "log" }

func (l *LogListener) HandleTransactions(_ context.Context, ev *Event) error {
	l.logger.Info("transactions persisted",
		zap.Stringer("event_id", ev.ID),
		zap.Int("txs", ev.History.Len()),
		zap.Int("slp", ev.History.SLPCount()),
		zap.Int("relevant_addresses", len(ev.Relevant)),
	)
	return nil
}

// JSONLListener appends one record per transaction to a JSONL sink.
type JSONLListener struct {
	sink *storage.JsonlStorage
}

func NewJSONLListener(sink *storage.JsonlStorage) *JSONLListener {
	return &JSONLListener{sink: sink}
}

func (l *JSONLListener) Name() string { return "jsonl" }

func (l *JSONLListener) HandleTransactions(ctx context.Context, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := make([]storage.TxRecord, 0, ev.History.Len())
	for i := range ev.History.Txs {
		records = append(records, storage.NewTxRecord(ev.ID.String(), &ev.History.Txs[i], ev.Now, ev.Relevant))
	}
	return l.sink.PutTxBatch(records)
}
