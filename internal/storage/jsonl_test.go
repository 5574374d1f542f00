package storage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"slpdexdb/internal/model"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/slp/slptest"
	"slpdexdb/internal/storage"
)

func TestPutTxBatchGolden(t *testing.T) {
	classifier := slp.NewClassifier(slp.DefaultConfig(), nil)
	plain := classifier.Classify(slptest.Entry(slptest.Hash(1), 100, model.OutPoint{Hash: slptest.Hash(0xee)}, nil,
		slptest.P2PKH(slptest.Addr(1))))
	genesis := classifier.Classify(slptest.Entry(slptest.Hash(3), 101, model.OutPoint{Hash: slptest.Hash(0xef)}, nil,
		slptest.Genesis("PND", 0, nil, 10), slptest.P2PKH(slptest.Addr(2))))
	require.True(t, genesis.Type.IsSLP())

	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	relevant := map[model.Address]struct{}{slptest.Addr(1): {}}

	path := filepath.Join(t.TempDir(), "nested", "txs.jsonl")
	sink := storage.NewJsonlStorage(path)
	require.NoError(t, sink.PutTxBatch([]storage.TxRecord{
		storage.NewTxRecord("ev-1", &plain, ts, relevant),
		storage.NewTxRecord("ev-1", &genesis, ts, relevant),
	}))
	require.NoError(t, sink.PutTxBatch(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	goldie.New(t).Assert(t, "tx_records", data)
}
