package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"slpdexdb/internal/model"
)

// TxRecord is the flat JSON form of a persisted transaction as written to a JSONL sink.
type TxRecord struct {
	EventID   string    `json:"event_id"`
	Hash      string    `json:"hash"`
	Height    int32     `json:"height"`
	Confirmed bool      `json:"confirmed"`
	Type      string    `json:"type"`
	SLPKind   string    `json:"slp_kind,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	Addresses []string  `json:"addresses"`
	Relevant  []string  `json:"relevant,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTxRecord flattens tx. relevant filters the addresses listed in Relevant.
func NewTxRecord(eventID string, tx *model.Tx, ts time.Time, relevant map[model.Address]struct{}) TxRecord {
	record := TxRecord{
		EventID:   eventID,
		Hash:      tx.Hash.String(),
		Height:    tx.Height,
		Confirmed: tx.Confirmed,
		Type:      tx.Type.Kind.String(),
		Timestamp: ts,
	}
	if tx.Type.IsSLP() {
		record.SLPKind = tx.Type.SLP.Kind.String()
		record.TokenID = tx.Type.SLP.TokenID.String()
	}
	seen := make(map[model.Address]bool)
	for _, addr := range tx.Addresses() {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		record.Addresses = append(record.Addresses, addr.String())
		if _, ok := relevant[addr]; ok {
			record.Relevant = append(record.Relevant, addr.String())
		}
	}
	return record
}

// JsonlStorage writes transaction records to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// Path returns the output file.
func (s *JsonlStorage) Path() string {
	return s.path
}

// PutTxBatch appends a batch of records as JSON lines.
func (s *JsonlStorage) PutTxBatch(records []TxRecord) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal tx record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write tx record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
