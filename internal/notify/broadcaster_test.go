package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slpdexdb/internal/model"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/slp/slptest"
	"slpdexdb/internal/storage"
)

type recordingListener struct {
	name string
	mu   sync.Mutex
	seen []*Event
	fn   func() error
}

func (l *recordingListener) Name() string { return l.name }

func (l *recordingListener) HandleTransactions(_ context.Context, ev *Event) error {
	l.mu.Lock()
	l.seen = append(l.seen, ev)
	l.mu.Unlock()
	if l.fn != nil {
		return l.fn()
	}
	return nil
}

func (l *recordingListener) events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Event(nil), l.seen...)
}

func testEvent() *Event {
	c := slp.NewClassifier(slp.DefaultConfig(), nil)
	entry := slptest.Entry(slptest.Hash(1), 10, model.OutPoint{}, nil, slptest.P2PKH(slptest.Addr(1)))
	history := c.History([]model.TxEntry{entry}, time.Unix(100, 0))
	relevant := map[model.Address]struct{}{slptest.Addr(1): {}}
	return NewEvent(time.Unix(100, 0), history, relevant, nil, nil)
}

func TestFailingListenersDoNotAffectOthers(t *testing.T) {
	b := NewBroadcaster(time.Second, nil, nil)
	defer b.Close()

	good := &recordingListener{name: "good"}
	failing := &recordingListener{name: "failing", fn: func() error { return errors.New("boom") }}
	panicking := &recordingListener{name: "panicking", fn: func() error { panic("listener bug") }}
	b.Register(failing)
	b.Register(panicking)
	b.Register(good)

	ev := testEvent()
	b.Broadcast(ev)
	b.Wait()

	require.Len(t, good.events(), 1)
	assert.Same(t, ev, good.events()[0])
	assert.Len(t, failing.events(), 1)
	assert.Len(t, panicking.events(), 1)
}

func TestBroadcastDoesNotBlockOnSlowListener(t *testing.T) {
	b := NewBroadcaster(0, nil, nil)
	release := make(chan struct{})
	slow := &recordingListener{name: "slow", fn: func() error {
		<-release
		return nil
	}}
	b.Register(slow)

	done := make(chan struct{})
	go func() {
		b.Broadcast(testEvent())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on listener")
	}
	close(release)
	b.Close()
	assert.Len(t, slow.events(), 1)
}

func TestBroadcastWithoutListeners(t *testing.T) {
	b := NewBroadcaster(0, nil, nil)
	b.Broadcast(testEvent())
	b.Close()
	assert.Zero(t, b.Listeners())
}

func TestJSONLListenerWritesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	l := NewJSONLListener(storage.NewJsonlStorage(path))
	ev := testEvent()

	require.NoError(t, l.HandleTransactions(context.Background(), ev))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	var record storage.TxRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
	assert.Equal(t, ev.ID.String(), record.EventID)
	assert.Equal(t, slptest.Hash(1).String(), record.Hash)
	assert.Equal(t, []string{slptest.Addr(1).String()}, record.Relevant)
	assert.False(t, scanner.Scan())
}
