package shardwatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edgeflare/pgo/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

// callRecord is one observed Callback invocation, kept in order.
type callRecord struct {
	method string
	shard  ShardName
	row    Row
	in     any
	out    any
}

// fakeCallback records every call it receives and advances the user
// context by one on each call, so a test can assert both which callbacks
// fired and in what order by reading off ctx.(int) 0, 1, 2, ...
type fakeCallback struct {
	mu    sync.Mutex
	calls []callRecord
	next  int
}

func (f *fakeCallback) record(method string, shard ShardName, row Row, in any) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.next
	f.next++
	f.calls = append(f.calls, callRecord{method: method, shard: shard, row: row, in: in, out: out})
	return out
}

func (f *fakeCallback) DBCreated(_ context.Context, shard ShardName, userCtx any) any {
	return f.record("DBCreated", shard, Row{}, userCtx)
}
func (f *fakeCallback) DBDeleted(_ context.Context, shard ShardName, userCtx any) any {
	return f.record("DBDeleted", shard, Row{}, userCtx)
}
func (f *fakeCallback) DBFound(_ context.Context, shard ShardName, userCtx any) any {
	return f.record("DBFound", shard, Row{}, userCtx)
}
func (f *fakeCallback) DBChange(_ context.Context, shard ShardName, row Row, userCtx any) any {
	return f.record("DBChange", shard, row, userCtx)
}

func (f *fakeCallback) snapshot() []callRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]callRecord, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeCallback) waitForCalls(t *testing.T, n int) []callRecord {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if calls := f.snapshot(); len(calls) >= n {
			return calls
		}
		select {
		case <-time.After(time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d callback calls, got %d", n, len(f.snapshot()))
		}
	}
}

// fakeCatalog is a fully in-memory ShardCatalog. history is the shard-map
// walk order; local maps a shard-map database name to its physical shards.
type fakeCatalog struct {
	systemDBExists bool
	systemDBErr    error
	history        []CatalogRow
	local          map[string][]ShardName
	localErr       error
}

func (c *fakeCatalog) ShardExists(_ context.Context, _ string) (bool, error) {
	return c.systemDBExists, c.systemDBErr
}

func (c *fakeCatalog) WalkShardMap(_ context.Context) (<-chan CatalogRow, <-chan error, error) {
	out := make(chan CatalogRow, len(c.history))
	errs := make(chan error)
	for _, row := range c.history {
		out <- row
	}
	close(out)
	close(errs)
	return out, errs, nil
}

func (c *fakeCatalog) LocalShards(_ context.Context, database string) ([]ShardName, error) {
	if c.localErr != nil {
		return nil, c.localErr
	}
	return c.local[database], nil
}

// fakeEventBus hands back caller-controlled events/done channels so a test
// can inject BusEvents or kill the subscription on demand.
type fakeEventBus struct {
	events chan BusEvent
	done   chan error
	err    error
}

func newFakeEventBus() *fakeEventBus {
	return &fakeEventBus{events: make(chan BusEvent, 8), done: make(chan error, 1)}
}

func (b *fakeEventBus) Subscribe(_ context.Context) (<-chan BusEvent, <-chan error, error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	return b.events, b.done, nil
}

// fakeFeed is one shard's scripted change feed.
type fakeFeed struct {
	rows      chan Row
	stoppedAt chan Sequence
}

// fakeDialer hands out fakeFeeds on demand and records every dial so a
// test can drive rows onto a specific (shard, since) call.
type fakeDialer struct {
	mu     sync.Mutex
	dialed chan dialCall
	err    error
}

type dialCall struct {
	shard ShardName
	since Sequence
	feed  *fakeFeed
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan dialCall, 16)}
}

func (d *fakeDialer) OpenChangeFeed(_ context.Context, shard ShardName, since Sequence) (<-chan Row, <-chan Sequence, error) {
	if d.err != nil {
		return nil, nil, d.err
	}
	feed := &fakeFeed{rows: make(chan Row), stoppedAt: make(chan Sequence, 1)}
	d.dialed <- dialCall{shard: shard, since: since, feed: feed}
	return feed.rows, feed.stoppedAt, nil
}

func (d *fakeDialer) nextDial(t *testing.T) dialCall {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OpenChangeFeed to be called")
		return dialCall{}
	}
}

func testRow(id string) Row {
	return Row{ID: id, Event: cdc.Event{Payload: cdc.Payload{Op: cdc.OpCreate}}}
}

// newTestSupervisor starts a real Supervisor over fake collaborators and
// returns it alongside the fakes so a test can drive the whole message
// loop the way production code would.
func newTestSupervisor(t *testing.T, suffix string, cat *fakeCatalog, bus *fakeEventBus, dial *fakeDialer, cb Callback, opts Options) *Supervisor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sup, err := StartLink(ctx, Config{
		Suffix:         suffix,
		Catalog:        cat,
		EventBus:       bus,
		Dial:           dial,
		Logger:         zap.NewNop(),
		JitterAvgDelay: time.Millisecond,
		JitterMaxDelay: 5 * time.Millisecond,
	}, cb, 0, opts)
	if err != nil {
		t.Fatalf("StartLink: %v", err)
	}
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })
	return sup
}

// newBareSupervisor builds a Supervisor struct directly, bypassing
// StartLink's background scanner/event-bus goroutines, so a test can drive
// runReader or runScanner in isolation and observe what lands on inbox.
func newBareSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := &Supervisor{
		cfg:         cfg,
		callback:    newSafeCallback(NopCallback{}, zap.NewNop()),
		logger:      zap.NewNop(),
		inbox:       make(chan any),
		ctx:         ctx,
		cancel:      cancel,
		checkpoints: make(map[ShardName]*CheckpointEntry),
		workers:     make(map[WorkerID]ShardName),
		scannerID:   WorkerID("scanner-under-test"),
		busToken:    WorkerID("bus-under-test"),
		stopped:     make(chan struct{}),
	}
	return s
}

func recvResumeScan(t *testing.T, s *Supervisor) msgResumeScan {
	t.Helper()
	select {
	case m := <-s.inbox:
		rs, ok := m.(msgResumeScan)
		if !ok {
			t.Fatalf("expected msgResumeScan, got %T", m)
		}
		return rs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for msgResumeScan")
		return msgResumeScan{}
	}
}

func recvTaskDone(t *testing.T, s *Supervisor) msgTaskDone {
	t.Helper()
	select {
	case m := <-s.inbox:
		td, ok := m.(msgTaskDone)
		if !ok {
			t.Fatalf("expected msgTaskDone, got %T", m)
		}
		return td
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for msgTaskDone")
		return msgTaskDone{}
	}
}

func recvCheckpoint(t *testing.T, s *Supervisor) msgCheckpoint {
	t.Helper()
	select {
	case m := <-s.inbox:
		cp, ok := m.(msgCheckpoint)
		if !ok {
			t.Fatalf("expected msgCheckpoint, got %T", m)
		}
		return cp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for msgCheckpoint")
		return msgCheckpoint{}
	}
}

var errBoom = fmt.Errorf("boom")
