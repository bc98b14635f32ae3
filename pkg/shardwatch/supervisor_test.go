package shardwatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSuffix = "0123456789"

func shardFor(logical string) ShardName {
	return ShardName(logical + "." + testSuffix)
}

func newHandlerSupervisor(t *testing.T, dial *fakeDialer, cb *fakeCallback) *Supervisor {
	t.Helper()
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Dial: dial})
	if cb != nil {
		s.callback = newSafeCallback(cb, s.logger)
	}
	return s
}

func TestHandleChange_PassesThroughToCallback(t *testing.T) {
	cb := &fakeCallback{}
	s := newHandlerSupervisor(t, newFakeDialer(), cb)

	shard := shardFor("acct")
	row := testRow("42")
	ack := make(chan struct{})
	out := s.handleChange(msgChange{shard: shard, row: row, ack: ack}, 0, Options{})

	<-ack // ack must be closed regardless of callback outcome
	require.Equal(t, 0, out)
	calls := cb.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "DBChange", calls[0].method)
	assert.Equal(t, shard, calls[0].shard)
	assert.Equal(t, row.ID, calls[0].row.ID)
}

func TestHandleChange_SkipsDesignDocWhenConfigured(t *testing.T) {
	cb := &fakeCallback{}
	s := newHandlerSupervisor(t, newFakeDialer(), cb)

	shard := shardFor("acct")
	row := testRow(DesignDocPrefix + "views")
	ack := make(chan struct{})
	out := s.handleChange(msgChange{shard: shard, row: row, ack: ack}, 7, Options{SkipDesignDocs: true})

	<-ack
	assert.Equal(t, 7, out, "design doc rows must not reach the callback")
	assert.Empty(t, cb.snapshot())
}

func TestHandleResumeScan_ColdDiscoverySpawnsReaderAndFiresDBFound(t *testing.T) {
	dial := newFakeDialer()
	cb := &fakeCallback{}
	s := newHandlerSupervisor(t, dial, cb)

	shard := shardFor("acct")
	out := s.handleResumeScan(shard, 0)
	require.Equal(t, 0, out)

	call := dial.nextDial(t)
	assert.Equal(t, shard, call.shard)
	assert.Equal(t, NoSequence, call.since)

	calls := cb.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "DBFound", calls[0].method)

	entry, ok := s.checkpoints[shard]
	require.True(t, ok)
	assert.NotEmpty(t, entry.Worker)
	assert.False(t, entry.RescanPending)
}

func TestHandleResumeScan_CoalescesRescanWhileWorkerBusy(t *testing.T) {
	dial := newFakeDialer()
	cb := &fakeCallback{}
	s := newHandlerSupervisor(t, dial, cb)

	shard := shardFor("acct")
	s.handleResumeScan(shard, 0) // cold discovery, spawns worker 1
	dial.nextDial(t)
	firstWorker := s.checkpoints[shard].Worker
	require.NotEmpty(t, firstWorker)

	// resume_scan arrives again while the worker is still live: this must
	// only flag RescanPending, never open a second feed for the same shard.
	s.handleResumeScan(shard, 1)
	select {
	case c := <-dial.dialed:
		t.Fatalf("unexpected second dial for a shard with a live worker: %+v", c)
	default:
	}
	assert.True(t, s.checkpoints[shard].RescanPending)
	assert.Equal(t, firstWorker, s.checkpoints[shard].Worker)

	// the worker now exits normally; the pending rescan must respawn it
	// silently — resume_scan against a known shard with no live worker
	// never re-fires DBFound.
	out, terminate := s.handleTaskDone(msgTaskDone{id: firstWorker, kind: taskWorker, shard: shard}, 1)
	require.False(t, terminate)
	require.Equal(t, 1, out)

	call := dial.nextDial(t)
	assert.Equal(t, shard, call.shard)
	assert.False(t, s.checkpoints[shard].RescanPending)
	assert.NotEqual(t, firstWorker, s.checkpoints[shard].Worker)
}

func TestHandleCheckpoint_DropsStaleWorker(t *testing.T) {
	s := newHandlerSupervisor(t, newFakeDialer(), nil)
	shard := shardFor("acct")
	s.checkpoints[shard] = &CheckpointEntry{Shard: shard, Worker: "live-worker", EndSeq: NoSequence}

	ack := make(chan struct{})
	s.handleCheckpoint(msgCheckpoint{shard: shard, endSeq: Sequence(99), worker: "stale-worker", ack: ack})
	<-ack

	assert.Equal(t, NoSequence, s.checkpoints[shard].EndSeq, "a checkpoint from a superseded worker must not apply")
}

func TestHandleCheckpoint_UpdatesLiveWorker(t *testing.T) {
	s := newHandlerSupervisor(t, newFakeDialer(), nil)
	shard := shardFor("acct")
	s.checkpoints[shard] = &CheckpointEntry{Shard: shard, Worker: "live-worker", EndSeq: NoSequence}

	ack := make(chan struct{})
	s.handleCheckpoint(msgCheckpoint{shard: shard, endSeq: Sequence(99), worker: "live-worker", ack: ack})
	<-ack

	assert.Equal(t, Sequence(99), s.checkpoints[shard].EndSeq)
}

func TestHandleBusEvent_CreatedSpawnsReader(t *testing.T) {
	dial := newFakeDialer()
	cb := &fakeCallback{}
	s := newHandlerSupervisor(t, dial, cb)

	shard := shardFor("acct")
	out := s.handleBusEvent(BusEvent{Database: string(shard), Kind: BusCreated}, 0)
	require.Equal(t, 1, out)

	dial.nextDial(t)
	calls := cb.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "DBCreated", calls[0].method)
	assert.Equal(t, "DBFound", calls[1].method)
}

func TestHandleBusEvent_DeletedOnlyNotifies(t *testing.T) {
	dial := newFakeDialer()
	cb := &fakeCallback{}
	s := newHandlerSupervisor(t, dial, cb)

	shard := shardFor("acct")
	out := s.handleBusEvent(BusEvent{Database: string(shard), Kind: BusDeleted}, 0)
	require.Equal(t, 0, out)

	calls := cb.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "DBDeleted", calls[0].method)
	_, tracked := s.checkpoints[shard]
	assert.False(t, tracked, "a deletion notice must not start tracking the shard")

	select {
	case c := <-dial.dialed:
		t.Fatalf("deleted shard must not open a change feed: %+v", c)
	default:
	}
}

func TestHandleBusEvent_IgnoresSuffixMismatch(t *testing.T) {
	cb := &fakeCallback{}
	s := newHandlerSupervisor(t, newFakeDialer(), cb)

	out := s.handleBusEvent(BusEvent{Database: "acct.other.999", Kind: BusCreated}, 5)
	assert.Equal(t, 5, out)
	assert.Empty(t, cb.snapshot())
}

func TestHandleTaskDone_ScannerNormalExitDoesNotTerminate(t *testing.T) {
	s := newHandlerSupervisor(t, newFakeDialer(), nil)
	s.scannerAlive = true

	out, terminate := s.handleTaskDone(msgTaskDone{id: s.scannerID, kind: taskScanner}, 3)
	assert.False(t, terminate)
	assert.Equal(t, 3, out)
	assert.False(t, s.ScannerAlive())

	select {
	case <-s.stopped:
		t.Fatal("supervisor must stay up after a normal scanner exit")
	default:
	}
}

func TestHandleTaskDone_ScannerAbnormalExitTerminates(t *testing.T) {
	s := newHandlerSupervisor(t, newFakeDialer(), nil)
	s.scannerAlive = true

	_, terminate := s.handleTaskDone(msgTaskDone{id: s.scannerID, kind: taskScanner, err: errBoom}, 0)
	assert.True(t, terminate)
	assert.False(t, s.ScannerAlive())

	select {
	case <-s.stopped:
	default:
		t.Fatal("supervisor must terminate after an abnormal scanner exit")
	}
	require.Error(t, s.Err())
}

func TestHandleTaskDone_EventBusDeathTerminates(t *testing.T) {
	s := newHandlerSupervisor(t, newFakeDialer(), nil)

	_, terminate := s.handleTaskDone(msgTaskDone{id: s.busToken, kind: taskEventBus, err: errBoom}, 0)
	assert.True(t, terminate)
	select {
	case <-s.stopped:
	default:
		t.Fatal("supervisor must terminate when the event bus subscription dies")
	}
}

func TestHandleTaskDone_UnknownTaskTerminates(t *testing.T) {
	s := newHandlerSupervisor(t, newFakeDialer(), nil)

	_, terminate := s.handleTaskDone(msgTaskDone{id: "no-such-task", kind: taskWorker}, 0)
	assert.True(t, terminate, "an exit report from an untracked task is an invariant violation")
	require.Error(t, s.Err())
}

func TestHandleTaskDone_WorkerExitWithoutRescanIsQuiet(t *testing.T) {
	dial := newFakeDialer()
	cb := &fakeCallback{}
	s := newHandlerSupervisor(t, dial, cb)

	shard := shardFor("acct")
	s.handleResumeScan(shard, 0)
	dial.nextDial(t)
	worker := s.checkpoints[shard].Worker

	out, terminate := s.handleTaskDone(msgTaskDone{id: worker, kind: taskWorker, shard: shard}, 1)
	assert.False(t, terminate)
	assert.Equal(t, 1, out)
	assert.Empty(t, s.checkpoints[shard].Worker)
	_, stillTracked := s.workers[worker]
	assert.False(t, stillTracked)
}

// TestStartLink_DiscoversExistingShardAndDeliversChanges exercises the
// full message loop through the public API: a shard already present in
// the catalog at startup should be discovered, produce a DBFound, and
// forward a change row end to end.
func TestStartLink_DiscoversExistingShardAndDeliversChanges(t *testing.T) {
	shard := shardFor("acct")
	cat := &fakeCatalog{
		history: []CatalogRow{{ID: string(shard)}},
		local:   map[string][]ShardName{string(shard): {shard}},
	}
	bus := newFakeEventBus()
	dial := newFakeDialer()
	cb := &fakeCallback{}

	sup := newTestSupervisor(t, testSuffix, cat, bus, dial, cb, Options{})

	call := dial.nextDial(t)
	require.Equal(t, shard, call.shard)

	row := testRow("row-1")
	call.feed.rows <- row
	close(call.feed.rows)
	call.feed.stoppedAt <- Sequence(7)

	cb.waitForCalls(t, 2) // DBFound, DBChange

	calls := cb.snapshot()
	var sawChange bool
	for _, c := range calls {
		if c.method == "DBChange" {
			sawChange = true
			assert.Equal(t, row.ID, c.row.ID)
		}
	}
	assert.True(t, sawChange)

	require.Eventually(t, func() bool {
		snap := sup.Snapshot()
		entry, ok := snap[shard]
		return ok && entry.EndSeq == Sequence(7)
	}, 2*time.Second, 5*time.Millisecond, "checkpoint was never applied")
}
