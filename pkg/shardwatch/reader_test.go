package shardwatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReader_OpenChangeFeedErrorReportsTaskDone(t *testing.T) {
	dial := &fakeDialer{err: errBoom}
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Dial: dial})

	shard := shardFor("acct")
	go runReader(s.ctx, s, shard, NoSequence, "reader-1")

	done := recvTaskDone(t, s)
	assert.Equal(t, WorkerID("reader-1"), done.id)
	assert.Equal(t, taskWorker, done.kind)
	assert.Equal(t, shard, done.shard)
	require.Error(t, done.err)
}

func TestRunReader_ForwardsRowsThenCheckpoints(t *testing.T) {
	dial := newFakeDialer()
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Dial: dial})

	shard := shardFor("acct")
	go runReader(s.ctx, s, shard, Sequence(5), "reader-1")

	call := dial.nextDial(t)
	assert.Equal(t, Sequence(5), call.since)

	row := testRow("row-1")
	call.feed.rows <- row
	m := <-s.inbox // the msgChange sent by the reader
	msg, ok := m.(msgChange)
	require.True(t, ok)
	assert.Equal(t, row.ID, msg.row.ID)
	close(msg.ack)

	close(call.feed.rows)
	call.feed.stoppedAt <- Sequence(41)

	cp := recvCheckpoint(t, s)
	assert.Equal(t, Sequence(41), cp.endSeq)
	assert.Equal(t, WorkerID("reader-1"), cp.worker)
	close(cp.ack)

	done := recvTaskDone(t, s)
	assert.NoError(t, done.err)
	assert.Equal(t, taskWorker, done.kind)
}

func TestRunReader_AbnormalTerminationWithoutStopSequence(t *testing.T) {
	dial := newFakeDialer()
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Dial: dial})

	shard := shardFor("acct")
	go runReader(s.ctx, s, shard, NoSequence, "reader-1")

	call := dial.nextDial(t)
	close(call.feed.rows)      // no rows delivered
	close(call.feed.stoppedAt) // closed without a value: abnormal exit

	done := recvTaskDone(t, s)
	require.Error(t, done.err)
}

func TestRunReader_ContextCanceledWhileWaitingForStop(t *testing.T) {
	dial := newFakeDialer()
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Dial: dial})

	// runReader's own context is canceled here, independently of the
	// supervisor's, so the task-done report still has a live mailbox to
	// land in even though the reader itself is unwinding.
	readerCtx, readerCancel := context.WithCancel(context.Background())
	shard := shardFor("acct")
	go runReader(readerCtx, s, shard, NoSequence, "reader-1")

	call := dial.nextDial(t)
	close(call.feed.rows)
	readerCancel()

	done := recvTaskDone(t, s)
	assert.ErrorIs(t, done.err, context.Canceled)
}
