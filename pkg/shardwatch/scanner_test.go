package shardwatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainScannerOutput collects n msgResumeScan and one msgTaskDone in
// whatever order they arrive: runScanner reports its own exit as soon as
// the walk ends, while each rescan it scheduled fires later from its own
// jitter timer.
func drainScannerOutput(t *testing.T, s *Supervisor, n int) ([]ShardName, msgTaskDone) {
	t.Helper()
	var shards []ShardName
	var done msgTaskDone
	sawDone := false
	for len(shards) < n || !sawDone {
		select {
		case m := <-s.inbox:
			switch msg := m.(type) {
			case msgResumeScan:
				shards = append(shards, msg.shard)
			case msgTaskDone:
				require.False(t, sawDone, "scanner reported its exit twice")
				done, sawDone = msg, true
			default:
				t.Fatalf("unexpected message %T", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out: got %d of %d rescans, task done seen: %v", len(shards), n, sawDone)
		}
	}
	return shards, done
}

func TestRunScanner_SystemDatabaseTriggersResumeScan(t *testing.T) {
	cat := &fakeCatalog{systemDBExists: true}
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Catalog: cat, Dial: newFakeDialer()})

	go runScanner(s.ctx, s, s.scannerID)

	rs := recvResumeScan(t, s)
	assert.Equal(t, ShardName(testSuffix), rs.shard)

	done := recvTaskDone(t, s)
	assert.NoError(t, done.err)
	assert.Equal(t, taskScanner, done.kind)
}

func TestRunScanner_NoSystemDatabaseSkipsResumeScan(t *testing.T) {
	cat := &fakeCatalog{systemDBExists: false}
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Catalog: cat, Dial: newFakeDialer()})

	go runScanner(s.ctx, s, s.scannerID)

	done := recvTaskDone(t, s)
	assert.NoError(t, done.err)
}

func TestRunScanner_FiltersDeletedDesignDocAndSuffixMismatch(t *testing.T) {
	acct := "acct." + testSuffix
	cat := &fakeCatalog{
		history: []CatalogRow{
			{ID: "acct.other-suffix"},                 // suffix mismatch
			{ID: DesignDocPrefix + "views"},           // design doc
			{ID: "gone." + testSuffix, Deleted: true}, // deleted
			{ID: acct},
		},
		local: map[string][]ShardName{acct: {ShardName(acct)}},
	}
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Catalog: cat, Dial: newFakeDialer(),
		JitterAvgDelay: time.Millisecond, JitterMaxDelay: 2 * time.Millisecond})

	go runScanner(s.ctx, s, s.scannerID)

	// only the matching, non-deleted, non-design-doc row schedules a rescan.
	got, done := drainScannerOutput(t, s, 1)
	assert.Equal(t, []ShardName{ShardName(acct)}, got)
	assert.NoError(t, done.err)
}

func TestRunScanner_SchedulesOneResumeScanPerLocalShard(t *testing.T) {
	acct := "acct." + testSuffix
	shardA := ShardName(acct)
	shardB := ShardName("acct-replica." + testSuffix)
	cat := &fakeCatalog{
		history: []CatalogRow{{ID: acct}},
		local:   map[string][]ShardName{acct: {shardA, shardB}},
	}
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Catalog: cat, Dial: newFakeDialer(),
		JitterAvgDelay: time.Millisecond, JitterMaxDelay: 2 * time.Millisecond})

	go runScanner(s.ctx, s, s.scannerID)

	got, done := drainScannerOutput(t, s, 2)
	assert.ElementsMatch(t, []ShardName{shardA, shardB}, got)
	assert.NoError(t, done.err)
}

func TestRunScanner_ShardExistsErrorReportsTaskDone(t *testing.T) {
	cat := &fakeCatalog{systemDBErr: errBoom}
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Catalog: cat, Dial: newFakeDialer()})

	go runScanner(s.ctx, s, s.scannerID)

	done := recvTaskDone(t, s)
	require.Error(t, done.err)
	assert.Equal(t, taskScanner, done.kind)
}

type walkErrCatalog struct{ fakeCatalog }

func (c *walkErrCatalog) WalkShardMap(_ context.Context) (<-chan CatalogRow, <-chan error, error) {
	return nil, nil, errBoom
}

func TestRunScanner_WalkShardMapErrorReportsTaskDone(t *testing.T) {
	cat := &walkErrCatalog{}
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Catalog: cat, Dial: newFakeDialer()})

	go runScanner(s.ctx, s, s.scannerID)

	done := recvTaskDone(t, s)
	require.Error(t, done.err)
}

// stallingCatalog's WalkShardMap never produces a row or closes, so the
// only way runScanner's drain loop can proceed is via ctx cancellation.
type stallingCatalog struct{ fakeCatalog }

func (c *stallingCatalog) WalkShardMap(_ context.Context) (<-chan CatalogRow, <-chan error, error) {
	return make(chan CatalogRow), make(chan error), nil
}

func TestRunScanner_ContextCanceledStopsWalk(t *testing.T) {
	cat := &stallingCatalog{}
	scannerCtx, scannerCancel := context.WithCancel(context.Background())
	s := newBareSupervisor(t, Config{Suffix: testSuffix, Catalog: cat, Dial: newFakeDialer()})

	go runScanner(scannerCtx, s, s.scannerID)
	scannerCancel()

	done := recvTaskDone(t, s)
	assert.ErrorIs(t, done.err, context.Canceled)
}
