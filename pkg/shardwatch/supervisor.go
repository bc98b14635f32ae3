package shardwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options recognizes the constructor options from spec.md §6.
type Options struct {
	// SkipDesignDocs drops change rows whose ID carries DesignDocPrefix
	// before they reach Callback.DBChange.
	SkipDesignDocs bool
}

// ShardDialer opens the finite, catch-up-then-stop change feed for one
// shard (spec.md §4.2's "Change-Reader worker"). Implementations are the
// consumed "change-feed primitive" of spec.md §6.
type ShardDialer interface {
	// OpenChangeFeed streams every row since the given sequence and
	// closes rows once the feed has caught up to the shard's current
	// backlog. stoppedAt receives exactly one value — the sequence to
	// resume from next time — iff the feed ended normally; it is closed
	// without a value on abnormal termination.
	OpenChangeFeed(ctx context.Context, shard ShardName, since Sequence) (rows <-chan Row, stoppedAt <-chan Sequence, err error)
}

// Config wires the Supervisor to its external collaborators (spec.md §6).
type Config struct {
	// Suffix selects which shards this Supervisor follows.
	Suffix   string
	Catalog  ShardCatalog
	EventBus EventBus
	Dial     ShardDialer
	Logger   *zap.Logger

	// JitterAvgDelay / JitterMaxDelay override the Scanner's rescan
	// scheduling jitter (spec.md §4.3 defaults: 10ms / 120s).
	JitterAvgDelay time.Duration
	JitterMaxDelay time.Duration
}

func (c *Config) validate() error {
	if c.Suffix == "" {
		return fmt.Errorf("shardwatch: suffix must not be empty")
	}
	if c.Catalog == nil {
		return fmt.Errorf("shardwatch: catalog must not be nil")
	}
	if c.EventBus == nil {
		return fmt.Errorf("shardwatch: event bus must not be nil")
	}
	if c.Dial == nil {
		return fmt.Errorf("shardwatch: dialer must not be nil")
	}
	return nil
}

type taskKind int

const (
	taskWorker taskKind = iota
	taskScanner
	taskEventBus
)

type msgChange struct {
	shard ShardName
	row   Row
	ack   chan struct{}
}

type msgCheckpoint struct {
	shard  ShardName
	endSeq Sequence
	worker WorkerID
	ack    chan struct{}
}

type msgResumeScan struct {
	shard ShardName
}

type msgBusEvent struct {
	ev BusEvent
}

type msgTaskDone struct {
	id    WorkerID
	kind  taskKind
	shard ShardName
	err   error
}

// Supervisor is the concurrent fan-out supervisor of spec.md §4.1: it
// discovers shards, owns one Change-Reader per shard, and serializes every
// mutation of its checkpoint table and workers map through a single
// message loop.
type Supervisor struct {
	cfg      Config
	callback *safeCallback
	logger   *zap.Logger

	inbox chan any

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	checkpoints map[ShardName]*CheckpointEntry
	workers     map[WorkerID]ShardName

	scannerID WorkerID
	busToken  WorkerID

	// scannerAlive is read by ScannerAlive from outside the loop
	// goroutine, so it is guarded by mu alongside the checkpoint table.
	scannerAlive bool

	stopOnce sync.Once
	stopped  chan struct{}
	stopErr  error
}

// StartLink starts a Supervisor following every local shard whose name
// carries cfg.Suffix, delivering events to cb starting from initialCtx.
// It returns an error only on invalid arguments (spec.md §7).
func StartLink(ctx context.Context, cfg Config, cb Callback, initialCtx any, opts Options) (*Supervisor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, fmt.Errorf("shardwatch: callback must not be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Supervisor{
		cfg:         cfg,
		callback:    newSafeCallback(cb, logger),
		logger:      logger,
		inbox:       make(chan any),
		ctx:         sctx,
		cancel:      cancel,
		checkpoints: make(map[ShardName]*CheckpointEntry),
		workers:     make(map[WorkerID]ShardName),
		scannerID:   WorkerID(uuid.NewString()),
		busToken:    WorkerID(uuid.NewString()),
		stopped:     make(chan struct{}),
	}
	s.scannerAlive = true

	events, done, err := cfg.EventBus.Subscribe(sctx)
	if err != nil {
		// A subscription that cannot be opened is reported like a bus that
		// dies later: the Supervisor terminates with event_bus_died.
		failed := make(chan error, 1)
		failed <- fmt.Errorf("subscribe event bus: %w", err)
		events, done = nil, failed
	}
	go s.watchEventBus(events, done)

	go runScanner(sctx, s, s.scannerID)

	go s.run(initialCtx, opts)

	return s, nil
}

// Done returns a channel closed once the Supervisor has terminated.
func (s *Supervisor) Done() <-chan struct{} { return s.stopped }

// Err returns the termination reason. It is only meaningful after Done()
// has been closed.
func (s *Supervisor) Err() error { return s.stopErr }

// Shutdown requests a graceful stop and waits for it, bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.finish(nil)
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScannerAlive reports whether the startup Scanner is still running.
func (s *Supervisor) ScannerAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scannerAlive
}

// Snapshot returns a point-in-time copy of the checkpoint table.
func (s *Supervisor) Snapshot() map[ShardName]CheckpointEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ShardName]CheckpointEntry, len(s.checkpoints))
	for k, v := range s.checkpoints {
		out[k] = *v
	}
	return out
}

func (s *Supervisor) run(initialCtx any, opts Options) {
	userCtx := initialCtx
	for {
		select {
		case m := <-s.inbox:
			switch msg := m.(type) {
			case msgChange:
				userCtx = s.handleChange(msg, userCtx, opts)
			case msgCheckpoint:
				s.handleCheckpoint(msg)
			case msgResumeScan:
				userCtx = s.handleResumeScan(msg.shard, userCtx)
			case msgBusEvent:
				userCtx = s.handleBusEvent(msg.ev, userCtx)
			case msgTaskDone:
				var terminate bool
				userCtx, terminate = s.handleTaskDone(msg, userCtx)
				if terminate {
					return
				}
			}
		case <-s.ctx.Done():
			s.finish(s.ctx.Err())
			return
		}
	}
}

func (s *Supervisor) handleChange(msg msgChange, userCtx any, opts Options) any {
	defer close(msg.ack)
	if opts.SkipDesignDocs && IsDesignDoc(msg.row.ID) {
		return userCtx
	}
	timer := prometheus.NewTimer(callbackDuration.WithLabelValues("db_change"))
	defer timer.ObserveDuration()
	return s.callback.DBChange(s.ctx, msg.shard, msg.row, userCtx)
}

func (s *Supervisor) handleCheckpoint(msg msgCheckpoint) {
	defer close(msg.ack)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.checkpoints[msg.shard]
	if !ok || entry.Worker != msg.worker {
		return // stale: worker no longer owns this shard, or shard unknown
	}
	entry.EndSeq = msg.endSeq
	checkpointSeq.WithLabelValues(string(msg.shard)).Set(float64(entry.EndSeq))
}

func (s *Supervisor) handleResumeScan(shard ShardName, userCtx any) any {
	s.mu.Lock()
	entry, ok := s.checkpoints[shard]

	switch {
	case !ok:
		id := s.spawnReader(shard, NoSequence)
		s.checkpoints[shard] = &CheckpointEntry{Shard: shard, EndSeq: NoSequence, Worker: id}
		s.mu.Unlock()
		timer := prometheus.NewTimer(callbackDuration.WithLabelValues("db_found"))
		defer timer.ObserveDuration()
		return s.callback.DBFound(s.ctx, shard, userCtx)

	case !entry.hasWorker():
		id := s.spawnReader(shard, entry.EndSeq)
		entry.Worker = id
		entry.RescanPending = false
		s.mu.Unlock()
		return userCtx

	default:
		entry.RescanPending = true
		s.mu.Unlock()
		return userCtx
	}
}

func (s *Supervisor) handleBusEvent(ev BusEvent, userCtx any) any {
	if SuffixOf(ev.Database) != s.cfg.Suffix {
		return userCtx
	}
	shard := ShardName(ev.Database)

	switch ev.Kind {
	case BusCreated:
		timer := prometheus.NewTimer(callbackDuration.WithLabelValues("db_created"))
		newCtx := s.callback.DBCreated(s.ctx, shard, userCtx)
		timer.ObserveDuration()
		return s.handleResumeScan(shard, newCtx)

	case BusDeleted:
		timer := prometheus.NewTimer(callbackDuration.WithLabelValues("db_deleted"))
		defer timer.ObserveDuration()
		return s.callback.DBDeleted(s.ctx, shard, userCtx)

	case BusUpdated:
		return s.handleResumeScan(shard, userCtx)

	default:
		return userCtx
	}
}

func (s *Supervisor) handleTaskDone(msg msgTaskDone, userCtx any) (any, bool) {
	switch msg.kind {
	case taskEventBus:
		if msg.id == s.busToken {
			s.finish(fmt.Errorf("event_bus_died: %v", msg.err))
			return userCtx, true
		}

	case taskScanner:
		if msg.id == s.scannerID {
			s.mu.Lock()
			s.scannerAlive = false
			s.mu.Unlock()
			if msg.err != nil {
				s.finish(fmt.Errorf("scanner_died: %w", msg.err))
				return userCtx, true
			}
			return userCtx, false
		}

	case taskWorker:
		if shard, ok := s.workers[msg.id]; ok {
			delete(s.workers, msg.id)
			workersGauge.Set(float64(len(s.workers)))
			if msg.err != nil {
				s.logger.Error("reader exited abnormally",
					zap.String("shard", string(shard)), zap.Error(msg.err))
				restartsTotal.WithLabelValues("error").Inc()
			}

			s.mu.Lock()
			entry := s.checkpoints[shard]
			var rescan bool
			if entry != nil && entry.Worker == msg.id {
				entry.Worker = ""
				rescan = entry.RescanPending
			}
			s.mu.Unlock()

			if rescan {
				restartsTotal.WithLabelValues("rescan_pending").Inc()
				return s.handleResumeScan(shard, userCtx), false
			}
			return userCtx, false
		}
	}

	// Not the event-bus token, not the scanner, not a tracked worker: an
	// invariant was violated somewhere.
	s.finish(fmt.Errorf("unexpected_exit: task=%s reason=%v", msg.id, msg.err))
	return userCtx, true
}

func (s *Supervisor) spawnReader(shard ShardName, since Sequence) WorkerID {
	id := WorkerID(uuid.NewString())
	s.workers[id] = shard
	workersGauge.Set(float64(len(s.workers)))
	go runReader(s.ctx, s, shard, since, id)
	return id
}

func (s *Supervisor) finish(err error) {
	s.stopOnce.Do(func() {
		s.stopErr = err
		s.cancel()
		close(s.stopped)
	})
}

func (s *Supervisor) watchEventBus(events <-chan BusEvent, done <-chan error) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.sendBusEvent(ev)
		case err := <-done:
			s.sendTaskDone(msgTaskDone{id: s.busToken, kind: taskEventBus, err: err})
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Supervisor) jitterBounds() (time.Duration, time.Duration) {
	avg := s.cfg.JitterAvgDelay
	if avg <= 0 {
		avg = 10 * time.Millisecond
	}
	max := s.cfg.JitterMaxDelay
	if max <= 0 {
		max = 120 * time.Second
	}
	return avg, max
}

// --- inbox senders used by Reader/Scanner/EventBus goroutines ---

func (s *Supervisor) sendChange(shard ShardName, row Row) {
	ack := make(chan struct{})
	select {
	case s.inbox <- msgChange{shard: shard, row: row, ack: ack}:
	case <-s.ctx.Done():
		return
	}
	select {
	case <-ack:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) sendCheckpoint(shard ShardName, endSeq Sequence, worker WorkerID) {
	ack := make(chan struct{})
	select {
	case s.inbox <- msgCheckpoint{shard: shard, endSeq: endSeq, worker: worker, ack: ack}:
	case <-s.ctx.Done():
		return
	}
	select {
	case <-ack:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) sendResumeScan(shard ShardName) {
	select {
	case s.inbox <- msgResumeScan{shard: shard}:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) sendBusEvent(ev BusEvent) {
	select {
	case s.inbox <- msgBusEvent{ev: ev}:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) sendTaskDone(msg msgTaskDone) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
	}
}
