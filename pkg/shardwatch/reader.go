package shardwatch

import (
	"context"
	"fmt"
)

// runReader is the Change-Reader worker of spec.md §4.2: it opens shard's
// change feed at since, forwards every row to the Supervisor as a
// synchronous change message, and checkpoints the feed's stop sequence
// before exiting. Its own exit — with or without error — is reported back
// to the Supervisor as a task-done message, mirroring an Erlang worker
// linked to its supervisor.
func runReader(ctx context.Context, s *Supervisor, shard ShardName, since Sequence, id WorkerID) {
	var exitErr error
	defer func() {
		s.sendTaskDone(msgTaskDone{id: id, kind: taskWorker, shard: shard, err: exitErr})
	}()

	rows, stoppedAt, err := s.cfg.Dial.OpenChangeFeed(ctx, shard, since)
	if err != nil {
		exitErr = fmt.Errorf("open change feed: %w", err)
		return
	}

	for row := range rows {
		s.sendChange(shard, row)
	}

	select {
	case endSeq, ok := <-stoppedAt:
		if !ok {
			exitErr = fmt.Errorf("change feed ended without reporting a stop sequence")
			return
		}
		s.sendCheckpoint(shard, endSeq, id)
	case <-ctx.Done():
		exitErr = ctx.Err()
	}
}
