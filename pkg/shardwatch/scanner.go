package shardwatch

import (
	"context"
	"fmt"
	"time"

	utilrand "github.com/edgeflare/pgo/pkg/util/rand"
	"go.uber.org/zap"
)

// runScanner is the startup Scanner of spec.md §4.3: it walks the
// shard-map once, schedules a jittered resume_scan for every locally
// present shard, and then terminates. It never touches the checkpoint
// table directly — every rescan it schedules goes through the ordinary
// resume_scan message, same as one triggered by the event bus.
func runScanner(ctx context.Context, s *Supervisor, id WorkerID) {
	var exitErr error
	defer func() {
		s.sendTaskDone(msgTaskDone{id: id, kind: taskScanner, err: exitErr})
	}()

	suffix := s.cfg.Suffix

	exists, err := s.cfg.Catalog.ShardExists(ctx, suffix)
	if err != nil {
		exitErr = fmt.Errorf("check system database: %w", err)
		return
	}
	if exists {
		s.sendResumeScan(ShardName(suffix))
	}

	rows, errCh, err := s.cfg.Catalog.WalkShardMap(ctx)
	if err != nil {
		exitErr = fmt.Errorf("walk shard map: %w", err)
		return
	}

	avg, max := s.jitterBounds()
	n := 1

	// Scheduled rescans run detached from the Scanner task: the Scanner
	// itself is a one-shot pass over the shard map and terminates as
	// soon as it has walked it, regardless of how far out its jitter
	// delays reach.
drain:
	for {
		select {
		case row, ok := <-rows:
			if !ok {
				break drain
			}
			if row.Deleted || IsDesignDoc(row.ID) {
				continue
			}
			if SuffixOf(row.ID) != suffix {
				continue
			}

			shards, lsErr := s.cfg.Catalog.LocalShards(ctx, row.ID)
			if lsErr != nil {
				s.logger.Warn("local_shards failed",
					zap.String("database", row.ID), zap.Error(lsErr))
				continue
			}

			for _, shard := range shards {
				delay := utilrand.Jitter(n, avg, max)
				n++
				scanShardsTotal.Inc()

				shard := shard
				go scheduleResumeScan(ctx, s, shard, delay)
			}

		case walkErr, ok := <-errCh:
			if !ok {
				errCh = nil // don't spin on a closed channel; rows closing ends the loop
				continue
			}
			if walkErr != nil {
				exitErr = fmt.Errorf("walk shard map: %w", walkErr)
				return
			}

		case <-ctx.Done():
			exitErr = ctx.Err()
			return
		}
	}
}

func scheduleResumeScan(ctx context.Context, s *Supervisor, shard ShardName, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		s.sendResumeScan(shard)
	case <-ctx.Done():
	}
}
