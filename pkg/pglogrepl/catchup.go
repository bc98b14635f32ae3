package pglogrepl

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeflare/pgo/pkg/pipeline/cdc"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

// StreamCatchUp behaves like Stream, but the returned stream is finite: it
// consumes the shard's current WAL backlog starting at since (0 meaning
// "from the server's current position") and terminates normally, reporting
// the LSN it stopped at, once two consecutive keepalives show no WAL
// arrived in between. Callers that want continuous coverage restart
// StreamCatchUp from the reported LSN; this mirrors spec.md's "feed=normal"
// (finite) change-feed contract for a replication protocol that has no
// native notion of a bounded feed.
func StreamCatchUp(ctx context.Context, conn *pgconn.PgConn, cfg *Config, since pglogrepl.LSN) (<-chan cdc.Event, <-chan pglogrepl.LSN, error) {
	if conn == nil {
		return nil, nil, fmt.Errorf("nil connection")
	}

	cfg = mergeWithDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	startLSN, err := setupReplication(ctx, conn, cfg, since)
	if err != nil {
		return nil, nil, fmt.Errorf("setup replication: %w", err)
	}

	events := make(chan cdc.Event, cfg.BufferSize)
	stopped := make(chan pglogrepl.LSN, 1)
	go streamEventsCatchUp(ctx, conn, cfg, startLSN, events, stopped)
	return events, stopped, nil
}

func streamEventsCatchUp(
	ctx context.Context,
	conn *pgconn.PgConn,
	cfg *Config,
	startLSN pglogrepl.LSN,
	events chan<- cdc.Event,
	stopped chan<- pglogrepl.LSN,
) {
	defer close(events)
	defer close(stopped)

	relations := make(map[uint32]*pglogrepl.RelationMessageV2)
	typeMap := pgtype.NewMap()
	nextStandby := time.Now().Add(cfg.StandbyUpdateInterval)
	walPos := startLSN
	inStream := false
	sawDataSinceKeepalive := false
	serverAddr := conn.Conn().RemoteAddr().String()

	for {
		if time.Now().After(nextStandby) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: walPos}); err != nil {
				stopped <- walPos
				return
			}
			nextStandby = time.Now().Add(cfg.StandbyUpdateInterval)
		}

		msgCtx, cancel := context.WithDeadline(ctx, nextStandby)
		msg, err := conn.ReceiveMessage(msgCtx)
		cancel()

		if err != nil {
			if !pgconn.Timeout(err) {
				return // abnormal: caller sees the events channel close with no stop record
			}
			continue
		}

		copyData, ok := msg.(*pgproto3.CopyData)
		if !ok {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, perr := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if perr != nil {
				continue
			}
			if !sawDataSinceKeepalive && pkm.ServerWALEnd <= walPos {
				stopped <- walPos
				return
			}
			if pkm.ServerWALEnd > walPos {
				walPos = pkm.ServerWALEnd
			}
			sawDataSinceKeepalive = false

		case pglogrepl.XLogDataByteID:
			xld, perr := pglogrepl.ParseXLogData(copyData.Data[1:])
			if perr != nil {
				continue
			}
			if xld.WALStart > walPos {
				walPos = xld.WALStart
			}
			sawDataSinceKeepalive = true
			for _, event := range processV2(xld.WALData, relations, typeMap, &inStream, cfg.DBName, serverAddr) {
				events <- event
			}
		}
	}
}
