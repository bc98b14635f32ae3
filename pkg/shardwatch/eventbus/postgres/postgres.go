// Package postgres implements shardwatch.EventBus on top of PostgreSQL's
// LISTEN/NOTIFY, so a control-plane process that creates or drops shard
// databases can announce it with a plain NOTIFY statement.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgeflare/pgo/pkg/shardwatch"

	pgowrap "github.com/edgeflare/pgo/pkg/pgx"
	"github.com/jackc/pgx/v5"
)

// notification is the wire format expected on the NOTIFY channel:
//
//	NOTIFY shard_events, '{"database":"acct.suff.0123456789","op":"created"}'
type notification struct {
	Database string `json:"database"`
	Op       string `json:"op"`
}

// Bus subscribes to a single NOTIFY channel using a dedicated connection.
type Bus struct {
	// ConnString is a standard libpq connection string. A fresh
	// connection is opened for every Subscribe call.
	ConnString string
	// Channel is the NOTIFY channel name to LISTEN on. Defaults to
	// "shard_events".
	Channel string
}

func (b *Bus) channel() string {
	if b.Channel == "" {
		return "shard_events"
	}
	return b.Channel
}

// Subscribe implements shardwatch.EventBus.
func (b *Bus) Subscribe(ctx context.Context) (<-chan shardwatch.BusEvent, <-chan error, error) {
	conn, err := pgx.Connect(ctx, b.ConnString)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	raw, rawErrs := pgowrap.Listen(ctx, conn, b.channel())

	events := make(chan shardwatch.BusEvent)
	done := make(chan error, 1)

	go func() {
		defer conn.Close(context.Background())
		defer close(events)
		defer close(done)

		for {
			select {
			case n, ok := <-raw:
				if !ok {
					raw = nil
					continue
				}
				ev, perr := decode(n.Payload)
				if perr != nil {
					continue // malformed payload: ignore, the bus stays alive
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			case err, ok := <-rawErrs:
				if !ok {
					return
				}
				done <- err
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, done, nil
}

func decode(payload string) (shardwatch.BusEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return shardwatch.BusEvent{}, fmt.Errorf("decode notification: %w", err)
	}

	var kind shardwatch.BusEventKind
	switch n.Op {
	case "created":
		kind = shardwatch.BusCreated
	case "deleted":
		kind = shardwatch.BusDeleted
	case "updated":
		kind = shardwatch.BusUpdated
	default:
		kind = shardwatch.BusUnknown
	}

	return shardwatch.BusEvent{Database: n.Database, Kind: kind}, nil
}
