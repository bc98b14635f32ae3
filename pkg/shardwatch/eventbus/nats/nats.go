// Package nats implements shardwatch.EventBus over a NATS JetStream
// subject, following the same subject/consumer conventions as
// pkg/pipeline/peer/nats.
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgeflare/pgo/pkg/shardwatch"
	"github.com/nats-io/nats.go"
)

// Config configures the JetStream-backed event bus.
type Config struct {
	Servers []string `json:"servers"`
	Stream  string   `json:"stream"`
	Subject string   `json:"subject"`
}

func (c *Config) withDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{nats.DefaultURL}
	}
	c.Subject = cmp.Or(c.Subject, "pgo.shards.>")
	c.Stream = cmp.Or(c.Stream, "pgo-shard-events")
}

// notification is the JSON payload published to Subject.
type notification struct {
	Database string `json:"database"`
	Op       string `json:"op"`
}

// Bus subscribes to shard lifecycle notifications over JetStream.
type Bus struct {
	Config Config
}

// Subscribe implements shardwatch.EventBus.
func (b *Bus) Subscribe(ctx context.Context) (<-chan shardwatch.BusEvent, <-chan error, error) {
	b.Config.withDefaults()

	var nc *nats.Conn
	var err error
	for _, server := range b.Config.Servers {
		nc, err = nats.Connect(server)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     b.Config.Stream,
		Subjects: []string{b.Config.Subject},
		Storage:  nats.FileStorage,
	}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream: %w", err)
	}

	sub, err := js.PullSubscribe(b.Config.Subject, "pgo-shardwatch")
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create subscription: %w", err)
	}

	events := make(chan shardwatch.BusEvent)
	done := make(chan error, 1)

	go func() {
		defer nc.Close()
		defer sub.Unsubscribe()
		defer close(events)
		defer close(done)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				done <- fmt.Errorf("fetch messages: %w", err)
				return
			}

			for _, msg := range msgs {
				var n notification
				if err := json.Unmarshal(msg.Data, &n); err != nil {
					msg.Nak()
					continue
				}
				ev := shardwatch.BusEvent{Database: n.Database, Kind: kindFromOp(n.Op)}
				select {
				case events <- ev:
					msg.Ack()
				case <-ctx.Done():
					msg.Nak()
					return
				}
			}
		}
	}()

	return events, done, nil
}

func kindFromOp(op string) shardwatch.BusEventKind {
	switch op {
	case "created":
		return shardwatch.BusCreated
	case "deleted":
		return shardwatch.BusDeleted
	case "updated":
		return shardwatch.BusUpdated
	default:
		return shardwatch.BusUnknown
	}
}
