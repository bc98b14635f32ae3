// Package kafka implements shardwatch.EventBus on top of a sarama
// consumer group, following the broker/topic conventions of
// pkg/pipeline/peer/kafka.
package kafka

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/edgeflare/pgo/pkg/shardwatch"
)

// Config configures the consumer-group-backed event bus.
type Config struct {
	Brokers     []string `json:"brokers"`
	Topic       string   `json:"topic"`
	GroupID     string   `json:"groupId"`
	Version     string   `json:"version,omitempty"`
	TopicPrefix string   `json:"topicPrefix,omitempty"`
}

func (c *Config) withDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	c.TopicPrefix = cmp.Or(c.TopicPrefix, "pgo")
	c.Topic = cmp.Or(c.Topic, c.TopicPrefix+".shard-events")
	c.GroupID = cmp.Or(c.GroupID, "pgo-shardwatch")
	c.Version = cmp.Or(c.Version, "2.1.1")
}

type notification struct {
	Database string `json:"database"`
	Op       string `json:"op"`
}

// Bus subscribes to shard lifecycle notifications from a Kafka topic.
type Bus struct {
	Config Config
}

// Subscribe implements shardwatch.EventBus.
func (b *Bus) Subscribe(ctx context.Context) (<-chan shardwatch.BusEvent, <-chan error, error) {
	b.Config.withDefaults()

	saramaConfig := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion(b.Config.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid Kafka version: %w", err)
	}
	saramaConfig.Version = version
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(b.Config.Brokers, b.Config.GroupID, saramaConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create consumer group: %w", err)
	}

	events := make(chan shardwatch.BusEvent)
	done := make(chan error, 1)
	handler := &groupHandler{events: events, ctx: ctx}

	go func() {
		defer group.Close()
		defer close(events)
		defer close(done)

		for {
			if err := group.Consume(ctx, []string{b.Config.Topic}, handler); err != nil {
				done <- fmt.Errorf("consume: %w", err)
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for err := range group.Errors() {
			_ = err // surfaced via done on fatal Consume errors; per-message errors are logged by sarama itself
		}
	}()

	return events, done, nil
}

type groupHandler struct {
	events chan<- shardwatch.BusEvent
	ctx    context.Context
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			var n notification
			if err := json.Unmarshal(msg.Value, &n); err != nil {
				sess.MarkMessage(msg, "")
				continue
			}
			ev := shardwatch.BusEvent{Database: n.Database, Kind: kindFromOp(n.Op)}
			select {
			case h.events <- ev:
				sess.MarkMessage(msg, "")
			case <-h.ctx.Done():
				return nil
			}
		case <-h.ctx.Done():
			return nil
		}
	}
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
