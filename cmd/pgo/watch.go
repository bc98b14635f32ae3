package pgo

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/pgo/pkg/config"
	"github.com/edgeflare/pgo/pkg/metrics"
	"github.com/edgeflare/pgo/pkg/pipeline"
	"github.com/edgeflare/pgo/pkg/pipeline/cdc"
	"github.com/edgeflare/pgo/pkg/shardwatch"
	"github.com/edgeflare/pgo/pkg/shardwatch/catalog"
	busKafka "github.com/edgeflare/pgo/pkg/shardwatch/eventbus/kafka"
	busNats "github.com/edgeflare/pgo/pkg/shardwatch/eventbus/nats"
	busPostgres "github.com/edgeflare/pgo/pkg/shardwatch/eventbus/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// shardwatchSourceName is the synthetic pipeline source name that shard
// change rows are attributed to when fanning out through pkg/pipeline.
const shardwatchSourceName = "shardwatch"

const shutdownTimeout = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow every local shard database and fan out its changes",
	Long: `watch discovers local shard databases sharing a configured suffix,
keeps one logical-replication reader running per shard, and fans out
insert/update/delete rows into the pipelines configured under "pipeline"
whose source name is "shardwatch".`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	if cfg.Watch.Metrics.Enabled {
		go metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: cfg.Watch.Metrics.Addr})
	}

	catalogPool, err := pgxpool.New(ctx, cfg.Watch.CatalogDSN)
	if err != nil {
		return fmt.Errorf("connect to shard catalog: %w", err)
	}
	defer catalogPool.Close()

	bus, err := buildEventBus(cfg.Watch)
	if err != nil {
		return fmt.Errorf("build event bus: %w", err)
	}

	dial := &shardwatch.PostgresDialer{
		ConnString: func(shard shardwatch.ShardName) string {
			return fmt.Sprintf(cfg.Watch.ShardDSNTemplate, string(shard))
		},
	}

	callback, err := buildCallback(ctx, &wg)
	if err != nil {
		return fmt.Errorf("build fan-out callback: %w", err)
	}

	sup, err := shardwatch.StartLink(ctx, shardwatch.Config{
		Suffix:         cfg.Watch.Suffix,
		Catalog:        &catalog.Postgres{Pool: catalogPool, Table: cfg.Watch.CatalogTable},
		EventBus:       bus,
		Dial:           dial,
		Logger:         logger,
		JitterAvgDelay: cfg.Watch.Jitter.AvgDelay,
		JitterMaxDelay: cfg.Watch.Jitter.MaxDelay,
	}, callback, nil, shardwatch.Options{SkipDesignDocs: cfg.Watch.SkipDesignDocs})
	if err != nil {
		return fmt.Errorf("start shard watch supervisor: %w", err)
	}

	select {
	case <-sigChan:
		logger.Info("received termination signal, shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := sup.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown did not complete cleanly", zap.Error(err))
		}
	case <-sup.Done():
		if err := sup.Err(); err != nil {
			logger.Error("shard watch supervisor terminated", zap.Error(err))
		}
	}

	cancel()
	wg.Wait()
	return sup.Err()
}

func buildEventBus(wc config.WatchConfig) (shardwatch.EventBus, error) {
	switch strings.ToLower(wc.EventBus) {
	case "", "postgres":
		return &busPostgres.Bus{
			ConnString: wc.CatalogDSN,
			Channel:    wc.EventBusConfig.Channel,
		}, nil
	case "nats":
		return &busNats.Bus{Config: busNats.Config{
			Servers: wc.EventBusConfig.Servers,
			Subject: wc.EventBusConfig.Subject,
		}}, nil
	case "kafka":
		return &busKafka.Bus{Config: busKafka.Config{
			Brokers: wc.EventBusConfig.Servers,
			Topic:   wc.EventBusConfig.Topic,
			GroupID: wc.EventBusConfig.GroupID,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown event bus %q", wc.EventBus)
	}
}

// buildCallback wires shard change rows into every configured pipeline
// whose source name is shardwatchSourceName, reusing pkg/pipeline's own
// manager, sink setup and transformation chain — one shardwatch.FanoutCallback
// per matching pipeline, combined with shardwatch.MultiCallback.
func buildCallback(ctx context.Context, wg *sync.WaitGroup) (shardwatch.Callback, error) {
	m := pipeline.NewManager()
	if err := m.Init(&cfg.Pipeline); err != nil {
		return nil, fmt.Errorf("initialize pipeline peers: %w", err)
	}

	var fanouts shardwatch.MultiCallback

	for _, pl := range cfg.Pipeline.Pipelines {
		var source *pipeline.Source
		for _, src := range pl.Sources {
			if src.Name == shardwatchSourceName {
				source = &src
				break
			}
		}
		if source == nil {
			continue
		}

		sinkChannels := make(map[string]chan cdc.Event, len(pl.Sinks))
		for _, sink := range pl.Sinks {
			sinkChannels[sink.Name] = make(chan cdc.Event, 100)
		}
		if err := pipeline.SetupSinks(ctx, m, wg, pl, sinkChannels); err != nil {
			return nil, fmt.Errorf("setup sinks for pipeline %s: %w", pl.Name, err)
		}

		fanouts = append(fanouts, &shardwatch.FanoutCallback{
			Pipeline:     pl,
			Source:       *source,
			SinkChannels: sinkChannels,
		})
	}

	if len(fanouts) == 0 {
		log.Printf("no pipeline declares a %q source; shard changes will not be fanned out", shardwatchSourceName)
		return shardwatch.NopCallback{}, nil
	}

	return fanouts, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	var zapLevel zap.AtomicLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	return cfg.Build()
}
