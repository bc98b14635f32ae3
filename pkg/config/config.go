// Package config loads pgo's application-wide configuration from a YAML
// file (or environment variables prefixed PGO_) via spf13/viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edgeflare/pgo/pkg/pipeline"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags "-X .../pkg/config.Version=...".
var Version = "dev"

// Config holds application-wide configuration.
type Config struct {
	Watch    WatchConfig     `mapstructure:"watch"`
	Pipeline pipeline.Config `mapstructure:"pipeline"`
}

// WatchConfig configures the shard-watch supervisor started by `pgo watch`.
type WatchConfig struct {
	// Suffix selects which local shard databases the supervisor follows;
	// only shards whose trailing dotted component equals Suffix are read.
	Suffix string `mapstructure:"suffix"`
	// SkipDesignDocs drops rows whose id carries the reserved design-doc
	// prefix before they reach the fan-out callback.
	SkipDesignDocs bool `mapstructure:"skipDesignDocs"`
	// CatalogDSN connects to the control-plane database holding the shard
	// catalog table (the "shard-map database" of spec.md §6).
	CatalogDSN string `mapstructure:"catalogDSN"`
	// CatalogTable is the shard catalog table name, default "pgo_shard_catalog".
	CatalogTable string `mapstructure:"catalogTable"`
	// ShardDSNTemplate builds a per-shard connection string; "%s" is
	// replaced with the shard's database name.
	ShardDSNTemplate string `mapstructure:"shardDSNTemplate"`
	// EventBus selects the cluster event bus transport: "postgres", "nats", or "kafka".
	EventBus       string             `mapstructure:"eventBus"`
	EventBusConfig EventBusConfig     `mapstructure:"eventBusConfig"`
	Jitter         JitterConfig       `mapstructure:"jitter"`
	Metrics        WatchMetricsConfig `mapstructure:"metrics"`
}

// EventBusConfig carries the union of settings for every EventBus backend;
// only the fields relevant to WatchConfig.EventBus are consulted.
type EventBusConfig struct {
	// Postgres LISTEN/NOTIFY channel name.
	Channel string `mapstructure:"channel"`
	// NATS / Kafka
	Servers []string `mapstructure:"servers"`
	Subject string   `mapstructure:"subject"` // NATS
	Topic   string   `mapstructure:"topic"`   // Kafka
	GroupID string   `mapstructure:"groupID"` // Kafka consumer group
}

// JitterConfig overrides the Scanner's rescan-scheduling jitter (spec.md §4.3).
type JitterConfig struct {
	AvgDelay time.Duration `mapstructure:"avgDelay"`
	MaxDelay time.Duration `mapstructure:"maxDelay"`
}

// WatchMetricsConfig configures the Prometheus endpoint serving shardwatch metrics.
type WatchMetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		CatalogTable: "pgo_shard_catalog",
		EventBus:     "postgres",
		EventBusConfig: EventBusConfig{
			Channel: "pgo_shard_events",
		},
		Metrics: WatchMetricsConfig{
			Enabled: true,
			Addr:    ":9100",
		},
	}
}

// Load reads config from file or environment.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgo")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PGO")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", v.ConfigFileUsed())
	}

	cfg := Config{Watch: DefaultWatchConfig()}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}
