package shardwatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pgo_shardwatch_workers",
		Help: "Number of Change-Reader workers currently running.",
	})

	checkpointSeq = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pgo_shardwatch_checkpoint_seq",
		Help: "Last checkpointed sequence per shard.",
	}, []string{"shard"})

	scanShardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgo_shardwatch_scan_shards_total",
		Help: "Number of resume_scan requests the Scanner has scheduled.",
	})

	callbackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pgo_shardwatch_callback_duration_seconds",
		Help:    "Duration of user Callback invocations by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgo_shardwatch_reader_restarts_total",
		Help: "Number of times a shard's reader was restarted.",
	}, []string{"reason"})
)
