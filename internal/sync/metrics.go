package sync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "persistence_sync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	ObjectsFetched    metrics.Counter
	ObjectsSkipped    metrics.Counter
	BytesFetched      metrics.Counter
	SnapshotRounds    metrics.Counter
	DiffsApplied      metrics.Counter
	CurrentTxBlock    metrics.Gauge
	ArchivesExtracted metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library. Optionally, labels can be provided along with their values
// ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		ObjectsFetched: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "objects_fetched",
			Help:      "The number of objects downloaded and verified.",
		}, labels).With(labelsAndValues...),
		ObjectsSkipped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "objects_skipped",
			Help:      "The number of objects skipped due to per-object failures.",
		}, labels).With(labelsAndValues...),
		BytesFetched: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bytes_fetched",
			Help:      "The total number of verified bytes written to the replica.",
		}, labels).With(labelsAndValues...),
		SnapshotRounds: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "snapshot_rounds",
			Help:      "The number of full snapshot phases executed.",
		}, labels).With(labelsAndValues...),
		DiffsApplied: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "diffs_applied",
			Help:      "The number of diff archives applied to the replica.",
		}, labels).With(labelsAndValues...),
		CurrentTxBlock: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "current_tx_block",
			Help:      "The most recent tx block the replica has been advanced to.",
		}, labels).With(labelsAndValues...),
		ArchivesExtracted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "archives_extracted",
			Help:      "The number of tar.gz archives extracted.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		ObjectsFetched:    discard.NewCounter(),
		ObjectsSkipped:    discard.NewCounter(),
		BytesFetched:      discard.NewCounter(),
		SnapshotRounds:    discard.NewCounter(),
		DiffsApplied:      discard.NewCounter(),
		CurrentTxBlock:    discard.NewGauge(),
		ArchivesExtracted: discard.NewCounter(),
	}
}
