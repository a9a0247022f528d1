// Package metrics records what the sync process is doing as prometheus
// metrics served from the debug host.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
)

var (
	syncTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "transitions_total",
		Help:      "Count of sync state transitions.",
	}, []string{"from", "to", "event"})

	syncState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "state",
		Help:      "Current sync state, 1 for the state the node is in.",
	}, []string{"state"})

	syncAdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "admissions_total",
		Help:      "Count of incoming blocks by admission outcome.",
	}, []string{"outcome"})

	syncJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "jobs_total",
		Help:      "Count of block processing jobs by outcome.",
	}, []string{"outcome"})

	syncJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "job_duration_seconds",
		Help:      "Duration of block processing jobs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	syncJobBlocks = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "job_blocks",
		Help:      "Number of blocks handed to a processing job.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8), // 1..128
	})

	syncRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "rollbacks_total",
		Help:      "Count of rollbacks performed.",
	})

	syncRollbackBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "rollback_blocks_total",
		Help:      "Count of blocks removed by rollbacks.",
	})

	syncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainsync",
		Subsystem: "syncer",
		Name:      "queue_depth",
		Help:      "Number of jobs waiting in the work queue.",
	})
)

// Syncer records the sync process metrics.
type Syncer struct{}

// NewSyncer constructs the sync process recorder.
func NewSyncer() Syncer {
	return Syncer{}
}

// Transition records a state change.
func (Syncer) Transition(from fsm.State, to fsm.State, ev fsm.Event) {
	syncTransitionsTotal.WithLabelValues(from.String(), to.String(), ev.String()).Inc()
	syncState.WithLabelValues(from.String()).Set(0)
	syncState.WithLabelValues(to.String()).Set(1)
}

// Admission records the outcome for an incoming block.
func (Syncer) Admission(outcome string) {
	syncAdmissionsTotal.WithLabelValues(outcome).Inc()
}

// Job records a finished processing job.
func (Syncer) Job(outcome string, blocks int, duration time.Duration) {
	syncJobsTotal.WithLabelValues(outcome).Inc()
	syncJobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	syncJobBlocks.Observe(float64(blocks))
}

// Rollback records a rollback of the specified number of blocks.
func (Syncer) Rollback(blocks int) {
	syncRollbacksTotal.Inc()
	syncRollbackBlocksTotal.Add(float64(blocks))
}

// QueueDepth records the number of waiting jobs.
func (Syncer) QueueDepth(n int) {
	syncQueueDepth.Set(float64(n))
}
