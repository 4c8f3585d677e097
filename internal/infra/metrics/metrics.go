// Package metrics exposes the service's Prometheus instrumentation behind
// a single registry struct assembled at process start.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	EventsIngested   prometheus.Counter
	EventsRejected   *prometheus.CounterVec
	BlocksBuilt      prometheus.Counter
	BatchesFormed    prometheus.Counter
	BatchesAnchored  prometheus.Counter
	BatchesParked    prometheus.Counter
	JobsEnqueued     prometheus.Counter
	JobsDeduped      prometheus.Counter
	JobsDeadLettered prometheus.Counter
	ProofFetchRetry  prometheus.Counter
	TickDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "events_ingested_total",
			Help: "Events accepted after signature validation",
		}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "events_rejected_total",
			Help: "Event submissions rejected, by reason",
		}, []string{"reason"}),
		BlocksBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "blocks_built_total",
			Help: "Hash-chain blocks committed",
		}),
		BatchesFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "batches_formed_total",
			Help: "Rollup batches created",
		}),
		BatchesAnchored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "batches_anchored_total",
			Help: "Batches anchored (externally or locally)",
		}),
		BatchesParked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "batches_parked_total",
			Help: "Batches parked in proof_fetch_failed",
		}),
		JobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "jobs_enqueued_total",
			Help: "Prover jobs enqueued",
		}),
		JobsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "jobs_deduped_total",
			Help: "Job requests short-circuited to an existing job",
		}),
		JobsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "jobs_dead_lettered_total",
			Help: "Queue entries moved to the dead-letter stream",
		}),
		ProofFetchRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veriledger", Name: "proof_fetch_retries_total",
			Help: "Proof artifact fetch attempts beyond the first",
		}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "veriledger", Name: "tick_duration_seconds",
			Help:    "Periodic loop tick duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
	}
	reg.MustRegister(
		m.EventsIngested, m.EventsRejected, m.BlocksBuilt,
		m.BatchesFormed, m.BatchesAnchored, m.BatchesParked,
		m.JobsEnqueued, m.JobsDeduped, m.JobsDeadLettered,
		m.ProofFetchRetry, m.TickDuration,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
