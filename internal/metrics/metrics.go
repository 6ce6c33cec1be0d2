// Package metrics exports executor and model client activity as Prometheus
// collectors on a private registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/engine"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

const namespace = "auditor"

var _ engine.Observer = (*Metrics)(nil)

// Metrics implements engine.Observer.
type Metrics struct {
	registry *prometheus.Registry

	nodesStarted *prometheus.CounterVec
	nodeOutcomes *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	evidence     *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_started_total",
			Help:      "Graph nodes launched by the executor.",
		}, []string{"node"}),
		nodeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_outcomes_total",
			Help:      "Finished graph nodes by terminal status.",
		}, []string{"node", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Graph node execution time in seconds.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"node"}),
		evidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_items_total",
			Help:      "Evidence items offered by nodes, by merge result.",
		}, []string{"node", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished audit runs by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Audit run time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.registry.MustRegister(m.nodesStarted, m.nodeOutcomes, m.nodeDuration, m.evidence, m.runs, m.runDuration)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// NodeStarted implements engine.Observer.
func (m *Metrics) NodeStarted(node string) { m.nodesStarted.WithLabelValues(node).Inc() }

// NodeFinished implements engine.Observer. Durations are not observed for
// skipped nodes.
func (m *Metrics) NodeFinished(node string, status domain.NodeStatus, elapsed time.Duration) {
	if status != domain.NodeSkipped {
		m.nodeDuration.WithLabelValues(node).Observe(elapsed.Seconds())
	}
	m.nodeOutcomes.WithLabelValues(node, string(status)).Inc()
}

// EvidenceMerged implements engine.Observer.
func (m *Metrics) EvidenceMerged(node string, accepted, rejected int) {
	m.evidence.WithLabelValues(node, "accepted").Add(float64(accepted))
	m.evidence.WithLabelValues(node, "rejected").Add(float64(rejected))
}

// RunFinished implements engine.Observer.
func (m *Metrics) RunFinished(status domain.RunStatus, elapsed time.Duration) {
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// RegisterLLM exposes the model client's resilience counters.
func (m *Metrics) RegisterLLM(stats *llm.Stats) error {
	if stats == nil {
		return errors.New("nil llm stats")
	}
	counter := func(name, help string, load func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load()) })
	}
	collectors := []prometheus.Collector{
		counter("attempts_total", "Provider attempts including retries.", stats.Retry.Attempts.Load),
		counter("successful_retries_total", "Requests that succeeded after a retry.", stats.Retry.SuccessfulRetries.Load),
		counter("retries_exhausted_total", "Requests that failed after the last attempt.", stats.Retry.Exhausted.Load),
		counter("cache_hits_total", "Responses served from the cache.", stats.Cache.Hits.Load),
		counter("cache_misses_total", "Cache lookups that went to the provider.", stats.Cache.Misses.Load),
		counter("cache_errors_total", "Cache operations that failed.", stats.Cache.Errors.Load),
		counter("ratelimit_allowed_total", "Attempts admitted by the rate limiter.", stats.RateLimit.Allowed.Load),
		counter("ratelimit_local_rejected_total", "Attempts rejected by the local token bucket.", stats.RateLimit.LocalRejected.Load),
		counter("ratelimit_global_rejected_total", "Attempts rejected by the shared window.", stats.RateLimit.GlobalRejected.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "ratelimit_degraded",
			Help:      "1 when the shared limiter is unavailable and only local limits apply.",
		}, func() float64 {
			if stats.RateLimit.Degraded.Load() {
				return 1
			}
			return 0
		}),
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logging.FromContext(ctx).Info("metrics listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
