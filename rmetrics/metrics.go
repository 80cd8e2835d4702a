// Package rmetrics is the Prometheus Collector for pool/connection/
// pipeline/pub-sub statistics, adapted from a multi-tenant proxy's metrics
// registry down to the single-pool-per-address shape this core manages.
package rmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric redicore exposes. Each Pool is
// identified by its "pool" label (typically the configured name or
// address) rather than a tenant ID.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	acquireDuration    *prometheus.HistogramVec
	poolExhausted      *prometheus.CounterVec

	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec

	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec

	reconnectsTotal *prometheus.CounterVec

	pipelinesTotal      *prometheus.CounterVec
	pipelineSize        *prometheus.HistogramVec
	watchConflictsTotal *prometheus.CounterVec

	pubsubMessagesTotal     *prometheus.CounterVec
	pubsubSubscriptionCount *prometheus.GaugeVec
}

// New creates and registers every metric on a fresh registry. Safe to
// call multiple times — each call owns an independent registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "redicore_connections_active", Help: "Connections currently checked out of the pool"},
			[]string{"pool"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "redicore_connections_idle", Help: "Idle connections held by the pool"},
			[]string{"pool"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "redicore_connections_total", Help: "Total connections (idle+active) held by the pool"},
			[]string{"pool"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "redicore_connections_waiting", Help: "Goroutines blocked in Acquire"},
			[]string{"pool"},
		),
		acquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redicore_acquire_duration_seconds",
				Help:    "Time spent waiting in Pool.Acquire",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"pool"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "redicore_pool_exhausted_total", Help: "Times Acquire had to wait because the pool was at max size"},
			[]string{"pool"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redicore_command_duration_seconds",
				Help:    "Round-trip duration of a single command",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"pool", "command"},
		),
		commandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "redicore_command_errors_total", Help: "Command replies classified as an error, by kind"},
			[]string{"pool", "command", "kind"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redicore_health_check_duration_seconds",
				Help:    "Duration of a connection health-check ping",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"pool", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "redicore_health_check_errors_total", Help: "Health-check failures by cause"},
			[]string{"pool", "error_type"},
		),
		reconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "redicore_reconnects_total", Help: "Completed reconnect (startup-sequence-replay) attempts"},
			[]string{"pool", "status"},
		),
		pipelinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "redicore_pipelines_total", Help: "Completed Pipeline.Execute calls by outcome"},
			[]string{"pool", "mode", "outcome"},
		),
		pipelineSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redicore_pipeline_size",
				Help:    "Number of commands batched per Pipeline.Execute",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"pool", "mode"},
		),
		watchConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "redicore_watch_conflicts_total", Help: "EXEC calls that returned nil because a watched key changed"},
			[]string{"pool"},
		),
		pubsubMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "redicore_pubsub_messages_total", Help: "Delivered message/pmessage pushes"},
			[]string{"pool"},
		),
		pubsubSubscriptionCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "redicore_pubsub_subscriptions", Help: "Live channel+pattern subscriptions"},
			[]string{"pool"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.acquireDuration,
		c.poolExhausted,
		c.commandDuration,
		c.commandErrors,
		c.healthCheckDuration,
		c.healthCheckErrors,
		c.reconnectsTotal,
		c.pipelinesTotal,
		c.pipelineSize,
		c.watchConflictsTotal,
		c.pubsubMessagesTotal,
		c.pubsubSubscriptionCount,
	)
	return c
}

func (c *Collector) UpdatePoolStats(pool string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(pool).Set(float64(active))
	c.connectionsIdle.WithLabelValues(pool).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(pool).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(pool).Set(float64(waiting))
}

func (c *Collector) AcquireDuration(pool string, d time.Duration) {
	c.acquireDuration.WithLabelValues(pool).Observe(d.Seconds())
}

func (c *Collector) PoolExhausted(pool string) {
	c.poolExhausted.WithLabelValues(pool).Inc()
}

func (c *Collector) CommandCompleted(pool, command string, d time.Duration) {
	c.commandDuration.WithLabelValues(pool, command).Observe(d.Seconds())
}

func (c *Collector) CommandError(pool, command, kind string) {
	c.commandErrors.WithLabelValues(pool, command, kind).Inc()
}

func (c *Collector) HealthCheckCompleted(pool string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(pool, status).Observe(d.Seconds())
}

func (c *Collector) HealthCheckError(pool, errorType string) {
	c.healthCheckErrors.WithLabelValues(pool, errorType).Inc()
}

func (c *Collector) ReconnectCompleted(pool string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.reconnectsTotal.WithLabelValues(pool, status).Inc()
}

func (c *Collector) PipelineCompleted(pool, mode, outcome string, size int) {
	c.pipelinesTotal.WithLabelValues(pool, mode, outcome).Inc()
	c.pipelineSize.WithLabelValues(pool, mode).Observe(float64(size))
}

func (c *Collector) WatchConflict(pool string) {
	c.watchConflictsTotal.WithLabelValues(pool).Inc()
}

func (c *Collector) PubSubMessageDelivered(pool string) {
	c.pubsubMessagesTotal.WithLabelValues(pool).Inc()
}

func (c *Collector) SetPubSubSubscriptionCount(pool string, n int) {
	c.pubsubSubscriptionCount.WithLabelValues(pool).Set(float64(n))
}

// RemovePool deletes every metric series for pool, used when a named Pool
// is torn down (e.g. a config hot-reload removing a profile).
func (c *Collector) RemovePool(pool string) {
	c.connectionsActive.DeleteLabelValues(pool)
	c.connectionsIdle.DeleteLabelValues(pool)
	c.connectionsTotal.DeleteLabelValues(pool)
	c.connectionsWaiting.DeleteLabelValues(pool)
	c.poolExhausted.DeleteLabelValues(pool)
	c.watchConflictsTotal.DeleteLabelValues(pool)
	c.pubsubMessagesTotal.DeleteLabelValues(pool)
	c.pubsubSubscriptionCount.DeleteLabelValues(pool)
	c.acquireDuration.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.commandDuration.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.commandErrors.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.reconnectsTotal.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.pipelinesTotal.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.pipelineSize.DeletePartialMatch(prometheus.Labels{"pool": pool})
}
