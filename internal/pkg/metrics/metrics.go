package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sandbox metrics
	SandboxRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantly_sandbox_rpc_duration_seconds",
			Help:    "Sandbox RPC round trip duration by message type and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type", "outcome"},
	)

	SandboxesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantly_sandboxes_running",
			Help: "Number of plugin worker processes currently running",
		},
	)

	// Plugin route metrics
	PluginRouteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantly_plugin_route_duration_seconds",
			Help:    "Plugin route invocation duration by plugin",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"plugin"},
	)

	PluginSlowInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantly_plugin_slow_invocations_total",
			Help: "Plugin route invocations above the slow threshold",
		},
		[]string{"plugin"},
	)

	// Tenant router metrics
	TenantHandlesCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantly_tenant_handles_cached",
			Help: "Number of cached tenant database handles",
		},
	)

	RegionPoolsCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantly_region_pools_cached",
			Help: "Number of cached regional connection pools",
		},
	)

	RegionFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantly_region_fallbacks_total",
			Help: "Connections served from the primary database instead of a regional one, by reason",
		},
		[]string{"reason"},
	)

	// Best-effort consumers
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantly_webhook_deliveries_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"result"},
	)

	BestEffortFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantly_best_effort_failures_total",
			Help: "Swallowed failures of best-effort operations by component",
		},
		[]string{"component"},
	)

	// Hooks
	DomainEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantly_domain_events_total",
			Help: "Domain hook invocations by hook name",
		},
		[]string{"hook"},
	)

	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenantly_job_queue_size",
			Help: "Job queue size by list",
		},
		[]string{"list"},
	)
)

func init() {
	prometheus.MustRegister(SandboxRPCDuration)
	prometheus.MustRegister(SandboxesRunning)
	prometheus.MustRegister(PluginRouteDuration)
	prometheus.MustRegister(PluginSlowInvocations)
	prometheus.MustRegister(DomainEvents)
	prometheus.MustRegister(TenantHandlesCached)
	prometheus.MustRegister(RegionPoolsCached)
	prometheus.MustRegister(RegionFallbacks)
	prometheus.MustRegister(WebhookDeliveries)
	prometheus.MustRegister(BestEffortFailures)
	prometheus.MustRegister(QueueSize)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDurationVec records the elapsed time with the given labels
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) time.Duration {
	d := t.Duration()
	h.WithLabelValues(labels...).Observe(d.Seconds())
	return d
}
