// Package metrics exposes Homu's Prometheus surface: HTTP intake
// counters, host-client request/cache observability, and scheduler/cron
// task timings. Generalized from the teacher's metrics/provider.go,
// which wraps the same concerns for a single GitHub bot process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace       = "homu"
	intakeSubsystem = "intake"
	hostSubsystem   = "host"
	cronSubsystem   = "cron"
	schedSubsystem  = "scheduler"

	defaultPrometheusTimeoutSeconds = 60
)

// Provider is the capability interface the rest of Homu depends on
// instead of a concrete Prometheus registry, matching the teacher's own
// metrics.Provider split (§10.5).
type Provider interface {
	ObserveHTTPRequestDuration(handler, method, statusCode string, elapsed float64)
	IncreaseWebhookRequest(repo, kind string)
	IncreaseWebhookAuthFailure(repo, kind string)

	ObserveHostRequestDuration(handler, method, statusCode string, elapsed float64)
	IncreaseHostCacheHits(method, handler string)
	IncreaseHostCacheMisses(method, handler string)

	ObserveCronTaskDuration(name string, elapsed float64)
	IncreaseCronTaskErrors(name string)

	ObserveSchedulerRunDuration(repo string, elapsed float64)
	SetQueueDepth(repo string, depth int)
}

type PrometheusProvider struct {
	Registry *prometheus.Registry

	httpRequestsDuration *prometheus.HistogramVec
	webhookEvents        *prometheus.CounterVec
	webhookAuthFailures  *prometheus.CounterVec

	hostRequests    *prometheus.HistogramVec
	hostCacheHits   *prometheus.CounterVec
	hostCacheMisses *prometheus.CounterVec

	cronTasksDuration *prometheus.HistogramVec
	cronTasksErrors   *prometheus.CounterVec

	schedulerRunDuration *prometheus.HistogramVec
	queueDepth           *prometheus.GaugeVec
}

func NewPrometheusProvider() *PrometheusProvider {
	p := &PrometheusProvider{}
	p.Registry = prometheus.NewRegistry()
	p.Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}))
	p.Registry.MustRegister(prometheus.NewGoCollector())

	p.httpRequestsDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: intakeSubsystem, Name: "requests",
		Help: "Duration of served HTTP requests.",
	}, []string{"method", "handler", "status_code"})
	p.Registry.MustRegister(p.httpRequestsDuration)

	p.webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: intakeSubsystem, Name: "webhook_events",
		Help: "Webhook events accepted, by repository and kind.",
	}, []string{"repo", "kind"})
	p.Registry.MustRegister(p.webhookEvents)

	p.webhookAuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: intakeSubsystem, Name: "webhook_auth_failures",
		Help: "Webhook requests rejected for signature or secret mismatch.",
	}, []string{"repo", "kind"})
	p.Registry.MustRegister(p.webhookAuthFailures)

	p.hostRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: hostSubsystem, Name: "requests",
		Help: "Duration of outbound host/CI API requests.",
	}, []string{"method", "handler", "status_code"})
	p.Registry.MustRegister(p.hostRequests)

	p.hostCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: hostSubsystem, Name: "cache_hits",
		Help: "Outbound host requests served from the local cache.",
	}, []string{"method", "handler"})
	p.Registry.MustRegister(p.hostCacheHits)

	p.hostCacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: hostSubsystem, Name: "cache_misses",
		Help: "Outbound host requests not served from the local cache.",
	}, []string{"method", "handler"})
	p.Registry.MustRegister(p.hostCacheMisses)

	p.cronTasksDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: cronSubsystem, Name: "tasks",
		Help: "Duration of periodic tasks (mergeability refresh, closed-pull pruning).",
	}, []string{"name"})
	p.Registry.MustRegister(p.cronTasksDuration)

	p.cronTasksErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: cronSubsystem, Name: "errors",
		Help: "Number of failed periodic task runs.",
	}, []string{"name"})
	p.Registry.MustRegister(p.cronTasksErrors)

	p.schedulerRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: schedSubsystem, Name: "run_duration",
		Help: "Duration of one Scheduler pass for a repository.",
	}, []string{"repo"})
	p.Registry.MustRegister(p.schedulerRunDuration)

	p.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: schedSubsystem, Name: "queue_depth",
		Help: "Number of events waiting in a repository's supervisor queue.",
	}, []string{"repo"})
	p.Registry.MustRegister(p.queueDepth)

	return p
}

func (p *PrometheusProvider) ObserveHTTPRequestDuration(handler, method, statusCode string, elapsed float64) {
	p.httpRequestsDuration.WithLabelValues(method, handler, statusCode).Observe(elapsed)
}

func (p *PrometheusProvider) IncreaseWebhookRequest(repo, kind string) {
	p.webhookEvents.WithLabelValues(repo, kind).Add(1)
}

func (p *PrometheusProvider) IncreaseWebhookAuthFailure(repo, kind string) {
	p.webhookAuthFailures.WithLabelValues(repo, kind).Add(1)
}

func (p *PrometheusProvider) ObserveHostRequestDuration(handler, method, statusCode string, elapsed float64) {
	p.hostRequests.WithLabelValues(method, handler, statusCode).Observe(elapsed)
}

func (p *PrometheusProvider) IncreaseHostCacheHits(method, handler string) {
	p.hostCacheHits.WithLabelValues(method, handler).Add(1)
}

func (p *PrometheusProvider) IncreaseHostCacheMisses(method, handler string) {
	p.hostCacheMisses.WithLabelValues(method, handler).Add(1)
}

func (p *PrometheusProvider) ObserveCronTaskDuration(name string, elapsed float64) {
	p.cronTasksDuration.WithLabelValues(name).Observe(elapsed)
}

func (p *PrometheusProvider) IncreaseCronTaskErrors(name string) {
	p.cronTasksErrors.WithLabelValues(name).Add(1)
}

func (p *PrometheusProvider) ObserveSchedulerRunDuration(repo string, elapsed float64) {
	p.schedulerRunDuration.WithLabelValues(repo).Observe(elapsed)
}

func (p *PrometheusProvider) SetQueueDepth(repo string, depth int) {
	p.queueDepth.WithLabelValues(repo).Set(float64(depth))
}

func (p *PrometheusProvider) Handler() Handler {
	return Handler{
		Path:        "/metrics",
		Description: "Prometheus metrics",
		Handler: promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{
			Timeout:           time.Duration(defaultPrometheusTimeoutSeconds) * time.Second,
			EnableOpenMetrics: true,
		}),
	}
}
