package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RateLimitRejections prometheus.Counter
	TasksCreated        prometheus.Counter
	TasksClaimed        prometheus.Counter
}

// NewMetrics registers the application metrics with the given registry.
// Passing nil registers against the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of rate limit rejections",
		}),
		TasksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "porch_tasks_created_total",
			Help: "Total number of task rows inserted",
		}),
		TasksClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "porch_tasks_claimed_total",
			Help: "Total number of tasks handed to workers",
		}),
	}
}
