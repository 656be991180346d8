package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_outbound_messages_total",
			Help: "Outbound WhatsApp messages by resulting status",
		},
		[]string{"status"},
	)
	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduled job executions by outcome",
		},
		[]string{"outcome"},
	)
	RuleFiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_rule_fires_total",
			Help: "Automation rule actions executed by trigger type",
		},
		[]string{"trigger"},
	)
	AIFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_ai_failures_total",
			Help: "Completion provider failures swallowed by the automation engine",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		JobRunsTotal,
		RuleFiresTotal,
		AIFailuresTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Middleware records request counts and latency per route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			labels := prometheus.Labels{
				"method": c.Request().Method,
				"path":   c.Path(),
				"status": strconv.Itoa(c.Response().Status),
			}
			httpRequestsTotal.With(labels).Inc()
			httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())

			return nil
		}
	}
}
