package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/whatsapp-automation-service/internal/scheduler"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
	healthDown     = "down"
)

type dbPinger interface {
	PingContext(ctx context.Context) error
}

type cachePinger interface {
	Ping(ctx context.Context) error
}

type brokerState interface {
	IsClosed() bool
}

type schedulerState interface {
	GetStatus() scheduler.SchedulerStatus
}

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type HealthReport struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// HealthHandler handles health checks. Optional components are nil when not configured.
type HealthHandler struct {
	db           dbPinger
	cache        cachePinger
	broker       brokerState
	scheduler    schedulerState
	checkTimeout time.Duration
	now          func() time.Time
}

func NewHealthHandler(db dbPinger, sched schedulerState) *HealthHandler {
	return &HealthHandler{
		db:           db,
		scheduler:    sched,
		checkTimeout: 2 * time.Second,
		now:          time.Now,
	}
}

// WithCache adds the Valkey connection to the report.
func (h *HealthHandler) WithCache(cache cachePinger) *HealthHandler {
	h.cache = cache
	return h
}

// WithBroker adds the RabbitMQ publisher to the report.
func (h *HealthHandler) WithBroker(broker brokerState) *HealthHandler {
	h.broker = broker
	return h
}

// Health returns overall status and per-component statuses.
// @Summary Health check
// @Description Reports MySQL, Valkey, RabbitMQ and scheduler state. MySQL down answers 503, an optional component down marks the service degraded.
// @Tags health
// @Produce json
// @Success 200 {object} HealthReport
// @Failure 503 {object} HealthReport
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	report := HealthReport{
		Status:     healthOK,
		Timestamp:  h.now().UTC().Format(time.RFC3339),
		Components: make(map[string]ComponentHealth, 4),
	}

	db := ComponentHealth{Status: "up"}
	if h.db == nil {
		db = ComponentHealth{Status: healthDown, Detail: "not connected"}
	} else if err := h.db.PingContext(ctx); err != nil {
		db = ComponentHealth{Status: healthDown, Detail: err.Error()}
	}
	if db.Status == healthDown {
		report.Status = healthDown
	}
	report.Components["database"] = db

	cache := ComponentHealth{Status: "disabled"}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			cache = ComponentHealth{Status: healthDown, Detail: err.Error()}
			report.degrade()
		} else {
			cache.Status = "up"
		}
	}
	report.Components["redis"] = cache

	broker := ComponentHealth{Status: "disabled"}
	if h.broker != nil {
		if h.broker.IsClosed() {
			broker = ComponentHealth{Status: healthDown, Detail: "connection closed"}
			report.degrade()
		} else {
			broker.Status = "up"
		}
	}
	report.Components["rabbitmq"] = broker

	sched := ComponentHealth{Status: "stopped"}
	if h.scheduler != nil {
		status := h.scheduler.GetStatus()
		if status.Running {
			sched.Status = "running"
		}
		if !status.LastRunAt.IsZero() {
			sched.Detail = "last run " + status.LastRunAt.UTC().Format(time.RFC3339)
		}
	}
	report.Components["scheduler"] = sched

	code := http.StatusOK
	if report.Status == healthDown {
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, report)
}

func (r *HealthReport) degrade() {
	if r.Status == healthOK {
		r.Status = healthDegraded
	}
}
