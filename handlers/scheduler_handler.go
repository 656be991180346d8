package handlers

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/internal/scheduler"
	"github.com/onurcolak/whatsapp-automation-service/pkg/response"
	"github.com/onurcolak/whatsapp-automation-service/pkg/validator"
)

type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
	ctx       context.Context
	config    *environments.Config
}

type StartSchedulerRequest struct {
	Cron           *string `json:"cron,omitempty" validate:"omitempty,cronspec"`
	AlertWebhook   *string `json:"alertWebhook,omitempty" validate:"omitempty,url"`
	AlertThreshold *int    `json:"alertThreshold,omitempty" validate:"omitempty,min=0"`
}

func NewSchedulerHandler(
	sched *scheduler.Scheduler,
	ctx context.Context,
	cfg *environments.Config,
) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
		ctx:       ctx,
		config:    cfg,
	}
}

// StartScheduler godoc
// @Summary Start the job scheduler
// @Description Starts the cron-driven scheduler with optional overrides for the cron spec and alerting
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-wa-auth-key header string true "API key for scheduler"
// @Param request body StartSchedulerRequest false "Scheduler parameters (optional)"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Router /api/v1/scheduler/start [post]
func (h *SchedulerHandler) StartScheduler(c echo.Context) error {
	if h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already running", h.scheduler.GetStatus())
	}

	var req StartSchedulerRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	cronSpec := h.config.Scheduler.Cron
	if req.Cron != nil {
		cronSpec = *req.Cron
	}

	alertWebhook := h.config.Alert.WebhookURL
	if req.AlertWebhook != nil {
		alertWebhook = *req.AlertWebhook
	}

	alertThreshold := h.config.Alert.IterationCount
	if req.AlertThreshold != nil {
		alertThreshold = *req.AlertThreshold
	}

	if err := h.scheduler.StartWithParams(h.ctx, cronSpec, alertWebhook, alertThreshold); err != nil {
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Scheduler started successfully", h.scheduler.GetStatus())
}

// StopScheduler godoc
// @Summary Stop the job scheduler
// @Description Stops the scheduler after any in-flight pass finishes
// @Tags scheduler
// @Produce json
// @Param x-wa-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/stop [post]
func (h *SchedulerHandler) StopScheduler(c echo.Context) error {
	if !h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already stopped", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler stopped successfully", h.scheduler.GetStatus())
}

// GetSchedulerStatus godoc
// @Summary Get scheduler status
// @Description Returns the current status and counters of the scheduler
// @Tags scheduler
// @Produce json
// @Param x-wa-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/scheduler/status [get]
func (h *SchedulerHandler) GetSchedulerStatus(c echo.Context) error {
	return response.Ok(c, h.scheduler.GetStatus())
}

// RunNow godoc
// @Summary Run one scheduler pass
// @Description Runs due jobs, the retry sweep and the retention purge immediately
// @Tags scheduler
// @Produce json
// @Param x-wa-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/run [post]
func (h *SchedulerHandler) RunNow(c echo.Context) error {
	result, err := h.scheduler.RunOnce(c.Request().Context())
	if errors.Is(err, scheduler.ErrTickInProgress) {
		return response.Conflict(c, err)
	}
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler pass completed", result)
}
