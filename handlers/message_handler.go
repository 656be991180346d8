package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/internal/service"
	"github.com/onurcolak/whatsapp-automation-service/pkg/phone"
	"github.com/onurcolak/whatsapp-automation-service/pkg/response"
	"github.com/onurcolak/whatsapp-automation-service/pkg/validator"
)

type messageTracker interface {
	TrackMessage(ctx context.Context, in domain.NewMessage) (*domain.MessageRecord, error)
	GetMessageStatus(ctx context.Context, id string) (*domain.MessageRecord, error)
	UpdateStatus(ctx context.Context, id string, status domain.MessageStatus, info *domain.ErrorInfo) (*domain.MessageRecord, error)
	GetConversation(ctx context.Context, leadID *int64, phoneNumber string) ([]domain.MessageRecord, error)
	GetStats(ctx context.Context) (*domain.MessageStats, error)
}

type retrySweeper interface {
	RetryDue(ctx context.Context, now time.Time, limit int) (*service.RetryReport, error)
}

type MessageHandler struct {
	tracker        messageTracker
	retrier        retrySweeper
	retryBatchSize int
	defaultRegion  string
	now            func() time.Time
}

func NewMessageHandler(tracker messageTracker, retrier retrySweeper, retryBatchSize int, defaultRegion string) *MessageHandler {
	return &MessageHandler{
		tracker:        tracker,
		retrier:        retrier,
		retryBatchSize: retryBatchSize,
		defaultRegion:  defaultRegion,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type TrackMessageRequest struct {
	LeadID            *int64 `json:"leadId,omitempty"`
	JobID             *int64 `json:"jobId,omitempty"`
	RuleID            *int64 `json:"ruleId,omitempty"`
	SenderID          string `json:"senderId" validate:"max=64"`
	PhoneNumber       string `json:"phoneNumber" validate:"required"`
	Direction         string `json:"direction" validate:"omitempty,oneof=inbound outbound"`
	MessageType       string `json:"messageType" validate:"omitempty,max=32"`
	Content           string `json:"content" validate:"max=4096"`
	ProviderMessageID string `json:"providerMessageId,omitempty" validate:"max=128"`
}

type UpdateStatusRequest struct {
	Status       string `json:"status" validate:"required,msgstatus"`
	ErrorCode    string `json:"errorCode,omitempty" validate:"max=64"`
	ErrorMessage string `json:"errorMessage,omitempty" validate:"max=1024"`
}

// MessageView is a message record as returned by the API.
type MessageView struct {
	*domain.MessageRecord
	LastError *domain.ErrorInfo `json:"lastError,omitempty"`
}

func newMessageView(rec *domain.MessageRecord) MessageView {
	return MessageView{MessageRecord: rec, LastError: rec.LastError()}
}

// TrackMessage godoc
// @Summary Track a message
// @Description Creates a message record. Outbound records start queued, inbound records start delivered.
// @Tags messages
// @Accept json
// @Produce json
// @Param x-wa-auth-key header string true "API key for messages"
// @Param message body TrackMessageRequest true "Message to track"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages [post]
func (h *MessageHandler) TrackMessage(c echo.Context) error {
	var req TrackMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	normalized := phone.Normalize(req.PhoneNumber, h.defaultRegion)
	if normalized == "" {
		return response.BadRequest(c, fmt.Errorf("phoneNumber %q is not a valid phone number", req.PhoneNumber))
	}

	rec, err := h.tracker.TrackMessage(c.Request().Context(), domain.NewMessage{
		LeadID:            req.LeadID,
		JobID:             req.JobID,
		RuleID:            req.RuleID,
		SenderID:          req.SenderID,
		PhoneNumber:       normalized,
		Direction:         domain.Direction(req.Direction),
		MessageType:       req.MessageType,
		Content:           req.Content,
		ProviderMessageID: req.ProviderMessageID,
	})
	if errors.Is(err, domain.ErrDuplicateMessage) {
		return response.Conflict(c, err)
	}
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Message tracked successfully", newMessageView(rec))
}

// GetMessage godoc
// @Summary Get message status
// @Description Returns a message record. Records past the retention window are not found.
// @Tags messages
// @Produce json
// @Param x-wa-auth-key header string true "API key for messages"
// @Param id path string true "Message ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/{id} [get]
func (h *MessageHandler) GetMessage(c echo.Context) error {
	rec, err := h.tracker.GetMessageStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.statusError(c, err)
	}

	return response.Ok(c, newMessageView(rec))
}

// UpdateStatus godoc
// @Summary Update message status
// @Description Applies a lifecycle transition. Forward moves only, failed schedules a retry.
// @Tags messages
// @Accept json
// @Produce json
// @Param x-wa-auth-key header string true "API key for messages"
// @Param id path string true "Message ID"
// @Param request body UpdateStatusRequest true "New status"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/{id}/status [patch]
func (h *MessageHandler) UpdateStatus(c echo.Context) error {
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	status, err := domain.ParseMessageStatus(strings.ToLower(req.Status))
	if err != nil {
		return response.BadRequest(c, fmt.Errorf("%w: %q", err, req.Status))
	}

	var info *domain.ErrorInfo
	if req.ErrorCode != "" || req.ErrorMessage != "" {
		info = &domain.ErrorInfo{Code: req.ErrorCode, Message: req.ErrorMessage}
	}

	rec, err := h.tracker.UpdateStatus(c.Request().Context(), c.Param("id"), status, info)
	if err != nil {
		return h.statusError(c, err)
	}

	return response.Ok(c, newMessageView(rec))
}

// GetConversation godoc
// @Summary Get a conversation
// @Description Returns the messages of a lead and/or phone number, oldest first
// @Tags messages
// @Produce json
// @Param x-wa-auth-key header string true "API key for messages"
// @Param leadId query int false "Lead ID"
// @Param phone query string false "Phone number"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/conversation [get]
func (h *MessageHandler) GetConversation(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var leadID *int64
	if raw := c.QueryParam("leadId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return response.BadRequest(c, fmt.Errorf("leadId must be a positive integer"))
		}
		leadID = &id
	}

	phoneNumber := ""
	if raw := strings.TrimSpace(c.QueryParam("phone")); raw != "" {
		phoneNumber = phone.Normalize(raw, h.defaultRegion)
		if phoneNumber == "" {
			return response.BadRequest(c, fmt.Errorf("phone %q is not a valid phone number", raw))
		}
	}

	if leadID == nil && phoneNumber == "" {
		return response.BadRequest(c, fmt.Errorf("leadId or phone is required"))
	}

	records, err := h.tracker.GetConversation(c.Request().Context(), leadID, phoneNumber)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	start := (page - 1) * pageSize
	if start > len(records) {
		start = len(records)
	}
	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}

	views := make([]MessageView, 0, end-start)
	for i := start; i < end; i++ {
		views = append(views, newMessageView(&records[i]))
	}

	return response.Paginated(c, views, page, pageSize, int64(len(records)))
}

// GetStats godoc
// @Summary Get message statistics
// @Description Returns count of live messages by status
// @Tags messages
// @Produce json
// @Param x-wa-auth-key header string true "API key for messages"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/stats [get]
func (h *MessageHandler) GetStats(c echo.Context) error {
	stats, err := h.tracker.GetStats(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"queued":    stats.Queued,
		"sent":      stats.Sent,
		"delivered": stats.Delivered,
		"read":      stats.Read,
		"failed":    stats.Failed,
		"total":     stats.Queued + stats.Sent + stats.Delivered + stats.Read + stats.Failed,
	})
}

// RetryFailed godoc
// @Summary Retry failed messages
// @Description Runs the retry sweep now for failed outbound messages whose backoff has elapsed
// @Tags messages
// @Produce json
// @Param x-wa-auth-key header string true "API key for messages"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/retry [post]
func (h *MessageHandler) RetryFailed(c echo.Context) error {
	report, err := h.retrier.RetryDue(c.Request().Context(), h.now(), h.retryBatchSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, report)
}

func (h *MessageHandler) statusError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		return response.BadRequest(c, err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return response.UnprocessableEntity(c, err)
	default:
		return response.InternalServerError(c, err)
	}
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	// Page
	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	// Page size
	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
