package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/response"
	"github.com/onurcolak/whatsapp-automation-service/pkg/whatsapp"
)

type inboundProcessor interface {
	HandleMessage(ctx context.Context, msg whatsapp.InboundMessage) error
	HandleStatus(ctx context.Context, update whatsapp.StatusUpdate) error
}

// WebhookHandler receives WhatsApp Cloud API notifications.
type WebhookHandler struct {
	inbound     inboundProcessor
	verifyToken string
}

func NewWebhookHandler(inbound inboundProcessor, verifyToken string) *WebhookHandler {
	return &WebhookHandler{inbound: inbound, verifyToken: verifyToken}
}

// Verify godoc
// @Summary Verify webhook subscription
// @Description Answers the hub.challenge handshake Meta sends when the webhook is registered
// @Tags webhooks
// @Produce plain
// @Param hub.mode query string true "Must be 'subscribe'"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo back"
// @Success 200 {string} string
// @Failure 403 {object} response.ErrorResponse
// @Router /webhooks/whatsapp [get]
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		logger.Warnf("Rejected webhook verification (mode=%q)", mode)
		return response.Forbidden(c, "webhook verification failed")
	}

	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

// Receive godoc
// @Summary Receive webhook notifications
// @Description Processes inbound messages and delivery receipts. Always answers 200 so the provider does not redeliver.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param payload body whatsapp.WebhookPayload true "Cloud API notification"
// @Success 200 {object} response.SuccessResponse
// @Router /webhooks/whatsapp [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	var payload whatsapp.WebhookPayload
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		logger.Warnf("Ignoring malformed webhook payload: %v", err)
		return response.Ok(c, map[string]any{"messages": 0, "statuses": 0})
	}

	ctx := c.Request().Context()

	messages := payload.Messages()
	for _, msg := range messages {
		if err := h.inbound.HandleMessage(ctx, msg); err != nil {
			logger.Errorf("Failed to handle inbound message %s: %v", msg.ProviderMessageID, err)
		}
	}

	statuses := payload.Statuses()
	for _, update := range statuses {
		if err := h.inbound.HandleStatus(ctx, update); err != nil {
			logger.Errorf("Failed to apply %s receipt for %s: %v", update.Status, update.ProviderMessageID, err)
		}
	}

	return response.Ok(c, map[string]any{
		"messages": len(messages),
		"statuses": len(statuses),
	})
}
