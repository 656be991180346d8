package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/phone"
)

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	httpClient  *resty.Client
	messagesURL string
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ProviderError is returned when the Cloud API rejects a send.
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("whatsapp api error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

func NewClient(cfg environments.WhatsAppConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.AccessToken)

	base := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient:  client,
		messagesURL: fmt.Sprintf("%s/%s/%s/messages", base, cfg.APIVersion, cfg.PhoneNumberID),
	}
}

// SendText delivers a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, toPhone, text string) (string, error) {
	payload := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               phone.ToWhatsAppID(toPhone),
		Type:             "text",
		Text:             textBody{Body: text},
	}

	var result sendResponse
	var failure apiError

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		SetError(&failure).
		Post(c.messagesURL)

	duration := time.Since(startTime)

	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	logger.Debugf("WhatsApp send to %s completed in %v (status: %d)", toPhone, duration, resp.StatusCode())

	if resp.IsError() {
		return "", &ProviderError{
			StatusCode: resp.StatusCode(),
			Code:       failure.Error.Code,
			Message:    failure.Error.Message,
		}
	}

	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp api returned no message id, body: %s", resp.String())
	}

	return result.Messages[0].ID, nil
}

func (c *Client) GetURL() string {
	return c.messagesURL
}
