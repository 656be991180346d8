package middlewares

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/response"
)

const (
	APIKeyHeader    = "x-wa-auth-key"
	SignatureHeader = "X-Hub-Signature-256"
)

// secureCompare compares two strings in a way that is safer against timing attacks.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func APIKeyAuth(apiKey string) echo.MiddlewareFunc {
	// If the API key is not configured, treat this as a server-side misconfiguration.
	if apiKey == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return response.InternalServerError(
					c,
					fmt.Errorf("API key is not configured for this endpoint group"),
				)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get(APIKeyHeader)
			if token == "" || !secureCompare(token, apiKey) {
				return response.Unauthorized(c)
			}

			return next(c)
		}
	}
}

// WebhookSignature checks the sha256 HMAC Meta puts on webhook POSTs.
// With an empty app secret verification is skipped.
func WebhookSignature(appSecret string) echo.MiddlewareFunc {
	if appSecret == "" {
		logger.Warnf("WHATSAPP_APP_SECRET is not set, webhook signatures will not be verified")
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return response.BadRequest(c, fmt.Errorf("failed to read request body: %w", err))
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			got := strings.TrimPrefix(req.Header.Get(SignatureHeader), "sha256=")
			if got == "" || !secureCompare(got, Sign(appSecret, body)) {
				return response.Unauthorized(c)
			}

			return next(c)
		}
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
