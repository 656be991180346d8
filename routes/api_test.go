package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/handlers"
)

func newTestEcho() *echo.Echo {
	cfg := &environments.Config{
		Auth: environments.AuthConfig{MessagesAPIKey: "msg-key", SchedulerAPIKey: "sched-key"},
	}

	e := echo.New()
	RegisterRoutes(e,
		handlers.NewHealthHandler(nil, nil),
		handlers.NewWebhookHandler(nil, "verify"),
		handlers.NewMessageHandler(nil, nil, 10, "IN"),
		handlers.NewSchedulerHandler(nil, context.Background(), cfg),
		cfg,
	)
	return e
}

func TestRegisterRoutes_Surface(t *testing.T) {
	e := newTestEcho()

	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	want := []string{
		"GET /health",
		"GET /metrics",
		"GET /webhooks/whatsapp",
		"POST /webhooks/whatsapp",
		"POST /api/v1/messages",
		"GET /api/v1/messages/stats",
		"GET /api/v1/messages/conversation",
		"POST /api/v1/messages/retry",
		"GET /api/v1/messages/:id",
		"PATCH /api/v1/messages/:id/status",
		"POST /api/v1/scheduler/start",
		"POST /api/v1/scheduler/stop",
		"GET /api/v1/scheduler/status",
		"POST /api/v1/scheduler/run",
	}
	for _, route := range want {
		if !registered[route] {
			t.Errorf("route %q not registered", route)
		}
	}
}

func TestRegisterRoutes_APIGroupsRequireKey(t *testing.T) {
	e := newTestEcho()

	for _, target := range []string{"/api/v1/messages/stats", "/api/v1/scheduler/status"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401, got %d", target, rec.Code)
		}
	}
}
