package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/whatsapp-automation-service/internal/scheduler"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(ctx context.Context) error { return f.err }
func (f fakePinger) Ping(ctx context.Context) error        { return f.err }

type fakeBroker struct{ closed bool }

func (f fakeBroker) IsClosed() bool { return f.closed }

type fakeSchedulerState struct{ status scheduler.SchedulerStatus }

func (f fakeSchedulerState) GetStatus() scheduler.SchedulerStatus { return f.status }

func runHealth(t *testing.T, h *HealthHandler) (int, HealthReport) {
	t.Helper()

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("Health returned error: %v", err)
	}

	var report HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	return rec.Code, report
}

func TestHealth_AllUp(t *testing.T) {
	lastRun := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	h := NewHealthHandler(fakePinger{}, fakeSchedulerState{scheduler.SchedulerStatus{Running: true, LastRunAt: lastRun}}).
		WithCache(fakePinger{}).
		WithBroker(fakeBroker{})

	code, report := runHealth(t, h)

	if code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if report.Status != "ok" {
		t.Errorf("expected ok, got %q", report.Status)
	}
	if got := report.Components["scheduler"]; got.Status != "running" || got.Detail != "last run 2026-03-02T09:00:00Z" {
		t.Errorf("unexpected scheduler component %+v", got)
	}
	for _, name := range []string{"database", "redis", "rabbitmq"} {
		if got := report.Components[name].Status; got != "up" {
			t.Errorf("expected %s up, got %q", name, got)
		}
	}
}

func TestHealth_OptionalComponentsDisabled(t *testing.T) {
	code, report := runHealth(t, NewHealthHandler(fakePinger{}, fakeSchedulerState{}))

	if code != http.StatusOK || report.Status != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", code, report.Status)
	}
	if got := report.Components["redis"].Status; got != "disabled" {
		t.Errorf("expected redis disabled, got %q", got)
	}
	if got := report.Components["rabbitmq"].Status; got != "disabled" {
		t.Errorf("expected rabbitmq disabled, got %q", got)
	}
	if got := report.Components["scheduler"].Status; got != "stopped" {
		t.Errorf("expected scheduler stopped, got %q", got)
	}
}

func TestHealth_DegradedWhenOptionalComponentDown(t *testing.T) {
	h := NewHealthHandler(fakePinger{}, fakeSchedulerState{}).
		WithCache(fakePinger{err: errors.New("connection refused")}).
		WithBroker(fakeBroker{closed: true})

	code, report := runHealth(t, h)

	if code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if report.Status != "degraded" {
		t.Errorf("expected degraded, got %q", report.Status)
	}
	if got := report.Components["redis"]; got.Status != "down" || got.Detail != "connection refused" {
		t.Errorf("unexpected redis component %+v", got)
	}
	if got := report.Components["rabbitmq"].Status; got != "down" {
		t.Errorf("expected rabbitmq down, got %q", got)
	}
}

func TestHealth_DatabaseDownIs503(t *testing.T) {
	h := NewHealthHandler(fakePinger{err: errors.New("dial tcp: timeout")}, fakeSchedulerState{}).
		WithCache(fakePinger{err: errors.New("down too")})

	code, report := runHealth(t, h)

	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", code)
	}
	if report.Status != "down" {
		t.Errorf("expected down, got %q", report.Status)
	}
}
