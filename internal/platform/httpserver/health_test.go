package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rai/orderhistory-go/internal/platform/httpserver"
)

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		path       string
		checks     map[string]httpserver.Check
		wantCode   int
		wantStatus string
	}{
		{name: "liveness ignores checks", path: "/healthz", checks: map[string]httpserver.Check{"redis": down}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "ready", path: "/readyz", checks: map[string]httpserver.Check{"store": ok}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "not ready", path: "/readyz", checks: map[string]httpserver.Check{"store": ok, "redis": down}, wantCode: http.StatusServiceUnavailable, wantStatus: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := httpserver.HealthHandler(tt.checks, time.Second)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	rec := httptest.NewRecorder()
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	httpserver.Recovery(slog.New(slog.DiscardHandler))(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
}
