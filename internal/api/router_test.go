// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRouter_Metrics(t *testing.T) {
	_, h := setupRouter(t)
	do(t, h, http.MethodGet, "/api/v1/vehicles/CE-101", "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bustrack_api_requests_total") {
		t.Error("metrics output lacks bustrack_api_requests_total")
	}
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	_, h := setupRouter(t)

	rec, resp := do(t, h, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("unknown route: %d %+v", rec.Code, resp.Error)
	}

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/vehicles/CE-101/location", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", rec.Code)
	}
}

func TestRouter_WebSocketRoute(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	b, _ := setupRouter(t)
	mw := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitDisabled: true})
	h := NewRouter(NewHandler(b, nil, "test"), ws, mw).Setup()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws", http.NoBody))
	if !called || rec.Code != http.StatusTeapot {
		t.Errorf("ws handler not routed: called=%v status=%d", called, rec.Code)
	}
}

func TestRequestIDWithLogging_KeepsClientID(t *testing.T) {
	_, h := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", http.NoBody)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}
	if !strings.Contains(rec.Body.String(), `"request_id":"req-123"`) {
		t.Errorf("body lacks request id: %s", rec.Body.String())
	}
}

func TestRateLimitCustom(t *testing.T) {
	mw := NewChiMiddleware(nil)
	handler := mw.RateLimitCustom(RateLimitConfig{Requests: 2, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/vehicles/CE-101/location", http.NoBody)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [204 204 429]", codes)
	}
}

func TestRateLimitCustom_Disabled(t *testing.T) {
	mw := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitDisabled: true})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := mw.RateLimitWrite()(next)

	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", http.NoBody))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d limited with rate limiting disabled", i)
		}
	}
}
