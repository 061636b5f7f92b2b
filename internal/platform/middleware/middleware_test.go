package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/carecoord/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	RequestID()(handler)(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequestWithActor(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	actor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor, Active: true}
	req = req.WithContext(auth.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	err := Logger(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON log line: %v", err)
	}
	if line["request_id"] != "rid-1" {
		t.Errorf("expected request_id rid-1, got %v", line["request_id"])
	}
	if line["actor_role"] != "DOCTOR" {
		t.Errorf("expected actor_role DOCTOR, got %v", line["actor_role"])
	}
	if line["status"] != float64(200) {
		t.Errorf("expected status 200, got %v", line["status"])
	}
}

func TestLogger_ErrorStatusIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "edit locked")
	})(c)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 written, got %d", rec.Code)
	}
	var line map[string]interface{}
	json.Unmarshal(buf.Bytes(), &line)
	if line["status"] != float64(409) {
		t.Errorf("expected status 409 in log, got %v", line["status"])
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	logger := zerolog.Nop()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Recovery(logger)(func(c echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRateLimit_RejectsAfterBurst(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}
	mw := RateLimit(cfg)
	e := echo.New()
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	var last error
	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec = httptest.NewRecorder()
		last = h(e.NewContext(req, rec))
	}

	httpErr, ok := last.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %v", last)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_KeysByActor(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}
	mw := RateLimit(cfg)
	e := echo.New()
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 2; i++ {
		actor := auth.Actor{ID: uuid.New(), Role: auth.RolePatient, Active: true}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req = req.WithContext(auth.WithActor(context.Background(), actor))
		if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
			t.Fatalf("distinct actors behind one IP should not share a bucket: %v", err)
		}
	}
}

func TestLimiterStore_SweepsIdleClients(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 10, IdleTTL: time.Minute})
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.get("a")
	store.get("b")
	now = now.Add(2 * time.Minute)
	store.get("c")

	if store.size() != 1 {
		t.Errorf("expected idle clients to be dropped, have %d", store.size())
	}
}

func TestAudit_LogsTransition(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	var recorded AuditEntry

	e := echo.New()
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/"+id+"/confirm", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := Audit(logger, AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = entry
		return nil
	}))
	err := mw(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "already confirmed")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to pass through")
	}

	if recorded.Resource != "appointments" || recorded.RecordID != id {
		t.Errorf("unexpected resource/record: %+v", recorded)
	}
	if recorded.Action != "transition" {
		t.Errorf("expected transition, got %s", recorded.Action)
	}
	if recorded.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", recorded.StatusCode)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	called := false
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	Audit(zerolog.Nop(), AuditRecorderFunc(func(AuditEntry) error {
		called = true
		return nil
	}))(func(c echo.Context) error { return nil })(c)

	if called {
		t.Error("expected /health not to be audited")
	}
}

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		method, path               string
		resource, recordID, action string
	}{
		{http.MethodGet, "/api/v1/appointments", "appointments", "", "read"},
		{http.MethodPost, "/api/v1/appointments", "appointments", "", "create"},
		{http.MethodPatch, "/api/v1/diagnoses/abc", "diagnoses", "abc", "update"},
		{http.MethodPost, "/api/v1/prescriptions/abc/dispense", "prescriptions", "abc", "transition"},
	}
	for _, tt := range tests {
		r, id, a := classifyPath(tt.method, tt.path)
		if r != tt.resource || id != tt.recordID || a != tt.action {
			t.Errorf("classifyPath(%s %s) = (%s,%s,%s)", tt.method, tt.path, r, id, a)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	SecurityHeaders()(func(c echo.Context) error { return nil })(c)

	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected Cache-Control: no-store")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff")
	}
}

func TestRequestTimeout_Exceeded(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := RequestTimeout(10*time.Millisecond)(func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := RequestTimeout(time.Second)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "missing")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected handler error unchanged, got %v", err)
	}
}
