package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carecoord/internal/config"
	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/db"
	"github.com/ehr/carecoord/internal/platform/notification"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                   "development",
		CORSOrigins:           []string{"http://localhost:3000"},
		RequestTimeoutSeconds: 5,
		ClinicTimezone:        "America/New_York",
		ServiceWindowStart:    "08:30",
		ServiceWindowEnd:      "18:00",
		ConflictWindowMinutes: 45,
		EditCutoffHours:       12,
		BookingHorizonDays:    90,
	}
}

func TestRulesFromConfig(t *testing.T) {
	rules, err := rulesFromConfig(testConfig())
	if err != nil {
		t.Fatalf("rulesFromConfig() error: %v", err)
	}
	if rules.Location.String() != "America/New_York" {
		t.Errorf("expected clinic timezone, got %s", rules.Location)
	}
	if rules.WindowStart != 8*time.Hour+30*time.Minute || rules.WindowEnd != 18*time.Hour {
		t.Errorf("unexpected window %v-%v", rules.WindowStart, rules.WindowEnd)
	}
	if rules.ConflictWindow != 45*time.Minute {
		t.Errorf("expected 45m conflict window, got %v", rules.ConflictWindow)
	}
	if rules.EditCutoff != 12*time.Hour {
		t.Errorf("expected 12h cutoff, got %v", rules.EditCutoff)
	}
	if rules.BookingHorizon != 90*24*time.Hour {
		t.Errorf("expected 90 day horizon, got %v", rules.BookingHorizon)
	}
}

func TestRulesFromConfig_BadTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.ClinicTimezone = "Mars/Olympus"
	if _, err := rulesFromConfig(cfg); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestRateLimitConfig_FallsBackToDefaults(t *testing.T) {
	cfg := testConfig()
	rl := rateLimitConfig(cfg)
	if rl.RequestsPerSecond != 100 || rl.BurstSize != 200 {
		t.Errorf("expected defaults, got %+v", rl)
	}

	cfg.RateLimitRPS = 5
	cfg.RateLimitBurst = 10
	rl = rateLimitConfig(cfg)
	if rl.RequestsPerSecond != 5 || rl.BurstSize != 10 {
		t.Errorf("expected configured values, got %+v", rl)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newEcho(testConfig(), zerolog.Nop())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func mountInbox(cfg *config.Config) (*notification.MemoryStore, http.Handler) {
	e := newEcho(cfg, zerolog.Nop())
	store := notification.NewMemoryStore()
	notification.NewHandler(notification.NewService(store, nil)).RegisterRoutes(apiGroup(e, cfg, zerolog.Nop()))
	return store, e
}

func TestAPIGroup_DevAuth(t *testing.T) {
	store, h := mountInbox(testConfig())

	patient := uuid.New()
	if err := store.Insert(t.Context(), &notification.Notification{
		ID:          uuid.New(),
		RecipientID: patient,
		Status:      notification.StatusSent,
		Message:     "Your appointment was confirmed",
		CreatedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set(auth.DevActorIDHeader, patient.String())
	req.Header.Set(auth.DevActorRoleHeader, "patient")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Your appointment was confirmed") {
		t.Errorf("expected seeded notification in body: %s", rec.Body.String())
	}
}

func TestAPIGroup_JWTRequiredOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = "secret"
	_, h := mountInbox(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set(auth.DevActorIDHeader, uuid.NewString())
	req.Header.Set(auth.DevActorRoleHeader, "ADMIN")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{{"serve"}, {"migrate", "up"}, {"migrate", "status"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("expected command %v, got %v (err %v)", path, cmd, err)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	applied := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	cmd := migrateCmd()
	cmd.SetOut(&buf)

	printStatus(cmd, []db.MigrationStatus{
		{Version: 1, Name: "001_core.sql", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "002_next.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2026-03-01 09:00:00") {
		t.Errorf("expected applied row, got:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected pending row, got:\n%s", out)
	}
}
