package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsafar/supplychain/internal/config"
	"github.com/medsafar/supplychain/internal/platform/db"
)

const testKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:              "8000",
		Env:               "development",
		LogLevel:          "info",
		StoreDriver:       config.StoreMemory,
		OwnerAccount:      "0xOwner",
		AuthIssuer:        "medsafar",
		CORSOrigins:       []string{"http://localhost:3000"},
		RateLimitRPS:      50,
		RateLimitBurst:    100,
		BodyLimit:         "1M",
		RequestTimeout:    "30s",
		UnderstockLevel:   10,
		OverstockLevel:    1000,
		ExpiryWarningDays: 30,
	}
}

func startServer(t *testing.T, cfg *config.Config) *server {
	t.Helper()
	s, err := buildServer(context.Background(), cfg, zerolog.Nop(), false)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, s *server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestRootCmd_Commands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"events", "tail"},
		{"token", "issue"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Errorf("Find(%v): %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) resolved to %q", path, cmd.Name())
		}
	}
}

func TestServeCmd_MigrateFlag(t *testing.T) {
	cmd := serveCmd()
	f := cmd.Flags().Lookup("migrate")
	if f == nil {
		t.Fatal("serve has no --migrate flag")
	}
	if f.DefValue != "false" {
		t.Errorf("expected --migrate to default to false, got %s", f.DefValue)
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %s", out)
	}
	var line map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out, err)
	}
	if line["message"] != "shown" || line["level"] != "warn" {
		t.Errorf("unexpected log line: %v", line)
	}
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	cfg.LogLevel = "loud"

	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Debug().Msg("debug")
	logger.Info().Msg("info")

	if strings.Contains(buf.String(), `"debug"`) {
		t.Errorf("debug written at fallback level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"info"`) {
		t.Errorf("info missing at fallback level: %s", buf.String())
	}
}

func TestThresholds(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExpiryWarningDays = 7
	th := thresholds(cfg)
	if th.Understock != 10 || th.Overstock != 1000 {
		t.Errorf("unexpected stock thresholds: %+v", th)
	}
	if th.ExpiryWarning != 7*24*time.Hour {
		t.Errorf("expected 168h expiry warning, got %s", th.ExpiryWarning)
	}
}

func TestRateLimitConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitRPS = 5
	cfg.RateLimitBurst = 0
	rl := rateLimitConfig(cfg)
	if rl.RequestsPerSecond != 5 {
		t.Errorf("expected 5 rps, got %v", rl.RequestsPerSecond)
	}
	if rl.BurstSize != 100 {
		t.Errorf("expected default burst 100, got %d", rl.BurstSize)
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "sqlite"
	if _, _, err := openStore(context.Background(), cfg, false, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestBuildServer_BadSigningKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuthSigningKey = "not-hex"
	if _, err := buildServer(context.Background(), cfg, zerolog.Nop(), false); err == nil {
		t.Fatal("expected error for invalid signing key")
	}
}

func TestBuildServer_BadTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.RequestTimeout = "eventually"
	if _, err := buildServer(context.Background(), cfg, zerolog.Nop(), false); err == nil {
		t.Fatal("expected error for invalid request timeout")
	}
}

func TestServer_Health(t *testing.T) {
	s := startServer(t, testConfig(t))

	rec := do(t, s, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["store"] != "memory" {
		t.Errorf("unexpected health body: %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestServer_DevFlowWithJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.JournalPath = dir
	s := startServer(t, cfg)

	rec := do(t, s, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"journal":"ok"`) {
		t.Fatalf("health with journal: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/v1/owner", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "0xowner") {
		t.Fatalf("owner: %d %s", rec.Code, rec.Body.String())
	}

	// No X-Account header: development auth falls back to the owner.
	rec = do(t, s, http.MethodPost, "/api/v1/roles/supplier", "", `{"account":"0xS1","name":"Acme Raw","place":"Pune"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add role: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/v1/events", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", rec.Code)
	}
	var page struct {
		Data []struct {
			Seq  uint64 `json:"seq"`
			Type string `json:"type"`
		} `json:"data"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if page.Total != 1 || page.Data[0].Type != "RoleAdded" || page.Data[0].Seq != 1 {
		t.Errorf("unexpected events page: %+v", page)
	}

	rec = do(t, s, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	for _, name := range []string{
		"medsafar_ledger_operations_total",
		"medsafar_ledger_events_total",
		"medsafar_http_requests_total",
		"go_goroutines",
	} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}

	// The journal lock is released on close so the tail command can read it.
	s.Close()
	var out bytes.Buffer
	if err := tailEvents(context.Background(), &out, dir, 1, 0, 0); err != nil {
		t.Fatalf("tailEvents: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"type":"RoleAdded"`) {
		t.Errorf("unexpected tail output: %q", out.String())
	}
}

func TestServer_WebhookDelivery(t *testing.T) {
	got := make(chan string, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Ledger-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := testConfig(t)
	cfg.WebhookURLs = []string{hook.URL}
	cfg.WebhookSecret = "s3cret"
	s := startServer(t, cfg)

	rec := do(t, s, http.MethodPost, "/api/v1/hospitals", "", `{"name":"City Care","location":"Pune","account":"0xH1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add hospital: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Close drains the delivery queue.
	s.Close()
	select {
	case typ := <-got:
		if typ != "HospitalAdded" {
			t.Errorf("expected HospitalAdded delivery, got %q", typ)
		}
	default:
		t.Fatal("expected a webhook delivery after close")
	}
}

func TestServer_StreamRouteRegistered(t *testing.T) {
	s := startServer(t, testConfig(t))
	found := false
	for _, r := range s.echo.Routes() {
		if r.Method == http.MethodGet && r.Path == "/api/v1/events/stream" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the event stream route")
	}
}

func TestServer_EventsWithoutJournal(t *testing.T) {
	s := startServer(t, testConfig(t))
	rec := do(t, s, http.MethodGet, "/api/v1/events", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without journal, got %d", rec.Code)
	}
}

func TestServer_ProductionRequiresToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	cfg.AuthSigningKey = testKey
	s := startServer(t, cfg)

	body := `{"account":"0xS1","name":"Acme Raw","place":"Pune"}`
	rec := do(t, s, http.MethodPost, "/api/v1/roles/supplier", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/owner", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public owner route, got %d", rec.Code)
	}

	outsider, err := issueToken(cfg, "0xNobody", time.Hour)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	rec = do(t, s, http.MethodPost, "/api/v1/roles/supplier", outsider, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d: %s", rec.Code, rec.Body.String())
	}

	owner, err := issueToken(cfg, "0xOwner", time.Hour)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	rec = do(t, s, http.MethodPost, "/api/v1/roles/supplier", owner, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for owner token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIssueToken_RequiresKey(t *testing.T) {
	cfg := testConfig(t)
	if _, err := issueToken(cfg, "0xOwner", time.Hour); err == nil {
		t.Fatal("expected error without signing key")
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "ledger_schema", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "demand_requests", Applied: false},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2025-03-01 09:00:00") {
		t.Errorf("unexpected applied row: %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row: %q", lines[3])
	}
}
