package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"animdb/internal/config"
	"animdb/internal/control"
	"animdb/internal/intake"
	"animdb/internal/logging"
	"animdb/internal/stage"
	"animdb/internal/status"
	"animdb/internal/testsupport"
	"animdb/internal/workflow"
)

type noopStage struct{ name string }

func (s noopStage) Name() string              { return s.name }
func (s noopStage) Run(context.Context) error { return nil }
func (s noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(s.name)
}

func newTestDaemon(t *testing.T, cfg *config.Config) (*Daemon, *control.Registry) {
	t.Helper()
	logger := logging.NewNop()
	reg := control.New(cfg.RegistryPath(), time.Hour, logger)
	mgr := workflow.NewManager(cfg, reg, logger)
	mgr.ConfigureStages(workflow.StageSet{
		Normalizer: noopStage{stage.Normalizer},
		Router:     noopStage{stage.Router},
		Committer:  noopStage{stage.Committer},
	})
	d, err := New(cfg, reg, intake.New(cfg, reg, nil, logger), mgr, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, reg
}

func post(t *testing.T, h http.Handler, target, fileName, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	if fileName != "" {
		req.Header.Set("X-File-Name", fileName)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIntakeEndpointStatusCodes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, reg := newTestDaemon(t, cfg)
	h := d.api.routes()

	w := post(t, h, "/intake?sid=web-1", "aria%20profile.json", `{"name":"Aria"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("accept code = %d body=%q", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "Data accepted. Session: ~temp_web-1 (aria profile_1.json)" {
		t.Fatalf("accept body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !testsupport.Exists(filepath.Join(cfg.Paths.StagingDir, "~temp_web-1", "aria profile_1.json")) {
		t.Fatal("payload not staged")
	}

	tests := []struct {
		name   string
		target string
		body   string
		code   int
		reply  string
	}{
		{"standby", "/intake", "", http.StatusOK, intake.StandbyResponse},
		{"too large", "/intake", string(testsupport.Payload(intake.MaxPayloadBytes + 1)), http.StatusRequestEntityTooLarge, "File too large: 32768 bytes (Limit: 32767)"},
		{"bad session", "/intake?sid=../x", "{}", http.StatusBadRequest, `Invalid session key "../x"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := post(t, h, tc.target, "", tc.body)
			if w.Code != tc.code || w.Body.String() != tc.reply {
				t.Fatalf("got %d %q, want %d %q", w.Code, w.Body.String(), tc.code, tc.reply)
			}
		})
	}

	if err := reg.SetGate(context.Background(), stage.Intake, false); err != nil {
		t.Fatal(err)
	}
	w = post(t, h, "/intake", "", "{}")
	if w.Code != http.StatusServiceUnavailable || w.Body.String() != "System gate is closed. Entry rejected." {
		t.Fatalf("gate closed: %d %q", w.Code, w.Body.String())
	}
}

func TestStatusEndpointReportsMissingDocuments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newTestDaemon(t, cfg)
	h := d.api.routes()
	post(t, h, "/intake", "", `{"name":"Aria"}`)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var overview status.Overview
	if err := json.Unmarshal(w.Body.Bytes(), &overview); err != nil {
		t.Fatal(err)
	}
	if overview.System != status.SystemName || len(overview.Phases) != 4 {
		t.Fatalf("overview = %+v", overview)
	}
	var router struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(overview.Phases[stage.Router], &router); err != nil {
		t.Fatal(err)
	}
	if router.Status != status.StateUnknown {
		t.Fatalf("router phase = %+v", router)
	}
	var in status.IntakeDocument
	if err := json.Unmarshal(overview.Phases[stage.Intake], &in); err != nil {
		t.Fatal(err)
	}
	if in.Result.Status != status.IntakeSuccess {
		t.Fatalf("intake phase = %+v", in)
	}
}

func TestGatesAndHealthEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, reg := newTestDaemon(t, cfg)
	h := d.api.routes()
	if err := reg.SetGate(context.Background(), stage.Router, false); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gates", nil))
	var gates GatesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &gates); err != nil {
		t.Fatal(err)
	}
	if !gates.Exists || gates.Registry.Gates[stage.Router] || !gates.Registry.Gates[stage.Committer] {
		t.Fatalf("gates = %+v", gates)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz code = %d body=%s", w.Code, w.Body.String())
	}
	var report HealthReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if !report.Ready || len(report.Stages) != 4 {
		t.Fatalf("report = %+v", report)
	}
}

func TestCORSPreflightForConfiguredOrigin(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAllowedOrigins("https://producer.example"))
	d, _ := newTestDaemon(t, cfg)
	h := d.api.routes()

	req := httptest.NewRequest(http.MethodOptions, "/intake", nil)
	req.Header.Set("Origin", "https://producer.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-File-Name")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://producer.example" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestDaemonStartStopIsSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newTestDaemon(t, cfg)
	second, _ := newTestDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(first.Stop)

	st := first.Status(ctx)
	if !st.Running || st.Address == "" {
		t.Fatalf("status = %+v", st)
	}
	if err := first.Start(ctx); err == nil {
		t.Fatal("expected second Start on the same daemon to fail")
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected a second daemon instance to be refused")
	}

	resp, err := http.Get("http://" + st.Address + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	first.Stop()
	if first.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}
