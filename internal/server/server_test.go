package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielnaab/site-scanning-engine/internal/app"
	"github.com/danielnaab/site-scanning-engine/internal/demoserver"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/queue"
	"github.com/danielnaab/site-scanning-engine/internal/registry"
	"github.com/danielnaab/site-scanning-engine/internal/results"
	"github.com/danielnaab/site-scanning-engine/internal/server"
	"github.com/danielnaab/site-scanning-engine/internal/testutil"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

func newTestApp(t *testing.T) *app.Application {
	t.Helper()

	cfg := app.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "scanner.db")
	cfg.Web.Renderer.Backend = webclient.BackendStatic
	cfg.Queue.Backend = queue.BackendMemory
	cfg.Metrics.Runtime = false

	a, err := app.NewWithLogger(context.Background(), cfg, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewWithLogger: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func newTestServer(t *testing.T) (*server.Server, *app.Application) {
	t.Helper()

	a := newTestApp(t)
	s, err := server.NewServer(a)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, a
}

// newDemoSite serves the fake agency site the scans run against.
func newDemoSite(t *testing.T) (*demoserver.DemoServer, *httptest.Server) {
	t.Helper()
	d, err := demoserver.NewDemoServer(demoserver.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDemoServer: %v", err)
	}
	ts := httptest.NewServer(d.Handler())
	t.Cleanup(ts.Close)
	return d, ts
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

// waitJob polls a job until it reaches a final status.
func waitJob(t *testing.T, s http.Handler, jobID string) app.Job {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, s, "GET", "/jobs/"+jobID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("get job: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var job app.Job
		decodeJSON(t, rec, &job)
		switch job.Status {
		case app.JobDone, app.JobFailed, app.JobCanceled:
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return app.Job{}
}

func startScan(t *testing.T, s http.Handler, body string) app.Job {
	t.Helper()
	rec := doJSON(t, s, "POST", "/scans", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start scan: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job app.Job
	decodeJSON(t, rec, &job)
	if job.ID == "" {
		t.Fatal("expected job ID")
	}
	return job
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "GET", "/healthz", "")

	origin := rec.Header().Get("Access-Control-Allow-Origin")
	if origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

func TestServer_CORS_AllowList(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	a.Config.Server.AllowedOrigins = []string{"https://dashboard.example.gov"}
	s, err := server.NewServer(a)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	for origin, want := range map[string]string{
		"https://dashboard.example.gov": "https://dashboard.example.gov",
		"https://evil.example.com":      "",
	} {
		req := httptest.NewRequest("GET", "/healthz", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: allow-origin = %q, want %q", origin, got, want)
		}
	}
}

func TestServer_Preflight(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "OPTIONS", "/jobs/abc", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, DELETE" {
		t.Errorf("allow-methods = %q", got)
	}
}

// ─── System ────────────────────────────────────────────────────────────

func TestServer_Health(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp server.HealthResponse
	decodeJSON(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestServer_MetricsCountRequests(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	doJSON(t, s, "GET", "/healthz", "")
	rec := doJSON(t, s, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `site_scanner_http_requests_total{code="200",method="GET"}`) {
		t.Errorf("request counter missing:\n%s", rec.Body.String())
	}
}

func TestServer_SwaggerDocument(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "GET", "/swagger/doc.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"/websites/{id}/drift"`) {
		t.Errorf("drift route not documented")
	}
}

// ─── Scans & jobs ──────────────────────────────────────────────────────

func TestServer_StartScan_Validation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid JSON", `{`, http.StatusBadRequest},
		{"no target", `{}`, http.StatusBadRequest},
		{"unknown website", `{"websiteId": 999}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, "POST", "/scans", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			var resp server.ErrorResponse
			decodeJSON(t, rec, &resp)
			if resp.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestServer_ScanAdHocTarget(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	_, site := newDemoSite(t)

	job := startScan(t, s, fmt.Sprintf(`{"url": %q}`, site.URL))
	final := waitJob(t, s, job.ID)

	if final.Status != app.JobDone {
		t.Fatalf("status = %s (%s)", final.Status, final.Error)
	}
	if final.Result == nil {
		t.Fatal("expected result on job")
	}
	core := final.Result.Core
	if core.Status != model.ScanCompleted || !core.TargetURLRedirects || core.FinalURL != site.URL+"/home/" {
		t.Errorf("core = %+v", core)
	}
	if v, _ := final.Result.Solutions.USWDSSemanticVersion.Get(); v != demoserver.USWDSVersion {
		t.Errorf("uswds version = %q", v)
	}

	// Ad-hoc scans are not stored.
	if rec := doJSON(t, s, "GET", "/results/"+final.Request.ScanID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unsaved result, got %d", rec.Code)
	}

	rec := doJSON(t, s, "GET", "/jobs", "")
	var jobs []app.Job
	decodeJSON(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestServer_ScanRegisteredWebsiteAndDrift(t *testing.T) {
	t.Parallel()
	s, a := newTestServer(t)
	demo, site := newDemoSite(t)

	web := &registry.Website{Website: site.URL, Agency: "Demo Agency"}
	if err := a.Registry.Upsert(context.Background(), web); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	body := fmt.Sprintf(`{"websiteId": %d}`, web.ID)

	first := waitJob(t, s, startScan(t, s, body).ID)
	if first.Status != app.JobDone {
		t.Fatalf("first scan: %s (%s)", first.Status, first.Error)
	}
	if err := demo.SetProfile(demoserver.ProfileLegacy); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	second := waitJob(t, s, startScan(t, s, body).ID)
	if second.Status != app.JobDone {
		t.Fatalf("second scan: %s (%s)", second.Status, second.Error)
	}

	rec := doJSON(t, s, "GET", "/results/"+first.Request.ScanID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get result: expected 200, got %d", rec.Code)
	}
	var stored model.ScanResult
	decodeJSON(t, rec, &stored)
	if stored.Request.WebsiteID != web.ID || stored.Core.WebsiteID != web.ID {
		t.Errorf("stored result not tied to website: %+v", stored.Request)
	}

	rec = doJSON(t, s, "GET", fmt.Sprintf("/websites/%d/results", web.ID), "")
	var history []model.ScanResult
	decodeJSON(t, rec, &history)
	if len(history) != 2 || history[0].Request.ScanID != second.Request.ScanID {
		t.Fatalf("history = %d results", len(history))
	}

	rec = doJSON(t, s, "GET", fmt.Sprintf("/websites/%d/drift", web.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("drift: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var drift results.Drift
	decodeJSON(t, rec, &drift)
	if !drift.Changed || drift.BaseID != first.Request.ScanID || drift.HeadID != second.Request.ScanID {
		t.Errorf("drift = %+v", drift)
	}
}

func TestServer_GetJob_NotFound(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "GET", "/jobs/nonexistent", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "DELETE", "/jobs/nonexistent", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

// ─── Websites ──────────────────────────────────────────────────────────

func TestServer_Websites(t *testing.T) {
	t.Parallel()
	s, a := newTestServer(t)
	ctx := context.Background()

	for _, name := range []string{"one.gov", "two.gov", "three.gov"} {
		if err := a.Registry.Upsert(ctx, &registry.Website{Website: name}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	rec := doJSON(t, s, "GET", "/websites?limit=2&offset=1", "")
	var page []registry.Website
	decodeJSON(t, rec, &page)
	if len(page) != 2 || page[0].Website != "two.gov" {
		t.Fatalf("page = %+v", page)
	}

	rec = doJSON(t, s, "GET", fmt.Sprintf("/websites/%d", page[1].ID), "")
	var web registry.Website
	decodeJSON(t, rec, &web)
	if web.Website != "three.gov" {
		t.Errorf("website = %q", web.Website)
	}

	if rec := doJSON(t, s, "GET", "/websites/999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown website: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, s, "GET", "/websites/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
	if rec := doJSON(t, s, "GET", "/websites/1/drift", ""); rec.Code != http.StatusNotFound {
		t.Errorf("drift without results: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/websites/1/results", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty history = %s", rec.Body.String())
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────────

func TestServer_ScanWebSocketStreamsEvents(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	_, site := newDemoSite(t)

	api := httptest.NewServer(s)
	t.Cleanup(api.Close)

	wsURL := "ws" + strings.TrimPrefix(api.URL, "http") + "/ws/scans?url=" + site.URL
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(20 * time.Second))

	var job app.Job
	if err := conn.ReadJSON(&job); err != nil {
		t.Fatalf("read job: %v", err)
	}
	if job.ID == "" || job.Request.TargetURL != site.URL {
		t.Fatalf("job = %+v", job)
	}

	var (
		states  []model.ScanState
		last    app.JobStatus
		results int
	)
	for {
		var ev app.JobEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		switch ev.Type {
		case app.JobEventState:
			states = append(states, ev.State)
		case app.JobEventStatus:
			last = ev.Status
		case app.JobEventResult:
			results++
		}
	}

	if last != app.JobDone {
		t.Errorf("final status = %q", last)
	}
	if results != 1 {
		t.Errorf("result events = %d, want 1", results)
	}
	if len(states) == 0 || states[len(states)-1] != model.StateCompleted {
		t.Errorf("states = %v", states)
	}
}
