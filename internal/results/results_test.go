package results_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danielnaab/site-scanning-engine/internal/database"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/results"
)

func newStore(t *testing.T) *results.Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := results.NewStore(db, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleResult(scanID string, websiteID int64, finished time.Time) *model.ScanResult {
	return &model.ScanResult{
		Request: model.ScanRequest{WebsiteID: websiteID, TargetURL: "https://18f.gov", ScanID: scanID},
		Core: model.CoreResult{
			WebsiteID:          websiteID,
			Status:             model.ScanCompleted,
			TargetURL404Test:   model.Of(true),
			FinalURL:           "https://18f.gov/",
			FinalURLStatusCode: 200,
			FinalURLIsLive:     true,
		},
		Solutions: model.SolutionsResult{
			WebsiteID: websiteID,
			ScanID:    scanID,
			RobotsFields: model.RobotsFields{
				RobotsTxtDetected:   model.Of(true),
				RobotsTxtCrawlDelay: model.Absent[float64](),
			},
			ContentFields: model.ContentFields{
				DapDetected:            model.Of(true),
				ThirdPartyServiceCount: model.Of(5),
			},
		},
		StartedAt:  finished.Add(-10 * time.Second),
		FinishedAt: finished,
	}
}

// ─── Save / Get ───

func TestStore_SaveAndGetPreservesFieldStates(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	in := sampleResult("scan-1", 7, epoch)
	in.Degraded = []string{model.GroupUSWDS}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "scan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Request != in.Request {
		t.Errorf("request = %+v, want %+v", got.Request, in.Request)
	}
	if got.Core != in.Core {
		t.Errorf("core = %+v, want %+v", got.Core, in.Core)
	}
	if got.Solutions != in.Solutions {
		t.Errorf("solutions = %+v, want %+v", got.Solutions, in.Solutions)
	}
	if !got.Solutions.RobotsTxtCrawlDelay.IsAbsent() {
		t.Error("absent crawl delay should stay absent")
	}
	if got.Solutions.SitemapXMLDetected.Evaluated() {
		t.Error("unevaluated sitemap field should stay unevaluated")
	}
	if len(got.Degraded) != 1 || got.Degraded[0] != model.GroupUSWDS {
		t.Errorf("degraded = %v", got.Degraded)
	}
	if !got.FinishedAt.Equal(epoch) {
		t.Errorf("finishedAt = %v, want %v", got.FinishedAt, epoch)
	}
}

func TestStore_SaveIsIdempotentPerScanID(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	first := sampleResult("scan-1", 7, epoch)
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second := sampleResult("scan-1", 7, epoch.Add(time.Minute))
	second.Core.Status = model.ScanFailed
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	history, err := s.History(ctx, 7, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 stored result, got %d", len(history))
	}
	if history[0].Status() != model.ScanFailed {
		t.Errorf("expected replaced status failed, got %s", history[0].Status())
	}
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, results.ErrResultNotFound) {
		t.Errorf("Get: expected ErrResultNotFound, got %v", err)
	}
	if _, err := s.Latest(ctx, 1); !errors.Is(err, results.ErrResultNotFound) {
		t.Errorf("Latest: expected ErrResultNotFound, got %v", err)
	}
	if _, err := s.Drift(ctx, 1); !errors.Is(err, results.ErrResultNotFound) {
		t.Errorf("Drift: expected ErrResultNotFound, got %v", err)
	}
}

func TestStore_SaveRejectsMissingScanID(t *testing.T) {
	t.Parallel()
	if err := newStore(t).Save(context.Background(), sampleResult("", 1, epoch)); err == nil {
		t.Fatal("expected error for empty scan id")
	}
}

// ─── History / Latest ───

func TestStore_HistoryNewestFirst(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, sampleResult(id, 3, epoch.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := s.Save(ctx, sampleResult("other", 4, epoch.Add(5*time.Hour))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	history, err := s.History(ctx, 3, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Request.ScanID != "c" || history[1].Request.ScanID != "b" {
		t.Fatalf("unexpected history order: %v", scanIDs(history))
	}

	latest, err := s.Latest(ctx, 3)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Request.ScanID != "c" {
		t.Errorf("latest = %s, want c", latest.Request.ScanID)
	}

	n, err := s.DeleteBefore(ctx, epoch.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
}

func scanIDs(list []*model.ScanResult) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.Request.ScanID
	}
	return out
}

// ─── Drift ───

func TestStore_DriftReportsChangedFields(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	base := sampleResult("base", 9, epoch)
	head := sampleResult("head", 9, epoch.Add(time.Hour))
	head.Solutions.DapDetected = model.Of(false)
	if err := s.Save(ctx, base); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, head); err != nil {
		t.Fatalf("Save: %v", err)
	}

	d, err := s.Drift(ctx, 9)
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if !d.Changed || d.BaseID != "base" || d.HeadID != "head" {
		t.Fatalf("unexpected drift %+v", d)
	}

	var added, removed bool
	for _, c := range d.Chunks {
		switch {
		case c.Type == "added" && strings.Contains(c.Content, `"dapDetected": false`):
			added = true
		case c.Type == "removed" && strings.Contains(c.Content, `"dapDetected": true`):
			removed = true
		}
	}
	if !added || !removed {
		t.Errorf("expected dapDetected change in chunks, got %+v", d.Chunks)
	}
}

func TestStore_DriftSingleResult(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleResult("only", 2, epoch)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	d, err := s.Drift(ctx, 2)
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if d.Changed || d.BaseID != "" || len(d.Chunks) != 0 {
		t.Errorf("expected no drift, got %+v", d)
	}
}

func TestDiffSolutions_IgnoresVolatileFields(t *testing.T) {
	t.Parallel()

	base := sampleResult("a", 1, epoch).Solutions
	head := sampleResult("b", 2, epoch).Solutions
	head.ThirdPartyServiceCount = model.Of(12)
	head.ThirdPartyServiceDomains = model.Of("example.com")
	head.SitemapXMLFinalURLFilesize = model.Of[int64](4096)
	head.SitemapXMLCount = model.Of(300)

	chunks, err := results.DiffSolutions(base, head)
	if err != nil {
		t.Fatalf("DiffSolutions: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %+v", chunks)
	}
}

func TestDiffSolutions_FieldStateChange(t *testing.T) {
	t.Parallel()

	base := sampleResult("a", 1, epoch).Solutions
	head := sampleResult("b", 1, epoch).Solutions
	base.RobotsTxtCrawlDelay = model.NotEvaluated[float64]()

	chunks, err := results.DiffSolutions(base, head)
	if err != nil {
		t.Fatalf("DiffSolutions: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Type != "added" || !strings.Contains(chunks[0].Content, `"robotsTxtCrawlDelay": null`) {
		t.Errorf("unexpected chunks %+v", chunks)
	}
}
