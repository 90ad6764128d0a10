package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danielnaab/site-scanning-engine/internal/app"
	"github.com/danielnaab/site-scanning-engine/internal/queue"
	"github.com/danielnaab/site-scanning-engine/internal/testutil"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "scanner.db")
	cfg.Web.Renderer.Backend = webclient.BackendStatic
	cfg.Queue.Backend = queue.BackendMemory
	return cfg
}

func TestApplication_LifecycleAndLazyComponents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := app.NewWithLogger(ctx, testConfig(t), &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.Registry == nil || a.Results == nil || a.Metrics == nil || a.Jobs == nil || a.Fetch == nil {
		t.Fatalf("core components missing: %+v", a)
	}

	s1, err := a.Scanner()
	if err != nil {
		t.Fatalf("Scanner: %v", err)
	}
	s2, err := a.Scanner()
	if err != nil {
		t.Fatalf("Scanner: %v", err)
	}
	if s1 != s2 {
		t.Error("Scanner should be built once")
	}

	q, err := a.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if _, ok := q.(*queue.Memory); !ok {
		t.Errorf("queue = %T, want *queue.Memory", q)
	}
	if _, err := a.Worker(ctx); err != nil {
		t.Fatalf("Worker: %v", err)
	}
	if _, err := a.Ingester(); err != nil {
		t.Fatalf("Ingester: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Web.Renderer.PoolSize = 0
	if _, err := app.NewWithLogger(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected config error")
	}
}

func TestApplication_UnknownRendererFailsLazily(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Web.Renderer.Backend = "netscape"

	a, err := app.NewWithLogger(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if _, err := a.Scanner(); err == nil {
		t.Fatal("expected renderer error")
	}
}
