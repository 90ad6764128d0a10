package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danielnaab/site-scanning-engine/internal/database"
	"github.com/danielnaab/site-scanning-engine/internal/ingest"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/metrics"
	"github.com/danielnaab/site-scanning-engine/internal/queue"
	"github.com/danielnaab/site-scanning-engine/internal/registry"
	"github.com/danielnaab/site-scanning-engine/internal/results"
	"github.com/danielnaab/site-scanning-engine/internal/scanner"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

// Application is the process-wide runtime state container. It is built
// once by the command entry point and closed on exit. Components that need
// external services (the browser, the queue broker) are started on first
// use, so commands that never touch them do not require them.
type Application struct {
	Config *Config
	Logger logging.Logger

	Fetch    webclient.WebClient
	DB       *database.DB
	Registry *registry.Registry
	Results  *results.Store
	Metrics  *metrics.Collector
	Jobs     *JobManager

	zap *logging.ZapLogger

	mu       sync.Mutex
	renderer webclient.Renderer
	scanner  *scanner.Orchestrator
	queue    queue.Queue
}

// New builds the core components: logger, fetch client, database with
// migrations applied, registry, results store, metrics and job manager.
func New(ctx context.Context, cfg *Config) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	zl, err := logging.NewZapLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return newWith(ctx, cfg, zl, zl)
}

// NewWithLogger is New with a caller-supplied logger, e.g. for tests.
func NewWithLogger(ctx context.Context, cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return newWith(ctx, cfg, logger, nil)
}

func newWith(ctx context.Context, cfg *Config, logger logging.Logger, zl *logging.ZapLogger) (_ *Application, err error) {
	a := &Application{Config: cfg, Logger: logger, zap: zl}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Fetch, err = webclient.NewNetHTTPClient(cfg.Web, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("create web client: %w", err)
	}

	a.DB, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(ctx, a.DB); err != nil {
		return nil, err
	}
	if a.Registry, err = registry.NewRegistry(a.DB, logger); err != nil {
		return nil, err
	}
	if a.Results, err = results.NewStore(a.DB, logger); err != nil {
		return nil, err
	}

	a.Metrics = metrics.New(cfg.Metrics)
	a.Jobs = NewJobManager(nil, a.Results, cfg.Jobs.Retention, logger)

	logger.Info("application initialized",
		logging.Field{Key: "database", Value: cfg.Database.Driver},
		logging.Field{Key: "renderer", Value: string(cfg.Web.Renderer.Backend)},
		logging.Field{Key: "queue", Value: cfg.Queue.Backend})
	return a, nil
}

// Renderer starts the configured rendering backend on first use.
func (a *Application) Renderer() (webclient.Renderer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rendererLocked()
}

func (a *Application) rendererLocked() (webclient.Renderer, error) {
	if a.renderer != nil {
		return a.renderer, nil
	}
	r, err := webclient.NewRenderer(a.Config.Web.Renderer, a.Fetch, a.Logger)
	if err != nil {
		return nil, err
	}
	if p, ok := r.(interface{ Pool() *webclient.Pool }); ok {
		p.Pool().SetObserver(a.Metrics.PoolInUse)
	}
	a.renderer = r
	return r, nil
}

// Scanner builds the scan orchestrator, and the renderer it needs, on first
// use. The job manager is pointed at it.
func (a *Application) Scanner() (*scanner.Orchestrator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanner != nil {
		return a.scanner, nil
	}
	r, err := a.rendererLocked()
	if err != nil {
		return nil, err
	}

	cfg := a.Config.Scanner
	cfg.Deadline = a.Config.ScanDeadline()
	s, err := scanner.NewDefault(a.Fetch, r, a.Config.Analyzer, cfg, a.Logger,
		scanner.WithRecorder(a.Metrics),
		scanner.WithObserver(a.Jobs.ObserveState))
	if err != nil {
		return nil, err
	}
	a.scanner = s
	a.Jobs.SetScanner(s)
	return s, nil
}

// Queue connects to the configured queue backend on first use.
func (a *Application) Queue(ctx context.Context) (queue.Queue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.queue != nil {
		return a.queue, nil
	}
	q, err := queue.New(ctx, a.Config.Queue, a.Logger)
	if err != nil {
		return nil, err
	}
	a.queue = q
	return q, nil
}

// Worker builds a queue worker around the scanner and results store.
func (a *Application) Worker(ctx context.Context) (*queue.Worker, error) {
	q, err := a.Queue(ctx)
	if err != nil {
		return nil, err
	}
	s, err := a.Scanner()
	if err != nil {
		return nil, err
	}
	return queue.NewWorker(q, s, a.Results, a.Config.Queue.Worker, a.Logger, queue.WithDepthRecorder(a.Metrics))
}

// Ingester builds the website list loader.
func (a *Application) Ingester() (*ingest.Ingester, error) {
	return ingest.New(a.Fetch, a.Registry, a.Config.Ingest, a.Logger)
}

// Close shuts components down in reverse order of construction. It is safe
// to call more than once.
func (a *Application) Close() error {
	if a == nil {
		return errors.New("application is nil")
	}
	var errs []error

	if a.Jobs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		if err := a.Jobs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("jobs: %w", err))
		}
		cancel()
	}

	a.mu.Lock()
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
		a.queue = nil
	}
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("renderer: %w", err))
		}
		a.renderer = nil
	}
	a.scanner = nil
	a.mu.Unlock()

	if a.Fetch != nil {
		if err := a.Fetch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("web client: %w", err))
		}
		a.Fetch = nil
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
		a.DB = nil
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
	return errors.Join(errs...)
}
