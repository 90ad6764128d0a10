package webclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

// PlaywrightRenderer renders pages in fresh browser contexts of one
// Chromium instance driven by Playwright.
type PlaywrightRenderer struct {
	cfg    RendererConfig
	logger logging.Logger
	pool   *Pool

	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightRenderer starts the Playwright driver and launches Chromium.
// Browsers must already be installed (playwright install chromium).
func NewPlaywrightRenderer(cfg RendererConfig, logger logging.Logger) (*PlaywrightRenderer, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg = withRendererDefaults(cfg)

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	}
	if cfg.ExecPath != "" {
		launch.ExecutablePath = playwright.String(cfg.ExecPath)
	}
	if cfg.NoSandbox {
		launch.Args = []string{"--no-sandbox"}
	}
	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	componentLogger := logger.With(logging.Field{Key: "backend", Value: "playwright"})
	componentLogger.Info("created playwright renderer", logging.Field{Key: "pool_size", Value: cfg.PoolSize})

	return &PlaywrightRenderer{
		cfg:     cfg,
		logger:  componentLogger,
		pool:    NewPool(cfg.PoolSize, cfg.AcquireTimeout),
		pw:      pw,
		browser: browser,
	}, nil
}

// Pool exposes the context pool, e.g. for metrics.
func (r *PlaywrightRenderer) Pool() *Pool { return r.pool }

func (r *PlaywrightRenderer) Render(ctx context.Context, url string) (*Rendered, error) {
	release, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire browsing context: %w", err)
	}
	defer release()

	opts := playwright.BrowserNewContextOptions{}
	if r.cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(r.cfg.UserAgent)
	}
	bctx, err := r.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}

	var (
		reqMu sync.Mutex
		reqs  []NetworkRequest
	)
	page.OnRequest(func(req playwright.Request) {
		reqMu.Lock()
		reqs = append(reqs, NetworkRequest{URL: req.URL(), ResourceType: strings.ToLower(req.ResourceType())})
		reqMu.Unlock()
	})

	timeout := r.cfg.RenderTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("render %s: %w", url, context.DeadlineExceeded)
	}

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("render %s: %w", url, err)
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read DOM %s: %w", url, err)
	}

	reqMu.Lock()
	out := append([]NetworkRequest(nil), reqs...)
	reqMu.Unlock()

	return &Rendered{
		FinalURL:   page.URL(),
		DOM:        html,
		Requests:   out,
		RenderedAt: time.Now(),
	}, nil
}

// Close waits for in-flight renders, then stops the browser and driver.
func (r *PlaywrightRenderer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RenderTimeout)
	defer cancel()
	poolErr := r.pool.Close(ctx)
	if err := r.browser.Close(); err != nil {
		r.logger.Warn("closing chromium", logging.Err(err))
	}
	if err := r.pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright: %w", err)
	}
	return poolErr
}
