package webclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

// ChromedpRenderer renders pages in tabs of one long-lived headless Chrome.
// Tabs are bounded by a Pool shared by every caller.
type ChromedpRenderer struct {
	cfg    RendererConfig
	logger logging.Logger
	pool   *Pool

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpRenderer starts the browser. It fails fast when Chrome cannot
// be launched.
func NewChromedpRenderer(cfg RendererConfig, logger logging.Logger) (*ChromedpRenderer, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg = withRendererDefaults(cfg)

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	componentLogger := logger.With(logging.Field{Key: "backend", Value: "chromedp"})
	componentLogger.Info("created chromedp renderer",
		logging.Field{Key: "pool_size", Value: cfg.PoolSize},
		logging.Field{Key: "idle_after", Value: cfg.IdleAfter.String()})

	return &ChromedpRenderer{
		cfg:           cfg,
		logger:        componentLogger,
		pool:          NewPool(cfg.PoolSize, cfg.AcquireTimeout),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Pool exposes the context pool, e.g. for metrics.
func (r *ChromedpRenderer) Pool() *Pool { return r.pool }

func (r *ChromedpRenderer) Render(ctx context.Context, url string) (*Rendered, error) {
	release, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire browsing context: %w", err)
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.cfg.RenderTimeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var (
		reqMu sync.Mutex
		reqs  []NetworkRequest
	)
	idle := watchNetworkIdle(tabCtx, r.cfg.IdleAfter, func(ev *network.EventRequestWillBeSent) {
		reqMu.Lock()
		reqs = append(reqs, NetworkRequest{
			URL:          ev.Request.URL,
			ResourceType: strings.ToLower(string(ev.Type)),
		})
		reqMu.Unlock()
	})

	if err := chromedp.Run(tabCtx, network.Enable(), chromedp.Navigate(url)); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	idle.arm()

	select {
	case <-idle.done:
	case <-time.After(r.cfg.MaxIdleWait):
		r.logger.Debug("network never went idle; reading DOM anyway", logging.Field{Key: "url", Value: url})
	case <-tabCtx.Done():
		return nil, fmt.Errorf("render %s: %w", url, tabCtx.Err())
	}

	var html, finalURL string
	if err := chromedp.Run(tabCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	); err != nil {
		return nil, fmt.Errorf("read DOM %s: %w", url, err)
	}

	reqMu.Lock()
	out := append([]NetworkRequest(nil), reqs...)
	reqMu.Unlock()

	return &Rendered{
		FinalURL:   finalURL,
		DOM:        html,
		Requests:   out,
		RenderedAt: time.Now(),
	}, nil
}

// Close waits for in-flight renders, then shuts the browser down.
func (r *ChromedpRenderer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RenderTimeout)
	defer cancel()
	err := r.pool.Close(ctx)
	r.browserCancel()
	r.allocCancel()
	r.logger.Info("closed chromedp renderer")
	return err
}

// idleWatcher closes done once no request has been in flight for idleAfter.
type idleWatcher struct {
	done       chan struct{}
	idleAfter  time.Duration
	activeReqs atomic.Int32

	timerMu sync.Mutex
	timer   *time.Timer
	once    sync.Once
}

func watchNetworkIdle(ctx context.Context, idleAfter time.Duration, onRequest func(*network.EventRequestWillBeSent)) *idleWatcher {
	w := &idleWatcher{done: make(chan struct{}), idleAfter: idleAfter}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			w.activeReqs.Add(1)
			if onRequest != nil {
				onRequest(e)
			}
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if w.activeReqs.Add(-1) <= 0 {
				w.startTimer()
			}
		}
	})

	return w
}

// arm starts the idle timer if nothing is in flight, so a page that issues no
// further requests after load still counts as idle.
func (w *idleWatcher) arm() {
	if w.activeReqs.Load() <= 0 {
		w.startTimer()
	}
}

func (w *idleWatcher) startTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.idleAfter, func() {
		if w.activeReqs.Load() <= 0 {
			w.once.Do(func() { close(w.done) })
		}
	})
}

func withRendererDefaults(cfg RendererConfig) RendererConfig {
	def := DefaultConfig().Renderer
	if cfg.PoolSize < 1 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = def.RenderTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = def.IdleAfter
	}
	if cfg.MaxIdleWait <= 0 {
		cfg.MaxIdleWait = def.MaxIdleWait
	}
	return cfg
}
