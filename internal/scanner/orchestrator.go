package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielnaab/site-scanning-engine/internal/analyzer"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

// Collaborators are the explicitly constructed parts an Orchestrator runs.
type Collaborators struct {
	Liveness LivenessChecker
	Robots   RobotsAnalyzer
	Sitemap  SitemapAnalyzer
	Content  ContentAnalyzer
	USWDS    USWDSAnalyzer
	Renderer webclient.Renderer
}

type Orchestrator struct {
	c        Collaborators
	cfg      Config
	logger   logging.Logger
	recorder Recorder
	observer StateObserver
}

type Option func(*Orchestrator)

// WithRecorder sets where scan measurements go.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithObserver registers a callback for state transitions.
func WithObserver(fn StateObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func New(c Collaborators, cfg Config, logger logging.Logger, opts ...Option) (*Orchestrator, error) {
	switch {
	case c.Liveness == nil:
		return nil, errors.New("scanner: liveness checker is required")
	case c.Robots == nil, c.Sitemap == nil, c.Content == nil, c.USWDS == nil:
		return nil, errors.New("scanner: all four analyzers are required")
	case c.Renderer == nil:
		return nil, errors.New("scanner: renderer is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	o := &Orchestrator{
		c:        c,
		cfg:      cfg,
		logger:   logger.With(logging.Component("scanner")),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// NewDefault wires the standard analyzers around fetch and renderer.
func NewDefault(fetch webclient.WebClient, renderer webclient.Renderer, acfg analyzer.Config, cfg Config, logger logging.Logger, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return New(Collaborators{
		Liveness: analyzer.NewLiveness(fetch, acfg.Liveness, logger),
		Robots:   analyzer.NewRobots(fetch, acfg.Robots, logger),
		Sitemap:  analyzer.NewSitemap(fetch, acfg.Sitemap, logger),
		Content:  analyzer.NewContent(acfg.Content, logger),
		USWDS:    analyzer.NewUSWDS(fetch, acfg.USWDS, logger),
		Renderer: renderer,
	}, cfg, logger, opts...)
}

func (o *Orchestrator) transition(req model.ScanRequest, state model.ScanState) {
	if o.observer != nil {
		o.observer(req, state)
	}
}

// Scan runs one scan. It always returns a result. The error is non-nil when
// the scan failed (wrapping ErrLivenessFailed or ErrInternal) or when ctx
// was canceled by the caller; a scan cut short by its own deadline is
// completed with the unfinished groups left not evaluated. A cancellation
// during the liveness check returns ctx.Err() with no status set.
func (o *Orchestrator) Scan(ctx context.Context, req model.ScanRequest) (*model.ScanResult, error) {
	res := &model.ScanResult{
		Request:   req,
		Core:      model.CoreResult{WebsiteID: req.WebsiteID},
		Solutions: model.SolutionsResult{WebsiteID: req.WebsiteID, ScanID: req.ScanID},
		StartedAt: time.Now().UTC(),
	}
	log := o.logger.With(
		logging.Field{Key: "scan_id", Value: req.ScanID},
		logging.Field{Key: "website_id", Value: req.WebsiteID})
	o.transition(req, model.StatePending)

	var (
		scanCtx context.Context
		cancel  context.CancelFunc
	)
	if o.cfg.Deadline > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	core, target, err := o.c.Liveness.Check(scanCtx, req)
	if err != nil && ctx.Err() != nil {
		log.Info("scan canceled", logging.Field{Key: "stage", Value: "liveness"}, logging.Err(err))
		res.FinishedAt = time.Now().UTC()
		o.transition(req, model.StateFailed)
		return res, ctx.Err()
	}
	if err != nil {
		log.Warn("target unreachable", logging.Field{Key: "stage", Value: "liveness"}, logging.Err(err))
		res.Core = model.CoreResult{WebsiteID: req.WebsiteID, Status: model.ScanFailed}
		o.finish(res, model.StateFailed)
		return res, fmt.Errorf("%w: %v", ErrLivenessFailed, err)
	}
	o.transition(req, model.StateLivenessChecked)

	o.transition(req, model.StateAnalyzing)
	out := o.analyze(scanCtx, *target, log)

	if err := o.merge(res, core, out); err != nil {
		log.Error("merge failed", logging.Field{Key: "stage", Value: "merge"}, logging.Err(err))
		res.Core = model.CoreResult{WebsiteID: req.WebsiteID, Status: model.ScanFailed}
		res.Solutions = model.SolutionsResult{WebsiteID: req.WebsiteID, ScanID: req.ScanID}
		res.Degraded = nil
		o.finish(res, model.StateFailed)
		return res, err
	}
	o.transition(req, model.StateMerged)

	o.finish(res, model.StateCompleted)
	log.Info("scan completed",
		logging.Field{Key: "final_url", Value: res.Core.FinalURL},
		logging.Field{Key: "degraded", Value: res.Degraded},
		logging.Field{Key: "duration", Value: res.Duration().String()})

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) finish(res *model.ScanResult, state model.ScanState) {
	res.FinishedAt = time.Now().UTC()
	if state == model.StateCompleted {
		res.Core.Status = model.ScanCompleted
	}
	o.recorder.ScanFinished(res.Core.Status, res.Duration().Seconds())
	o.transition(res.Request, state)
}

// outputs holds what each analyzer produced. A group is nil when its
// analyzer did not settle before the deadline or panicked.
type outputs struct {
	robots  *model.RobotsFields
	sitemap *model.SitemapFields
	content *model.ContentFields
	uswds   *model.USWDSFields
}

// analyze fans the four analyzers out. The sitemap analyzer waits on the
// robots report; content and USWDS share one render.
func (o *Orchestrator) analyze(ctx context.Context, t analyzer.Target, log logging.Logger) outputs {
	robotsReport := newFuture[analyzer.RobotsReport]()
	page := newFuture[*webclient.Rendered]()

	robotsCh := make(chan model.RobotsFields, 1)
	sitemapCh := make(chan model.SitemapFields, 1)
	contentCh := make(chan model.ContentFields, 1)
	uswdsCh := make(chan model.USWDSFields, 1)

	var g errgroup.Group
	g.Go(func() error {
		var report analyzer.RobotsReport
		defer func() { robotsReport.resolve(report) }()
		o.runGroup(log, model.GroupRobots, func() {
			report = o.c.Robots.Analyze(ctx, t)
			robotsCh <- report.Fields
		})
		return nil
	})
	g.Go(func() error {
		var rendered *webclient.Rendered
		defer func() { page.resolve(rendered) }()
		o.runGroup(log, "render", func() {
			rendered = o.render(ctx, t, log)
		})
		return nil
	})
	g.Go(func() error {
		o.runGroup(log, model.GroupSitemap, func() {
			report, ok := robotsReport.wait(ctx)
			if !ok {
				return
			}
			sitemapCh <- o.c.Sitemap.Analyze(ctx, t, report.SitemapLocations)
		})
		return nil
	})
	g.Go(func() error {
		o.runGroup(log, model.GroupContent, func() {
			p, ok := page.wait(ctx)
			if !ok {
				return
			}
			contentCh <- o.c.Content.Analyze(ctx, t, p)
		})
		return nil
	})
	g.Go(func() error {
		o.runGroup(log, model.GroupUSWDS, func() {
			p, ok := page.wait(ctx)
			if !ok {
				return
			}
			uswdsCh <- o.c.USWDS.Analyze(ctx, t, p)
		})
		return nil
	})

	settled := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-ctx.Done():
		log.Warn("scan deadline reached, abandoning unfinished analyzers", logging.Err(ctx.Err()))
	}

	return outputs{
		robots:  receive(robotsCh),
		sitemap: receive(sitemapCh),
		content: receive(contentCh),
		uswds:   receive(uswdsCh),
	}
}

// receive takes a value from ch if one was sent.
func receive[T any](ch <-chan T) *T {
	select {
	case v := <-ch:
		return &v
	default:
		return nil
	}
}

// runGroup runs fn, recovering a panic so one analyzer cannot take the scan
// down, and records the analyzer's duration.
func (o *Orchestrator) runGroup(log logging.Logger, group string, fn func()) {
	start := time.Now()
	panicked := false
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			log.Error("analyzer panicked",
				logging.Field{Key: "stage", Value: group},
				logging.Field{Key: "panic", Value: fmt.Sprint(r)},
				logging.Field{Key: "stack", Value: string(debug.Stack())})
		}
		o.recorder.AnalyzerFinished(group, time.Since(start).Seconds(), panicked)
	}()
	fn()
}

// render loads the final URL once for the content and USWDS analyzers.
// Non-HTML targets are not rendered.
func (o *Orchestrator) render(ctx context.Context, t analyzer.Target, log logging.Logger) *webclient.Rendered {
	if !t.IsHTML() {
		return nil
	}
	if o.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RenderTimeout)
		defer cancel()
	}
	page, err := o.c.Renderer.Render(ctx, t.FinalURL)
	if err != nil {
		log.Warn("render failed",
			logging.Field{Key: "stage", Value: "render"},
			logging.Field{Key: "url", Value: t.FinalURL},
			logging.Err(err))
		return nil
	}
	return page
}

// merge assembles the result pair. Each group is copied whole from its
// analyzer, so no group can overwrite another's fields.
func (o *Orchestrator) merge(res *model.ScanResult, core model.CoreResult, out outputs) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	res.Core = core
	res.Core.WebsiteID = res.Request.WebsiteID

	var degraded []string
	if out.robots != nil {
		res.Solutions.RobotsFields = *out.robots
	}
	if out.sitemap != nil {
		res.Solutions.SitemapFields = *out.sitemap
	}
	if out.content != nil {
		res.Solutions.ContentFields = *out.content
	}
	if out.uswds != nil {
		res.Solutions.USWDSFields = *out.uswds
	}
	for group, empty := range map[string]bool{
		model.GroupRobots:  res.Solutions.RobotsFields == (model.RobotsFields{}),
		model.GroupSitemap: res.Solutions.SitemapFields == (model.SitemapFields{}),
		model.GroupContent: res.Solutions.ContentFields == (model.ContentFields{}),
		model.GroupUSWDS:   res.Solutions.USWDSFields == (model.USWDSFields{}),
	} {
		if empty {
			degraded = append(degraded, group)
		}
	}
	sort.Strings(degraded)
	res.Degraded = degraded
	return nil
}
