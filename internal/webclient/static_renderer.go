package webclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/danielnaab/site-scanning-engine/internal/domains"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

// StaticRenderer "renders" by fetching the page without running scripts.
// The request list is derived from the resources the markup references.
// It serves hosts without a browser and deterministic tests.
type StaticRenderer struct {
	fetch  WebClient
	logger logging.Logger
	pool   *Pool
	cfg    RendererConfig
}

func NewStaticRenderer(cfg RendererConfig, fetch WebClient, logger logging.Logger) *StaticRenderer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg = withRendererDefaults(cfg)
	return &StaticRenderer{
		fetch:  fetch,
		logger: logger.With(logging.Field{Key: "backend", Value: "static"}),
		pool:   NewPool(cfg.PoolSize, cfg.AcquireTimeout),
		cfg:    cfg,
	}
}

// Pool exposes the context pool, e.g. for metrics.
func (r *StaticRenderer) Pool() *Pool { return r.pool }

var staticReferences = []struct {
	selector     string
	attr         string
	resourceType string
}{
	{"script[src]", "src", "script"},
	{"link[rel~='stylesheet'][href]", "href", "stylesheet"},
	{"link[rel~='preload'][as='font'][href]", "href", "font"},
	{"img[src]", "src", "image"},
	{"iframe[src]", "src", "document"},
}

func (r *StaticRenderer) Render(ctx context.Context, url string) (*Rendered, error) {
	release, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire browsing context: %w", err)
	}
	defer release()

	resp, err := r.fetch.Do(ctx, &Request{Method: "GET", URL: url, Timeout: r.cfg.RenderTimeout})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	out := &Rendered{
		FinalURL:   resp.FinalURL,
		DOM:        string(resp.Body),
		Requests:   []NetworkRequest{{URL: url, ResourceType: "document"}},
		RenderedAt: time.Now(),
	}
	for _, hop := range resp.Hops {
		if hop != url {
			out.Requests = append(out.Requests, NetworkRequest{URL: hop, ResourceType: "document"})
		}
	}
	if resp.FinalURL != url {
		out.Requests = append(out.Requests, NetworkRequest{URL: resp.FinalURL, ResourceType: "document"})
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out.DOM))
	if err != nil {
		r.logger.Debug("parse static DOM", logging.Field{Key: "url", Value: url}, logging.Err(err))
		return out, nil
	}
	for _, ref := range staticReferences {
		doc.Find(ref.selector).Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr(ref.attr)
			abs := domains.Resolve(resp.FinalURL, v)
			if abs == "" || !strings.HasPrefix(abs, "http") {
				return
			}
			out.Requests = append(out.Requests, NetworkRequest{URL: abs, ResourceType: ref.resourceType})
		})
	}
	return out, nil
}

func (r *StaticRenderer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RenderTimeout)
	defer cancel()
	return r.pool.Close(ctx)
}
