package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/danielnaab/site-scanning-engine/internal/domains"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

type Sitemap struct {
	fetch  webclient.WebClient
	cfg    SitemapConfig
	logger logging.Logger
}

func NewSitemap(fetch webclient.WebClient, cfg SitemapConfig, logger logging.Logger) *Sitemap {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().Sitemap.MaxBytes
	}
	return &Sitemap{fetch: fetch, cfg: cfg, logger: logger.With(logging.Component("sitemap"))}
}

// Location picks the sitemap URL: the first location declared in robots.txt,
// resolved against the origin, or {origin}/sitemap.xml.
func (s *Sitemap) Location(t Target, declared []string) string {
	for _, loc := range declared {
		if abs := domains.Resolve(t.Origin+"/", loc); strings.HasPrefix(abs, "http") {
			return abs
		}
	}
	return t.Origin + "/sitemap.xml"
}

// Analyze fetches and parses the sitemap. declared is the robots analyzer's
// location list, nil when robots.txt was unavailable.
func (s *Sitemap) Analyze(ctx context.Context, t Target, declared []string) model.SitemapFields {
	var f model.SitemapFields
	sitemapURL := s.Location(t, declared)
	log := s.logger.With(logging.Field{Key: "url", Value: sitemapURL})

	sr, err := s.fetch.Open(ctx, &webclient.Request{Method: http.MethodGet, URL: sitemapURL, Timeout: s.cfg.Timeout})
	if err != nil {
		log.Warn("sitemap fetch failed", logging.Err(err))
		return f
	}
	defer sr.Body.Close()

	live := sr.IsLive()
	f.SitemapTargetURLRedirects = model.Of(sr.Redirected())
	f.SitemapXMLFinalURL = model.Of(sr.FinalURL)
	f.SitemapXMLFinalURLLive = model.Of(live)
	f.SitemapXMLStatusCode = model.Of(sr.StatusCode)
	f.SitemapXMLFinalURLMimeType = model.Of(sr.MIMEType)

	detected := live && isXMLOrTextType(sr.MIMEType) && sr.MIMEType != "text/html"
	f.SitemapXMLDetected = model.Of(detected)

	if detected {
		body := io.LimitReader(sr.Body, s.cfg.MaxBytes)
		pages, pdfs, err := s.count(ctx, body, sr.MIMEType, true)
		if err != nil {
			log.Warn("sitemap parse failed", logging.Err(err))
		} else {
			f.SitemapXMLCount = model.Of(pages)
			f.SitemapXMLPdfCount = model.Of(pdfs)
		}
	}

	// Filesize covers the whole primary document even when parsing stopped
	// early.
	if _, err := io.Copy(io.Discard, sr.Body); err != nil {
		log.Warn("sitemap read failed", logging.Err(err))
		return f
	}
	f.SitemapXMLFinalURLFilesize = model.Of(sr.BytesRead())
	return f
}

// count streams entries from r. When followChildren is set, children of a
// sitemap index are fetched and their pages aggregated; children that are
// themselves indexes contribute nothing.
func (s *Sitemap) count(ctx context.Context, r io.Reader, mimeType string, followChildren bool) (pages, pdfs int, err error) {
	reader := NewSitemapReader(r, mimeType)
	var children []string
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, 0, err
		}
		switch entry.Kind {
		case EntryPage:
			pages++
			if strings.HasSuffix(strings.ToLower(entry.Loc), ".pdf") {
				pdfs++
			}
		case EntryChild:
			if entry.Loc != "" {
				children = append(children, entry.Loc)
			}
		}
	}

	if !reader.IsIndex || !followChildren {
		return pages, pdfs, nil
	}
	if len(children) > s.cfg.MaxChildSitemaps {
		s.logger.Info("sitemap index truncated",
			logging.Field{Key: "children", Value: len(children)},
			logging.Field{Key: "limit", Value: s.cfg.MaxChildSitemaps})
		children = children[:s.cfg.MaxChildSitemaps]
	}
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		p, d, err := s.countChild(ctx, child)
		if err != nil {
			s.logger.Warn("child sitemap skipped",
				logging.Field{Key: "url", Value: child},
				logging.Err(err))
			continue
		}
		pages += p
		pdfs += d
	}
	return pages, pdfs, nil
}

func (s *Sitemap) countChild(ctx context.Context, childURL string) (int, int, error) {
	sr, err := s.fetch.Open(ctx, &webclient.Request{Method: http.MethodGet, URL: childURL, Timeout: s.cfg.Timeout})
	if err != nil {
		return 0, 0, err
	}
	defer sr.Body.Close()
	if !sr.IsLive() {
		return 0, 0, fmt.Errorf("status %d", sr.StatusCode)
	}
	return s.count(ctx, io.LimitReader(sr.Body, s.cfg.MaxBytes), sr.MIMEType, false)
}
