package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

// RobotsReport is the robots analyzer's output. SitemapLocations is nil when
// the file was not fetched or not detected, so the sitemap analyzer can fall
// back to the conventional location.
type RobotsReport struct {
	Fields           model.RobotsFields
	SitemapLocations []string
}

type Robots struct {
	fetch  webclient.WebClient
	cfg    RobotsConfig
	logger logging.Logger
}

func NewRobots(fetch webclient.WebClient, cfg RobotsConfig, logger logging.Logger) *Robots {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Robots{fetch: fetch, cfg: cfg, logger: logger.With(logging.Component("robots"))}
}

func (r *Robots) Analyze(ctx context.Context, t Target) RobotsReport {
	var report RobotsReport
	robotsURL := t.Origin + "/robots.txt"

	resp, err := r.fetch.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: robotsURL, Timeout: r.cfg.Timeout})
	if err != nil {
		r.logger.Warn("robots.txt fetch failed",
			logging.Field{Key: "url", Value: robotsURL},
			logging.Err(err))
		return report
	}

	f := &report.Fields
	f.RobotsTxtStatusCode = model.Of(resp.StatusCode)
	f.RobotsTxtFinalURL = model.Of(resp.FinalURL)
	f.RobotsTxtFinalURLLive = model.Of(resp.IsLive())
	f.RobotsTxtFinalURLMimeType = model.Of(resp.MIMEType)
	f.RobotsTxtFinalURLSize = model.Of(resp.Size)
	f.RobotsTxtTargetURLRedirects = model.Of(resp.Redirected())

	detected := resp.StatusCode == http.StatusOK && resp.Size > 0
	f.RobotsTxtDetected = model.Of(detected)
	if !detected {
		return report
	}

	directives := ParseRobots(resp.Body)
	f.RobotsTxtCrawlDelay = directives.CrawlDelay
	f.RobotsTxtSitemapLocations = model.Of(strings.Join(directives.Sitemaps, ","))
	report.SitemapLocations = directives.Sitemaps
	if report.SitemapLocations == nil {
		report.SitemapLocations = []string{}
	}
	return report
}

// RobotsDirectives holds the directives the analyzer reports on.
type RobotsDirectives struct {
	// CrawlDelay is the first Crawl-delay value. It stays NotEvaluated when
	// there is no such line or the first one is not numeric.
	CrawlDelay model.Field[float64]
	// Sitemaps lists Sitemap values, deduplicated, in file order.
	Sitemaps []string
}

var utf8BOM = []byte("\xef\xbb\xbf")

// ParseRobots reads robots.txt line by line. Directive names are matched
// case-insensitively and # comments are stripped. A leading UTF-8 byte
// order mark is ignored.
func ParseRobots(body []byte) RobotsDirectives {
	var out RobotsDirectives
	seen := map[string]bool{}
	delaySeen := false

	body = bytes.TrimPrefix(body, utf8BOM)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "crawl-delay":
			if delaySeen {
				continue
			}
			delaySeen = true
			if d, err := strconv.ParseFloat(value, 64); err == nil && d >= 0 {
				out.CrawlDelay = model.Of(d)
			}
		case "sitemap":
			if value == "" || seen[value] {
				continue
			}
			seen[value] = true
			out.Sitemaps = append(out.Sitemaps, value)
		}
	}
	return out
}
