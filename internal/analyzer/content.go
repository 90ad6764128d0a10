package analyzer

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/danielnaab/site-scanning-engine/internal/domains"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

// Content inspects the rendered final page: main landmark, Open Graph tags,
// the analytics script and third-party request domains.
type Content struct {
	cfg    ContentConfig
	logger logging.Logger
}

func NewContent(cfg ContentConfig, logger logging.Logger) *Content {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if len(cfg.DAPPatterns) == 0 {
		cfg.DAPPatterns = DefaultConfig().Content.DAPPatterns
	}
	return &Content{cfg: cfg, logger: logger.With(logging.Component("content"))}
}

// Analyze reads page, the render of t.FinalURL. A nil page (render failed)
// or a non-HTML target leaves every field NotEvaluated.
func (c *Content) Analyze(ctx context.Context, t Target, page *webclient.Rendered) model.ContentFields {
	var f model.ContentFields
	if page == nil || !t.IsHTML() {
		return f
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.DOM))
	if err != nil {
		c.logger.Warn("parse rendered DOM", logging.Field{Key: "url", Value: t.FinalURL}, logging.Err(err))
		return f
	}

	f.MainElementFinalURL = model.Of(doc.Find("main, [role='main']").Length() > 0)

	f.OgTitleFinalURL = metaContent(doc, "og:title")
	f.OgDescriptionFinalURL = metaContent(doc, "og:description")
	// Article timestamps only apply to article pages; elsewhere they are not
	// evaluated rather than absent.
	published := metaContent(doc, "article:published_time")
	modified := metaContent(doc, "article:modified_time")
	isArticle := strings.EqualFold(metaContent(doc, "og:type").OrElse(""), "article")
	if published.IsPresent() || isArticle {
		f.OgArticlePublishedFinalURL = published
	}
	if modified.IsPresent() || isArticle {
		f.OgArticleModifiedFinalURL = modified
	}

	dapRef := c.findDAP(doc, page)
	f.DapDetected = model.Of(dapRef != "")
	if dapRef != "" {
		if u, err := url.Parse(dapRef); err == nil && u.RawQuery != "" {
			f.DapParameters = model.Of(u.RawQuery)
		}
	}

	thirdParties := ThirdPartyDomains(page.FinalURL, page.Requests)
	if page.FinalURL == "" {
		thirdParties = ThirdPartyDomains(t.FinalURL, page.Requests)
	}
	f.ThirdPartyServiceDomains = model.Of(strings.Join(thirdParties, ","))
	f.ThirdPartyServiceCount = model.Of(len(thirdParties))
	return f
}

// metaContent looks a meta tag up by property or name. A tag without a
// content attribute counts as absent.
func metaContent(doc *goquery.Document, key string) model.Field[string] {
	sel := doc.Find("meta[property='" + key + "'], meta[name='" + key + "']").First()
	if sel.Length() == 0 {
		return model.Absent[string]()
	}
	v, ok := sel.Attr("content")
	if !ok {
		return model.Absent[string]()
	}
	return model.Of(strings.TrimSpace(v))
}

// findDAP returns the first analytics script reference, checking script
// tags before the captured requests.
func (c *Content) findDAP(doc *goquery.Document, page *webclient.Rendered) string {
	var ref string
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if c.isDAP(src) {
			ref = domains.Resolve(page.FinalURL, src)
			return false
		}
		return true
	})
	if ref != "" {
		return ref
	}
	for _, req := range page.Requests {
		if req.ResourceType == "script" && c.isDAP(req.URL) {
			return req.URL
		}
	}
	return ""
}

func (c *Content) isDAP(ref string) bool {
	lower := strings.ToLower(ref)
	for _, p := range c.cfg.DAPPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// ThirdPartyDomains returns the sorted registrable domains of requests
// whose registrable domain differs from finalURL's. Requests without an
// http(s) URL are ignored.
func ThirdPartyDomains(finalURL string, requests []webclient.NetworkRequest) []string {
	own := domains.RegistrableDomain(finalURL)
	set := map[string]struct{}{}
	for _, req := range requests {
		if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
			continue
		}
		d := domains.RegistrableDomain(req.URL)
		if d == "" || d == own {
			continue
		}
		set[d] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
