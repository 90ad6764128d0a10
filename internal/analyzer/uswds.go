package analyzer

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/PuerkitoBio/goquery"

	"github.com/danielnaab/site-scanning-engine/internal/domains"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

// USWDS fingerprints design-system adoption from independent textual
// signals over the rendered markup and the page's stylesheets.
type USWDS struct {
	fetch  webclient.WebClient
	cfg    USWDSConfig
	logger logging.Logger
}

func NewUSWDS(fetch webclient.WebClient, cfg USWDSConfig, logger logging.Logger) *USWDS {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	return &USWDS{fetch: fetch, cfg: cfg, logger: logger.With(logging.Component("uswds"))}
}

var (
	// The gap after the name never crosses into a query string:
	// "uswds.min.css?v=20.24.1" carries no version.
	semverPattern  = regexp.MustCompile(`(?i)uswds[^0-9\n?=&#]{0,16}?v?(\d+\.\d+\.\d+(?:-[0-9a-z.]+)?)`)
	flagPattern    = regexp.MustCompile(`(?i)us_flag_small\.png|us-flag|us_flag`)
	publicSans     = regexp.MustCompile(`(?i)public\s*sans`)
	sourceSans     = regexp.MustCompile(`(?i)source\s*sans\s*pro`)
	merriweather   = regexp.MustCompile(`(?i)merriweather`)
	inlineUSWDSCSS = regexp.MustCompile(`(?i)uswds|--usa-|usa-`)
)

// Analyze runs the counters against page. A nil page or a non-HTML target
// leaves every field NotEvaluated.
func (u *USWDS) Analyze(ctx context.Context, t Target, page *webclient.Rendered) model.USWDSFields {
	var f model.USWDSFields
	if page == nil || !t.IsHTML() {
		return f
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.DOM))
	if err != nil {
		u.logger.Warn("parse rendered DOM", logging.Field{Key: "url", Value: t.FinalURL}, logging.Err(err))
		return f
	}

	base := page.FinalURL
	if base == "" {
		base = t.FinalURL
	}
	css := u.collectCSS(ctx, doc, base, page.Requests)
	markup := strings.ToLower(page.DOM)
	scores := u.cfg.Scores

	s := Signals{
		USAClasses:   countUSAClasses(doc),
		String:       strings.Count(markup, "uswds"),
		Tables:       doc.Find("table.usa-table").Length(),
		InlineCSS:    countInlineCSS(doc),
		StringInCSS:  presence(strings.Contains(strings.ToLower(css), "uswds"), scores.StringInCSS),
		UsFlag:       presence(flagPattern.MatchString(page.DOM), scores.UsFlag),
		UsFlagInCSS:  presence(flagPattern.MatchString(css), scores.UsFlagInCSS),
		PublicSans:   presence(publicSans.MatchString(css), scores.PublicSans),
		SourceSans:   presence(sourceSans.MatchString(css), scores.SourceSans),
		Merriweather: presence(merriweather.MatchString(css), scores.Merriweather),
	}

	var sources []string
	for _, req := range page.Requests {
		sources = append(sources, req.URL)
	}
	sources = append(sources, css, page.DOM)
	version := SemanticVersion(sources...)

	total := s.Sum()
	if version != "" {
		total += scores.SemanticVersion
		f.USWDSSemanticVersion = model.Of(version)
	}

	f.USAClasses = model.Of(s.USAClasses)
	f.USWDSString = model.Of(s.String)
	f.USWDSStringInCSS = model.Of(s.StringInCSS)
	f.USWDSTables = model.Of(s.Tables)
	f.USWDSUsFlag = model.Of(s.UsFlag)
	f.USWDSUsFlagInCSS = model.Of(s.UsFlagInCSS)
	f.USWDSPublicSansFont = model.Of(s.PublicSans)
	f.USWDSSourceSansFont = model.Of(s.SourceSans)
	f.USWDSMerriweatherFont = model.Of(s.Merriweather)
	f.USWDSInlineCSS = model.Of(s.InlineCSS)
	f.USWDSCount = model.Of(total)
	f.USWDSVersion = model.Of(Classify(total, u.cfg.Thresholds))
	return f
}

// Signals are the individual counter values.
type Signals struct {
	USAClasses   int
	String       int
	StringInCSS  int
	Tables       int
	UsFlag       int
	UsFlagInCSS  int
	PublicSans   int
	SourceSans   int
	Merriweather int
	InlineCSS    int
}

// Sum is the unweighted sum of every signal.
func (s Signals) Sum() int {
	return s.USAClasses + s.String + s.StringInCSS + s.Tables + s.UsFlag +
		s.UsFlagInCSS + s.PublicSans + s.SourceSans + s.Merriweather + s.InlineCSS
}

func presence(found bool, score int) int {
	if found {
		return score
	}
	return 0
}

// Classify returns the version of the last threshold whose Min is <= count.
// Negative counts classify as the first entry.
func Classify(count int, thresholds []Threshold) int {
	if len(thresholds) == 0 {
		return 0
	}
	version := thresholds[0].Version
	for _, th := range thresholds {
		if count < th.Min {
			break
		}
		version = th.Version
	}
	return version
}

// SemanticVersion returns the highest version found next to the framework
// name in any of texts, e.g. "uswds-2.9.0.min.css" or "/*! uswds v2.9.0 */".
func SemanticVersion(texts ...string) string {
	var found []*semver.Version
	for _, text := range texts {
		for _, m := range semverPattern.FindAllStringSubmatch(text, -1) {
			v, err := semver.StrictNewVersion(m[1])
			if err != nil {
				continue
			}
			found = append(found, v)
		}
	}
	if len(found) == 0 {
		return ""
	}
	sort.Sort(semver.Collection(found))
	return found[len(found)-1].String()
}

func countUSAClasses(doc *goquery.Document) int {
	n := 0
	doc.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		for _, c := range strings.Fields(class) {
			if strings.HasPrefix(c, "usa-") {
				n++
				return
			}
		}
	})
	return n
}

func countInlineCSS(doc *goquery.Document) int {
	n := 0
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if inlineUSWDSCSS.MatchString(style) {
			n++
		}
	})
	return n
}

// collectCSS concatenates inline <style> blocks with up to MaxStylesheets
// linked stylesheets. Stylesheets that fail to load are skipped.
func (u *USWDS) collectCSS(ctx context.Context, doc *goquery.Document, base string, requests []webclient.NetworkRequest) string {
	var b strings.Builder
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		b.WriteString(s.Text())
		b.WriteByte('\n')
	})

	var links []string
	seen := map[string]bool{}
	add := func(ref string) {
		abs := domains.Resolve(base, ref)
		if abs == "" || seen[abs] || !strings.HasPrefix(abs, "http") {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	}
	doc.Find("link[rel~='stylesheet'][href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href)
	})
	for _, req := range requests {
		if req.ResourceType == "stylesheet" {
			add(req.URL)
		}
	}
	if u.fetch == nil {
		return b.String()
	}
	if len(links) > u.cfg.MaxStylesheets {
		links = links[:u.cfg.MaxStylesheets]
	}

	for _, link := range links {
		resp, err := u.fetch.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: link, Timeout: u.cfg.StylesheetTimeout})
		if err != nil {
			u.logger.Debug("stylesheet fetch failed", logging.Field{Key: "url", Value: link}, logging.Err(err))
			continue
		}
		if !resp.IsLive() {
			continue
		}
		b.Write(resp.Body)
		b.WriteByte('\n')
	}
	return b.String()
}
