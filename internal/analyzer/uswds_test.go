package analyzer_test

import (
	"context"
	"testing"

	"github.com/danielnaab/site-scanning-engine/internal/analyzer"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/testutil"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

const uswdsPage = `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="/assets/css/uswds-2.9.0.min.css">
<style>.x { color: red; }</style>
</head><body>
<header class="usa-header usa-header--basic">
<img src="/assets/img/us_flag_small.png" alt="U.S. flag">
</header>
<main class="grid-container usa-layout-docs">
<table class="usa-table"><tr><td style="color: var(--usa-red)">x</td></tr></table>
<p class="lead">text</p>
</main>
</body></html>`

const uswdsCSS = `/*! uswds v2.9.0 */
body { font-family: "Public Sans Web", sans-serif; }
h1 { font-family: Merriweather, serif; }`

func TestUSWDS_Analyze_AdoptingPage(t *testing.T) {
	t.Parallel()
	fetch := &testutil.DummyWebClient{Responses: map[string]testutil.DummyResponse{
		"https://agency.gov/assets/css/uswds-2.9.0.min.css": {ContentType: "text/css", Body: uswdsCSS},
	}}
	u := analyzer.NewUSWDS(fetch, analyzer.DefaultConfig().USWDS, nil)
	page := &webclient.Rendered{
		FinalURL: "https://agency.gov/",
		DOM:      uswdsPage,
		Requests: []webclient.NetworkRequest{
			{URL: "https://agency.gov/assets/css/uswds-2.9.0.min.css", ResourceType: "stylesheet"},
		},
	}

	f := u.Analyze(context.Background(), agencyTarget, page)

	checks := []struct {
		name  string
		field model.Field[int]
		want  int
	}{
		{"usaClasses", f.USAClasses, 3},
		{"uswdsString", f.USWDSString, 1},
		{"uswdsStringInCss", f.USWDSStringInCSS, 20},
		{"uswdsTables", f.USWDSTables, 1},
		{"uswdsUsFlag", f.USWDSUsFlag, 20},
		{"uswdsUsFlagInCss", f.USWDSUsFlagInCSS, 0},
		{"uswdsPublicSansFont", f.USWDSPublicSansFont, 20},
		{"uswdsSourceSansFont", f.USWDSSourceSansFont, 0},
		{"uswdsMerriweatherFont", f.USWDSMerriweatherFont, 5},
		{"uswdsInlineCss", f.USWDSInlineCSS, 1},
		// 71 from the signals plus 20 for the semantic version.
		{"uswdsCount", f.USWDSCount, 91},
		{"uswdsVersion", f.USWDSVersion, 1},
	}
	for _, c := range checks {
		if v, ok := c.field.Get(); !ok || v != c.want {
			t.Errorf("%s: expected %d, got %v", c.name, c.want, c.field)
		}
	}
	if v, _ := f.USWDSSemanticVersion.Get(); v != "2.9.0" {
		t.Errorf("expected semantic version 2.9.0, got %v", f.USWDSSemanticVersion)
	}
	if got := fetch.RequestedURLs(); len(got) != 1 {
		t.Errorf("stylesheet should be fetched once, got %v", got)
	}
}

func TestUSWDS_Analyze_NoAdoption(t *testing.T) {
	t.Parallel()
	u := analyzer.NewUSWDS(&testutil.DummyWebClient{}, analyzer.DefaultConfig().USWDS, nil)
	page := &webclient.Rendered{FinalURL: "https://agency.gov/", DOM: `<html><body><p class="intro">Hello</p></body></html>`}

	f := u.Analyze(context.Background(), agencyTarget, page)

	if v, ok := f.USWDSCount.Get(); !ok || v != 0 {
		t.Errorf("expected count 0, got %v", f.USWDSCount)
	}
	if v, ok := f.USWDSVersion.Get(); !ok || v != 0 {
		t.Errorf("expected version 0, got %v", f.USWDSVersion)
	}
	if f.USWDSSemanticVersion.Evaluated() {
		t.Errorf("expected semantic version not evaluated, got %v", f.USWDSSemanticVersion)
	}
}

func TestUSWDS_Analyze_StylesheetFailureIsSkipped(t *testing.T) {
	t.Parallel()
	fetch := &testutil.DummyWebClient{FailURLs: map[string]bool{"https://agency.gov/assets/css/uswds-2.9.0.min.css": true}}
	u := analyzer.NewUSWDS(fetch, analyzer.DefaultConfig().USWDS, nil)
	page := &webclient.Rendered{FinalURL: "https://agency.gov/", DOM: uswdsPage}

	f := u.Analyze(context.Background(), agencyTarget, page)

	if v, _ := f.USWDSStringInCSS.Get(); v != 0 {
		t.Errorf("expected no CSS signal without the stylesheet, got %d", v)
	}
	// The version is still visible in the asset filename.
	if v, _ := f.USWDSSemanticVersion.Get(); v != "2.9.0" {
		t.Errorf("expected version from filename, got %v", f.USWDSSemanticVersion)
	}
}

func TestUSWDS_Analyze_NotEvaluated(t *testing.T) {
	t.Parallel()
	u := analyzer.NewUSWDS(&testutil.DummyWebClient{}, analyzer.DefaultConfig().USWDS, nil)
	if f := u.Analyze(context.Background(), agencyTarget, nil); (f != model.USWDSFields{}) {
		t.Errorf("failed render must leave the group not evaluated, got %+v", f)
	}
}

func TestClassify_TotalOverNonNegativeCounts(t *testing.T) {
	t.Parallel()
	th := analyzer.DefaultThresholds()
	cases := map[int]int{0: 0, 1: 1, 42: 1, 99: 1, 100: 2, 153: 2, 1 << 30: 2, -5: 0}
	for count, want := range cases {
		if got := analyzer.Classify(count, th); got != want {
			t.Errorf("Classify(%d) = %d, want %d", count, got, want)
		}
	}
}

func TestValidateThresholds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		th   []analyzer.Threshold
		ok   bool
	}{
		{"default", analyzer.DefaultThresholds(), true},
		{"empty", nil, false},
		{"gap at zero", []analyzer.Threshold{{Min: 1, Version: 1}}, false},
		{"not increasing", []analyzer.Threshold{{Min: 0}, {Min: 10, Version: 1}, {Min: 10, Version: 2}}, false},
	}
	for _, tc := range cases {
		if err := analyzer.ValidateThresholds(tc.th); (err == nil) != tc.ok {
			t.Errorf("%s: unexpected result %v", tc.name, err)
		}
	}
}

func TestSemanticVersion(t *testing.T) {
	t.Parallel()
	cases := []struct {
		texts []string
		want  string
	}{
		{[]string{"https://agency.gov/assets/uswds-2.9.0.min.css"}, "2.9.0"},
		{[]string{"/*! uswds v3.7.1 */ body{}"}, "3.7.1"},
		{[]string{"uswds@2.13.3", "uswds-3.0.0-beta.1"}, "3.0.0-beta.1"},
		{[]string{"uswds 1.6.10", "/* uswds v2.0.0 */"}, "2.0.0"},
		{[]string{"jquery-3.6.0.min.js", "bootstrap 5.3.0"}, ""},
		{[]string{"https://agency.gov/css/uswds.min.css?v=20.24.1"}, ""},
		{[]string{"/assets/uswds.min.js?ver=3.1.0", "uswds-2.11.2.min.css?v=7"}, "2.11.2"},
	}
	for _, tc := range cases {
		if got := analyzer.SemanticVersion(tc.texts...); got != tc.want {
			t.Errorf("SemanticVersion(%v) = %q, want %q", tc.texts, got, tc.want)
		}
	}
}
