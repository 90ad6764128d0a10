package analyzer_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielnaab/site-scanning-engine/internal/analyzer"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/testutil"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

func newFetch(t *testing.T, ts *httptest.Server) webclient.WebClient {
	t.Helper()
	client, err := webclient.NewNetHTTPClient(webclient.Config{}, logging.NewNopLogger(), ts.Client())
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	return client
}

func TestLiveness_Check_RedirectToOtherDomain(t *testing.T) {
	t.Parallel()
	fetch := &testutil.DummyWebClient{Responses: map[string]testutil.DummyResponse{
		"https://18f.gov": {
			ContentType: "text/html; charset=utf-8",
			Body:        "<html></html>",
			FinalURL:    "https://18f.gsa.gov/",
			Hops:        []string{"https://18f.gov"},
		},
	}}
	l := analyzer.NewLiveness(fetch, analyzer.DefaultConfig().Liveness, &testutil.DummyLogger{})

	core, target, err := l.Check(context.Background(), model.ScanRequest{WebsiteID: 7, TargetURL: "18f.gov", ScanID: "s1"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if core.WebsiteID != 7 {
		t.Errorf("expected website id 7, got %d", core.WebsiteID)
	}
	if core.FinalURL != "https://18f.gsa.gov/" {
		t.Errorf("unexpected final URL %q", core.FinalURL)
	}
	if !core.TargetURLRedirects {
		t.Error("expected targetUrlRedirects")
	}
	if core.TargetURLBaseDomain != "18f.gov" || core.FinalURLBaseDomain != "gsa.gov" {
		t.Errorf("unexpected base domains %q / %q", core.TargetURLBaseDomain, core.FinalURLBaseDomain)
	}
	if core.FinalURLSameDomain || core.FinalURLSameWebsite {
		t.Error("expected different domain and website")
	}
	if !core.FinalURLIsLive || core.FinalURLStatusCode != 200 || core.FinalURLMIMEType != "text/html" {
		t.Errorf("unexpected liveness fields %+v", core)
	}
	// The dummy answers unknown paths with an empty 404.
	if v, ok := core.TargetURL404Test.Get(); !ok || !v {
		t.Errorf("expected targetUrl404Test true, got %v", core.TargetURL404Test)
	}

	if target == nil {
		t.Fatal("expected target")
	}
	if target.Origin != "https://18f.gsa.gov" {
		t.Errorf("expected origin of final URL, got %q", target.Origin)
	}
	if !target.IsHTML() {
		t.Error("expected HTML target")
	}
}

func TestLiveness_Check_TransportFailureShortCircuits(t *testing.T) {
	t.Parallel()
	fetch := &testutil.DummyWebClient{FailURLs: map[string]bool{"https://gone.gov": true}}
	l := analyzer.NewLiveness(fetch, analyzer.DefaultConfig().Liveness, nil)

	core, target, err := l.Check(context.Background(), model.ScanRequest{WebsiteID: 3, TargetURL: "gone.gov"})
	if !errors.Is(err, testutil.ErrDummyFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if target != nil {
		t.Error("expected no target on failure")
	}
	if (core != model.CoreResult{WebsiteID: 3}) {
		t.Errorf("expected zero-valued core result, got %+v", core)
	}
	if got := fetch.RequestedURLs(); len(got) != 1 {
		t.Errorf("expected no probe after failure, requests %v", got)
	}
}

func TestLiveness_Check_EmptyTarget(t *testing.T) {
	t.Parallel()
	l := analyzer.NewLiveness(&testutil.DummyWebClient{}, analyzer.DefaultConfig().Liveness, nil)
	if _, _, err := l.Check(context.Background(), model.ScanRequest{WebsiteID: 1}); err == nil {
		t.Fatal("expected error for empty target")
	}
}

func TestLiveness_Check_NotFoundProbe(t *testing.T) {
	t.Parallel()
	const home = "<html><body>home</body></html>"

	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    model.Field[bool]
	}{
		{
			name: "genuine 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/" {
					_, _ = io.WriteString(w, home)
					return
				}
				http.NotFound(w, r)
			},
			want: model.Of(true),
		},
		{
			name: "gone",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/" {
					_, _ = io.WriteString(w, home)
					return
				}
				w.WriteHeader(http.StatusGone)
			},
			want: model.Of(true),
		},
		{
			name: "soft 404 with 200",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, home)
			},
			want: model.Of(false),
		},
		{
			name: "home page served as 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/" {
					w.WriteHeader(http.StatusNotFound)
				}
				_, _ = io.WriteString(w, home)
			},
			want: model.Of(false),
		},
		{
			name: "probe transport failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/" {
					_, _ = io.WriteString(w, home)
					return
				}
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					conn.Close()
				}
			},
			want: model.NotEvaluated[bool](),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := httptest.NewServer(tc.handler)
			defer ts.Close()

			l := analyzer.NewLiveness(newFetch(t, ts), analyzer.DefaultConfig().Liveness, nil)
			core, _, err := l.Check(context.Background(), model.ScanRequest{TargetURL: ts.URL + "/"})
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if core.TargetURL404Test != tc.want {
				t.Errorf("expected %v, got %v", tc.want, core.TargetURL404Test)
			}
			if !core.FinalURLSameDomain || !core.FinalURLSameWebsite {
				t.Error("expected same domain and website without redirect")
			}
		})
	}
}
