package webclient_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

func newClient(t *testing.T, cfg webclient.Config, httpClient *http.Client) *webclient.NetHTTPClient {
	t.Helper()
	client, err := webclient.NewNetHTTPClient(cfg, logging.NewNopLogger(), httpClient)
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// ─── Do: real HTTP round-trip via httptest ──────────────────────────────

func TestNetHTTPClient_Do_GET_ReturnsBody(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "hello")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "response body")
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{}, ts.Client())

	resp, err := client.Do(context.Background(), &webclient.Request{
		Method: "GET",
		URL:    ts.URL + "/test",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "response body" {
		t.Errorf("expected 'response body', got %q", resp.Body)
	}
	if resp.Size != int64(len("response body")) {
		t.Errorf("expected size %d, got %d", len("response body"), resp.Size)
	}
	if resp.MIMEType != "text/plain" {
		t.Errorf("expected MIME text/plain, got %q", resp.MIMEType)
	}
	if resp.Headers.Get("X-Custom") != "hello" {
		t.Errorf("expected X-Custom header 'hello', got %q", resp.Headers.Get("X-Custom"))
	}
	if resp.Redirected() {
		t.Errorf("expected no redirect, got hops %v", resp.Hops)
	}
	if resp.FinalURL != ts.URL+"/test" {
		t.Errorf("expected final URL %s/test, got %s", ts.URL, resp.FinalURL)
	}
}

func TestNetHTTPClient_Do_ForwardsHeadersAndUserAgent(t *testing.T) {
	t.Parallel()
	var receivedAuth, receivedUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		receivedUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{UserAgent: "scanner-test"}, ts.Client())

	hdrs := http.Header{}
	hdrs.Set("Authorization", "Bearer test-token")

	_, err := client.Do(context.Background(), &webclient.Request{
		Method:  "GET",
		URL:     ts.URL,
		Headers: hdrs,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	if receivedAuth != "Bearer test-token" {
		t.Errorf("expected Authorization header forwarded, got %q", receivedAuth)
	}
	if receivedUA != "scanner-test" {
		t.Errorf("expected configured user agent, got %q", receivedUA)
	}
}

func TestNetHTTPClient_Do_ErrorStatusesAreResults(t *testing.T) {
	t.Parallel()
	codes := []int{200, 404, 410, 500, 503}

	for _, code := range codes {
		code := code
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
			}))
			defer ts.Close()

			client := newClient(t, webclient.Config{}, ts.Client())

			resp, err := client.Do(context.Background(), &webclient.Request{
				Method: "GET",
				URL:    ts.URL,
			})
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			if resp.StatusCode != code {
				t.Errorf("expected %d, got %d", code, resp.StatusCode)
			}
			if resp.IsLive() != (code < 400) {
				t.Errorf("IsLive for %d = %v", code, resp.IsLive())
			}
		})
	}
}

func TestNetHTTPClient_Do_NilRequest_ReturnsError(t *testing.T) {
	t.Parallel()
	client := newClient(t, webclient.Config{}, nil)

	_, err := client.Do(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for nil request")
	}
}

func TestNetHTTPClient_Do_ConnectionRefused_ReturnsError(t *testing.T) {
	t.Parallel()
	client := newClient(t, webclient.Config{Timeout: time.Second}, nil)

	_, err := client.Do(context.Background(), &webclient.Request{
		Method: "GET",
		URL:    "http://127.0.0.1:1", // port 1 is unlikely to be open
	})
	if err == nil {
		t.Fatal("expected error for connection refused")
	}
}

func TestNetHTTPClient_Do_ContextCanceled_ReturnsError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(200)
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{}, ts.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := client.Do(ctx, &webclient.Request{
		Method: "GET",
		URL:    ts.URL,
	})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestNetHTTPClient_Do_RequestTimeout(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{}, ts.Client())

	start := time.Now()
	_, err := client.Do(context.Background(), &webclient.Request{URL: ts.URL, Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not honoured, took %v", time.Since(start))
	}
}

// ─── Redirects ─────────────────────────────────────────────────────────

func TestNetHTTPClient_Do_TracksRedirectHops(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/b", http.StatusMovedPermanently) })
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/c", http.StatusFound) })
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html></html>")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := newClient(t, webclient.Config{}, ts.Client())

	resp, err := client.Get(context.Background(), ts.URL+"/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !resp.Redirected() {
		t.Fatal("expected redirected response")
	}
	if len(resp.Hops) != 2 || resp.Hops[0] != ts.URL+"/a" || resp.Hops[1] != ts.URL+"/b" {
		t.Errorf("unexpected hops %v", resp.Hops)
	}
	if resp.FinalURL != ts.URL+"/c" {
		t.Errorf("expected final URL %s/c, got %s", ts.URL, resp.FinalURL)
	}
	if resp.MIMEType != "text/html" {
		t.Errorf("expected text/html, got %q", resp.MIMEType)
	}
}

func TestNetHTTPClient_Do_RedirectLoopTerminates(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{MaxRedirects: 3}, ts.Client())

	_, err := client.Get(context.Background(), ts.URL+"/loop")
	if !errors.Is(err, webclient.ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
	if n := hits.Load(); n != 4 {
		t.Errorf("expected 4 requests (1 + 3 redirects), got %d", n)
	}
}

func TestNetHTTPClient_Do_RedirectBoundIsInclusive(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	for i := 0; i < 3; i++ {
		i := i
		mux.HandleFunc(fmt.Sprintf("/r%d", i), func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, fmt.Sprintf("/r%d", i+1), http.StatusFound)
		})
	}
	mux.HandleFunc("/r3", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := newClient(t, webclient.Config{MaxRedirects: 3}, ts.Client())

	resp, err := client.Get(context.Background(), ts.URL+"/r0")
	if err != nil {
		t.Fatalf("exactly MaxRedirects hops should succeed: %v", err)
	}
	if len(resp.Hops) != 3 {
		t.Errorf("expected 3 hops, got %d", len(resp.Hops))
	}
}

func TestNetHTTPClient_Do_NegativeMaxRedirectsReturnsRedirect(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{}, ts.Client())

	resp, err := client.Do(context.Background(), &webclient.Request{URL: ts.URL, MaxRedirects: -1})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("expected 301, got %d", resp.StatusCode)
	}
}

// ─── Bodies ────────────────────────────────────────────────────────────

func TestNetHTTPClient_Do_TruncatesLargeBody(t *testing.T) {
	t.Parallel()
	largeBody := strings.Repeat("X", 1<<20) // 1 MiB
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, largeBody)
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{MaxBodyBytes: 1024}, ts.Client())

	resp, err := client.Do(context.Background(), &webclient.Request{Method: "GET", URL: ts.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(resp.Body) != 1024 || resp.Size != 1024 {
		t.Errorf("expected 1024 byte body, got %d (size %d)", len(resp.Body), resp.Size)
	}
	if !resp.Truncated {
		t.Error("expected Truncated to be set")
	}
}

func TestNetHTTPClient_Do_SniffsMissingContentType(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = io.WriteString(w, "<!DOCTYPE html><html><body>hi</body></html>")
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{}, ts.Client())

	resp, err := client.Get(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.MIMEType != "text/html" {
		t.Errorf("expected sniffed text/html, got %q", resp.MIMEType)
	}
}

func TestNetHTTPClient_Open_CountsStreamedBytes(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, strings.Repeat("y", 5000))
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{}, ts.Client())

	sr, err := client.Open(context.Background(), &webclient.Request{URL: ts.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sr.Body.Close()

	if sr.MIMEType != "application/xml" {
		t.Errorf("expected application/xml, got %q", sr.MIMEType)
	}
	if _, err := io.CopyN(io.Discard, sr.Body, 100); err != nil {
		t.Fatalf("read: %v", err)
	}
	if sr.BytesRead() != 100 {
		t.Errorf("expected 100 bytes read, got %d", sr.BytesRead())
	}
	if _, err := io.Copy(io.Discard, sr.Body); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sr.BytesRead() != 5000 {
		t.Errorf("expected 5000 bytes read, got %d", sr.BytesRead())
	}
}

// ─── Rate limiting ─────────────────────────────────────────────────────

func TestNetHTTPClient_PerHostRateLimit(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := newClient(t, webclient.Config{PerHostRPS: 10}, ts.Client())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.Get(context.Background(), ts.URL); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected pacing of ~100ms between requests, took %v", elapsed)
	}
}
