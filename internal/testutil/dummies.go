// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ErrorCount returns how many Error calls were recorded.
func (l *DummyLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Errors)
}

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyResponse scripts one URL for DummyWebClient.
type DummyResponse struct {
	StatusCode  int
	ContentType string
	Body        string
	// FinalURL defaults to the requested URL.
	FinalURL string
	Hops     []string
}

// ErrDummyFetch is returned for URLs listed in FailURLs.
var ErrDummyFetch = errors.New("dummy fetch failure")

// DummyWebClient implements webclient.WebClient.
// Scripted URLs answer from Responses; unknown URLs answer 404 with an empty
// body. Set FailURLs[url] = true to force a transport error for a URL.
type DummyWebClient struct {
	ResponseDelay time.Duration
	Responses     map[string]DummyResponse
	FailURLs      map[string]bool

	mu       sync.Mutex
	Requests []*webclient.Request
}

func (d *DummyWebClient) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	sr, err := d.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer sr.Body.Close()
	body, err := io.ReadAll(sr.Body)
	if err != nil {
		return nil, err
	}
	resp := sr.Response
	resp.Body = body
	resp.Size = int64(len(body))
	return &resp, nil
}

func (d *DummyWebClient) Open(ctx context.Context, req *webclient.Request) (*webclient.StreamResponse, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	d.mu.Unlock()

	if d.FailURLs != nil && d.FailURLs[req.URL] {
		return nil, ErrDummyFetch
	}

	scripted, ok := d.Responses[req.URL]
	if !ok {
		scripted = DummyResponse{StatusCode: http.StatusNotFound}
	}
	if scripted.StatusCode == 0 {
		scripted.StatusCode = http.StatusOK
	}
	final := scripted.FinalURL
	if final == "" {
		final = req.URL
	}
	headers := http.Header{}
	if scripted.ContentType != "" {
		headers.Set("Content-Type", scripted.ContentType)
	}

	return webclient.NewStreamResponse(webclient.Response{
		Request:    req,
		FinalURL:   final,
		Hops:       scripted.Hops,
		StatusCode: scripted.StatusCode,
		MIMEType:   webclient.MediaType(scripted.ContentType),
		Headers:    headers,
		FetchedAt:  time.Now(),
	}, io.NopCloser(bytes.NewReader([]byte(scripted.Body)))), nil
}

func (d *DummyWebClient) Get(ctx context.Context, url string) (*webclient.Response, error) {
	return d.Do(ctx, &webclient.Request{Method: "GET", URL: url})
}

func (d *DummyWebClient) Close() error { return nil }

// RequestedURLs returns the URLs fetched so far, in order.
func (d *DummyWebClient) RequestedURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Requests))
	for i, r := range d.Requests {
		out[i] = r.URL
	}
	return out
}

// ─── Renderer ──────────────────────────────────────────────────────────

// DummyRenderer implements webclient.Renderer. Pages maps URL to the
// rendered result; unknown URLs and FailURLs return an error.
type DummyRenderer struct {
	Pages    map[string]*webclient.Rendered
	FailURLs map[string]bool
	Delay    time.Duration
	// Panic makes Render panic, for recovery tests.
	Panic bool

	mu    sync.Mutex
	Calls int
}

// ErrDummyRender is returned for URLs the renderer has no page for.
var ErrDummyRender = errors.New("dummy render failure")

func (r *DummyRenderer) Render(ctx context.Context, url string) (*webclient.Rendered, error) {
	r.mu.Lock()
	r.Calls++
	r.mu.Unlock()

	if r.Panic {
		panic("dummy renderer panic")
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.FailURLs[url] {
		return nil, ErrDummyRender
	}
	page, ok := r.Pages[url]
	if !ok {
		return nil, ErrDummyRender
	}
	cp := *page
	if cp.FinalURL == "" {
		cp.FinalURL = url
	}
	return &cp, nil
}

func (r *DummyRenderer) Close() error { return nil }

// CallCount returns how many times Render was invoked.
func (r *DummyRenderer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls
}
