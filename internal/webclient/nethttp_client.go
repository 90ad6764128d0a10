package webclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielnaab/site-scanning-engine/internal/domains"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

// net/http backed implementation of WebClient.
type NetHTTPClient struct {
	cfg    Config
	client *http.Client
	logger logging.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewNetHTTPClient builds the process-wide fetch client. httpClient may be
// nil, in which case one with a dedicated transport is created; tests pass
// httptest's client.
func NewNetHTTPClient(cfg Config, logger logging.Logger, httpClient *http.Client) (*NetHTTPClient, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	componentLogger := logger.With(logging.Field{Key: "backend", Value: "nethttp"})

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 8
		httpClient = &http.Client{Transport: transport}
	}

	componentLogger.Info("created nethttp webclient",
		logging.Field{Key: "timeout", Value: cfg.Timeout.String()},
		logging.Field{Key: "max_redirects", Value: cfg.MaxRedirects})

	return &NetHTTPClient{
		cfg:      cfg,
		client:   httpClient,
		logger:   componentLogger,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Do implements the generic request execution using net/http.
func (nhc *NetHTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	sr, err := nhc.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer sr.Body.Close()

	body, err := io.ReadAll(io.LimitReader(sr.Body, nhc.cfg.MaxBodyBytes+1))
	if err != nil {
		nhc.logger.Warn("failed to read response body",
			logging.Field{Key: "url", Value: req.URL},
			logging.Err(err))
		return nil, fmt.Errorf("read body: %w", err)
	}

	resp := sr.Response
	if int64(len(body)) > nhc.cfg.MaxBodyBytes {
		body = body[:nhc.cfg.MaxBodyBytes]
		resp.Truncated = true
	}
	resp.Body = body
	resp.Size = int64(len(body))
	if resp.MIMEType == "" && len(body) > 0 {
		resp.MIMEType = MediaType(http.DetectContentType(body))
	}
	return &resp, nil
}

// Open performs the request and hands back the unread body.
func (nhc *NetHTTPClient) Open(ctx context.Context, req *Request) (*StreamResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = nhc.cfg.Timeout
	}
	maxRedirects := req.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = nhc.cfg.MaxRedirects
	}

	if err := nhc.wait(ctx, req.URL); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	nhc.logger.Debug("sending http request",
		logging.Field{Key: "method", Value: method},
		logging.Field{Key: "url", Value: req.URL})

	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL, bodyReader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", nhc.cfg.UserAgent)
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	var hops []string
	client := *nhc.client
	client.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if maxRedirects < 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects: %w", maxRedirects, ErrTooManyRedirects)
		}
		hops = append(hops, via[len(via)-1].URL.String())
		return nil
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		cancel()
		nhc.logger.Warn("http request failed",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "url", Value: req.URL},
			logging.Err(err))
		if errors.Is(err, ErrTooManyRedirects) {
			return nil, fmt.Errorf("http do %s: %w", req.URL, ErrTooManyRedirects)
		}
		return nil, fmt.Errorf("http do: %w", err)
	}

	sr := NewStreamResponse(Response{
		Request:    req,
		FinalURL:   resp.Request.URL.String(),
		Hops:       hops,
		StatusCode: resp.StatusCode,
		MIMEType:   MediaType(resp.Header.Get("Content-Type")),
		Headers:    resp.Header,
		FetchedAt:  time.Now(),
	}, cancelOnClose{ReadCloser: resp.Body, cancel: cancel})
	return sr, nil
}

// Get is a convenience method for simple GET requests
func (nhc *NetHTTPClient) Get(ctx context.Context, url string) (*Response, error) {
	return nhc.Do(ctx, &Request{Method: http.MethodGet, URL: url})
}

func (nhc *NetHTTPClient) Close() error {
	nhc.logger.Info("closing nethttp webclient")
	nhc.client.CloseIdleConnections()
	return nil
}

// HTTPClient returns the underlying *http.Client
func (nhc *NetHTTPClient) HTTPClient() *http.Client {
	return nhc.client
}

func (nhc *NetHTTPClient) wait(ctx context.Context, rawURL string) error {
	if nhc.cfg.PerHostRPS <= 0 {
		return nil
	}
	host := domains.Hostname(rawURL)
	nhc.limitersMu.Lock()
	lim, ok := nhc.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(nhc.cfg.PerHostRPS), 1)
		nhc.limiters[host] = lim
	}
	nhc.limitersMu.Unlock()
	return lim.Wait(ctx)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// MediaType strips parameters from a Content-Type value and lowercases it.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
