package webclient

import (
	"context"
	"errors"
)

var (
	// ErrTooManyRedirects is returned when a fetch exceeds its redirect bound.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrPoolExhausted is returned when no rendering context frees up within
	// the acquisition timeout.
	ErrPoolExhausted = errors.New("render pool exhausted")

	// ErrPoolClosed is returned by Acquire after the pool has been closed.
	ErrPoolClosed = errors.New("render pool closed")

	// ErrUnsupportedBackend is returned by NewRenderer for unknown names.
	ErrUnsupportedBackend = errors.New("unsupported renderer backend")
)

// WebClient performs HTTP(S) fetches with redirect tracking.
//
// Ordinary HTTP error statuses (4xx/5xx) are results, not errors. Errors are
// returned only for transport faults: DNS, TLS, refused connections,
// timeouts, unreadable bodies and exceeding the redirect bound.
type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)

	// Open is Do without reading the body. The caller must close
	// StreamResponse.Body.
	Open(ctx context.Context, req *Request) (*StreamResponse, error)

	Get(ctx context.Context, url string) (*Response, error)

	Close() error
}

// Renderer loads a page in a scriptable browsing context and returns the
// rendered DOM together with every request the page issued while loading.
type Renderer interface {
	Render(ctx context.Context, url string) (*Rendered, error)

	Close() error
}
