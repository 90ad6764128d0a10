package webclient

import (
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte

	// Timeout bounds the whole fetch including redirects and body read.
	// Zero uses the client default.
	Timeout time.Duration

	// MaxRedirects bounds redirect following. Zero uses the client default;
	// a negative value disables following.
	MaxRedirects int
}

type Response struct {
	Request *Request

	// FinalURL is the URL that produced this response after redirects.
	FinalURL string

	// Hops lists the URLs that answered with a redirect, in order.
	Hops []string

	StatusCode int

	// MIMEType is the media type without parameters, lowercased.
	MIMEType string

	Headers http.Header
	Body    []byte

	// Size is the number of body bytes read.
	Size int64

	// Truncated is set when the body exceeded the client's MaxBodyBytes.
	Truncated bool

	FetchedAt time.Time
}

// Redirected reports whether at least one redirect hop occurred.
func (r *Response) Redirected() bool {
	return len(r.Hops) > 0
}

// IsLive reports whether the final status is in [200, 399].
func (r *Response) IsLive() bool {
	return IsLiveStatus(r.StatusCode)
}

// IsLiveStatus reports whether code is in [200, 399].
func IsLiveStatus(code int) bool {
	return code >= 200 && code <= 399
}

// StreamResponse carries response metadata with an unread body. Size and
// Body on the embedded Response are left empty; BytesRead reports progress.
type StreamResponse struct {
	Response
	Body io.ReadCloser

	counter *countingReader
}

// NewStreamResponse wraps body so that BytesRead tracks consumption.
func NewStreamResponse(resp Response, body io.ReadCloser) *StreamResponse {
	counter := &countingReader{r: body}
	return &StreamResponse{
		Response: resp,
		Body:     readCloser{Reader: counter, close: body.Close},
		counter:  counter,
	}
}

// BytesRead returns how many body bytes have been consumed so far.
func (s *StreamResponse) BytesRead() int64 {
	if s.counter == nil {
		return 0
	}
	return s.counter.n.Load()
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

type readCloser struct {
	io.Reader
	close func() error
}

func (rc readCloser) Close() error { return rc.close() }

// NetworkRequest is one outbound request observed during a render.
type NetworkRequest struct {
	URL string `json:"url"`

	// ResourceType is the lowercased browser resource type, e.g. "script",
	// "stylesheet", "image", "xhr".
	ResourceType string `json:"resourceType"`
}

// Rendered is the outcome of one render.
type Rendered struct {
	FinalURL   string
	DOM        string
	Requests   []NetworkRequest
	RenderedAt time.Time
}
