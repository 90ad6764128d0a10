package webclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many browsing contexts are in use at once across every
// scan in the process. Acquire blocks until a slot frees up, the acquisition
// timeout passes, or ctx ends.
type Pool struct {
	sem            *semaphore.Weighted
	size           int
	acquireTimeout time.Duration
	inUse          atomic.Int64

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	observer func(inUse int)
}

// NewPool returns a pool with size slots. size < 1 is treated as 1.
func NewPool(size int, acquireTimeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:            semaphore.NewWeighted(int64(size)),
		size:           size,
		acquireTimeout: acquireTimeout,
	}
}

// SetObserver registers fn to be called with the in-use count after every
// acquire and release.
func (p *Pool) SetObserver(fn func(inUse int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

// Acquire reserves a slot. The returned release func is idempotent and must
// be called on every exit path, typically with defer.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	actx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(actx, 1); err != nil {
		p.inflight.Done()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrPoolExhausted
		}
		return nil, err
	}
	p.notify(p.inUse.Add(1))

	var once sync.Once
	return func() {
		once.Do(func() {
			p.sem.Release(1)
			p.notify(p.inUse.Add(-1))
			p.inflight.Done()
		})
	}, nil
}

func (p *Pool) notify(n int64) {
	p.mu.Lock()
	fn := p.observer
	p.mu.Unlock()
	if fn != nil {
		fn(int(n))
	}
}

// InUse returns the number of slots currently held.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// Close stops new acquisitions and waits for held slots to be released or
// for ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
