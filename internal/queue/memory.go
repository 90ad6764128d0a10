package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Queue.
type Memory struct {
	mu      sync.Mutex
	ready   []Job
	delayed map[*time.Timer]struct{}
	notify  chan struct{}
	closed  bool
	done    chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		delayed: make(map[*time.Timer]struct{}),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (m *Memory) Enqueue(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrQueueClosed
	}
	m.push(job)
	return nil
}

// push requires m.mu.
func (m *Memory) push(job Job) {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	m.ready = append(m.ready, job)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return m.Enqueue(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrQueueClosed
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, pending := m.delayed[timer]; !pending || m.closed {
			return
		}
		delete(m.delayed, timer)
		m.push(job)
	})
	m.delayed[timer] = struct{}{}
	return nil
}

func (m *Memory) Dequeue(ctx context.Context) (Job, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Job{}, ErrQueueClosed
		}
		if len(m.ready) > 0 {
			job := m.ready[0]
			m.ready[0] = Job{}
			m.ready = m.ready[1:]
			if len(m.ready) > 0 {
				// Wake the next waiter.
				select {
				case m.notify <- struct{}{}:
				default:
				}
			}
			m.mu.Unlock()
			return job, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-m.done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
}

func (m *Memory) Len(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrQueueClosed
	}
	return int64(len(m.ready)), nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrQueueClosed
	}
	m.ready = nil
	for t := range m.delayed {
		t.Stop()
		delete(m.delayed, t)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for t := range m.delayed {
		t.Stop()
	}
	m.delayed = nil
	m.ready = nil
	close(m.done)
	return nil
}
