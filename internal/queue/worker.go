package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/scanner"
)

type WorkerConfig struct {
	// Concurrency is the number of jobs run at once.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// ScansPerSecond paces scan starts across all consumers. Zero disables
	// pacing.
	ScansPerSecond float64 `mapstructure:"scans_per_second" yaml:"scans_per_second"`
	// MaxAttempts bounds how often a failed scan is run.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// BackoffBase is the delay before the first retry; it doubles per
	// attempt up to BackoffMax.
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:    4,
		ScansPerSecond: 2,
		MaxAttempts:    3,
		BackoffBase:    time.Minute,
		BackoffMax:     30 * time.Minute,
	}
}

// Backoff returns the delay before running attempt+1, given that attempt
// runs have failed.
func (c WorkerConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.BackoffMax > 0 && d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if c.BackoffMax > 0 && d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

// ResultSaver persists finished scans. results.Store implements it.
type ResultSaver interface {
	Save(ctx context.Context, res *model.ScanResult) error
}

// DepthRecorder receives the ready-queue length after each dequeue.
type DepthRecorder interface {
	QueueDepth(n int64)
}

// Worker consumes jobs, runs scans and saves their results.
type Worker struct {
	queue   Queue
	scanner scanner.Scanner
	saver   ResultSaver
	cfg     WorkerConfig
	limiter *rate.Limiter
	depth   DepthRecorder
	logger  logging.Logger
}

type WorkerOption func(*Worker)

func WithDepthRecorder(r DepthRecorder) WorkerOption {
	return func(w *Worker) { w.depth = r }
}

func NewWorker(q Queue, s scanner.Scanner, saver ResultSaver, cfg WorkerConfig, logger logging.Logger, opts ...WorkerOption) (*Worker, error) {
	if q == nil || s == nil || saver == nil {
		return nil, fmt.Errorf("queue, scanner and saver are required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	limit := rate.Inf
	if cfg.ScansPerSecond > 0 {
		limit = rate.Limit(cfg.ScansPerSecond)
	}
	w := &Worker{
		queue:   q,
		scanner: s,
		saver:   saver,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, max(1, int(cfg.ScansPerSecond))),
		logger:  logger.With(logging.Component("worker")),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run consumes jobs until ctx is done or the queue is closed. It returns
// nil in both cases.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", logging.Field{Key: "concurrency", Value: w.cfg.Concurrency})

	var wg sync.WaitGroup
	errs := make(chan error, w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := w.consume(ctx, id); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	w.logger.Info("worker stopped")
	return <-errs
}

func (w *Worker) consume(ctx context.Context, id int) error {
	log := w.logger.With(logging.Field{Key: "consumer", Value: id})
	for {
		job, err := w.queue.Dequeue(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrQueueClosed), ctx.Err() != nil:
			return nil
		default:
			log.Warn("dequeue failed", logging.Err(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		if w.depth != nil {
			if n, err := w.queue.Len(ctx); err == nil {
				w.depth.QueueDepth(n)
			}
		}

		if err := w.limiter.Wait(ctx); err != nil {
			// Put the job back so a shutdown does not lose it.
			if perr := w.queue.Enqueue(context.Background(), job); perr != nil {
				log.Warn("requeue on shutdown failed", logging.Err(perr))
			}
			return nil
		}
		w.Process(ctx, job)
	}
}

// Process runs one job. A failed scan is put back with backoff until the
// attempt budget is spent.
func (w *Worker) Process(ctx context.Context, job Job) {
	job.Attempt++
	log := w.logger.With(
		logging.Field{Key: "scan_id", Value: job.Request.ScanID},
		logging.Field{Key: "website_id", Value: job.Request.WebsiteID},
		logging.Field{Key: "attempt", Value: job.Attempt},
	)

	res, err := w.scanner.Scan(ctx, job.Request)
	if err != nil && ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// Interrupted by shutdown: put the job back as it was, unsaved.
		job.Attempt--
		if perr := w.queue.Enqueue(context.Background(), job); perr != nil {
			log.Warn("requeue on shutdown failed", logging.Err(perr))
		}
		return
	}
	if res != nil {
		if serr := w.saver.Save(context.WithoutCancel(ctx), res); serr != nil {
			log.Error("saving result failed", logging.Err(serr))
		}
	}

	switch {
	case err == nil:
		log.Info("scan finished", logging.Field{Key: "status", Value: string(res.Status())})
		return
	case !errors.Is(err, scanner.ErrLivenessFailed):
		log.Error("scan failed", logging.Err(err))
		return
	}

	if job.Attempt >= w.cfg.MaxAttempts {
		log.Warn("scan failed, giving up", logging.Err(err))
		return
	}
	delay := w.cfg.Backoff(job.Attempt)
	log.Info("scan failed, retrying", logging.Err(err), logging.Field{Key: "delay", Value: delay.String()})
	if perr := w.queue.EnqueueAfter(context.WithoutCancel(ctx), job, delay); perr != nil {
		log.Error("requeue failed", logging.Err(perr))
	}
}
