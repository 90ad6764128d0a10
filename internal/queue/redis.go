package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

// Redis keeps ready jobs in a list and delayed jobs in a sorted set scored
// by due time. A background loop moves due jobs onto the list.
type Redis struct {
	client     *redis.Client
	readyKey   string
	delayedKey string
	interval   time.Duration
	logger     logging.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// promoteScript moves every due job from the delayed set to the ready list
// in one step, so two promoters never deliver the same job twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, job in ipairs(due) do
	redis.call('ZREM', KEYS[1], job)
	redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

func NewRedis(ctx context.Context, name string, cfg RedisConfig, logger logging.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return newRedis(client, name, cfg.PromoteInterval, logger), nil
}

func newRedis(client *redis.Client, name string, interval time.Duration, logger logging.Logger) *Redis {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	q := &Redis{
		client:     client,
		readyKey:   name + ":jobs",
		delayedKey: name + ":jobs:delayed",
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	q.wg.Add(1)
	go q.promoteLoop()
	return q
}

func (q *Redis) promoteLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			if _, err := q.promote(context.Background()); err != nil {
				q.logger.Warn("promoting delayed jobs failed", logging.Err(err))
			}
		}
	}
}

func (q *Redis) promote(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.readyKey}, now).Int64()
}

func (q *Redis) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *Redis) Enqueue(ctx context.Context, job Job) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	b, err := job.encode()
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.readyKey, b).Err()
}

func (q *Redis) EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	if q.isClosed() {
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	b, err := job.encode()
	if err != nil {
		return err
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	return q.client.ZAdd(ctx, q.delayedKey, &redis.Z{Score: due, Member: b}).Err()
}

func (q *Redis) Dequeue(ctx context.Context) (Job, error) {
	for {
		if q.isClosed() {
			return Job{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		// Short blocking pops so Close and ctx are noticed promptly.
		res, err := q.client.BRPop(ctx, time.Second, q.readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Job{}, ctxErr
			}
			if q.isClosed() {
				return Job{}, ErrQueueClosed
			}
			return Job{}, fmt.Errorf("dequeue: %w", err)
		}
		job, err := decodeJob([]byte(res[1]))
		if err != nil {
			q.logger.Warn("dropping undecodable job", logging.Err(err))
			continue
		}
		return job, nil
	}
}

func (q *Redis) Len(ctx context.Context) (int64, error) {
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	return q.client.LLen(ctx, q.readyKey).Result()
}

func (q *Redis) Clear(ctx context.Context) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	return q.client.Del(ctx, q.readyKey, q.delayedKey).Err()
}

func (q *Redis) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()

	q.wg.Wait()
	return q.client.Close()
}
