package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

// RabbitMQ uses a durable work queue plus a delay queue whose messages
// expire into the work queue through the default exchange.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	work       string
	delay      string
	deliveries <-chan amqp.Delivery
	logger     logging.Logger

	mu     sync.Mutex
	closed bool
}

func NewRabbitMQ(name string, cfg RabbitMQConfig, logger logging.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &RabbitMQ{
		conn:    conn,
		channel: channel,
		work:    name + ".jobs",
		delay:   name + ".jobs.delayed",
		logger:  logger,
	}
	if err := q.declare(); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQ) declare() error {
	if _, err := q.channel.QueueDeclare(q.work, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", q.work, err)
	}
	_, err := q.channel.QueueDeclare(q.delay, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.work,
	})
	if err != nil {
		return fmt.Errorf("declare %s: %w", q.delay, err)
	}
	if err := q.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	q.deliveries, err = q.channel.Consume(q.work, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.work, err)
	}
	return nil
}

func (q *RabbitMQ) publish(ctx context.Context, queue string, job Job, expiration string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := job.encode()
	if err != nil {
		return err
	}
	err = q.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    job.EnqueuedAt,
		Expiration:   expiration,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

func (q *RabbitMQ) Enqueue(ctx context.Context, job Job) error {
	return q.publish(ctx, q.work, job, "")
}

func (q *RabbitMQ) EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	return q.publish(ctx, q.delay, job, strconv.FormatInt(delay.Milliseconds(), 10))
}

func (q *RabbitMQ) Dequeue(ctx context.Context) (Job, error) {
	for {
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case d, ok := <-q.deliveries:
			if !ok {
				return Job{}, ErrQueueClosed
			}
			if err := d.Ack(false); err != nil {
				q.logger.Warn("ack failed", logging.Err(err))
			}
			job, err := decodeJob(d.Body)
			if err != nil {
				q.logger.Warn("dropping undecodable job", logging.Err(err))
				continue
			}
			return job, nil
		}
	}
}

func (q *RabbitMQ) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	info, err := q.channel.QueueDeclarePassive(q.work, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect %s: %w", q.work, err)
	}
	return int64(info.Messages), nil
}

func (q *RabbitMQ) Clear(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	for _, name := range []string{q.work, q.delay} {
		if _, err := q.channel.QueuePurge(name, false); err != nil {
			return fmt.Errorf("purge %s: %w", name, err)
		}
	}
	return nil
}

func (q *RabbitMQ) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
