// Package queue delivers job envelopes to the runner, with support for
// delayed execution.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/coachflow/coachsync/internal/calsync/application/jobs"
)

const (
	// WorkQueueName holds jobs ready for execution.
	WorkQueueName = "coachsync.jobs"
	// waitQueuePrefix names the per-delay wait queues; expired messages
	// dead-letter into the work queue.
	waitQueuePrefix = "coachsync.jobs.wait."
)

// waitQueueName returns the wait queue for one delay. One queue per
// distinct delay keeps queue-level TTLs, so a long retry parked at the
// head of a shared queue can never hold back a short-delay job behind
// it (RabbitMQ only dead-letters expired messages at the queue head).
func waitQueueName(delay time.Duration) string {
	return waitQueuePrefix + strconv.FormatInt(delay.Milliseconds(), 10)
}

// HandleFunc processes one delivered envelope. A non-nil error requeues
// the delivery.
type HandleFunc func(ctx context.Context, env *jobs.Envelope) error

// RabbitMQJobQueue is a durable job queue on RabbitMQ. Delay is
// implemented with queue-level TTL on per-delay wait queues whose
// dead-letter target is the work queue; no broker plugin is required.
type RabbitMQJobQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	mu         sync.Mutex
	waitQueues map[string]struct{}
}

// NewRabbitMQJobQueue connects and declares the work and wait queues.
func NewRabbitMQJobQueue(url string, logger *slog.Logger) (*RabbitMQJobQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(WorkQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare work queue: %w", err)
	}

	logger.Info("RabbitMQ job queue connected", "work_queue", WorkQueueName)
	return &RabbitMQJobQueue{
		conn:       conn,
		channel:    ch,
		logger:     logger,
		waitQueues: make(map[string]struct{}),
	}, nil
}

// ensureWaitQueue declares the wait queue for one delay on first use.
// Must be called with the mutex held.
func (q *RabbitMQJobQueue) ensureWaitQueue(name string, delay time.Duration) error {
	if _, ok := q.waitQueues[name]; ok {
		return nil
	}
	args := amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": WorkQueueName,
	}
	if _, err := q.channel.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare wait queue %s: %w", name, err)
	}
	q.waitQueues[name] = struct{}{}
	return nil
}

// Enqueue schedules an envelope. Delayed envelopes are parked on the
// wait queue for that delay, whose queue TTL matches it.
func (q *RabbitMQJobQueue) Enqueue(ctx context.Context, env *jobs.Envelope, delay time.Duration) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	target := WorkQueueName
	if delay > 0 {
		target = waitQueueName(delay)
		if err := q.ensureWaitQueue(target, delay); err != nil {
			return err
		}
	}
	if err := q.channel.PublishWithContext(ctx, "", target, false, false, publishing); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}

	q.logger.Debug("job enqueued",
		"job", env.Name,
		"job_id", env.JobID,
		"attempt", env.Attempt,
		"delay", delay,
	)
	return nil
}

// Start consumes the work queue until the context is cancelled. Each
// delivery is acked on success and requeued on handler error;
// unparseable bodies are discarded.
func (q *RabbitMQJobQueue) Start(ctx context.Context, handle HandleFunc) error {
	if err := q.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := q.channel.Consume(WorkQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	q.logger.Info("job queue consumer started", "queue", WorkQueueName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("job queue channel closed")
			}
			q.handleDelivery(ctx, delivery, handle)
		}
	}
}

func (q *RabbitMQJobQueue) handleDelivery(ctx context.Context, delivery amqp.Delivery, handle HandleFunc) {
	var env jobs.Envelope
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		q.logger.Error("discarding unparseable job delivery", "error", err)
		_ = delivery.Nack(false, false)
		return
	}

	if err := handle(ctx, &env); err != nil {
		q.logger.Error("job delivery failed, requeueing",
			"job", env.Name,
			"job_id", env.JobID,
			"error", err,
		)
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

// Close closes the queue connection.
func (q *RabbitMQJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			q.logger.Warn("error closing channel", "error", err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			return err
		}
	}
	q.logger.Info("RabbitMQ job queue closed")
	return nil
}
