package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"cubechat/pkg/store"
)

const defaultQueue = "cubechat.activity"

type activityEvent struct {
	UserID string `json:"userId"`
}

// AMQPRecorder publishes activity events to a RabbitMQ queue instead of
// touching the database inline; a Worker drains the queue and applies them.
type AMQPRecorder struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPRecorder connects to the broker and declares the durable queue.
func NewAMQPRecorder(url, queue string) (*AMQPRecorder, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp recorder requires a broker url")
	}
	if queue == "" {
		queue = defaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPRecorder{conn: conn, ch: ch, queue: queue}, nil
}

func (r *AMQPRecorder) Record(ctx context.Context, userID string) error {
	body, err := json.Marshal(activityEvent{UserID: userID})
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}
	return r.ch.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Close releases the broker connection.
func (r *AMQPRecorder) Close() error {
	_ = r.ch.Close()
	return r.conn.Close()
}

// Worker consumes activity events and applies them to the user store.
type Worker struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	users store.UserStore
}

// NewWorker connects a consumer to the activity queue.
func NewWorker(url, queue string, users store.UserStore) (*Worker, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("activity worker requires a broker url")
	}
	if queue == "" {
		queue = defaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &Worker{conn: conn, ch: ch, queue: queue, users: users}, nil
}

// Run consumes until the context is cancelled or the delivery stream ends.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.ch.Consume(w.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var ev activityEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				slog.Warn("activity: bad event payload", "err", err)
				_ = d.Ack(false)
				continue
			}
			if err := w.users.RecordActivity(ctx, ev.UserID); err != nil {
				slog.Warn("activity: record failed", "user_id", ev.UserID, "err", err)
				// Requeue once on store errors; the event is not critical
				// enough to dead-letter.
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close releases the broker connection.
func (w *Worker) Close() error {
	_ = w.ch.Close()
	return w.conn.Close()
}
