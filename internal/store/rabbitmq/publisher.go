package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// JobMessage is the body of every queued completion.
type JobMessage struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt,omitempty"`
}

func DecodeJob(body []byte) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return m, err
	}
	if m.JobID == "" {
		return m, errors.New("rabbitmq: job_id is required")
	}
	return m, nil
}

// Publisher is safe for concurrent use; amqp channels are not, so publishes
// are serialized.
type Publisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	queues Queues
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	q := QueuesFor(queue)
	if err := Declare(ch, q); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queues: q}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishJob queues a fresh job on the main queue.
func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	return p.publish(ctx, p.queues.Main, JobMessage{JobID: jobID}, 0)
}

// PublishRetry parks the job on the retry queue; it returns to main after delay.
func (p *Publisher) PublishRetry(ctx context.Context, m JobMessage, delay time.Duration) error {
	m.Attempt++
	return p.publish(ctx, p.queues.Retry, m, delay)
}

func (p *Publisher) publish(ctx context.Context, queue string, m JobMessage, ttl time.Duration) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	}
	if ttl > 0 {
		msg.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx, "", queue, false, false, msg)
}
