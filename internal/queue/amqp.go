package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

const (
	// BatchQueue receives jobs once their delay has elapsed.
	BatchQueue = "campaign_batches"
	// DelayQueue holds jobs until their per-message TTL expires, then
	// dead-letters them into BatchQueue.
	DelayQueue = "campaign_batches.delay"
)

// DeclareTopology declares both queues. It is safe to call repeatedly.
func DeclareTopology(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		BatchQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("declare %s: %w", BatchQueue, err)
	}
	if _, err := ch.QueueDeclare(DelayQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": BatchQueue,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", DelayQueue, err)
	}
	return nil
}

// AMQPScheduler publishes jobs to the delay queue. A channel is not safe
// for concurrent publishing, hence the mutex.
type AMQPScheduler struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPScheduler(conn *amqp.Connection) (*AMQPScheduler, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		ch.Close()
		return nil, err
	}
	return &AMQPScheduler{ch: ch}, nil
}

func (s *AMQPScheduler) ScheduleCallback(ctx context.Context, campaignID int64, delay time.Duration) (string, error) {
	job := NewJob(campaignID)
	if err := s.Publish(job, delay); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Publish enqueues job to become visible on BatchQueue after delay.
func (s *AMQPScheduler) Publish(job Job, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.Publish("", DelayQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now(),
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	slog.Debug("job_scheduled", "campaign_id", job.CampaignID, "job_id", job.ID, "delay_ms", delay.Milliseconds())
	return nil
}

func (s *AMQPScheduler) Close() error {
	return s.ch.Close()
}

var _ Scheduler = (*AMQPScheduler)(nil)

// Consume hands every job on BatchQueue to handle until ctx is done or
// the delivery channel closes. Every delivery is acked: retries are the
// handler's business, done by publishing a new job.
func Consume(ctx context.Context, ch *amqp.Channel, handle Handler) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		BatchQueue,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var job Job
			if err := json.Unmarshal(d.Body, &job); err != nil {
				slog.Warn("invalid_job", "error", err)
				_ = d.Ack(false)
				continue
			}
			if err := handle(ctx, job); err != nil {
				slog.Error("job_handler_failed", "campaign_id", job.CampaignID, "job_id", job.ID, "error", err)
			}
			_ = d.Ack(false)
		}
	}
}
