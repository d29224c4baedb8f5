package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler asks for a campaign to be processed again after delay.
type Scheduler interface {
	ScheduleCallback(ctx context.Context, campaignID int64, delay time.Duration) (string, error)
}

// Job is the message carried by the dispatch queues.
type Job struct {
	ID         string    `json:"id"`
	CampaignID int64     `json:"campaign_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewJob(campaignID int64) Job {
	return Job{ID: uuid.NewString(), CampaignID: campaignID, EnqueuedAt: time.Now().UTC()}
}

// Handler processes one delivered job.
type Handler func(ctx context.Context, job Job) error

var ErrNoSubscriber = errors.New("no subscriber for campaign callbacks")

// InMemoryScheduler fires callbacks from timers inside the process. It is
// used when no broker is configured; pending callbacks are lost on
// restart and the cron sweep picks the campaigns up again.
type InMemoryScheduler struct {
	mu         sync.Mutex
	handler    Handler
	timers     map[string]*time.Timer
	closed     bool
	MaxRetries int
	Backoff    time.Duration
}

func NewInMemoryScheduler() *InMemoryScheduler {
	return &InMemoryScheduler{
		timers:     make(map[string]*time.Timer),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// Subscribe sets the handler that receives every fired callback.
func (q *InMemoryScheduler) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

func (q *InMemoryScheduler) ScheduleCallback(ctx context.Context, campaignID int64, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.handler == nil || q.closed {
		return "", ErrNoSubscriber
	}
	job := NewJob(campaignID)
	handler := q.handler
	q.timers[job.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.ID)
		q.mu.Unlock()
		q.processJob(handler, job)
	})
	return job.ID, nil
}

// processJob retries a failing handler with linear backoff, then drops it.
func (q *InMemoryScheduler) processJob(handler Handler, job Job) {
	for {
		err := handler(context.Background(), job)
		if err == nil {
			return
		}
		job.Attempt++
		slog.Warn("callback_failed", "campaign_id", job.CampaignID, "job_id", job.ID, "attempt", job.Attempt, "error", err)
		if job.Attempt > q.MaxRetries {
			slog.Error("callback_dropped", "campaign_id", job.CampaignID, "job_id", job.ID)
			return
		}
		time.Sleep(time.Duration(job.Attempt) * q.Backoff)
	}
}

// Pending is the number of timers not fired yet.
func (q *InMemoryScheduler) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Stop cancels every pending timer.
func (q *InMemoryScheduler) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

var _ Scheduler = (*InMemoryScheduler)(nil)
