package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-batcher/internal/queue"
)

type stubDeliverer struct {
	decision queue.Decision
	err      error
	calls    int
}

func (s *stubDeliverer) Deliver(ctx context.Context, job queue.Job) (queue.Decision, error) {
	s.calls++
	return s.decision, s.err
}

type republished struct {
	job   queue.Job
	delay time.Duration
}

func newWorker(d deliverer, out *[]republished) *worker {
	return &worker{
		deliverer: d,
		policy:    queue.RetryPolicy{MaxAttempts: 3, Backoff: 10 * time.Second},
		republish: func(job queue.Job, delay time.Duration) error {
			*out = append(*out, republished{job, delay})
			return nil
		},
	}
}

func TestHandleAckDoesNotRepublish(t *testing.T) {
	var out []republished
	w := newWorker(&stubDeliverer{decision: queue.Ack}, &out)
	require.NoError(t, w.handle(context.Background(), queue.NewJob(1)))
	assert.Empty(t, out)

	// A rejected callback is acked as well.
	w = newWorker(&stubDeliverer{decision: queue.Ack, err: errors.New("sign")}, &out)
	require.NoError(t, w.handle(context.Background(), queue.NewJob(1)))
	assert.Empty(t, out)
}

func TestHandleRetryRepublishesWithBackoff(t *testing.T) {
	var out []republished
	w := newWorker(&stubDeliverer{decision: queue.Retry, err: errors.New("status 503")}, &out)

	job := queue.NewJob(7)
	require.NoError(t, w.handle(context.Background(), job))
	require.Len(t, out, 1)
	assert.Equal(t, job.ID, out[0].job.ID)
	assert.Equal(t, 1, out[0].job.Attempt)
	assert.Equal(t, 10*time.Second, out[0].delay)

	require.NoError(t, w.handle(context.Background(), out[0].job))
	require.Len(t, out, 2)
	assert.Equal(t, 20*time.Second, out[1].delay)

	// Third attempt is the last one.
	require.NoError(t, w.handle(context.Background(), out[1].job))
	assert.Len(t, out, 2)
}

func TestHandleRepublishFailure(t *testing.T) {
	w := &worker{
		deliverer: &stubDeliverer{decision: queue.Retry},
		policy:    queue.RetryPolicy{MaxAttempts: 3, Backoff: time.Second},
		republish: func(queue.Job, time.Duration) error { return errors.New("channel closed") },
	}
	err := w.handle(context.Background(), queue.NewJob(1))
	assert.ErrorContains(t, err, "channel closed")
}

func TestSweepTrigger(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if gotAuth != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"processed":0,"results":{}}`))
	}))
	defer srv.Close()

	ok := &sweepTrigger{URL: srv.URL, Secret: "s3cret"}
	require.NoError(t, ok.call(context.Background()))
	assert.Equal(t, "Bearer s3cret", gotAuth)

	bad := &sweepTrigger{URL: srv.URL, Secret: "wrong"}
	assert.ErrorContains(t, bad.call(context.Background()), "401")
}
