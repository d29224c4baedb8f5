package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/streadway/amqp"

	"github.com/unclebandit/campaign-batcher/internal/config"
	"github.com/unclebandit/campaign-batcher/internal/logger"
	"github.com/unclebandit/campaign-batcher/internal/queue"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker_exit", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Setup(cfg.LogLevel, "campaign-worker")
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			slog.Warn("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to RabbitMQ
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("connect amqp: %w", err)
	}
	defer conn.Close()

	publisher, err := queue.NewAMQPScheduler(conn)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	w := &worker{
		deliverer: queue.NewDeliverer(cfg.PublicBaseURL, queue.NewSigner(cfg.DispatchSigningKey)),
		policy:    queue.RetryPolicy{MaxAttempts: 3, Backoff: 30 * time.Second},
		republish: publisher.Publish,
	}

	if cfg.CronSecret != "" {
		c := cron.New()
		sweep := &sweepTrigger{URL: cfg.PublicBaseURL + "/cron/process-campaigns", Secret: cfg.CronSecret}
		if _, err := c.AddFunc(cfg.SweepSchedule, func() { sweep.Run(ctx) }); err != nil {
			return fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", cfg.SweepSchedule, err)
		}
		c.Start()
		defer c.Stop()
		slog.Info("sweep_scheduled", "schedule", cfg.SweepSchedule)
	} else {
		slog.Warn("sweep_disabled", "reason", "CRON_SECRET not set")
	}

	slog.Info("worker_running", "queue", queue.BatchQueue)
	return queue.Consume(ctx, ch, w.handle)
}
