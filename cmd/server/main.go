// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"github.com/unclebandit/campaign-batcher/internal/config"
	"github.com/unclebandit/campaign-batcher/internal/controller"
	"github.com/unclebandit/campaign-batcher/internal/db"
	"github.com/unclebandit/campaign-batcher/internal/handler"
	"github.com/unclebandit/campaign-batcher/internal/logger"
	"github.com/unclebandit/campaign-batcher/internal/model"
	"github.com/unclebandit/campaign-batcher/internal/queue"
	"github.com/unclebandit/campaign-batcher/internal/quota"
	"github.com/unclebandit/campaign-batcher/internal/repository"
	"github.com/unclebandit/campaign-batcher/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Setup(cfg.LogLevel, "campaign-server")
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, AttachStacktrace: true}); err != nil {
			slog.Warn("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	sentRepo := &repository.SentEmailRepository{DB: conn}
	credentialRepo := &repository.CredentialRepository{DB: conn}

	sender, err := newSender(cfg)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}
	provider := newProviderCounter(cfg, rdb)
	oracle := quota.NewOracle(provider, sentRepo, quota.Limits{
		Workspace: cfg.QuotaWorkspaceLimit,
		Personal:  cfg.QuotaPersonalLimit,
	})

	executor := &service.BatchExecutor{
		CampaignRepo:   campaignRepo,
		RecipientRepo:  recipientRepo,
		SentEmailRepo:  sentRepo,
		CredentialRepo: credentialRepo,
		Quota:          oracle,
		Sender:         sender,
	}

	if cfg.AMQPURL != "" {
		mq, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer mq.Close()
		scheduler, err := queue.NewAMQPScheduler(mq)
		if err != nil {
			return err
		}
		defer scheduler.Close()
		executor.Scheduler = scheduler
		slog.Info("scheduler_ready", "kind", "amqp")
	} else {
		scheduler := queue.NewInMemoryScheduler()
		defer scheduler.Stop()
		scheduler.Subscribe(func(ctx context.Context, job queue.Job) error {
			outcome := executor.RunBatch(ctx, job.CampaignID)
			if outcome.Code == model.CodeStoreError {
				return errors.New(outcome.Error)
			}
			return nil
		})
		executor.Scheduler = scheduler
		slog.Info("scheduler_ready", "kind", "in-memory")
	}

	campaignService := &service.CampaignService{
		CampaignRepo:   campaignRepo,
		RecipientRepo:  recipientRepo,
		CredentialRepo: credentialRepo,
		Quota:          oracle,
		Scheduler:      executor.Scheduler,
		Executor:       executor,
	}

	router := newRouter(routerDeps{
		Campaigns: &controller.CampaignController{
			CampaignService: campaignService,
			Stream:          controller.StreamConfig{Interval: cfg.StreamInterval},
		},
		Dispatch: &handler.DispatchHandler{
			Executor: executor,
			Sweeper: &service.Sweeper{
				CampaignRepo:  campaignRepo,
				RecipientRepo: recipientRepo,
				Executor:      executor,
				Limit:         cfg.SweepLimit,
				ClaimTimeout:  cfg.ClaimTimeout,
			},
			Verifier:      queue.NewVerifier(cfg.DispatchSigningKey, cfg.DispatchNextSigningKey),
			PublicBaseURL: cfg.PublicBaseURL,
			CronSecret:    cfg.CronSecret,
		},
		SessionSecret: cfg.SessionSecret,
		Ready:         func() error { return conn.PingContext(ctx) },
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
