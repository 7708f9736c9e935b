// Package app builds the shared dependency graph for the api and worker processes.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/calllog"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/convai"
	"outbound-dialer/internal/events"
	"outbound-dialer/internal/jobs"
	"outbound-dialer/internal/statustoken"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/internal/users"
	"outbound-dialer/internal/worker"
	"outbound-dialer/pkg/metrics"
	"outbound-dialer/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

type App struct {
	DB      *sql.DB
	Redis   *redis.Client
	Metrics *metrics.Metrics
	Events  events.Publisher

	Jobs     *jobs.Service
	CallLogs calllog.Repository
	Calls    *calls.Service
	Tokens   *statustoken.Service
	Worker   *worker.Worker
}

// Build opens Postgres and Redis, dials AMQP when configured and wires every
// service. Close releases what Build opened.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Metrics: metrics.New(), Events: events.NopPublisher{}}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	a.DB = db

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis init: %w", err)
	}
	a.Redis = rdb

	if cfg.AMQP.URL != "" {
		pub, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("amqp init: %w", err)
		}
		a.Events = pub
		log.Info("job events enabled", "exchange", cfg.AMQP.Exchange)
	}

	tokens, err := statustoken.New(cfg.StatusToken.Secret)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Tokens = tokens

	agents, err := convai.NewClient(cfg.ConvAI.BaseURL, cfg.ConvAI.APIKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("convai client: %w", err)
	}

	store := jobs.NewPostgresStore(db)
	a.Jobs = jobs.NewService(store)
	a.CallLogs = calllog.NewPostgresRepo(db)
	a.Calls = calls.NewService(
		users.NewPostgresRepo(db),
		telephony.NewTwilioProvider(cfg.Voice.BaseURL),
		agents,
		a.CallLogs,
		tokens,
	)
	a.Worker = worker.New(worker.Config{
		ID:                cfg.Worker.ID,
		StaleAfter:        cfg.Worker.StaleAfter,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollTimeout:       cfg.Worker.PollTimeout,
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
	}, worker.Deps{
		Store:   store,
		Calls:   a.Calls,
		Poller:  calllog.NewPoller(a.CallLogs, cfg.Worker.PollInterval),
		Audit:   audit.NewService(audit.NewPostgresRepo(db)),
		Events:  a.Events,
		Metrics: a.Metrics,
	})
	return a, nil
}

func (a *App) Close() {
	if a.Events != nil {
		_ = a.Events.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
