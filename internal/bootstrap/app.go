// Package bootstrap wires replygate's components from a Config; shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"replygate/internal/approval"
	"replygate/internal/cache"
	"replygate/internal/config"
	"replygate/internal/generator"
	"replygate/internal/ledger"
	"replygate/internal/mailstore"
	"replygate/internal/mailstore/gmail"
	"replygate/internal/notifier"
	"replygate/internal/pending"
	"replygate/internal/pipeline"
	"replygate/internal/scheduler"
	"replygate/pkg/mq"
	"replygate/pkg/redis"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Cache     cache.Cache
	Mail      mailstore.Store
	Pipeline  *pipeline.Pipeline
	Approval  *approval.Handler
	Scheduler *scheduler.Scheduler
	// Broker is nil when mq.url is unset.
	Broker *mq.Publisher

	closers []func()
}

// New connects to the cache, mail store and (optionally) the broker, then builds
// every component. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	mail, err := gmail.NewFromFiles(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, log.Named("gmail"))
	if err != nil {
		return nil, fmt.Errorf("init gmail: %w", err)
	}
	return NewWithMailStore(ctx, cfg, log, mail)
}

// NewWithMailStore is New with a caller-supplied mail store.
func NewWithMailStore(ctx context.Context, cfg *config.Config, log *zap.Logger, mail mailstore.Store) (*App, error) {
	app := &App{Config: cfg, Logger: log, Mail: mail}

	switch cfg.Cache.Backend {
	case "memory":
		mem := cache.NewMemoryCache(cache.WithMaxEntrySize(cfg.Cache.MaxEntrySize))
		janitorCtx, cancel := context.WithCancel(context.Background())
		go mem.StartJanitor(janitorCtx, max(cfg.Pipeline.LedgerTTL/6, time.Minute))
		app.closers = append(app.closers, cancel)
		app.Cache = mem
	default:
		rdb := redis.NewRedisClient(cfg.Redis)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		app.closers = append(app.closers, func() { closeRedis(rdb, log) })
		app.Cache = cache.NewRedisCache(rdb, cfg.Cache.MaxEntrySize)
	}

	var events mq.EventPublisher = mq.NopPublisher{}
	if cfg.MQ.URL != "" {
		pub, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		app.closers = append(app.closers, pub.Close)
		app.Broker = pub
		events = pub
	} else {
		log.Info("mq.url not set, lifecycle events disabled")
	}

	led := ledger.New(app.Cache,
		ledger.WithTTL(cfg.Pipeline.LedgerTTL),
		ledger.WithSlidingExpiry(cfg.Pipeline.LedgerSliding),
		ledger.WithLogger(log.Named("ledger")),
	)
	store := pending.NewStore(app.Cache,
		pending.WithTTL(cfg.Pipeline.PendingTTL),
		pending.WithLogger(log.Named("pending")),
	)
	gen := generator.NewClient(generator.Config{
		BaseURL:       cfg.Generator.BaseURL,
		APIKey:        cfg.Generator.APIKey,
		Model:         cfg.Generator.Model,
		MaxInputChars: cfg.Generator.MaxInputChars,
		Timeout:       cfg.Generator.Timeout,
	}, log.Named("generator"))
	n := notifier.New(notifier.Config{
		PublicURL:       cfg.Server.PublicURL,
		OperatorAddress: cfg.Pipeline.OperatorAddress,
	}, store, mail, log.Named("notifier"))

	app.Pipeline = pipeline.New(pipeline.Config{
		PrioritySender:   cfg.Pipeline.PrioritySender,
		MonitoredSenders: cfg.Pipeline.MonitoredSenders,
		SearchLimit:      cfg.Pipeline.SearchLimit,
		CallTimeout:      cfg.Pipeline.CallTimeout,
	}, mail, led, gen, n, log.Named("pipeline"), pipeline.WithEvents(events))

	app.Approval = approval.New(store, mail, log.Named("approval"),
		approval.WithAtomicClaim(cfg.Approval.AtomicClaim),
		approval.WithEvents(events),
	)

	sched, err := scheduler.New(scheduler.Config{
		Interval:   cfg.Schedule.Interval,
		Hours:      cfg.Schedule.Hours,
		RunAtStart: true,
	}, log.Named("scheduler"))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Scheduler = sched
	return app, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeRedis(rdb *goredis.Client, log *zap.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("redis close failed", zap.Error(err))
	}
}
