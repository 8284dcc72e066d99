package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"replygate/internal/bootstrap"
	"replygate/internal/config"
	"replygate/internal/httpserver"
	pkgconfig "replygate/pkg/config"
	"replygate/pkg/logger"
)

func main() {
	// Load config
	cfg, err := config.Load(pkgconfig.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer app.Close()

	// Embedded scheduler; disable it when an external trigger runs "worker scan"
	var wg sync.WaitGroup
	if cfg.Schedule.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.Scheduler.Run(ctx, func(ctx context.Context) { app.Pipeline.RunCycle(ctx) })
		}()
	}

	var routerOpts []httpserver.Option
	if app.Broker != nil {
		routerOpts = append(routerOpts, httpserver.WithBroker(app.Broker))
	}
	router := httpserver.NewRouter(app.Approval, app.Cache, log.Named("http"), routerOpts...)
	srv := router.Server(":" + cfg.Server.Port)

	go func() {
		log.Info("Starting replygate server",
			zap.String("port", cfg.Server.Port),
			zap.String("public_url", cfg.Server.PublicURL),
			zap.Bool("scheduler", cfg.Schedule.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	wg.Wait()
}
