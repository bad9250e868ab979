// Command worker keeps achievements current: it seeds the catalog, relays
// unlock events and periodically re-evaluates users whose academic records
// changed recently.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jose-Baigorria/tracking-carrera/config"
	"github.com/Jose-Baigorria/tracking-carrera/internal/bootstrap"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/scheduler"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/scheduler/jobs"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/tracing"
	httpapi "github.com/Jose-Baigorria/tracking-carrera/internal/interface/http"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("store", cfg.Store.Driver),
		logger.Strings("disabled_categories", cfg.Features.DisabledCategories()),
	)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
	}, log)
	if err != nil {
		log.Warn("tracing disabled", logger.Err(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Store and Redis
	// ─────────────────────────────────────────────────────────────────────────
	store, err := bootstrap.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing store")
		store.Close()
	}()

	cache, err := bootstrap.OpenRedis(cfg.Redis)
	if err != nil {
		log.Warn("failed to connect to Redis, running without cache, lock and relay", logger.Err(err))
		cache = nil
	}
	if cache != nil {
		defer cache.Close()
		log.Info("redis connection established", logger.String("addr", cfg.Redis.Addr))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Engine
	// ─────────────────────────────────────────────────────────────────────────
	engine, err := bootstrap.NewEngine(ctx, cfg, store, cache, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus")
		_ = engine.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Observer:   engine.Metrics,
	})

	if cfg.Scheduler.Enabled {
		schedule, err := reevaluateSchedule(cfg.Scheduler)
		if err != nil {
			return err
		}

		job := jobs.NewReevaluateRecentUsersJob(
			store.Records,
			engine.Flow,
			engine.Metrics,
			store.IsTransient,
			log,
			jobs.ReevaluateRecentUsersConfig{
				Lookback:    cfg.Scheduler.Lookback,
				Concurrency: cfg.Scheduler.Concurrency,
			},
		)
		if err := sched.Register(job, schedule); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	} else {
		log.Info("scheduler disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Ops endpoint (metrics and probes)
	// ─────────────────────────────────────────────────────────────────────────
	var srv *httpapi.Server
	var srvErr <-chan error
	if cfg.Metrics.Enabled {
		health := httpapi.NewHealthChecker(cfg.App.Version, 0)
		health.AddCheck("store", httpapi.PingCheck(store))
		if cache != nil {
			health.AddCheck("redis", httpapi.PingCheck(cache))
		}

		srvCfg := httpapi.DefaultConfig()
		srvCfg.Port = cfg.Metrics.Port
		srvCfg.MetricsPath = cfg.Metrics.Path
		srv = httpapi.NewServer(srvCfg, health, log)
		srvErr = srv.StartAsync()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("worker is running")
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	case err := <-srvErr:
		if err != nil {
			log.Error("ops server failed", logger.Err(err))
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("ops server shutdown", logger.Err(err))
		}
	}

	log.Info("shutdown completed")
	return nil
}

// reevaluateSchedule prefers the cron spec when one is configured.
func reevaluateSchedule(cfg config.SchedulerConfig) (scheduler.Schedule, error) {
	if cfg.ReevaluateCron != "" {
		return scheduler.ParseSchedule(cfg.ReevaluateCron)
	}
	return scheduler.NewIntervalSchedule(cfg.ReevaluateInterval), nil
}
