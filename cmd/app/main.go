package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-brand-monitor/internal/config"
	"ai-brand-monitor/internal/domain/ports/adapter"
	aiAdapters "ai-brand-monitor/internal/infra/adapters/ai"
	"ai-brand-monitor/internal/infra/adapters/extract"
	"ai-brand-monitor/internal/infra/breaker"
	pg "ai-brand-monitor/internal/infra/db/postgres"
	"ai-brand-monitor/internal/infra/logging"
	"ai-brand-monitor/internal/infra/metrics"
	red "ai-brand-monitor/internal/infra/redis"
	"ai-brand-monitor/internal/infra/sched"
	"ai-brand-monitor/internal/infra/web"
	"ai-brand-monitor/internal/infra/worker"
	"ai-brand-monitor/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop provider)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewBatchJobRepo(pool, tm)
	idemRepo := pg.NewIdempotencyRepo(pool)
	orgRepo := pg.NewOrgRepo(pool)

	// ---- AI providers ----
	var adapters []adapter.AIProviderAdapter
	if cfg.Providers.OpenAIKey != "" {
		a, err := aiAdapters.NewOpenAIAdapter(cfg.Providers.OpenAIKey, cfg.Providers.DefaultModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai adapter")
		}
		adapters = append(adapters, a)
	}
	if cfg.Providers.GeminiKey != "" {
		a, err := aiAdapters.NewGeminiAdapter(ctx, cfg.Providers.GeminiKey, cfg.Providers.GeminiURL, "gemini-2.0-flash")
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini adapter")
		}
		adapters = append(adapters, a)
	}
	if cfg.Providers.PerplexityKey != "" {
		a, err := aiAdapters.NewPerplexityAdapter(cfg.Providers.PerplexityKey, "sonar", cfg.Providers.PerplexityBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("perplexity adapter")
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("no AI provider configured: set providers.openai_key, gemini_key or perplexity_key")
		}
		logger.Warn().Msg("[DEV MODE] no provider keys set, using noop provider")
		adapters = append(adapters, &aiAdapters.NoopProvider{ProviderName: "noop", Reply: "dev answer"})
	}
	for i, a := range adapters {
		adapters[i] = aiAdapters.NewLimitedProvider(a, cfg.Providers.ConcurrentLimit)
	}
	registry := aiAdapters.NewRegistry(adapters...)
	logger.Info().Strs("providers", registry.Names()).Msg("AI providers ready")

	// ---- Resilient invocation layer ----
	breakers := breaker.NewRegistry(cfg.Worker.BreakerTrips, cfg.Worker.BreakerCooldown)
	executor := worker.NewExecutor(registry, breakers, rateLimiter,
		cfg.Providers.RateLimitPerMinute, cfg.Worker.RetryMax, logger)

	// ---- Driver pool ----
	drvPool := worker.NewPool(cfg.Worker.Pool, logger)
	driver := worker.NewDriver(jobRepo, orgRepo, executor, extract.NewKeywordExtractor(),
		drvPool, cfg.Worker.DriverBudget, cfg.Worker.TaskBatch, logger)
	drvPool.Start(ctx, driver.Run)
	defer drvPool.Stop()

	// ---- Use cases ----
	enqueueUC := usecase.NewEnqueueUseCase(jobRepo, idemRepo, orgRepo, tm, logger)
	triggerUC := usecase.NewTriggerUseCase(orgRepo, enqueueUC, drvPool, logger)
	jobUC := usecase.NewJobUseCase(jobRepo, drvPool, 3*cfg.Worker.DriverBudget, logger)

	// ---- Web server ----
	auth := web.NewServiceAuth(cfg.Server.ServiceSecret, 30*time.Minute)
	srv := web.NewServer(triggerUC, enqueueUC, jobUC, breakers, auth, cfg.Server.TriggerSecret, logger)
	go func() {
		if err := srv.Start(cfg.Server.Port); err != nil {
			logger.Error().Err(err).Msg("web server error")
			cancel()
		}
	}()

	// ---- In-process daily trigger ----
	if cfg.Scheduler.DailyAt != "" {
		trig, err := sched.NewDailyTrigger(cfg.Scheduler.DailyAt, triggerUC, locker, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("daily trigger")
		}
		go func() { _ = trig.Run(ctx) }()
	}

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("web server shutdown error")
	}
}
