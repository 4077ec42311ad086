package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sjsage522/dealingest/config"
	"sjsage522/dealingest/internal/crawler"
	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/internal/idcache"
	"sjsage522/dealingest/internal/pipeline"
	"sjsage522/dealingest/internal/store"
	"sjsage522/dealingest/internal/store/postgres"
	"sjsage522/dealingest/logger"
	"sjsage522/dealingest/services/admin"
	"sjsage522/dealingest/services/cache"
	"sjsage522/dealingest/services/publisher"
	"sjsage522/dealingest/services/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options are the command-line switches
type Options struct {
	Once    bool `long:"once" description:"Run a single ingestion cycle and exit"`
	NoHTTP  bool `long:"no-http" description:"Do not start the admin HTTP server"`
	Migrate bool `long:"migrate" description:"Apply schema migrations before starting"`
}

func main() {
	godotenv.Load()

	var opts Options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger.Init()
	log := logger.Default

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("site", cfg.AlgumonURL).
		Dur("crawl_interval", cfg.CrawlInterval).
		Bool("parallel_fetch", cfg.ParallelFetch).
		Msg("Starting application")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := initializeServices(ctx, cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	p, err := buildPipeline(cfg, services)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	// a failed warm-up leaves a cold cache; the store conflict policy still holds
	p.Warm(ctx)

	if opts.Once {
		sum, err := p.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Ingestion cycle failed")
			services.Cleanup()
			os.Exit(1)
		}
		log.Info().Str("run_id", sum.RunID).Int("saved", sum.Saved).Msg("Single cycle finished")
		return
	}

	w := worker.NewWorker(p, cfg.CrawlInterval, cfg.InitialCrawlDelay, logger.ForScheduler())
	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	var server *http.Server
	if !opts.NoHTTP {
		server = startAdminServer(cfg, p, services)
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Admin server shutdown failed")
		}
	}
	if err := w.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Scheduler did not stop in time")
	}
}

// Services holds all the initialized services
type Services struct {
	Pool      *pgxpool.Pool
	Store     store.Store
	Limiter   *cache.RateLimiter
	Publisher publisher.Publisher
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
		s.Publisher = nil
	}
	if s.Pool != nil {
		s.Pool.Close()
		s.Pool = nil
	}
}

// initializeServices connects the store and the optional memcache and Redis services
func initializeServices(ctx context.Context, cfg *config.Config, opts Options) (*Services, error) {
	log := logger.Default
	services := &Services{}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	services.Pool = pool

	if opts.Migrate || cfg.AutoMigrate {
		version, err := postgres.Migrate(pool)
		if err != nil {
			services.Cleanup()
			return nil, err
		}
		log.Info().Uint("version", version).Msg("Schema migrations applied")
	}

	st, err := postgres.New(ctx, pool, logger.ForStore())
	if err != nil {
		services.Cleanup()
		return nil, err
	}
	services.Store = st

	services.Limiter = cache.NewRateLimiter(rateLimitCache(cfg))

	if cfg.PublishEnabled {
		plog := logger.ForPublisher()
		redisPublisher := publisher.NewRedisPublisher(
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
		if err := redisPublisher.Ping(ctx); err != nil {
			plog.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, publishing disabled")
			redisPublisher.Close()
		} else {
			services.Publisher = redisPublisher
			plog.Info().
				Str("addr", cfg.RedisAddr).
				Int("db", cfg.RedisDB).
				Str("stream", cfg.RedisStream).
				Msg("Connected to Redis")
		}
	}

	return services, nil
}

// rateLimitCache prefers memcache so block windows survive restarts, and
// falls back to an in-process cache.
func rateLimitCache(cfg *config.Config) cache.CacheService {
	log := logger.ForCache()

	if cfg.MemcacheAddr == "" {
		log.Info().Msg("No memcache configured, using in-process rate limit flags")
		return cache.NewMemoryService()
	}

	mc := cache.NewMemcacheService(cfg.MemcacheAddr, "dealingest:")
	if err := mc.Ping(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.MemcacheAddr).Msg("Memcache unavailable, using in-process rate limit flags")
		return cache.NewMemoryService()
	}

	log.Info().Str("addr", cfg.MemcacheAddr).Msg("Connected to Memcache")
	return mc
}

func buildPipeline(cfg *config.Config, services *Services) (*pipeline.Pipeline, error) {
	builder, err := deal.NewBuilder(cfg.AlgumonURL)
	if err != nil {
		return nil, err
	}

	fetcher := crawler.NewAlgumonCrawler(crawler.CrawlerConfig{
		BaseURL:   cfg.AlgumonURL,
		BlockTime: cfg.RateLimitBlock,
	}, services.Limiter, logger.ForCrawler("algumon"))

	return pipeline.New(pipeline.Deps{
		Fetcher:   fetcher,
		Store:     services.Store,
		Cache:     idcache.New(),
		Builder:   builder,
		Publisher: services.Publisher,
		Log:       logger.ForPipeline(),
	}, pipeline.Options{
		Categories:     deal.Categories,
		Parallel:       cfg.ParallelFetch,
		CategoryPause:  cfg.CategoryPause,
		RetentionDays:  cfg.RetentionDays,
		CacheWarmLimit: cfg.CacheWarmLimit,
	})
}

func startAdminServer(cfg *config.Config, p *pipeline.Pipeline, services *Services) *http.Server {
	log := logger.ForServer()

	stats, _ := services.Store.(store.StatsReader)
	handler := admin.NewHandler(p, stats, services.Store.Strategy(), cfg.RetentionDays, log)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           admin.NewServer(handler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	return server
}
