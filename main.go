package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"price-aggregator/api"
	"price-aggregator/config"
	"price-aggregator/geo"
	"price-aggregator/metrics"
	"price-aggregator/queue"
	"price-aggregator/scraper"
	"price-aggregator/services"
	"price-aggregator/storage"
	"price-aggregator/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLoggerWithOptions(utils.LoggerOptions{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Fatal: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Price Aggregator starting ===")
	logger.Info("Config | queue: %s | concurrency: %d | rate: %dms | retries: %d | job timeout: %v",
		cfg.QueueBackend, cfg.MaxConcurrency, cfg.RateLimitMs, cfg.MaxRetries, cfg.JobTimeout)

	catalog, err := config.LoadCatalog(cfg.StoresFile)
	if err != nil {
		return err
	}
	logger.Info("Loaded %d stores for %d countries from %s", len(catalog.Stores), len(catalog.Countries), cfg.StoresFile)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	browser := scraper.NewBrowserFetcher(cfg.ChromeBin, cfg.JobTimeout, logger)
	defer browser.Close()
	runner := scraper.New(catalog, scraper.Options{
		Static:    scraper.NewStaticFetcher(30 * time.Second),
		Browser:   browser,
		PageDelay: time.Duration(cfg.RateLimitMs) * time.Millisecond,
	}, logger)

	retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries + 1, BaseDelay: cfg.RetryBaseDelay, Logger: logger}

	var (
		dispatcher  queue.Dispatcher
		redisClient *redis.Client
		workerDone  = make(chan error, 1)
	)
	close(workerDone)

	switch cfg.QueueBackend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping %s: %w", cfg.RedisAddress, err)
		}

		rd := queue.NewRedisDispatcher(redisClient, queue.RedisOptions{Stream: cfg.QueueStream, TTL: cfg.ResultTTL}, logger)
		dispatcher = rd

		if cfg.RunWorkers {
			hostname, _ := os.Hostname()
			worker := queue.NewWorker(rd, runner, queue.WorkerOptions{
				Group:          cfg.QueueGroup,
				Consumer:       fmt.Sprintf("%s-%d", hostname, os.Getpid()),
				MaxConcurrency: cfg.MaxConcurrency,
				RateLimitMs:    cfg.RateLimitMs,
				JobTimeout:     cfg.JobTimeout,
				Retry:          retry,
			}, logger, m)

			done := make(chan error, 1)
			workerDone = done
			go func() { done <- worker.Run(ctx) }()
			logger.Info("Worker consuming %s as group %s", rd.Stream(), cfg.QueueGroup)
		}
	case "memory":
		dispatcher = queue.NewMemoryDispatcher(runner, queue.MemoryOptions{
			MaxConcurrency: cfg.MaxConcurrency,
			RateLimitMs:    cfg.RateLimitMs,
			JobTimeout:     cfg.JobTimeout,
			Retry:          retry,
			TTL:            cfg.ResultTTL,
		}, logger, m)
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q (want memory or redis)", cfg.QueueBackend)
	}

	opts := services.AggregatorOptions{}
	if cfg.CSVOutputPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			return err
		}
		defer csvWriter.Close()
		opts.RawDump = csvWriter
		logger.Info("Raw records will be appended to %s", cfg.CSVOutputPath)
	}
	if cfg.ArchiveEnabled {
		pgWriter, err := storage.NewPostgresWriter(cfg.DSN())
		if err != nil {
			logger.Error("Make sure PostgreSQL is running: docker compose up -d")
			return err
		}
		defer pgWriter.Close()
		opts.Archive = pgWriter
		logger.Info("Finished searches will be archived in PostgreSQL")
	}

	normalizer := services.NewNormalizer(logger, m, catalog.Currencies)
	aggregator := services.NewAggregator(dispatcher, catalog, normalizer, logger, m, opts)

	resolver := geo.NewResolver(redisClient, geo.Options{
		LookupURL: cfg.GeoLookupURL,
		Fallback:  cfg.DefaultCountry,
		TTL:       cfg.GeoCacheTTL,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(aggregator, resolver, logger)
	router := api.NewRouter(handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger, m)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}

	stop()
	if err := <-workerDone; err != nil {
		logger.Warn("Worker stopped with error: %v", err)
	}
	aggregator.Wait()

	logger.Info("=== Price Aggregator stopped ===")
	return nil
}
