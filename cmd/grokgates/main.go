package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tertt-dev/grokgates/internal/api"
	"github.com/tertt-dev/grokgates/internal/beacon"
	"github.com/tertt-dev/grokgates/internal/completion"
	"github.com/tertt-dev/grokgates/internal/config"
	"github.com/tertt-dev/grokgates/internal/convo"
	"github.com/tertt-dev/grokgates/internal/store"
	"github.com/tertt-dev/grokgates/internal/urge"
	pkgconfig "github.com/tertt-dev/grokgates/pkg/config"
	"github.com/tertt-dev/grokgates/pkg/logging"
	"github.com/tertt-dev/grokgates/pkg/monitoring"
	"github.com/tertt-dev/grokgates/pkg/redis"
	"github.com/tertt-dev/grokgates/pkg/server"
)

const serviceName = "grokgates"

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	pkgconfig.LoadEnv(nil)
	logger := logging.NewLoggerWithService(serviceName)
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClientFromURL(ctx, cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("Redis connection failed")
	}
	defer redisClient.Close()

	metrics := monitoring.NewMetricsCollector(serviceName, version, gitCommit)

	st := store.NewStore(redisClient, logger)

	completionClient := completion.NewClient(completion.Config{
		APIKey:  cfg.CompletionAPIKey,
		APIURL:  cfg.CompletionAPIURL,
		Timeout: cfg.CompletionTimeout,
		Observe: func(statusClass string) {
			metrics.CompletionRequests.WithLabelValues(statusClass).Inc()
		},
	})
	if !completionClient.Enabled() {
		logger.Warn("No completion API key configured; beacon and oracles run in disabled mode")
	}

	urgeEngine := urge.NewEngine(ctx, redisClient, logger)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	oracle := convo.NewOracle(completionClient, cfg.CompletionModel, cfg.CriticModel, rng, logger)
	scrubber := convo.NewScrubber(st, cfg.EnforceReferences)
	manager := convo.NewManager(st, oracle, scrubber, metrics, rng, logger)

	fetcher := beacon.NewFetcher(completionClient, beacon.FetcherConfig{
		Model:            cfg.CompletionModel,
		FallbackModel:    cfg.CompletionModelFallback,
		RequireCitations: cfg.RequireCitations,
		RateCooldown:     cfg.RateCooldown,
	}, beacon.NewHydrator(cfg.HydrateText), beacon.NewVerifier(cfg.VerifyURLs, cfg.VerifyURLsStrict), logger, metrics)

	scanner := beacon.NewScanner(fetcher, st, urgeEngine, manager, beacon.ScannerConfig{
		WorldScanTopics: cfg.WorldScanTopics,
		WildcardTopics:  cfg.WildcardTopics,
		FallbackTopics:  cfg.FallbackTopics,
		MaxProposals:    cfg.MaxProposals,
		InterTopicDelay: cfg.InterTopicDelay,
		ProposalWindow:  cfg.ProposalWindow,
	}, logger, metrics, rng)

	health := monitoring.NewHealthChecker(serviceName, version)
	health.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	health.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"COMPLETION_API_KEY": cfg.CompletionAPIKey,
	}))

	router := server.SetupRouter(logger, serviceName)
	router.GET("/healthz", health.Handler())
	router.GET("/metrics", metrics.Handler())
	api.NewHandlers(st, urgeEngine, manager, logger).Register(router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gctx, server.Config{
			Port:         cfg.Port,
			ServiceName:  serviceName,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}, router, logger)
	})

	g.Go(func() error {
		scanner.Run(gctx)
		return nil
	})

	// Keep a conversation thread alive so agent messages always have a home.
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			if _, err := manager.EnsureActive(gctx); err != nil {
				logger.WithError(err).Warn("Conversation keep-alive failed")
			}
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("Service exited with error")
	}
	logger.Info("Shutdown complete")
}
