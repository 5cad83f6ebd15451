package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/comment-crawler/internal/config"
	"github.com/Sternrassler/comment-crawler/pkg/client"
	"github.com/Sternrassler/comment-crawler/pkg/job"
	"github.com/Sternrassler/comment-crawler/pkg/logging"
	"github.com/Sternrassler/comment-crawler/pkg/pagination"
	"github.com/Sternrassler/comment-crawler/pkg/ratelimit"
	"github.com/Sternrassler/comment-crawler/pkg/tiktok"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("CRAWLER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		bootLogger := logging.NewLogger("main")
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Log.Level),
		Pretty:  cfg.Log.Pretty,
		Output:  os.Stderr,
		Service: "comment-crawler",
	})
	logger := logging.NewLogger("main")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	managerCfg := job.DefaultConfig(job.TikTokFactory(crawlerConfig(cfg)))
	managerCfg.Batch = pagination.BatchConfig{BatchSize: cfg.Crawl.BatchSize, Pause: cfg.Crawl.BatchPause}
	managerCfg.CommentPause = cfg.Crawl.CommentPause
	managerCfg.ReplyPause = cfg.Crawl.ReplyPause
	managerCfg.MaxPages = cfg.Crawl.MaxPages
	managerCfg.Retention = cfg.Crawl.Retention

	var ping func(context.Context) error
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

		managerCfg.Store = job.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
		managerCfg.Artifacts = job.NewRedisArtifactStore(rdb, cfg.Redis.KeyPrefix, cfg.Redis.ArtifactTTL)
		ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	manager, err := job.NewManager(managerCfg)
	if err != nil {
		return err
	}
	defer manager.Close()

	go runCleanup(ctx, manager, cfg.Crawl.CleanupInterval, logger)

	srv := &server{jobs: manager, ping: ping, logger: logging.NewLogger("http")}
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Starting comment crawler API")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	return nil
}

// crawlerConfig builds the per-job crawler configuration. The task limiter
// and rate tracker are shared by every job of the process.
func crawlerConfig(cfg *config.Config) tiktok.Config {
	c := tiktok.DefaultConfig()
	c.Endpoints = tiktok.EndpointsFor(cfg.Fetch.BaseURL)
	c.SignerURL = cfg.Fetch.SignerURL
	c.UserAgent = cfg.Fetch.UserAgent
	c.Region = cfg.Fetch.Region
	c.PageSize = cfg.Crawl.PageSize

	c.Client.MaxRetries = cfg.Fetch.MaxRetries
	c.Client.Timeout = cfg.Fetch.Timeout
	c.Client.RetryBackoff = cfg.Fetch.RetryBackoff
	c.Client.MaxConnections = cfg.Fetch.MaxConnections
	c.Client.Tasks = client.NewTaskLimiter(cfg.Fetch.MaxTasks)
	c.Client.RateLimiter = ratelimit.NewTracker(cfg.Fetch.RequestsPerSecond, logging.NewLogger("ratelimit"))
	return c
}

// runCleanup removes expired jobs until ctx is done.
func runCleanup(ctx context.Context, manager *job.Manager, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := manager.Cleanup(ctx); err != nil {
				logger.Warn().Err(err).Msg("Periodic cleanup failed")
			}
		}
	}
}
