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

	"github.com/nulzo/bot-router/internal/analytics"
	"github.com/nulzo/bot-router/internal/availability"
	"github.com/nulzo/bot-router/internal/cli"
	"github.com/nulzo/bot-router/internal/complexity"
	"github.com/nulzo/bot-router/internal/config"
	"github.com/nulzo/bot-router/internal/forwarder"
	"github.com/nulzo/bot-router/internal/gateway"
	"github.com/nulzo/bot-router/internal/httpclient"
	"github.com/nulzo/bot-router/internal/keyring"
	"github.com/nulzo/bot-router/internal/platform/logger"
	routerotel "github.com/nulzo/bot-router/internal/platform/otel"
	"github.com/nulzo/bot-router/internal/routing"
	"github.com/nulzo/bot-router/internal/server"
	v1 "github.com/nulzo/bot-router/internal/server/v1"
	"github.com/nulzo/bot-router/internal/store/cache"
	"github.com/nulzo/bot-router/internal/store/sqlite"
	"github.com/nulzo/bot-router/internal/version"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	log := logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()

	if err := run(log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := routerotel.InitTracer(server.ServiceName, log, os.Stdout)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.DSN, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = repo.Close()
	}()

	checks := map[string]v1.Check{"database": repo.Ping}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			_ = rdb.Close()
		}()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var botCache cache.CacheService = cache.NewMemoryCache()
	if rdb != nil {
		botCache = cache.NewRedisCache(rdb, cfg.Routing.KeyPrefix)
	}

	cursors, err := cursorStore(cfg, rdb)
	if err != nil {
		return err
	}

	var engineOpts []routing.Option
	if cfg.Complexity.Enabled {
		engineOpts = append(engineOpts, routing.WithComplexityRouter(complexity.NewRouter(
			complexity.NewHeuristicClassifier(),
			repo.ComplexityConfigs(),
			repo.BotModels(),
			log,
			complexity.WithScores(complexity.NewScores(cfg.Complexity.CapabilityScores)),
			complexity.WithThresholds(complexity.NewThresholds(cfg.Complexity.Thresholds)),
		)))
	}
	engine := routing.NewEngine(repo.RoutingConfigs(), repo.BotModels(), cursors, log, engineOpts...)

	ingestor := analytics.NewIngestor(log, repo, analytics.IngestorConfig{
		BufferSize:    cfg.Usage.BufferSize,
		BatchSize:     cfg.Usage.BatchSize,
		FlushInterval: cfg.Usage.FlushInterval,
	})
	ingestor.Start(context.Background())
	defer ingestor.Stop()

	vendors := gateway.BuildVendorRegistry(cfg.Vendors, log)
	upstream := httpclient.NewStreamingClient(httpclient.Options{ResponseHeaderTimeout: cfg.Server.UpstreamIdleTimeout})
	fwd := forwarder.New(upstream, log, forwarder.WithIdleTimeout(cfg.Server.UpstreamIdleTimeout))

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	harvester := availability.NewHarvester(log, repo.ProviderKeys(), repo.BotModels(), vendors, fwd)
	if cfg.Availability.HarvestOnStart {
		go func() {
			if _, err := harvester.HarvestAll(bgCtx); err != nil {
				log.Warn("Initial model harvest failed", zap.Error(err))
			}
		}()
	}
	go harvester.Run(bgCtx, cfg.Availability.RefreshInterval)

	keys := keyring.New(repo.ProviderKeys(), log)
	go keys.Run(bgCtx, 5*time.Second)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = keys.Flush(ctx)
	}()

	proxy := gateway.NewService(log, gateway.Dependencies{
		Bots:      repo.Bots(),
		Router:    engine,
		Keys:      keys,
		Vendors:   vendors,
		Forwarder: fwd,
		Ingestor:  ingestor,
		Quota:     analytics.NewQuotaChecker(repo, log),
		Cache:     botCache,
		CacheTTL:  cfg.Auth.CacheTTL,
	})

	srv := server.New(cfg, log, server.Services{
		Proxy:        proxy,
		Routes:       engine,
		Analytics:    analytics.NewService(repo),
		Vendors:      vendors,
		Availability: harvester,
		Checks:       checks,
		Version:      version.Version,
	})

	if cfg.VersionCheck.Enabled {
		go checkForUpdates(log, cfg.VersionCheck.URL)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("%s Bot router listening on %s", cli.Arrow(), cli.Stylize(httpServer.Addr, cli.Cyan)),
			zap.String("version", version.Version),
			zap.String("cursor_store", cfg.Routing.CursorStore),
			zap.Duration("upstream_idle_timeout", cfg.Server.UpstreamIdleTimeout),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func cursorStore(cfg *config.Config, rdb *redis.Client) (routing.CursorStore, error) {
	switch cfg.Routing.CursorStore {
	case "", config.CursorStoreMemory:
		return routing.NewMemoryCursorStore(), nil
	case config.CursorStoreRedis:
		if rdb == nil {
			return nil, errors.New("routing.cursor_store is redis but redis.enabled is false")
		}
		return routing.NewRedisCursorStore(rdb, cfg.Routing.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown routing.cursor_store %q", cfg.Routing.CursorStore)
	}
}

func checkForUpdates(log *zap.Logger, url string) {
	st, err := version.Check(context.Background(), http.DefaultClient, url, version.Version)
	if err != nil {
		log.Debug("Update check failed", zap.Error(err))
		return
	}
	if st.Outdated {
		log.Warn(fmt.Sprintf("%s %s", cli.WarningSign(),
			cli.Stylize(fmt.Sprintf("Running %s, latest release is %s", st.Current, st.Latest), cli.Yellow)))
	}
}
