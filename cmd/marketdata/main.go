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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/market-data/internal/api"
	"github.com/Rajchodisetti/market-data/internal/audit"
	"github.com/Rajchodisetti/market-data/internal/breaker"
	"github.com/Rajchodisetti/market-data/internal/cache"
	"github.com/Rajchodisetti/market-data/internal/config"
	"github.com/Rajchodisetti/market-data/internal/marketdata"
	"github.com/Rajchodisetti/market-data/internal/observ"
	"github.com/Rajchodisetti/market-data/internal/provider"
	"github.com/Rajchodisetti/market-data/internal/ratelimit"
	"github.com/Rajchodisetti/market-data/internal/store"
)

func main() {
	var cfgPath, envFile string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config (optional)")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Fatal("load env file")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := observ.Configure(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Cache.Backend == "redis" || cfg.RateLimit.Backend == "redis" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Fatal("parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("connect redis")
		}
	}

	var snapshots marketdata.Cache
	switch cfg.Cache.Backend {
	case "redis":
		snapshots = cache.NewRedis(rdb)
	default:
		mem := cache.NewMemory()
		go mem.Run(ctx, time.Duration(cfg.Cache.CleanupIntervalSeconds)*time.Second)
		snapshots = mem
	}

	limitCfg := ratelimit.Config{Window: cfg.RateLimit.Window(), MaxRequests: cfg.RateLimit.MaxRequests}
	var limiter marketdata.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		limiter = ratelimit.NewRedisFixedWindow(rdb, limitCfg)
	default:
		limiter = ratelimit.NewFixedWindow(limitCfg)
	}

	upstream, err := provider.New(provider.Config{
		Name:              cfg.Provider.Name,
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		MaxAttempts:       cfg.Provider.MaxAttempts,
		BackoffBase:       time.Duration(cfg.Provider.BackoffBaseMs) * time.Millisecond,
		MaxComparables:    cfg.MarketData.MaxComparables,
	})
	if err != nil {
		logger.WithError(err).Fatal("configure provider")
	}

	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		logger.WithError(err).Fatal("open audit log")
	}
	defer auditLog.Close()

	svc, err := marketdata.NewService(marketdata.Config{
		CacheTTL:        cfg.MarketData.CacheTTL(),
		FreshnessWindow: cfg.MarketData.FreshnessWindow(),
		StaleTolerance:  cfg.MarketData.StaleTolerance(),
		ProviderTimeout: cfg.MarketData.ProviderTimeout(),
		RateLimitScope:  ratelimit.Scope(cfg.RateLimit.Scope),
	}, marketdata.Deps{
		Cache:    snapshots,
		Store:    db,
		Provider: upstream,
		Limiter:  limiter,
		Breaker: breaker.New(breaker.Config{
			Name:             upstream.Name(),
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout(),
		}),
		Audit: auditLog,
	})
	if err != nil {
		logger.WithError(err).Fatal("build service")
	}

	if cfg.Development() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(svc, logger, cfg.Development()), cfg.Server.CORSOrigins)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":       cfg.Server.Addr,
			"store":      cfg.Store.Driver,
			"cache":      cfg.Cache.Backend,
			"rate_limit": cfg.RateLimit.Backend,
			"provider":   cfg.Provider.BaseURL,
		}).Info("market data service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
