package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/gogotex/texfabric/internal/api"
	"github.com/gogotex/texfabric/internal/config"
	"github.com/gogotex/texfabric/internal/fabric"
	"github.com/gogotex/texfabric/internal/oidc"
	"github.com/gogotex/texfabric/pkg/logger"
	"github.com/gogotex/texfabric/pkg/metrics"
	"github.com/gogotex/texfabric/pkg/middleware"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: oidc=%v mongo=%v redis=%v minio=%v",
		cfg.OIDC.IssuerURL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Minio.Endpoint != "")

	staticDataDir := os.Getenv("FABRIC_STATIC_DATA_DIR")
	if staticDataDir == "" {
		staticDataDir = "./static"
	}
	historyDir := os.Getenv("FABRIC_HISTORY_DIR")

	ctx := context.Background()
	fab, err := fabric.Init(ctx, fabric.Config{
		Fabric:        cfg.Fabric,
		MongoDB:       cfg.MongoDB,
		Minio:         cfg.Minio,
		Redis:         cfg.Redis,
		StaticDataDir: staticDataDir,
		HistoryDir:    historyDir,
	})
	if err != nil {
		logger.Fatalf("failed to initialise resource fabric: %v", err)
	}
	defer func() {
		if err := fab.Terminate(context.Background()); err != nil {
			logger.Warnf("fabric terminate: %v", err)
		}
	}()

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	var verifier middleware.Verifier
	if cfg.OIDC.IssuerURL != "" && cfg.OIDC.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID)
		if err != nil {
			logger.Warnf("failed to initialise OIDC verifier: %v", err)
		} else {
			verifier = ver
		}
	}
	if verifier == nil && strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN"))) == "true" {
		logger.Warnf("enabling insecure OIDC verifier (integration mode)")
		verifier = oidc.NewInsecureVerifier()
	}

	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis ping failed, rate limiter falls back to in-memory: %v", err)
			redisClient = nil
		}
	}

	srv := api.NewServer(fab, api.Options{
		Workers:         cfg.Fabric.MaxConcurrentCompiles,
		QueueMultiplier: 2,
		Verifier:        verifier,
		RateLimit: api.RateLimitOptions{
			Enabled:  cfg.RateLimit.Enabled,
			RPS:      cfg.RateLimit.RPS,
			Burst:    cfg.RateLimit.Burst,
			UseRedis: cfg.RateLimit.UseRedis,
			Redis:    redisClient,
			Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		},
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting texfabric service on %s", addr)
	if err := srv.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
