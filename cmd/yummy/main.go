package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yummyhq/yummy/internal/v1/auth"
	"github.com/yummyhq/yummy/internal/v1/bus"
	"github.com/yummyhq/yummy/internal/v1/config"
	"github.com/yummyhq/yummy/internal/v1/connection"
	"github.com/yummyhq/yummy/internal/v1/gateway"
	"github.com/yummyhq/yummy/internal/v1/health"
	"github.com/yummyhq/yummy/internal/v1/logging"
	"github.com/yummyhq/yummy/internal/v1/middleware"
	"github.com/yummyhq/yummy/internal/v1/persistence"
	"github.com/yummyhq/yummy/internal/v1/plugin"
	"github.com/yummyhq/yummy/internal/v1/ratelimit"
	"github.com/yummyhq/yummy/internal/v1/room"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/tracing"
	"github.com/yummyhq/yummy/internal/v1/transport"
	"github.com/yummyhq/yummy/internal/v1/user"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on process environment")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid environment configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(os.Getenv("DEVELOPMENT_MODE") == "true"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	var tracerProvider *sdktrace.TracerProvider
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), cfg.ServerName, cfg.OtelCollectorAddr)
		if err != nil {
			slog.Warn("tracing disabled: failed to initialize tracer", "error", err)
		} else {
			tracerProvider = tp
			slog.Info("tracing enabled", "collector", cfg.OtelCollectorAddr)
		}
	}

	persist, err := persistence.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open persistence store", "error", err)
		os.Exit(1)
	}
	defer persist.Close()

	var (
		store      state.Store
		busService *bus.Service
	)
	if cfg.Stateless() {
		busService, err = bus.NewService(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer busService.Close()
		store = state.NewRedisStore(busService)
		slog.Info("running stateless, state shared via redis", "redis_url", cfg.RedisURL)
	} else {
		store = state.NewMemoryStore()
		slog.Info("running single-instance, state held in memory")
	}

	var redisClient *redis.Client
	if busService != nil {
		redisClient = busService.Client()
	}
	limiter, err := ratelimit.New(redisClient)
	if err != nil {
		slog.Error("failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenManager(cfg.SaltKey, cfg.TokenLifetime)
	authCoord := auth.New(tokens, store, persist, cfg.ServerName, cfg.ConnectionRestoreWaitTimeout)
	userCoord := user.New(store, persist, cfg.MaxUserMeta)
	conn := connection.New(store, busService, cfg.ServerName)
	subCtx, stopSubscriptions := context.WithCancel(context.Background())
	defer stopSubscriptions()
	var subscribers sync.WaitGroup
	conn.Subscribe(subCtx, &subscribers)
	roomCoord := room.New(store, persist, conn)

	plugins := plugin.New(func(pluginName string, v plugin.Variant, err error) {
		slog.Error("plugin post-hook failed", "plugin", pluginName, "variant", v, "error", err)
	})

	gw := gateway.New(authCoord, userCoord, roomCoord, store, conn, plugins, cfg.MaxRoomMeta, limiter)

	wsServer := transport.NewServer(cfg.APIKeyName, cfg.IntegrationKey, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, gw.NewClientFactory())

	healthHandler := health.NewHandler(busService, persist.DB())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	router.Use(cors.New(corsConfig))

	router.GET("/ws", func(c *gin.Context) {
		if !limiter.AllowConnect(c.Writer, c.Request.Context(), c.ClientIP()) {
			return
		}
		wsServer.HandleUpgrade(c)
	})

	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.BindIP + ":" + cfg.BindPort,
		Handler: router,
	}

	go func() {
		slog.Info("yummy server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsServer.Shutdown(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("tracer provider shutdown failed", "error", err)
		}
	}

	slog.Info("server exiting")
}
