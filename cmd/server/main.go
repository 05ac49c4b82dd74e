package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sunzeqiong/szq-back/internal/auth"
	"github.com/sunzeqiong/szq-back/internal/config"
	"github.com/sunzeqiong/szq-back/internal/db"
	"github.com/sunzeqiong/szq-back/internal/events"
	clog "github.com/sunzeqiong/szq-back/internal/log"
	"github.com/sunzeqiong/szq-back/internal/mw"
	"github.com/sunzeqiong/szq-back/internal/presence"
	"github.com/sunzeqiong/szq-back/internal/server"
	"github.com/sunzeqiong/szq-back/internal/service"
	"github.com/sunzeqiong/szq-back/internal/tracing"
	"github.com/sunzeqiong/szq-back/internal/ws"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

func main() {
	// main 函数负责加载配置、初始化日志与依赖，并在收到信号后优雅停服。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.ServiceName)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN, cfg.DBMaxOpenConns)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if cfg.OTELEndpoint != "" {
		if err := db.EnableTracing(gdb); err != nil {
			log.Warn().Err(err).Msg("db tracing")
		}
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	heartbeat := time.Duration(cfg.HeartbeatSeconds) * time.Second
	var counter presence.Counter = presence.NewMemoryCounter()
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		counter = presence.NewRedisCounter(rdb, 3*heartbeat)
		log.Info().Str("addr", cfg.RedisAddr).Msg("presence counters in redis")
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing message events")
	}

	issuer := auth.NewIssuer(cfg.JWTSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLDays)*24*time.Hour)
	users := service.NewUserService(gdb, issuer)
	messages := service.NewMessageService(gdb)
	hub := ws.NewHub(messages, publisher)
	limiter := mw.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 2*time.Minute)

	engine := server.SetupRouter(server.Deps{
		Config:      cfg,
		Gate:        auth.NewGate(issuer, users),
		RateLimiter: limiter,
		Users:       users,
		Rooms:       service.NewRoomService(gdb),
		Messages:    messages,
		Friends:     service.NewFriendService(gdb),
		Presence:    service.NewPresenceService(gdb, counter),
		Hub:         hub,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(engine, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// 实时连接已被 http.Server 交出，需要单独关闭
	hub.Close()
	limiter.Stop()
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("publisher close")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("server stopped")
}
