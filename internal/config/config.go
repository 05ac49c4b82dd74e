package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                   string
	DatabaseDSN            string
	DBMaxOpenConns         int
	JWTSecret              string
	Env                    string
	AccessTokenTTLMinutes  int
	RefreshTokenTTLDays    int
	HeartbeatSeconds       int
	JoinRequiresMembership bool
	RedisAddr              string
	KafkaBrokers           []string
	KafkaTopic             string
	OTELEndpoint           string
	ServiceName            string
	CORSOrigins            []string
	RateLimitRPS           int
	RateLimitBurst         int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// positiveInt 解析正整数，非法或非正值回退到默认值。
func positiveInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	joinCheck, _ := strconv.ParseBool(getenv("WS_JOIN_REQUIRES_MEMBERSHIP", "false"))
	return Config{
		Port:                   getenv("APP_PORT", "3000"),
		DatabaseDSN:            getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=heating_system port=5432 sslmode=disable TimeZone=UTC"),
		DBMaxOpenConns:         positiveInt("DB_MAX_OPEN_CONNS", 20),
		JWTSecret:              getenv("JWT_SECRET", defaultJWTSecret),
		Env:                    getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes:  positiveInt("ACCESS_TOKEN_TTL_MINUTES", 120),
		RefreshTokenTTLDays:    positiveInt("REFRESH_TOKEN_TTL_DAYS", 7),
		HeartbeatSeconds:       positiveInt("WS_HEARTBEAT_SECONDS", 30),
		JoinRequiresMembership: joinCheck,
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:             getenv("KAFKA_TOPIC", "chat.messages"),
		OTELEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:            getenv("OTEL_SERVICE_NAME", "szq-heating-system"),
		CORSOrigins:            splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RateLimitRPS:           positiveInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:         positiveInt("RATE_LIMIT_BURST", 40),
	}
}

// Validate 在启动时拒绝明显不可用的配置；非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	return nil
}
