package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog：dev 环境输出彩色控制台日志并打开 debug，其余环境输出带 service 字段的 JSON。
func Init(env, service string) {
	log.Logger = New(os.Stdout, env, service)
}

// New 按环境构造 logger，测试可传入自己的 writer。
func New(w io.Writer, env, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(cw).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	ctx := zerolog.New(w).With().Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	return ctx.Logger()
}
