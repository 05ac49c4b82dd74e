package db

import (
	"time"

	"github.com/sunzeqiong/szq-back/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪。
// maxOpen 是连接池上限，超出的请求由 database/sql 排队等待而不是直接失败。
func Connect(dsn string, maxOpen int) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				if maxOpen <= 0 {
					maxOpen = 20
				}
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(maxOpen)
				sqlDB.SetConnMaxLifetime(time.Hour)
				if err = sqlDB.Ping(); err == nil {
					return gdb, nil
				}
			} else {
				err = err2
			}
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("db connect retry")
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// EnableTracing 为所有查询挂上 OpenTelemetry span。
func EnableTracing(gdb *gorm.DB) error {
	return gdb.Use(tracing.NewPlugin())
}

// Migrate 自动迁移聊天子系统涉及的全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Room{}, &models.RoomMember{}, &models.Message{}, &models.Friendship{})
}
