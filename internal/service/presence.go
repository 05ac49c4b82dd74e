package service

import (
	"context"
	"time"

	"github.com/sunzeqiong/szq-back/internal/models"
	"github.com/sunzeqiong/szq-back/internal/presence"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// PresenceService 维护 users 表中的在线标记与最后活跃时间。
// 同一身份可能有多个实时连接，只有最后一个断开时才会标记离线。
type PresenceService struct {
	db      *gorm.DB
	counter presence.Counter
	now     func() time.Time
}

func NewPresenceService(db *gorm.DB, counter presence.Counter) *PresenceService {
	if counter == nil {
		counter = presence.NewMemoryCounter()
	}
	return &PresenceService{db: db, counter: counter, now: time.Now}
}

func (s *PresenceService) SetOnline(ctx context.Context, userID uint) error {
	if _, err := s.counter.Incr(ctx, userID); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("presence counter incr failed")
	}
	return s.mark(ctx, userID, map[string]interface{}{"is_online": true, "last_active": s.now()})
}

// toucher 由带过期时间的计数器实现，心跳时续期。
type toucher interface {
	Touch(ctx context.Context, userID uint) error
}

// Touch 只刷新最后活跃时间，由心跳调用。
func (s *PresenceService) Touch(ctx context.Context, userID uint) error {
	if t, ok := s.counter.(toucher); ok {
		if err := t.Touch(ctx, userID); err != nil {
			log.Warn().Err(err).Uint("user_id", userID).Msg("presence counter touch failed")
		}
	}
	return s.mark(ctx, userID, map[string]interface{}{"last_active": s.now()})
}

func (s *PresenceService) SetOffline(ctx context.Context, userID uint) error {
	left, err := s.counter.Decr(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("presence counter decr failed")
		left = 0
	}
	if left > 0 {
		return s.mark(ctx, userID, map[string]interface{}{"last_active": s.now()})
	}
	return s.mark(ctx, userID, map[string]interface{}{"is_online": false, "last_active": s.now()})
}

// ForceOffline 用于登出：不论还有几个连接都直接离线。
func (s *PresenceService) ForceOffline(ctx context.Context, userID uint) error {
	if err := s.counter.Reset(ctx, userID); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("presence counter reset failed")
	}
	return s.mark(ctx, userID, map[string]interface{}{"is_online": false, "last_active": s.now()})
}

func (s *PresenceService) mark(ctx context.Context, userID uint, cols map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(cols).Error
}
