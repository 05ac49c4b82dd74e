package service

import (
	"context"
	"errors"
	"time"

	"github.com/sunzeqiong/szq-back/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FriendService 维护好友关系：待处理是一条 请求者->目标 的边，已接受是双向两条边。
type FriendService struct {
	db *gorm.DB
}

func NewFriendService(db *gorm.DB) *FriendService {
	return &FriendService{db: db}
}

// Friend 是好友列表中的一项。
type Friend struct {
	ID         uint       `json:"id"`
	Username   string     `json:"username"`
	Avatar     string     `json:"avatar,omitempty"`
	Signature  string     `json:"signature,omitempty"`
	IsOnline   bool       `json:"is_online"`
	LastActive *time.Time `json:"last_active,omitempty"`
	Since      time.Time  `json:"since"`
}

func (s *FriendService) Request(ctx context.Context, requester, target uint) error {
	if requester == target {
		return ErrSelfFriend
	}
	// 锁住双方的用户行，同一对用户之间的请求串行执行，避免 A->B 与 B->A 同时写入两条 pending
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").
			Where("id IN ?", []uint{requester, target}).Order("id").Find(&users).Error; err != nil {
			return err
		}
		if len(users) != 2 {
			return ErrUserNotFound
		}
		var n int64
		if err := tx.Model(&models.Friendship{}).
			Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", requester, target, target, requester).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrFriendExists
		}
		return tx.Create(&models.Friendship{UserID: requester, FriendID: target, Status: models.FriendPending}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrFriendExists
	}
	return err
}

// Respond 由目标用户处理 requester 发来的请求。
// 接受时在一个事务里删除两个方向的边再写入两条 accepted，已是好友时重复接受为空操作。
func (s *FriendService) Respond(ctx context.Context, me, requester uint, accept bool) error {
	db := s.db.WithContext(ctx)
	var edge models.Friendship
	err := db.Where("user_id = ? AND friend_id = ?", requester, me).First(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	if edge.Status == models.FriendAccepted {
		if accept {
			return nil
		}
		return ErrRequestNotFound
	}

	if !accept {
		return db.Where("user_id = ? AND friend_id = ? AND status = ?", requester, me, models.FriendPending).
			Delete(&models.Friendship{}).Error
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", requester, me, me, requester).
			Delete(&models.Friendship{}).Error; err != nil {
			return err
		}
		rows := []models.Friendship{
			{UserID: requester, FriendID: me, Status: models.FriendAccepted},
			{UserID: me, FriendID: requester, Status: models.FriendAccepted},
		}
		return tx.Create(&rows).Error
	})
}

// Remove 删除两个方向的边，幂等。
func (s *FriendService) Remove(ctx context.Context, a, b uint) error {
	return s.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a).
		Delete(&models.Friendship{}).Error
}

// ListFriends 在线的排前面，再按用户名排序。
func (s *FriendService) ListFriends(ctx context.Context, userID uint) ([]Friend, error) {
	out := []Friend{}
	err := s.db.WithContext(ctx).Raw(`
SELECT u.id, u.username, u.avatar, u.signature, u.is_online, u.last_active, f.created_at AS since
FROM friendships f JOIN users u ON u.id = f.friend_id
WHERE f.user_id = ? AND f.status = ?
ORDER BY u.is_online DESC, u.username ASC`, userID, models.FriendAccepted).Scan(&out).Error
	return out, err
}

// ListRequests 返回发给 userID 且尚未处理的请求。
func (s *FriendService) ListRequests(ctx context.Context, userID uint) ([]Friend, error) {
	out := []Friend{}
	err := s.db.WithContext(ctx).Raw(`
SELECT u.id, u.username, u.avatar, u.signature, u.is_online, u.last_active, f.created_at AS since
FROM friendships f JOIN users u ON u.id = f.user_id
WHERE f.friend_id = ? AND f.status = ?
ORDER BY f.created_at DESC`, userID, models.FriendPending).Scan(&out).Error
	return out, err
}
