package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sunzeqiong/szq-back/internal/content"
	"github.com/sunzeqiong/szq-back/internal/models"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxRoomName = 128

type RoomService struct {
	db     *gorm.DB
	flight singleflight.Group
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

// DirectRoom 是私聊房间以及从调用者视角看到的对方。
type DirectRoom struct {
	Room           models.Room `json:"room"`
	TargetUserID   uint        `json:"targetUserId"`
	TargetUsername string      `json:"targetUsername"`
}

// RoomSummary 是房间列表中的一行。
type RoomSummary struct {
	ID            uint              `json:"id"`
	Name          string            `json:"name"`
	Type          models.RoomType   `gorm:"column:room_type" json:"room_type"`
	Description   string            `json:"description,omitempty"`
	CreatedBy     uint              `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
	Role          models.MemberRole `json:"role"`
	DisplayName   string            `json:"display_name"`
	OtherUserID   *uint             `json:"other_user_id,omitempty"`
	LastMessage   *string           `json:"last_message,omitempty"`
	LastMessageAt *time.Time        `json:"last_message_at,omitempty"`
	UnreadCount   int64             `json:"unread_count"`
}

// RoomStats 是全部群聊房间列表中的一行，在线人数由网关补齐。
type RoomStats struct {
	ID          uint            `json:"id"`
	Name        string          `json:"name"`
	Type        models.RoomType `gorm:"column:room_type" json:"room_type"`
	Description string          `json:"description,omitempty"`
	CreatedBy   uint            `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	MemberCount int64           `json:"member_count"`
	OnlineCount int             `gorm:"-" json:"online_count"`
}

func directKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// GetOrCreateDirect 返回两人之间唯一的私聊房间，不存在则创建。
// 同进程内的并发请求经 singleflight 合并，跨进程的竞争由 direct_key 唯一索引兜底。
func (s *RoomService) GetOrCreateDirect(ctx context.Context, me, target uint) (*DirectRoom, error) {
	if me == target {
		return nil, ErrSelfDirectRoom
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", []uint{me, target}).Find(&users).Error; err != nil {
		return nil, err
	}
	if len(users) != 2 {
		return nil, ErrUserNotFound
	}
	names := make(map[uint]string, 2)
	for _, u := range users {
		names[u.ID] = u.Username
	}

	key := directKey(me, target)
	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.findOrCreateDirect(ctx, key, me, target, names)
	})
	if err != nil {
		return nil, err
	}
	return &DirectRoom{Room: *v.(*models.Room), TargetUserID: target, TargetUsername: names[target]}, nil
}

func (s *RoomService) findOrCreateDirect(ctx context.Context, key string, me, target uint, names map[uint]string) (*models.Room, error) {
	db := s.db.WithContext(ctx)
	var room models.Room
	err := db.Where("direct_key = ?", key).First(&room).Error
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	room = models.Room{
		Name:      fmt.Sprintf("direct-%s-%s", names[me], names[target]),
		Type:      models.RoomDirect,
		CreatedBy: me,
		DirectKey: &key,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		members := []models.RoomMember{
			{RoomID: room.ID, UserID: me, Role: models.RoleOwner},
			{RoomID: room.ID, UserID: target, Role: models.RoleMember},
		}
		return tx.Create(&members).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 其他实例先一步创建了
		var existing models.Room
		if err := db.Where("direct_key = ?", key).First(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateGroup 创建群聊，创建者为 owner，其余成员去重后为 member。
func (s *RoomService) CreateGroup(ctx context.Context, creator uint, name, description string, memberIDs []uint) (*models.Room, error) {
	name = strings.TrimSpace(content.Sanitize(name))
	if name == "" || utf8.RuneCountInString(name) > maxRoomName {
		return nil, ErrRoomName
	}
	description = strings.TrimSpace(content.Sanitize(description))
	if utf8.RuneCountInString(description) > 255 {
		return nil, validationError(errors.New("description must be at most 255 characters"))
	}

	ids := []uint{creator}
	seen := map[uint]bool{creator: true}
	for _, id := range memberIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return nil, err
	}
	if int(count) != len(ids) {
		return nil, ErrUserNotFound
	}

	room := models.Room{Name: name, Type: models.RoomGroup, Description: description, CreatedBy: creator}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		members := make([]models.RoomMember, 0, len(ids))
		for _, id := range ids {
			role := models.RoleMember
			if id == creator {
				role = models.RoleOwner
			}
			members = append(members, models.RoomMember{RoomID: room.ID, UserID: id, Role: role})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *RoomService) Get(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// Join 幂等加入群聊；私聊房间成员固定。
func (s *RoomService) Join(ctx context.Context, roomID, userID uint) error {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Type == models.RoomDirect {
		ok, err := s.IsMember(ctx, roomID, userID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		return ErrDirectRoom
	}
	member := models.RoomMember{RoomID: roomID, UserID: userID, Role: models.RoleMember}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
}

// Leave 幂等退出群聊。
func (s *RoomService) Leave(ctx context.Context, roomID, userID uint) error {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Type == models.RoomDirect {
		ok, err := s.IsMember(ctx, roomID, userID)
		if err != nil {
			return err
		}
		if ok {
			return ErrDirectRoom
		}
		return nil
	}
	return s.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&models.RoomMember{}).Error
}

func (s *RoomService) IsMember(ctx context.Context, roomID, userID uint) (bool, error) {
	return isMember(s.db.WithContext(ctx), roomID, userID)
}

func isMember(db *gorm.DB, roomID, userID uint) (bool, error) {
	var count int64
	err := db.Model(&models.RoomMember{}).Where("room_id = ? AND user_id = ?", roomID, userID).Count(&count).Error
	return count > 0, err
}

const listForIdentitySQL = `
SELECT r.id, r.name, r.room_type, r.description, r.created_by, r.created_at, rm.role,
       CASE WHEN r.room_type = 'direct' THEN COALESCE(ou.username, r.name) ELSE r.name END AS display_name,
       ou.id AS other_user_id,
       lm.content AS last_message,
       lm.created_at AS last_message_at,
       (SELECT COUNT(*) FROM messages um
         WHERE um.room_id = r.id AND um.user_id <> @uid AND um.status = 'sent') AS unread_count
FROM room_members rm
JOIN rooms r ON r.id = rm.room_id
LEFT JOIN LATERAL (
    SELECT u.id, u.username FROM room_members om JOIN users u ON u.id = om.user_id
    WHERE om.room_id = r.id AND om.user_id <> @uid
    ORDER BY om.user_id LIMIT 1
) ou ON r.room_type = 'direct'
LEFT JOIN LATERAL (
    SELECT m.content, m.created_at FROM messages m
    WHERE m.room_id = r.id ORDER BY m.id DESC LIMIT 1
) lm ON true
WHERE rm.user_id = @uid
ORDER BY COALESCE(lm.created_at, r.created_at) DESC, r.id DESC`

// ListForIdentity 返回用户所在的全部房间，最近有活动的排在前面。
func (s *RoomService) ListForIdentity(ctx context.Context, userID uint) ([]RoomSummary, error) {
	out := []RoomSummary{}
	err := s.db.WithContext(ctx).Raw(listForIdentitySQL, map[string]interface{}{"uid": userID}).Scan(&out).Error
	return out, err
}

// ListAll 返回全部群聊及成员数。
func (s *RoomService) ListAll(ctx context.Context) ([]RoomStats, error) {
	out := []RoomStats{}
	err := s.db.WithContext(ctx).Raw(`
SELECT r.id, r.name, r.room_type, r.description, r.created_by, r.created_at, COUNT(rm.user_id) AS member_count
FROM rooms r LEFT JOIN room_members rm ON rm.room_id = r.id
WHERE r.room_type = 'group'
GROUP BY r.id
ORDER BY r.id`).Scan(&out).Error
	return out, err
}
