package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sunzeqiong/szq-back/internal/content"
	"github.com/sunzeqiong/szq-back/internal/models"

	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	searchLimit         = 100
)

// messageViewSelect 连接发送者，产出 MessageView 需要的全部列。
const messageViewSelect = `SELECT m.id, m.room_id, m.user_id, m.content, m.status, m.created_at,
       u.username AS sender_name,
       to_char(m.created_at, 'YYYY-MM-DD HH24:MI:SS') AS formatted_time
FROM messages m JOIN users u ON u.id = m.user_id`

type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// RoomInfo 是历史记录附带的房间信息，私聊时带上对方。
type RoomInfo struct {
	ID            uint            `json:"id"`
	Name          string          `json:"name"`
	Type          models.RoomType `gorm:"column:room_type" json:"room_type"`
	OtherUserID   *uint           `json:"other_user_id,omitempty"`
	OtherUsername *string         `json:"other_username,omitempty"`
}

type History struct {
	Messages      []models.MessageView `json:"messages"`
	CurrentUserID uint                 `json:"currentUserId"`
	RoomInfo      *RoomInfo            `json:"roomInfo"`
}

func (s *MessageService) IsMember(ctx context.Context, roomID, userID uint) (bool, error) {
	return isMember(s.db.WithContext(ctx), roomID, userID)
}

// Append 持久化一条消息并回读带发送者信息的视图；成员校验由调用方完成。
func (s *MessageService) Append(ctx context.Context, roomID, userID uint, text string) (*models.MessageView, error) {
	clean, err := content.Message(text)
	if err != nil {
		return nil, validationError(err)
	}
	db := s.db.WithContext(ctx)
	msg := models.Message{RoomID: roomID, UserID: userID, Content: clean, Status: models.StatusSent}
	if err := db.Create(&msg).Error; err != nil {
		return nil, err
	}
	var view models.MessageView
	if err := db.Raw(messageViewSelect+" WHERE m.id = ?", msg.ID).Scan(&view).Error; err != nil {
		return nil, err
	}
	if view.ID == 0 {
		return nil, ErrMessageNotFound
	}
	return &view, nil
}

// History 返回房间内按时间升序的一页消息，并把他人发来的未读消息标记为已读。
// beforeID 为 0 时取最新一页。
func (s *MessageService) History(ctx context.Context, roomID, reader uint, limit int, beforeID uint) (*History, error) {
	db := s.db.WithContext(ctx)
	ok, err := isMember(db, roomID, reader)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotRoomMember
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := messageViewSelect + " WHERE m.room_id = ?"
	args := []interface{}{roomID}
	if beforeID > 0 {
		query += " AND m.id < ?"
		args = append(args, beforeID)
	}
	query += " ORDER BY m.id DESC LIMIT ?"
	args = append(args, limit)

	msgs := []models.MessageView{}
	if err := db.Raw(query, args...).Scan(&msgs).Error; err != nil {
		return nil, err
	}
	// 倒序取页，正序返回
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	for i := range msgs {
		msgs[i].IsSender = msgs[i].UserID == reader
	}

	info, err := s.roomInfo(db, roomID, reader)
	if err != nil {
		return nil, err
	}
	// 只标记本页及更早的消息，翻看旧页时不影响尚未加载的新消息
	if n := len(msgs); n > 0 {
		if err := db.Model(&models.Message{}).
			Where("room_id = ? AND user_id <> ? AND status = ? AND id <= ?", roomID, reader, models.StatusSent, msgs[n-1].ID).
			Update("status", models.StatusRead).Error; err != nil {
			return nil, err
		}
	}
	return &History{Messages: msgs, CurrentUserID: reader, RoomInfo: info}, nil
}

func (s *MessageService) roomInfo(db *gorm.DB, roomID, reader uint) (*RoomInfo, error) {
	var info RoomInfo
	err := db.Raw(`
SELECT r.id, r.name, r.room_type, ou.id AS other_user_id, ou.username AS other_username
FROM rooms r
LEFT JOIN LATERAL (
    SELECT u.id, u.username FROM room_members om JOIN users u ON u.id = om.user_id
    WHERE om.room_id = r.id AND om.user_id <> ?
    ORDER BY om.user_id LIMIT 1
) ou ON r.room_type = 'direct'
WHERE r.id = ?`, reader, roomID).Scan(&info).Error
	if err != nil {
		return nil, err
	}
	if info.ID == 0 {
		return nil, ErrRoomNotFound
	}
	return &info, nil
}

// Search 在房间内按内容模糊搜索，最新的在前。
func (s *MessageService) Search(ctx context.Context, roomID, reader uint, keyword string) ([]models.MessageView, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, ErrEmptyKeyword
	}
	db := s.db.WithContext(ctx)
	ok, err := isMember(db, roomID, reader)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotRoomMember
	}
	out := []models.MessageView{}
	err = db.Raw(messageViewSelect+` WHERE m.room_id = ? AND m.content ILIKE ? ORDER BY m.id DESC LIMIT ?`,
		roomID, "%"+escapeLike(keyword)+"%", searchLimit).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].IsSender = out[i].UserID == reader
	}
	return out, nil
}

// Delete 只允许作者删除自己的消息。
func (s *MessageService) Delete(ctx context.Context, messageID, author uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", messageID, author).Delete(&models.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Get 读取单条原始消息。
func (s *MessageService) Get(ctx context.Context, messageID uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}
