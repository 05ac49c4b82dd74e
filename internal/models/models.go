package models

import "time"

type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
)

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

type MessageStatus string

const (
	StatusSent MessageStatus = "sent"
	StatusRead MessageStatus = "read"
)

type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
)

// User 同时承载身份、在线状态以及当前唯一有效的 token 对。
type User struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Username            string     `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash        string     `gorm:"not null" json:"-"`
	Email               string     `gorm:"uniqueIndex;size:128;not null" json:"email"`
	Phone               string     `gorm:"size:32" json:"phone,omitempty"`
	Avatar              string     `gorm:"size:255" json:"avatar,omitempty"`
	Signature           string     `gorm:"size:255" json:"signature,omitempty"`
	IsOnline            bool       `gorm:"not null;default:false" json:"is_online"`
	LastActive          *time.Time `json:"last_active,omitempty"`
	Token               string     `gorm:"type:text" json:"-"`
	RefreshToken        string     `gorm:"type:text" json:"-"`
	TokenExpires        *time.Time `json:"-"`
	RefreshTokenExpires *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Room 的 DirectKey 仅私聊房间非空，唯一索引保证同一对用户只有一个私聊房间。
type Room struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:160;not null" json:"name"`
	Type        RoomType  `gorm:"column:room_type;size:16;not null;default:group;index" json:"room_type"`
	Description string    `gorm:"size:255" json:"description,omitempty"`
	CreatedBy   uint      `gorm:"not null;index" json:"created_by"`
	DirectKey   *string   `gorm:"uniqueIndex;size:64" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RoomMember struct {
	RoomID   uint       `gorm:"primaryKey;autoIncrement:false" json:"room_id"`
	UserID   uint       `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	Role     MemberRole `gorm:"size:16;not null;default:member" json:"role"`
	JoinedAt time.Time  `gorm:"autoCreateTime" json:"joined_at"`
}

type Message struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	RoomID    uint          `gorm:"index:idx_msg_room_id;not null" json:"room_id"`
	UserID    uint          `gorm:"index;not null" json:"user_id"`
	Content   string        `gorm:"type:text;not null" json:"content"`
	Status    MessageStatus `gorm:"size:8;not null;default:sent" json:"status"`
	CreatedAt time.Time     `gorm:"index" json:"created_at"`
}

type Friendship struct {
	UserID    uint         `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	FriendID  uint         `gorm:"primaryKey;autoIncrement:false;index" json:"friend_id"`
	Status    FriendStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// MessageView 是消息行连同发送者名称与格式化时间，历史查询与实时广播共用同一形状。
type MessageView struct {
	ID            uint          `json:"id"`
	RoomID        uint          `json:"room_id"`
	UserID        uint          `json:"user_id"`
	Content       string        `json:"content"`
	Status        MessageStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	SenderName    string        `json:"sender_name"`
	FormattedTime string        `json:"formatted_time"`
	IsSender      bool          `json:"is_sender"`
}
