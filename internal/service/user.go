package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sunzeqiong/szq-back/internal/auth"
	"github.com/sunzeqiong/szq-back/internal/content"
	"github.com/sunzeqiong/szq-back/internal/models"

	"gorm.io/gorm"
)

// UserService 封装注册、登录、token 轮换与用户查询。
type UserService struct {
	db     *gorm.DB
	issuer *auth.Issuer
	now    func() time.Time
}

func NewUserService(db *gorm.DB, issuer *auth.Issuer) *UserService {
	return &UserService{db: db, issuer: issuer, now: time.Now}
}

type RegisterInput struct {
	Username string
	Password string
	Email    string
	Phone    string
}

// Register 注册新用户，用户名或邮箱已存在时返回 ErrUsernameTaken。
func (s *UserService) Register(ctx context.Context, in RegisterInput) (uint, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := content.ValidateUsername(in.Username); err != nil {
		return 0, validationError(err)
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return 0, validationError(errors.New("a valid email is required"))
	}
	if len(in.Password) < 2 || len(in.Password) > 72 {
		return 0, validationError(errors.New("password must be 2-72 characters"))
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.User{}).Where("username = ? OR email = ?", in.Username, in.Email).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return 0, err
	}
	user := models.User{Username: in.Username, PasswordHash: hash, Email: in.Email, Phone: in.Phone}
	if err := db.Create(&user).Error; err != nil {
		// 并发注册时由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return user.ID, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	User models.User `json:"user"`
	auth.TokenPair
}

// Login 校验用户名密码，签发并持久化新的 token 对（覆盖旧的），同时标记在线。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	pair, err := s.issuer.Issue(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	now := s.now()
	updates := tokenColumns(pair)
	updates["is_online"] = true
	updates["last_active"] = now
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	user.IsOnline = true
	user.LastActive = &now
	return &LoginResult{User: user, TokenPair: pair}, nil
}

// Refresh 校验 refresh token 并轮换出新的 token 对。
// 条件更新保证同一个 refresh token 并发使用时只有一次成功。
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims := s.issuer.VerifyRefresh(refreshToken)
	if claims == nil {
		return nil, ErrInvalidRefresh
	}
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ? AND refresh_token = ?", claims.UserID, refreshToken).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if user.RefreshTokenExpires == nil || user.RefreshTokenExpires.Before(s.now()) {
		return nil, ErrInvalidRefresh
	}
	pair, err := s.issuer.Issue(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", user.ID, refreshToken).
		Updates(tokenColumns(pair))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidRefresh
	}
	return &pair, nil
}

// Logout 清空持久化的 token 对，使当前访问 token 与 refresh token 立即失效。
func (s *UserService) Logout(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"token":                 "",
		"refresh_token":         "",
		"token_expires":         nil,
		"refresh_token_expires": nil,
	}).Error
}

// AccessToken 实现 auth.SessionStore。
func (s *UserService) AccessToken(ctx context.Context, userID uint) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "token").First(&user, userID).Error; err != nil {
		return "", err
	}
	return user.Token, nil
}

func (s *UserService) Get(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// List 返回除 exclude 以外的用户，在线用户优先。
func (s *UserService) List(ctx context.Context, exclude uint, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var users []models.User
	err := s.db.WithContext(ctx).Where("id <> ?", exclude).
		Order("is_online DESC, username ASC").Limit(limit).Find(&users).Error
	return users, err
}

// Search 按用户名或邮箱模糊查询。
func (s *UserService) Search(ctx context.Context, keyword string, exclude uint) ([]models.User, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, ErrEmptyKeyword
	}
	pattern := "%" + escapeLike(keyword) + "%"
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("id <> ? AND (username ILIKE ? OR email ILIKE ?)", exclude, pattern, pattern).
		Order("username ASC").Limit(50).Find(&users).Error
	return users, err
}

func tokenColumns(pair auth.TokenPair) map[string]interface{} {
	return map[string]interface{}{
		"token":                 pair.AccessToken,
		"refresh_token":         pair.RefreshToken,
		"token_expires":         pair.AccessExpiresAt,
		"refresh_token_expires": pair.RefreshExpiresAt,
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
