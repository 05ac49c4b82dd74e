package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// refreshSuffix 拼接在访问密钥之后得到刷新密钥，两类 token 互相不可伪造。
const refreshSuffix = "-refresh"

type Claims struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenPair 是一次签发的访问/刷新 token 及其过期时间。
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Issuer 签发并校验 token 对。
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewIssuer(secret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		accessSecret:  []byte(secret),
		refreshSecret: []byte(secret + refreshSuffix),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// Issue 生成新的 token 对；每个 token 带随机 jti，同一秒内两次签发也不会相同。
func (i *Issuer) Issue(userID uint, username string) (TokenPair, error) {
	now := i.now()
	pair := TokenPair{
		AccessExpiresAt:  now.Add(i.accessTTL),
		RefreshExpiresAt: now.Add(i.refreshTTL),
	}
	var err error
	pair.AccessToken, err = sign(userID, username, now, pair.AccessExpiresAt, i.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	pair.RefreshToken, err = sign(userID, username, now, pair.RefreshExpiresAt, i.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func sign(userID uint, username string, now, exp time.Time, secret []byte) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccess 校验访问 token，失败时返回 nil 而不是错误，由调用方决定如何响应。
func (i *Issuer) VerifyAccess(token string) *Claims {
	return i.parse(token, i.accessSecret)
}

func (i *Issuer) VerifyRefresh(token string) *Claims {
	return i.parse(token, i.refreshSecret)
}

func (i *Issuer) parse(tokenStr string, secret []byte) *Claims {
	if tokenStr == "" {
		return nil
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil
	}
	return claims
}

// SessionStore 返回身份当前持久化的访问 token，用于判定旧 token 对是否已被替换。
type SessionStore interface {
	AccessToken(ctx context.Context, userID uint) (string, error)
}

// Gate 是 REST 与实时网关共用的认证入口。
type Gate struct {
	issuer   *Issuer
	sessions SessionStore
}

func NewGate(issuer *Issuer, sessions SessionStore) *Gate {
	return &Gate{issuer: issuer, sessions: sessions}
}

// Authenticate 返回 token 对应的身份；签名无效、过期、或已不是当前 token 时返回 nil。
func (g *Gate) Authenticate(ctx context.Context, token string) *Claims {
	claims := g.issuer.VerifyAccess(token)
	if claims == nil {
		return nil
	}
	if g.sessions == nil {
		return claims
	}
	current, err := g.sessions.AccessToken(ctx, claims.UserID)
	if err != nil || subtle.ConstantTimeCompare([]byte(current), []byte(token)) != 1 {
		return nil
	}
	return claims
}

// BearerToken 从 Authorization 头或 token 查询参数中提取 token。
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("token")
}

func Middleware(g *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": http.StatusUnauthorized, "message": "missing bearer token"})
			return
		}
		claims := g.Authenticate(c.Request.Context(), token)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": http.StatusUnauthorized, "message": "invalid token"})
			return
		}
		c.Set("userID", claims.UserID)
		c.Set("claims", claims)
		c.Next()
	}
}

func GetUserID(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(uint); ok2 {
			return id
		}
	}
	return 0
}

func GetClaims(c *gin.Context) *Claims {
	if v, ok := c.Get("claims"); ok {
		if claims, ok2 := v.(*Claims); ok2 {
			return claims
		}
	}
	return nil
}
