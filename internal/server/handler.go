package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sunzeqiong/szq-back/internal/auth"
	"github.com/sunzeqiong/szq-back/internal/service"
	"github.com/sunzeqiong/szq-back/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层与实时网关。
type Handler struct {
	users    *service.UserService
	rooms    *service.RoomService
	messages *service.MessageService
	friends  *service.FriendService
	presence *service.PresenceService
	hub      *ws.Hub
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		users:    deps.Users,
		rooms:    deps.Rooms,
		messages: deps.Messages,
		friends:  deps.Friends,
		presence: deps.Presence,
		hub:      deps.Hub,
	}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" || strings.TrimSpace(req.Email) == "" {
		fail(c, http.StatusBadRequest, "username, password and email are required")
		return
	}
	id, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		handleErr(c, err, "register")
		return
	}
	ok(c, http.StatusCreated, "registered", gin.H{"userId": id})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		handleErr(c, err, "login")
		return
	}
	ok(c, http.StatusOK, "login successful", result)
}

// RefreshToken 轮换 token 对，旧的 refresh token 随即失效。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		fail(c, http.StatusBadRequest, "refreshToken is required")
		return
	}
	pair, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		handleErr(c, err, "refresh token")
		return
	}
	ok(c, http.StatusOK, "token refreshed", pair)
}

// Logout 清空 token 对、强制离线并断开本实例上的实时连接。
func (h *Handler) Logout(c *gin.Context) {
	uid := auth.GetUserID(c)
	ctx := c.Request.Context()
	if err := h.users.Logout(ctx, uid); err != nil {
		handleErr(c, err, "logout")
		return
	}
	if err := h.presence.ForceOffline(ctx, uid); err != nil {
		log.Warn().Err(err).Uint("user_id", uid).Msg("logout force offline")
	}
	n := h.hub.DisconnectUser(uid)
	log.Debug().Uint("user_id", uid).Int("connections", n).Msg("logout")
	ok(c, http.StatusOK, "logged out", gin.H{})
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		handleErr(c, err, "get user")
		return
	}
	ok(c, http.StatusOK, "success", user)
}

func (h *Handler) ListUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	users, err := h.users.List(c.Request.Context(), auth.GetUserID(c), limit)
	if err != nil {
		handleErr(c, err, "list users")
		return
	}
	ok(c, http.StatusOK, "success", users)
}

func (h *Handler) SearchUsers(c *gin.Context) {
	users, err := h.users.Search(c.Request.Context(), c.Query("keyword"), auth.GetUserID(c))
	if err != nil {
		handleErr(c, err, "search users")
		return
	}
	ok(c, http.StatusOK, "success", users)
}
