package server

import (
	"net/http"
	"time"

	"github.com/sunzeqiong/szq-back/internal/auth"
	"github.com/sunzeqiong/szq-back/internal/config"
	"github.com/sunzeqiong/szq-back/internal/metrics"
	"github.com/sunzeqiong/szq-back/internal/mw"
	"github.com/sunzeqiong/szq-back/internal/service"
	"github.com/sunzeqiong/szq-back/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Deps 是路由需要的全部依赖，由 main 组装。
type Deps struct {
	Config      config.Config
	Gate        *auth.Gate
	RateLimiter *mw.RL
	Users       *service.UserService
	Rooms       *service.RoomService
	Messages    *service.MessageService
	Friends     *service.FriendService
	Presence    *service.PresenceService
	Hub         *ws.Hub
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及实时端点。
func SetupRouter(deps Deps) *gin.Engine {
	cfg := deps.Config
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	rl := deps.RateLimiter
	if rl == nil {
		rps, burst := cfg.RateLimitRPS, cfg.RateLimitBurst
		if rps <= 0 {
			rps = 20
		}
		if burst <= 0 {
			burst = 2 * rps
		}
		rl = mw.NewRateLimiter(rate.Limit(rps), burst, 2*time.Minute)
	}
	r.Use(mw.RateLimit(rl))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(deps)
	api := r.Group("/api")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh-token", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(deps.Gate))

	authed.POST("/auth/logout", h.Logout)

	authed.GET("/users", h.ListUsers)
	authed.GET("/users/search", h.SearchUsers)
	authed.GET("/users/me", h.Me)

	authed.GET("/rooms", h.ListMyRooms)
	authed.GET("/rooms/all", h.ListAllRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.POST("/rooms/:id/join", h.JoinRoom)
	authed.POST("/rooms/:id/leave", h.LeaveRoom)
	authed.POST("/rooms/private/:targetId", h.PrivateRoom)

	authed.GET("/messages", h.ListMessages)
	authed.GET("/messages/search", h.SearchMessages)
	authed.POST("/messages", h.SendMessage)
	authed.DELETE("/messages/:id", h.DeleteMessage)

	authed.GET("/friends", h.ListFriends)
	authed.GET("/friends/requests", h.ListFriendRequests)
	authed.POST("/friends/add", h.AddFriend)
	authed.POST("/friends/handle-request", h.HandleFriendRequest)
	authed.DELETE("/friends/:friendId", h.RemoveFriend)

	r.GET("/ws", ws.Serve(deps.Hub, deps.Gate, deps.Presence, ws.Options{
		Heartbeat:              time.Duration(cfg.HeartbeatSeconds) * time.Second,
		JoinRequiresMembership: cfg.JoinRequiresMembership,
	}))
	return r
}
