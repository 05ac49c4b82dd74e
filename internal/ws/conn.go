package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sunzeqiong/szq-back/internal/auth"
	"github.com/sunzeqiong/szq-back/internal/content"
	"github.com/sunzeqiong/szq-back/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// 客户端与服务端之间的事件名。
const (
	EventJoinRoom   = "join-room"
	EventLeaveRoom  = "leave-room"
	EventNewMessage = "NEW_MESSAGE"
	EventMessage    = "message"
	EventError      = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // 1MB
	sendBuffer     = 256
)

// PresenceStore 维护连接对应身份的在线状态。
type PresenceStore interface {
	SetOnline(ctx context.Context, userID uint) error
	Touch(ctx context.Context, userID uint) error
	SetOffline(ctx context.Context, userID uint) error
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) *auth.Claims
}

type Options struct {
	// Heartbeat 为 0 时不启动心跳。
	Heartbeat time.Duration
	// JoinRequiresMembership 为 true 时 join-room 需要房间成员身份。
	JoinRequiresMembership bool
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type newMessagePayload struct {
	Content string          `json:"content"`
	RoomID  json.RawMessage `json:"roomId"`
}

// Client 是一条已认证的实时连接。rooms 只由读循环访问。
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint
	uname  string
	opts   Options
	rooms  map[uint]*RoomHub

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, userID uint, uname string, opts Options) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
		uname:  uname,
		opts:   opts,
		rooms:  make(map[uint]*RoomHub),
		done:   make(chan struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve 在升级前完成认证，认证失败直接返回 401。
func Serve(h *Hub, gate Authenticator, presence PresenceStore, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"status": http.StatusUnauthorized, "message": "missing token"})
			return
		}
		claims := gate.Authenticate(c.Request.Context(), token)
		if claims == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"status": http.StatusUnauthorized, "message": "invalid token"})
			return
		}

		if !h.acquire() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": http.StatusServiceUnavailable, "message": "shutting down"})
			return
		}
		defer h.release()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
		defer cancel()

		client := newClient(h, conn, claims.UserID, claims.Username, opts)
		h.attach(client)
		metrics.WsConnections.Inc()
		logger := log.With().Str("conn_id", client.id).Uint("user_id", client.userID).Logger()
		logger.Debug().Msg("realtime connection established")

		if err := presence.SetOnline(ctx, client.userID); err != nil {
			logger.Warn().Err(err).Msg("set online failed")
		}
		hb := startHeartbeat(ctx, opts.Heartbeat, func(ctx context.Context) {
			if err := presence.Touch(ctx, client.userID); err != nil {
				logger.Warn().Err(err).Msg("heartbeat touch failed")
			}
		})

		go client.writePump()
		client.readPump(ctx)

		// 断开：停心跳、退订所有房间、离线
		hb.Stop()
		client.leaveAll()
		h.detach(client)
		client.kick()
		metrics.WsConnections.Dec()

		offCtx, offCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer offCancel()
		if err := presence.SetOffline(offCtx, client.userID); err != nil {
			logger.Warn().Err(err).Msg("set offline failed")
		}
		logger.Debug().Msg("realtime connection closed")
	}
}

// kick 关闭底层连接，读循环随之退出并走统一的断开流程。可重复调用。
func (c *Client) kick() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// enqueue 不阻塞；发送缓冲已满说明客户端消费过慢，直接断开。
func (c *Client) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		metrics.WsSlowConsumers.Inc()
		log.Warn().Str("conn_id", c.id).Uint("user_id", c.userID).Msg("send buffer full, dropping connection")
		c.kick()
	}
}

func (c *Client) sendError(msg string) {
	if b, err := encodeFrame(EventError, errorPayload{Message: msg}); err == nil {
		c.enqueue(b)
	}
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("realtime read error")
			}
			return
		}
		c.handleEvent(ctx, data)
	}
}

// writePump 在 done 关闭后退出。send 从不关闭，房间 actor 在 hub 关闭途中投递也不会 panic。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleEvent 顺序处理一帧客户端事件，错误以 error 事件回给该连接，不断开连接。
func (c *Client) handleEvent(ctx context.Context, raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		metrics.WsEventsTotal.WithLabelValues("invalid", "rejected").Inc()
		c.sendError("malformed event")
		return
	}
	var ok bool
	switch in.Event {
	case EventJoinRoom:
		ok = c.joinRoom(ctx, in.Data)
	case EventLeaveRoom:
		ok = c.leaveRoom(in.Data)
	case EventNewMessage:
		ok = c.newMessage(ctx, in.Data)
	default:
		metrics.WsEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		c.sendError("unknown event")
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "rejected"
	}
	metrics.WsEventsTotal.WithLabelValues(in.Event, outcome).Inc()
}

func (c *Client) joinRoom(ctx context.Context, data json.RawMessage) bool {
	roomID, ok := parseRoomID(data)
	if !ok {
		c.sendError("invalid room id")
		return false
	}
	if _, joined := c.rooms[roomID]; joined {
		return true
	}
	if c.opts.JoinRequiresMembership {
		member, err := c.hub.store.IsMember(ctx, roomID, c.userID)
		if err != nil {
			log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", c.userID).Msg("membership check failed")
			c.sendError("failed to join room")
			return false
		}
		if !member {
			c.sendError("you are not a member of this room")
			return false
		}
	}
	rh := c.hub.join(roomID, c)
	if rh == nil {
		return false
	}
	c.rooms[roomID] = rh
	return true
}

func (c *Client) leaveRoom(data json.RawMessage) bool {
	roomID, ok := parseRoomID(data)
	if !ok {
		c.sendError("invalid room id")
		return false
	}
	if rh, joined := c.rooms[roomID]; joined {
		rh.leave(c)
		delete(c.rooms, roomID)
	}
	return true
}

func (c *Client) leaveAll() {
	for id, rh := range c.rooms {
		rh.leave(c)
		delete(c.rooms, id)
	}
}

func (c *Client) newMessage(ctx context.Context, data json.RawMessage) bool {
	var p newMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError("malformed message")
		return false
	}
	roomID, ok := parseRoomID(p.RoomID)
	if !ok {
		c.sendError("invalid room id")
		return false
	}
	if strings.TrimSpace(p.Content) == "" {
		c.sendError(content.ErrEmptyMessage.Error())
		return false
	}
	// 成功时发送者的确认帧已由房间 actor 投递
	if _, err := c.hub.Send(ctx, c, roomID, c.userID, p.Content); err != nil {
		switch {
		case errors.Is(err, ErrNotMember):
			c.sendError("you are not a member of this room")
		case errors.Is(err, content.ErrEmptyMessage), errors.Is(err, content.ErrMessageTooLong):
			c.sendError(err.Error())
		default:
			log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", c.userID).Msg("send message failed")
			c.sendError("failed to send message")
		}
		return false
	}
	return true
}

// parseRoomID 接受正整数或数字字符串。
func parseRoomID(data json.RawMessage) (uint, bool) {
	if len(data) == 0 {
		return 0, false
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, false
	}
	var n uint64
	switch t := v.(type) {
	case float64:
		if t <= 0 || t != float64(uint64(t)) || t > float64(^uint32(0)) {
			return 0, false
		}
		n = uint64(t)
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(t), 10, 32)
		if err != nil || parsed == 0 {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	return uint(n), true
}
