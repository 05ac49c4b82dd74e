package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunzeqiong/szq-back/internal/events"
	"github.com/sunzeqiong/szq-back/internal/metrics"
	"github.com/sunzeqiong/szq-back/internal/models"

	"github.com/rs/zerolog/log"
)

// roomIdleTimeout 是空房间 actor 在没有任何请求时的最长存活时间。
const roomIdleTimeout = time.Minute

var (
	ErrNotMember = errors.New("not a member of this room")
	ErrHubClosed = errors.New("realtime hub closed")
)

// MessageStore 是网关持久化消息所需的最小接口。
type MessageStore interface {
	IsMember(ctx context.Context, roomID, userID uint) (bool, error)
	Append(ctx context.Context, roomID, userID uint, content string) (*models.MessageView, error)
}

// Hub 管理房间级别的子 Hub（延迟创建）以及每个用户的在线连接。
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]*RoomHub
	users map[uint]map[*Client]struct{}

	store     MessageStore
	publisher events.Publisher

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup // 房间 actor
	conns     sync.WaitGroup // Serve 中的连接
}

func NewHub(store MessageStore, publisher events.Publisher) *Hub {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Hub{
		rooms:     make(map[uint]*RoomHub),
		users:     make(map[uint]map[*Client]struct{}),
		store:     store,
		publisher: publisher,
		done:      make(chan struct{}),
	}
}

// GetRoom 若房间未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomID uint) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = newRoomHub(h, roomID)
	select {
	case <-h.done:
		// 已关闭：返回不运行的 RoomHub，join/submit 会立即看到 done
		return room
	default:
	}
	h.rooms[roomID] = room
	h.wg.Add(1)
	go room.run()
	return room
}

// Online 返回订阅该房间的连接数，供 REST 接口复用。
func (h *Hub) Online(roomID uint) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Send 把消息交给房间的 actor，由 actor 校验成员关系后顺序持久化并广播。
// from 为 nil 表示来自 REST 接口。返回的视图 IsSender 为 true。
func (h *Hub) Send(ctx context.Context, from *Client, roomID, userID uint, content string) (*models.MessageView, error) {
	req := submission{ctx: ctx, from: from, userID: userID, content: content, reply: make(chan submitResult, 1)}
	for submitted := false; !submitted; {
		rh := h.GetRoom(roomID)
		select {
		case rh.submit <- req:
			submitted = true
		case <-rh.quit:
			// actor 刚退出，重新取一个
		case <-h.done:
			return nil, ErrHubClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// actor 收下请求后一定会回复
	res := <-req.reply
	if res.err != nil {
		return nil, res.err
	}
	view := *res.view
	view.IsSender = true
	return &view, nil
}

// acquire 登记一个正在服务的连接，hub 已关闭时返回 false。
func (h *Hub) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.conns.Add(1)
	return true
}

func (h *Hub) release() { h.conns.Done() }

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		c.kick()
		return
	default:
	}
	set := h.users[c.userID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.users[c.userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
}

// Connections 返回用户在本实例上的连接数。
func (h *Hub) Connections(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// DisconnectUser 断开用户在本实例上的全部连接，登出时调用。
func (h *Hub) DisconnectUser(userID uint) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.kick()
	}
	return len(clients)
}

// Close 停止所有房间 actor，断开全部连接并等待它们完成离线处理。
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.done)
		var clients []*Client
		for _, set := range h.users {
			for c := range set {
				clients = append(clients, c)
			}
		}
		h.mu.Unlock()
		for _, c := range clients {
			c.kick()
		}
		h.wg.Wait()
		h.conns.Wait()
	})
}

type submission struct {
	ctx     context.Context
	from    *Client
	userID  uint
	content string
	reply   chan submitResult
}

type submitResult struct {
	view *models.MessageView
	err  error
}

// RoomHub 是单个房间的 actor：订阅变更与消息的持久化、广播都在 run 中串行完成，
// 因此房间内的广播顺序与持久化顺序一致。
type RoomHub struct {
	hub        *Hub
	roomID     uint
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	submit     chan submission
	quit       chan struct{}
	online     int32
}

func newRoomHub(h *Hub, roomID uint) *RoomHub {
	return &RoomHub{
		hub:        h,
		roomID:     roomID,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		submit:     make(chan submission),
		quit:       make(chan struct{}),
	}
}

func (rh *RoomHub) run() {
	metrics.WsActiveRooms.Inc()
	defer func() {
		metrics.WsActiveRooms.Dec()
		rh.hub.wg.Done()
	}()
	// 新建后一直没人使用的 actor 靠 idle 退出
	idle := time.NewTimer(roomIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = struct{}{}
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
		case c := <-rh.unregister:
			delete(rh.clients, c)
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
		case req := <-rh.submit:
			rh.handle(req)
		case <-idle.C:
		case <-rh.hub.done:
			return
		}
		if len(rh.clients) == 0 {
			rh.retire()
			return
		}
	}
}

// retire 在房间没有订阅者时从 hub 中摘除自己。摘除与关闭 quit 都在 h.mu 下完成，
// 之后 GetRoom 会创建新的 actor，已拿到旧 RoomHub 的调用方通过 quit 重试。
func (rh *RoomHub) retire() {
	h := rh.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[rh.roomID] == rh {
		delete(h.rooms, rh.roomID)
	}
	close(rh.quit)
}

func (rh *RoomHub) handle(req submission) {
	// 成员校验与写入在同一个 actor 内顺序执行
	member, err := rh.hub.store.IsMember(req.ctx, rh.roomID, req.userID)
	if err != nil {
		req.reply <- submitResult{err: err}
		return
	}
	if !member {
		req.reply <- submitResult{err: ErrNotMember}
		return
	}
	view, err := rh.hub.store.Append(req.ctx, rh.roomID, req.userID, req.content)
	if err != nil {
		req.reply <- submitResult{err: err}
		return
	}
	rh.broadcast(*view, req.from)

	origin := "rest"
	if req.from != nil {
		origin = "ws"
	}
	metrics.WsMessagesTotal.WithLabelValues(origin).Inc()
	if err := rh.hub.publisher.PublishMessage(req.ctx, *view); err != nil {
		log.Warn().Err(err).Uint("room_id", rh.roomID).Uint("message_id", view.ID).Msg("publish message event failed")
	}
	req.reply <- submitResult{view: view}
}

// broadcast 先发给房间内所有订阅者（作者的其它连接标记为 is_sender），
// 再单独给发送连接发一份 is_sender=true。
func (rh *RoomHub) broadcast(view models.MessageView, from *Client) {
	for c := range rh.clients {
		v := view
		v.IsSender = c.userID == view.UserID && c != from
		if b, err := encodeFrame(EventMessage, v); err == nil {
			c.enqueue(b)
		}
	}
	if from != nil {
		view.IsSender = true
		if b, err := encodeFrame(EventMessage, view); err == nil {
			from.enqueue(b)
		}
	}
}

// join 把 c 注册到房间 actor 并返回该 actor；hub 已关闭时返回 nil。
func (h *Hub) join(roomID uint, c *Client) *RoomHub {
	for {
		rh := h.GetRoom(roomID)
		select {
		case rh.register <- c:
			return rh
		case <-rh.quit:
		case <-h.done:
			return nil
		}
	}
}

// leave 返回后 actor 不会再向 c 投递任何消息。
func (rh *RoomHub) leave(c *Client) {
	select {
	case rh.unregister <- c:
	case <-rh.quit:
	case <-rh.hub.done:
	}
}

func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }

func encodeFrame(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: event, Data: data})
}
