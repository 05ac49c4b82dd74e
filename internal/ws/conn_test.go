package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sunzeqiong/szq-back/internal/auth"
	"github.com/sunzeqiong/szq-back/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate map[string]*auth.Claims

func (g fakeGate) Authenticate(_ context.Context, token string) *auth.Claims { return g[token] }

type fakePresence struct {
	mu      sync.Mutex
	online  map[uint]int
	touches map[uint]int
	offline map[uint]int
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: map[uint]int{}, touches: map[uint]int{}, offline: map[uint]int{}}
}

func (p *fakePresence) SetOnline(_ context.Context, id uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id]++
	return nil
}

func (p *fakePresence) Touch(_ context.Context, id uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touches[id]++
	return nil
}

func (p *fakePresence) SetOffline(_ context.Context, id uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline[id]++
	return nil
}

func (p *fakePresence) get(m map[uint]int, id uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return m[id]
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, models.MessageView) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f struct {
		Event string             `json:"event"`
		Data  models.MessageView `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&f))
	return f.Event, f.Data
}

func TestServe_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newFakeStore()
	store.addMember(1, 1, 2)
	hub := NewHub(store, nil)
	defer hub.Close()
	presence := newFakePresence()
	gate := fakeGate{
		"tok-alice": {UserID: 1, Username: "alice"},
		"tok-bob":   {UserID: 2, Username: "bob"},
	}

	r := gin.New()
	r.GET("/ws", Serve(hub, gate, presence, Options{Heartbeat: 10 * time.Millisecond}))
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=forged", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	alice, _, err := websocket.DefaultDialer.Dial(base+"?token=tok-alice", nil)
	require.NoError(t, err)
	defer alice.Close()
	header := http.Header{"Authorization": []string{"Bearer tok-bob"}}
	bob, _, err := websocket.DefaultDialer.Dial(base, header)
	require.NoError(t, err)

	for _, c := range []*websocket.Conn{alice, bob} {
		require.NoError(t, c.WriteJSON(map[string]interface{}{"event": EventJoinRoom, "data": 1}))
	}
	require.Eventually(t, func() bool { return hub.Online(1) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, presence.get(presence.online, 1))

	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"event": EventNewMessage,
		"data":  map[string]interface{}{"content": "hi bob", "roomId": "1"},
	}))

	evt, got := readMessage(t, bob)
	assert.Equal(t, EventMessage, evt)
	assert.Equal(t, "hi bob", got.Content)
	assert.False(t, got.IsSender)

	_, first := readMessage(t, alice)
	_, second := readMessage(t, alice)
	assert.False(t, first.IsSender)
	assert.True(t, second.IsSender)

	assert.Eventually(t, func() bool { return presence.get(presence.touches, 1) > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bob.Close())
	assert.Eventually(t, func() bool { return presence.get(presence.offline, 2) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return hub.Online(1) == 1 }, 2*time.Second, 5*time.Millisecond)

	// 登出踢掉连接
	assert.Equal(t, 1, hub.DisconnectUser(1))
	assert.Eventually(t, func() bool { return presence.get(presence.offline, 1) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.Connections(1))
}
