package server

import (
	"net/http"

	"github.com/sunzeqiong/szq-back/internal/auth"

	"github.com/gin-gonic/gin"
)

// ListMyRooms 返回当前用户所在的房间，带未读数与最后一条消息。
func (h *Handler) ListMyRooms(c *gin.Context) {
	rooms, err := h.rooms.ListForIdentity(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		handleErr(c, err, "list rooms")
		return
	}
	ok(c, http.StatusOK, "success", rooms)
}

// ListAllRooms 返回全部群聊，在线人数取自实时网关。
func (h *Handler) ListAllRooms(c *gin.Context) {
	rooms, err := h.rooms.ListAll(c.Request.Context())
	if err != nil {
		handleErr(c, err, "list rooms")
		return
	}
	for i := range rooms {
		rooms[i].OnlineCount = h.hub.Online(rooms[i].ID)
	}
	ok(c, http.StatusOK, "success", rooms)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Members     []flexID `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	members := make([]uint, 0, len(req.Members))
	for _, m := range req.Members {
		members = append(members, uint(m))
	}
	room, err := h.rooms.CreateGroup(c.Request.Context(), auth.GetUserID(c), req.Name, req.Description, members)
	if err != nil {
		handleErr(c, err, "create room")
		return
	}
	ok(c, http.StatusCreated, "room created", room)
}

func (h *Handler) JoinRoom(c *gin.Context) {
	roomID, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.rooms.Join(c.Request.Context(), roomID, auth.GetUserID(c)); err != nil {
		handleErr(c, err, "join room")
		return
	}
	ok(c, http.StatusOK, "joined", gin.H{"roomId": roomID})
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	roomID, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.rooms.Leave(c.Request.Context(), roomID, auth.GetUserID(c)); err != nil {
		handleErr(c, err, "leave room")
		return
	}
	ok(c, http.StatusOK, "left", gin.H{"roomId": roomID})
}

// PrivateRoom 获取或创建与 targetId 的私聊房间。
func (h *Handler) PrivateRoom(c *gin.Context) {
	target, valid := paramID(c, "targetId")
	if !valid {
		return
	}
	room, err := h.rooms.GetOrCreateDirect(c.Request.Context(), auth.GetUserID(c), target)
	if err != nil {
		handleErr(c, err, "private room")
		return
	}
	ok(c, http.StatusOK, "success", room)
}
