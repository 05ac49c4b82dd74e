package server

import (
	"net/http"
	"strconv"

	"github.com/sunzeqiong/szq-back/internal/auth"

	"github.com/gin-gonic/gin"
)

// ListMessages 分页读取房间历史，beforeId 为游标。读取后他人的消息标记为已读。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID, valid := queryID(c, "roomId")
	if !valid {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint
	if bid := c.Query("beforeId"); bid != "" {
		if beforeID, valid = parseID(bid); !valid {
			fail(c, http.StatusBadRequest, "invalid beforeId")
			return
		}
	}
	hist, err := h.messages.History(c.Request.Context(), roomID, auth.GetUserID(c), limit, beforeID)
	if err != nil {
		handleErr(c, err, "list messages")
		return
	}
	ok(c, http.StatusOK, "success", hist)
}

func (h *Handler) SearchMessages(c *gin.Context) {
	roomID, valid := queryID(c, "roomId")
	if !valid {
		return
	}
	msgs, err := h.messages.Search(c.Request.Context(), roomID, auth.GetUserID(c), c.Query("keyword"))
	if err != nil {
		handleErr(c, err, "search messages")
		return
	}
	ok(c, http.StatusOK, "success", msgs)
}

// SendMessage 走与实时连接相同的房间 actor，订阅者会收到同一条广播。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
		RoomID  flexID `json:"roomId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == 0 {
		fail(c, http.StatusBadRequest, "content and roomId are required")
		return
	}
	view, err := h.hub.Send(c.Request.Context(), nil, uint(req.RoomID), auth.GetUserID(c), req.Content)
	if err != nil {
		handleErr(c, err, "send message")
		return
	}
	ok(c, http.StatusCreated, "message sent", view)
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), id, auth.GetUserID(c)); err != nil {
		handleErr(c, err, "delete message")
		return
	}
	ok(c, http.StatusOK, "message deleted", gin.H{"id": id})
}
