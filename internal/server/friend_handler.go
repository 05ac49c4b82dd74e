package server

import (
	"net/http"

	"github.com/sunzeqiong/szq-back/internal/auth"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListFriends(c *gin.Context) {
	friends, err := h.friends.ListFriends(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		handleErr(c, err, "list friends")
		return
	}
	ok(c, http.StatusOK, "success", friends)
}

func (h *Handler) ListFriendRequests(c *gin.Context) {
	reqs, err := h.friends.ListRequests(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		handleErr(c, err, "list friend requests")
		return
	}
	ok(c, http.StatusOK, "success", reqs)
}

func (h *Handler) AddFriend(c *gin.Context) {
	var req struct {
		FriendID flexID `json:"friendId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.FriendID == 0 {
		fail(c, http.StatusBadRequest, "friendId is required")
		return
	}
	if err := h.friends.Request(c.Request.Context(), auth.GetUserID(c), uint(req.FriendID)); err != nil {
		handleErr(c, err, "add friend")
		return
	}
	ok(c, http.StatusCreated, "friend request sent", gin.H{"friendId": uint(req.FriendID)})
}

// HandleFriendRequest 由被请求方接受或拒绝 friendId 发来的请求。
func (h *Handler) HandleFriendRequest(c *gin.Context) {
	var req struct {
		FriendID flexID `json:"friendId"`
		Action   string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.FriendID == 0 {
		fail(c, http.StatusBadRequest, "friendId is required")
		return
	}
	var accept bool
	switch req.Action {
	case "accept":
		accept = true
	case "reject":
	default:
		fail(c, http.StatusBadRequest, "action must be accept or reject")
		return
	}
	if err := h.friends.Respond(c.Request.Context(), auth.GetUserID(c), uint(req.FriendID), accept); err != nil {
		handleErr(c, err, "handle friend request")
		return
	}
	ok(c, http.StatusOK, "friend request "+req.Action+"ed", gin.H{"friendId": uint(req.FriendID)})
}

func (h *Handler) RemoveFriend(c *gin.Context) {
	friendID, valid := paramID(c, "friendId")
	if !valid {
		return
	}
	if err := h.friends.Remove(c.Request.Context(), auth.GetUserID(c), friendID); err != nil {
		handleErr(c, err, "remove friend")
		return
	}
	ok(c, http.StatusOK, "friend removed", gin.H{"friendId": friendID})
}
