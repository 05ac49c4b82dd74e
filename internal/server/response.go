package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sunzeqiong/szq-back/internal/auth"
	"github.com/sunzeqiong/szq-back/internal/service"
	"github.com/sunzeqiong/szq-back/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// 统一响应格式：{status, message, data}
func ok(c *gin.Context, status int, message string, data interface{}) {
	body := gin.H{"status": status, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"status": status, "message": message})
}

// statusOf 把业务错误映射为 HTTP 状态码，未知错误为 500。
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden), errors.Is(err, ws.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ws.ErrHubClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleErr 写出错误响应；内部错误只记日志，不把细节返回给客户端。
func handleErr(c *gin.Context, err error, op string) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Str("op", op).Msg("request failed")
		fail(c, status, op+" failed")
		return
	}
	msg := err.Error()
	if errors.Is(err, ws.ErrNotMember) {
		msg = "you are not a member of this room"
	}
	fail(c, status, msg)
}

// flexID 接受数字或数字字符串形式的 id。
type flexID uint

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil || v == 0 {
		return errors.New("invalid id")
	}
	*f = flexID(v)
	return nil
}

func parseID(s string) (uint, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, valid := parseID(c.Param(name))
	if !valid {
		fail(c, http.StatusBadRequest, "invalid "+name)
	}
	return id, valid
}

func queryID(c *gin.Context, name string) (uint, bool) {
	id, valid := parseID(c.Query(name))
	if !valid {
		fail(c, http.StatusBadRequest, "invalid "+name)
	}
	return id, valid
}

var _ json.Unmarshaler = (*flexID)(nil)
