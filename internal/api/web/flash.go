package web

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	flashCookie     = "messages"
	pendingFlashKey = "pending_flashes"

	levelSuccess = "success"
	levelInfo    = "info"
	levelWarning = "warning"
	levelError   = "error"
)

// Flash 一次性提示消息，保存在cookie中，下一个页面显示后清除
type Flash struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func (s *Server) addFlash(c *gin.Context, level, text string) {
	var pending []Flash
	if v, ok := c.Get(pendingFlashKey); ok {
		pending = v.([]Flash)
	} else {
		pending = readFlashes(c)
	}
	pending = append(pending, Flash{Level: level, Text: text})
	c.Set(pendingFlashKey, pending)

	data, err := json.Marshal(pending)
	if err != nil {
		slog.Warn("序列化提示消息失败", "error", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookie, base64.RawURLEncoding.EncodeToString(data), 0, "/", "", s.cfg.Server.SecureCookies, true)
}

// popFlashes 读取并清除待显示的消息
func (s *Server) popFlashes(c *gin.Context) []Flash {
	flashes := readFlashes(c)
	if len(flashes) > 0 {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(flashCookie, "", -1, "/", "", s.cfg.Server.SecureCookies, true)
	}
	return flashes
}

func readFlashes(c *gin.Context) []Flash {
	raw, err := c.Cookie(flashCookie)
	if err != nil || raw == "" {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var flashes []Flash
	if err := json.Unmarshal(data, &flashes); err != nil {
		return nil
	}
	return flashes
}
