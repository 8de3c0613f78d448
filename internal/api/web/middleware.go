package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/lvdashuaibi/littlepolls/internal/service"
)

const accountKey = "account"

// requestLogger 请求日志
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			slog.Error("请求处理完成", attrs...)
			return
		}
		slog.Info("请求处理完成", attrs...)
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		slog.Error("请求处理发生panic", "path", c.Request.URL.Path, "panic", err)
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// loadAccount 根据会话cookie加载当前账户，放入gin上下文与请求上下文
func (s *Server) loadAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, _ := c.Cookie(s.cfg.Session.CookieName)
		if key != "" {
			account, err := s.accounts.SessionAccount(c.Request.Context(), key)
			if err != nil {
				slog.Warn("加载会话失败", "error", err)
			}
			if account != nil {
				c.Set(accountKey, account)
				c.Request = c.Request.WithContext(service.WithAccount(c.Request.Context(), account))
			}
		}
		c.Next()
	}
}

// loginRequired 未登录时跳转到登录页
func (s *Server) loginRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentAccount(c) == nil {
			c.Redirect(http.StatusFound, loginURL(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentAccount(c *gin.Context) *model.Account {
	if v, ok := c.Get(accountKey); ok {
		if account, ok := v.(*model.Account); ok {
			return account
		}
	}
	return nil
}

func loginURL(next string) string {
	return "/login?next=" + url.QueryEscape(next)
}

// safeNext 只允许站内相对路径
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

func (s *Server) setSessionCookie(c *gin.Context, key string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.Session.CookieName, key, int(s.cfg.Session.TTL.Seconds()), "/", "", s.cfg.Server.SecureCookies, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.Session.CookieName, "", -1, "/", "", s.cfg.Server.SecureCookies, true)
}
