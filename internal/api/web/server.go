package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/media"
	"github.com/lvdashuaibi/littlepolls/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// HealthCheck 健康检查函数，返回error表示依赖不可用
type HealthCheck func(ctx context.Context) error

// Server HTML前端
type Server struct {
	cfg      *config.Config
	polls    *service.PollService
	votes    *service.VoteService
	accounts *service.AccountService
	avatars  *media.AvatarStore
	checks   map[string]HealthCheck
	engine   *gin.Engine
}

// NewServer 创建HTML前端并注册路由；graphHandler为nil时不挂载GraphQL端点
func NewServer(cfg *config.Config, polls *service.PollService, votes *service.VoteService, accounts *service.AccountService, avatars *media.AvatarStore, graphHandler http.Handler) (*Server, error) {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	engine := gin.New()
	engine.Use(requestLogger(), recovery())
	engine.MaxMultipartMemory = cfg.Media.MaxAvatarBytes + 1<<20

	s := &Server{
		cfg:      cfg,
		polls:    polls,
		votes:    votes,
		accounts: accounts,
		avatars:  avatars,
		checks:   make(map[string]HealthCheck),
		engine:   engine,
	}
	if err := s.loadTemplates(); err != nil {
		return nil, err
	}
	s.routes(graphHandler)
	return s, nil
}

// AddHealthCheck 注册 /healthz 检查的依赖
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Handler 返回HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(graphHandler http.Handler) {
	r := s.engine
	r.GET("/healthz", s.healthz)
	r.Static(s.cfg.Media.URLPrefix, s.avatars.Root())

	app := r.Group("/", s.loadAccount())
	app.GET("/", s.index)
	app.GET("/questions/:id", s.detail)
	app.GET("/questions/:id/results", s.results)
	app.POST("/questions/:id/vote", s.vote)

	app.GET("/register", s.registerForm)
	app.POST("/register", s.register)
	app.GET("/login", s.loginForm)
	app.POST("/login", s.login)
	app.POST("/logout", s.logout)

	auth := app.Group("/", s.loginRequired())
	auth.GET("/profile", s.profile)
	auth.GET("/profile/edit", s.profileEditForm)
	auth.POST("/profile/edit", s.profileEdit)

	if graphHandler != nil {
		app.GET(s.cfg.GraphQL.Path, gin.WrapH(graphHandler))
		app.POST(s.cfg.GraphQL.Path, gin.WrapH(graphHandler))
	}
}

func (s *Server) loadTemplates() error {
	funcs := s.templateFuncs()
	if s.cfg.Server.TemplateGlob != "" {
		s.engine.SetFuncMap(funcs)
		s.engine.LoadHTMLGlob(s.cfg.Server.TemplateGlob)
		return nil
	}

	tmpl, err := template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return fmt.Errorf("解析页面模板失败: %w", err)
	}
	s.engine.SetHTMLTemplate(tmpl)
	return nil
}

func (s *Server) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"avatarURL": s.avatars.URL,
		"percent": func(p float64) string {
			return strconv.FormatFloat(p, 'f', 1, 64)
		},
		"datetime": func(t time.Time) string {
			return t.Local().Format("2006-01-02 15:04")
		},
		"date": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format("2006-01-02")
		},
		"fieldError": func(errs service.FormErrors, field string) string {
			return errs.Get(field)
		},
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{}
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			slog.Warn("健康检查失败", "dependency", name, "error", err)
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
}

// render 渲染页面，附带当前账户与待显示的消息
func (s *Server) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["account"] = currentAccount(c)
	data["flashes"] = s.popFlashes(c)
	c.HTML(status, name, data)
}

func (s *Server) notFound(c *gin.Context) {
	s.render(c, http.StatusNotFound, "error.html", gin.H{"message": "页面不存在"})
}

func (s *Server) serverError(c *gin.Context, err error) {
	slog.Error("处理请求失败", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	s.render(c, http.StatusInternalServerError, "error.html", gin.H{"message": "服务器内部错误，请稍后重试"})
}
