package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/littlepolls/internal/service"
)

func (s *Server) registerForm(c *gin.Context) {
	s.render(c, http.StatusOK, "register.html", gin.H{"form": service.Registration{}})
}

// register 注册成功后直接登录并回到首页
func (s *Server) register(c *gin.Context) {
	var form service.Registration
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, "register.html", gin.H{
			"form":   form,
			"errors": service.FormErrors{"__all__": {"表单解析失败: " + err.Error()}},
		})
		return
	}

	ctx := c.Request.Context()
	account, errs, err := s.accounts.Register(ctx, form)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if errs != nil {
		s.render(c, http.StatusOK, "register.html", gin.H{"form": form, "errors": errs})
		return
	}

	key, err := s.accounts.StartSession(ctx, account)
	if err != nil {
		s.serverError(c, err)
		return
	}
	s.setSessionCookie(c, key)
	s.addFlash(c, levelSuccess, "注册成功！")
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) loginForm(c *gin.Context) {
	s.render(c, http.StatusOK, "login.html", gin.H{"next": safeNext(c.Query("next"))})
}

func (s *Server) login(c *gin.Context) {
	username := c.PostForm("username")
	next := safeNext(c.PostForm("next"))

	ctx := c.Request.Context()
	account, err := s.accounts.Authenticate(ctx, username, c.PostForm("password"))
	if errors.Is(err, service.ErrInvalidCredentials) {
		s.render(c, http.StatusOK, "login.html", gin.H{
			"next":         next,
			"username":     username,
			"errorMessage": "用户名或密码错误。",
		})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}

	key, err := s.accounts.StartSession(ctx, account)
	if err != nil {
		s.serverError(c, err)
		return
	}
	s.setSessionCookie(c, key)
	c.Redirect(http.StatusFound, next)
}

func (s *Server) logout(c *gin.Context) {
	key, _ := c.Cookie(s.cfg.Session.CookieName)
	if err := s.accounts.EndSession(c.Request.Context(), key); err != nil {
		s.serverError(c, err)
		return
	}
	s.clearSessionCookie(c)
	s.addFlash(c, levelInfo, "你已退出登录。")
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) profile(c *gin.Context) {
	account, profile, err := s.accounts.Profile(c.Request.Context(), currentAccount(c).ID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	s.render(c, http.StatusOK, "profile.html", gin.H{"user": account, "profile": profile})
}

func (s *Server) profileEditForm(c *gin.Context) {
	account, profile, err := s.accounts.Profile(c.Request.Context(), currentAccount(c).ID)
	if err != nil {
		s.serverError(c, err)
		return
	}

	form := service.ProfileUpdate{
		Username: account.Username,
		Email:    account.Email,
		Bio:      profile.Bio,
	}
	if profile.BirthDate != nil {
		form.BirthDate = profile.BirthDate.Format("2006-01-02")
	}
	s.render(c, http.StatusOK, "profile_edit.html", gin.H{"form": form, "profile": profile})
}

// profileEdit 同时保存账户与资料字段，未上传头像时保留原头像
func (s *Server) profileEdit(c *gin.Context) {
	var form service.ProfileUpdate
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, "profile_edit.html", gin.H{
			"form":   form,
			"errors": service.FormErrors{"__all__": {"表单解析失败: " + err.Error()}},
		})
		return
	}

	ctx := c.Request.Context()
	errs, err := s.accounts.UpdateProfile(ctx, currentAccount(c), form)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if errs != nil {
		_, profile, err := s.accounts.Profile(ctx, currentAccount(c).ID)
		if err != nil {
			s.serverError(c, err)
			return
		}
		s.render(c, http.StatusOK, "profile_edit.html", gin.H{"form": form, "profile": profile, "errors": errs})
		return
	}

	s.addFlash(c, levelSuccess, "资料已更新。")
	c.Redirect(http.StatusFound, "/profile")
}
