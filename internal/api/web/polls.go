package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/littlepolls/internal/service"
)

const invalidChoiceMessage = "请选择一个选项。"

func questionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func resultsURL(id int64) string {
	return fmt.Sprintf("/questions/%d/results", id)
}

// index 最新的活跃问题
func (s *Server) index(c *gin.Context) {
	questions, err := s.polls.ActiveQuestions(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	s.render(c, http.StatusOK, "index.html", gin.H{"questions": questions})
}

func (s *Server) detail(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		s.notFound(c)
		return
	}

	detail, err := s.polls.Question(c.Request.Context(), id, currentAccount(c))
	if errors.Is(err, service.ErrQuestionNotFound) {
		s.notFound(c)
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	s.render(c, http.StatusOK, "detail.html", gin.H{"detail": detail})
}

func (s *Server) results(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		s.notFound(c)
		return
	}

	results, err := s.polls.Results(c.Request.Context(), id)
	if errors.Is(err, service.ErrQuestionNotFound) {
		s.notFound(c)
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	s.render(c, http.StatusOK, "results.html", gin.H{"results": results})
}

// vote 把投票结果翻译成跳转、提示消息或带错误的详情页
func (s *Server) vote(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		s.notFound(c)
		return
	}

	ctx := c.Request.Context()
	outcome, err := s.votes.Vote(ctx, service.VoteRequest{
		QuestionID: id,
		Account:    currentAccount(c),
		ChoiceID:   c.PostForm("choice"),
	})
	if errors.Is(err, service.ErrQuestionNotFound) {
		s.notFound(c)
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}

	switch outcome {
	case service.VoteQuestionInactive:
		s.addFlash(c, levelError, "该问题的投票已经结束。")
		c.Redirect(http.StatusFound, "/")
	case service.VoteLoginRequired:
		c.Redirect(http.StatusFound, loginURL(fmt.Sprintf("/questions/%d", id)))
	case service.VoteInvalidChoice:
		detail, err := s.polls.Question(ctx, id, nil)
		if err != nil {
			s.serverError(c, err)
			return
		}
		s.render(c, http.StatusOK, "detail.html", gin.H{
			"detail":       detail,
			"errorMessage": invalidChoiceMessage,
		})
	case service.VoteAlreadyCast:
		s.addFlash(c, levelWarning, "你已经在这个投票中投过票了。")
		c.Redirect(http.StatusFound, resultsURL(id))
	case service.VoteRecorded:
		c.Redirect(http.StatusFound, resultsURL(id))
	default:
		s.serverError(c, fmt.Errorf("未知的投票结果: %v", outcome))
	}
}
