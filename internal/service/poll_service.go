package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/lvdashuaibi/littlepolls/internal/repository"
)

const defaultLifespanDays = 7

type PollService struct {
	store    PollStore
	cache    ResultsCache
	pageSize int
	cacheTTL time.Duration
	now      func() time.Time
}

func NewPollService(store PollStore, cache ResultsCache, cfg config.PollsConfig) *PollService {
	return &PollService{
		store:    store,
		cache:    cache,
		pageSize: cfg.IndexPageSize,
		cacheTTL: cfg.ResultsCacheTTL,
		now:      time.Now,
	}
}

// SetClock 替换时间来源，测试中使用
func (s *PollService) SetClock(now func() time.Time) {
	s.now = now
}

// Now 返回服务当前时间
func (s *PollService) Now() time.Time {
	return s.now()
}

// QuestionDetail 问题详情
type QuestionDetail struct {
	Question *model.Question
	Choices  []*model.Choice
	IsActive bool
	HasVoted bool
}

// NewQuestion 创建问题的输入
type NewQuestion struct {
	Text         string     `form:"text" validate:"required,max=200"`
	LifespanDays int        `form:"lifespanDays" validate:"min=0,max=3650"`
	PubDate      *time.Time `form:"pubDate"`
	Choices      []string   `form:"choices" validate:"min=2,max=20,dive,required,max=200"`
}

// ActiveQuestions 获取处于投票窗口内的问题，按发布时间倒序；pageSize不大于0时不限制数量
func (s *PollService) ActiveQuestions(ctx context.Context) ([]*model.Question, error) {
	questions, err := s.store.ActiveQuestions(ctx, s.now(), s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("获取活跃问题失败: %w", err)
	}
	return questions, nil
}

// Question 获取问题详情；account为nil时HasVoted为false
func (s *PollService) Question(ctx context.Context, id int64, account *model.Account) (*QuestionDetail, error) {
	question, err := s.question(ctx, id)
	if err != nil {
		return nil, err
	}

	choices, err := s.store.ChoicesByQuestion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("获取问题 %d 选项失败: %w", id, err)
	}

	detail := &QuestionDetail{
		Question: question,
		Choices:  choices,
		IsActive: question.IsActive(s.now()),
	}
	if account != nil {
		if detail.HasVoted, err = s.store.HasVoted(ctx, account.ID, id); err != nil {
			return nil, fmt.Errorf("查询投票记录失败: %w", err)
		}
	}
	return detail, nil
}

// Results 获取问题统计结果，优先读取缓存
func (s *PollService) Results(ctx context.Context, id int64) (*model.QuestionResults, error) {
	if s.cache != nil {
		results, found, err := s.cache.GetResults(ctx, id)
		if err != nil {
			slog.Warn("读取统计缓存失败", "question_id", id, "error", err)
		}
		if found && results != nil {
			return results, nil
		}
	}
	return s.RefreshResults(ctx, id)
}

// RefreshResults 从主库重新计算统计结果并写入缓存。
// 计算期间有新投票时缓存版本已变化，本次结果不写入缓存。
func (s *PollService) RefreshResults(ctx context.Context, id int64) (*model.QuestionResults, error) {
	cacheable := s.cache != nil && s.cacheTTL > 0
	var version int64
	if cacheable {
		var err error
		if version, err = s.cache.ResultsVersion(ctx, id); err != nil {
			slog.Warn("读取统计缓存版本失败", "question_id", id, "error", err)
			cacheable = false
		}
	}

	question, err := s.question(ctx, id)
	if err != nil {
		return nil, err
	}

	choices, err := s.store.LatestChoices(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("获取问题 %d 选项失败: %w", id, err)
	}

	total, rows := Tally(choices)
	results := &model.QuestionResults{
		Question:   *question,
		Total:      total,
		Results:    rows,
		ComputedAt: s.now(),
	}

	if cacheable {
		stored, err := s.cache.SetResults(ctx, results, version, s.cacheTTL)
		if err != nil {
			slog.Warn("写入统计缓存失败", "question_id", id, "error", err)
		} else if !stored {
			slog.Debug("统计期间有新投票，跳过写入缓存", "question_id", id)
		}
	}
	return results, nil
}

// InvalidateResults 删除问题统计缓存并使进行中的刷新失效
func (s *PollService) InvalidateResults(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteResults(ctx, id); err != nil {
		slog.Warn("删除统计缓存失败", "question_id", id, "error", err)
	}
}

// CreateQuestion 创建问题，只有管理员可以调用
func (s *PollService) CreateQuestion(ctx context.Context, account *model.Account, input NewQuestion) (*model.Question, FormErrors, error) {
	if account == nil || !account.IsStaff {
		return nil, nil, ErrForbidden
	}

	input.Text = strings.TrimSpace(input.Text)
	for i := range input.Choices {
		input.Choices[i] = strings.TrimSpace(input.Choices[i])
	}
	if errs := validateForm(input); len(errs) > 0 {
		return nil, errs, nil
	}

	pubDate := s.now()
	if input.PubDate != nil {
		pubDate = *input.PubDate
	}
	lifespan := input.LifespanDays
	if lifespan == 0 {
		lifespan = defaultLifespanDays
	}

	question := &model.Question{
		Text:         input.Text,
		PubDate:      pubDate.UTC(),
		LifespanDays: lifespan,
	}
	choices := make([]*model.Choice, len(input.Choices))
	for i, text := range input.Choices {
		choices[i] = &model.Choice{Text: text, Position: i}
	}

	if err := s.store.CreateQuestion(ctx, question, choices); err != nil {
		return nil, nil, fmt.Errorf("创建问题失败: %w", err)
	}

	slog.Info("问题已创建", "question_id", question.ID, "account_id", account.ID, "choices", len(choices))
	return question, nil, nil
}

func (s *PollService) question(ctx context.Context, id int64) (*model.Question, error) {
	question, err := s.store.QuestionByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("获取问题 %d 失败: %w", id, err)
	}
	return question, nil
}

// Tally 统计总票数与每个选项的百分比。
// 百分比保留一位小数并按银行家舍入，总票数为0时全部为0，不做归一化。
func Tally(choices []*model.Choice) (int, []model.ChoiceResult) {
	total := 0
	for _, c := range choices {
		total += c.Votes
	}

	results := make([]model.ChoiceResult, 0, len(choices))
	for _, c := range choices {
		var percent float64
		if total > 0 {
			percent = math.RoundToEven(float64(c.Votes)/float64(total)*100*10) / 10
		}
		results = append(results, model.ChoiceResult{
			Choice:  *c,
			Percent: percent,
		})
	}
	return total, results
}
