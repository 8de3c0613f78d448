package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/lvdashuaibi/littlepolls/internal/repository"
)

// VoteOutcome 投票流程的结果，每次投票恰好产生其中之一
type VoteOutcome int

const (
	// VoteRecorded 投票已记录，选项票数加一
	VoteRecorded VoteOutcome = iota
	// VoteQuestionInactive 问题不在投票窗口内
	VoteQuestionInactive
	// VoteLoginRequired 未登录
	VoteLoginRequired
	// VoteInvalidChoice 未选择选项或选项不属于该问题
	VoteInvalidChoice
	// VoteAlreadyCast 该账户已对此问题投过票
	VoteAlreadyCast
)

func (o VoteOutcome) String() string {
	switch o {
	case VoteRecorded:
		return "recorded"
	case VoteQuestionInactive:
		return "inactive"
	case VoteLoginRequired:
		return "login_required"
	case VoteInvalidChoice:
		return "invalid_choice"
	case VoteAlreadyCast:
		return "already_voted"
	}
	return "unknown"
}

// VoteRequest 投票请求
type VoteRequest struct {
	QuestionID int64
	Account    *model.Account // 未登录时为nil
	ChoiceID   string         // 表单字段 choice 的原始值
}

type VoteService struct {
	store     PollStore
	polls     *PollService
	publisher EventPublisher
	now       func() time.Time
}

func NewVoteService(store PollStore, polls *PollService, publisher EventPublisher) *VoteService {
	return &VoteService{
		store:     store,
		polls:     polls,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetClock 替换时间来源，测试中使用
func (s *VoteService) SetClock(now func() time.Time) {
	s.now = now
}

// Vote 投票。检查顺序固定：投票窗口 -> 登录 -> 选项 -> 重复投票 -> 提交。
// 问题不存在时返回 ErrQuestionNotFound，其余error都是基础设施故障。
func (s *VoteService) Vote(ctx context.Context, req VoteRequest) (VoteOutcome, error) {
	question, err := s.store.QuestionByID(ctx, req.QuestionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrQuestionNotFound
		}
		return 0, fmt.Errorf("获取问题 %d 失败: %w", req.QuestionID, err)
	}

	now := s.now()
	if !question.IsActive(now) {
		return VoteQuestionInactive, nil
	}

	if req.Account == nil {
		return VoteLoginRequired, nil
	}

	choice, err := s.choice(ctx, question.ID, req.ChoiceID)
	if err != nil {
		return 0, err
	}
	if choice == nil {
		return VoteInvalidChoice, nil
	}

	vote := &model.Vote{
		AccountID:  req.Account.ID,
		QuestionID: question.ID,
		ChoiceID:   choice.ID,
		VotedAt:    now.UTC(),
	}
	if err := s.store.RecordVote(ctx, vote); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return VoteAlreadyCast, nil
		}
		return 0, fmt.Errorf("记录投票失败: %w", err)
	}

	// 结果页紧接着会被访问，先同步清除缓存
	s.polls.InvalidateResults(ctx, question.ID)

	if s.publisher != nil {
		event := &model.VoteEvent{
			QuestionID: vote.QuestionID,
			ChoiceID:   vote.ChoiceID,
			AccountID:  vote.AccountID,
			VotedAt:    vote.VotedAt,
		}
		if err := s.publisher.SendVoteEvent(ctx, event); err != nil {
			slog.Warn("发送投票事件到Kafka失败", "question_id", vote.QuestionID, "error", err)
		}
	}

	slog.Info("投票已记录", "question_id", vote.QuestionID, "choice_id", vote.ChoiceID, "account_id", vote.AccountID)
	return VoteRecorded, nil
}

// ProcessVoteEvent 处理投票事件（消费者使用），重新计算并预热统计缓存
func (s *VoteService) ProcessVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	if _, err := s.polls.RefreshResults(ctx, event.QuestionID); err != nil {
		if errors.Is(err, ErrQuestionNotFound) {
			slog.Warn("投票事件对应的问题已不存在", "question_id", event.QuestionID)
			return nil
		}
		return fmt.Errorf("处理投票事件刷新统计失败: %w", err)
	}
	return nil
}

// choice 解析并查找选项；缺失、格式错误或不属于该问题时返回nil
func (s *VoteService) choice(ctx context.Context, questionID int64, raw string) (*model.Choice, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	choiceID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, nil
	}

	choice, err := s.store.ChoiceByID(ctx, questionID, choiceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取选项 %d 失败: %w", choiceID, err)
	}
	return choice, nil
}
