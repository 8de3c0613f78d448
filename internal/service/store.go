package service

import (
	"context"
	"mime/multipart"
	"time"

	"github.com/lvdashuaibi/littlepolls/internal/model"
)

// PollStore 问题、选项与投票记录存储，由 repository.MySQLRepository 实现
type PollStore interface {
	ActiveQuestions(ctx context.Context, now time.Time, limit int) ([]*model.Question, error)
	QuestionByID(ctx context.Context, id int64) (*model.Question, error)
	ChoicesByQuestion(ctx context.Context, questionID int64) ([]*model.Choice, error)
	// LatestChoices 从主库读取选项与票数，用于写入统计缓存
	LatestChoices(ctx context.Context, questionID int64) ([]*model.Choice, error)
	ChoiceByID(ctx context.Context, questionID, choiceID int64) (*model.Choice, error)
	HasVoted(ctx context.Context, accountID, questionID int64) (bool, error)
	RecordVote(ctx context.Context, vote *model.Vote) error
	CreateQuestion(ctx context.Context, question *model.Question, choices []*model.Choice) error
}

// AccountStore 账户与资料存储，由 repository.MySQLRepository 实现
type AccountStore interface {
	CreateAccountWithProfile(ctx context.Context, account *model.Account, profile *model.Profile) error
	AccountByID(ctx context.Context, id int64) (*model.Account, error)
	AccountByUsername(ctx context.Context, username string) (*model.Account, error)
	ProfileByAccount(ctx context.Context, accountID int64) (*model.Profile, error)
	UpdateAccountAndProfile(ctx context.Context, account *model.Account, profile *model.Profile) error
}

// SessionStore 会话存储，由 repository.RedisRepository 实现
type SessionStore interface {
	CreateSession(ctx context.Context, accountID int64, ttl time.Duration) (string, error)
	SessionAccountID(ctx context.Context, key string) (int64, bool, error)
	DeleteSession(ctx context.Context, key string) error
}

// ResultsCache 统计结果缓存，由 repository.RedisRepository 实现。
// 每个问题有一个版本号，DeleteResults 使版本号加一；
// SetResults 只在版本号仍等于计算前读到的值时写入，返回是否写入。
type ResultsCache interface {
	GetResults(ctx context.Context, questionID int64) (*model.QuestionResults, bool, error)
	ResultsVersion(ctx context.Context, questionID int64) (int64, error)
	SetResults(ctx context.Context, results *model.QuestionResults, version int64, ttl time.Duration) (bool, error)
	DeleteResults(ctx context.Context, questionID int64) error
}

// EventPublisher 投票事件发布，由 kafka.Producer 实现
type EventPublisher interface {
	SendVoteEvent(ctx context.Context, event *model.VoteEvent) error
}

// AvatarStore 头像文件存储，由 media.AvatarStore 实现
type AvatarStore interface {
	Save(ctx context.Context, file *multipart.FileHeader) (string, error)
	Delete(ctx context.Context, name string) error
}
