package model

import (
	"time"
)

// Account 账户模型，由认证部分拥有
type Account struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsStaff      bool      `db:"is_staff" json:"isStaff"`
	DateJoined   time.Time `db:"date_joined" json:"dateJoined"`
}

// Profile 用户扩展资料，与账户一对一
type Profile struct {
	AccountID int64      `db:"account_id" json:"accountId"`
	Avatar    string     `db:"avatar" json:"avatar"`
	Bio       string     `db:"bio" json:"bio"`
	BirthDate *time.Time `db:"birth_date" json:"birthDate,omitempty"`
}

// Question 投票问题
type Question struct {
	ID           int64     `db:"id" json:"id"`
	Text         string    `db:"question_text" json:"text"`
	PubDate      time.Time `db:"pub_date" json:"pubDate"`
	LifespanDays int       `db:"lifespan_days" json:"lifespanDays"`
}

// Lifespan 问题可投票的时长
func (q *Question) Lifespan() time.Duration {
	return time.Duration(q.LifespanDays) * 24 * time.Hour
}

// ClosesAt 投票窗口结束时间
func (q *Question) ClosesAt() time.Time {
	return q.PubDate.Add(q.Lifespan())
}

// IsActive 判断now是否落在 [PubDate, PubDate+Lifespan] 区间内，两端都包含
func (q *Question) IsActive(now time.Time) bool {
	return !now.Before(q.PubDate) && !now.After(q.ClosesAt())
}

// Choice 问题的选项
type Choice struct {
	ID         int64  `db:"id" json:"id"`
	QuestionID int64  `db:"question_id" json:"questionId"`
	Text       string `db:"choice_text" json:"text"`
	Position   int    `db:"position" json:"position"`
	Votes      int    `db:"votes" json:"votes"`
}

// Vote 投票记录，每个 (账户, 问题) 至多一条
type Vote struct {
	ID         int64     `db:"id" json:"id"`
	AccountID  int64     `db:"account_id" json:"accountId"`
	QuestionID int64     `db:"question_id" json:"questionId"`
	ChoiceID   int64     `db:"choice_id" json:"choiceId"`
	VotedAt    time.Time `db:"voted_at" json:"votedAt"`
}

// ChoiceResult 单个选项的统计结果
type ChoiceResult struct {
	Choice  Choice  `json:"choice"`
	Percent float64 `json:"percent"`
}

// QuestionResults 问题的统计结果，会被缓存到Redis
type QuestionResults struct {
	Question   Question       `json:"question"`
	Total      int            `json:"total"`
	Results    []ChoiceResult `json:"results"`
	ComputedAt time.Time      `json:"computedAt"`
}

// VoteEvent Kafka投票事件
type VoteEvent struct {
	QuestionID int64     `json:"questionId"`
	ChoiceID   int64     `json:"choiceId"`
	AccountID  int64     `json:"accountId"`
	VotedAt    time.Time `json:"votedAt"`
}
