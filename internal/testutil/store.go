package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/lvdashuaibi/littlepolls/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Store 内存版的问题与账户存储，行为与 repository.MySQLRepository 一致：
// 不存在返回 repository.ErrNotFound，违反唯一约束返回 repository.ErrConflict。
type Store struct {
	mu        sync.Mutex
	nextID    int64
	questions map[int64]*model.Question
	choices   map[int64]*model.Choice
	votes     []*model.Vote
	accounts  map[int64]*model.Account
	profiles  map[int64]*model.Profile

	// 非nil时对应操作直接返回该错误
	FailRecordVote   error
	FailQuestionByID error
}

func NewStore() *Store {
	return &Store{
		questions: make(map[int64]*model.Question),
		choices:   make(map[int64]*model.Choice),
		accounts:  make(map[int64]*model.Account),
		profiles:  make(map[int64]*model.Profile),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddQuestion 直接写入问题与选项
func (s *Store) AddQuestion(text string, pubDate time.Time, lifespanDays int, choices ...string) (*model.Question, []*model.Choice) {
	q := &model.Question{Text: text, PubDate: pubDate, LifespanDays: lifespanDays}
	cs := make([]*model.Choice, len(choices))
	for i, c := range choices {
		cs[i] = &model.Choice{Text: c, Position: i}
	}
	if err := s.CreateQuestion(context.Background(), q, cs); err != nil {
		panic(err)
	}
	return q, cs
}

// AddAccount 直接写入账户，密码以 bcrypt.MinCost 哈希
func (s *Store) AddAccount(username, password string, staff bool) *model.Account {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	a := &model.Account{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		IsStaff:      staff,
		DateJoined:   time.Now().UTC(),
	}
	if err := s.CreateAccountWithProfile(context.Background(), a, &model.Profile{}); err != nil {
		panic(err)
	}
	return a
}

// Choice 返回选项的当前快照
func (s *Store) Choice(id int64) *model.Choice {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.choices[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Votes 返回所有投票记录的快照
func (s *Store) Votes() []model.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Vote, len(s.votes))
	for i, v := range s.votes {
		out[i] = *v
	}
	return out
}

// AccountCount 返回账户数量
func (s *Store) AccountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func (s *Store) ActiveQuestions(ctx context.Context, now time.Time, limit int) ([]*model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Question
	for _, q := range s.questions {
		if q.IsActive(now) {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PubDate.Equal(out[j].PubDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].PubDate.After(out[j].PubDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) QuestionByID(ctx context.Context, id int64) (*model.Question, error) {
	if s.FailQuestionByID != nil {
		return nil, s.FailQuestionByID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *Store) ChoicesByQuestion(ctx context.Context, questionID int64) ([]*model.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Choice
	for _, c := range s.choices {
		if c.QuestionID == questionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

// LatestChoices 内存中没有主从之分，与 ChoicesByQuestion 相同
func (s *Store) LatestChoices(ctx context.Context, questionID int64) ([]*model.Choice, error) {
	return s.ChoicesByQuestion(ctx, questionID)
}

func (s *Store) ChoiceByID(ctx context.Context, questionID, choiceID int64) (*model.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.choices[choiceID]
	if !ok || c.QuestionID != questionID {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) HasVoted(ctx context.Context, accountID, questionID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.votes {
		if v.AccountID == accountID && v.QuestionID == questionID {
			return true, nil
		}
	}
	return false, nil
}

// RecordVote 写入投票并给选项加一，同一 (账户, 问题) 第二次写入返回 ErrConflict
func (s *Store) RecordVote(ctx context.Context, vote *model.Vote) error {
	if s.FailRecordVote != nil {
		return s.FailRecordVote
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.votes {
		if v.AccountID == vote.AccountID && v.QuestionID == vote.QuestionID {
			return repository.ErrConflict
		}
	}
	c, ok := s.choices[vote.ChoiceID]
	if !ok || c.QuestionID != vote.QuestionID {
		return repository.ErrNotFound
	}

	vote.ID = s.id()
	cp := *vote
	s.votes = append(s.votes, &cp)
	c.Votes++
	return nil
}

func (s *Store) CreateQuestion(ctx context.Context, question *model.Question, choices []*model.Choice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	question.ID = s.id()
	cp := *question
	s.questions[question.ID] = &cp
	for _, c := range choices {
		c.ID = s.id()
		c.QuestionID = question.ID
		cc := *c
		s.choices[c.ID] = &cc
	}
	return nil
}

func (s *Store) CreateAccountWithProfile(ctx context.Context, account *model.Account, profile *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usernameTaken(account.Username, 0) {
		return repository.ErrConflict
	}
	account.ID = s.id()
	profile.AccountID = account.ID
	a, p := *account, *profile
	s.accounts[account.ID] = &a
	s.profiles[account.ID] = &p
	return nil
}

func (s *Store) AccountByID(ctx context.Context, id int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) AccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, username) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ProfileByAccount(ctx context.Context, accountID int64) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdateAccountAndProfile(ctx context.Context, account *model.Account, profile *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return repository.ErrNotFound
	}
	if s.usernameTaken(account.Username, account.ID) {
		return repository.ErrConflict
	}
	profile.AccountID = account.ID
	a, p := *account, *profile
	s.accounts[account.ID] = &a
	s.profiles[account.ID] = &p
	return nil
}

// usernameTaken 用户名比较不区分大小写，与MySQL默认排序规则一致
func (s *Store) usernameTaken(username string, except int64) bool {
	for id, a := range s.accounts {
		if id != except && strings.EqualFold(a.Username, username) {
			return true
		}
	}
	return false
}

// Sessions 内存会话存储
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]int64
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]int64)}
}

func (s *Sessions) CreateSession(ctx context.Context, accountID int64, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := uuid.NewString()
	s.sessions[key] = accountID
	return key, nil
}

func (s *Sessions) SessionAccountID(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[key]
	return id, ok, nil
}

func (s *Sessions) DeleteSession(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Cache 内存统计结果缓存，带版本号，记录调用次数
type Cache struct {
	mu       sync.Mutex
	results  map[int64]*model.QuestionResults
	versions map[int64]int64
	Sets     int
	Rejected int // 因版本号变化未写入的次数
	Deletes  int
}

func NewCache() *Cache {
	return &Cache{
		results:  make(map[int64]*model.QuestionResults),
		versions: make(map[int64]int64),
	}
}

func (c *Cache) GetResults(ctx context.Context, questionID int64) (*model.QuestionResults, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[questionID]
	return r, ok, nil
}

func (c *Cache) ResultsVersion(ctx context.Context, questionID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[questionID], nil
}

func (c *Cache) SetResults(ctx context.Context, results *model.QuestionResults, version int64, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[results.Question.ID] != version {
		c.Rejected++
		return false, nil
	}
	c.results[results.Question.ID] = results
	c.Sets++
	return true, nil
}

func (c *Cache) DeleteResults(ctx context.Context, questionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[questionID]++
	delete(c.results, questionID)
	c.Deletes++
	return nil
}

// Publisher 记录发送的投票事件
type Publisher struct {
	mu     sync.Mutex
	Events []*model.VoteEvent
	Err    error
}

func (p *Publisher) SendVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, event)
	return nil
}
