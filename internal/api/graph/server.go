package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/littlepolls/internal/service"
)

// GraphQLServer GraphQL服务器
type GraphQLServer struct {
	schema     *graphql.Schema
	handler    *relay.Handler
	playground string
}

// GraphQL Schema定义
const schemaString = `
type Choice {
  id: ID!
  text: String!
  votes: Int!
}

type Question {
  id: ID!
  text: String!
  pubDate: String!
  closesAt: String!
  lifespanDays: Int!
  isActive: Boolean!
  choices: [Choice!]!
  hasVoted: Boolean!
}

type ChoiceResult {
  choice: Choice!
  percent: Float!
}

type Results {
  question: Question!
  total: Int!
  results: [ChoiceResult!]!
  computedAt: String!
}

type Account {
  id: ID!
  username: String!
  email: String!
  isStaff: Boolean!
  dateJoined: String!
}

type VoteResponse {
  success: Boolean!
  outcome: String!
  message: String!
}

type FieldError {
  field: String!
  messages: [String!]!
}

type CreateQuestionResponse {
  question: Question
  errors: [FieldError!]!
}

input NewQuestionInput {
  text: String!
  lifespanDays: Int
  pubDate: String
  choices: [String!]!
}

type Query {
  # 正在投票的问题
  activeQuestions: [Question!]!

  # 问题详情
  question(id: ID!): Question

  # 统计结果
  results(questionId: ID!): Results

  # 当前登录账户
  me: Account
}

type Mutation {
  # 投票
  vote(questionId: ID!, choiceId: ID!): VoteResponse!

  # 创建问题（管理员）
  createQuestion(input: NewQuestionInput!): CreateQuestionResponse!
}

schema {
  query: Query
  mutation: Mutation
}
`

// NewGraphQLServer 创建新的GraphQL服务器，path为Playground请求的端点
func NewGraphQLServer(polls *service.PollService, votes *service.VoteService, path string) *GraphQLServer {
	resolver := NewResolver(polls, votes)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	return &GraphQLServer{
		schema:     schema,
		handler:    &relay.Handler{Schema: schema},
		playground: strings.ReplaceAll(playgroundHTML, "{{endpoint}}", path),
	}
}

// ServeHTTP GET返回Playground，POST执行查询
func (s *GraphQLServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(s.playground))
		return
	}
	s.handler.ServeHTTP(w, r)
}

// Exec 直接执行查询
func (s *GraphQLServer) Exec(ctx context.Context, query string, variables map[string]interface{}) *graphql.Response {
	return s.schema.Exec(ctx, query, "", variables)
}

// Resolver GraphQL解析器
type Resolver struct {
	polls *service.PollService
	votes *service.VoteService
}

// NewResolver 创建新的解析器
func NewResolver(polls *service.PollService, votes *service.VoteService) *Resolver {
	return &Resolver{polls: polls, votes: votes}
}

// ActiveQuestions 获取正在投票的问题
func (r *Resolver) ActiveQuestions(ctx context.Context) ([]*QuestionResolver, error) {
	questions, err := r.polls.ActiveQuestions(ctx)
	if err != nil {
		return nil, err
	}

	resolvers := make([]*QuestionResolver, len(questions))
	for i, q := range questions {
		resolvers[i] = &QuestionResolver{question: q, polls: r.polls}
	}
	return resolvers, nil
}

// Question 获取问题详情，不存在时返回null
func (r *Resolver) Question(ctx context.Context, args struct{ ID graphql.ID }) (*QuestionResolver, error) {
	id, err := parseID(args.ID)
	if err != nil {
		return nil, err
	}

	detail, err := r.polls.Question(ctx, id, service.AccountFromContext(ctx))
	if errors.Is(err, service.ErrQuestionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &QuestionResolver{question: detail.Question, polls: r.polls, detail: detail}, nil
}

// Results 获取统计结果，问题不存在时返回null
func (r *Resolver) Results(ctx context.Context, args struct{ QuestionID graphql.ID }) (*ResultsResolver, error) {
	id, err := parseID(args.QuestionID)
	if err != nil {
		return nil, err
	}

	results, err := r.polls.Results(ctx, id)
	if errors.Is(err, service.ErrQuestionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ResultsResolver{results: results, polls: r.polls}, nil
}

// Me 当前登录账户，未登录时返回null
func (r *Resolver) Me(ctx context.Context) *AccountResolver {
	account := service.AccountFromContext(ctx)
	if account == nil {
		return nil
	}
	return &AccountResolver{account: account}
}

// Vote 投票，业务结果通过outcome返回而不是error
func (r *Resolver) Vote(ctx context.Context, args struct {
	QuestionID graphql.ID
	ChoiceID   graphql.ID
}) (*VoteResponse, error) {
	id, err := parseID(args.QuestionID)
	if err != nil {
		return nil, err
	}

	outcome, err := r.votes.Vote(ctx, service.VoteRequest{
		QuestionID: id,
		Account:    service.AccountFromContext(ctx),
		ChoiceID:   string(args.ChoiceID),
	})
	if errors.Is(err, service.ErrQuestionNotFound) {
		return &VoteResponse{Outcome: "not_found", Message: "问题不存在"}, nil
	}
	if err != nil {
		return nil, err
	}

	return &VoteResponse{
		Success: outcome == service.VoteRecorded,
		Outcome: outcome.String(),
		Message: voteMessages[outcome],
	}, nil
}

var voteMessages = map[service.VoteOutcome]string{
	service.VoteRecorded:         "投票成功",
	service.VoteQuestionInactive: "该问题的投票已经结束。",
	service.VoteLoginRequired:    "请先登录",
	service.VoteInvalidChoice:    "请选择一个选项。",
	service.VoteAlreadyCast:      "你已经在这个投票中投过票了。",
}

// CreateQuestion 创建问题，只有管理员可以调用
func (r *Resolver) CreateQuestion(ctx context.Context, args struct{ Input NewQuestionInput }) (*CreateQuestionResponse, error) {
	input := service.NewQuestion{
		Text:    args.Input.Text,
		Choices: args.Input.Choices,
	}
	if args.Input.LifespanDays != nil {
		input.LifespanDays = int(*args.Input.LifespanDays)
	}
	if args.Input.PubDate != nil {
		pubDate, err := time.Parse(time.RFC3339, *args.Input.PubDate)
		if err != nil {
			return &CreateQuestionResponse{errors: service.FormErrors{"pubDate": {"时间格式应为 RFC3339"}}}, nil
		}
		input.PubDate = &pubDate
	}

	question, errs, err := r.polls.CreateQuestion(ctx, service.AccountFromContext(ctx), input)
	if err != nil {
		return nil, err
	}
	if errs != nil {
		return &CreateQuestionResponse{errors: errs}, nil
	}
	return &CreateQuestionResponse{question: &QuestionResolver{question: question, polls: r.polls}}, nil
}

func parseID(id graphql.ID) (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("无效的ID: %q", id)
	}
	return n, nil
}

// NewQuestionInput 创建问题输入类型
type NewQuestionInput struct {
	Text         string
	LifespanDays *int32
	PubDate      *string
	Choices      []string
}

// VoteResponse 投票响应
type VoteResponse struct {
	Success bool
	Outcome string
	Message string
}

// CreateQuestionResponse 创建问题响应
type CreateQuestionResponse struct {
	question *QuestionResolver
	errors   service.FormErrors
}

func (r *CreateQuestionResponse) Question() *QuestionResolver {
	return r.question
}

func (r *CreateQuestionResponse) Errors() []*FieldError {
	fields := make([]string, 0, len(r.errors))
	for f := range r.errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]*FieldError, len(fields))
	for i, f := range fields {
		out[i] = &FieldError{Field: f, Messages: r.errors[f]}
	}
	return out
}

// FieldError 表单字段错误
type FieldError struct {
	Field    string
	Messages []string
}
