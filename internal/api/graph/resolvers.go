package graph

import (
	"context"
	"strconv"
	"sync"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/lvdashuaibi/littlepolls/internal/service"
)

func toID(id int64) graphql.ID {
	return graphql.ID(strconv.FormatInt(id, 10))
}

// QuestionResolver 问题解析器，选项和投票状态按需加载
type QuestionResolver struct {
	question *model.Question
	polls    *service.PollService

	once   sync.Once
	detail *service.QuestionDetail
	err    error
}

func (r *QuestionResolver) load(ctx context.Context) (*service.QuestionDetail, error) {
	r.once.Do(func() {
		if r.detail != nil {
			return
		}
		r.detail, r.err = r.polls.Question(ctx, r.question.ID, service.AccountFromContext(ctx))
	})
	return r.detail, r.err
}

func (r *QuestionResolver) ID() graphql.ID {
	return toID(r.question.ID)
}

func (r *QuestionResolver) Text() string {
	return r.question.Text
}

func (r *QuestionResolver) PubDate() string {
	return r.question.PubDate.Format(time.RFC3339)
}

func (r *QuestionResolver) ClosesAt() string {
	return r.question.ClosesAt().Format(time.RFC3339)
}

func (r *QuestionResolver) LifespanDays() int32 {
	return int32(r.question.LifespanDays)
}

func (r *QuestionResolver) IsActive() bool {
	return r.question.IsActive(r.polls.Now())
}

func (r *QuestionResolver) Choices(ctx context.Context) ([]*ChoiceResolver, error) {
	detail, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	resolvers := make([]*ChoiceResolver, len(detail.Choices))
	for i, c := range detail.Choices {
		resolvers[i] = &ChoiceResolver{choice: *c}
	}
	return resolvers, nil
}

func (r *QuestionResolver) HasVoted(ctx context.Context) (bool, error) {
	detail, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	return detail.HasVoted, nil
}

// ChoiceResolver 选项解析器
type ChoiceResolver struct {
	choice model.Choice
}

func (r *ChoiceResolver) ID() graphql.ID {
	return toID(r.choice.ID)
}

func (r *ChoiceResolver) Text() string {
	return r.choice.Text
}

func (r *ChoiceResolver) Votes() int32 {
	return int32(r.choice.Votes)
}

// ResultsResolver 统计结果解析器
type ResultsResolver struct {
	results *model.QuestionResults
	polls   *service.PollService
}

func (r *ResultsResolver) Question() *QuestionResolver {
	q := r.results.Question
	return &QuestionResolver{question: &q, polls: r.polls}
}

func (r *ResultsResolver) Total() int32 {
	return int32(r.results.Total)
}

func (r *ResultsResolver) Results() []*ChoiceResultResolver {
	resolvers := make([]*ChoiceResultResolver, len(r.results.Results))
	for i, res := range r.results.Results {
		resolvers[i] = &ChoiceResultResolver{result: res}
	}
	return resolvers
}

func (r *ResultsResolver) ComputedAt() string {
	return r.results.ComputedAt.Format(time.RFC3339)
}

// ChoiceResultResolver 单个选项统计解析器
type ChoiceResultResolver struct {
	result model.ChoiceResult
}

func (r *ChoiceResultResolver) Choice() *ChoiceResolver {
	return &ChoiceResolver{choice: r.result.Choice}
}

func (r *ChoiceResultResolver) Percent() float64 {
	return r.result.Percent
}

// AccountResolver 账户解析器
type AccountResolver struct {
	account *model.Account
}

func (r *AccountResolver) ID() graphql.ID {
	return toID(r.account.ID)
}

func (r *AccountResolver) Username() string {
	return r.account.Username
}

func (r *AccountResolver) Email() string {
	return r.account.Email
}

func (r *AccountResolver) IsStaff() bool {
	return r.account.IsStaff
}

func (r *AccountResolver) DateJoined() string {
	return r.account.DateJoined.Format(time.RFC3339)
}

// playgroundHTML GraphQL Playground HTML
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Little Polls GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root"></div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '{{endpoint}}',
        settings: { 'request.credentials': 'same-origin' }
      })
    })</script>
</body>
</html>
`
