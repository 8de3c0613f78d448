package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/lvdashuaibi/littlepolls/internal/service"
	"github.com/lvdashuaibi/littlepolls/internal/testutil"
)

func newTestServer(t *testing.T) (*GraphQLServer, *testutil.Store) {
	t.Helper()
	testutil.QuietLogs(t)

	store := testutil.NewStore()
	polls := service.NewPollService(store, testutil.NewCache(), config.PollsConfig{IndexPageSize: 5, ResultsCacheTTL: time.Minute})
	polls.SetClock(testutil.Clock(testutil.Now))
	votes := service.NewVoteService(store, polls, nil)
	votes.SetClock(testutil.Clock(testutil.Now))

	return NewGraphQLServer(polls, votes, "/graphql"), store
}

func exec(t *testing.T, srv *GraphQLServer, ctx context.Context, query string, vars map[string]interface{}, out interface{}) {
	t.Helper()
	resp := srv.Exec(ctx, query, vars)
	if len(resp.Errors) > 0 {
		t.Fatalf("query failed: %v", resp.Errors)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func id(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestActiveQuestionsQuery(t *testing.T) {
	srv, store := newTestServer(t)
	q, _ := store.AddQuestion("Tabs or spaces?", testutil.Now.Add(-time.Hour), 7, "tabs", "spaces")
	store.AddQuestion("Not yet", testutil.Now.Add(time.Hour), 7, "a", "b")

	var data struct {
		ActiveQuestions []struct {
			ID       string
			Text     string
			IsActive bool
			Choices  []struct{ Text string }
		}
	}
	exec(t, srv, context.Background(), `{ activeQuestions { id text isActive choices { text } } }`, nil, &data)

	if len(data.ActiveQuestions) != 1 {
		t.Fatalf("got %d questions, want 1", len(data.ActiveQuestions))
	}
	got := data.ActiveQuestions[0]
	if got.ID != id(q.ID) || !got.IsActive || len(got.Choices) != 2 || got.Choices[0].Text != "tabs" {
		t.Errorf("unexpected question: %+v", got)
	}
}

func TestVoteMutation(t *testing.T) {
	srv, store := newTestServer(t)
	q, cs := store.AddQuestion("Tabs or spaces?", testutil.Now.Add(-time.Hour), 7, "tabs", "spaces")
	alice := store.AddAccount("alice", "correct-horse", false)

	const mutation = `mutation($q: ID!, $c: ID!) { vote(questionId: $q, choiceId: $c) { success outcome message } }`
	vars := map[string]interface{}{"q": id(q.ID), "c": id(cs[1].ID)}

	type voteData struct {
		Vote struct {
			Success bool
			Outcome string
			Message string
		}
	}

	var anon voteData
	exec(t, srv, context.Background(), mutation, vars, &anon)
	if anon.Vote.Success || anon.Vote.Outcome != "login_required" {
		t.Errorf("anonymous vote = %+v", anon.Vote)
	}

	ctx := service.WithAccount(context.Background(), alice)
	var first voteData
	exec(t, srv, ctx, mutation, vars, &first)
	if !first.Vote.Success || first.Vote.Outcome != "recorded" {
		t.Errorf("first vote = %+v", first.Vote)
	}

	var second voteData
	exec(t, srv, ctx, mutation, vars, &second)
	if second.Vote.Success || second.Vote.Outcome != "already_voted" {
		t.Errorf("second vote = %+v", second.Vote)
	}
	if got := store.Choice(cs[1].ID).Votes; got != 1 {
		t.Errorf("votes = %d, want 1", got)
	}

	var missing voteData
	exec(t, srv, ctx, mutation, map[string]interface{}{"q": "424242", "c": "1"}, &missing)
	if missing.Vote.Outcome != "not_found" {
		t.Errorf("vote on missing question = %+v", missing.Vote)
	}

	var data struct {
		Results struct {
			Total   int
			Results []struct {
				Percent float64
				Choice  struct{ Text string }
			}
		}
		Question struct{ HasVoted bool }
	}
	exec(t, srv, ctx, `query($q: ID!) { results(questionId: $q) { total results { percent choice { text } } } question(id: $q) { hasVoted } }`,
		map[string]interface{}{"q": id(q.ID)}, &data)
	if data.Results.Total != 1 || data.Results.Results[1].Percent != 100 || data.Results.Results[0].Percent != 0 {
		t.Errorf("unexpected results: %+v", data.Results)
	}
	if !data.Question.HasVoted {
		t.Error("hasVoted = false after voting")
	}
}

func TestCreateQuestionMutation(t *testing.T) {
	srv, store := newTestServer(t)
	admin := store.AddAccount("admin", "correct-horse", true)
	member := store.AddAccount("bob", "correct-horse", false)

	const mutation = `mutation($in: NewQuestionInput!) {
		createQuestion(input: $in) { question { id text lifespanDays } errors { field messages } }
	}`
	input := map[string]interface{}{
		"text":         "Best editor?",
		"lifespanDays": float64(3),
		"choices":      []interface{}{"vim", "emacs"},
	}

	resp := srv.Exec(service.WithAccount(context.Background(), member), mutation, map[string]interface{}{"in": input})
	if len(resp.Errors) == 0 {
		t.Error("non-staff createQuestion must fail")
	}

	var data struct {
		CreateQuestion struct {
			Question *struct {
				ID           string
				Text         string
				LifespanDays int
			}
			Errors []struct {
				Field    string
				Messages []string
			}
		}
	}
	exec(t, srv, service.WithAccount(context.Background(), admin), mutation, map[string]interface{}{"in": input}, &data)
	if data.CreateQuestion.Question == nil || data.CreateQuestion.Question.LifespanDays != 3 || len(data.CreateQuestion.Errors) != 0 {
		t.Fatalf("unexpected response: %+v", data.CreateQuestion)
	}

	n, _ := strconv.ParseInt(data.CreateQuestion.Question.ID, 10, 64)
	choices, _ := store.ChoicesByQuestion(context.Background(), n)
	if len(choices) != 2 {
		t.Errorf("got %d choices, want 2", len(choices))
	}

	input["choices"] = []interface{}{"only one"}
	data.CreateQuestion.Question = nil
	exec(t, srv, service.WithAccount(context.Background(), admin), mutation, map[string]interface{}{"in": input}, &data)
	if data.CreateQuestion.Question != nil || len(data.CreateQuestion.Errors) != 1 || data.CreateQuestion.Errors[0].Field != "choices" {
		t.Errorf("expected choices error, got %+v", data.CreateQuestion)
	}
}

func TestMeQuery(t *testing.T) {
	srv, store := newTestServer(t)
	alice := store.AddAccount("alice", "correct-horse", false)

	var data struct {
		Me *struct{ Username string }
	}
	exec(t, srv, context.Background(), `{ me { username } }`, nil, &data)
	if data.Me != nil {
		t.Errorf("anonymous me = %+v, want null", data.Me)
	}

	exec(t, srv, service.WithAccount(context.Background(), alice), `{ me { username } }`, nil, &data)
	if data.Me == nil || data.Me.Username != "alice" {
		t.Errorf("me = %+v", data.Me)
	}
}

func TestServeHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	store.AddQuestion("Tabs or spaces?", testutil.Now.Add(-time.Hour), 7, "tabs", "spaces")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "endpoint: '/graphql'") {
		t.Errorf("playground = %d", rec.Code)
	}

	body := strings.NewReader(`{"query":"{ activeQuestions { text } }"}`)
	req := httptest.NewRequest(http.MethodPost, "/graphql", body)
	req = req.WithContext(service.WithAccount(req.Context(), &model.Account{ID: 1}))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Tabs or spaces?") {
		t.Errorf("POST /graphql = %d: %s", rec.Code, rec.Body.String())
	}
}
