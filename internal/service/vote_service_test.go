package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/lvdashuaibi/littlepolls/internal/testutil"
)

type voteFixture struct {
	votes     *VoteService
	polls     *PollService
	store     *testutil.Store
	cache     *testutil.Cache
	publisher *testutil.Publisher
	question  *model.Question
	choices   []*model.Choice
	alice     *model.Account
}

func newVoteFixture(t *testing.T) *voteFixture {
	t.Helper()
	testutil.QuietLogs(t)

	store := testutil.NewStore()
	cache := testutil.NewCache()
	publisher := &testutil.Publisher{}

	polls := NewPollService(store, cache, config.PollsConfig{IndexPageSize: 5, ResultsCacheTTL: time.Minute})
	polls.SetClock(testutil.Clock(testutil.Now))
	votes := NewVoteService(store, polls, publisher)
	votes.SetClock(testutil.Clock(testutil.Now))

	q, choices := store.AddQuestion("Tabs or spaces?", testutil.Now.Add(-24*time.Hour), 7, "tabs", "spaces")
	return &voteFixture{
		votes:     votes,
		polls:     polls,
		store:     store,
		cache:     cache,
		publisher: publisher,
		question:  q,
		choices:   choices,
		alice:     store.AddAccount("alice", "correct-horse", false),
	}
}

func choiceParam(c *model.Choice) string {
	return strconv.FormatInt(c.ID, 10)
}

func TestVoteRecorded(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	// 预先放入缓存，投票后应被清除
	if _, err := f.polls.Results(ctx, f.question.ID); err != nil {
		t.Fatalf("Results failed: %v", err)
	}

	outcome, err := f.votes.Vote(ctx, VoteRequest{
		QuestionID: f.question.ID,
		Account:    f.alice,
		ChoiceID:   choiceParam(f.choices[1]),
	})
	if err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if outcome != VoteRecorded {
		t.Fatalf("outcome = %v, want %v", outcome, VoteRecorded)
	}

	if got := f.store.Choice(f.choices[1].ID).Votes; got != 1 {
		t.Errorf("spaces votes = %d, want 1", got)
	}
	if got := f.store.Choice(f.choices[0].ID).Votes; got != 0 {
		t.Errorf("tabs votes = %d, want 0", got)
	}

	votes := f.store.Votes()
	if len(votes) != 1 || votes[0].AccountID != f.alice.ID || votes[0].ChoiceID != f.choices[1].ID || !votes[0].VotedAt.Equal(testutil.Now) {
		t.Errorf("unexpected vote records: %+v", votes)
	}

	if _, found, _ := f.cache.GetResults(ctx, f.question.ID); found {
		t.Error("results cache must be invalidated after a vote")
	}

	if len(f.publisher.Events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.publisher.Events))
	}
	if e := f.publisher.Events[0]; e.QuestionID != f.question.ID || e.ChoiceID != f.choices[1].ID || e.AccountID != f.alice.ID {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestVoteOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *voteFixture) VoteRequest
		want    VoteOutcome
		mutates bool
	}{
		{
			name: "inactive question checked before login",
			setup: func(f *voteFixture) VoteRequest {
				q, _ := f.store.AddQuestion("future", testutil.Now.Add(time.Hour), 7, "a", "b")
				return VoteRequest{QuestionID: q.ID, ChoiceID: "garbage"}
			},
			want: VoteQuestionInactive,
		},
		{
			name: "expired question",
			setup: func(f *voteFixture) VoteRequest {
				q, cs := f.store.AddQuestion("expired", testutil.Now.Add(-8*24*time.Hour), 7, "a", "b")
				return VoteRequest{QuestionID: q.ID, Account: f.alice, ChoiceID: choiceParam(cs[0])}
			},
			want: VoteQuestionInactive,
		},
		{
			name: "closing instant is still open",
			setup: func(f *voteFixture) VoteRequest {
				q, cs := f.store.AddQuestion("closing", testutil.Now.Add(-7*24*time.Hour), 7, "a", "b")
				return VoteRequest{QuestionID: q.ID, Account: f.alice, ChoiceID: choiceParam(cs[0])}
			},
			want:    VoteRecorded,
			mutates: true,
		},
		{
			name: "opening instant is open",
			setup: func(f *voteFixture) VoteRequest {
				q, cs := f.store.AddQuestion("opening", testutil.Now, 1, "a", "b")
				return VoteRequest{QuestionID: q.ID, Account: f.alice, ChoiceID: choiceParam(cs[1])}
			},
			want:    VoteRecorded,
			mutates: true,
		},
		{
			name: "login checked before choice",
			setup: func(f *voteFixture) VoteRequest {
				return VoteRequest{QuestionID: f.question.ID}
			},
			want: VoteLoginRequired,
		},
		{
			name: "missing choice",
			setup: func(f *voteFixture) VoteRequest {
				return VoteRequest{QuestionID: f.question.ID, Account: f.alice}
			},
			want: VoteInvalidChoice,
		},
		{
			name: "malformed choice",
			setup: func(f *voteFixture) VoteRequest {
				return VoteRequest{QuestionID: f.question.ID, Account: f.alice, ChoiceID: "abc"}
			},
			want: VoteInvalidChoice,
		},
		{
			name: "unknown choice",
			setup: func(f *voteFixture) VoteRequest {
				return VoteRequest{QuestionID: f.question.ID, Account: f.alice, ChoiceID: "99999"}
			},
			want: VoteInvalidChoice,
		},
		{
			name: "choice of another question",
			setup: func(f *voteFixture) VoteRequest {
				_, cs := f.store.AddQuestion("other", testutil.Now.Add(-time.Hour), 7, "x", "y")
				return VoteRequest{QuestionID: f.question.ID, Account: f.alice, ChoiceID: choiceParam(cs[0])}
			},
			want: VoteInvalidChoice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newVoteFixture(t)
			req := tt.setup(f)

			outcome, err := f.votes.Vote(context.Background(), req)
			if err != nil {
				t.Fatalf("Vote failed: %v", err)
			}
			if outcome != tt.want {
				t.Errorf("outcome = %v, want %v", outcome, tt.want)
			}

			recorded := len(f.store.Votes()) > 0
			if recorded != tt.mutates {
				t.Errorf("vote recorded = %v, want %v", recorded, tt.mutates)
			}
			if published := len(f.publisher.Events) > 0; published != tt.mutates {
				t.Errorf("event published = %v, want %v", published, tt.mutates)
			}
		})
	}
}

func TestVoteAlreadyCast(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	first, err := f.votes.Vote(ctx, VoteRequest{QuestionID: f.question.ID, Account: f.alice, ChoiceID: choiceParam(f.choices[0])})
	if err != nil || first != VoteRecorded {
		t.Fatalf("first vote = %v, %v", first, err)
	}

	second, err := f.votes.Vote(ctx, VoteRequest{QuestionID: f.question.ID, Account: f.alice, ChoiceID: choiceParam(f.choices[1])})
	if err != nil {
		t.Fatalf("second vote failed: %v", err)
	}
	if second != VoteAlreadyCast {
		t.Errorf("second outcome = %v, want %v", second, VoteAlreadyCast)
	}

	if got := f.store.Choice(f.choices[0].ID).Votes; got != 1 {
		t.Errorf("tabs votes = %d, want 1", got)
	}
	if got := f.store.Choice(f.choices[1].ID).Votes; got != 0 {
		t.Errorf("spaces votes = %d, want 0", got)
	}
	if len(f.publisher.Events) != 1 {
		t.Errorf("published %d events, want 1", len(f.publisher.Events))
	}
}

func TestVoteConcurrentSameAccount(t *testing.T) {
	f := newVoteFixture(t)

	const attempts = 20
	var wg sync.WaitGroup
	outcomes := make([]VoteOutcome, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = f.votes.Vote(context.Background(), VoteRequest{
				QuestionID: f.question.ID,
				Account:    f.alice,
				ChoiceID:   choiceParam(f.choices[i%2]),
			})
		}(i)
	}
	wg.Wait()

	recorded := 0
	for _, o := range outcomes {
		switch o {
		case VoteRecorded:
			recorded++
		case VoteAlreadyCast:
		default:
			t.Errorf("unexpected outcome %v", o)
		}
	}
	if recorded != 1 {
		t.Errorf("recorded %d votes, want exactly 1", recorded)
	}

	total := f.store.Choice(f.choices[0].ID).Votes + f.store.Choice(f.choices[1].ID).Votes
	if total != 1 {
		t.Errorf("total votes = %d, want 1", total)
	}
}

func TestVoteQuestionNotFound(t *testing.T) {
	f := newVoteFixture(t)

	_, err := f.votes.Vote(context.Background(), VoteRequest{QuestionID: 424242, Account: f.alice, ChoiceID: "1"})
	if !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestVoteStoreFailure(t *testing.T) {
	f := newVoteFixture(t)
	boom := errors.New("connection reset")
	f.store.FailRecordVote = boom

	_, err := f.votes.Vote(context.Background(), VoteRequest{QuestionID: f.question.ID, Account: f.alice, ChoiceID: choiceParam(f.choices[0])})
	if !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
	if len(f.publisher.Events) != 0 {
		t.Error("failed vote must not publish an event")
	}
}

func TestVotePublishFailureIsNotFatal(t *testing.T) {
	f := newVoteFixture(t)
	f.publisher.Err = errors.New("broker down")

	outcome, err := f.votes.Vote(context.Background(), VoteRequest{QuestionID: f.question.ID, Account: f.alice, ChoiceID: choiceParam(f.choices[0])})
	if err != nil || outcome != VoteRecorded {
		t.Errorf("Vote = %v, %v; want recorded", outcome, err)
	}
}

func TestProcessVoteEvent(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	f.votes.Vote(ctx, VoteRequest{QuestionID: f.question.ID, Account: f.alice, ChoiceID: choiceParam(f.choices[0])})

	if err := f.votes.ProcessVoteEvent(ctx, &model.VoteEvent{QuestionID: f.question.ID}); err != nil {
		t.Fatalf("ProcessVoteEvent failed: %v", err)
	}
	res, found, _ := f.cache.GetResults(ctx, f.question.ID)
	if !found {
		t.Fatal("results cache not warmed")
	}
	if res.Total != 1 || res.Results[0].Percent != 100 {
		t.Errorf("unexpected cached results: %+v", res)
	}

	if err := f.votes.ProcessVoteEvent(ctx, &model.VoteEvent{QuestionID: 987654}); err != nil {
		t.Errorf("event for deleted question must be skipped, got %v", err)
	}
}

func TestVoteOutcomeString(t *testing.T) {
	if VoteAlreadyCast.String() != "already_voted" || VoteOutcome(42).String() != "unknown" {
		t.Error("unexpected outcome names")
	}
}

// interleavedStore 在第一次读取最新票数之后执行afterRead，模拟刷新统计期间有投票提交
type interleavedStore struct {
	*testutil.Store
	afterRead func()
}

func (s *interleavedStore) LatestChoices(ctx context.Context, questionID int64) ([]*model.Choice, error) {
	choices, err := s.Store.LatestChoices(ctx, questionID)
	if fn := s.afterRead; fn != nil {
		s.afterRead = nil
		fn()
	}
	return choices, err
}

func TestVoteDuringRefreshDoesNotLeaveStaleResults(t *testing.T) {
	testutil.QuietLogs(t)
	ctx := context.Background()

	base := testutil.NewStore()
	q, choices := base.AddQuestion("Tabs or spaces?", testutil.Now.Add(-time.Hour), 7, "tabs", "spaces")
	alice := base.AddAccount("alice", "correct-horse", false)

	store := &interleavedStore{Store: base}
	cache := testutil.NewCache()
	polls := NewPollService(store, cache, config.PollsConfig{ResultsCacheTTL: time.Minute})
	polls.SetClock(testutil.Clock(testutil.Now))
	votes := NewVoteService(store, polls, nil)
	votes.SetClock(testutil.Clock(testutil.Now))

	store.afterRead = func() {
		outcome, err := votes.Vote(ctx, VoteRequest{QuestionID: q.ID, Account: alice, ChoiceID: choiceParam(choices[0])})
		if err != nil || outcome != VoteRecorded {
			t.Fatalf("Vote = %v, %v; want recorded", outcome, err)
		}
	}

	before, err := polls.RefreshResults(ctx, q.ID)
	if err != nil {
		t.Fatalf("RefreshResults failed: %v", err)
	}
	if store.afterRead != nil {
		t.Fatal("vote was not interleaved with the refresh")
	}
	if before.Total != 0 {
		t.Fatalf("refresh total = %d, want the pre-vote 0", before.Total)
	}
	if cache.Rejected != 1 || cache.Sets != 0 {
		t.Errorf("cache sets=%d rejected=%d, want the pre-vote tally rejected", cache.Sets, cache.Rejected)
	}

	res, err := polls.Results(ctx, q.ID)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if res.Total != 1 || res.Results[0].Percent != 100 {
		t.Errorf("results after recorded vote = total %d %+v, want total 1", res.Total, res.Results)
	}

	// 之后的刷新版本号一致，可以正常写入缓存
	if cache.Sets != 1 {
		t.Errorf("cache sets = %d, want 1 after the fresh tally", cache.Sets)
	}
}
