package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/model"
)

// 需要一个可以随意建表的MySQL库，例如
// LITTLEPOLLS_TEST_MYSQL_DSN="root:root@tcp(127.0.0.1:3306)/littlepolls_test?parseTime=true&loc=UTC"
func newTestMySQL(t *testing.T) *MySQLRepository {
	t.Helper()
	dsn := os.Getenv("LITTLEPOLLS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("LITTLEPOLLS_TEST_MYSQL_DSN not set")
	}

	repo, err := NewMySQLRepository(config.MySQLConfig{Master: dsn, MaxOpenConns: 10, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(repo.Close)

	ctx := context.Background()
	for _, table := range []string{"votes", "choices", "questions", "profiles", "accounts"} {
		repo.masterDB.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
	}
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	// 可重复执行
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	return repo
}

func createAccount(t *testing.T, repo *MySQLRepository, username string) *model.Account {
	t.Helper()
	account := &model.Account{Username: username, Email: username + "@example.com", PasswordHash: "x", DateJoined: time.Now().UTC()}
	profile := &model.Profile{Avatar: "avatars/" + username + ".png"}
	if err := repo.CreateAccountWithProfile(context.Background(), account, profile); err != nil {
		t.Fatalf("CreateAccountWithProfile failed: %v", err)
	}
	return account
}

func TestMySQLAccounts(t *testing.T) {
	repo := newTestMySQL(t)
	ctx := context.Background()

	alice := createAccount(t, repo, "alice")
	if alice.ID == 0 {
		t.Fatal("account ID not set")
	}

	dup := &model.Account{Username: "alice", Email: "a@example.com", PasswordHash: "x", DateJoined: time.Now()}
	err := repo.CreateAccountWithProfile(ctx, dup, &model.Profile{Avatar: "x.png"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate username err = %v, want ErrConflict", err)
	}

	got, err := repo.AccountByUsername(ctx, "alice")
	if err != nil || got.ID != alice.ID {
		t.Fatalf("AccountByUsername = %+v, %v", got, err)
	}

	profile, err := repo.ProfileByAccount(ctx, alice.ID)
	if err != nil || profile.Avatar != "avatars/alice.png" {
		t.Fatalf("ProfileByAccount = %+v, %v", profile, err)
	}

	got.Email = "new@example.com"
	profile.Bio = "hello"
	if err := repo.UpdateAccountAndProfile(ctx, got, profile); err != nil {
		t.Fatalf("UpdateAccountAndProfile failed: %v", err)
	}
	reloaded, _ := repo.ProfileByAccount(ctx, alice.ID)
	if reloaded.Bio != "hello" {
		t.Errorf("bio = %q after update", reloaded.Bio)
	}

	if _, err := repo.AccountByID(ctx, 424242); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account err = %v, want ErrNotFound", err)
	}
}

func TestMySQLQuestionsAndVotes(t *testing.T) {
	repo := newTestMySQL(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	question := &model.Question{Text: "Tabs or spaces?", PubDate: now.Add(-time.Hour), LifespanDays: 7}
	choices := []*model.Choice{{Text: "tabs", Position: 0}, {Text: "spaces", Position: 1}}
	if err := repo.CreateQuestion(ctx, question, choices); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}
	future := &model.Question{Text: "Later", PubDate: now.Add(time.Hour), LifespanDays: 7}
	if err := repo.CreateQuestion(ctx, future, []*model.Choice{{Text: "a"}, {Text: "b", Position: 1}}); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}

	for _, limit := range []int{5, 0} {
		active, err := repo.ActiveQuestions(ctx, now, limit)
		if err != nil {
			t.Fatalf("ActiveQuestions(limit=%d) failed: %v", limit, err)
		}
		if len(active) != 1 || active[0].ID != question.ID {
			t.Errorf("ActiveQuestions(limit=%d) = %+v, want only %d", limit, active, question.ID)
		}
	}

	stored, err := repo.ChoicesByQuestion(ctx, question.ID)
	if err != nil || len(stored) != 2 || stored[0].Text != "tabs" {
		t.Fatalf("ChoicesByQuestion = %+v, %v", stored, err)
	}
	if _, err := repo.ChoiceByID(ctx, future.ID, choices[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("choice of another question err = %v, want ErrNotFound", err)
	}

	const voters = 8
	accounts := make([]*model.Account, voters)
	for i := range accounts {
		accounts[i] = createAccount(t, repo, fmt.Sprintf("voter%d", i))
	}

	// 同一账户并发投票只有一次成功
	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded, conflicts := 0, 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.RecordVote(ctx, &model.Vote{AccountID: accounts[0].ID, QuestionID: question.ID, ChoiceID: choices[1].ID, VotedAt: now})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				recorded++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("RecordVote failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if recorded != 1 || conflicts != 4 {
		t.Errorf("recorded=%d conflicts=%d, want 1 and 4", recorded, conflicts)
	}

	for _, a := range accounts[1:] {
		if err := repo.RecordVote(ctx, &model.Vote{AccountID: a.ID, QuestionID: question.ID, ChoiceID: choices[0].ID, VotedAt: now}); err != nil {
			t.Fatalf("RecordVote failed: %v", err)
		}
	}

	stored, _ = repo.LatestChoices(ctx, question.ID)
	if stored[0].Votes != voters-1 || stored[1].Votes != 1 {
		t.Errorf("votes = [%d %d], want [%d 1]", stored[0].Votes, stored[1].Votes, voters-1)
	}

	voted, err := repo.HasVoted(ctx, accounts[0].ID, question.ID)
	if err != nil || !voted {
		t.Errorf("HasVoted = %v, %v", voted, err)
	}
	voted, _ = repo.HasVoted(ctx, accounts[0].ID, future.ID)
	if voted {
		t.Error("HasVoted on unvoted question = true")
	}
}
