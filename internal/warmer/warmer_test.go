package warmer

import (
	"context"
	"testing"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/lock"
	"github.com/lvdashuaibi/littlepolls/internal/service"
	"github.com/lvdashuaibi/littlepolls/internal/testutil"
)

func newWarmer(t *testing.T, l lock.Lock) (*ResultsWarmer, *testutil.Cache) {
	t.Helper()
	testutil.QuietLogs(t)

	store := testutil.NewStore()
	store.AddQuestion("Tabs or spaces?", testutil.Now.Add(-time.Hour), 7, "tabs", "spaces")
	store.AddQuestion("Vim or Emacs?", testutil.Now.Add(-2*time.Hour), 7, "vim", "emacs")
	store.AddQuestion("Expired", testutil.Now.Add(-30*24*time.Hour), 7, "a", "b")

	cache := testutil.NewCache()
	polls := service.NewPollService(store, cache, config.PollsConfig{IndexPageSize: 5, ResultsCacheTTL: time.Minute})
	polls.SetClock(testutil.Clock(testutil.Now))

	return NewResultsWarmer(polls, l, time.Minute), cache
}

func TestWarmOnceRefreshesActiveQuestions(t *testing.T) {
	w, cache := newWarmer(t, lock.NewLocalLock())

	acquired, refreshed := w.WarmOnce(context.Background())
	if !acquired {
		t.Fatal("WarmOnce did not acquire the lock")
	}
	if refreshed != 2 {
		t.Errorf("refreshed = %d, want 2", refreshed)
	}
	if cache.Sets != 2 {
		t.Errorf("cache sets = %d, want 2", cache.Sets)
	}
}

func TestWarmOnceSkipsWhenLockHeld(t *testing.T) {
	l := lock.NewLocalLock()
	if ok, _ := l.AcquireLock(WarmerLockName, time.Minute); !ok {
		t.Fatal("failed to pre-acquire lock")
	}
	w, cache := newWarmer(t, l)

	acquired, refreshed := w.WarmOnce(context.Background())
	if acquired || refreshed != 0 {
		t.Errorf("WarmOnce = (%v, %d), want (false, 0)", acquired, refreshed)
	}
	if cache.Sets != 0 {
		t.Errorf("cache sets = %d, want 0", cache.Sets)
	}
}

func TestWarmOnceReleasesLock(t *testing.T) {
	l := lock.NewLocalLock()
	w, _ := newWarmer(t, l)

	w.WarmOnce(context.Background())
	if ok, _ := l.AcquireLock(WarmerLockName, time.Minute); !ok {
		t.Error("lock still held after WarmOnce")
	}
}

func TestStartDisabled(t *testing.T) {
	testutil.QuietLogs(t)
	w := NewResultsWarmer(nil, lock.NewLocalLock(), 0)
	w.Start()
	w.Stop()
	w.Stop()
}
