package warmer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lvdashuaibi/littlepolls/internal/lock"
	"github.com/lvdashuaibi/littlepolls/internal/service"
)

const (
	WarmerLockName = "littlepolls:results:warmer"
)

// ResultsWarmer 定时为首页问题预热统计缓存，多实例部署时只有持锁的实例执行
type ResultsWarmer struct {
	polls    *service.PollService
	lock     lock.Lock
	interval time.Duration

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewResultsWarmer(polls *service.PollService, distributedLock lock.Lock, interval time.Duration) *ResultsWarmer {
	return &ResultsWarmer{
		polls:    polls,
		lock:     distributedLock,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start 启动预热协程，interval不大于0时不启动
func (w *ResultsWarmer) Start() {
	if w.interval <= 0 {
		slog.Info("统计缓存预热已关闭")
		return
	}

	w.ticker = time.NewTicker(w.interval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), w.interval)
				w.WarmOnce(ctx)
				cancel()
			case <-w.stopChan:
				w.ticker.Stop()
				slog.Info("统计缓存预热已停止")
				return
			}
		}
	}()
	slog.Info("统计缓存预热已启动", "interval", w.interval)
}

// Stop 停止预热并等待当前一轮结束
func (w *ResultsWarmer) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

// WarmOnce 执行一轮预热，返回是否拿到锁以及刷新的问题数
func (w *ResultsWarmer) WarmOnce(ctx context.Context) (bool, int) {
	refreshed := 0
	acquired, err := lock.RunExclusive(w.lock, WarmerLockName, w.lockTTL(), func() error {
		questions, err := w.polls.ActiveQuestions(ctx)
		if err != nil {
			return err
		}
		for _, q := range questions {
			if _, err := w.polls.RefreshResults(ctx, q.ID); err != nil {
				slog.Warn("预热统计缓存失败", "question_id", q.ID, "error", err)
				continue
			}
			refreshed++
		}
		return nil
	})
	if err != nil {
		slog.Warn("统计缓存预热失败", "error", err)
	}
	if !acquired {
		slog.Debug("预热锁被其他实例持有，跳过本轮")
	}
	return acquired, refreshed
}

// 锁在下一轮之前过期，持锁实例崩溃后其他实例可以接手
func (w *ResultsWarmer) lockTTL() time.Duration {
	if w.interval <= 0 {
		return time.Minute
	}
	return w.interval
}
