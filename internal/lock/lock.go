package lock

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
)

// Lock 分布式锁接口
type Lock interface {
	// AcquireLock 获取分布式锁
	// 返回值：bool表示是否成功获取锁，error表示获取过程中的错误
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// ReleaseLock 释放分布式锁
	ReleaseLock(lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭分布式锁客户端
	Close() error
}

// New 按配置的后端创建分布式锁，backend为none时使用进程内锁
func New(cfg *config.Config) (Lock, error) {
	switch strings.ToLower(cfg.Lock.Backend) {
	case "etcd":
		return NewETCDLock(cfg.ETCD)
	case "redis", "redlock":
		return NewRedLock(cfg.Redis, cfg.Lock)
	case "", "none", "local":
		return NewLocalLock(), nil
	}
	return nil, fmt.Errorf("未知的锁后端: %s", cfg.Lock.Backend)
}

// RunExclusive 持有锁时执行fn，未获取到锁时不执行并返回false
func RunExclusive(l Lock, lockName string, timeout time.Duration, fn func() error) (bool, error) {
	acquired, err := l.AcquireLock(lockName, timeout)
	if err != nil {
		return false, fmt.Errorf("获取锁 %s 失败: %w", lockName, err)
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if err := l.ReleaseLock(lockName); err != nil {
			slog.Warn("释放锁失败", "lock", lockName, "error", err)
		}
	}()
	return true, fn()
}

// LocalLock 进程内锁，单实例部署或测试中使用
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]time.Time // 锁名 -> 过期时间
}

func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]time.Time)}
}

func (l *LocalLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expires, ok := l.locks[lockName]; ok && time.Now().Before(expires) {
		return false, nil
	}
	l.locks[lockName] = time.Now().Add(timeout)
	return true, nil
}

func (l *LocalLock) ReleaseLock(lockName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.locks[lockName]; !ok {
		return fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}
	delete(l.locks, lockName)
	return nil
}

func (l *LocalLock) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = make(map[string]time.Time)
}

func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}
