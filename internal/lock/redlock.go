package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/littlepolls/config"
)

// 只删除自己持有的锁
const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

type RedLock struct {
	clients   []*redis.Client
	addresses []string
	ctx       context.Context
	mu        sync.Mutex
	locks     map[string]string // key是锁名，value是token值
	retries   int
}

// NewRedLock 按配置的锁节点创建Redlock客户端
func NewRedLock(redisCfg config.RedisConfig, lockCfg config.LockConfig) (*RedLock, error) {
	ctx := context.Background()

	addresses := redisCfg.LockAddresses
	if len(addresses) == 0 {
		addresses = []string{redisCfg.DataAddress}
	}

	var clients []*redis.Client
	for _, addr := range addresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     redisCfg.Password,
			DB:           redisCfg.DB,
			PoolSize:     redisCfg.PoolSize,
			MaxRetries:   redisCfg.MaxRetries,
			DialTimeout:  redisCfg.Timeout,
			ReadTimeout:  redisCfg.Timeout,
			WriteTimeout: redisCfg.Timeout,
		})

		// 测试连接
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("Redis锁节点 %s 连接测试失败: %w", addr, err)
		}

		clients = append(clients, client)
	}

	retries := lockCfg.RetryCount
	if retries <= 0 {
		retries = 1
	}

	return &RedLock{
		clients:   clients,
		addresses: addresses,
		ctx:       ctx,
		locks:     make(map[string]string),
		retries:   retries,
	}, nil
}

// AcquireLock 获取分布式锁
func (r *RedLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := uuid.NewString()
	key := "lock:" + lockName

	// Redlock算法: 尝试在多个节点上获取锁
	for attempt := 0; attempt < r.retries; attempt++ {
		success := 0
		start := time.Now()

		for i, client := range r.clients {
			ok, err := client.SetNX(r.ctx, key, token, timeout).Result()
			if err != nil {
				slog.Warn("在节点获取锁失败", "node", r.addresses[i], "lock", lockName, "error", err)
				continue
			}
			if ok {
				success++
			}
		}

		// 多数节点成功且锁仍在有效期内
		validityTime := timeout - time.Since(start)
		if success >= len(r.clients)/2+1 && validityTime > 0 {
			r.locks[lockName] = token
			slog.Debug("获取锁成功", "lock", lockName)
			return true, nil
		}

		// 获取失败，释放所有节点上的锁
		r.unlockAll(key, token)
		time.Sleep(100 * time.Millisecond)
	}

	return false, nil
}

// ReleaseLock 释放分布式锁
func (r *RedLock) ReleaseLock(lockName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, exists := r.locks[lockName]
	if !exists {
		return fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}

	r.unlockAll("lock:"+lockName, token)
	delete(r.locks, lockName)
	slog.Debug("释放锁成功", "lock", lockName)
	return nil
}

// unlockAll 在所有节点上释放锁
func (r *RedLock) unlockAll(key, token string) {
	for i, client := range r.clients {
		if err := client.Eval(r.ctx, unlockScript, []string{key}, token).Err(); err != nil {
			slog.Warn("在节点释放锁失败", "node", r.addresses[i], "key", key, "error", err)
		}
	}
}

// ReleaseAllLocks 释放所有持有的锁
func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, token := range r.locks {
		r.unlockAll("lock:"+name, token)
	}
	r.locks = make(map[string]string)
}

// Close 关闭分布式锁客户端
func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for _, client := range r.clients {
		if err := client.Close(); err != nil {
			slog.Warn("关闭Redis客户端失败", "error", err)
		}
	}
	return nil
}
