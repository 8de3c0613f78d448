package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/littlepolls/config"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	etcdKeyPrefix = "/littlepolls/locks/"
	minLeaseTTL   = 2 // 秒
)

// EtcdLock 基于etcd租约的分布式锁，持有期间租约自动续约
type EtcdLock struct {
	client         *clientv3.Client
	owner          string // 本实例写入锁键的值
	requestTimeout time.Duration

	mu   sync.Mutex
	held map[string]*etcdHold
}

type etcdHold struct {
	key     string
	leaseID clientv3.LeaseID
	stop    context.CancelFunc
}

func NewETCDLock(cfg config.ETCDConfig) (*EtcdLock, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("未配置etcd地址")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 3 * time.Second
	}

	return &EtcdLock{
		client:         cli,
		owner:          uuid.NewString(),
		requestTimeout: requestTimeout,
		held:           make(map[string]*etcdHold),
	}, nil
}

// AcquireLock 以timeout作为租约时长尝试写入锁键，键已存在时返回false
func (el *EtcdLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, ok := el.held[lockName]; ok {
		return false, nil
	}

	key := etcdKeyPrefix + lockName
	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout)
	defer cancel()

	lease, err := el.client.Grant(ctx, leaseTTL(timeout))
	if err != nil {
		return false, fmt.Errorf("创建租约失败: %w", err)
	}

	txnResp, err := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, el.owner, clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil || !txnResp.Succeeded {
		el.revoke(lease.ID)
		if err != nil {
			return false, fmt.Errorf("写入锁键 %s 失败: %w", key, err)
		}
		return false, nil
	}

	keepCtx, stop := context.WithCancel(context.Background())
	ch, err := el.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		stop()
		el.revoke(lease.ID)
		return false, fmt.Errorf("启动租约续约失败: %w", err)
	}
	go drainKeepAlive(lockName, ch)

	el.held[lockName] = &etcdHold{key: key, leaseID: lease.ID, stop: stop}
	return true, nil
}

func (el *EtcdLock) ReleaseLock(lockName string) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.release(lockName)
}

func (el *EtcdLock) ReleaseAllLocks() {
	el.mu.Lock()
	defer el.mu.Unlock()

	for lockName := range el.held {
		if err := el.release(lockName); err != nil {
			slog.Warn("释放etcd锁失败", "lock", lockName, "error", err)
		}
	}
}

func (el *EtcdLock) Close() error {
	el.ReleaseAllLocks()
	return el.client.Close()
}

// release 调用方需持有el.mu。只删除值仍为本实例的锁键
func (el *EtcdLock) release(lockName string) error {
	h, ok := el.held[lockName]
	if !ok {
		return nil
	}
	h.stop()
	delete(el.held, lockName)

	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout)
	defer cancel()

	_, err := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(h.key), "=", el.owner)).
		Then(clientv3.OpDelete(h.key)).
		Commit()
	if err != nil {
		return fmt.Errorf("删除锁键 %s 失败: %w", h.key, err)
	}
	if _, err := el.client.Revoke(ctx, h.leaseID); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("释放租约失败: %w", err)
	}
	return nil
}

func (el *EtcdLock) revoke(leaseID clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout)
	defer cancel()
	if _, err := el.client.Revoke(ctx, leaseID); err != nil {
		slog.Debug("撤销租约失败", "lease", int64(leaseID), "error", err)
	}
}

// drainKeepAlive 消费续约应答，通道关闭说明续约停止
func drainKeepAlive(lockName string, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for range ch {
	}
	slog.Debug("etcd锁续约结束", "lock", lockName)
}

func leaseTTL(timeout time.Duration) int64 {
	ttl := int64(math.Ceil(timeout.Seconds()))
	if ttl < minLeaseTTL {
		return minLeaseTTL
	}
	return ttl
}
