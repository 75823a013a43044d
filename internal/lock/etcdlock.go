package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/NathanMahpood/FinalProject-server/config"
)

const (
	defaultSessionTTL     = 10 * time.Second // 默认租约过期时间
	defaultRequestTimeout = 3 * time.Second  // 默认单次etcd操作超时
)

// EtcdLock 基于etcd租约的分布式锁实现
type EtcdLock struct {
	client *clientv3.Client
	mu     sync.Mutex            // 保护locks的互斥锁
	locks  map[string]*lockEntry // 当前持有的锁
}

type lockEntry struct {
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc // 用于停止自动续约
}

func NewETCDLock() (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   config.AppConfig.ETCD.Endpoints,
		DialTimeout: config.AppConfig.ETCD.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %v", err)
	}

	return &EtcdLock{
		client: cli,
		locks:  make(map[string]*lockEntry),
	}, nil
}

func (el *EtcdLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	// 检查是否已持有锁
	if _, ok := el.locks[lockName]; ok {
		return false, fmt.Errorf("锁 %s 已被当前实例持有", lockName)
	}

	key := fmt.Sprintf("/locks/%s", lockName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 创建租约
	lease := clientv3.NewLease(el.client)
	grantResp, err := lease.Grant(ctx, el.sessionTTL())
	if err != nil {
		return false, fmt.Errorf("创建租约失败: %v", err)
	}

	// 键不存在时写入，原子抢锁
	txn := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grantResp.ID))).
		Else()

	txnResp, err := txn.Commit()
	if err != nil {
		el.revokeLease(lease, grantResp.ID)
		return false, fmt.Errorf("事务执行失败: %v", err)
	}

	if !txnResp.Succeeded {
		el.revokeLease(lease, grantResp.ID)
		return false, nil
	}

	// 启动自动续约
	keepAliveCtx, keepAliveCancel := context.WithCancel(context.Background())
	go el.keepAlive(keepAliveCtx, grantResp.ID)

	el.locks[lockName] = &lockEntry{
		leaseID: grantResp.ID,
		key:     key,
		cancel:  keepAliveCancel,
	}

	return true, nil
}

// sessionTTL 锁租约时长（秒），可通过etcd配置覆盖
func (el *EtcdLock) sessionTTL() int64 {
	ttl := config.AppConfig.ETCD.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return int64(ttl / time.Second)
}

// requestTimeout 单次etcd操作的超时时间
func (el *EtcdLock) requestTimeout() time.Duration {
	timeout := config.AppConfig.ETCD.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return timeout
}

// revokeLease 抢锁失败时回收租约，避免残留租约占用etcd
func (el *EtcdLock) revokeLease(lease clientv3.Lease, leaseID clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout())
	defer cancel()
	lease.Revoke(ctx, leaseID)
}

func (el *EtcdLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	entry, ok := el.locks[lockName]
	if !ok {
		return false, fmt.Errorf("未持有锁 %s", lockName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := clientv3.NewLease(el.client).KeepAliveOnce(ctx, entry.leaseID)
	if err != nil {
		if err == rpctypes.ErrLeaseNotFound {
			delete(el.locks, lockName)
			return false, nil
		}
		return false, fmt.Errorf("续约失败: %v", err)
	}

	return true, nil
}

func (el *EtcdLock) ReleaseLock(lockName string) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	return el.releaseLock(lockName)
}

func (el *EtcdLock) ReleaseAllLocks() {
	el.mu.Lock()
	defer el.mu.Unlock()

	for lockName := range el.locks {
		el.releaseLock(lockName)
	}
}

func (el *EtcdLock) Close() error {
	el.ReleaseAllLocks()
	return el.client.Close()
}

// keepAlive 周期续约，锁释放时由cancel停止
func (el *EtcdLock) keepAlive(ctx context.Context, leaseID clientv3.LeaseID) {
	lease := clientv3.NewLease(el.client)
	ticker := time.NewTicker(time.Duration(el.sessionTTL()/2) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := lease.KeepAliveOnce(ctx, leaseID)
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (el *EtcdLock) releaseLock(lockName string) error {
	entry, ok := el.locks[lockName]
	if !ok {
		return nil
	}

	// 停止自动续约
	entry.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), el.requestTimeout())
	defer cancel()

	_, err := el.client.Delete(ctx, entry.key)
	if err != nil {
		return fmt.Errorf("删除键失败: %v", err)
	}

	_, err = clientv3.NewLease(el.client).Revoke(ctx, entry.leaseID)
	if err != nil {
		return fmt.Errorf("释放租约失败: %v", err)
	}

	delete(el.locks, lockName)
	return nil
}
