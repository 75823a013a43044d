package lock

import (
	"fmt"
	"time"

	"github.com/NathanMahpood/FinalProject-server/config"
)

// Lock 分布式锁接口
// 用于多实例部署时选举执行目录播种的实例
type Lock interface {
	// AcquireLock 获取分布式锁，bool表示是否成功获取
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// RefreshLock 刷新锁的过期时间
	RefreshLock(lockName string, timeout time.Duration) (bool, error)

	// ReleaseLock 释放分布式锁
	ReleaseLock(lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭分布式锁客户端
	Close() error
}

// NewLock 按配置选择锁实现，支持 etcd 和 redlock
func NewLock() (Lock, error) {
	switch config.AppConfig.Lock.Provider {
	case "", "etcd":
		return NewETCDLock()
	case "redlock":
		return NewRedLock()
	default:
		return nil, fmt.Errorf("不支持的锁实现: %s", config.AppConfig.Lock.Provider)
	}
}
