package lock

import (
	"context"
	"time"
)

// DistributedLock 定义分布式锁接口
type DistributedLock interface {
	// Acquire 尝试获取锁
	// key: 锁的唯一标识
	// ttl: 锁的过期时间
	// 返回: (是否成功, error)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release 释放锁
	Release(ctx context.Context, key string) error
}

// AcquireWait 在 wait 时间内轮询获取锁。
// 同一发送方的转账需要串行执行 (余额检查到上链提交之间是临界区)，
// 短暂等待比直接拒绝对调用方更友好。
func AcquireWait(ctx context.Context, l DistributedLock, key string, ttl, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
