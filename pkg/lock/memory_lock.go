package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLock 进程内的 Keyed Lock 实现。
// 单实例部署和单元测试中替代 RedisLock，接口行为保持一致。
type MemoryLock struct {
	mu     sync.Mutex
	held   map[string]time.Time // key -> 过期时间
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]time.Time)}
}

func (l *MemoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.held[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	l.held[key] = time.Now().Add(ttl)
	return true, nil
}

func (l *MemoryLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
