package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-event-board/internal/pkg/metrics"
)

var (
	ErrLockNotAcquired = errors.New("ロックを取得できませんでした")
	ErrLockNotOwned    = errors.New("ロックの所有者ではありません")
)

// 所有者確認と削除・延長をアトミックに実行する
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock は Redis を使用した分散ロック
type DistributedLock struct {
	client  *redis.Client
	key     string
	value   string
	ttl     time.Duration
	metrics *metrics.Metrics
}

// LockManager は分散ロックを管理する
type LockManager struct {
	client  *redis.Client
	metrics *metrics.Metrics
}

func NewLockManager(client *redis.Client, m *metrics.Metrics) *LockManager {
	return &LockManager{client: client, metrics: m}
}

// EventLockKey はイベント単位のロックキーを返す
func EventLockKey(eventID string) string {
	return "event:" + eventID
}

// AcquireLock はロックを取得する
func (m *LockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	start := time.Now()
	lockKey := fmt.Sprintf("lock:%s", key)
	lockValue := uuid.NewString()

	ok, err := m.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		m.metrics.ObserveLock("acquire", "failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	if !ok {
		m.metrics.ObserveLock("acquire", "failed", time.Since(start).Seconds())
		return nil, ErrLockNotAcquired
	}
	m.metrics.ObserveLock("acquire", "success", time.Since(start).Seconds())

	return &DistributedLock{
		client:  m.client,
		key:     lockKey,
		value:   lockValue,
		ttl:     ttl,
		metrics: m.metrics,
	}, nil
}

// AcquireLockWithRetry はリトライ付きでロックを取得する
func (m *LockManager) AcquireLockWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (*DistributedLock, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		lock, err := m.AcquireLock(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		lastErr = err
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, lastErr
}

// Key はロックの Redis キーを返す
func (l *DistributedLock) Key() string {
	return l.key
}

// Release はロックを解放する
func (l *DistributedLock) Release(ctx context.Context) error {
	start := time.Now()
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		l.metrics.ObserveLock("release", "failed", time.Since(start).Seconds())
		return fmt.Errorf("ロック解放に失敗: %w", err)
	}
	if result == 0 {
		l.metrics.ObserveLock("release", "failed", time.Since(start).Seconds())
		return ErrLockNotOwned
	}
	l.metrics.ObserveLock("release", "success", time.Since(start).Seconds())
	return nil
}

// Extend はロックの有効期限を延長する
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("ロック延長に失敗: %w", err)
	}
	if result == 0 {
		return ErrLockNotOwned
	}
	l.ttl = ttl
	return nil
}
