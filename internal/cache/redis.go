package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"truckcount-api/internal/logger"
	"truckcount-api/internal/model"
	"truckcount-api/pkg/uid"

	"github.com/redis/go-redis/v9"
)

// Slot lock configuration
const (
	DefaultLockTTL    = 30 * time.Second
	lockRetryInterval = 50 * time.Millisecond
	unlockTimeout     = 5 * time.Second
)

// releaseLockScript deletes the lock only while it still belongs to the caller.
var releaseLockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// extendLockScript refreshes the lock TTL only while it still belongs to the caller.
var extendLockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisSlot keeps the pending message in Redis so every API replica sees the
// same slot. The critical section is a SET NX lock with a TTL.
type RedisSlot struct {
	client    *redis.Client
	keyPrefix string
	lockTTL   time.Duration
}

// RedisSlotConfig holds configuration for the Redis slot.
type RedisSlotConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	LockTTL   time.Duration
}

// NewRedisSlot connects to Redis and returns a slot.
func NewRedisSlot(cfg RedisSlotConfig) (*RedisSlot, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	s := NewRedisSlotFromClient(client, cfg.KeyPrefix, cfg.LockTTL)
	logger.Info("redis slot ready", "component", "slot", "db", cfg.DB, "prefix", s.keyPrefix)
	return s, nil
}

// NewRedisSlotFromClient wraps an existing client.
func NewRedisSlotFromClient(client *redis.Client, keyPrefix string, lockTTL time.Duration) *RedisSlot {
	if keyPrefix == "" {
		keyPrefix = "truckcount:slot"
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &RedisSlot{client: client, keyPrefix: keyPrefix, lockTTL: lockTTL}
}

func (s *RedisSlot) messageKey() string {
	return s.keyPrefix + ":pending"
}

func (s *RedisSlot) lockKey() string {
	return s.keyPrefix + ":lock"
}

// Peek returns the stored message, or nil when none is stored.
func (s *RedisSlot) Peek(ctx context.Context) (*model.PendingMessage, error) {
	data, err := s.client.Get(ctx, s.messageKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot: %w", err)
	}

	var msg model.PendingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse slot: %w", err)
	}
	return &msg, nil
}

// Set replaces the stored message.
func (s *RedisSlot) Set(ctx context.Context, msg *model.PendingMessage) error {
	if msg == nil {
		return s.Clear(ctx)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.messageKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write slot: %w", err)
	}
	return nil
}

// Clear removes the stored message.
func (s *RedisSlot) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.messageKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear slot: %w", err)
	}
	return nil
}

// Lock acquires the shared lock, polling until ctx ends. While held, the lock
// TTL is refreshed every third of its length so a long purge keeps ownership;
// the TTL only bounds how long a crashed holder blocks the other replicas.
func (s *RedisSlot) Lock(ctx context.Context) (func(), error) {
	token := uid.NewLockToken(ctx)
	for {
		ok, err := s.client.SetNX(ctx, s.lockKey(), token, s.lockTTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire slot lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-time.After(lockRetryInterval):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go s.keepLock(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			if err := releaseLockScript.Run(ctx, s.client, []string{s.lockKey()}, token).Err(); err != nil {
				logger.Warn("failed to release slot lock", "component", "slot", "error", err)
			}
		})
	}, nil
}

func (s *RedisSlot) keepLock(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			held, err := extendLockScript.Run(ctx, s.client, []string{s.lockKey()}, token, s.lockTTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				logger.Warn("failed to extend slot lock", "component", "slot", "error", err)
				continue
			}
			if held == 0 {
				logger.Error("slot lock lost before release", "component", "slot", "lock_ttl", s.lockTTL.String())
				return
			}
		}
	}
}

// Close closes the Redis client.
func (s *RedisSlot) Close() error {
	return s.client.Close()
}

// Ensure RedisSlot implements Slot
var _ Slot = (*RedisSlot)(nil)
