package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Persister stores the serialized cart of one device. Load returns nil data
// and no error when nothing was saved.
type Persister interface {
	Load(ctx context.Context, deviceID string) ([]byte, error)
	Save(ctx context.Context, deviceID string, data []byte) error
	Delete(ctx context.Context, deviceID string) error
}

const redisKeyPrefix = "storefront:cart:"

// RedisPersister keeps carts in Redis so they survive restarts of the
// service. Every save refreshes the TTL.
type RedisPersister struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPersister(client *redis.Client, ttl time.Duration) *RedisPersister {
	return &RedisPersister{client: client, ttl: ttl}
}

func (p *RedisPersister) key(deviceID string) string {
	return redisKeyPrefix + deviceID
}

func (p *RedisPersister) Load(ctx context.Context, deviceID string) ([]byte, error) {
	data, err := p.client.Get(ctx, p.key(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return data, nil
}

func (p *RedisPersister) Save(ctx context.Context, deviceID string, data []byte) error {
	if err := p.client.Set(ctx, p.key(deviceID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (p *RedisPersister) Delete(ctx context.Context, deviceID string) error {
	if err := p.client.Del(ctx, p.key(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// MemoryPersister is used by the memory backend and in tests.
type MemoryPersister struct {
	mu   sync.Mutex
	data map[string][]byte
	// Err, when set, is returned by every call.
	Err error
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{data: make(map[string][]byte)}
}

func (p *MemoryPersister) Load(ctx context.Context, deviceID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return append([]byte(nil), p.data[deviceID]...), nil
}

func (p *MemoryPersister) Save(ctx context.Context, deviceID string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.data[deviceID] = append([]byte(nil), data...)
	return nil
}

func (p *MemoryPersister) Delete(ctx context.Context, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	delete(p.data, deviceID)
	return nil
}

// Raw returns what was last saved for deviceID.
func (p *MemoryPersister) Raw(deviceID string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data[deviceID]
}
