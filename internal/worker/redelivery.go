package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/news-clipping/shared/redis"
)

// DeliveryCounter counts failed deliveries per job so poison messages stop
// being requeued
type DeliveryCounter interface {
	Increment(ctx context.Context, jobID string) (int64, error)
	Reset(ctx context.Context, jobID string) error
}

// RedisCounter keeps counts in Redis so every worker process shares them
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCounter creates a RedisCounter. Keys expire after ttl.
func NewRedisCounter(client *redis.Client, prefix string, ttl time.Duration) *RedisCounter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCounter{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCounter) key(jobID string) string {
	return c.prefix + "deliveries:" + jobID
}

func (c *RedisCounter) Increment(ctx context.Context, jobID string) (int64, error) {
	return c.client.IncrWithExpiry(ctx, c.key(jobID), c.ttl)
}

func (c *RedisCounter) Reset(ctx context.Context, jobID string) error {
	return c.client.Delete(ctx, c.key(jobID))
}

// MemoryCounter is the single-process fallback used when Redis is disabled
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryCounter creates an empty MemoryCounter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: map[string]int64{}}
}

func (c *MemoryCounter) Increment(_ context.Context, jobID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[jobID]++
	return c.counts[jobID], nil
}

func (c *MemoryCounter) Reset(_ context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, jobID)
	return nil
}
