package catalog

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/testlink/internal/domain"
)

// RedisCache stores whole tests as JSON under {prefix}:test:{id}.
type RedisCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRedisCache(r redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		redis:  r,
		prefix: prefix,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type cachedTest struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	Version    string             `json:"version"`
	Content    domain.TestContent `json:"content"`
	CreateTime time.Time          `json:"create_time"`
	UpdateTime time.Time          `json:"update_time"`
}

func (c *RedisCache) Get(ctx context.Context, id int64) (*domain.Test, error) {
	b, err := c.redis.Get(ctx, c.key(id)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}

	var ct cachedTest
	if err := json.Unmarshal(b, &ct); err != nil {
		return nil, fmt.Errorf("unmarshal test %d: %w", id, err)
	}
	// Entries written by an older layout are treated as a miss.
	if err := ct.Content.Validate(); err != nil {
		return nil, nil
	}

	return &domain.Test{
		ID:         ct.ID,
		Name:       ct.Name,
		Version:    ct.Version,
		Content:    ct.Content,
		CreateTime: ct.CreateTime,
		UpdateTime: ct.UpdateTime,
	}, nil
}

func (c *RedisCache) Set(ctx context.Context, t *domain.Test) error {
	b, err := json.Marshal(cachedTest{
		ID:         t.ID,
		Name:       t.Name,
		Version:    t.Version,
		Content:    t.Content,
		CreateTime: t.CreateTime,
		UpdateTime: t.UpdateTime,
	})
	if err != nil {
		return fmt.Errorf("marshal test %d: %w", t.ID, err)
	}

	return c.redis.Set(ctx, c.key(t.ID), b, c.ttlWithJitter()).Err()
}

func (c *RedisCache) Delete(ctx context.Context, id int64) error {
	return c.redis.Del(ctx, c.key(id)).Err()
}

func (c *RedisCache) key(id int64) string {
	return fmt.Sprintf("%s:test:%d", c.prefix, id)
}

// ttlWithJitter spreads expiries by up to 10% so hot tests do not expire together.
func (c *RedisCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(int64(c.ttl)/10+1))
}
