package admin

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
)

// RedisSessionStore keeps each session under {prefix}:admin:session:{token}. Redis expires
// the key once the ttl given to Save has passed.
type RedisSessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(r redis.UniversalClient, prefix string) *RedisSessionStore {
	return &RedisSessionStore{
		redis:  r,
		prefix: prefix,
	}
}

func (s *RedisSessionStore) Save(ctx context.Context, as domain.AdminSession, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("save session: non-positive ttl %s", ttl)
	}

	b, err := json.Marshal(as)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.redis.Set(ctx, s.key(as.Token), b, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (*domain.AdminSession, error) {
	b, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage("admin session not found"))
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var as domain.AdminSession
	if err := json.Unmarshal(b, &as); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &as, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	return s.redis.Del(ctx, s.key(token)).Err()
}

func (s *RedisSessionStore) key(token string) string {
	return fmt.Sprintf("%s:admin:session:%s", s.prefix, token)
}

// MemorySessionStore keeps sessions in process, for running without Postgres or Redis.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.AdminSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]domain.AdminSession),
	}
}

func (s *MemorySessionStore) Save(_ context.Context, as domain.AdminSession, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[as.Token] = as
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (*domain.AdminSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	as, ok := s.sessions[token]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage("admin session not found"))
	}

	return &as, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

func (s *MemorySessionStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for token, as := range s.sessions {
		if !now.Before(as.ExpiresAt) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}
