package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/event"
	"github.com/victornm/testlink/internal/score"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultLimit    = 10
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps a ranking of results per test version in Redis sorted sets.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameResultRecorded, func(ctx context.Context, e event.Event) error {
		return s.RecordResult(ctx, e.(domain.EventResultRecorded))
	})

	return s
}

type GetLeaderboardRequest struct {
	TestName    string
	TestVersion string
	// Limit caps the number of entries, 10 when zero.
	Limit int
}

// GetLeaderboard returns the best results of a test version. A test nobody completed has
// an empty leaderboard.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	if req.TestName == "" || req.TestVersion == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessage("Test name and version are required"))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	key := s.leaderboardKey(req.TestName, req.TestVersion)
	zs, err := s.redis.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	l := &domain.Leaderboard{
		TestName:    req.TestName,
		TestVersion: req.TestVersion,
		Entries:     make([]domain.LeaderboardEntry, 0, len(zs)),
	}
	if len(zs) == 0 {
		return l, nil
	}

	ids := make([]string, 0, len(zs))
	for _, z := range zs {
		ids = append(ids, z.Member.(string))
	}

	names, err := s.redis.HMGet(ctx, s.namesKey(req.TestName, req.TestVersion), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get candidate names: %w", err)
	}

	for i, z := range zs {
		name, _ := names[i].(string)
		l.Entries = append(l.Entries, domain.LeaderboardEntry{
			ResultID:      ids[i],
			CandidateName: name,
			Percentage:    int(z.Score),
		})
	}

	return l, nil
}

// RecordResult ranks a recorded result. Recording the same result twice is a no-op.
func (s *Service) RecordResult(ctx context.Context, e domain.EventResultRecorded) error {
	r := e.Result
	sum := score.Recompute(r)

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.leaderboardKey(r.TestName, r.TestVersion), redis.Z{
			Score:  float64(sum.Percentage),
			Member: r.ID,
		})
		p.HSet(ctx, s.namesKey(r.TestName, r.TestVersion), r.ID, r.UserName)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, r)
}

// schedulePublishLeaderboard publishes at most one leaderboard.updated per test version and
// interval, so a burst of submissions results in a single notification.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, r domain.TestResult) error {
	ok, err := s.redis.SetNX(ctx, s.publishKey(r.TestName, r.TestVersion), r.CompletedAt.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		TestName:    r.TestName,
		TestVersion: r.TestVersion,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: test=%s@%s: %w", r.TestName, r.TestVersion, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

// DeleteLeaderboard drops the ranking of a test version, used when the test is deleted.
func (s *Service) DeleteLeaderboard(ctx context.Context, name, version string) error {
	return s.redis.Del(ctx,
		s.leaderboardKey(name, version),
		s.namesKey(name, version),
		s.publishKey(name, version),
	).Err()
}

func (s *Service) leaderboardKey(name, version string) string {
	return s.key("rank", name, version)
}

func (s *Service) namesKey(name, version string) string {
	return s.key("names", name, version)
}

func (s *Service) publishKey(name, version string) string {
	return s.key("time", name, version)
}

// key is {prefix}:leaderboard:{kind}:{len(name)}:{name}@{version}. The length prefix keeps
// names and versions containing '@' or ':' apart.
func (s *Service) key(kind, name, version string) string {
	return fmt.Sprintf("%s:leaderboard:%s:%d:%s@%s", s.prefix, kind, len(name), name, version)
}
