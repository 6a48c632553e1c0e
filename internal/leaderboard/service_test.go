package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/event"
	"github.com/victornm/testlink/internal/leaderboard"
)

func TestService_RecordResult(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	for _, r := range []domain.TestResult{
		makeResult("r1", "alice", "go", "1", domain.Choice(0), domain.Choice(0)),
		makeResult("r2", "bob", "go", "1", domain.Choice(0), nil),
		makeResult("r3", "carol", "go", "2", nil, nil),
	} {
		require.NoError(t, s.RecordResult(ctx, domain.EventResultRecorded{Result: r}))
	}

	// recording twice keeps a single entry
	require.NoError(t, s.RecordResult(ctx, domain.EventResultRecorded{
		Result: makeResult("r2", "bob", "go", "1", domain.Choice(0), nil),
	}))

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		TestName:    "go",
		TestVersion: "1",
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		TestName:    "go",
		TestVersion: "1",
		Entries: []domain.LeaderboardEntry{
			{ResultID: "r1", CandidateName: "alice", Percentage: 100},
			{ResultID: "r2", CandidateName: "bob", Percentage: 50},
		},
	}
	require.Equal(t, want, resp)

	resp, err = s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		TestName:    "go",
		TestVersion: "1",
		Limit:       1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	require.Equal(t, "r1", resp.Entries[0].ResultID)
}

func TestService_GetLeaderboard_Empty(t *testing.T) {
	s := makeService(t)

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		TestName:    "nobody",
		TestVersion: "1",
	})
	require.NoError(t, err)
	require.Empty(t, resp.Entries)

	_, err = s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.Error(t, err)
}

func TestService_DeleteLeaderboard(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, domain.EventResultRecorded{
		Result: makeResult("r1", "alice", "go", "1", domain.Choice(0), domain.Choice(0)),
	}))
	require.NoError(t, s.DeleteLeaderboard(ctx, "go", "1"))

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{TestName: "go", TestVersion: "1"})
	require.NoError(t, err)
	require.Empty(t, resp.Entries)
}

func TestService_KeysDoNotCollide(t *testing.T) {
	tests := map[string]struct {
		recorded [2]string
		other    [2]string
	}{
		"'@' in the name and in the version": {
			recorded: [2]string{"Go@Work", "1"},
			other:    [2]string{"Go", "Work@1"},
		},
		"':' in the version": {
			recorded: [2]string{"Go", "1"},
			other:    [2]string{"Go", "1:names"},
		},
		"':' in the name": {
			recorded: [2]string{"rank:1", "x"},
			other:    [2]string{"rank", "1:x"},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := makeService(t)
			ctx := context.Background()

			require.NoError(t, s.RecordResult(ctx, domain.EventResultRecorded{
				Result: makeResult("r1", "alice", tt.recorded[0], tt.recorded[1], domain.Choice(0), domain.Choice(0)),
			}))

			other, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{TestName: tt.other[0], TestVersion: tt.other[1]})
			require.NoError(t, err)
			require.Empty(t, other.Entries, "another test should not share the ranking")

			require.NoError(t, s.DeleteLeaderboard(ctx, tt.other[0], tt.other[1]))

			got, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{TestName: tt.recorded[0], TestVersion: tt.recorded[1]})
			require.NoError(t, err)
			require.Equal(t, []domain.LeaderboardEntry{
				{ResultID: "r1", CandidateName: "alice", Percentage: 100},
			}, got.Entries, "deleting another test should keep this ranking")
		})
	}
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventResultRecorded
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after receiving result.recorded": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventResultRecorded{
						{Result: makeResult("r1", "alice", "go", "1", domain.Choice(0), domain.Choice(0))},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					TestName:    "go",
					TestVersion: "1",
					Entries: []domain.LeaderboardEntry{
						{ResultID: "r1", CandidateName: "alice", Percentage: 100},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 2 events for results of 2 different test versions": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventResultRecorded{
						{Result: makeResult("r1", "alice", "go", "1", nil, nil)},
						{Result: makeResult("r2", "bob", "go", "2", nil, nil)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated events")
			},
		},

		"should publish 1 event for results of the same test version within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventResultRecorded{
						{Result: makeResult("r1", "alice", "go", "1", nil, nil)},
						{Result: makeResult("r2", "bob", "go", "1", nil, nil)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.RecordResult(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func TestService_SubscribesToResultRecorded(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), domain.EventResultRecorded{
		Result: makeResult("r1", "alice", "go", "1", domain.Choice(0), nil),
	})
	eb.Stop()

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{TestName: "go", TestVersion: "1"})
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{
		{ResultID: "r1", CandidateName: "alice", Percentage: 50},
	}, resp.Entries)
}

// makeResult builds a two-question result whose correct answers are 0 and 0.
func makeResult(id, user, name, version string, a1, a2 *int) domain.TestResult {
	return domain.TestResult{
		ID:          id,
		SessionID:   "s-" + id,
		UserName:    user,
		TestName:    name,
		TestVersion: version,
		Answers:     domain.Answers{1: a1, 2: a2},
		AnswerKey:   domain.AnswerKey{1: 0, 2: 0},
		CompletedAt: time.Now(),
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "testlink",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
