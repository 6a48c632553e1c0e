package score_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/score"
	"github.com/victornm/testlink/internal/storage/memory"
)

func TestService_ListResults(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now()

	record(t, store, "s1", "r1", "Ada", domain.Answers{1: domain.Choice(0), 2: domain.Choice(0)}, now)
	record(t, store, "s2", "r2", "Bob", domain.Answers{1: domain.Choice(0), 2: domain.Choice(1)}, now.Add(time.Minute))

	got, err := score.NewService(score.Config{Store: store}).ListResults(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "r2", got[0].ID, "newest first")
	require.Equal(t, "Bob", got[0].CandidateName)
	require.Equal(t, score.Summary{Score: 2, TotalQuestions: 2, Percentage: 100}, got[0].Summary)
	require.Equal(t, score.Summary{Score: 1, TotalQuestions: 2, Percentage: 50}, got[1].Summary)
}

func TestService_GetResult(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	record(t, store, "s1", "r1", "Ada", domain.Answers{1: domain.Choice(0), 2: nil}, time.Now())
	s := score.NewService(score.Config{Store: store})

	got, err := s.GetResult(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, []score.QuestionOutcome{
		{QuestionID: 1, Answer: domain.Choice(0), CorrectAnswer: 0, Correct: true},
		{QuestionID: 2, Answer: nil, CorrectAnswer: 1, Correct: false},
	}, got.Questions)

	_, err = s.GetResult(ctx, "missing")
	require.True(t, errors.Is(err, errors.CodeNotFound))
}

func record(t *testing.T, store *memory.Store, sessionID, resultID, name string, answers domain.Answers, at time.Time) {
	t.Helper()
	ctx := context.Background()

	test := &domain.Test{Name: "Go " + sessionID, Version: "1", Content: domain.TestContent{
		SchemaVersion: domain.ContentSchemaVersion,
		Name:          "Go " + sessionID,
		Version:       "1",
		Questions: []domain.Question{
			{ID: 1, Question: "a", Options: []string{"0", "1", "2", "3"}, CorrectAnswer: 0},
			{ID: 2, Question: "b", Options: []string{"0", "1", "2", "3"}, CorrectAnswer: 1},
		},
	}}
	require.NoError(t, store.CreateTest(ctx, test))
	require.NoError(t, store.CreateSession(ctx, &domain.TestSession{ID: sessionID, Token: "tok-" + sessionID, TestID: test.ID, ExpiresAt: at.Add(time.Hour)}))
	require.NoError(t, store.MarkSessionUsed(ctx, sessionID, at))
	require.NoError(t, store.CreateResult(ctx, &domain.TestResult{
		ID:        resultID,
		SessionID: sessionID,
		UserName:  name,
		TestName:  test.Name,
		Answers:   answers,
		AnswerKey: test.Content.AnswerKey(),
		Score:     -1, // stale on purpose, the listing must recompute
	}, at))
}
