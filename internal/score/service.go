package score

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
)

// Store reads persisted results.
type Store interface {
	ListResults(ctx context.Context) ([]domain.TestResult, error)
	GetResult(ctx context.Context, id string) (*domain.TestResult, error)
}

type Config struct {
	Store Store
}

type Service struct {
	store Store
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
	}
}

// ResultEntry is a result row of the admin listing.
type ResultEntry struct {
	ID            string    `json:"id"`
	CandidateName string    `json:"candidateName"`
	TestName      string    `json:"testName"`
	TestVersion   string    `json:"testVersion"`
	CompletedAt   time.Time `json:"completedAt"`
	Summary
}

// NewResultEntry builds a listing row, recomputing the score from the stored answers.
func NewResultEntry(r domain.TestResult) ResultEntry {
	return ResultEntry{
		ID:            r.ID,
		CandidateName: r.UserName,
		TestName:      r.TestName,
		TestVersion:   r.TestVersion,
		CompletedAt:   r.CompletedAt,
		Summary:       Recompute(r),
	}
}

// ListResults returns every result, newest first, with scores recomputed from the stored answers.
func (s *Service) ListResults(ctx context.Context) ([]ResultEntry, error) {
	rs, err := s.store.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].CompletedAt.After(rs[j].CompletedAt)
	})

	entries := make([]ResultEntry, 0, len(rs))
	for _, r := range rs {
		entries = append(entries, NewResultEntry(r))
	}

	return entries, nil
}

type QuestionOutcome struct {
	QuestionID    int  `json:"questionId"`
	Answer        *int `json:"answer"`
	CorrectAnswer int  `json:"correctAnswer"`
	Correct       bool `json:"correct"`
}

type ResultDetail struct {
	ResultEntry
	Questions []QuestionOutcome `json:"questions"`
}

// GetResult returns one result with a per-question breakdown ordered by question id.
func (s *Service) GetResult(ctx context.Context, id string) (*ResultDetail, error) {
	r, err := s.store.GetResult(ctx, id)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage("Result not found"), errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	d := &ResultDetail{
		ResultEntry: NewResultEntry(*r),
		Questions:   make([]QuestionOutcome, 0, len(r.AnswerKey)),
	}

	for qid, correct := range r.AnswerKey {
		a := r.Answers[qid]
		d.Questions = append(d.Questions, QuestionOutcome{
			QuestionID:    qid,
			Answer:        a,
			CorrectAnswer: correct,
			Correct:       a != nil && *a == correct,
		})
	}
	sort.Slice(d.Questions, func(i, j int) bool {
		return d.Questions[i].QuestionID < d.Questions[j].QuestionID
	})

	return d, nil
}
