package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/event"
	"github.com/victornm/testlink/internal/score"
)

// DefaultLinkTTL is how long an issued link stays valid.
const DefaultLinkTTL = 7 * 24 * time.Hour

const (
	msgInvalidLink    = "Invalid test link"
	msgExpired        = "Test link has expired"
	msgAlreadyUsed    = "This test link has already been used"
	msgCompleted      = "This test has already been completed"
	msgNotStarted     = "Test session was not properly started"
	msgNameRequired   = "User name is required"
	msgAnswerRequired = "Answers are required"
)

// Store persists sessions and results. MarkSessionUsed and CreateResult must be atomic
// conditional writes.
type Store interface {
	CreateSession(ctx context.Context, ss *domain.TestSession) error
	GetSessionByToken(ctx context.Context, token string) (*domain.TestSession, error)
	MarkSessionUsed(ctx context.Context, id string, now time.Time) error
	CreateResult(ctx context.Context, r *domain.TestResult, now time.Time) error
}

// TestReader looks up the test a session belongs to.
type TestReader interface {
	GetTest(ctx context.Context, id int64) (*domain.Test, error)
}

type Config struct {
	Store    Store
	Tests    TestReader
	EventBus *event.Bus
	// LinkTTL defaults to DefaultLinkTTL.
	LinkTTL time.Duration
	// PublicURL, when set, is the origin of issued links instead of the request origin.
	PublicURL string
	Clock     func() time.Time
}

type Service struct {
	store     Store
	tests     TestReader
	eb        *event.Bus
	linkTTL   time.Duration
	publicURL string
	clock     func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:     c.Store,
		tests:     c.Tests,
		eb:        c.EventBus,
		linkTTL:   c.LinkTTL,
		publicURL: strings.TrimRight(c.PublicURL, "/"),
		clock:     c.Clock,
	}
	if s.linkTTL <= 0 {
		s.linkTTL = DefaultLinkTTL
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	return s
}

type GenerateLinkRequest struct {
	TestID int64
	// Origin is the scheme and host the request came in on.
	Origin string
}

type Link struct {
	SessionID string
	Token     string
	URL       string
	ExpiresAt time.Time
}

// GenerateLink issues a new single-use link for a test.
func (s *Service) GenerateLink(ctx context.Context, req GenerateLinkRequest) (*Link, error) {
	if _, err := s.tests.GetTest(ctx, req.TestID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}
	token, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	ss := &domain.TestSession{
		ID:        id.String(),
		Token:     token.String(),
		TestID:    req.TestID,
		ExpiresAt: s.clock().Add(s.linkTTL).UTC(),
	}
	if err := s.store.CreateSession(ctx, ss); err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessage("Test not found"), errors.WithCause(err))
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLinkIssued{Session: *ss})

	origin := s.publicURL
	if origin == "" {
		origin = strings.TrimRight(req.Origin, "/")
	}

	return &Link{
		SessionID: ss.ID,
		Token:     ss.Token,
		URL:       fmt.Sprintf("%s/test/%s", origin, ss.Token),
		ExpiresAt: ss.ExpiresAt,
	}, nil
}

type FetchTestResponse struct {
	SessionID string
	Test      domain.CandidateContent
}

// FetchTest returns the test behind a token without the correct answers. It never
// changes the session.
func (s *Service) FetchTest(ctx context.Context, token string) (*FetchTestResponse, error) {
	ss, err := s.getSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := checkStartable(ss, s.clock()); err != nil {
		return nil, err
	}

	t, err := s.getTest(ctx, ss)
	if err != nil {
		return nil, err
	}

	return &FetchTestResponse{
		SessionID: ss.ID,
		Test:      t.Content.ForCandidate(),
	}, nil
}

type StartTestRequest struct {
	Token    string
	UserName string
}

// StartTest consumes the single use of the link. Of concurrent starts on one token
// exactly one succeeds.
func (s *Service) StartTest(ctx context.Context, req StartTestRequest) error {
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessage(msgNameRequired))
	}

	ss, err := s.getSession(ctx, req.Token)
	if err != nil {
		return err
	}

	now := s.clock()
	if err := checkStartable(ss, now); err != nil {
		return err
	}

	if err := s.store.MarkSessionUsed(ctx, ss.ID, now); err != nil {
		if errors.Is(err, errors.CodeAlreadyUsed) {
			// Lost the conditional update. Expiry still takes precedence over used.
			if ss.Expired(s.clock()) {
				return errors.New(errors.CodeExpired, errors.WithMessage(msgExpired))
			}
			return errors.New(errors.CodeAlreadyUsed, errors.WithMessage(msgAlreadyUsed), errors.WithCause(err))
		}
		if errors.Is(err, errors.CodeNotFound) {
			return errors.New(errors.CodeNotFound, errors.WithMessage(msgInvalidLink), errors.WithCause(err))
		}
		return fmt.Errorf("mark session used: %w", err)
	}

	slog.InfoContext(ctx, "session: test started", "session", ss.ID)
	s.eb.Publish(ctx, domain.EventTestStarted{SessionID: ss.ID, UserName: name})
	return nil
}

type SubmitTestRequest struct {
	Token    string
	UserName string
	Answers  domain.Answers
}

type SubmitTestResponse struct {
	ResultID    string
	CompletedAt time.Time
	score.Summary
}

// SubmitTest scores the answers server-side and records the single result of the session.
func (s *Service) SubmitTest(ctx context.Context, req SubmitTestRequest) (*SubmitTestResponse, error) {
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessage(msgNameRequired))
	}
	if req.Answers == nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessage(msgAnswerRequired))
	}

	ss, err := s.getSession(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if err := checkSubmittable(ss, s.clock()); err != nil {
		return nil, err
	}

	t, err := s.getTest(ctx, ss)
	if err != nil {
		return nil, err
	}

	answers, err := normalizeAnswers(t.Content.Questions, req.Answers)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate result ID: %w", err)
	}

	sum := score.Summarize(t.Content.Questions, answers)
	r := &domain.TestResult{
		ID:             id.String(),
		SessionID:      ss.ID,
		UserName:       name,
		TestName:       t.Content.Name,
		TestVersion:    t.Content.Version,
		Answers:        answers,
		AnswerKey:      t.Content.AnswerKey(),
		Score:          sum.Score,
		TotalQuestions: sum.TotalQuestions,
	}

	now := s.clock()
	if err := s.store.CreateResult(ctx, r, now); err != nil {
		return nil, s.resultError(ctx, req.Token, err)
	}

	slog.InfoContext(ctx, "session: result recorded", "session", ss.ID, "result", r.ID, "score", r.Score)
	s.eb.Publish(ctx, domain.EventResultRecorded{Result: *r})

	return &SubmitTestResponse{
		ResultID:    r.ID,
		CompletedAt: r.CompletedAt,
		Summary:     sum,
	}, nil
}

// resultError explains a rejected conditional insert by re-reading the session.
func (s *Service) resultError(ctx context.Context, token string, err error) error {
	switch {
	case errors.Is(err, errors.CodeAlreadyExists):
		return errors.New(errors.CodeAlreadyExists, errors.WithMessage(msgCompleted), errors.WithCause(err))
	case errors.Is(err, errors.CodeFailedPrecondition), errors.Is(err, errors.CodeNotFound):
		ss, rerr := s.getSession(ctx, token)
		if rerr != nil {
			return rerr
		}
		if cerr := checkSubmittable(ss, s.clock()); cerr != nil {
			return cerr
		}
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessage(msgNotStarted), errors.WithCause(err))
	default:
		return fmt.Errorf("create result: %w", err)
	}
}

func (s *Service) getSession(ctx context.Context, token string) (*domain.TestSession, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage(msgInvalidLink))
	}

	ss, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessage(msgInvalidLink), errors.WithCause(err))
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return ss, nil
}

func (s *Service) getTest(ctx context.Context, ss *domain.TestSession) (*domain.Test, error) {
	t, err := s.tests.GetTest(ctx, ss.TestID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessage(msgInvalidLink), errors.WithCause(err))
		}
		return nil, fmt.Errorf("get test %d: %w", ss.TestID, err)
	}
	return t, nil
}

// checkStartable applies the fetch and start rules. Expiry is checked first.
func checkStartable(ss *domain.TestSession, now time.Time) error {
	if ss.Expired(now) {
		return errors.New(errors.CodeExpired, errors.WithMessage(msgExpired))
	}
	if ss.Exhausted() {
		return errors.New(errors.CodeAlreadyUsed, errors.WithMessage(msgAlreadyUsed))
	}
	return nil
}

func checkSubmittable(ss *domain.TestSession, now time.Time) error {
	if ss.Expired(now) {
		return errors.New(errors.CodeExpired, errors.WithMessage(msgExpired))
	}
	if ss.HasResult {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessage(msgCompleted))
	}
	if !ss.Used {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessage(msgNotStarted))
	}
	return nil
}

// normalizeAnswers rejects answers the test cannot hold and returns a map with an entry,
// possibly nil, for every question.
func normalizeAnswers(questions []domain.Question, answers domain.Answers) (domain.Answers, error) {
	known := make(map[int]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}

	var unknown []int
	for id := range answers {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Ints(unknown)
		ids := make([]string, 0, len(unknown))
		for _, id := range unknown {
			ids = append(ids, fmt.Sprint(id))
		}
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("Unknown question ids: %s", strings.Join(ids, ", ")))
	}

	res := make(domain.Answers, len(questions))
	for _, q := range questions {
		a := answers[q.ID]
		if a != nil && !domain.ValidOption(*a) {
			return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("Invalid answer for question %d", q.ID))
		}
		if a != nil {
			a = domain.Choice(*a)
		}
		res[q.ID] = a
	}

	return res, nil
}
