package runner_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/runner"
	"github.com/victornm/testlink/internal/score"
)

const questionTime = 3 * time.Second

func TestEngine_TimeoutsAutoSubmit(t *testing.T) {
	h := start(t, &fakeClient{test: sampleTest(3)})

	h.e.Begin("Ada")
	require.Equal(t, runner.StateTakingTest, h.e.Snapshot().State)

	h.e.Select(0)
	for i := 0; i < 3; i++ {
		h.ticks(3)
	}

	h.wait(t)
	s := h.e.Snapshot()
	require.Equal(t, runner.StateCompleted, s.State)
	require.Equal(t, domain.Answers{1: domain.Choice(0), 2: nil, 3: nil}, h.client.submitted(),
		"answers selected before a timeout are kept, the rest are null")
	require.EqualValues(t, 3, h.ticker.started.Load(), "one countdown per question")
	require.Equal(t, &score.Summary{Score: 1, TotalQuestions: 3, Percentage: 33}, s.Result)
}

func TestEngine_CountdownDecrements(t *testing.T) {
	h := start(t, &fakeClient{test: sampleTest(2)})
	h.e.Begin("Ada")

	h.ticks(1)
	h.e.Select(0) // processed after the tick

	s := h.e.Snapshot()
	require.Equal(t, questionTime-time.Second, s.TimeLeft)
	require.Equal(t, 0, s.Index)

	h.ticks(2)
	h.e.Select(1)

	s = h.e.Snapshot()
	require.Equal(t, 1, s.Index, "timeout should advance")
	require.Equal(t, questionTime, s.TimeLeft, "countdown should restart")
	require.Equal(t, domain.Choice(0), s.Answers[1], "answer of the previous question is preserved")
}

func TestEngine_NextRequiresAnswer(t *testing.T) {
	h := start(t, &fakeClient{test: sampleTest(2)})
	h.e.Begin("Ada")

	h.e.Next()
	require.Equal(t, 0, h.e.Snapshot().Index, "unanswered question should not advance")

	h.ticks(1)
	h.e.Select(3)
	h.e.Next()

	s := h.e.Snapshot()
	require.Equal(t, 1, s.Index)
	require.Equal(t, questionTime, s.TimeLeft, "manual next should restart the countdown")
	require.EqualValues(t, 2, h.ticker.started.Load())
	require.False(t, s.CanNext(), "no next on the last question")
}

func TestEngine_SubmitOnlyOnAnsweredLastQuestion(t *testing.T) {
	h := start(t, &fakeClient{test: sampleTest(2)})
	h.e.Begin("Ada")

	h.e.Select(0)
	h.e.Submit()
	require.Equal(t, runner.StateTakingTest, h.e.Snapshot().State, "submit is only allowed on the last question")

	h.e.Next()
	h.e.Submit()
	require.Equal(t, runner.StateTakingTest, h.e.Snapshot().State, "last question must be answered")

	h.e.Select(1)
	h.e.Submit()

	h.wait(t)
	require.Equal(t, runner.StateCompleted, h.e.Snapshot().State)
	require.Equal(t, domain.Answers{1: domain.Choice(0), 2: domain.Choice(1)}, h.client.submitted())
	require.EqualValues(t, 1, h.client.submits.Load())
}

func TestEngine_BlankName(t *testing.T) {
	h := start(t, &fakeClient{test: sampleTest(1)})

	h.e.Begin("  ")

	s := h.e.Snapshot()
	require.Equal(t, runner.StateNameEntry, s.State)
	require.Equal(t, "Please enter your full name", s.Message)
	require.EqualValues(t, 0, h.client.starts.Load(), "blank names never reach the server")
}

func TestEngine_Errors(t *testing.T) {
	tests := map[string]struct {
		client *fakeClient
		act    func(e *runner.Engine)
		msg    string
	}{
		"fetch failure should enter error": {
			client: &fakeClient{fetchErr: errors.New(errors.CodeExpired, errors.WithMessage("Test link has expired"))},
			act:    func(*runner.Engine) {},
			msg:    "Test link has expired",
		},
		"start failure should enter error": {
			client: &fakeClient{test: sampleTest(1), startErr: errors.New(errors.CodeAlreadyUsed, errors.WithMessage("This test link has already been used"))},
			act:    func(e *runner.Engine) { e.Begin("Ada") },
			msg:    "This test link has already been used",
		},
		"submit failure should enter error": {
			client: &fakeClient{test: sampleTest(1), submitErr: errors.New(errors.CodeExpired, errors.WithMessage("Test link has expired"))},
			act: func(e *runner.Engine) {
				e.Begin("Ada")
				e.Select(0)
				e.Submit()
			},
			msg: "Test link has expired",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := start(t, tt.client)

			tt.act(h.e)

			err := h.wait(t)
			require.Error(t, err)
			s := h.e.Snapshot()
			require.Equal(t, runner.StateError, s.State)
			require.Equal(t, tt.msg, s.Message)
		})
	}
}

func TestEngine_StopsCountdownOnCancel(t *testing.T) {
	h := start(t, &fakeClient{test: sampleTest(2)})
	h.e.Begin("Ada")

	h.cancel()
	require.ErrorIs(t, h.wait(t), context.Canceled)
	require.EqualValues(t, h.ticker.started.Load(), h.ticker.stopped.Load(), "every countdown should be stopped")
}

type harness struct {
	e      *runner.Engine
	client *fakeClient
	ticker *fakeTicker
	cancel context.CancelFunc
	errc   chan error
}

func start(t *testing.T, c *fakeClient) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		client: c,
		ticker: &fakeTicker{c: make(chan time.Time)},
		cancel: cancel,
		errc:   make(chan error, 1),
	}
	h.e = runner.New(runner.Config{
		Client:       c,
		Token:        "tok",
		QuestionTime: questionTime,
		NewTickerFunc: func(time.Duration) runner.Ticker {
			h.ticker.started.Add(1)
			return h.ticker
		},
	})

	go func() { h.errc <- h.e.Run(ctx) }()
	return h
}

// ticks delivers n ticks. Each send completes only when the engine takes it, so ticks are
// ordered with the inputs that follow.
func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.ticker.c <- time.Now()
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not finish")
		return nil
	}
}

type fakeTicker struct {
	c       chan time.Time
	started atomic.Int64
	stopped atomic.Int64
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.stopped.Add(1) }

type fakeClient struct {
	test      *domain.CandidateContent
	fetchErr  error
	startErr  error
	submitErr error

	starts  atomic.Int64
	submits atomic.Int64

	mu      sync.Mutex
	answers domain.Answers
}

func (c *fakeClient) FetchTest(context.Context, string) (*domain.CandidateContent, error) {
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return c.test, nil
}

func (c *fakeClient) StartTest(context.Context, string, string) error {
	c.starts.Add(1)
	return c.startErr
}

func (c *fakeClient) SubmitTest(_ context.Context, _, _ string, answers domain.Answers) (*score.Summary, error) {
	c.submits.Add(1)
	if c.submitErr != nil {
		return nil, c.submitErr
	}

	c.mu.Lock()
	c.answers = answers
	c.mu.Unlock()

	// Question i expects option i-1.
	correct := 0
	for id, a := range answers {
		if a != nil && *a == id-1 {
			correct++
		}
	}
	return &score.Summary{Score: correct, TotalQuestions: len(answers), Percentage: score.Percentage(correct, len(answers))}, nil
}

func (c *fakeClient) submitted() domain.Answers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers
}

func sampleTest(n int) *domain.CandidateContent {
	c := &domain.CandidateContent{Name: "Go", Version: "1"}
	for i := 1; i <= n; i++ {
		c.Questions = append(c.Questions, domain.CandidateQuestion{
			ID:       i,
			Question: "q",
			Options:  []string{"a", "b", "c", "d"},
		})
	}
	return c
}
