// Package runner drives one candidate through a test: name entry, a per-question
// countdown with forced forward progression, and submission.
package runner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/score"
)

const (
	// DefaultQuestionTime is the countdown for each question.
	DefaultQuestionTime = 15 * time.Second

	tickInterval = time.Second

	msgNameRequired = "Please enter your full name"
)

type State string

const (
	StateLoading    State = "loading"
	StateNameEntry  State = "name-entry"
	StateTakingTest State = "taking-test"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Client is the candidate side of the test-session API.
type Client interface {
	FetchTest(ctx context.Context, token string) (*domain.CandidateContent, error)
	StartTest(ctx context.Context, token, userName string) error
	SubmitTest(ctx context.Context, token, userName string, answers domain.Answers) (*score.Summary, error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Config struct {
	Client Client
	Token  string
	// QuestionTime defaults to DefaultQuestionTime.
	QuestionTime  time.Duration
	NewTickerFunc func(d time.Duration) Ticker
	// OnChange, if set, is called from the engine goroutine after every state change.
	OnChange func(Snapshot)
}

// Snapshot is a copy of the engine state.
type Snapshot struct {
	State    State
	Test     *domain.CandidateContent
	UserName string
	Index    int
	TimeLeft time.Duration
	Answers  domain.Answers
	Message  string
	Result   *score.Summary
}

// Question returns the current question, nil outside taking-test.
func (s Snapshot) Question() *domain.CandidateQuestion {
	if s.State != StateTakingTest || s.Test == nil || s.Index >= len(s.Test.Questions) {
		return nil
	}
	return &s.Test.Questions[s.Index]
}

// IsLast reports whether the current question is the last one.
func (s Snapshot) IsLast() bool {
	return s.Test != nil && s.Index == len(s.Test.Questions)-1
}

func (s Snapshot) answered() bool {
	q := s.Question()
	return q != nil && s.Answers[q.ID] != nil
}

// CanNext reports whether a manual advance is allowed.
func (s Snapshot) CanNext() bool {
	return s.answered() && !s.IsLast()
}

// CanSubmit reports whether a manual submission is allowed.
func (s Snapshot) CanSubmit() bool {
	return s.answered() && s.IsLast()
}

type inputKind int

const (
	inputBegin inputKind = iota
	inputSelect
	inputNext
	inputSubmit
)

type input struct {
	kind   inputKind
	name   string
	option int
	done   chan struct{}
}

// Engine owns the state of one attempt. All state changes happen on the goroutine running
// Run: user inputs and countdown ticks are events it consumes one at a time, so a timeout
// and a manual action can never both apply to the same question.
type Engine struct {
	client    Client
	token     string
	qTime     time.Duration
	newTicker func(d time.Duration) Ticker
	onChange  func(Snapshot)

	inputs chan input
	done   chan struct{}
	ticker Ticker
	err    error

	mu sync.RWMutex
	s  Snapshot
}

func New(c Config) *Engine {
	e := &Engine{
		client:    c.Client,
		token:     c.Token,
		qTime:     c.QuestionTime,
		newTicker: c.NewTickerFunc,
		onChange:  c.OnChange,
		inputs:    make(chan input),
		done:      make(chan struct{}),
		s:         Snapshot{State: StateLoading},
	}
	if e.qTime <= 0 {
		e.qTime = DefaultQuestionTime
	}
	if e.newTicker == nil {
		e.newTicker = func(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }
	}

	return e
}

// Run loads the test and processes events until the attempt completes, fails, or ctx is
// done. It returns nil on completion and the failure otherwise.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.stopCountdown()

	t, err := e.client.FetchTest(ctx, e.token)
	if err != nil {
		e.fail(err)
		return err
	}
	e.update(func(s *Snapshot) {
		s.Test = t
		s.State = StateNameEntry
		s.Answers = make(domain.Answers, len(t.Questions))
	})

	for {
		var tick <-chan time.Time
		if e.ticker != nil {
			tick = e.ticker.C()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			e.tick(ctx)
		case in := <-e.inputs:
			e.handle(ctx, in)
			close(in.done)
		}

		switch e.Snapshot().State {
		case StateCompleted:
			return nil
		case StateError:
			return e.err
		}
	}
}

// Begin enters the candidate name and starts the test.
func (e *Engine) Begin(name string) { e.send(input{kind: inputBegin, name: name}) }

// Select picks an option for the current question.
func (e *Engine) Select(option int) { e.send(input{kind: inputSelect, option: option}) }

// Next advances to the next question when the current one is answered.
func (e *Engine) Next() { e.send(input{kind: inputNext}) }

// Submit submits on the last question when it is answered.
func (e *Engine) Submit() { e.send(input{kind: inputSubmit}) }

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := e.s
	s.Answers = make(domain.Answers, len(e.s.Answers))
	for k, v := range e.s.Answers {
		if v != nil {
			v = domain.Choice(*v)
		}
		s.Answers[k] = v
	}
	return s
}

// send blocks until the engine has processed the input or Run has returned.
func (e *Engine) send(in input) {
	in.done = make(chan struct{})
	select {
	case e.inputs <- in:
	case <-e.done:
		return
	}
	select {
	case <-in.done:
	case <-e.done:
	}
}

func (e *Engine) handle(ctx context.Context, in input) {
	s := e.Snapshot()

	switch in.kind {
	case inputBegin:
		if s.State != StateNameEntry {
			return
		}
		name := strings.TrimSpace(in.name)
		if name == "" {
			e.update(func(s *Snapshot) { s.Message = msgNameRequired })
			return
		}
		if err := e.client.StartTest(ctx, e.token, name); err != nil {
			e.fail(err)
			return
		}
		e.update(func(s *Snapshot) {
			s.UserName = name
			s.Message = ""
			s.State = StateTakingTest
			s.Index = 0
			s.TimeLeft = e.qTime
		})
		e.startCountdown()

	case inputSelect:
		q := s.Question()
		if q == nil || in.option < 0 || in.option >= len(q.Options) {
			return
		}
		e.update(func(s *Snapshot) { s.Answers[q.ID] = domain.Choice(in.option) })

	case inputNext:
		if s.State != StateTakingTest || !s.CanNext() {
			return
		}
		e.advance()

	case inputSubmit:
		if s.State != StateTakingTest || !s.CanSubmit() {
			return
		}
		e.submit(ctx)
	}
}

func (e *Engine) tick(ctx context.Context) {
	s := e.Snapshot()
	if s.State != StateTakingTest {
		e.stopCountdown()
		return
	}

	left := s.TimeLeft - tickInterval
	if left > 0 {
		e.update(func(s *Snapshot) { s.TimeLeft = left })
		return
	}

	e.update(func(s *Snapshot) { s.TimeLeft = 0 })
	if s.IsLast() {
		e.submit(ctx)
		return
	}
	e.advance()
}

func (e *Engine) advance() {
	e.update(func(s *Snapshot) {
		s.Index++
		s.TimeLeft = e.qTime
	})
	e.startCountdown()
}

func (e *Engine) submit(ctx context.Context) {
	e.stopCountdown()

	s := e.Snapshot()
	answers := make(domain.Answers, len(s.Test.Questions))
	for _, q := range s.Test.Questions {
		answers[q.ID] = s.Answers[q.ID]
	}

	res, err := e.client.SubmitTest(ctx, e.token, s.UserName, answers)
	if err != nil {
		e.fail(err)
		return
	}

	e.update(func(s *Snapshot) {
		s.State = StateCompleted
		s.Result = res
	})
}

func (e *Engine) fail(err error) {
	e.err = err
	e.stopCountdown()
	e.update(func(s *Snapshot) {
		s.State = StateError
		s.Message = errors.Convert(err).Message
	})
}

// startCountdown replaces the running countdown, if any.
func (e *Engine) startCountdown() {
	e.stopCountdown()
	e.ticker = e.newTicker(tickInterval)
}

func (e *Engine) stopCountdown() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) update(f func(s *Snapshot)) {
	e.mu.Lock()
	f(&e.s)
	e.mu.Unlock()

	if e.onChange != nil {
		e.onChange(e.Snapshot())
	}
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }
