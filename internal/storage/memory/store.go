package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
)

// Store keeps every entity in process memory. All mutations happen under one lock,
// which gives the same conditional-update guarantees the Postgres store gets from SQL.
type Store struct {
	clock func() time.Time

	mu       sync.RWMutex
	nextTest int64
	nextUser int64
	tests    map[int64]domain.Test
	sessions map[string]domain.TestSession // by id
	tokens   map[string]string             // token -> session id
	results  map[string]domain.TestResult  // by id
	bySess   map[string]string             // session id -> result id
	admins   map[string]domain.Admin       // by lowercased email
}

func NewStore() *Store {
	return &Store{
		clock:    time.Now,
		tests:    make(map[int64]domain.Test),
		sessions: make(map[string]domain.TestSession),
		tokens:   make(map[string]string),
		results:  make(map[string]domain.TestResult),
		bySess:   make(map[string]string),
		admins:   make(map[string]domain.Admin),
	}
}

func (s *Store) CreateTest(_ context.Context, t *domain.Test) error {
	if err := t.Content.Validate(); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessage(err.Error()), errors.WithCause(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTakenLocked(t.Name, t.Version, 0) {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("test already exists: name=%s version=%s", t.Name, t.Version))
	}

	s.nextTest++
	now := s.clock()
	t.ID = s.nextTest
	t.CreateTime, t.UpdateTime = now, now
	s.tests[t.ID] = *t
	return nil
}

func (s *Store) ListTests(_ context.Context) ([]domain.Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := make([]domain.Test, 0, len(s.tests))
	for _, t := range s.tests {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID > ts[j].ID })
	return ts, nil
}

func (s *Store) GetTest(_ context.Context, id int64) (*domain.Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tests[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: id=%d", id))
	}
	return &t, nil
}

func (s *Store) ReplaceTest(_ context.Context, t *domain.Test) error {
	if err := t.Content.Validate(); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessage(err.Error()), errors.WithCause(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tests[t.ID]
	if !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: id=%d", t.ID))
	}
	if s.nameTakenLocked(t.Name, t.Version, t.ID) {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("test already exists: name=%s version=%s", t.Name, t.Version))
	}

	t.CreateTime = old.CreateTime
	t.UpdateTime = s.clock()
	s.tests[t.ID] = *t
	return nil
}

func (s *Store) DeleteTest(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tests[id]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: id=%d", id))
	}
	delete(s.tests, id)

	for sid, ss := range s.sessions {
		if ss.TestID != id {
			continue
		}
		if rid, ok := s.bySess[sid]; ok {
			delete(s.results, rid)
			delete(s.bySess, sid)
		}
		delete(s.tokens, ss.Token)
		delete(s.sessions, sid)
	}
	return nil
}

func (s *Store) nameTakenLocked(name, version string, except int64) bool {
	for _, t := range s.tests {
		if t.ID != except && t.Name == name && t.Version == version {
			return true
		}
	}
	return false
}

func (s *Store) CreateSession(_ context.Context, ss *domain.TestSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tests[ss.TestID]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: id=%d", ss.TestID))
	}
	if _, ok := s.tokens[ss.Token]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessage("session token already exists"))
	}

	now := s.clock()
	ss.CreateTime, ss.UpdateTime = now, now
	ss.Used, ss.HasResult = false, false
	s.sessions[ss.ID] = *ss
	s.tokens[ss.Token] = ss.ID
	return nil
}

func (s *Store) GetSessionByToken(_ context.Context, token string) (*domain.TestSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage("session not found"))
	}
	ss := s.sessions[id]
	_, ss.HasResult = s.bySess[id]
	return &ss, nil
}

// MarkSessionUsed flips used to true only when the session is unused, unexpired and has no result.
func (s *Store) MarkSessionUsed(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.sessions[id]
	if !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessage("session not found"))
	}
	_, hasResult := s.bySess[id]
	if ss.Used || hasResult || ss.Expired(now) {
		return errors.New(errors.CodeAlreadyUsed, errors.WithMessagef("session not startable: id=%s", id))
	}

	ss.Used = true
	ss.UpdateTime = now
	s.sessions[id] = ss
	return nil
}

// CreateResult stores r only for a started, unexpired session without a result.
func (s *Store) CreateResult(_ context.Context, r *domain.TestResult, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.sessions[r.SessionID]
	if !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessage("session not found"))
	}
	if _, ok := s.bySess[r.SessionID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("result already exists: session=%s", r.SessionID))
	}
	if !ss.Used || ss.Expired(now) {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session not submittable: id=%s", r.SessionID))
	}

	r.CompletedAt = now
	s.results[r.ID] = cloneResult(*r)
	s.bySess[r.SessionID] = r.ID
	return nil
}

func (s *Store) ListResults(_ context.Context) ([]domain.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs := make([]domain.TestResult, 0, len(s.results))
	for _, r := range s.results {
		rs = append(rs, cloneResult(r))
	}
	return rs, nil
}

func (s *Store) GetResult(_ context.Context, id string) (*domain.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("result not found: id=%s", id))
	}
	r = cloneResult(r)
	return &r, nil
}

func (s *Store) CreateAdmin(_ context.Context, a *domain.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(a.Email)
	if _, ok := s.admins[key]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("admin already exists: email=%s", a.Email))
	}
	s.nextUser++
	a.ID = s.nextUser
	a.CreateTime = s.clock()
	s.admins[key] = *a
	return nil
}

func (s *Store) GetAdminByEmail(_ context.Context, email string) (*domain.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.admins[strings.ToLower(email)]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage("admin not found"))
	}
	return &a, nil
}

func cloneResult(r domain.TestResult) domain.TestResult {
	answers := make(domain.Answers, len(r.Answers))
	for k, v := range r.Answers {
		if v != nil {
			v = domain.Choice(*v)
		}
		answers[k] = v
	}
	key := make(domain.AnswerKey, len(r.AnswerKey))
	for k, v := range r.AnswerKey {
		key[k] = v
	}
	r.Answers, r.AnswerKey = answers, key
	return r
}
