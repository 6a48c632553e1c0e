package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store persists tests, sessions, results and admins in Postgres.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateTest(ctx context.Context, t *domain.Test) error {
	content, err := domain.MarshalContent(t.Content)
	if err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessage(err.Error()), errors.WithCause(err))
	}

	const stmt = `
INSERT INTO tests (name, version, content)
VALUES ($1, $2, $3)
RETURNING id, create_time, update_time;`

	err = s.db.QueryRow(ctx, stmt, t.Name, t.Version, content).Scan(&t.ID, &t.CreateTime, &t.UpdateTime)
	if isPgError(err, codeUniqueViolation) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("test already exists: name=%s version=%s", t.Name, t.Version),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}

	return nil
}

func (s *Store) ListTests(ctx context.Context) ([]domain.Test, error) {
	const stmt = `
SELECT id, name, version, content, create_time, update_time
FROM tests
ORDER BY create_time DESC, id DESC;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}

	return pgx.CollectRows(rows, scanTest)
}

func (s *Store) GetTest(ctx context.Context, id int64) (*domain.Test, error) {
	const stmt = `
SELECT id, name, version, content, create_time, update_time
FROM tests
WHERE id = $1;`

	rows, err := s.db.Query(ctx, stmt, id)
	if err != nil {
		return nil, fmt.Errorf("query test: %w", err)
	}

	t, err := pgx.CollectExactlyOneRow(rows, scanTest)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: id=%d", id))
	}
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func (s *Store) ReplaceTest(ctx context.Context, t *domain.Test) error {
	content, err := domain.MarshalContent(t.Content)
	if err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessage(err.Error()), errors.WithCause(err))
	}

	const stmt = `
UPDATE tests SET name = $2, version = $3, content = $4, update_time = now()
WHERE id = $1
RETURNING create_time, update_time;`

	err = s.db.QueryRow(ctx, stmt, t.ID, t.Name, t.Version, content).Scan(&t.CreateTime, &t.UpdateTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: id=%d", t.ID))
	}
	if isPgError(err, codeUniqueViolation) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("test already exists: name=%s version=%s", t.Name, t.Version),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}

	return nil
}

// DeleteTest removes a test; sessions and results go with it through ON DELETE CASCADE.
func (s *Store) DeleteTest(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tests WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: id=%d", id))
	}

	return nil
}

func (s *Store) CreateSession(ctx context.Context, ss *domain.TestSession) error {
	const stmt = `
INSERT INTO test_sessions (id, token, test_id, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING create_time, update_time;`

	err := s.db.QueryRow(ctx, stmt, ss.ID, ss.Token, ss.TestID, ss.ExpiresAt).Scan(&ss.CreateTime, &ss.UpdateTime)
	switch {
	case isPgError(err, codeForeignKeyViolation):
		return errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: id=%d", ss.TestID), errors.WithCause(err))
	case isPgError(err, codeUniqueViolation):
		return errors.New(errors.CodeAlreadyExists, errors.WithMessage("session token already exists"), errors.WithCause(err))
	case err != nil:
		return fmt.Errorf("insert session: %w", err)
	}

	ss.Used, ss.HasResult = false, false
	return nil
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (*domain.TestSession, error) {
	const stmt = `
SELECT s.id::text, s.token, s.test_id, s.expires_at, s.used, s.create_time, s.update_time,
	EXISTS (SELECT 1 FROM test_results r WHERE r.session_id = s.id) AS has_result
FROM test_sessions s
WHERE s.token = $1;`

	var ss domain.TestSession
	err := s.db.QueryRow(ctx, stmt, token).Scan(
		&ss.ID, &ss.Token, &ss.TestID, &ss.ExpiresAt, &ss.Used, &ss.CreateTime, &ss.UpdateTime, &ss.HasResult,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage("session not found"))
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	return &ss, nil
}

// MarkSessionUsed is the single-use authority: only one concurrent caller can see a row updated.
func (s *Store) MarkSessionUsed(ctx context.Context, id string, now time.Time) error {
	const stmt = `
UPDATE test_sessions s SET used = true, update_time = $2
WHERE s.id = $1
	AND s.used = false
	AND s.expires_at > $2
	AND NOT EXISTS (SELECT 1 FROM test_results r WHERE r.session_id = s.id);`

	tag, err := s.db.Exec(ctx, stmt, id, now)
	if err != nil {
		return fmt.Errorf("mark session used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeAlreadyUsed, errors.WithMessagef("session not startable: id=%s", id))
	}

	return nil
}

// CreateResult inserts r only for a started, unexpired session. The unique session_id
// constraint rejects a second result.
func (s *Store) CreateResult(ctx context.Context, r *domain.TestResult, now time.Time) error {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	key, err := json.Marshal(r.AnswerKey)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}

	const stmt = `
INSERT INTO test_results (id, session_id, user_name, test_name, test_version, answers, answer_key, score, total_questions, completed_at)
SELECT $1::uuid, s.id, $3::text, $4::text, $5::text, $6::jsonb, $7::jsonb, $8::int, $9::int, $10::timestamptz
FROM test_sessions s
WHERE s.id = $2::uuid AND s.used AND s.expires_at > $10::timestamptz;`

	tag, err := s.db.Exec(ctx, stmt,
		r.ID, r.SessionID, r.UserName, r.TestName, r.TestVersion, answers, key, r.Score, r.TotalQuestions, now)
	if isPgError(err, codeUniqueViolation) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("result already exists: session=%s", r.SessionID),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session not submittable: id=%s", r.SessionID))
	}

	r.CompletedAt = now
	return nil
}

const selectResult = `
SELECT id::text, session_id::text, user_name, test_name, test_version, answers, answer_key, score, total_questions, completed_at
FROM test_results`

func (s *Store) ListResults(ctx context.Context) ([]domain.TestResult, error) {
	rows, err := s.db.Query(ctx, selectResult+` ORDER BY completed_at DESC;`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	return pgx.CollectRows(rows, scanResult)
}

func (s *Store) GetResult(ctx context.Context, id string) (*domain.TestResult, error) {
	rows, err := s.db.Query(ctx, selectResult+` WHERE id::text = $1;`, id)
	if err != nil {
		return nil, fmt.Errorf("query result: %w", err)
	}

	r, err := pgx.CollectExactlyOneRow(rows, scanResult)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("result not found: id=%s", id))
	}
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *Store) CreateAdmin(ctx context.Context, a *domain.Admin) error {
	const stmt = `
INSERT INTO admins (email, password_hash)
VALUES ($1, $2)
RETURNING id, create_time;`

	err := s.db.QueryRow(ctx, stmt, strings.ToLower(a.Email), a.PasswordHash).Scan(&a.ID, &a.CreateTime)
	if isPgError(err, codeUniqueViolation) {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("admin already exists: email=%s", a.Email), errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}

	return nil
}

func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*domain.Admin, error) {
	const stmt = `SELECT id, email, password_hash, create_time FROM admins WHERE email = $1;`

	var a domain.Admin
	err := s.db.QueryRow(ctx, stmt, strings.ToLower(email)).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreateTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage("admin not found"))
	}
	if err != nil {
		return nil, fmt.Errorf("query admin: %w", err)
	}

	return &a, nil
}

func scanTest(r pgx.CollectableRow) (domain.Test, error) {
	var (
		t   domain.Test
		raw []byte
	)
	if err := r.Scan(&t.ID, &t.Name, &t.Version, &raw, &t.CreateTime, &t.UpdateTime); err != nil {
		return domain.Test{}, err
	}

	c, err := domain.UnmarshalContent(raw)
	if err != nil {
		return domain.Test{}, fmt.Errorf("test %d: %w", t.ID, err)
	}
	t.Content = c

	return t, nil
}

func scanResult(r pgx.CollectableRow) (domain.TestResult, error) {
	var (
		res          domain.TestResult
		answers, key []byte
	)
	err := r.Scan(&res.ID, &res.SessionID, &res.UserName, &res.TestName, &res.TestVersion,
		&answers, &key, &res.Score, &res.TotalQuestions, &res.CompletedAt)
	if err != nil {
		return domain.TestResult{}, err
	}

	if err := json.Unmarshal(answers, &res.Answers); err != nil {
		return domain.TestResult{}, fmt.Errorf("result %s: decode answers: %w", res.ID, err)
	}
	if err := json.Unmarshal(key, &res.AnswerKey); err != nil {
		return domain.TestResult{}, fmt.Errorf("result %s: decode answer key: %w", res.ID, err)
	}

	return res, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == code
}
