package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
)

// AdminSessionStore keeps admin logins in the admin_sessions table. Rows outlive their
// expiry until DeleteExpiredSessions runs.
type AdminSessionStore struct {
	db *pgxpool.Pool
}

func NewAdminSessionStore(db *pgxpool.Pool) *AdminSessionStore {
	return &AdminSessionStore{db: db}
}

func (s *AdminSessionStore) Save(ctx context.Context, as domain.AdminSession, _ time.Duration) error {
	const stmt = `
INSERT INTO admin_sessions (token, admin_id, email, expires_at)
VALUES ($1, $2, $3, $4);`

	_, err := s.db.Exec(ctx, stmt, as.Token, as.AdminID, as.Email, as.ExpiresAt)
	if isPgError(err, codeUniqueViolation) {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessage("admin session already exists"), errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert admin session: %w", err)
	}

	return nil
}

func (s *AdminSessionStore) Get(ctx context.Context, token string) (*domain.AdminSession, error) {
	const stmt = `SELECT token, admin_id, email, expires_at FROM admin_sessions WHERE token = $1;`

	var as domain.AdminSession
	err := s.db.QueryRow(ctx, stmt, token).Scan(&as.Token, &as.AdminID, &as.Email, &as.ExpiresAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessage("admin session not found"))
	}
	if err != nil {
		return nil, fmt.Errorf("query admin session: %w", err)
	}

	return &as, nil
}

func (s *AdminSessionStore) Delete(ctx context.Context, token string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM admin_sessions WHERE token = $1;`, token); err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	return nil
}

func (s *AdminSessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM admin_sessions WHERE expires_at <= $1;`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired admin sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
