package admin

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
)

const (
	// DefaultSessionTTL is how long a login stays valid.
	DefaultSessionTTL = 24 * time.Hour

	minPasswordLength = 8
)

// Store persists admin accounts.
type Store interface {
	CreateAdmin(ctx context.Context, a *domain.Admin) error
	GetAdminByEmail(ctx context.Context, email string) (*domain.Admin, error)
}

// SessionStore keeps logins. Get returns a CodeNotFound error for unknown tokens; whether a
// session is still valid is decided by the Service clock. ttl is how long the store must keep
// the session at least.
type SessionStore interface {
	Save(ctx context.Context, s domain.AdminSession, ttl time.Duration) error
	Get(ctx context.Context, token string) (*domain.AdminSession, error)
	Delete(ctx context.Context, token string) error
}

// SessionSweeper is implemented by session stores that do not expire entries by themselves.
type SessionSweeper interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	Store      Store
	Sessions   SessionStore
	SessionTTL time.Duration
	Clock      func() time.Time
}

type Service struct {
	store    Store
	sessions SessionStore
	ttl      time.Duration
	clock    func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		sessions: c.Sessions,
		ttl:      c.SessionTTL,
		clock:    c.Clock,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultSessionTTL
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	return s
}

// SessionTTL is the lifetime of a login.
func (s *Service) SessionTTL() time.Duration {
	return s.ttl
}

type LoginRequest struct {
	Email    string
	Password string
}

// Login checks the credentials and opens a session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*domain.AdminSession, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessage("Email and password are required"))
	}

	a, err := s.store.GetAdminByEmail(ctx, email)
	if errors.Is(err, errors.CodeNotFound) {
		// Unknown emails pay the same bcrypt cost as wrong passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(req.Password))
		return nil, invalidCredentials(err)
	}
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(req.Password)); err != nil {
		if stderrors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, invalidCredentials(err)
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}

	token, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	as := domain.AdminSession{
		Token:     token.String(),
		AdminID:   a.ID,
		Email:     a.Email,
		ExpiresAt: s.clock().Add(s.ttl),
	}
	if err := s.sessions.Save(ctx, as, s.ttl); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	slog.InfoContext(ctx, "admin: logged in", "admin", a.ID)
	return &as, nil
}

// Authenticate resolves a session token to its admin.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.AdminSession, error) {
	if token == "" {
		return nil, notAuthenticated(nil)
	}

	as, err := s.sessions.Get(ctx, token)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, notAuthenticated(err)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if !s.clock().Before(as.ExpiresAt) {
		if err := s.sessions.Delete(ctx, token); err != nil {
			slog.ErrorContext(ctx, "admin: delete expired session failed", "error", err)
		}
		return nil, notAuthenticated(nil)
	}

	return as, nil
}

// Logout drops the session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, token)
}

// RunSweeper deletes expired sessions every interval until ctx is done. It returns at once
// when the session store expires entries by itself.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	sw, ok := s.sessions.(SessionSweeper)
	if !ok || interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sw.DeleteExpiredSessions(ctx, s.clock())
			if err != nil {
				slog.ErrorContext(ctx, "admin: sweep sessions failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, fmt.Sprintf("admin: swept %d expired sessions", n))
			}
		}
	}
}

type CreateAdminRequest struct {
	Email    string
	Password string
}

func (s *Service) CreateAdmin(ctx context.Context, req CreateAdminRequest) (*domain.Admin, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessage("Email and password are required"))
	}
	if len(req.Password) < minPasswordLength {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("Password must be at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &domain.Admin{Email: email, PasswordHash: string(hash)}
	if err := s.store.CreateAdmin(ctx, a); err != nil {
		if errors.Is(err, errors.CodeAlreadyExists) {
			return nil, errors.New(errors.CodeAlreadyExists, errors.WithMessage("An admin with this email already exists"), errors.WithCause(err))
		}
		return nil, fmt.Errorf("create admin: %w", err)
	}

	return a, nil
}

var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("testlink-dummy-password"), bcrypt.DefaultCost)
	return h
})

func invalidCredentials(err error) error {
	return errors.New(errors.CodeUnauthenticated, errors.WithMessage("Invalid email or password"), errors.WithCause(err))
}

func notAuthenticated(err error) error {
	return errors.New(errors.CodeUnauthenticated, errors.WithMessage("Not authenticated"), errors.WithCause(err))
}
