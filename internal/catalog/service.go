package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
)

// Store persists tests.
type Store interface {
	CreateTest(ctx context.Context, t *domain.Test) error
	ListTests(ctx context.Context) ([]domain.Test, error)
	GetTest(ctx context.Context, id int64) (*domain.Test, error)
	ReplaceTest(ctx context.Context, t *domain.Test) error
	DeleteTest(ctx context.Context, id int64) error
}

// Cache holds recently read tests. A miss is reported as (nil, nil).
type Cache interface {
	Get(ctx context.Context, id int64) (*domain.Test, error)
	Set(ctx context.Context, t *domain.Test) error
	Delete(ctx context.Context, id int64) error
}

type Config struct {
	Store Store
	// Cache is optional.
	Cache Cache
}

type Service struct {
	store Store
	cache Cache
	sf    singleflight.Group
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		cache: c.Cache,
	}
}

// TestSummary is a row of the test listing.
type TestSummary struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	QuestionCount int       `json:"questionCount"`
	EstimatedTime int       `json:"estimatedTime"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// EstimatedMinutes is one minute per question plus two for instructions.
func EstimatedMinutes(questions int) int {
	return questions + 2
}

type CreateTestRequest struct {
	Name    string
	Version string
	Content *domain.TestContent
}

// CreateTest validates and stores a new test. Name and version of the request win over
// whatever the content carries.
func (s *Service) CreateTest(ctx context.Context, req CreateTestRequest) (*domain.Test, error) {
	t, err := newTest(req.Name, req.Version, req.Content)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateTest(ctx, t); err != nil {
		return nil, mapStoreError(err)
	}

	slog.InfoContext(ctx, "catalog: test created", "id", t.ID, "name", t.Name, "version", t.Version)
	return t, nil
}

func (s *Service) ListTests(ctx context.Context) ([]TestSummary, error) {
	ts, err := s.store.ListTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}

	res := make([]TestSummary, 0, len(ts))
	for _, t := range ts {
		n := len(t.Content.Questions)
		res = append(res, TestSummary{
			ID:            t.ID,
			Name:          t.Name,
			Version:       t.Version,
			QuestionCount: n,
			EstimatedTime: EstimatedMinutes(n),
			CreatedAt:     t.CreateTime,
			UpdatedAt:     t.UpdateTime,
		})
	}

	return res, nil
}

// GetTest reads a test through the cache when one is configured. Concurrent misses for the
// same id share one store read.
func (s *Service) GetTest(ctx context.Context, id int64) (*domain.Test, error) {
	if s.cache != nil {
		t, err := s.cache.Get(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "catalog: read cache failed", "id", id, "error", err)
		}
		if t != nil {
			return t, nil
		}
	}

	v, err, _ := s.sf.Do(fmt.Sprint(id), func() (any, error) {
		// Shared by every waiter, so the first caller leaving must not cancel it.
		ctx := context.WithoutCancel(ctx)

		t, err := s.store.GetTest(ctx, id)
		if err != nil {
			return nil, err
		}

		if s.cache != nil {
			if err := s.cache.Set(ctx, t); err != nil {
				slog.ErrorContext(ctx, "catalog: fill cache failed", "id", id, "error", err)
			}
		}
		return t, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	t := *v.(*domain.Test)
	return &t, nil
}

type ReplaceTestRequest struct {
	ID      int64
	Name    string
	Version string
	Content *domain.TestContent
}

// ReplaceTest overwrites the name, version and content of an existing test. Results
// already recorded keep the answer key they were scored with.
func (s *Service) ReplaceTest(ctx context.Context, req ReplaceTestRequest) (*domain.Test, error) {
	t, err := newTest(req.Name, req.Version, req.Content)
	if err != nil {
		return nil, err
	}
	t.ID = req.ID

	if err := s.store.ReplaceTest(ctx, t); err != nil {
		return nil, mapStoreError(err)
	}
	s.invalidate(ctx, t.ID)

	return t, nil
}

// DeleteTest removes a test with its sessions and results.
func (s *Service) DeleteTest(ctx context.Context, id int64) error {
	if err := s.store.DeleteTest(ctx, id); err != nil {
		return mapStoreError(err)
	}
	s.invalidate(ctx, id)

	slog.InfoContext(ctx, "catalog: test deleted", "id", id)
	return nil
}

// ImportFile creates a test from a YAML or JSON definition on disk.
func (s *Service) ImportFile(ctx context.Context, path string) (*domain.Test, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	c, err := ParseDefinition(b)
	if err != nil {
		return nil, err
	}

	return s.CreateTest(ctx, CreateTestRequest{
		Name:    c.Name,
		Version: c.Version,
		Content: c,
	})
}

// ParseDefinition decodes a test definition. JSON is accepted as well since it is valid YAML.
func ParseDefinition(b []byte) (*domain.TestContent, error) {
	var c domain.TestContent
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("Invalid test definition: %v", err), errors.WithCause(err))
	}
	return &c, nil
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, id); err != nil {
		slog.ErrorContext(ctx, "catalog: invalidate cache failed", "id", id, "error", err)
	}
}

func newTest(name, version string, content *domain.TestContent) (*domain.Test, error) {
	name, version = strings.TrimSpace(name), strings.TrimSpace(version)
	if name == "" || version == "" || content == nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessage("Name, version, and content are required"))
	}
	if len(content.Questions) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessage("At least one question is required"))
	}

	c := *content
	c.Name, c.Version = name, version
	if c.SchemaVersion == 0 {
		c.SchemaVersion = domain.ContentSchemaVersion
	}
	if err := c.Validate(); err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessage(err.Error()), errors.WithCause(err))
	}

	return &domain.Test{Name: name, Version: version, Content: c}, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, errors.CodeNotFound):
		return errors.New(errors.CodeNotFound, errors.WithMessage("Test not found"), errors.WithCause(err))
	case errors.Is(err, errors.CodeAlreadyExists):
		return errors.New(errors.CodeAlreadyExists, errors.WithMessage("A test with this name and version already exists"), errors.WithCause(err))
	default:
		return err
	}
}
