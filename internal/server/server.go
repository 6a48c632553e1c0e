package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/testlink/internal/admin"
	"github.com/victornm/testlink/internal/api"
	"github.com/victornm/testlink/internal/catalog"
	apperrors "github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/event"
	"github.com/victornm/testlink/internal/leaderboard"
	"github.com/victornm/testlink/internal/score"
	"github.com/victornm/testlink/internal/session"
	"github.com/victornm/testlink/internal/storage/memory"
	"github.com/victornm/testlink/internal/storage/postgres"
	"github.com/victornm/testlink/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
		// PublicURL is the origin used in issued links, the request origin when empty.
		PublicURL string
		// SecureCookie marks the admin cookie Secure, set it behind TLS.
		SecureCookie bool
	}

	// Postgres is optional, an empty Addr keeps everything in memory.
	Postgres PostgresConfig

	// Redis is optional. Without it admin sessions live in Postgres (in memory when that is
	// missing too), the catalog is not cached, the live feed is local and there is no
	// leaderboard.
	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Session struct {
		LinkTTL time.Duration
	}

	Admin struct {
		SessionTTL    time.Duration
		SweepInterval time.Duration

		// Email and Password, when both set, create that admin at startup if missing.
		Email    string
		Password string
	}

	Catalog struct {
		CacheTTL time.Duration
	}
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

// DSN is the connection string of the database.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.User, c.Pass, c.Addr, c.Name)
}

// DefaultConfig is merged under the config file.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.Redis.Prefix = "testlink"
	c.Session.LinkTTL = session.DefaultLinkTTL
	c.Admin.SessionTTL = admin.DefaultSessionTTL
	c.Admin.SweepInterval = time.Hour
	c.Catalog.CacheTTL = 10 * time.Minute
	return c
}

// Store is everything the services persist.
type Store interface {
	catalog.Store
	session.Store
	score.Store
	admin.Store
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		store    Store
		sessions admin.SessionStore
	}

	service struct {
		catalog     *catalog.Service
		session     *session.Service
		score       *score.Service
		admin       *admin.Service
		leaderboard *leaderboard.Service
	}

	http *http.Server

	// ctx is cancelled on shutdown to stop background workers.
	ctx  context.Context
	stop context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}
	s.ctx, s.stop = context.WithCancel(context.Background())

	s.eb = event.NewBus()
	telemetry.MonitorEvents(s.eb)

	if err := s.initInfra(); err != nil {
		s.Close()
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	if err := s.bootstrapAdmin(); err != nil {
		s.Close()
		return nil, fmt.Errorf("server: bootstrap admin: %w", err)
	}

	s.initAPI()
	return s, nil
}

// Catalog and Admin expose the wired services to the CLI.
func (s *Server) Catalog() *catalog.Service { return s.service.catalog }

func (s *Server) Admin() *admin.Service { return s.service.admin }

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	switch {
	case s.infra.redis != nil:
		s.infra.sessions = admin.NewRedisSessionStore(s.infra.redis, s.c.Redis.Prefix)
	case s.infra.postgres != nil:
		s.infra.sessions = postgres.NewAdminSessionStore(s.infra.postgres)
	default:
		slog.Info("server: using in-memory admin sessions")
		s.infra.sessions = admin.NewMemorySessionStore()
	}

	return nil
}

func (s *Server) initRedis() error {
	if len(s.c.Redis.Addrs) == 0 {
		slog.Info("server: redis not configured")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	if s.c.Postgres.Addr == "" {
		slog.Info("server: postgres not configured, using in-memory store")
		s.infra.store = memory.NewStore()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(s.c.Postgres.DSN())
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	s.infra.store = postgres.NewStore(db)
	return nil
}

func (s *Server) initService() {
	var cache catalog.Cache
	if s.infra.redis != nil {
		cache = catalog.NewRedisCache(s.infra.redis, s.c.Redis.Prefix, s.c.Catalog.CacheTTL)
	}

	s.service.catalog = catalog.NewService(catalog.Config{
		Store: s.infra.store,
		Cache: cache,
	})

	s.service.session = session.NewService(session.Config{
		Store:     s.infra.store,
		Tests:     s.service.catalog,
		EventBus:  s.eb,
		LinkTTL:   s.c.Session.LinkTTL,
		PublicURL: s.c.HTTP.PublicURL,
	})

	s.service.score = score.NewService(score.Config{
		Store: s.infra.store,
	})

	s.service.admin = admin.NewService(admin.Config{
		Store:      s.infra.store,
		Sessions:   s.infra.sessions,
		SessionTTL: s.c.Admin.SessionTTL,
	})

	if s.infra.redis != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
	}
}

func (s *Server) bootstrapAdmin() error {
	if s.c.Admin.Email == "" || s.c.Admin.Password == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := s.service.admin.CreateAdmin(ctx, admin.CreateAdminRequest{
		Email:    s.c.Admin.Email,
		Password: s.c.Admin.Password,
	})
	if apperrors.Is(err, apperrors.CodeAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "server: created admin", "admin", a.ID, "email", a.Email)
	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPServerMiddleware())

	api.New(api.Config{
		EventBus:     s.eb,
		Session:      s.service.session,
		Catalog:      s.service.catalog,
		Score:        s.service.score,
		Admin:        s.service.admin,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis,
		PubsubPrefix: s.c.Redis.Prefix,
		SecureCookie: s.c.HTTP.SecureCookie,
	}).Register(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx := c.Request.Context()

	if s.infra.postgres != nil {
		if err := s.infra.postgres.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "postgres unavailable"})
			return
		}
	}
	if s.infra.redis != nil {
		if err := s.infra.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() {
	ctx := s.ctx

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		s.service.admin.RunSweeper(ctx, s.c.Admin.SweepInterval)
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.stop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}

// Close releases the connections opened by Init.
func (s *Server) Close() {
	s.stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}
	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.Error("server: close redis failed", "error", err)
		}
	}
}
