package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/testlink/internal/admin"
	"github.com/victornm/testlink/internal/catalog"
	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/event"
	"github.com/victornm/testlink/internal/leaderboard"
	"github.com/victornm/testlink/internal/score"
	"github.com/victornm/testlink/internal/session"
)

const (
	sessionCookie = "session"
	adminKey      = "admin"
)

type Config struct {
	EventBus *event.Bus
	Session  *session.Service
	Catalog  *catalog.Service
	Score    *score.Service
	Admin    *admin.Service

	// Leaderboard is optional, it needs Redis.
	Leaderboard *leaderboard.Service

	// Redis carries live result notifications between instances. Without it the feed
	// only sees results recorded by this instance.
	Redis        redis.UniversalClient
	PubsubPrefix string
	// SecureCookie marks the admin session cookie Secure.
	SecureCookie bool
}

type API struct {
	eb      *event.Bus
	session *session.Service
	catalog *catalog.Service
	score   *score.Service
	admin   *admin.Service
	board   *leaderboard.Service

	redis        redis.UniversalClient
	prefix       string
	secureCookie bool
	hub          *hub
}

func New(c Config) *API {
	a := &API{
		eb:           c.EventBus,
		session:      c.Session,
		catalog:      c.Catalog,
		score:        c.Score,
		admin:        c.Admin,
		board:        c.Leaderboard,
		redis:        c.Redis,
		prefix:       c.PubsubPrefix,
		secureCookie: c.SecureCookie,
		hub:          newHub(),
	}

	a.eb.Subscribe(domain.EventNameResultRecorded, func(ctx context.Context, e event.Event) error {
		return a.PublishResultRecorded(ctx, e.(domain.EventResultRecorded))
	})
	a.eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

// Register mounts every route on r.
func (a *API) Register(r gin.IRouter) {
	g := r.Group("/api")

	ts := g.Group("/test-session/:token")
	ts.GET("", a.FetchTest)
	ts.POST("", a.StartTest)
	ts.POST("/submit", a.SubmitTest)

	g.POST("/auth/login", a.Login)
	g.POST("/auth/logout", a.Logout)

	authed := g.Group("", a.requireAdmin)
	authed.GET("/auth/me", a.Me)

	authed.GET("/tests", a.ListTests)
	authed.POST("/tests", a.CreateTest)
	authed.GET("/tests/:id", a.GetTest)
	authed.PUT("/tests/:id", a.ReplaceTest)
	authed.DELETE("/tests/:id", a.DeleteTest)
	authed.POST("/tests/:id/generate-link", a.GenerateLink)
	if a.board != nil {
		authed.GET("/tests/:id/leaderboard", a.GetLeaderboard)
	}

	authed.GET("/results", a.ListResults)
	authed.GET("/results/live", a.LiveResults)
	authed.GET("/results/:id", a.GetResult)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// abort renders err as {"error": message}. Internal failures are logged and never leak
// their cause.
func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), ErrorResponse{Error: e.Message})
}

func abortInvalidBody(c *gin.Context, err error) {
	abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessage("Invalid request body"), errors.WithCause(err)))
}

// requireAdmin accepts the first presented token that authenticates, so a stale cookie does
// not shadow a valid bearer header.
func (a *API) requireAdmin(c *gin.Context) {
	tokens := sessionTokens(c)
	if len(tokens) == 0 {
		tokens = []string{""}
	}

	var err error
	for _, t := range tokens {
		var as *domain.AdminSession
		as, err = a.admin.Authenticate(c.Request.Context(), t)
		if err == nil {
			c.Set(adminKey, as)
			c.Next()
			return
		}
		if !errors.Is(err, errors.CodeUnauthenticated) {
			break
		}
	}

	abort(c, err)
}

// sessionTokens returns the admin tokens of the request, the bearer header before the
// session cookie.
func sessionTokens(c *gin.Context) []string {
	var tokens []string

	h := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok && strings.TrimSpace(t) != "" {
		tokens = append(tokens, strings.TrimSpace(t))
	}
	if t, err := c.Cookie(sessionCookie); err == nil && t != "" && (len(tokens) == 0 || tokens[0] != t) {
		tokens = append(tokens, t)
	}
	return tokens
}

func currentAdmin(c *gin.Context) *domain.AdminSession {
	as, _ := c.MustGet(adminKey).(*domain.AdminSession)
	return as
}

func testID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessage("Invalid test ID"), errors.WithCause(err)))
		return 0, false
	}
	return id, true
}

// requestOrigin is the scheme and host the client used, honouring a TLS-terminating proxy.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	return scheme + "://" + r.Host
}
