package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/testlink/internal/catalog"
	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/leaderboard"
	"github.com/victornm/testlink/internal/session"
)

type (
	TestRequest struct {
		Name    string              `json:"name"`
		Version string              `json:"version"`
		Content *domain.TestContent `json:"content"`
	}

	Test struct {
		ID        int64               `json:"id"`
		Name      string              `json:"name"`
		Version   string              `json:"version"`
		Content   *domain.TestContent `json:"content,omitempty"`
		CreatedAt time.Time           `json:"createdAt"`
		UpdatedAt time.Time           `json:"updatedAt"`
	}

	TestResponse struct {
		Success bool `json:"success"`
		Test    Test `json:"test"`
	}

	ListTestsResponse struct {
		Success bool                  `json:"success"`
		Tests   []catalog.TestSummary `json:"tests"`
	}

	GenerateLinkResponse struct {
		Success   bool   `json:"success"`
		Link      string `json:"link"`
		Token     string `json:"token"`
		ExpiresAt string `json:"expiresAt"`
	}

	LeaderboardResponse struct {
		Success     bool               `json:"success"`
		Leaderboard domain.Leaderboard `json:"leaderboard"`
	}

	MessageResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}
)

func (a *API) ListTests(c *gin.Context) {
	ts, err := a.catalog.ListTests(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, ListTestsResponse{Success: true, Tests: ts})
}

func (a *API) CreateTest(c *gin.Context) {
	var req TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidBody(c, err)
		return
	}

	t, err := a.catalog.CreateTest(c.Request.Context(), catalog.CreateTestRequest{
		Name:    req.Name,
		Version: req.Version,
		Content: req.Content,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, TestResponse{Success: true, Test: toTest(t, false)})
}

func (a *API) GetTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}

	t, err := a.catalog.GetTest(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, TestResponse{Success: true, Test: toTest(t, true)})
}

func (a *API) ReplaceTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}

	var req TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidBody(c, err)
		return
	}

	t, err := a.catalog.ReplaceTest(c.Request.Context(), catalog.ReplaceTestRequest{
		ID:      id,
		Name:    req.Name,
		Version: req.Version,
		Content: req.Content,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, TestResponse{Success: true, Test: toTest(t, true)})
}

func (a *API) DeleteTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	t, err := a.catalog.GetTest(ctx, id)
	if err != nil {
		abort(c, err)
		return
	}

	if err := a.catalog.DeleteTest(ctx, id); err != nil {
		abort(c, err)
		return
	}

	if a.board != nil {
		if err := a.board.DeleteLeaderboard(ctx, t.Name, t.Version); err != nil {
			slog.ErrorContext(ctx, "api: delete leaderboard failed", "test", id, "error", err)
		}
	}

	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Test deleted successfully"})
}

func (a *API) GenerateLink(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}

	l, err := a.session.GenerateLink(c.Request.Context(), session.GenerateLinkRequest{
		TestID: id,
		Origin: requestOrigin(c.Request),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, GenerateLinkResponse{
		Success:   true,
		Link:      l.URL,
		Token:     l.Token,
		ExpiresAt: l.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}

	var q struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		abortInvalidBody(c, err)
		return
	}

	ctx := c.Request.Context()

	t, err := a.catalog.GetTest(ctx, id)
	if err != nil {
		abort(c, err)
		return
	}

	l, err := a.board.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		TestName:    t.Name,
		TestVersion: t.Version,
		Limit:       q.Limit,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, LeaderboardResponse{Success: true, Leaderboard: *l})
}

func toTest(t *domain.Test, withContent bool) Test {
	res := Test{
		ID:        t.ID,
		Name:      t.Name,
		Version:   t.Version,
		CreatedAt: t.CreateTime,
		UpdatedAt: t.UpdateTime,
	}
	if withContent {
		c := t.Content
		res.Content = &c
	}
	return res
}
