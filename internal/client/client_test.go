package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/victornm/testlink/internal/client"
	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/runner"
)

var _ runner.Client = (*client.Client)(nil)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func TestClient_Flow(t *testing.T) {
	var submitted struct {
		UserName string         `json:"userName"`
		Answers  domain.Answers `json:"answers"`
	}

	c := makeClient(t, func(e *gin.Engine) {
		e.GET("/api/test-session/:token", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"success":   true,
				"sessionId": "s1",
				"test": gin.H{
					"name":    "Go basics",
					"version": "1",
					"questions": []gin.H{
						{"id": 1, "question": "2+2?", "options": []string{"4", "3", "5", "22"}},
					},
				},
			})
		})
		e.POST("/api/test-session/:token", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test started successfully"})
		})
		e.POST("/api/test-session/:token/submit", func(c *gin.Context) {
			if err := c.ShouldBindJSON(&submitted); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"result": gin.H{
					"id":             "r1",
					"score":          1,
					"totalQuestions": 1,
					"percentage":     100,
					"completedAt":    time.Now().UTC(),
				},
			})
		})
	})

	ctx := context.Background()

	test, err := c.FetchTest(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, "Go basics", test.Name)
	require.Len(t, test.Questions, 1)

	require.NoError(t, c.StartTest(ctx, "tok", "Ada"))

	sum, err := c.SubmitTest(ctx, "tok", "Ada", domain.Answers{1: domain.Choice(0), 2: nil})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Score)
	require.Equal(t, 100, sum.Percentage)

	require.Equal(t, "Ada", submitted.UserName)
	require.Equal(t, domain.Answers{1: domain.Choice(0), 2: nil}, submitted.Answers)
}

func TestClient_Errors(t *testing.T) {
	tests := map[string]struct {
		status  int
		body    string
		wantErr *errors.Error
	}{
		"expired": {
			status:  http.StatusGone,
			body:    `{"error":"Test link has expired"}`,
			wantErr: errors.New(errors.CodeExpired, errors.WithMessage("Test link has expired")),
		},
		"already used": {
			status:  http.StatusGone,
			body:    `{"error":"This test link has already been used"}`,
			wantErr: errors.New(errors.CodeAlreadyUsed, errors.WithMessage("This test link has already been used")),
		},
		"not found": {
			status:  http.StatusNotFound,
			body:    `{"error":"Invalid test link"}`,
			wantErr: errors.New(errors.CodeNotFound, errors.WithMessage("Invalid test link")),
		},
		"conflict": {
			status:  http.StatusConflict,
			body:    `{"error":"This test has already been completed"}`,
			wantErr: errors.New(errors.CodeAlreadyExists, errors.WithMessage("This test has already been completed")),
		},
		"bad request": {
			status:  http.StatusBadRequest,
			body:    `{"error":"User name is required"}`,
			wantErr: errors.New(errors.CodeInvalidArgument, errors.WithMessage("User name is required")),
		},
		"non json body": {
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: errors.New(errors.CodeInternal, errors.WithMessage("Bad Gateway")),
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := makeClient(t, func(e *gin.Engine) {
				e.GET("/api/test-session/:token", func(c *gin.Context) {
					c.Data(tt.status, "application/json", []byte(tt.body))
				})
			})

			_, err := c.FetchTest(context.Background(), "tok")
			require.Error(t, err)

			got := errors.Convert(err)
			require.Equal(t, tt.wantErr.Code, got.Code)
			require.Equal(t, tt.wantErr.Message, got.Message)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := client.New(srv.URL, nil)
	err := c.StartTest(context.Background(), "tok", "Ada")
	require.True(t, errors.Is(err, errors.CodeInternal))
	require.Equal(t, "Could not reach the test server", errors.Convert(err).Message)
}

func TestClient_MalformedResponse(t *testing.T) {
	c := makeClient(t, func(e *gin.Engine) {
		e.GET("/api/test-session/:token", func(c *gin.Context) {
			c.Data(http.StatusOK, "application/json", []byte("{"))
		})
	})

	_, err := c.FetchTest(context.Background(), "tok")
	require.True(t, errors.Is(err, errors.CodeInternal))
	require.Equal(t, "Unexpected response from the test server", errors.Convert(err).Message)
}

func makeClient(t *testing.T, routes func(e *gin.Engine)) *client.Client {
	e := gin.New()
	routes(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return client.New(srv.URL+"/", srv.Client())
}
