package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/event"
)

func TestHTTPServerLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	e := gin.New()
	e.Use(httpServerLogger(l))
	e.GET("/api/tests/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	e.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	before := testutil.CollectAndCount(requestDuration)

	for _, p := range []string{"/api/tests/1", "/boom"} {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}

	out := buf.String()
	require.Contains(t, out, `msg="http: started call"`)
	require.Contains(t, out, "route=/api/tests/:id status=204")
	require.Contains(t, out, "level=ERROR")
	require.Contains(t, out, "route=/boom status=500")
	require.Equal(t, before+2, testutil.CollectAndCount(requestDuration))
}

func TestMonitorEvents(t *testing.T) {
	eb := event.NewBus()
	MonitorEvents(eb)

	links, started := testutil.ToFloat64(linksIssued), testutil.ToFloat64(testsStarted)
	recorded := testutil.ToFloat64(resultsRecorded.WithLabelValues("Go basics"))

	ctx := context.Background()
	eb.Publish(ctx, domain.EventLinkIssued{})
	eb.Publish(ctx, domain.EventTestStarted{})
	eb.Publish(ctx, domain.EventResultRecorded{Result: domain.TestResult{TestName: "Go basics", Score: 1, TotalQuestions: 2}})
	eb.Stop()

	require.Equal(t, links+1, testutil.ToFloat64(linksIssued))
	require.Equal(t, started+1, testutil.ToFloat64(testsStarted))
	require.Equal(t, recorded+1, testutil.ToFloat64(resultsRecorded.WithLabelValues("Go basics")))
}

func TestRedisLog(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rs := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: rs.Addr()})
	rc.AddHook(redisLog{l: l})

	ctx := context.Background()
	require.ErrorIs(t, rc.Get(ctx, "missing").Err(), redis.Nil)
	require.NotContains(t, buf.String(), "command failed", "a miss is not a failure")

	rs.SetError("boom")
	require.Error(t, rc.Set(ctx, "k", "v", 0).Err())
	require.True(t, strings.Contains(buf.String(), "redis: command failed"))
}
