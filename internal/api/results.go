package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/testlink/internal/score"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type (
	ListResultsResponse struct {
		Success bool                `json:"success"`
		Results []score.ResultEntry `json:"results"`
	}

	ResultResponse struct {
		Success bool                `json:"success"`
		Result  *score.ResultDetail `json:"result"`
	}
)

func (a *API) ListResults(c *gin.Context) {
	rs, err := a.score.ListResults(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResultsResponse{Success: true, Results: rs})
}

func (a *API) GetResult(c *gin.Context) {
	r, err := a.score.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, ResultResponse{Success: true, Result: r})
}

// LiveResults streams result.recorded notifications over a websocket until the client
// goes away. One goroutine owns all writes to the connection.
func (a *API) LiveResults(c *gin.Context) {
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(ctx, "api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := a.subscribeResults(ctx)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case b, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				slog.InfoContext(ctx, "api: websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
