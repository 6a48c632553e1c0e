package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/session"
)

type (
	FetchTestResponse struct {
		Success   bool                    `json:"success"`
		Test      domain.CandidateContent `json:"test"`
		SessionID string                  `json:"sessionId"`
	}

	StartTestRequest struct {
		UserName string `json:"userName"`
	}

	StartTestResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	SubmitTestRequest struct {
		UserName string         `json:"userName"`
		Answers  domain.Answers `json:"answers"`
	}

	SubmitTestResponse struct {
		Success bool         `json:"success"`
		Result  SubmitResult `json:"result"`
	}

	SubmitResult struct {
		ID             string    `json:"id"`
		Score          int       `json:"score"`
		TotalQuestions int       `json:"totalQuestions"`
		Percentage     int       `json:"percentage"`
		CompletedAt    time.Time `json:"completedAt"`
	}
)

func (a *API) FetchTest(c *gin.Context) {
	res, err := a.session.FetchTest(c.Request.Context(), c.Param("token"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, FetchTestResponse{
		Success:   true,
		Test:      res.Test,
		SessionID: res.SessionID,
	})
}

func (a *API) StartTest(c *gin.Context) {
	var req StartTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidBody(c, err)
		return
	}

	err := a.session.StartTest(c.Request.Context(), session.StartTestRequest{
		Token:    c.Param("token"),
		UserName: req.UserName,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, StartTestResponse{
		Success: true,
		Message: "Test started successfully",
	})
}

func (a *API) SubmitTest(c *gin.Context) {
	var req SubmitTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidBody(c, err)
		return
	}

	res, err := a.session.SubmitTest(c.Request.Context(), session.SubmitTestRequest{
		Token:    c.Param("token"),
		UserName: req.UserName,
		Answers:  req.Answers,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitTestResponse{
		Success: true,
		Result: SubmitResult{
			ID:             res.ResultID,
			Score:          res.Score,
			TotalQuestions: res.TotalQuestions,
			Percentage:     res.Percentage,
			CompletedAt:    res.CompletedAt,
		},
	})
}
