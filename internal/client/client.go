// Package client calls the candidate endpoints of the test-session API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/victornm/testlink/internal/api"
	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/score"
)

const (
	defaultTimeout = 30 * time.Second

	msgExpired = "Test link has expired"
)

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL. A nil hc uses a client with a 30s timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

func (c *Client) FetchTest(ctx context.Context, token string) (*domain.CandidateContent, error) {
	var res api.FetchTestResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(token), nil, &res); err != nil {
		return nil, err
	}

	return &res.Test, nil
}

func (c *Client) StartTest(ctx context.Context, token, userName string) error {
	var res api.StartTestResponse
	return c.do(ctx, http.MethodPost, sessionPath(token), api.StartTestRequest{UserName: userName}, &res)
}

func (c *Client) SubmitTest(ctx context.Context, token, userName string, answers domain.Answers) (*score.Summary, error) {
	var res api.SubmitTestResponse
	err := c.do(ctx, http.MethodPost, sessionPath(token)+"/submit", api.SubmitTestRequest{
		UserName: userName,
		Answers:  answers,
	}, &res)
	if err != nil {
		return nil, err
	}

	return &score.Summary{
		Score:          res.Result.Score,
		TotalQuestions: res.Result.TotalQuestions,
		Percentage:     res.Result.Percentage,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("client: new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return errors.New(errors.CodeInternal,
			errors.WithMessage("Could not reach the test server"),
			errors.WithCause(err),
		)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return decodeError(res)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.New(errors.CodeInternal,
			errors.WithMessage("Unexpected response from the test server"),
			errors.WithCause(err),
		)
	}

	return nil
}

// decodeError turns an {"error": message} body into a coded error.
func decodeError(res *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Error == "" {
		body.Error = http.StatusText(res.StatusCode)
	}

	code := errors.FromHTTPStatus(res.StatusCode)
	if res.StatusCode == http.StatusGone && body.Error == msgExpired {
		code = errors.CodeExpired
	}

	return errors.New(code,
		errors.WithMessage(body.Error),
		errors.WithCause(fmt.Errorf("%s %s: status %d", res.Request.Method, res.Request.URL.Path, res.StatusCode)),
	)
}

func sessionPath(token string) string {
	return "/api/test-session/" + url.PathEscape(token)
}
