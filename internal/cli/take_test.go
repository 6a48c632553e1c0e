package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/score"
)

func TestTake(t *testing.T) {
	tests := map[string]struct {
		client  *fakeClient
		input   string
		wantErr bool
		want    []string
	}{
		"answer and submit": {
			client: &fakeClient{},
			input:  "Ada\n1\ns\n",
			want: []string{
				"Go basics (version 1), 1 questions",
				"Question 1/1: 2+2?",
				"  1) 4",
				"Selected 1.",
				"Thank you, Ada. Score: 1/1 (100%)",
			},
		},
		"blank name is asked again": {
			client: &fakeClient{},
			input:  "\nAda\n2\ns\n",
			want: []string{
				"Please enter your full name: ",
				"Score: 0/1 (0%)",
			},
		},
		"submit requires an answer": {
			client: &fakeClient{},
			input:  "Ada\ns\n1\ns\n",
			want: []string{
				"Answer the last question before submitting.",
				"Score: 1/1 (100%)",
			},
		},
		"expired link": {
			client:  &fakeClient{fetchErr: errors.New(errors.CodeExpired, errors.WithMessage("Test link has expired"))},
			input:   "Ada\n",
			wantErr: true,
			want:    []string{"Error: Test link has expired"},
		},
		"input closed before name": {
			client:  &fakeClient{},
			input:   "",
			wantErr: true,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var out syncBuffer
			err := take(ctx, takeConfig{
				Client:       tt.client,
				Token:        "tok",
				QuestionTime: time.Minute,
				In:           strings.NewReader(tt.input),
				Out:          &out,
			})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			for _, w := range tt.want {
				require.Contains(t, out.String(), w)
			}
		})
	}
}

func TestParseLink(t *testing.T) {
	tests := map[string]struct {
		arg       string
		server    string
		serverSet bool
		wantBase  string
		wantToken string
		wantErr   bool
	}{
		"bare token": {
			arg: "abc", server: "http://localhost:8080",
			wantBase: "http://localhost:8080", wantToken: "abc",
		},
		"full link": {
			arg: "https://tests.example.com/test/abc", server: "http://localhost:8080",
			wantBase: "https://tests.example.com", wantToken: "abc",
		},
		"full link with explicit server": {
			arg: "https://tests.example.com/test/abc", server: "http://internal:8080", serverSet: true,
			wantBase: "http://internal:8080", wantToken: "abc",
		},
		"link without host": {
			arg: "/test/abc", wantErr: true,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			base, token, err := parseLink(tt.arg, tt.server, tt.serverSet)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantBase, base)
			require.Equal(t, tt.wantToken, token)
		})
	}
}

// fakeClient serves a one-question test whose correct answer is option 0.
type fakeClient struct {
	fetchErr error
}

func (c *fakeClient) FetchTest(context.Context, string) (*domain.CandidateContent, error) {
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return &domain.CandidateContent{
		Name:    "Go basics",
		Version: "1",
		Questions: []domain.CandidateQuestion{
			{ID: 1, Question: "2+2?", Options: []string{"4", "3", "5", "22"}},
		},
	}, nil
}

func (c *fakeClient) StartTest(context.Context, string, string) error {
	return nil
}

func (c *fakeClient) SubmitTest(_ context.Context, _ string, _ string, answers domain.Answers) (*score.Summary, error) {
	s := 0
	if a := answers[1]; a != nil && *a == 0 {
		s = 1
	}
	return &score.Summary{Score: s, TotalQuestions: 1, Percentage: score.Percentage(s, 1)}, nil
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}
