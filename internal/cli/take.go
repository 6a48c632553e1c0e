package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/victornm/testlink/internal/client"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/runner"
)

func newTakeCmd() *cobra.Command {
	var (
		serverURL    string
		questionTime time.Duration
	)

	cmd := &cobra.Command{
		Use:   "take LINK|TOKEN",
		Short: "Take a test in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, token, err := parseLink(args[0], serverURL, cmd.Flags().Changed("server"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return take(ctx, takeConfig{
				Client:       client.New(base, nil),
				Token:        token,
				QuestionTime: questionTime,
				In:           cmd.InOrStdin(),
				Out:          cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL, taken from LINK when not set")
	cmd.Flags().DurationVar(&questionTime, "question-time", runner.DefaultQuestionTime, "countdown per question")
	return cmd
}

// parseLink splits a test link into the server origin and the token. A bare token uses
// serverURL.
func parseLink(arg, serverURL string, serverSet bool) (string, string, error) {
	if !strings.Contains(arg, "/test/") {
		return serverURL, arg, nil
	}

	u, err := url.Parse(arg)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid test link %q", arg)
	}

	token := path.Base(u.Path)
	if serverSet {
		return serverURL, token, nil
	}
	return u.Scheme + "://" + u.Host, token, nil
}

type takeConfig struct {
	Client        runner.Client
	Token         string
	QuestionTime  time.Duration
	NewTickerFunc func(d time.Duration) runner.Ticker
	In            io.Reader
	Out           io.Writer
}

// take runs one attempt against stdin and stdout. Lines typed while the test is loading
// are applied once it is ready.
func take(ctx context.Context, c takeConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changed := make(chan struct{}, 1)
	v := &view{out: c.Out, qTime: c.QuestionTime}

	e := runner.New(runner.Config{
		Client:        c.Client,
		Token:         c.Token,
		QuestionTime:  c.QuestionTime,
		NewTickerFunc: c.NewTickerFunc,
		OnChange: func(s runner.Snapshot) {
			v.render(s)
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	var (
		pending []string
		eof     bool
	)
	for {
		select {
		case err := <-errc:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return v.finish(e.Snapshot(), err)
		case <-changed:
		case line, ok := <-lines:
			if !ok {
				lines, eof = nil, true
				break
			}
			pending = append(pending, line)
		}

		for len(pending) > 0 && e.Snapshot().State != runner.StateLoading {
			v.apply(e, pending[0])
			pending = pending[1:]
		}

		if eof && len(pending) == 0 && e.Snapshot().State == runner.StateNameEntry {
			return fmt.Errorf("input closed before a name was entered")
		}
	}
}

type view struct {
	qTime time.Duration

	mu    sync.Mutex
	out   io.Writer
	last  runner.Snapshot
	shown bool
}

func (v *view) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format, args...)
}

// render prints what changed since the previous snapshot.
func (v *view) render(s runner.Snapshot) {
	v.mu.Lock()
	last, shown := v.last, v.shown
	v.last, v.shown = s, true
	v.mu.Unlock()

	switch s.State {
	case runner.StateNameEntry:
		if !shown || last.State != runner.StateNameEntry {
			v.printf("%s (version %s), %d questions, %s per question.\nEnter your full name: ",
				s.Test.Name, s.Test.Version, len(s.Test.Questions), v.questionTime())
			return
		}
		if s.Message != "" {
			v.printf("%s: ", s.Message)
		}

	case runner.StateTakingTest:
		q := s.Question()
		if q == nil {
			return
		}
		if last.State != runner.StateTakingTest || last.Index != s.Index {
			v.printf("\nQuestion %d/%d: %s\n", s.Index+1, len(s.Test.Questions), q.Question)
			for i, o := range q.Options {
				v.printf("  %d) %s\n", i+1, o)
			}
			if s.IsLast() {
				v.printf("Pick 1-%d, then s to submit.\n", len(q.Options))
			} else {
				v.printf("Pick 1-%d, then n for the next question.\n", len(q.Options))
			}
			return
		}
		if a, prev := s.Answers[q.ID], last.Answers[q.ID]; a != nil && (prev == nil || *prev != *a) {
			v.printf("Selected %d.\n", *a+1)
		}
		if s.TimeLeft != last.TimeLeft && s.TimeLeft == 5*time.Second {
			v.printf("5 seconds left.\n")
		}
	}
}

func (v *view) apply(e *runner.Engine, line string) {
	s := e.Snapshot()
	line = strings.TrimSpace(line)

	switch s.State {
	case runner.StateNameEntry:
		e.Begin(line)

	case runner.StateTakingTest:
		switch strings.ToLower(line) {
		case "n", "next":
			if !s.CanNext() {
				v.printf("Select an answer first.\n")
				return
			}
			e.Next()
		case "s", "submit":
			if !s.CanSubmit() {
				v.printf("Answer the last question before submitting.\n")
				return
			}
			e.Submit()
		default:
			q := s.Question()
			n, err := strconv.Atoi(line)
			if err != nil || q == nil || n < 1 || n > len(q.Options) {
				v.printf("Type an option number, n or s.\n")
				return
			}
			e.Select(n - 1)
		}
	}
}

func (v *view) finish(s runner.Snapshot, err error) error {
	if err != nil {
		v.printf("\nError: %s\n", errors.Convert(err).Message)
		return err
	}

	if s.Result != nil {
		v.printf("\nThank you, %s. Score: %d/%d (%d%%)\n",
			s.UserName, s.Result.Score, s.Result.TotalQuestions, s.Result.Percentage)
	}
	return nil
}

func (v *view) questionTime() time.Duration {
	if v.qTime <= 0 {
		return runner.DefaultQuestionTime
	}
	return v.qTime
}
