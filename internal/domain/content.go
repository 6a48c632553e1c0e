package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// ContentSchemaVersion is the layout of TestContent written by this version.
	ContentSchemaVersion = 1
	// OptionsPerQuestion is the fixed number of options for every question.
	OptionsPerQuestion = 4
)

type Question struct {
	ID            int      `json:"id" yaml:"id"`
	Question      string   `json:"question" yaml:"question"`
	Options       []string `json:"options" yaml:"options"`
	CorrectAnswer int      `json:"correctAnswer" yaml:"correctAnswer"`
}

// TestContent is the stored body of a test.
type TestContent struct {
	SchemaVersion int        `json:"schemaVersion" yaml:"schemaVersion"`
	Name          string     `json:"name" yaml:"name"`
	Version       string     `json:"version" yaml:"version"`
	Questions     []Question `json:"questions" yaml:"questions"`
}

// CandidateQuestion is a question as shown to a candidate, without the answer.
type CandidateQuestion struct {
	ID       int      `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type CandidateContent struct {
	Name      string              `json:"name"`
	Version   string              `json:"version"`
	Questions []CandidateQuestion `json:"questions"`
}

// ContentError describes why a TestContent was rejected.
type ContentError struct {
	Reason string
}

func (e *ContentError) Error() string {
	return e.Reason
}

func contentErrorf(format string, args ...any) error {
	return &ContentError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the structural rules every stored test must satisfy.
func (c *TestContent) Validate() error {
	if c.SchemaVersion != ContentSchemaVersion {
		return contentErrorf("Unsupported content schema version %d", c.SchemaVersion)
	}
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Version) == "" {
		return contentErrorf("Name and version are required")
	}
	if len(c.Questions) == 0 {
		return contentErrorf("At least one question is required")
	}

	seen := make(map[int]struct{}, len(c.Questions))
	for i, q := range c.Questions {
		if _, ok := seen[q.ID]; ok {
			return contentErrorf("Duplicate question id %d", q.ID)
		}
		seen[q.ID] = struct{}{}

		if strings.TrimSpace(q.Question) == "" {
			return contentErrorf("Question %d has no text", i+1)
		}
		if len(q.Options) != OptionsPerQuestion {
			return contentErrorf("Question %d must have exactly %d options, got %d", i+1, OptionsPerQuestion, len(q.Options))
		}
		for j, o := range q.Options {
			if strings.TrimSpace(o) == "" {
				return contentErrorf("Question %d option %d is empty", i+1, j+1)
			}
		}
		if !ValidOption(q.CorrectAnswer) {
			return contentErrorf("Question %d correct answer must be between 0 and %d", i+1, OptionsPerQuestion-1)
		}
	}

	return nil
}

// ValidOption reports whether i is an option index.
func ValidOption(i int) bool {
	return i >= 0 && i < OptionsPerQuestion
}

// ForCandidate strips the correct answers.
func (c *TestContent) ForCandidate() CandidateContent {
	cc := CandidateContent{
		Name:      c.Name,
		Version:   c.Version,
		Questions: make([]CandidateQuestion, 0, len(c.Questions)),
	}
	for _, q := range c.Questions {
		cc.Questions = append(cc.Questions, CandidateQuestion{
			ID:       q.ID,
			Question: q.Question,
			Options:  append([]string(nil), q.Options...),
		})
	}
	return cc
}

// AnswerKey snapshots the correct answers.
func (c *TestContent) AnswerKey() AnswerKey {
	k := make(AnswerKey, len(c.Questions))
	for _, q := range c.Questions {
		k[q.ID] = q.CorrectAnswer
	}
	return k
}

// MarshalContent validates c and encodes it for storage.
func MarshalContent(c TestContent) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// UnmarshalContent decodes and validates stored content.
func UnmarshalContent(b []byte) (TestContent, error) {
	var c TestContent
	if err := json.Unmarshal(b, &c); err != nil {
		return TestContent{}, fmt.Errorf("decode content: %w", err)
	}
	if err := c.Validate(); err != nil {
		return TestContent{}, fmt.Errorf("stored content: %w", err)
	}
	return c, nil
}
