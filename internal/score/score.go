package score

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/testlink/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Summary is the scored outcome of one attempt.
type Summary struct {
	Score          int `json:"score"`
	TotalQuestions int `json:"totalQuestions"`
	Percentage     int `json:"percentage"`
}

// Score counts the questions whose submitted answer equals the correct one.
// Missing and null answers never count.
func Score(questions []domain.Question, answers domain.Answers) int {
	n := 0
	for _, q := range questions {
		if a, ok := answers[q.ID]; ok && a != nil && *a == q.CorrectAnswer {
			n++
		}
	}
	return n
}

// Percentage is score/total*100 rounded half up. A test without questions scores 0.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	d := decimal.NewFromInt(int64(total))
	q, r := decimal.NewFromInt(int64(score)).Mul(hundred).QuoRem(d, 0)
	if r.Mul(two).GreaterThanOrEqual(d) {
		q = q.Add(decimal.NewFromInt(1))
	}
	return int(q.IntPart())
}

func Summarize(questions []domain.Question, answers domain.Answers) Summary {
	s := Score(questions, answers)
	return Summary{
		Score:          s,
		TotalQuestions: len(questions),
		Percentage:     Percentage(s, len(questions)),
	}
}

// Recompute derives the summary of a stored result from its answers and answer key snapshot.
func Recompute(r domain.TestResult) Summary {
	s := 0
	for id, correct := range r.AnswerKey {
		if a, ok := r.Answers[id]; ok && a != nil && *a == correct {
			s++
		}
	}
	total := len(r.AnswerKey)
	return Summary{
		Score:          s,
		TotalQuestions: total,
		Percentage:     Percentage(s, total),
	}
}
