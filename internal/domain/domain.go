package domain

import (
	"time"
)

// Test is an authored multiple-choice test. Name and version together are unique.
type Test struct {
	ID         int64
	Name       string
	Version    string
	Content    TestContent
	CreateTime time.Time
	UpdateTime time.Time
}

// TestSession binds a single-use token to a test.
type TestSession struct {
	ID        string
	Token     string
	TestID    int64
	ExpiresAt time.Time
	Used      bool
	// HasResult is derived from the existence of a TestResult for the session.
	HasResult  bool
	CreateTime time.Time
	UpdateTime time.Time
}

// Expired reports whether the session is unusable because its expiry has been reached.
func (s *TestSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Exhausted reports whether the single use of the session has been consumed.
func (s *TestSession) Exhausted() bool {
	return s.Used || s.HasResult
}

// Answers maps a question id to the selected option index, nil when unanswered.
type Answers map[int]*int

// AnswerKey maps a question id to its correct option index.
type AnswerKey map[int]int

// TestResult is the outcome of a completed attempt. TestName, TestVersion and AnswerKey
// are snapshots taken at submission time.
type TestResult struct {
	ID             string
	SessionID      string
	UserName       string
	TestName       string
	TestVersion    string
	Answers        Answers
	AnswerKey      AnswerKey
	Score          int
	TotalQuestions int
	CompletedAt    time.Time
}

// Admin is an account allowed to author tests and issue links.
type Admin struct {
	ID           int64
	Email        string
	PasswordHash string
	CreateTime   time.Time
}

// AdminSession is an authenticated admin login.
type AdminSession struct {
	Token     string    `json:"token"`
	AdminID   int64     `json:"admin_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Choice returns a pointer to i, for building Answers literals.
func Choice(i int) *int {
	return &i
}

// Leaderboard ranks the results of one test version by percentage, best first.
type Leaderboard struct {
	TestName    string             `json:"testName"`
	TestVersion string             `json:"testVersion"`
	Entries     []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	ResultID      string `json:"resultId"`
	CandidateName string `json:"candidateName"`
	Percentage    int    `json:"percentage"`
}
