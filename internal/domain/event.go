package domain

const (
	EventNameLinkIssued     = "link.issued"
	EventNameTestStarted    = "test.started"
	EventNameResultRecorded = "result.recorded"

	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventLinkIssued struct {
	Session TestSession
}

func (EventLinkIssued) Name() string { return EventNameLinkIssued }

type EventTestStarted struct {
	SessionID string
	UserName  string
}

func (EventTestStarted) Name() string { return EventNameTestStarted }

type EventResultRecorded struct {
	Result TestResult
}

func (EventResultRecorded) Name() string { return EventNameResultRecorded }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
