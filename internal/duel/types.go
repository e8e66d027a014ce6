package duel

import (
	"context"

	"github.com/feloxmctran/felox-sub000/internal/duelapi"
)

// API is the slice of the transport client the engine needs.
type API interface {
	MatchStatus(ctx context.Context, matchID, userID string) (*duelapi.MatchStatus, error)
	SubmitAnswer(ctx context.Context, matchID, userID string, answer duelapi.AnswerValue, timeLeftSeconds, maxTimeSeconds int) (*duelapi.AnswerResult, error)
	Reveal(ctx context.Context, matchID, userID string) error
	MatchSummary(ctx context.Context, matchID, userID string) (*duelapi.MatchSummary, error)
}

// fingerprint is the compact reduction of a status response used to decide
// whether anything meaningful changed between polls.
type fingerprint struct {
	Index       int
	ScoreA      int
	ScoreB      int
	YouAnswered bool
	OppAnswered bool
	Finished    bool
}

func fingerprintOf(st *duelapi.MatchStatus) fingerprint {
	return fingerprint{
		Index:       st.Match.CurrentIndex,
		ScoreA:      st.Scores.ScoreA,
		ScoreB:      st.Scores.ScoreB,
		YouAnswered: st.You.Answered,
		OppAnswered: st.Opponent.Answered,
		Finished:    st.Finished,
	}
}

// Snapshot is the engine's externally visible state, safe to copy.
type Snapshot struct {
	MatchID        string
	Mode           duelapi.DuelMode
	Index          int
	TotalQuestions int
	QuestionText   string
	ScoreA         int
	ScoreB         int
	Countdown      int
	MaxSeconds     int
	Answered       bool
	Locked         bool
	OppAnswered    bool
	Finished       bool
	Loaded         bool
}

// UpdateFunc observes snapshot changes. It runs on the engine goroutine and
// must not block.
type UpdateFunc func(Snapshot)
