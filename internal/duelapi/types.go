package duelapi

import (
	"bytes"
	"encoding/json"
	"strings"
)

// VisibilityMode controls who may send duel invites to a user.
type VisibilityMode string

const (
	VisibilityPublic  VisibilityMode = "public"
	VisibilityFriends VisibilityMode = "friends"
	VisibilityNone    VisibilityMode = "none"
)

func ParseVisibility(s string) (VisibilityMode, bool) {
	switch VisibilityMode(strings.ToLower(strings.TrimSpace(s))) {
	case VisibilityPublic:
		return VisibilityPublic, true
	case VisibilityFriends:
		return VisibilityFriends, true
	case VisibilityNone:
		return VisibilityNone, true
	}
	return "", false
}

// DuelMode selects the match variant. Speed mode locks out late answers.
type DuelMode string

const (
	ModeInfo  DuelMode = "info"
	ModeSpeed DuelMode = "speed"
)

// AnswerValue is one of the three literal answer strings the server accepts.
type AnswerValue string

const (
	AnswerYes      AnswerValue = "evet"
	AnswerNo       AnswerValue = "hayır"
	AnswerDontKnow AnswerValue = "bilmem"
)

// InviteStatus lifecycle: pending → accepted | rejected | cancelled.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteRejected  InviteStatus = "rejected"
	InviteCancelled InviteStatus = "cancelled"
)

// Profile is the duel-scoped slice of a user profile.
type Profile struct {
	Ready          bool           `json:"ready"`
	VisibilityMode VisibilityMode `json:"visibility_mode"`
}

type Invite struct {
	ID         string       `json:"id"`
	FromUserID string       `json:"from_user_id"`
	ToUserID   string       `json:"to_user_id,omitempty"`
	ToUserCode string       `json:"to_user_code,omitempty"`
	FromName   string       `json:"from_name,omitempty"`
	ToName     string       `json:"to_name,omitempty"`
	Mode       DuelMode     `json:"mode"`
	Status     InviteStatus `json:"status"`
}

// RespondResult carries the match id minted when an invite is accepted.
type RespondResult struct {
	MatchID string
}

// Question is the display payload for the current question.
type Question struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// looseBool tolerates bool and 0/1 number encodings. The server is not
// consistent about is_correct/locked across endpoints.
type looseBool bool

func (b *looseBool) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "true", "1":
		*b = true
		return nil
	case "false", "0", "null":
		*b = false
		return nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*b = looseBool(v)
	return nil
}

// MatchStatus is the authoritative per-poll view of a running match.
type MatchStatus struct {
	Success bool `json:"success"`

	Match struct {
		ID             string   `json:"id"`
		Mode           DuelMode `json:"mode"`
		CurrentIndex   int      `json:"current_index"`
		TotalQuestions int      `json:"total_questions"`
	} `json:"match"`

	Question *Question `json:"question,omitempty"`

	Scores struct {
		ScoreA int `json:"score_a"`
		ScoreB int `json:"score_b"`
	} `json:"scores"`

	You struct {
		Answered bool `json:"answered"`
	} `json:"you"`
	Opponent struct {
		Answered bool `json:"answered"`
	} `json:"opponent"`

	Finished bool `json:"finished"`

	UI *struct {
		PerQuestionSeconds int `json:"per_question_seconds"`
	} `json:"ui,omitempty"`

	// The reveal-readiness flag arrives under several spellings depending on
	// server version. Normalized via CanAdvance.
	CanReveal        *looseBool `json:"can_reveal,omitempty"`
	EveryoneAnswered *looseBool `json:"everyone_answered,omitempty"`
	BothAnswered     *looseBool `json:"both_answered,omitempty"`
}

// CanAdvance folds the synonymous reveal-readiness fields into one boolean.
func (s *MatchStatus) CanAdvance() bool {
	if s == nil {
		return false
	}
	for _, f := range []*looseBool{s.CanReveal, s.EveryoneAnswered, s.BothAnswered} {
		if f != nil && bool(*f) {
			return true
		}
	}
	return false
}

// PerQuestionSeconds returns the server-declared question duration, or def
// when the server did not send one.
func (s *MatchStatus) PerQuestionSeconds(def int) int {
	if s != nil && s.UI != nil && s.UI.PerQuestionSeconds > 0 {
		return s.UI.PerQuestionSeconds
	}
	return def
}

// AnswerResult is the server's verdict on a submitted answer.
type AnswerResult struct {
	Success   bool      `json:"success"`
	IsCorrect looseBool `json:"is_correct"`
	Locked    looseBool `json:"locked"`
}

func (r *AnswerResult) Correct() bool  { return r != nil && bool(r.IsCorrect) }
func (r *AnswerResult) IsLocked() bool { return r != nil && bool(r.Locked) }

// SummaryUser is one participant's final line in a match summary.
type SummaryUser struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name,omitempty"`
	Score   int    `json:"score"`
	Correct int    `json:"correct"`
	Wrong   int    `json:"wrong"`
}

// MatchSummary is the terminal result payload of a finished match.
type MatchSummary struct {
	Users struct {
		A SummaryUser `json:"a"`
		B SummaryUser `json:"b"`
	} `json:"users"`
	Result struct {
		Code string `json:"code"`
	} `json:"result"`
}
