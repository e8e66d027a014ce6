package matchmake

import (
	"context"

	"github.com/feloxmctran/felox-sub000/internal/duelapi"
)

// API is the slice of the transport client the matchmaking state needs.
type API interface {
	Profile(ctx context.Context, userID string) (*duelapi.Profile, error)
	SetReady(ctx context.Context, userID string, ready bool) error
	SetVisibility(ctx context.Context, userID string, mode duelapi.VisibilityMode) error
	CreateInvite(ctx context.Context, fromUserID, toUserCode string, mode duelapi.DuelMode) error
	Inbox(ctx context.Context, userID string) ([]duelapi.Invite, error)
	Outbox(ctx context.Context, userID string) ([]duelapi.Invite, error)
	RespondInvite(ctx context.Context, inviteID, userID, action string) (*duelapi.RespondResult, error)
	CancelInvite(ctx context.Context, inviteID, userID string) error
	ActiveMatch(ctx context.Context, userID string) (string, error)
}

// MatchFunc is invoked exactly once per discovered match id.
type MatchFunc func(matchID string)

// State is a read-only snapshot of the matchmaking mirror.
type State struct {
	Profile       duelapi.Profile
	ProfileLoaded bool
	Inbox         []duelapi.Invite
	Outbox        []duelapi.Invite
}

// Errors surfaced as defined conditions rather than transport failures.
var (
	ErrEmptyTargetCode = errf("target user code is empty")
	ErrNotReadyLoaded  = errf("profile not loaded yet")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
