// Package matchmake mirrors the duel-scoped profile and invite state and
// turns accepted invites into match hand-offs.
package matchmake

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/feloxmctran/felox-sub000/internal/duelapi"
	"github.com/feloxmctran/felox-sub000/internal/obslog"
)

// matchPollInterval is the safety-net cadence for missed push events while
// an outbound invite is pending.
const matchPollInterval = 2 * time.Second

type Manager struct {
	api     API
	userID  string
	clock   clockwork.Clock
	onMatch MatchFunc

	mu            sync.RWMutex
	profile       duelapi.Profile
	profileLoaded bool
	inbox         []duelapi.Invite
	outbox        []duelapi.Invite
	delivered     map[string]bool
	pollStop      chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type ManagerOption func(*Manager)

func WithClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

func NewManager(api API, userID string, onMatch MatchFunc, opts ...ManagerOption) *Manager {
	m := &Manager{
		api:       api,
		userID:    strings.TrimSpace(userID),
		clock:     clockwork.NewRealClock(),
		onMatch:   onMatch,
		delivered: make(map[string]bool),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close stops the background match poller. Idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
	m.mu.Lock()
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// State returns a copy of the cached matchmaking state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		Profile:       m.profile,
		ProfileLoaded: m.profileLoaded,
		Inbox:         append([]duelapi.Invite(nil), m.inbox...),
		Outbox:        append([]duelapi.Invite(nil), m.outbox...),
	}
}

// LoadProfile fetches the duel profile; the server creates it lazily on
// first fetch.
func (m *Manager) LoadProfile(ctx context.Context) (*duelapi.Profile, error) {
	p, err := m.api.Profile(ctx, m.userID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.profile = *p
	m.profileLoaded = true
	m.mu.Unlock()
	return p, nil
}

// SetReady waits for server confirmation before mutating the local mirror:
// readiness gates matchmaking eligibility server-side, so an optimistic
// flip would lie to the caller.
func (m *Manager) SetReady(ctx context.Context, ready bool) error {
	if err := m.api.SetReady(ctx, m.userID, ready); err != nil {
		return err
	}
	m.mu.Lock()
	m.profile.Ready = ready
	m.mu.Unlock()
	obslog.L().Info("duel_ready_set", zap.String("user_id", m.userID), zap.Bool("ready", ready))
	return nil
}

// SetVisibility applies the new mode locally first and reconciles with the
// server response; on failure the previous mode is restored.
func (m *Manager) SetVisibility(ctx context.Context, mode duelapi.VisibilityMode) error {
	m.mu.Lock()
	prev := m.profile.VisibilityMode
	m.profile.VisibilityMode = mode
	m.mu.Unlock()

	if err := m.api.SetVisibility(ctx, m.userID, mode); err != nil {
		m.mu.Lock()
		m.profile.VisibilityMode = prev
		m.mu.Unlock()
		return err
	}
	return nil
}

// CreateInvite sends a duel invite to the holder of toUserCode and then
// refreshes both lists. The refresh is best-effort; the invite itself is
// the primary action.
func (m *Manager) CreateInvite(ctx context.Context, toUserCode string, mode duelapi.DuelMode) error {
	if strings.TrimSpace(toUserCode) == "" {
		return ErrEmptyTargetCode
	}
	if err := m.api.CreateInvite(ctx, m.userID, toUserCode, mode); err != nil {
		return err
	}
	obslog.L().Info("invite_create", zap.String("user_id", m.userID), zap.String("mode", string(mode)))
	m.refreshLists(ctx)
	m.ensurePoller()
	return nil
}

// RefreshInbox reloads inbound invites from the server.
func (m *Manager) RefreshInbox(ctx context.Context) error {
	list, err := m.api.Inbox(ctx, m.userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.inbox = list
	m.mu.Unlock()
	return nil
}

// RefreshOutbox reloads outbound invites from the server.
func (m *Manager) RefreshOutbox(ctx context.Context) error {
	list, err := m.api.Outbox(ctx, m.userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.outbox = list
	m.mu.Unlock()
	return nil
}

// refreshLists reloads both lists, logging instead of failing: list staleness
// must not break the action that triggered the refresh.
func (m *Manager) refreshLists(ctx context.Context) {
	if err := m.RefreshInbox(ctx); err != nil {
		obslog.L().Warn("inbox_refresh_error", zap.String("user_id", m.userID), zap.Error(err))
	}
	if err := m.RefreshOutbox(ctx); err != nil {
		obslog.L().Warn("outbox_refresh_error", zap.String("user_id", m.userID), zap.Error(err))
	}
}

// Respond accepts or rejects an inbound invite. On accept the returned
// match id is handed to the match callback immediately.
func (m *Manager) Respond(ctx context.Context, inviteID, action string) (string, error) {
	res, err := m.api.RespondInvite(ctx, inviteID, m.userID, action)
	if err != nil {
		return "", err
	}
	obslog.L().Info("invite_respond",
		zap.String("user_id", m.userID),
		zap.String("invite_id", inviteID),
		zap.String("action", action),
	)
	m.refreshLists(ctx)
	if action == "accept" && res.MatchID != "" {
		m.deliverMatch(res.MatchID)
		return res.MatchID, nil
	}
	return "", nil
}

// Cancel withdraws one of the caller's own pending invites. Errors are
// surfaced, not swallowed.
func (m *Manager) Cancel(ctx context.Context, inviteID string) error {
	if err := m.api.CancelInvite(ctx, inviteID, m.userID); err != nil {
		return err
	}
	obslog.L().Info("invite_cancel", zap.String("user_id", m.userID), zap.String("invite_id", inviteID))
	m.refreshLists(ctx)
	return nil
}

// HandlerMap wires the push-channel events into list refreshes and the
// match hand-off. Handlers run on the stream goroutine and must not block.
func (m *Manager) HandlerMap() map[string]duelapi.EventHandler {
	refresh := func(json.RawMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.refreshLists(ctx)
	}
	return map[string]duelapi.EventHandler{
		duelapi.EventReady: func(json.RawMessage) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := m.LoadProfile(ctx); err != nil {
				obslog.L().Warn("profile_refresh_error", zap.String("user_id", m.userID), zap.Error(err))
			}
		},
		duelapi.EventInviteNew:       refresh,
		duelapi.EventInviteRejected:  refresh,
		duelapi.EventInviteCancelled: refresh,
		duelapi.EventInviteAccepted: func(data json.RawMessage) {
			var env struct {
				MatchID string `json:"match_id"`
				Match   *struct {
					ID string `json:"id"`
				} `json:"match,omitempty"`
			}
			_ = json.Unmarshal(data, &env)
			id := env.MatchID
			if id == "" && env.Match != nil {
				id = env.Match.ID
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.refreshLists(ctx)
			if id != "" {
				m.deliverMatch(id)
			}
		},
	}
}

// deliverMatch invokes the match callback once per match id and stops the
// safety-net poller.
func (m *Manager) deliverMatch(matchID string) {
	m.mu.Lock()
	if m.delivered[matchID] {
		m.mu.Unlock()
		return
	}
	m.delivered[matchID] = true
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
	m.mu.Unlock()

	obslog.L().Info("duel_match_found", zap.String("user_id", m.userID), zap.String("match_id", matchID))
	if m.onMatch != nil {
		m.onMatch(matchID)
	}
}

// ensurePoller starts the 2-second active-match poll if it is not already
// running. The poll is a safety net for missed push events while an
// outbound invite is pending.
func (m *Manager) ensurePoller() {
	m.mu.Lock()
	if m.pollStop != nil {
		m.mu.Unlock()
		return
	}
	select {
	case <-m.closed:
		m.mu.Unlock()
		return
	default:
	}
	stop := make(chan struct{})
	m.pollStop = stop
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pollForMatch(stop)
}

func (m *Manager) pollForMatch(stop chan struct{}) {
	defer m.wg.Done()
	t := m.clock.NewTicker(matchPollInterval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-m.closed:
			return
		case <-t.Chan():
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		matchID, err := m.api.ActiveMatch(ctx, m.userID)
		cancel()
		if err != nil {
			// transient; keep polling
			obslog.L().Warn("active_match_poll_error", zap.String("user_id", m.userID), zap.Error(err))
			continue
		}
		if matchID != "" {
			m.deliverMatch(matchID)
			return
		}

		if !m.hasPendingOutbound() {
			m.stopPoller(stop)
			return
		}
	}
}

func (m *Manager) hasPendingOutbound() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.RefreshOutbox(ctx); err != nil {
		obslog.L().Warn("outbox_refresh_error", zap.String("user_id", m.userID), zap.Error(err))
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.outbox {
		if inv.Status == duelapi.InvitePending {
			return true
		}
	}
	return false
}

func (m *Manager) stopPoller(stop chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollStop == stop {
		// channel closed by returning; just forget it
		m.pollStop = nil
	}
}
