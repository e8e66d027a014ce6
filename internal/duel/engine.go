// Package duel drives one live match against the server-authoritative
// match state: status polling, a cosmetic local countdown, single-shot
// answer submission and single-flight reveal.
package duel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/feloxmctran/felox-sub000/internal/duelapi"
	"github.com/feloxmctran/felox-sub000/internal/obslog"
)

const (
	statusPollInterval     = time.Second
	countdownInterval      = time.Second
	revealRefreshDelay     = 250 * time.Millisecond
	defaultQuestionSeconds = 24
	callTimeout            = 8 * time.Second
)

// Engine owns the client side of one match for one participant. The server
// owns the match; the engine holds a read-mostly cache plus small guards.
type Engine struct {
	api            API
	clock          clockwork.Clock
	matchID        string
	userID         string
	defaultSeconds int
	onUpdate       UpdateFunc

	mu         sync.Mutex
	status     *duelapi.MatchStatus
	lastFP     fingerprint
	hasFP      bool
	lastIndex  int
	loaded     bool
	answered   bool
	locked     bool
	countdown  int
	maxSeconds int
	finished   bool
	revealBusy bool

	forceCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

type EngineOption func(*Engine)

func WithClock(c clockwork.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithDefaultSeconds overrides the fallback per-question duration used when
// the server does not declare one.
func WithDefaultSeconds(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.defaultSeconds = n
		}
	}
}

func WithOnUpdate(f UpdateFunc) EngineOption {
	return func(e *Engine) { e.onUpdate = f }
}

func NewEngine(api API, matchID, userID string, opts ...EngineOption) (*Engine, error) {
	if api == nil {
		return nil, fmt.Errorf("duel engine requires an api client")
	}
	if strings.TrimSpace(matchID) == "" || strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("duel engine requires match and user ids")
	}
	e := &Engine{
		api:            api,
		clock:          clockwork.NewRealClock(),
		matchID:        strings.TrimSpace(matchID),
		userID:         strings.TrimSpace(userID),
		defaultSeconds: defaultQuestionSeconds,
		lastIndex:      -1,
		forceCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) MatchID() string { return e.matchID }

// Done is closed once the engine has stopped, whether by observing a
// finished match or by teardown.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Start performs one blocking status fetch and then begins the 1-second
// status poll and the independent 1-second countdown tick. A match that is
// already finished on entry starts with both timers cold.
func (e *Engine) Start(ctx context.Context) error {
	st, err := e.api.MatchStatus(ctx, e.matchID, e.userID)
	if err != nil {
		return err
	}
	e.apply(st)

	if e.isFinished() {
		e.Stop()
		return nil
	}

	e.wg.Add(1)
	go e.run()
	return nil
}

// Stop cancels both timers and the poll loop. Safe to call multiple times
// and from any state, including before the first successful fetch.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.doneOnce.Do(func() { close(e.done) })
}

// Wait blocks until all engine goroutines have exited.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) run() {
	defer e.wg.Done()
	defer e.Stop()

	poll := e.clock.NewTicker(statusPollInterval)
	defer poll.Stop()
	tick := e.clock.NewTicker(countdownInterval)
	defer tick.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-poll.Chan():
			e.fetchAndApply(false)
		case <-e.forceCh:
			// out-of-band refresh right after a reveal; the single-flight
			// guard is released only once this fetch has been applied
			e.fetchAndApply(true)
		case <-tick.Chan():
			e.tickCountdown()
		}

		if e.isFinished() {
			obslog.L().Info("duel_finished", zap.String("match_id", e.matchID), zap.String("user_id", e.userID))
			return
		}
	}
}

// fetchAndApply runs one poll iteration. Errors are logged and swallowed so
// a single failed tick never stops subsequent ticks.
func (e *Engine) fetchAndApply(releaseReveal bool) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	st, err := e.api.MatchStatus(ctx, e.matchID, e.userID)
	cancel()
	if err != nil {
		obslog.L().Warn("duel_status_poll_error",
			zap.String("match_id", e.matchID),
			zap.String("user_id", e.userID),
			zap.Error(err),
		)
	} else {
		e.apply(st)
	}
	if releaseReveal {
		e.releaseReveal()
	}
}

// apply reduces the response to a fingerprint and discards it when nothing
// meaningful changed; stale polls arriving after newer local mutations are
// neutralized the same way.
func (e *Engine) apply(st *duelapi.MatchStatus) {
	e.mu.Lock()
	fp := fingerprintOf(st)
	if e.hasFP && fp == e.lastFP {
		e.mu.Unlock()
		return
	}
	first := !e.hasFP
	e.hasFP = true
	e.lastFP = fp
	e.status = st
	e.loaded = true
	e.maxSeconds = st.PerQuestionSeconds(e.defaultSeconds)

	if first || fp.Index != e.lastIndex {
		// question changed: reset the visible countdown and clear the local
		// guards unconditionally, even when this client triggered the advance
		e.lastIndex = fp.Index
		e.countdown = e.maxSeconds
		e.answered = false
		e.locked = false
	}
	if st.You.Answered {
		e.answered = true
	}
	if fp.Finished {
		e.finished = true
	}

	fire := st.CanAdvance() && !fp.Finished && !e.revealBusy
	if fire {
		e.revealBusy = true
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	if fire {
		e.wg.Add(1)
		go e.fireReveal()
	}
}

// fireReveal issues exactly one reveal call, then schedules a short delay
// before forcing an extra status fetch outside the normal poll cadence.
// Failures are logged and swallowed; they never halt polling.
func (e *Engine) fireReveal() {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	err := e.api.Reveal(ctx, e.matchID, e.userID)
	cancel()
	if err != nil {
		obslog.L().Warn("duel_reveal_error", zap.String("match_id", e.matchID), zap.Error(err))
	} else {
		obslog.L().Info("duel_reveal", zap.String("match_id", e.matchID), zap.String("user_id", e.userID))
	}

	select {
	case <-e.clock.After(revealRefreshDelay):
	case <-e.stopCh:
		e.releaseReveal()
		return
	}
	select {
	case e.forceCh <- struct{}{}:
	case <-e.stopCh:
		e.releaseReveal()
	}
}

func (e *Engine) releaseReveal() {
	e.mu.Lock()
	e.revealBusy = false
	e.mu.Unlock()
}

// tickCountdown decrements the cosmetic countdown and holds at zero. It
// never submits anything: duel timeouts are server-enforced.
func (e *Engine) tickCountdown() {
	e.mu.Lock()
	if !e.loaded || e.finished || e.countdown <= 0 {
		e.mu.Unlock()
		return
	}
	e.countdown--
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snap)
}

// SubmitAnswer submits at most once per question instance. Precondition
// violations (not loaded, already answered, locked, countdown at zero,
// finished) are defined no-ops, not errors: callers may attempt under race
// and the guard prevents the duplicate network call.
func (e *Engine) SubmitAnswer(ctx context.Context, value duelapi.AnswerValue) (bool, error) {
	e.mu.Lock()
	if !e.loaded || e.finished || e.answered || e.locked || e.countdown <= 0 {
		e.mu.Unlock()
		return false, nil
	}
	// claim the slot before the call so overlapping attempts cannot both
	// reach the network
	e.answered = true
	timeLeft := e.countdown
	maxTime := e.maxSeconds
	e.mu.Unlock()

	res, err := e.api.SubmitAnswer(ctx, e.matchID, e.userID, value, timeLeft, maxTime)
	if err != nil {
		obslog.L().Error("duel_answer_error",
			zap.String("match_id", e.matchID),
			zap.String("user_id", e.userID),
			zap.Error(err),
		)
		return true, err
	}

	e.mu.Lock()
	if res.IsLocked() {
		// speed mode: late answer forfeits the question regardless of the
		// remaining countdown
		e.locked = true
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snap)

	obslog.L().Info("duel_answer",
		zap.String("match_id", e.matchID),
		zap.String("user_id", e.userID),
		zap.String("answer", string(value)),
		zap.Bool("correct", res.Correct()),
		zap.Bool("locked", res.IsLocked()),
	)
	return true, nil
}

// Summary fetches the final result of a finished match. Single request, no
// retry; the error is the caller's to surface.
func (e *Engine) Summary(ctx context.Context) (*duelapi.MatchSummary, error) {
	return e.api.MatchSummary(ctx, e.matchID, e.userID)
}

// Snapshot returns a copy of the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		MatchID:    e.matchID,
		Countdown:  e.countdown,
		MaxSeconds: e.maxSeconds,
		Answered:   e.answered,
		Locked:     e.locked,
		Finished:   e.finished,
		Loaded:     e.loaded,
	}
	if e.status != nil {
		snap.Mode = e.status.Match.Mode
		snap.Index = e.status.Match.CurrentIndex
		snap.TotalQuestions = e.status.Match.TotalQuestions
		snap.ScoreA = e.status.Scores.ScoreA
		snap.ScoreB = e.status.Scores.ScoreB
		snap.OppAnswered = e.status.Opponent.Answered
		if e.status.Question != nil {
			snap.QuestionText = e.status.Question.Text
		}
	}
	return snap
}

func (e *Engine) isFinished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

func (e *Engine) notify(snap Snapshot) {
	if e.onUpdate != nil {
		e.onUpdate(snap)
	}
}
