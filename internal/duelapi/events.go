package duelapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feloxmctran/felox-sub000/internal/obslog"
)

// Named events pushed by the server on the per-user channel.
const (
	EventReady           = "ready"
	EventInviteNew       = "invite:new"
	EventInviteAccepted  = "invite:accepted"
	EventInviteRejected  = "invite:rejected"
	EventInviteCancelled = "invite:cancelled"
)

// EventHandler receives the raw data payload of one push event.
type EventHandler func(data json.RawMessage)

// StreamState mirrors the lifecycle of the push connection.
type StreamState string

const (
	StreamConnecting   StreamState = "CONNECTING"
	StreamConnected    StreamState = "CONNECTED"
	StreamReconnecting StreamState = "RECONNECTING"
	StreamClosed       StreamState = "CLOSED"
	StreamFailed       StreamState = "FAILED"
)

type StateHandler func(state StreamState)

// EventStream holds one long-lived server-sent-event connection scoped to a
// single user and routes named events to registered handlers.
//
// Two wire shapes are accepted: a native named event ("event: invite:new")
// and a generic data-only message whose JSON carries a "type" field. Both
// resolve through the same handler-by-name lookup, once per frame. Unknown
// names are dropped.
type EventStream struct {
	id     string
	url    string
	userID string

	handlers map[string]EventHandler
	onState  StateHandler

	httpc   *http.Client
	headers HeaderProvider

	maxReconnectAttempts int
	reconnectDelay       time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type StreamOption func(*EventStream)

func WithStreamHeaderProvider(h HeaderProvider) StreamOption {
	return func(s *EventStream) { s.headers = h }
}

func WithStreamStateHandler(h StateHandler) StreamOption {
	return func(s *EventStream) { s.onState = h }
}

func WithStreamReconnect(maxAttempts int, delay time.Duration) StreamOption {
	return func(s *EventStream) {
		s.maxReconnectAttempts = maxAttempts
		s.reconnectDelay = delay
	}
}

// OpenEvents connects to eventsURL/{userID} and starts dispatching. Fails
// fast when userID is empty; network problems are handled by reconnection,
// not by the caller.
func OpenEvents(eventsURL, userID string, handlers map[string]EventHandler, opts ...StreamOption) (*EventStream, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Msg: "user id required for event stream"}
	}
	s := &EventStream{
		id:                   uuid.NewString(),
		url:                  strings.TrimRight(eventsURL, "/") + "/" + url.PathEscape(userID),
		userID:               userID,
		handlers:             make(map[string]EventHandler, len(handlers)),
		httpc:                &http.Client{}, // no timeout: the stream stays open
		maxReconnectAttempts: 5,
		reconnectDelay:       time.Second,
		stopCh:               make(chan struct{}),
	}
	for name, h := range handlers {
		if h != nil {
			s.handlers[name] = h
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// ID identifies this subscription instance.
func (s *EventStream) ID() string { return s.id }

// Close releases the connection. Idempotent and safe from any state.
func (s *EventStream) Close(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.rootCancel()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	s.setState(StreamClosed)
	return nil
}

func (s *EventStream) run() {
	defer s.wg.Done()

	attempt := 0
	for {
		if s.isStopping() {
			return
		}
		s.setState(StreamConnecting)
		err := s.consumeOnce()
		if s.isStopping() {
			return
		}
		if err != nil {
			obslog.L().Warn("events_stream_error",
				zap.String("stream_id", s.id),
				zap.String("user_id", s.userID),
				zap.Error(err),
			)
		}

		attempt++
		if s.maxReconnectAttempts > 0 && attempt > s.maxReconnectAttempts {
			s.setState(StreamFailed)
			return
		}
		s.setState(StreamReconnecting)
		select {
		case <-s.stopCh:
			return
		case <-time.After(streamBackoff(attempt, s.reconnectDelay)):
		}
	}
}

// consumeOnce opens the stream and dispatches frames until it breaks.
func (s *EventStream) consumeOnce() error {
	req, err := http.NewRequestWithContext(s.rootCtx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.headers != nil {
		for k, v := range s.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode}
	}

	s.setState(StreamConnected)

	var eventName string
	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		if s.isStopping() {
			return nil
		}
		line := scanner.Text()
		switch {
		case line == "":
			s.dispatch(eventName, data.String())
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}

// dispatch routes one complete frame to at most one handler.
func (s *EventStream) dispatch(name, data string) {
	if name == "" && data == "" {
		return
	}
	raw := json.RawMessage(data)
	if name == "" || name == "message" {
		// generic envelope: the event name travels inside the payload
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			return
		}
		name = env.Type
	}
	h, ok := s.handlers[name]
	if !ok {
		// unknown event names are dropped for forward compatibility
		return
	}
	h(raw)
}

func (s *EventStream) setState(state StreamState) {
	if s.onState != nil {
		s.onState(state)
	}
}

func (s *EventStream) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func streamBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	if base <= 0 {
		base = time.Second
	}
	return time.Duration(1<<uint(attempt-1)) * base
}
