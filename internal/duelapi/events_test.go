package duelapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// sseHandler serves a fixed set of frames, then holds the connection open
// until the client disconnects.
func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer is not a flusher")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
			fl.Flush()
		}
		<-r.Context().Done()
	}
}

type eventRecorder struct {
	mu    sync.Mutex
	calls map[string][]string
	seen  chan string
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{calls: make(map[string][]string), seen: make(chan string, 16)}
}

func (r *eventRecorder) handler(name string) EventHandler {
	return func(data json.RawMessage) {
		r.mu.Lock()
		r.calls[name] = append(r.calls[name], string(data))
		r.mu.Unlock()
		r.seen <- name
	}
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[name])
}

func (r *eventRecorder) payload(name string, i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name][i]
}

func (r *eventRecorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func TestEventStreamDispatch(t *testing.T) {
	frames := []string{
		"event: invite:new\ndata: {\"id\":\"i7\"}\n\n",
		"data: {\"type\":\"ready\",\"ok\":true}\n\n",
		": keepalive\n\n",
		"event: totally:unknown\ndata: {}\n\n",
		"event: invite:accepted\ndata: {\"match\":{\"id\":\"m1\"}}\n\n",
	}
	srv := httptest.NewServer(sseHandler(t, frames))
	defer srv.Close()

	rec := newEventRecorder()
	handlers := map[string]EventHandler{
		EventInviteNew:      rec.handler(EventInviteNew),
		EventReady:          rec.handler(EventReady),
		EventInviteAccepted: rec.handler(EventInviteAccepted),
	}

	stream, err := OpenEvents(srv.URL, "u1", handlers, WithStreamReconnect(1, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenEvents: %v", err)
	}
	defer stream.Close(context.Background())

	rec.wait(t, 3)

	if got := rec.count(EventInviteNew); got != 1 {
		t.Errorf("invite:new dispatched %d times, want 1", got)
	}
	if got := rec.payload(EventInviteNew, 0); got != `{"id":"i7"}` {
		t.Errorf("invite:new payload = %s", got)
	}
	// generic envelope resolves through the same lookup, with the full body
	if got := rec.count(EventReady); got != 1 {
		t.Errorf("ready dispatched %d times, want 1", got)
	}
	if got := rec.count(EventInviteAccepted); got != 1 {
		t.Errorf("invite:accepted dispatched %d times, want 1", got)
	}
}

func TestEventStreamUserScopedPath(t *testing.T) {
	pathCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case pathCh <- r.URL.Path:
		default:
		}
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	}))
	defer srv.Close()

	stream, err := OpenEvents(srv.URL+"/api/duello/events", "u42", nil)
	if err != nil {
		t.Fatalf("OpenEvents: %v", err)
	}
	defer stream.Close(context.Background())

	select {
	case p := <-pathCh:
		if p != "/api/duello/events/u42" {
			t.Fatalf("unexpected path %q", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the subscribe request")
	}
}

func TestOpenEventsRequiresUserID(t *testing.T) {
	if _, err := OpenEvents("http://localhost:0", "  ", nil); !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestEventStreamCloseIdempotent(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil))
	defer srv.Close()

	stream, err := OpenEvents(srv.URL, "u1", nil)
	if err != nil {
		t.Fatalf("OpenEvents: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stream.Close(ctx); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := stream.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEventStreamReportsFailedAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	states := make(chan StreamState, 32)
	stream, err := OpenEvents(srv.URL, "u1", nil,
		WithStreamReconnect(2, time.Millisecond),
		WithStreamStateHandler(func(s StreamState) { states <- s }),
	)
	if err != nil {
		t.Fatalf("OpenEvents: %v", err)
	}
	defer stream.Close(context.Background())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == StreamFailed {
				return
			}
		case <-deadline:
			t.Fatal("stream never reached FAILED")
		}
	}
}

func TestStreamBackoffBounded(t *testing.T) {
	if got := streamBackoff(1, time.Second); got != time.Second {
		t.Errorf("attempt 1: %v", got)
	}
	if got := streamBackoff(3, time.Second); got != 4*time.Second {
		t.Errorf("attempt 3: %v", got)
	}
	if got := streamBackoff(50, time.Second); got != 32*time.Second {
		t.Errorf("attempt 50 should cap: %v", got)
	}
}
