package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	got, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("Current on empty store: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}

	in := &Session{UserID: "u1", UserCode: "CODE1", DisplayName: "Ayşe"}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err = store.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if got == nil || got.UserID != "u1" || got.UserCode != "CODE1" || got.DisplayName != "Ayşe" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.SavedAt.IsZero() || time.Since(got.SavedAt) > time.Minute {
		t.Fatalf("SavedAt not stamped: %v", got.SavedAt)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err = store.Current(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected empty store after Clear, got %+v err=%v", got, err)
	}
}

func TestRedisStoreRejectsAnonymousSession(t *testing.T) {
	store := newRedisStore(t)
	if err := store.Save(context.Background(), &Session{UserID: "  "}); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if got, _ := store.Current(ctx); got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}
	if err := store.Save(ctx, &Session{UserID: "u2"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ := store.Current(ctx)
	if got == nil || got.UserID != "u2" {
		t.Fatalf("unexpected session: %+v", got)
	}

	// the returned copy must not alias the stored session
	got.UserID = "mutated"
	again, _ := store.Current(ctx)
	if again.UserID != "u2" {
		t.Fatal("Current returned an aliased session")
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Current(ctx); got != nil {
		t.Fatalf("expected nil after Clear, got %+v", got)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:secret@localhost:6379/2")
	if err != nil {
		t.Fatalf("parseRedisURL: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := parseRedisURL("http://localhost"); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}
