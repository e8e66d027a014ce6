package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/feloxmctran/felox-sub000/internal/duelapi"
)

// duellocheck probes the duello service: one profile fetch plus a short
// observation window on the event stream.
func main() {
	baseURL := os.Getenv("DUELLO_BASE_URL")
	userID := os.Getenv("DUELLO_USER_ID")
	if baseURL == "" {
		log.Fatal("DUELLO_BASE_URL is required")
	}
	if userID == "" {
		log.Fatal("DUELLO_USER_ID is required")
	}

	client := duelapi.NewClient(baseURL, duelapi.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	profile, err := client.Profile(ctx, userID)
	if err != nil {
		log.Printf("profile error: %v", err)
	} else {
		log.Printf("profile ok: ready=%v visibility=%s", profile.Ready, profile.VisibilityMode)
	}

	logEvent := func(name string) duelapi.EventHandler {
		return func(data json.RawMessage) {
			log.Printf("event %s: %s", name, string(data))
		}
	}
	handlers := map[string]duelapi.EventHandler{
		duelapi.EventReady:           logEvent(duelapi.EventReady),
		duelapi.EventInviteNew:       logEvent(duelapi.EventInviteNew),
		duelapi.EventInviteAccepted:  logEvent(duelapi.EventInviteAccepted),
		duelapi.EventInviteRejected:  logEvent(duelapi.EventInviteRejected),
		duelapi.EventInviteCancelled: logEvent(duelapi.EventInviteCancelled),
	}

	stream, err := duelapi.OpenEvents(baseURL+"/api/duello/events", userID, handlers,
		duelapi.WithStreamStateHandler(func(state duelapi.StreamState) {
			log.Printf("stream state: %s", state)
		}),
	)
	if err != nil {
		log.Fatalf("event stream error: %v", err)
	}

	// observe briefly, then release the connection
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = stream.Close(context.Background())
}
