package redis

import (
	"context"
	"testing"
	"time"

	"github.com/pantrylab/pantryd/internal/application/auth"
)

func pendingSession(state string) auth.PKCESession {
	return auth.PKCESession{
		Verifier:  "verifier-" + state,
		Challenge: "challenge-" + state,
		Method:    "S256",
		State:     state,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestOAuthState_SaveThenConsume(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewOAuthStateStore(c, time.Minute)
	ctx := context.Background()

	want := pendingSession("s1")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok := store.Consume(ctx, "s1")
	if !ok {
		t.Fatal("expected pending session")
	}
	if got.Verifier != want.Verifier || got.Challenge != want.Challenge || got.Method != "S256" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestOAuthState_ConsumeIsOneShot(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewOAuthStateStore(c, time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, pendingSession("s1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := store.Consume(ctx, "s1"); !ok {
		t.Fatal("first consume must hit")
	}
	if _, ok := store.Consume(ctx, "s1"); ok {
		t.Fatal("second consume must miss")
	}
}

func TestOAuthState_UnknownStateMisses(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewOAuthStateStore(c, time.Minute)

	if _, ok := store.Consume(context.Background(), "forged"); ok {
		t.Fatal("unknown state must miss")
	}
}

func TestOAuthState_EntryExpires(t *testing.T) {
	c, srv := newTestClient(t)
	store := NewOAuthStateStore(c, time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, pendingSession("s1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	srv.FastForward(2 * time.Minute)

	if _, ok := store.Consume(ctx, "s1"); ok {
		t.Fatal("expired state must miss")
	}
}
