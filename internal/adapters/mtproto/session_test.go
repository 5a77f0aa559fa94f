package mtproto

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/session"

	"remont-lead-bot/internal/adapters/repo"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	store := NewSessionStore(repo.NewMemory(), "hunter")
	ctx := context.Background()
	if _, err := store.LoadSession(ctx); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("missing session err = %v", err)
	}
	data := []byte(`{"Version":1,"Data":{"DC":4}}`)
	if err := store.StoreSession(ctx, data); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := store.LoadSession(ctx)
	if err != nil || string(got) != string(data) {
		t.Fatalf("load = %s, %v", got, err)
	}
}
