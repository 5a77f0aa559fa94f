package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"remont-lead-bot/internal/domain"
)

func TestMemoryRoundTrip(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	key := NewKey("images", ".png", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if !strings.HasPrefix(key, "images/2026/01/02/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("key = %q", key)
	}
	if err := store.Put(ctx, key, []byte("img"), "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := store.Get(ctx, key)
	if err != nil || string(data) != "img" {
		t.Fatalf("get = %q, %v", data, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}
