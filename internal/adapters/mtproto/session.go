package mtproto

import (
	"context"
	"errors"

	"github.com/gotd/td/session"

	"remont-lead-bot/internal/domain"
)

// SessionStore хранит MTProto сессию охотника в основном хранилище.
type SessionStore struct {
	repo domain.SessionRepo
	name string
}

var _ session.Storage = (*SessionStore)(nil)

// NewSessionStore создаёт хранилище сессии с именем name.
func NewSessionStore(repo domain.SessionRepo, name string) *SessionStore {
	return &SessionStore{repo: repo, name: name}
}

// LoadSession читает сессию, приводя форматы Telethon к JSON gotd.
func (s *SessionStore) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.repo.LoadMTProtoSession(ctx, s.name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	normalized, _, err := NormalizeSessionBytes(data)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

// StoreSession сохраняет обновлённую сессию.
func (s *SessionStore) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}
