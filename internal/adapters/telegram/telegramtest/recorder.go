// Package telegramtest содержит записывающую реализацию domain.Messenger для тестов.
package telegramtest

import (
	"context"
	"strings"
	"sync"

	"remont-lead-bot/internal/domain"
)

// Recorder запоминает исходящие сообщения.
type Recorder struct {
	mu        sync.Mutex
	seq       int64
	Sent      []domain.OutboundMessage
	Edits     map[int64]string
	Reactions map[int64]string
	Callbacks []string
	Files     map[string][]byte
	// Err, если задана, возвращается из SendText и SendMedia.
	Err error
}

var _ domain.Messenger = (*Recorder)(nil)

// New создаёт пустой Recorder.
func New() *Recorder {
	return &Recorder{Edits: map[int64]string{}, Reactions: map[int64]string{}, Files: map[string][]byte{}}
}

func (r *Recorder) record(msg domain.OutboundMessage) (domain.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return domain.MessageRef{}, r.Err
	}
	r.seq++
	r.Sent = append(r.Sent, msg)
	return domain.MessageRef{Platform: "telegram", ChatID: msg.ChatID, MessageID: r.seq}, nil
}

func (r *Recorder) SendText(_ context.Context, msg domain.OutboundMessage) (domain.MessageRef, error) {
	return r.record(msg)
}

func (r *Recorder) SendMedia(_ context.Context, msg domain.OutboundMessage) (domain.MessageRef, error) {
	return r.record(msg)
}

func (r *Recorder) Edit(_ context.Context, ref domain.MessageRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Edits[ref.MessageID] = text
	return nil
}

func (r *Recorder) SetReaction(_ context.Context, ref domain.MessageRef, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reactions[ref.MessageID] = emoji
	return nil
}

func (r *Recorder) AnswerCallback(_ context.Context, callbackID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Callbacks = append(r.Callbacks, callbackID)
	return nil
}

func (r *Recorder) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.Files[fileID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

// To возвращает сообщения, отправленные в чат.
func (r *Recorder) To(chatID int64) []domain.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OutboundMessage
	for _, m := range r.Sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Last последнее сообщение в чат или пустое значение.
func (r *Recorder) Last(chatID int64) domain.OutboundMessage {
	msgs := r.To(chatID)
	if len(msgs) == 0 {
		return domain.OutboundMessage{}
	}
	return msgs[len(msgs)-1]
}

// Containing сообщения, текст которых содержит все подстроки.
func (r *Recorder) Containing(parts ...string) []domain.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OutboundMessage
next:
	for _, m := range r.Sent {
		for _, p := range parts {
			if !strings.Contains(m.Text, p) {
				continue next
			}
		}
		out = append(out, m)
	}
	return out
}

// Reset очищает записанные сообщения.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = nil
}
