// Package notify доставляет уведомления из очереди в темы рабочего чата сотрудников.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/queue"
)

const (
	defaultRedeliveries = 5
	defaultDelay        = time.Second
)

// Threads темы форума рабочего чата.
type Threads struct {
	Residential int
	Commercial  int
	House       int
	Hunter      int
	Alerts      int
}

// Config параметры доставки.
type Config struct {
	ChatID  int64
	Threads Threads
	// Redeliveries сколько раз уведомление возвращается в очередь после временной ошибки.
	Redeliveries int
	Delay        time.Duration
}

// Notifier читает очередь уведомлений и отправляет их сотрудникам.
type Notifier struct {
	queue     domain.NotificationQueue
	messenger domain.Messenger
	cfg       Config
	log       zerolog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// New создаёт доставщика.
func New(q domain.NotificationQueue, messenger domain.Messenger, cfg Config, log zerolog.Logger) *Notifier {
	if cfg.Redeliveries <= 0 {
		cfg.Redeliveries = defaultRedeliveries
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	return &Notifier{queue: q, messenger: messenger, cfg: cfg, log: log, attempts: make(map[string]int)}
}

// Run обрабатывает очередь до отмены контекста или закрытия очереди.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		note, ack, err := n.queue.Receive(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, queue.ErrClosed):
			return nil
		case err != nil:
			n.log.Error().Err(err).Msg("notify: ошибка чтения очереди")
			if !sleep(ctx, n.cfg.Delay) {
				return nil
			}
			continue
		}
		err = n.Deliver(ctx, note)
		if err != nil && ctx.Err() != nil {
			_ = ack(false)
			return nil
		}
		if err == nil || !domain.IsTransient(err) || !n.retry(note.ID) {
			if err != nil {
				n.log.Error().Err(err).Str("id", note.ID).Str("kind", string(note.Kind)).Msg("notify: уведомление не доставлено")
			}
			n.forget(note.ID)
			if ackErr := ack(true); ackErr != nil {
				n.log.Warn().Err(ackErr).Msg("notify: не удалось подтвердить уведомление")
			}
			continue
		}
		n.log.Warn().Err(err).Str("id", note.ID).Msg("notify: временная ошибка, уведомление возвращено в очередь")
		if ackErr := ack(false); ackErr != nil {
			n.log.Error().Err(ackErr).Str("id", note.ID).Msg("notify: не удалось вернуть уведомление в очередь")
		}
		if !sleep(ctx, n.cfg.Delay) {
			return nil
		}
	}
}

// Flush доставляет оставшиеся в очереди уведомления после остановки Run. Останавливается,
// когда очередь пуста дольше idle, при первой ошибке доставки или по ctx. Возвращает число отправленных.
func (n *Notifier) Flush(ctx context.Context, idle time.Duration) int {
	sent := 0
	for ctx.Err() == nil {
		rctx, cancel := context.WithTimeout(ctx, idle)
		note, ack, err := n.queue.Receive(rctx)
		cancel()
		if err != nil {
			break
		}
		if err := n.Deliver(ctx, note); err != nil {
			n.log.Error().Err(err).Str("id", note.ID).Msg("notify: уведомление не доставлено при остановке")
			_ = ack(false)
			break
		}
		if err := ack(true); err != nil {
			n.log.Warn().Err(err).Msg("notify: не удалось подтвердить уведомление")
		}
		sent++
	}
	if sent > 0 {
		n.log.Info().Int("sent", sent).Msg("notify: очередь дослана")
	}
	return sent
}

func (n *Notifier) retry(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts[id]++
	return n.attempts[id] <= n.cfg.Redeliveries
}

func (n *Notifier) forget(id string) {
	n.mu.Lock()
	delete(n.attempts, id)
	n.mu.Unlock()
}

// Deliver отправляет уведомление в тему по его типу. Вложение заявки уходит следом отдельным сообщением.
func (n *Notifier) Deliver(ctx context.Context, note domain.Notification) error {
	msg := domain.OutboundMessage{
		ChatID:    n.cfg.ChatID,
		ThreadID:  n.Thread(note),
		Text:      note.Text,
		HTML:      note.Kind == domain.NotifyHotLead,
		NoPreview: true,
	}
	if _, err := n.messenger.SendText(ctx, msg); err != nil {
		return fmt.Errorf("notify: %s: %w", note.Kind, err)
	}
	if note.Attachment == "" {
		return nil
	}
	media, ok := AttachmentMedia(note.Attachment)
	if !ok {
		n.log.Warn().Str("attachment", note.Attachment).Msg("notify: неизвестный формат вложения")
		return nil
	}
	caption := "Вложение"
	if note.LeadID != 0 {
		caption = fmt.Sprintf("Вложение к заявке №%d", note.LeadID)
	}
	att := domain.OutboundMessage{ChatID: msg.ChatID, ThreadID: msg.ThreadID, Text: caption, Media: media}
	if _, err := n.messenger.SendMedia(ctx, att); err != nil {
		// текст уже доставлен, повтор продублирует карточку
		n.log.Error().Err(err).Int64("lead", note.LeadID).Msg("notify: не удалось отправить вложение")
	}
	return nil
}

// Thread тема форума для уведомления. Ноль означает общую ленту чата.
func (n *Notifier) Thread(note domain.Notification) int {
	t := n.cfg.Threads
	switch note.Kind {
	case domain.NotifyLeadReady:
		switch note.ObjectType {
		case domain.ObjectCommercial:
			return t.Commercial
		case domain.ObjectHouse:
			return t.House
		default:
			return t.Residential
		}
	case domain.NotifyHotLead:
		return t.Hunter
	default:
		return t.Alerts
	}
}

// AttachmentMedia разбирает ссылку вида photo:<file_id> или document:<file_id>.
func AttachmentMedia(ref string) (domain.Media, bool) {
	kind, id, ok := strings.Cut(ref, ":")
	if !ok || id == "" {
		return domain.Media{}, false
	}
	switch kind {
	case "photo":
		return domain.Media{Kind: domain.MediaFileID, Ref: id}, true
	case "document":
		return domain.Media{Kind: domain.MediaFileID, Ref: id, AsDocument: true}, true
	}
	return domain.Media{}, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
