package hunter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remont-lead-bot/internal/domain"
)

// discover ставит в очередь резолва новые ссылки из текста и возвращает число добавленных.
func (h *Hunter) discover(ctx context.Context, text string) int {
	n := 0
	for _, link := range ExtractLinks(text) {
		if _, err := h.store.FindTargetByLink(ctx, link); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.log.Warn().Err(err).Str("link", link).Msg("hunter: не удалось проверить ссылку")
			continue
		}
		if h.enqueue(link) {
			n++
		}
	}
	return n
}

// ErrResolveQueued ссылку не удалось разрешить сразу, она ждёт в очереди резолва.
var ErrResolveQueued = errors.New("hunter: ссылка поставлена в очередь резолва")

const resolveRetryDelay = time.Minute

func (h *Hunter) enqueue(link string) bool {
	return h.enqueueAs(link, domain.TargetPending)
}

// enqueueAs ставит ссылку в очередь. Повторная постановка может только повысить статус до active.
func (h *Hunter) enqueueAs(link string, status domain.TargetStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.queued[link]; ok {
		if status == domain.TargetActive && prev != domain.TargetActive {
			h.queued[link] = status
		}
		return false
	}
	h.queued[link] = status
	h.pending = append(h.pending, link)
	select {
	case h.wake <- struct{}{}:
	default:
	}
	return true
}

func (h *Hunter) next() (string, domain.TargetStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return "", "", false
	}
	link := h.pending[0]
	h.pending = h.pending[1:]
	return link, h.queued[link], true
}

// requeue возвращает ссылку в конец очереди без пробуждения цикла резолва.
func (h *Hunter) requeue(link string) {
	h.mu.Lock()
	h.pending = append(h.pending, link)
	h.mu.Unlock()
}

func (h *Hunter) done(link string) {
	h.mu.Lock()
	delete(h.queued, link)
	h.mu.Unlock()
}

// Pending число ссылок в очереди резолва.
func (h *Hunter) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// resolveLoop резолвит ссылки по одной: частоту ограничивает адаптер источника.
// Отложенные ссылки повторяются не раньше чем через resolveRetryDelay.
func (h *Hunter) resolveLoop(ctx context.Context) error {
	for {
		if _, err := h.DrainResolveQueue(ctx); err != nil {
			return err
		}
		var retry <-chan time.Time
		if h.Pending() > 0 {
			retry = time.After(resolveRetryDelay)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-h.wake:
		case <-retry:
		}
	}
}

// DrainResolveQueue резолвит ссылки из очереди и сохраняет найденные источники.
// Ссылка, упавшая на временной ошибке или отмене контекста, остаётся в очереди, а проход
// заканчивается. Удаляются только ссылки, которые не существуют или требуют приглашения.
func (h *Hunter) DrainResolveQueue(ctx context.Context) (int, error) {
	added := 0
	for {
		if ctx.Err() != nil {
			return added, nil
		}
		link, status, ok := h.next()
		if !ok {
			return added, nil
		}
		saved, inserted, err := h.register(ctx, link, status)
		switch {
		case errors.Is(err, domain.ErrStoreUnavailable):
			h.requeue(link)
			return added, err
		case err != nil && (ctx.Err() != nil || retryable(err)):
			h.requeue(link)
			h.log.Info().Str("link", link).Int("pending", h.Pending()).Msg("hunter: резолв отложен")
			return added, nil
		case err != nil:
			h.done(link)
			continue
		}
		h.done(link)
		if inserted {
			added++
		} else if status == domain.TargetActive {
			if _, err := h.activate(ctx, saved); err != nil {
				h.log.Warn().Err(err).Int64("target", saved.ID).Msg("hunter: не удалось активировать источник")
			}
		}
	}
}

// retryable отличает сбой транспорта от окончательного ответа о ссылке.
func retryable(err error) bool {
	var re *domain.ResolveError
	if errors.As(err, &re) {
		switch re.Kind {
		case domain.ResolveNotFound, domain.ResolveInviteRequired:
			return false
		}
		return !domain.IsPermanent(err)
	}
	return domain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// register резолвит ссылку и сохраняет источник. Ошибки резолва логируются с подсказкой для операторов.
func (h *Hunter) register(ctx context.Context, link string, status domain.TargetStatus) (domain.TargetResource, bool, error) {
	src, err := h.source.Resolve(ctx, link)
	if err != nil {
		var re *domain.ResolveError
		if errors.As(err, &re) {
			h.log.Warn().Err(err).Str("link", link).Str("kind", string(re.Kind)).Msg("hunter: " + re.Advisory())
			if re.Kind == domain.ResolveInviteRequired {
				h.alert(ctx, 0, re.Advisory())
			}
		} else {
			h.log.Warn().Err(err).Str("link", link).Msg("hunter: не удалось разрешить ссылку")
		}
		return domain.TargetResource{}, false, err
	}
	t := domain.TargetResource{
		Link:         link,
		Platform:     "telegram",
		Title:        src.Title,
		PeerID:       src.PeerID,
		AccessHash:   src.AccessHash,
		Username:     src.Username,
		Participants: src.Participants,
		Status:       status,
		CreatedAt:    h.now(),
	}
	saved, inserted, err := h.store.UpsertTarget(ctx, t)
	if err != nil {
		return domain.TargetResource{}, false, err
	}
	if inserted {
		h.log.Info().Int64("target", saved.ID).Str("link", link).Str("status", string(status)).Msg("hunter: источник добавлен")
	}
	return saved, inserted, nil
}

// AddTarget добавляет источник по команде оператора и сразу делает его активным.
// Если Telegram не ответил вовремя, ссылка ставится в очередь резолва со статусом active
// и возвращается ErrResolveQueued.
func (h *Hunter) AddTarget(ctx context.Context, raw string) (domain.TargetResource, error) {
	link := NormalizeLink(raw)
	if link == "" {
		return domain.TargetResource{}, domain.Invalid("link", fmt.Sprintf("не ссылка на чат: %q", raw))
	}
	existing, err := h.store.FindTargetByLink(ctx, link)
	switch {
	case err == nil:
		return h.activate(ctx, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.TargetResource{}, err
	}
	saved, inserted, err := h.register(ctx, link, domain.TargetActive)
	switch {
	case err != nil && (ctx.Err() != nil || retryable(err)):
		h.enqueueAs(link, domain.TargetActive)
		return domain.TargetResource{Link: link, Status: domain.TargetPending}, fmt.Errorf("%w: %v", ErrResolveQueued, err)
	case err != nil:
		return domain.TargetResource{}, err
	case inserted:
		return saved, nil
	}
	return h.activate(ctx, saved)
}

func (h *Hunter) activate(ctx context.Context, t domain.TargetResource) (domain.TargetResource, error) {
	if t.Status == domain.TargetActive {
		return t, nil
	}
	if err := h.store.SetTargetStatus(ctx, t.ID, domain.TargetActive); err != nil {
		return domain.TargetResource{}, err
	}
	t.Status = domain.TargetActive
	return t, nil
}

// ScanChats ищет новые ссылки в последних сообщениях активных источников, не сдвигая позицию чтения.
func (h *Hunter) ScanChats(ctx context.Context) (int, error) {
	targets, err := h.store.ListTargets(ctx, domain.TargetActive)
	if err != nil {
		return 0, err
	}
	found := 0
	for _, t := range targets {
		from := t.LastMessageID - int64(h.cfg.FetchLimit)
		if from < 0 {
			from = 0
		}
		msgs, err := h.source.FetchMessages(ctx, t, from, h.cfg.FetchLimit)
		if err != nil {
			h.log.Warn().Err(err).Int64("target", t.ID).Msg("hunter: не удалось прочитать источник")
			continue
		}
		for _, m := range msgs {
			found += h.discover(ctx, m.Text)
		}
	}
	return found, nil
}
