package repo

import (
	"fmt"
	"strings"
	"time"

	"remont-lead-bot/internal/domain"
)

const (
	auditContent = "content"
	// hotStatsThreshold порог «горячих» наблюдений в сводке.
	hotStatsThreshold = 7
)

func checkInsert(item domain.ContentItem, actor domain.Actor) error {
	if item.Status != domain.ContentIdea && item.Status != domain.ContentDraft {
		return fmt.Errorf("%w: новый контент не может быть в статусе %s", domain.ErrIllegalTransition, item.Status)
	}
	switch actor.Role {
	case domain.RoleAuthor, domain.RoleEditor, domain.RoleAdmin:
	default:
		return fmt.Errorf("%w: создание контента", domain.ErrForbidden)
	}
	if !item.Channel.Valid() {
		return domain.Invalid("channel", string(item.Channel))
	}
	if strings.TrimSpace(item.Body) == "" {
		return domain.Invalid("body", "пустой текст")
	}
	return nil
}

func checkTransition(tr domain.ContentTransition) error {
	if err := domain.CheckTransition(tr.From, tr.To, tr.Actor.Role); err != nil {
		return err
	}
	if tr.To == domain.ContentScheduled && tr.ScheduledAt == nil {
		return domain.Invalid("scheduled_at", "не задано время публикации")
	}
	if len(tr.Posts) > 0 && tr.To != domain.ContentScheduled {
		return domain.Invalid("posts", "посты создаются только при планировании")
	}
	if tr.Patch != nil && strings.TrimSpace(tr.Patch.Body) == "" {
		return domain.Invalid("body", "пустой текст")
	}
	return nil
}

// applyStatus поддерживает инварианты: scheduled_at задан только в scheduled, published_at только в published.
func applyStatus(item *domain.ContentItem, tr domain.ContentTransition, now time.Time) {
	item.Status = tr.To
	item.ScheduledAt = nil
	if tr.To == domain.ContentScheduled {
		at := *tr.ScheduledAt
		item.ScheduledAt = &at
	}
	item.PublishedAt = nil
	if tr.To == domain.ContentPublished {
		at := now
		item.PublishedAt = &at
	}
	item.UpdatedAt = now
}

func sessionName(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
