// Package content ведёт контент-план: черновики, ревью, планирование и публикацию постов.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
)

// publishNowGrace срок, на который откладываются посты немедленной публикации,
// чтобы их не захватил тик планировщика до отправки.
const publishNowGrace = 15 * time.Minute

// Draft новая единица контента.
type Draft struct {
	Type        string
	Channel     domain.ChannelTag
	Title       string
	Body        string
	CTA         string
	MediaRef    string
	ImagePrompt string
	// Idea создаёт идею вместо черновика.
	Idea bool
}

// Service операции контент-плана от имени оператора.
type Service struct {
	store      Store
	scheduler  *Scheduler
	copywriter domain.Copywriter
	now        func() time.Time
	log        zerolog.Logger
}

// NewService создаёт сервис. copywriter может быть nil, тогда write недоступна.
func NewService(store Store, scheduler *Scheduler, copywriter domain.Copywriter, log zerolog.Logger) *Service {
	return &Service{store: store, scheduler: scheduler, copywriter: copywriter, now: time.Now, log: log}
}

// Create добавляет идею или черновик. Похожий текст отклоняется с domain.ErrDuplicateHash.
func (s *Service) Create(ctx context.Context, actor domain.Actor, d Draft) (domain.ContentItem, error) {
	status := domain.ContentDraft
	if d.Idea {
		status = domain.ContentIdea
	}
	if d.Type == "" {
		d.Type = "post"
	}
	item := domain.ContentItem{
		Type:        d.Type,
		Channel:     d.Channel,
		Title:       strings.TrimSpace(d.Title),
		Body:        strings.TrimSpace(d.Body),
		CTA:         strings.TrimSpace(d.CTA),
		MediaRef:    strings.TrimSpace(d.MediaRef),
		ImagePrompt: strings.TrimSpace(d.ImagePrompt),
		Status:      status,
	}
	id, err := s.store.InsertContentItem(ctx, item, actor)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("content: создание: %w", err)
	}
	s.log.Info().Int64("content", id).Int64("actor", actor.ID).Str("status", string(status)).Msg("content: создан контент")
	return s.store.GetContentItem(ctx, id)
}

// Submit отправляет черновик на ревью.
func (s *Service) Submit(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error) {
	return s.move(ctx, domain.ContentTransition{ID: id, From: domain.ContentDraft, To: domain.ContentReview, Actor: actor})
}

// Approve одобряет пост на ревью.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error) {
	return s.move(ctx, domain.ContentTransition{ID: id, From: domain.ContentReview, To: domain.ContentApproved, Actor: actor})
}

// Reject возвращает пост с ревью в черновики.
func (s *Service) Reject(ctx context.Context, actor domain.Actor, id int64, note string) (domain.ContentItem, error) {
	return s.move(ctx, domain.ContentTransition{ID: id, From: domain.ContentReview, To: domain.ContentDraft, Actor: actor, Note: note})
}

// Revoke снимает пост с расписания обратно в одобренные. Неотправленные посты удаляются.
func (s *Service) Revoke(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error) {
	return s.move(ctx, domain.ContentTransition{ID: id, From: domain.ContentScheduled, To: domain.ContentApproved, Actor: actor, Note: "снято с расписания"})
}

// Schedule планирует одобренный пост на момент at и создаёт по посту на каждую площадку.
func (s *Service) Schedule(ctx context.Context, actor domain.Actor, id int64, at time.Time) (domain.ContentItem, error) {
	if at.Before(s.now().Add(-time.Minute)) {
		return domain.ContentItem{}, domain.Invalid("scheduled_at", "время публикации в прошлом")
	}
	item, err := s.store.GetContentItem(ctx, id)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("content: %w", err)
	}
	at = at.UTC()
	return s.move(ctx, domain.ContentTransition{
		ID: id, From: domain.ContentApproved, To: domain.ContentScheduled, Actor: actor,
		ScheduledAt: &at, Posts: posts(item, at),
	})
}

// PublishNow немедленно публикует одобренный пост. Доступно только администратору.
// Из одновременных вызовов посты создаёт и отправляет только один, остальные получают ErrIllegalTransition.
func (s *Service) PublishNow(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error) {
	if err := domain.CheckTransition(domain.ContentApproved, domain.ContentPublished, actor.Role); err != nil {
		return domain.ContentItem{}, err
	}
	item, err := s.store.GetContentItem(ctx, id)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("content: %w", err)
	}
	if item.Status != domain.ContentApproved {
		return domain.ContentItem{}, fmt.Errorf("%w: %s → %s", domain.ErrIllegalTransition, item.Status, domain.ContentPublished)
	}
	inserted, err := s.store.InsertScheduledPosts(ctx, posts(item, s.now().Add(publishNowGrace)))
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("content: посты: %w", err)
	}
	for _, post := range inserted {
		claimed, err := s.store.ClaimScheduledPost(ctx, post.ID)
		if err != nil {
			return domain.ContentItem{}, fmt.Errorf("content: захват поста %d: %w", post.ID, err)
		}
		if claimed {
			s.scheduler.deliver(ctx, post)
		}
	}
	if err := s.scheduler.finalize(ctx, id, actor); err != nil {
		return domain.ContentItem{}, err
	}
	return s.store.GetContentItem(ctx, id)
}

// WriteDraft превращает идею в черновик текстом копирайтера.
func (s *Service) WriteDraft(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error) {
	if s.copywriter == nil {
		return domain.ContentItem{}, errors.New("content: копирайтер не настроен")
	}
	item, err := s.store.GetContentItem(ctx, id)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("content: %w", err)
	}
	if item.Status != domain.ContentIdea {
		return domain.ContentItem{}, fmt.Errorf("%w: черновик пишется только из идеи, статус %s", domain.ErrIllegalTransition, item.Status)
	}
	patch, err := s.copywriter.Draft(ctx, item)
	if err != nil {
		return domain.ContentItem{}, err
	}
	return s.move(ctx, domain.ContentTransition{ID: id, From: domain.ContentIdea, To: domain.ContentDraft, Actor: actor, Patch: &patch, Note: "текст от копирайтера"})
}

// Resurrect создаёт новый черновик из неудавшейся публикации.
func (s *Service) Resurrect(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error) {
	item, err := s.store.GetContentItem(ctx, id)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("content: %w", err)
	}
	if item.Status != domain.ContentFailed {
		return domain.ContentItem{}, fmt.Errorf("%w: восстановить можно только failed, статус %s", domain.ErrIllegalTransition, item.Status)
	}
	return s.Create(ctx, actor, Draft{
		Type: item.Type, Channel: item.Channel, Title: item.Title, Body: item.Body, CTA: item.CTA,
		MediaRef: item.MediaRef, ImagePrompt: item.ImagePrompt,
	})
}

// ReviewQueue посты, ожидающие ревью.
func (s *Service) ReviewQueue(ctx context.Context, limit int) ([]domain.ContentItem, error) {
	return s.store.ListContent(ctx, domain.ContentReview, limit)
}

// List контент в статусе.
func (s *Service) List(ctx context.Context, status domain.ContentStatus, limit int) ([]domain.ContentItem, error) {
	return s.store.ListContent(ctx, status, limit)
}

func (s *Service) move(ctx context.Context, tr domain.ContentTransition) (domain.ContentItem, error) {
	item, err := s.store.TransitionContent(ctx, tr)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("content: %s → %s: %w", tr.From, tr.To, err)
	}
	s.log.Info().Int64("content", tr.ID).Int64("actor", tr.Actor.ID).Str("from", string(tr.From)).Str("to", string(tr.To)).Msg("content: переход")
	return item, nil
}

func posts(item domain.ContentItem, at time.Time) []domain.ScheduledPost {
	text := Render(item)
	media := MediaFor(item.MediaRef)
	channels := item.Channel.Expand()
	out := make([]domain.ScheduledPost, 0, len(channels))
	for _, ch := range channels {
		out = append(out, domain.ScheduledPost{ContentID: item.ID, Channel: ch, Text: text, Media: media, ScheduledAt: at})
	}
	return out
}
