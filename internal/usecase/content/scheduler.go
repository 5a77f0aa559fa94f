package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/blob"
	"remont-lead-bot/internal/infra/metrics"
	"remont-lead-bot/internal/infra/retry"
)

// Store данные контент-плана и очереди публикаций.
type Store interface {
	domain.ContentRepo
	domain.ScheduleRepo
}

// SchedulerConfig параметры планировщика.
type SchedulerConfig struct {
	Batch           int
	Attempts        int
	ImageGeneration bool
}

// Scheduler отправляет наступившие посты. Несколько экземпляров могут работать одновременно:
// пост отправляет только тот, кто его захватил.
type Scheduler struct {
	store      Store
	publishers map[domain.ChannelTag]domain.Publisher
	notify     domain.NotificationPublisher
	images     domain.ImageGenerator
	blobs      domain.BlobStore
	policy     retry.Policy
	cfg        SchedulerConfig
	now        func() time.Time
	log        zerolog.Logger
}

// SchedulerOption настраивает планировщик.
type SchedulerOption func(*Scheduler)

// WithImages включает генерацию картинок для постов с промптом.
func WithImages(gen domain.ImageGenerator, blobs domain.BlobStore) SchedulerOption {
	return func(s *Scheduler) { s.images, s.blobs = gen, blobs }
}

// WithRetry подменяет политику повторов отправки. Число попыток политики важнее SchedulerConfig.Attempts,
// пока оно задано.
func WithRetry(p retry.Policy) SchedulerOption {
	return func(s *Scheduler) { s.policy = p }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler создаёт планировщик.
func NewScheduler(store Store, publishers map[domain.ChannelTag]domain.Publisher, notify domain.NotificationPublisher, cfg SchedulerConfig, log zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	if cfg.Batch <= 0 {
		cfg.Batch = 32
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	policy := retry.Default()
	policy.MaxAttempts = cfg.Attempts
	s := &Scheduler{
		store:      store,
		publishers: publishers,
		notify:     notify,
		policy:     policy,
		cfg:        cfg,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxAttempts <= 0 {
		s.policy.MaxAttempts = cfg.Attempts
	}
	return s
}

// Run выполняет Tick каждые interval до отмены контекста. Начатая пачка доводится до конца.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Tick(context.WithoutCancel(ctx)); err != nil {
				if errors.Is(err, domain.ErrStoreUnavailable) {
					return err
				}
				s.log.Error().Err(err).Msg("content: ошибка тика планировщика")
			}
		}
	}
}

// Tick отправляет до Batch наступивших постов и возвращает число отправленных попыток.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	due, err := s.store.DueScheduledPosts(ctx, s.now(), s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("content: выборка постов: %w", err)
	}
	touched := make(map[int64]struct{})
	delivered := 0
	for _, post := range due {
		claimed, err := s.store.ClaimScheduledPost(ctx, post.ID)
		if err != nil {
			return delivered, fmt.Errorf("content: захват поста %d: %w", post.ID, err)
		}
		if !claimed {
			continue
		}
		s.deliver(ctx, post)
		delivered++
		touched[post.ContentID] = struct{}{}
	}
	ids := make([]int64, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := s.finalize(ctx, id, domain.SystemActor); err != nil {
			s.log.Error().Err(err).Int64("content", id).Msg("content: не удалось завершить публикацию")
		}
	}
	return delivered, nil
}

// deliver отправляет захваченный пост с повторами временных ошибок.
func (s *Scheduler) deliver(ctx context.Context, post domain.ScheduledPost) {
	log := s.log.With().Int64("content", post.ContentID).Int64("post", post.ID).Str("channel", string(post.Channel)).Logger()
	publisher, ok := s.publishers[post.Channel]
	if !ok {
		s.fail(ctx, log, post, "площадка не настроена")
		return
	}
	post.Media = s.ensureMedia(ctx, log, post)

	var ref domain.MessageRef
	policy := s.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("content: повтор отправки")
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = publisher.Publish(ctx, post)
		if err != nil {
			if recErr := s.store.RecordPostAttempt(ctx, post.ID, err.Error()); recErr != nil {
				log.Warn().Err(recErr).Msg("content: не удалось записать попытку")
			}
		}
		return err
	})
	if err != nil {
		s.fail(ctx, log, post, err.Error())
		return
	}
	if err := s.store.MarkPostSent(ctx, post.ID, ref.String(), s.now()); err != nil {
		log.Error().Err(err).Msg("content: пост отправлен, но статус не сохранён")
		return
	}
	metrics.IncPost(string(post.Channel), string(domain.PostSent))
	log.Info().Str("ref", ref.String()).Msg("content: пост опубликован")
}

func (s *Scheduler) fail(ctx context.Context, log zerolog.Logger, post domain.ScheduledPost, reason string) {
	if err := s.store.MarkPostFailed(ctx, post.ID, reason); err != nil {
		log.Error().Err(err).Msg("content: не удалось отметить пост")
	}
	metrics.IncPost(string(post.Channel), string(domain.PostFailed))
	log.Error().Str("reason", reason).Msg("content: пост не отправлен")
}

// ensureMedia подставляет медиа контента или генерирует картинку по промпту.
// Ошибка генерации не мешает отправить пост без картинки.
func (s *Scheduler) ensureMedia(ctx context.Context, log zerolog.Logger, post domain.ScheduledPost) domain.Media {
	if !post.Media.Empty() {
		return post.Media
	}
	item, err := s.store.GetContentItem(ctx, post.ContentID)
	if err != nil {
		log.Warn().Err(err).Msg("content: не удалось загрузить контент для медиа")
		return post.Media
	}
	if item.MediaRef != "" {
		return MediaFor(item.MediaRef)
	}
	if item.ImagePrompt == "" || !s.cfg.ImageGeneration || s.images == nil || s.blobs == nil {
		return post.Media
	}
	data, contentType, err := s.images.GenerateImage(ctx, item.ImagePrompt)
	if err != nil {
		log.Warn().Err(err).Msg("content: картинка не сгенерирована")
		return post.Media
	}
	key := blob.NewKey("content", extension(contentType), s.now())
	if err := s.blobs.Put(ctx, key, data, contentType); err != nil {
		log.Warn().Err(err).Msg("content: картинка не сохранена")
		return post.Media
	}
	if err := s.store.SetContentMedia(ctx, item.ID, key); err != nil {
		log.Warn().Err(err).Msg("content: ссылка на картинку не сохранена")
	}
	return domain.Media{Kind: domain.MediaBlob, Ref: key}
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	}
	return "jpg"
}

// finalize закрывает единицу контента, когда все её посты обработаны: published, если всё отправлено,
// failed, если хоть один пост не ушёл. Уведомление об ошибке отправляет только выигравший переход.
func (s *Scheduler) finalize(ctx context.Context, contentID int64, publisher domain.Actor) error {
	summary, err := s.store.PostsSummary(ctx, contentID)
	if err != nil {
		return err
	}
	if summary.Pending > 0 || summary.Sending > 0 {
		return nil
	}
	item, err := s.store.GetContentItem(ctx, contentID)
	if err != nil {
		return err
	}
	switch {
	case summary.Failed > 0 && item.Status.Active():
		_, err := s.store.TransitionContent(ctx, domain.ContentTransition{
			ID: contentID, From: item.Status, To: domain.ContentFailed, Actor: domain.SystemActor,
			Note: fmt.Sprintf("не отправлено постов: %d из %d", summary.Failed, summary.Failed+summary.Sent),
		})
		if errors.Is(err, domain.ErrIllegalTransition) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.alert(ctx, item, summary)
	case summary.Failed == 0 && summary.Sent > 0 && (item.Status == domain.ContentScheduled || item.Status == domain.ContentApproved):
		actor := domain.SystemActor
		if item.Status == domain.ContentApproved {
			actor = publisher
		}
		_, err := s.store.TransitionContent(ctx, domain.ContentTransition{
			ID: contentID, From: item.Status, To: domain.ContentPublished, Actor: actor, Note: "опубликовано",
		})
		if errors.Is(err, domain.ErrIllegalTransition) {
			return nil
		}
		if err == nil {
			s.log.Info().Int64("content", contentID).Msg("content: контент опубликован")
		}
		return err
	}
	return nil
}

func (s *Scheduler) alert(ctx context.Context, item domain.ContentItem, summary domain.PostsSummary) error {
	n := domain.Notification{
		Kind:      domain.NotifyAlert,
		ContentID: item.ID,
		Text: fmt.Sprintf("⚠️ Публикация %s не удалась: %d из %d площадок не приняли пост. Повторить: resurrect %d",
			Summary(item), summary.Failed, summary.Failed+summary.Sent, item.ID),
	}
	if err := s.notify.Publish(ctx, n); err != nil {
		return fmt.Errorf("content: оповещение о сбое %d: %w", item.ID, err)
	}
	return nil
}
