// Package hunter сканирует внешние чаты и выделяет сообщения с коммерческим интересом.
package hunter

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

const (
	defaultFetchLimit  = 100
	defaultParallelism = 4
	defaultThreshold   = 7
	excerptLimit       = 500
	warmLimit          = 5000
)

// SeenSet кэш уже обработанных адресов сообщений.
type SeenSet interface {
	Seen(ctx context.Context, url string) (bool, error)
	Add(ctx context.Context, urls ...string) error
}

// Config параметры охотника.
type Config struct {
	HotThreshold int
	FetchLimit   int
	Parallelism  int
}

// Outcome итог обработки одного сообщения.
type Outcome int

const (
	OutcomeFiltered Outcome = iota
	OutcomeDuplicate
	OutcomeScored
	OutcomeHot
)

// Report сводка одного прохода.
type Report struct {
	Targets      int
	Messages     int
	Candidates   int
	Observations int
	Hot          int
	Discovered   int
}

func (r *Report) add(o Report) {
	r.Targets += o.Targets
	r.Messages += o.Messages
	r.Candidates += o.Candidates
	r.Observations += o.Observations
	r.Hot += o.Hot
	r.Discovered += o.Discovered
}

// Hunter сканирует активные источники, оценивает кандидатов и сообщает о горячих лидах.
type Hunter struct {
	store  domain.HunterRepo
	source domain.SourceReader
	scorer domain.Scorer
	notify domain.NotificationPublisher
	seen   SeenSet
	filter *Filter
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending []string
	queued  map[string]domain.TargetStatus
	wake    chan struct{}
}

// New создаёт охотника.
func New(store domain.HunterRepo, source domain.SourceReader, scorer domain.Scorer, notify domain.NotificationPublisher,
	seen SeenSet, filter *Filter, cfg Config, log zerolog.Logger) *Hunter {
	if cfg.HotThreshold <= 0 {
		cfg.HotThreshold = defaultThreshold
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = defaultFetchLimit
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &Hunter{
		store:  store,
		source: source,
		scorer: scorer,
		notify: notify,
		seen:   seen,
		filter: filter,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		queued: make(map[string]domain.TargetStatus),
		wake:   make(chan struct{}, 1),
	}
}

// Warm заполняет кэш адресами последних сохранённых наблюдений.
func (h *Hunter) Warm(ctx context.Context) error {
	urls, err := h.store.RecentObservationURLs(ctx, warmLimit)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return nil
	}
	if err := h.seen.Add(ctx, urls...); err != nil {
		return err
	}
	h.log.Info().Int("urls", len(urls)).Msg("hunter: кэш прогрет")
	return nil
}

// Run выполняет проходы с заданным периодом и обслуживает очередь резолва до отмены контекста.
func (h *Hunter) Run(ctx context.Context, interval time.Duration) error {
	if err := h.Warm(ctx); err != nil {
		h.log.Warn().Err(err).Msg("hunter: не удалось прогреть кэш")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.resolveLoop(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			report, err := h.Tick(ctx)
			switch {
			case errors.Is(err, domain.ErrStoreUnavailable):
				return err
			case err != nil && ctx.Err() == nil:
				h.log.Error().Err(err).Msg("hunter: проход завершился ошибкой")
			case err == nil:
				h.log.Info().Int("targets", report.Targets).Int("messages", report.Messages).
					Int("observations", report.Observations).Int("hot", report.Hot).Msg("hunter: проход завершён")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	return g.Wait()
}

// Tick сканирует все активные источники с ограниченным параллелизмом.
func (h *Hunter) Tick(ctx context.Context) (Report, error) {
	targets, err := h.store.ListTargets(ctx, domain.TargetActive)
	if err != nil {
		return Report{}, err
	}
	var (
		mu    sync.Mutex
		total = Report{Targets: len(targets)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Parallelism)
	for _, t := range targets {
		g.Go(func() error {
			r, err := h.scanTarget(gctx, t)
			mu.Lock()
			total.add(r)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	return total, err
}

// HuntNow внеочередной проход по запросу оператора.
func (h *Hunter) HuntNow(ctx context.Context) (Report, error) {
	return h.Tick(ctx)
}

func (h *Hunter) scanTarget(ctx context.Context, t domain.TargetResource) (Report, error) {
	log := h.log.With().Int64("target", t.ID).Str("link", t.Link).Logger()
	msgs, err := h.source.FetchMessages(ctx, t, t.LastMessageID, h.cfg.FetchLimit)
	if err != nil {
		if domain.IsPermanent(err) {
			h.archive(ctx, t, err)
			return Report{}, nil
		}
		log.Warn().Err(err).Msg("hunter: не удалось прочитать источник")
		return Report{}, nil
	}
	report := Report{Messages: len(msgs)}
	lastID := t.LastMessageID
	defer func() {
		if err := h.store.UpdateTargetLastID(context.WithoutCancel(ctx), t.ID, lastID, h.now()); err != nil {
			log.Error().Err(err).Msg("hunter: не удалось сохранить позицию")
		}
	}()
	for _, msg := range msgs {
		report.Discovered += h.discover(ctx, msg.Text)
		outcome, err := h.Process(ctx, t, msg)
		if err != nil {
			return report, err
		}
		switch outcome {
		case OutcomeScored:
			report.Candidates++
			report.Observations++
		case OutcomeHot:
			report.Candidates++
			report.Observations++
			report.Hot++
		case OutcomeDuplicate:
			report.Candidates++
		}
		if msg.ID > lastID {
			lastID = msg.ID
		}
	}
	return report, nil
}

// Process фильтрует, оценивает и сохраняет одно сообщение источника.
func (h *Hunter) Process(ctx context.Context, t domain.TargetResource, msg domain.SourceMessage) (Outcome, error) {
	verdict := h.filter.Check(msg.Text)
	if !verdict.Pass() {
		return OutcomeFiltered, nil
	}
	metrics.HunterCandidates.Inc()
	url := msg.URL
	if url == "" {
		url = fmt.Sprintf("%s/%d", strings.TrimRight(t.Link, "/"), msg.ID)
	}
	seen, err := h.seen.Seen(ctx, url)
	if err != nil {
		h.log.Warn().Err(err).Msg("hunter: кэш недоступен")
	}
	if seen {
		return OutcomeDuplicate, nil
	}
	geo := h.filter.Geo(msg.Text)
	if geo == "" {
		geo = t.Geo
	}
	obs := domain.HunterObservation{
		URL:      url,
		TargetID: t.ID,
		Excerpt:  excerpt(msg.Text),
		Intent:   verdict.Intent(),
		Geo:      geo,
	}
	a, err := h.scorer.Score(ctx, msg.Text)
	if err != nil {
		return OutcomeFiltered, fmt.Errorf("hunter: оценка %s: %w", url, err)
	}
	obs.IsLead = a.IsLead
	obs.Hotness = a.Hotness
	obs.PainStage = a.PainStage
	obs.Justification = a.Justification
	obs.ScoredBy = a.ScoredBy
	if a.Intent != "" {
		obs.Intent = a.Intent
	}
	// в хранилище попадает только оценённое наблюдение
	inserted, err := h.store.InsertObservation(ctx, obs)
	if err != nil {
		return OutcomeFiltered, err
	}
	if !inserted {
		h.remember(ctx, url)
		return OutcomeDuplicate, nil
	}
	h.remember(ctx, url)
	metrics.HunterObservations.WithLabelValues(a.ScoredBy).Inc()
	if obs.Hotness < h.cfg.HotThreshold {
		return OutcomeScored, nil
	}
	metrics.HunterHotLeads.Inc()
	n := domain.Notification{Kind: domain.NotifyHotLead, TargetID: t.ID, Text: FormatHot(obs, t), CreatedAt: h.now()}
	if err := h.notify.Publish(ctx, n); err != nil {
		h.log.Error().Err(err).Str("url", url).Msg("hunter: не удалось отправить горячий лид")
	}
	return OutcomeHot, nil
}

func (h *Hunter) remember(ctx context.Context, url string) {
	if err := h.seen.Add(ctx, url); err != nil {
		h.log.Warn().Err(err).Msg("hunter: кэш недоступен")
	}
}

func (h *Hunter) archive(ctx context.Context, t domain.TargetResource, cause error) {
	if err := h.store.SetTargetStatus(ctx, t.ID, domain.TargetArchived); err != nil {
		h.log.Error().Err(err).Int64("target", t.ID).Msg("hunter: не удалось архивировать источник")
		return
	}
	h.log.Warn().Err(cause).Int64("target", t.ID).Msg("hunter: источник архивирован")
	h.alert(ctx, t.ID, fmt.Sprintf("Источник #%d %s архивирован: %v", t.ID, t.Link, cause))
}

func (h *Hunter) alert(ctx context.Context, targetID int64, text string) {
	n := domain.Notification{Kind: domain.NotifyAlert, TargetID: targetID, Text: text, CreatedAt: h.now()}
	if err := h.notify.Publish(ctx, n); err != nil {
		h.log.Error().Err(err).Msg("hunter: не удалось отправить предупреждение")
	}
}

// FormatHot текст уведомления о горячем лиде.
func FormatHot(obs domain.HunterObservation, t domain.TargetResource) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔥 <b>Горячий лид</b> %d/10", obs.Hotness)
	if obs.PainStage != "" {
		fmt.Fprintf(&b, ", %s", obs.PainStage)
	}
	b.WriteString("\n")
	if obs.Geo != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(obs.Geo))
	}
	source := t.Title
	if source == "" {
		source = t.Link
	}
	if source != "" {
		fmt.Fprintf(&b, "Источник: %s\n", html.EscapeString(source))
	}
	fmt.Fprintf(&b, "\n«%s»\n", html.EscapeString(obs.Excerpt))
	if obs.Justification != "" {
		fmt.Fprintf(&b, "\nПочему: %s\n", html.EscapeString(obs.Justification))
	}
	fmt.Fprintf(&b, "\n%s", obs.URL)
	return b.String()
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}
	return string(runes[:excerptLimit-1]) + "…"
}
