// Package app собирает компоненты бота в один процесс и управляет их жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"remont-lead-bot/internal/adapters/bot"
	"remont-lead-bot/internal/adapters/copywriter"
	"remont-lead-bot/internal/adapters/scorer"
	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/cache"
	"remont-lead-bot/internal/infra/config"
	apphttp "remont-lead-bot/internal/infra/http"
	applog "remont-lead-bot/internal/infra/log"
	"remont-lead-bot/internal/usecase/content"
	"remont-lead-bot/internal/usecase/dialog"
	"remont-lead-bot/internal/usecase/hunter"
	"remont-lead-bot/internal/usecase/jobs"
	"remont-lead-bot/internal/usecase/knowledge"
	"remont-lead-bot/internal/usecase/notify"
	"remont-lead-bot/internal/usecase/operator"
	"remont-lead-bot/internal/usecase/quiz"
	"remont-lead-bot/internal/usecase/router"
	"remont-lead-bot/internal/usecase/sales"
)

const (
	eventTimeout  = time.Minute
	drainTimeout  = 15 * time.Second
	flushIdle     = 200 * time.Millisecond
	seenCacheSize = 20000
	webhookPath   = "/bot/webhook"
)

// Deps внешние зависимости. Store, Queue, Messenger и LLM обязательны; без Source охотник не запускается.
type Deps struct {
	Store      domain.Store
	Queue      domain.NotificationQueue
	Messenger  domain.Messenger
	Publishers map[domain.ChannelTag]domain.Publisher
	LLM        domain.LLM
	Source     domain.SourceReader
	Speech     domain.SpeechRecognizer
	Images     domain.ImageGenerator
	Blobs      domain.BlobStore
	Seen       hunter.SeenSet
	Knowledge  dialog.Knowledge
	Vocabulary *hunter.Vocabulary
	// Updates источник long polling; nil, если обновления приходят через webhook.
	Updates bot.Requester
	// Tasks дополнительные фоновые задачи адаптеров (соединение MTProto и т.п.).
	Tasks []Task
	// Closers освобождают ресурсы адаптеров после остановки хранилища.
	Closers []func() error
}

// App собранный процесс.
type App struct {
	cfg  config.AppConfig
	deps Deps
	log  zerolog.Logger

	router     *router.Router
	handler    *bot.Handler
	scheduler  *content.Scheduler
	content    *content.Service
	hunter     *hunter.Hunter
	notifier   *notify.Notifier
	jobs       *jobs.Jobs
	httpServer *apphttp.Server
	restart    restartPolicy

	closeOnce sync.Once
}

// New связывает компоненты без сетевых подключений.
func New(cfg config.AppConfig, deps Deps, log zerolog.Logger) (*App, error) {
	if deps.Store == nil || deps.Queue == nil || deps.Messenger == nil || deps.LLM == nil {
		return nil, errors.New("app: store, queue, messenger и llm обязательны")
	}
	if deps.Knowledge == nil {
		deps.Knowledge = knowledge.New(nil)
	}
	loc := cfg.Location()
	policy := domain.NewRolePolicy(cfg.Staff.Admins, cfg.Staff.Editors, cfg.Staff.Authors)
	a := &App{cfg: cfg, deps: deps, log: log, restart: restartPolicy{Initial: time.Second, Max: time.Minute}}

	quizSvc := quiz.NewService(deps.Store, deps.Messenger, deps.Speech, deps.Queue, quiz.Config{
		DefaultSource: cfg.Source,
		MiniAppURL:    cfg.Telegram.MiniAppURL,
	}, applog.Component(log, "quiz"))
	dialogEngine := dialog.NewEngine(deps.Store, deps.Messenger, deps.LLM, deps.Knowledge, quizSvc, dialog.Config{
		Brand: cfg.Brand,
	}, applog.Component(log, "dialog"))
	salesSvc := sales.NewService(deps.Store, deps.Messenger, deps.Queue, cfg.Telegram.MiniAppURL, applog.Component(log, "sales"))

	var schedOpts []content.SchedulerOption
	if deps.Images != nil && deps.Blobs != nil {
		schedOpts = append(schedOpts, content.WithImages(deps.Images, deps.Blobs))
	}
	a.scheduler = content.NewScheduler(deps.Store, deps.Publishers, deps.Queue, content.SchedulerConfig{
		Batch:           cfg.Scheduler.Batch,
		Attempts:        cfg.Scheduler.Attempts,
		ImageGeneration: cfg.Image.Enabled && deps.Images != nil,
	}, applog.Component(log, "scheduler"), schedOpts...)
	a.content = content.NewService(deps.Store, a.scheduler, copywriter.New(deps.LLM, cfg.Brand, 0), applog.Component(log, "content"))

	var hunterOps operator.Hunter
	if deps.Source != nil {
		h, err := a.buildHunter(cfg, deps, log)
		if err != nil {
			return nil, err
		}
		a.hunter = h
		hunterOps = h
	}

	op := operator.New(deps.Store, deps.Messenger, a.content, hunterOps, policy, operator.Config{Location: loc},
		applog.Component(log, "operator"))
	dispatcher := router.NewDispatcher(deps.Store, deps.Messenger, quizSvc, dialogEngine, salesSvc, op, router.DispatcherConfig{
		StaffChatID: cfg.Staff.ChatID,
		MiniAppURL:  cfg.Telegram.MiniAppURL,
	}, applog.Component(log, "router"))
	a.router = router.New(dispatcher, cfg.MailboxSize, eventTimeout, applog.Component(log, "router"))
	a.handler = bot.NewHandler(a.router, applog.Component(log, "bot"))

	a.notifier = notify.New(deps.Queue, deps.Messenger, notify.Config{
		ChatID: cfg.Staff.ChatID,
		Threads: notify.Threads{
			Residential: cfg.Staff.ThreadResidential,
			Commercial:  cfg.Staff.ThreadCommercial,
			House:       cfg.Staff.ThreadHouse,
			Hunter:      cfg.Staff.ThreadHunter,
			Alerts:      cfg.Staff.ThreadAlerts,
		},
	}, applog.Component(log, "notify"))
	a.jobs = jobs.New(deps.Store, quizSvc, deps.Queue, jobs.Config{
		SummaryHour:   cfg.Jobs.DailySummaryHour,
		Location:      loc,
		ReminderAfter: cfg.Jobs.ReminderAfter,
	}, applog.Component(log, "jobs"))

	if cfg.HTTPAddr != "" {
		var opts []apphttp.Option
		if cfg.MetricsAddr == "" {
			opts = append(opts, apphttp.WithMetrics())
		}
		a.httpServer = apphttp.NewServer(applog.Component(log, "http"), opts...)
		a.httpServer.MountHealth(deps.Store)
		if cfg.Telegram.WebhookURL != "" {
			a.httpServer.MountWebhook(webhookPath, cfg.Telegram.WebhookSecret, a.handler)
		}
		if cfg.Telegram.MiniAppURL != "" {
			a.httpServer.MountWebApp(cfg.Telegram.Token, cfg.Telegram.InitDataTTL, deps.Store)
		}
	}
	return a, nil
}

func (a *App) buildHunter(cfg config.AppConfig, deps Deps, log zerolog.Logger) (*hunter.Hunter, error) {
	vocab := hunter.DefaultVocabulary()
	if deps.Vocabulary != nil {
		vocab = *deps.Vocabulary
	}
	filter, err := hunter.NewFilter(vocab)
	if err != nil {
		return nil, fmt.Errorf("app: фильтр охотника: %w", err)
	}
	seen := deps.Seen
	if seen == nil {
		seen = cache.NewMemorySeenSet(seenCacheSize)
	}
	rules := scorer.Rules{Critical: vocab.Critical, Technical: vocab.Technical}
	sc := scorer.NewLLM(deps.LLM, rules, applog.Component(log, "scorer"))
	return hunter.New(deps.Store, deps.Source, sc, deps.Queue, seen, filter, hunter.Config{
		HotThreshold: cfg.Hunter.HotThreshold,
		FetchLimit:   cfg.Hunter.FetchLimit,
	}, applog.Component(log, "hunter")), nil
}

// Submit передаёт входящее событие роутеру.
func (a *App) Submit(ev domain.InboundEvent) error { return a.router.Submit(ev) }

// Handler обработчик обновлений Bot API.
func (a *App) Handler() *bot.Handler { return a.handler }

// Content сервис контент-плана.
func (a *App) Content() *content.Service { return a.content }

// Tasks список фоновых задач процесса.
func (a *App) Tasks() []Task {
	tasks := []Task{
		{Name: "notifier", Run: a.notifier.Run},
		{Name: "scheduler", Run: func(ctx context.Context) error { return a.scheduler.Run(ctx, a.cfg.SchedulerInterval()) }},
		{Name: "jobs", Run: a.jobs.Run},
	}
	if a.hunter != nil {
		tasks = append(tasks, Task{Name: "hunter", Run: func(ctx context.Context) error {
			return a.hunter.Run(ctx, a.cfg.HunterInterval())
		}})
	}
	if a.deps.Updates != nil {
		tasks = append(tasks, Task{Name: "poller", Run: func(ctx context.Context) error {
			return a.handler.Poll(ctx, a.deps.Updates, a.cfg.Telegram.PollTimeout)
		}})
	}
	if a.httpServer != nil {
		tasks = append(tasks, Task{Name: "http", Run: func(ctx context.Context) error {
			return a.httpServer.Run(ctx, a.cfg.HTTPAddr)
		}})
	}
	if a.cfg.MetricsAddr != "" {
		metricsServer := apphttp.NewServer(applog.Component(a.log, "metrics"), apphttp.WithMetrics())
		tasks = append(tasks, Task{Name: "metrics", Run: func(ctx context.Context) error {
			return metricsServer.Run(ctx, a.cfg.MetricsAddr)
		}})
	}
	return append(tasks, a.deps.Tasks...)
}

// Run запускает фоновые задачи и блокируется до отмены ctx. После отмены роутер дорабатывает
// принятые события, уведомления досылаются, затем закрываются очередь и хранилище.
func (a *App) Run(ctx context.Context) error {
	tasks := a.Tasks()
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			supervise(gctx, t, a.restart, a.log)
			return nil
		})
	}
	a.log.Info().Int("tasks", len(tasks)).Msg("app: запущен")
	_ = g.Wait()
	a.log.Info().Msg("app: остановка")
	return a.Close(context.WithoutCancel(ctx))
}

// Close дожидается роутера, досылает уведомления, которые он успел поставить, и освобождает
// очередь и хранилище. Повторные вызовы ничего не делают.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
		defer cancel()
		if err := a.router.Close(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("app: роутер: %w", err))
		}
		flushCtx, cancelFlush := context.WithTimeout(ctx, drainTimeout)
		defer cancelFlush()
		a.notifier.Flush(flushCtx, flushIdle)
		if err := a.deps.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: очередь: %w", err))
		}
		a.deps.Store.Close()
		for _, c := range a.deps.Closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
