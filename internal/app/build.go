package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"remont-lead-bot/internal/adapters/llm"
	"remont-lead-bot/internal/adapters/mtproto"
	"remont-lead-bot/internal/adapters/repo"
	"remont-lead-bot/internal/adapters/telegram"
	"remont-lead-bot/internal/adapters/vk"
	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/blob"
	"remont-lead-bot/internal/infra/cache"
	"remont-lead-bot/internal/infra/config"
	"remont-lead-bot/internal/infra/db"
	applog "remont-lead-bot/internal/infra/log"
	"remont-lead-bot/internal/infra/metrics"
	"remont-lead-bot/internal/infra/openai"
	"remont-lead-bot/internal/infra/queue"
	"remont-lead-bot/internal/usecase/hunter"
	"remont-lead-bot/internal/usecase/knowledge"
)

const (
	initTimeout  = 30 * time.Second
	seenCacheKey = "hunter:seen"
	seenCacheTTL = 30 * 24 * time.Hour
)

// Build подключает внешние сервисы по конфигурации и собирает App.
// Ошибка означает невозможность запуска: процесс должен завершиться с ненулевым кодом.
func Build(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: конфигурация: %w", err)
	}
	metrics.RegisterDefault()
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	var deps Deps
	ok := false
	defer func() {
		if ok {
			return
		}
		if deps.Queue != nil {
			_ = deps.Queue.Close()
		}
		if deps.Store != nil {
			deps.Store.Close()
		}
		for _, c := range deps.Closers {
			_ = c()
		}
	}()

	store, err := buildStore(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Store = store

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(initCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		deps.Closers = append(deps.Closers, rdb.Close)
	}

	q, err := buildQueue(initCtx, cfg, rdb, log)
	if err != nil {
		return nil, err
	}
	deps.Queue = q

	if cfg.Minio.Endpoint != "" {
		blobs, err := blob.NewMinioStore(initCtx, cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("app: minio: %w", err)
		}
		deps.Blobs = blobs
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("app: bot api: %w", err)
	}
	var botOpts []telegram.Option
	if deps.Blobs != nil {
		botOpts = append(botOpts, telegram.WithBlobStore(deps.Blobs))
	}
	tgBot := telegram.NewBot(botAPI, cfg.Telegram.RPS, applog.Component(log, "telegram"), botOpts...)
	deps.Messenger = tgBot
	deps.Publishers = map[domain.ChannelTag]domain.Publisher{
		domain.ChannelMain:   telegram.NewChannel(tgBot, domain.ChannelMain, cfg.Telegram.MainChannel),
		domain.ChannelSecond: telegram.NewChannel(tgBot, domain.ChannelSecond, cfg.Telegram.SecondChannel),
		domain.ChannelWall: vk.NewWall(vk.Config{
			Token:   cfg.VK.Token,
			GroupID: cfg.VK.GroupID,
			Version: cfg.VK.APIVersion,
			RPS:     cfg.VK.WallRPS,
		}, deps.Blobs, applog.Component(log, "vk")),
	}
	if err := configureUpdates(botAPI, cfg); err != nil {
		return nil, err
	}
	if cfg.Telegram.WebhookURL == "" {
		deps.Updates = botAPI
	}

	textLLM, err := buildLLM(initCtx, cfg, log)
	if err != nil {
		return nil, err
	}
	deps.LLM = textLLM
	if cfg.Speech.APIKey != "" {
		deps.Speech = llm.NewSpeech(llm.SpeechConfig{
			URL:      cfg.Speech.URL,
			APIKey:   cfg.Speech.APIKey,
			FolderID: cfg.Speech.FolderID,
			Lang:     cfg.Speech.Lang,
			Timeout:  cfg.Speech.Timeout,
		})
	}
	if cfg.Image.Enabled {
		deps.Images = llm.NewImage(llm.ImageConfig{
			URL:          cfg.Image.URL,
			OperationURL: cfg.Image.OperationURL,
			APIKey:       cfg.Image.APIKey,
			FolderID:     cfg.Image.FolderID,
			Timeout:      cfg.Image.Timeout,
			PollInterval: cfg.Image.PollInterval,
		})
	}

	kb, err := knowledge.Load(cfg.KBDir, applog.Component(log, "knowledge"))
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.KBDir).Msg("app: база знаний не загружена")
		kb = knowledge.New(nil)
	}
	deps.Knowledge = kb

	if cfg.MTProto.Enabled {
		vocab, err := hunter.LoadVocabulary(cfg.Hunter.VocabFile)
		if err != nil {
			return nil, fmt.Errorf("app: словарь охотника: %w", err)
		}
		deps.Vocabulary = &vocab
		userspace := mtproto.NewUserspace(mtproto.Config{
			APIID:        cfg.MTProto.APIID,
			APIHash:      cfg.MTProto.APIHash,
			RPS:          cfg.MTProto.RPS,
			ResolveFloor: cfg.MTProto.ResolveFloor,
		}, mtproto.NewSessionStore(store, cfg.MTProto.SessionName), applog.Component(log, "mtproto"))
		deps.Source = userspace
		deps.Tasks = append(deps.Tasks, Task{Name: "mtproto", Run: userspace.Run})
		if cfg.Hunter.SeenCache == "redis" {
			deps.Seen = cache.NewRedisSeenSet(rdb, seenCacheKey, seenCacheTTL)
		}
	}

	a, err := New(cfg, deps, log)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func buildStore(ctx context.Context, cfg config.AppConfig) (domain.Store, error) {
	if cfg.Store.Driver == "memory" {
		return repo.NewMemory(), nil
	}
	pool, err := db.Connect(ctx, cfg.Store.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("app: postgres: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: миграция: %w", err)
	}
	return repo.NewPostgres(pool), nil
}

func buildQueue(ctx context.Context, cfg config.AppConfig, rdb *redis.Client, log zerolog.Logger) (domain.NotificationQueue, error) {
	switch cfg.Queues.Driver {
	case "redis":
		q := queue.NewRedis(rdb, cfg.Queues.Key)
		n, err := q.Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: очередь redis: %w", err)
		}
		if n > 0 {
			log.Info().Int("count", n).Msg("app: уведомления возвращены в очередь")
		}
		return q, nil
	case "rabbitmq":
		q, err := queue.NewRabbit(cfg.RabbitMQURL, cfg.Queues.Key)
		if err != nil {
			return nil, fmt.Errorf("app: очередь rabbitmq: %w", err)
		}
		return q, nil
	default:
		return queue.NewMemory(cfg.Queues.Size), nil
	}
}

func buildLLM(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (*llm.Text, error) {
	client := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Timeout, openai.WithFolder(cfg.LLM.FolderID))
	name := "openai"
	if cfg.LLM.FolderID != "" {
		name = "yandexgpt"
	}
	model := cfg.LLM.Model
	if cfg.LLM.FolderID != "" {
		model = client.ModelURI(model)
	}
	primary := llm.NewOpenAI(client, model, name)
	var secondary llm.Provider
	if cfg.LLM.Secondary != "" {
		g, err := llm.NewGemini(ctx, cfg.LLM.Secondary, cfg.LLM.SecondModel)
		if err != nil {
			return nil, fmt.Errorf("app: gemini: %w", err)
		}
		secondary = g
	}
	return llm.NewText(primary, secondary, cfg.LLM.Timeout, cfg.LLM.MaxPrompt, applog.Component(log, "llm")), nil
}

// configureUpdates регистрирует webhook или снимает его перед long polling.
func configureUpdates(api *tgbotapi.BotAPI, cfg config.AppConfig) error {
	params := tgbotapi.Params{}
	endpoint := "deleteWebhook"
	if cfg.Telegram.WebhookURL != "" {
		endpoint = "setWebhook"
		params.AddNonEmpty("url", cfg.Telegram.WebhookURL)
		params.AddNonEmpty("secret_token", cfg.Telegram.WebhookSecret)
		if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
			return err
		}
	}
	start := time.Now()
	_, err := api.MakeRequest(endpoint, params)
	metrics.ObserveNetworkRequest("telegram_bot", endpoint, "webhook", start, err)
	if err != nil {
		return fmt.Errorf("app: %s: %w", endpoint, err)
	}
	return nil
}
