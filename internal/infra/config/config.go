package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию бота.
type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	TZ       string `envconfig:"TZ" default:"Europe/Moscow"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	// MetricsAddr отдельный адрес для /metrics. Если пуст, метрики отдаются на HTTPAddr.
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	Brand       string `envconfig:"BRAND" default:"Бюро перепланировок"`
	Source      string `envconfig:"DEFAULT_SOURCE" default:"organic"`

	Telegram struct {
		Token         string        `envconfig:"TG_BOT_TOKEN"`
		WebhookURL    string        `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret string        `envconfig:"TG_WEBHOOK_SECRET"`
		MainChannel   int64         `envconfig:"TG_MAIN_CHANNEL_ID"`
		SecondChannel int64         `envconfig:"TG_SECOND_CHANNEL_ID"`
		MiniAppURL    string        `envconfig:"MINI_APP_URL"`
		InitDataTTL   time.Duration `envconfig:"WEBAPP_INITDATA_TTL" default:"24h"`
		PollTimeout   int           `envconfig:"TG_POLL_TIMEOUT" default:"10"`
		RPS           float64       `envconfig:"BOT_RPS" default:"25"`
	} `envconfig:""`

	Staff struct {
		ChatID            int64   `envconfig:"STAFF_CHAT_ID"`
		ThreadResidential int     `envconfig:"STAFF_THREAD_RESIDENTIAL"`
		ThreadCommercial  int     `envconfig:"STAFF_THREAD_COMMERCIAL"`
		ThreadHouse       int     `envconfig:"STAFF_THREAD_HOUSE"`
		ThreadHunter      int     `envconfig:"STAFF_THREAD_HUNTER"`
		ThreadAlerts      int     `envconfig:"STAFF_THREAD_ALERTS"`
		Admins            []int64 `envconfig:"ADMIN_IDS"`
		Editors           []int64 `envconfig:"EDITOR_IDS"`
		Authors           []int64 `envconfig:"AUTHOR_IDS"`
	} `envconfig:""`

	MTProto struct {
		Enabled      bool          `envconfig:"MTPROTO_ENABLED" default:"false"`
		APIID        int           `envconfig:"TG_API_ID"`
		APIHash      string        `envconfig:"TG_API_HASH"`
		Phone        string        `envconfig:"TG_PHONE"`
		SessionName  string        `envconfig:"MTPROTO_SESSION_NAME" default:"hunter"`
		RPS          float64       `envconfig:"USERSPACE_RPS" default:"5"`
		ResolveFloor time.Duration `envconfig:"RESOLVE_FLOOR" default:"60s"`
	} `envconfig:""`

	Store struct {
		Driver string `envconfig:"STORE_DRIVER" default:"postgres"`
		PGDSN  string `envconfig:"PG_DSN"`
	} `envconfig:""`

	RedisAddr   string `envconfig:"REDIS_ADDR"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Driver string `envconfig:"NOTIFY_QUEUE" default:"memory"`
		Key    string `envconfig:"NOTIFY_QUEUE_KEY" default:"staff_notifications"`
		Size   int    `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	} `envconfig:""`

	LLM struct {
		BaseURL     string        `envconfig:"LLM_BASE_URL" default:"https://api.openai.com/v1"`
		APIKey      string        `envconfig:"LLM_API_KEY"`
		Model       string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
		FolderID    string        `envconfig:"LLM_FOLDER_ID"`
		Timeout     time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
		MaxPrompt   int           `envconfig:"LLM_MAX_PROMPT_CHARS" default:"12000"`
		Secondary   string        `envconfig:"LLM_SECONDARY_API_KEY"`
		SecondModel string        `envconfig:"LLM_SECONDARY_MODEL" default:"gemini-2.0-flash"`
	} `envconfig:""`

	Image struct {
		Enabled      bool          `envconfig:"IMAGE_GENERATION_ENABLED" default:"false"`
		URL          string        `envconfig:"IMAGE_URL" default:"https://llm.api.cloud.yandex.net/foundationModels/v1/imageGenerationAsync"`
		OperationURL string        `envconfig:"IMAGE_OPERATION_URL" default:"https://llm.api.cloud.yandex.net/operations"`
		APIKey       string        `envconfig:"IMAGE_API_KEY"`
		FolderID     string        `envconfig:"IMAGE_FOLDER_ID"`
		Timeout      time.Duration `envconfig:"IMAGE_TIMEOUT" default:"60s"`
		PollInterval time.Duration `envconfig:"IMAGE_POLL_INTERVAL" default:"2s"`
	} `envconfig:""`

	Speech struct {
		URL      string        `envconfig:"SPEECH_URL" default:"https://stt.api.cloud.yandex.net/speech/v1/stt:recognize"`
		APIKey   string        `envconfig:"SPEECH_API_KEY"`
		FolderID string        `envconfig:"SPEECH_FOLDER_ID"`
		Lang     string        `envconfig:"SPEECH_LANG" default:"ru-RU"`
		Timeout  time.Duration `envconfig:"SPEECH_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Minio struct {
		Endpoint  string `envconfig:"MINIO_ENDPOINT"`
		AccessKey string `envconfig:"MINIO_ACCESS_KEY"`
		SecretKey string `envconfig:"MINIO_SECRET_KEY"`
		Bucket    string `envconfig:"MINIO_BUCKET" default:"leadbot"`
		UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	} `envconfig:""`

	VK struct {
		Token      string  `envconfig:"VK_TOKEN"`
		GroupID    int64   `envconfig:"VK_GROUP_ID"`
		APIVersion string  `envconfig:"VK_API_VERSION" default:"5.199"`
		WallRPS    float64 `envconfig:"WALL_RPS" default:"3"`
	} `envconfig:""`

	Hunter struct {
		IntervalSeconds int    `envconfig:"HUNTER_INTERVAL_SECONDS" default:"1200"`
		HotThreshold    int    `envconfig:"HOT_THRESHOLD" default:"7"`
		VocabFile       string `envconfig:"HUNTER_VOCAB_FILE"`
		FetchLimit      int    `envconfig:"HUNTER_FETCH_LIMIT" default:"100"`
		SeenCache       string `envconfig:"HUNTER_SEEN_CACHE" default:"memory"`
	} `envconfig:""`

	Scheduler struct {
		IntervalSeconds int `envconfig:"SCHEDULER_INTERVAL_SECONDS" default:"60"`
		Batch           int `envconfig:"SCHEDULER_BATCH" default:"32"`
		Attempts        int `envconfig:"PUBLISH_ATTEMPTS" default:"3"`
	} `envconfig:""`

	Jobs struct {
		DailySummaryHour int           `envconfig:"DAILY_SUMMARY_HOUR" default:"9"`
		ReminderAfter    time.Duration `envconfig:"REMINDER_AFTER" default:"2h"`
	} `envconfig:""`

	KBDir       string `envconfig:"KB_DIR" default:"./kb"`
	MailboxSize int    `envconfig:"MAILBOX_SIZE" default:"32"`
}

// Load загружает конфиг из окружения; необязательный .env читается первым.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Validate проверяет обязательные ключи.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("TG_BOT_TOKEN не задан"))
	}
	if c.Staff.ChatID == 0 {
		errs = append(errs, errors.New("STAFF_CHAT_ID не задан"))
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN не задан"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER=%q не поддерживается", c.Store.Driver))
	}
	switch c.Queues.Driver {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("NOTIFY_QUEUE=redis требует REDIS_ADDR"))
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			errs = append(errs, errors.New("NOTIFY_QUEUE=rabbitmq требует RABBITMQ_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("NOTIFY_QUEUE=%q не поддерживается", c.Queues.Driver))
	}
	if c.Hunter.SeenCache == "redis" && c.RedisAddr == "" {
		errs = append(errs, errors.New("HUNTER_SEEN_CACHE=redis требует REDIS_ADDR"))
	}
	if c.MTProto.Enabled && (c.MTProto.APIID == 0 || c.MTProto.APIHash == "") {
		errs = append(errs, errors.New("MTPROTO_ENABLED требует TG_API_ID и TG_API_HASH"))
	}
	if c.Image.Enabled && c.Minio.Endpoint == "" {
		errs = append(errs, errors.New("IMAGE_GENERATION_ENABLED требует MINIO_ENDPOINT"))
	}
	if c.Telegram.WebhookURL == "" && (c.Telegram.PollTimeout <= 0 || c.Telegram.PollTimeout >= 15) {
		errs = append(errs, errors.New("TG_POLL_TIMEOUT должен быть от 1 до 14 секунд"))
	}
	if c.Scheduler.Batch <= 0 || c.Scheduler.Attempts <= 0 {
		errs = append(errs, errors.New("SCHEDULER_BATCH и PUBLISH_ATTEMPTS должны быть положительными"))
	}
	return errors.Join(errs...)
}

// Location возвращает часовой пояс из TZ, по умолчанию UTC.
func (c AppConfig) Location() *time.Location {
	name, err := NormalizeTimezone(c.TZ)
	if err != nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HunterInterval период тика охотника.
func (c AppConfig) HunterInterval() time.Duration {
	return time.Duration(c.Hunter.IntervalSeconds) * time.Second
}

// SchedulerInterval период тика планировщика.
func (c AppConfig) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}
