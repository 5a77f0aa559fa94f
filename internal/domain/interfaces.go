package domain

import (
	"context"
	"time"
)

// Profile сведения о пользователе из входящего события.
type Profile struct {
	DisplayName string
	Username    string
	Source      string
}

// UserRepo управляет пользователями и их режимами.
type UserRepo interface {
	// GetOrCreateUser идемпотентен: конкурентные вызовы возвращают одного пользователя.
	GetOrCreateUser(ctx context.Context, externalID int64, profile Profile) (User, error)
	GetUser(ctx context.Context, externalID int64) (User, error)
	SetUserMode(ctx context.Context, userID int64, mode Mode) error
	GrantConsent(ctx context.Context, userID int64, at time.Time, next Mode) error
	SetContact(ctx context.Context, userID int64, phone, name string, next Mode) error
	SetScratch(ctx context.Context, userID int64, key, value string) error
	ListStaleQuizUsers(ctx context.Context, idleSince time.Time, limit int) ([]User, error)
	MarkReminded(ctx context.Context, userID int64, at time.Time) error
}

// QuizRepo хранит анкеты и заявки.
type QuizRepo interface {
	// StartQuiz отбрасывает незапечатанную анкету и переводит пользователя в указанное состояние.
	StartQuiz(ctx context.Context, userID int64, stage QuizStage) error
	// AppendQuizAnswer принимает ответ только если step = answered + 1, иначе ErrOutOfOrder.
	AppendQuizAnswer(ctx context.Context, userID int64, step int, value string) (QuizResponse, error)
	CurrentQuiz(ctx context.Context, userID int64) (QuizResponse, error)
	// SealQuiz в одной транзакции запечатывает анкету, создаёт заявку и сбрасывает режим.
	SealQuiz(ctx context.Context, userID int64, source string) (Lead, error)
	ListLeads(ctx context.Context, since time.Time, limit int) ([]Lead, error)
	LastLead(ctx context.Context, userID int64) (Lead, error)
}

// ContentTransition описывает переход единицы контента.
type ContentTransition struct {
	ID          int64
	From        ContentStatus
	To          ContentStatus
	Actor       Actor
	Note        string
	ScheduledAt *time.Time
	Patch       *ContentPatch
	Posts       []ScheduledPost
}

// ContentPatch меняет текст вместе с переходом.
type ContentPatch struct {
	Title string
	Body  string
	CTA   string
}

// ContentRepo хранит контент-план.
type ContentRepo interface {
	InsertContentItem(ctx context.Context, item ContentItem, actor Actor) (int64, error)
	GetContentItem(ctx context.Context, id int64) (ContentItem, error)
	ListContent(ctx context.Context, status ContentStatus, limit int) ([]ContentItem, error)
	// TransitionContent выполняет compare-and-set по статусу с проверкой графа и ролей.
	TransitionContent(ctx context.Context, tr ContentTransition) (ContentItem, error)
	SetContentMedia(ctx context.Context, id int64, ref string) error
}

// ScheduleRepo хранит очередь публикаций.
type ScheduleRepo interface {
	// InsertScheduledPosts отклоняет вставку с ErrIllegalTransition, если у контента уже есть неупавшие посты.
	InsertScheduledPosts(ctx context.Context, posts []ScheduledPost) ([]ScheduledPost, error)
	DueScheduledPosts(ctx context.Context, now time.Time, limit int) ([]ScheduledPost, error)
	// ClaimScheduledPost атомарно переводит pending→sending и сообщает, досталась ли запись вызывающему.
	ClaimScheduledPost(ctx context.Context, id int64) (bool, error)
	MarkPostSent(ctx context.Context, id int64, ref string, at time.Time) error
	MarkPostFailed(ctx context.Context, id int64, reason string) error
	RecordPostAttempt(ctx context.Context, id int64, reason string) error
	PostsSummary(ctx context.Context, contentID int64) (PostsSummary, error)
}

// HunterRepo хранит источники и наблюдения охотника.
type HunterRepo interface {
	ListTargets(ctx context.Context, status TargetStatus) ([]TargetResource, error)
	GetTarget(ctx context.Context, id int64) (TargetResource, error)
	FindTargetByLink(ctx context.Context, link string) (TargetResource, error)
	// UpsertTarget вставляет источник, если ссылки ещё нет; возвращает признак вставки.
	UpsertTarget(ctx context.Context, target TargetResource) (TargetResource, bool, error)
	SetTargetStatus(ctx context.Context, id int64, status TargetStatus) error
	// UpdateTargetLastID монотонен: значение никогда не уменьшается.
	UpdateTargetLastID(ctx context.Context, id int64, lastID int64, scannedAt time.Time) error
	// InsertObservation сохраняет оценённое наблюдение; возвращает false, если адрес уже сохранён.
	InsertObservation(ctx context.Context, obs HunterObservation) (bool, error)
	RecentObservationURLs(ctx context.Context, limit int) ([]string, error)
}

// DialogRepo хранит историю диалога.
type DialogRepo interface {
	AppendDialog(ctx context.Context, userID int64, role DialogRole, text string) error
	RecentDialog(ctx context.Context, userID int64, limit int) ([]DialogMessage, error)
}

// AuditRepo журнал действий операторов.
type AuditRepo interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, entity string, entityID int64) ([]AuditEntry, error)
}

// SessionRepo хранит MTProto-сессии аккаунта охотника.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// StatsRepo агрегаты для операторов.
type StatsRepo interface {
	Stats(ctx context.Context, since time.Time) (Stats, error)
}

// Store единый источник истины.
type Store interface {
	UserRepo
	QuizRepo
	ContentRepo
	ScheduleRepo
	HunterRepo
	DialogRepo
	AuditRepo
	SessionRepo
	StatsRepo
	Ping(ctx context.Context) error
	Close()
}

// Messenger исходящий канал бота.
type Messenger interface {
	SendText(ctx context.Context, msg OutboundMessage) (MessageRef, error)
	SendMedia(ctx context.Context, msg OutboundMessage) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
	SetReaction(ctx context.Context, ref MessageRef, emoji string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Publisher публикует пост в конкретную площадку.
type Publisher interface {
	Publish(ctx context.Context, post ScheduledPost) (MessageRef, error)
}

// LLM текстовая модель.
type LLM interface {
	// Complete возвращает ErrLLM-совместимую ошибку при сбое; пустой ответ не является ошибкой.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ImageGenerator генерирует изображение по промпту.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, string, error)
}

// BlobStore объектное хранилище.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// SpeechRecognizer распознаёт голосовые сообщения.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, audio []byte) (string, error)
}

// SourceReader привилегированный доступ к чатам для охотника.
type SourceReader interface {
	FetchMessages(ctx context.Context, target TargetResource, afterID int64, limit int) ([]SourceMessage, error)
	Resolve(ctx context.Context, link string) (ResolvedSource, error)
}

// NotificationPublisher отправляет уведомления в очередь рабочего пространства.
type NotificationPublisher interface {
	Publish(ctx context.Context, n Notification) error
}

// AckFunc подтверждает обработку уведомления или возвращает его в очередь.
type AckFunc func(success bool) error

// NotificationQueue очередь уведомлений между задачами.
type NotificationQueue interface {
	NotificationPublisher
	Receive(ctx context.Context) (Notification, AckFunc, error)
	Close() error
}

// Assessment оценка сообщения охотником.
type Assessment struct {
	IsLead        bool
	Intent        string
	Hotness       int
	PainStage     PainStage
	Justification string
	// ScoredBy имя оценщика: llm или rules.
	ScoredBy string
}

// Scorer оценивает коммерческий интерес сообщения.
type Scorer interface {
	Score(ctx context.Context, text string) (Assessment, error)
}

// Copywriter превращает идею в черновик поста.
type Copywriter interface {
	Draft(ctx context.Context, item ContentItem) (ContentPatch, error)
}
