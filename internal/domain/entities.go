package domain

import "time"

// User описывает собеседника бота.
type User struct {
	ID          int64
	ExternalID  int64
	DisplayName string
	Username    string
	Phone       string
	Consent     bool
	ConsentAt   *time.Time
	Mode        Mode
	Scratch     map[string]string
	Source      string
	RemindedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ObjectType тип объекта ремонта.
type ObjectType string

const (
	ObjectResidential ObjectType = "residential"
	ObjectCommercial  ObjectType = "commercial"
	ObjectHouse       ObjectType = "house"
)

// Valid сообщает, входит ли значение в допустимое множество.
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectResidential, ObjectCommercial, ObjectHouse:
		return true
	}
	return false
}

// RemodelStatus статус перепланировки.
type RemodelStatus string

const (
	RemodelPlanned RemodelStatus = "planned"
	RemodelDone    RemodelStatus = "done"
)

// QuizResponse хранит ответы анкеты пользователя.
type QuizResponse struct {
	ID          int64
	UserID      int64
	City        string
	ObjectType  ObjectType
	Floor       string
	Area        *float64
	Status      RemodelStatus
	Description string
	Attachment  string
	Answered    int
	SealedAt    *time.Time
	CreatedAt   time.Time
}

// Sealed сообщает, запечатана ли анкета.
func (r QuizResponse) Sealed() bool { return r.SealedAt != nil }

// LeadStatus статус обработки заявки.
type LeadStatus string

const (
	LeadNew        LeadStatus = "new"
	LeadInProgress LeadStatus = "in_progress"
	LeadDone       LeadStatus = "done"
)

// Lead заявка, созданная из запечатанной анкеты.
type Lead struct {
	ID         int64
	UserID     int64
	ResponseID int64
	Response   QuizResponse
	Phone      string
	Name       string
	Source     string
	Status     LeadStatus
	Notes      string
	CreatedAt  time.Time
}

// ContentStatus статус единицы контента.
type ContentStatus string

const (
	ContentIdea      ContentStatus = "idea"
	ContentDraft     ContentStatus = "draft"
	ContentReview    ContentStatus = "review"
	ContentApproved  ContentStatus = "approved"
	ContentScheduled ContentStatus = "scheduled"
	ContentPublished ContentStatus = "published"
	ContentFailed    ContentStatus = "failed"
)

// ChannelTag адресует площадку публикации.
type ChannelTag string

const (
	ChannelMain   ChannelTag = "tg_main"
	ChannelSecond ChannelTag = "tg_second"
	ChannelWall   ChannelTag = "vk"
	ChannelAll    ChannelTag = "all"
)

// Expand раскрывает составной тег в список площадок.
func (c ChannelTag) Expand() []ChannelTag {
	if c == ChannelAll {
		return []ChannelTag{ChannelMain, ChannelSecond, ChannelWall}
	}
	return []ChannelTag{c}
}

// Valid проверяет тег площадки.
func (c ChannelTag) Valid() bool {
	switch c {
	case ChannelMain, ChannelSecond, ChannelWall, ChannelAll:
		return true
	}
	return false
}

// ContentItem единица контент-плана.
type ContentItem struct {
	ID          int64
	Type        string
	Channel     ChannelTag
	Title       string
	Body        string
	CTA         string
	MediaRef    string
	ImagePrompt string
	Status      ContentStatus
	ScheduledAt *time.Time
	PublishedAt *time.Time
	ContentHash string
	AuthorID    int64
	Audit       []AuditEntry
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuditEntry запись журнала действий.
type AuditEntry struct {
	ID       int64
	Entity   string
	EntityID int64
	Actor    int64
	Role     Role
	From     string
	To       string
	Note     string
	At       time.Time
}

// TargetStatus статус отслеживаемого источника.
type TargetStatus string

const (
	TargetActive   TargetStatus = "active"
	TargetPending  TargetStatus = "pending"
	TargetArchived TargetStatus = "archived"
)

// TargetResource внешний чат или канал, который сканирует охотник.
type TargetResource struct {
	ID            int64
	Link          string
	Platform      string
	Title         string
	PeerID        int64
	AccessHash    int64
	Username      string
	Participants  *int
	Geo           string
	Status        TargetStatus
	LastMessageID int64
	LastScannedAt *time.Time
	CreatedAt     time.Time
}

// PainStage порядковая стадия «боли» клиента.
type PainStage string

const (
	PainInfo        PainStage = "ST-1"
	PainPlanning    PainStage = "ST-2"
	PainTechnical   PainStage = "ST-3"
	PainEnforcement PainStage = "ST-4"
)

// Valid проверяет значение стадии.
func (p PainStage) Valid() bool {
	switch p {
	case PainInfo, PainPlanning, PainTechnical, PainEnforcement:
		return true
	}
	return false
}

// HunterObservation найденное охотником сообщение.
type HunterObservation struct {
	ID            int64
	URL           string
	TargetID      int64
	Excerpt       string
	Intent        string
	Hotness       int
	Geo           string
	PainStage     PainStage
	Justification string
	IsLead        bool
	ScoredBy      string
	CreatedAt     time.Time
}

// DialogRole автор реплики диалога.
type DialogRole string

const (
	DialogUser      DialogRole = "user"
	DialogAssistant DialogRole = "assistant"
)

// DialogMessage реплика в истории диалога.
type DialogMessage struct {
	ID        int64
	UserID    int64
	Role      DialogRole
	Text      string
	CreatedAt time.Time
}

// PostStatus статус запланированной отправки.
type PostStatus string

const (
	PostPending PostStatus = "pending"
	PostSending PostStatus = "sending"
	PostSent    PostStatus = "sent"
	PostFailed  PostStatus = "failed"
)

// ScheduledPost отрисованный пост, ожидающий отправки в конкретную площадку.
type ScheduledPost struct {
	ID          int64
	ContentID   int64
	Channel     ChannelTag
	Text        string
	Media       Media
	ScheduledAt time.Time
	Status      PostStatus
	Attempts    int
	LastError   string
	MessageRef  string
	CreatedAt   time.Time
	SentAt      *time.Time
}

// PostsSummary агрегирует состояние постов одной единицы контента.
type PostsSummary struct {
	Pending int
	Sending int
	Sent    int
	Failed  int
}

// Stats сводка для операторов.
type Stats struct {
	Users            int
	ConsentedUsers   int
	Leads            int
	LeadsNew         int
	LeadsSince       int
	Observations     int
	HotObservations  int
	ContentInReview  int
	ContentScheduled int
	PublishedSince   int
	ActiveTargets    int
	PendingTargets   int
}
