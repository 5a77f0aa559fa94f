package domain

import (
	"fmt"
	"time"
)

// EventKind тип входящего события.
type EventKind string

const (
	EventText     EventKind = "text"
	EventContact  EventKind = "contact"
	EventPhoto    EventKind = "photo"
	EventDocument EventKind = "document"
	EventVoice    EventKind = "voice"
	EventCallback EventKind = "callback"
)

// Contact контакт, которым поделился пользователь.
type Contact struct {
	Phone     string
	FirstName string
	LastName  string
	UserID    int64
}

// InboundEvent нормализованное входящее событие от мессенджера.
type InboundEvent struct {
	ID             int64
	UserExternalID int64
	ChatID         int64
	Kind           EventKind
	Text           string
	Contact        *Contact
	FileID         string
	MimeType       string
	CallbackID     string
	ThreadID       int
	MessageID      int
	FirstName      string
	Username       string
	Timestamp      time.Time
}

// Terminal сообщает, что событие отменяет текущий сценарий. Такие события не вытесняются из очереди.
func (e InboundEvent) Terminal() bool {
	return e.Kind == EventText && IsCancel(e.Text)
}

// IsCancel распознаёт команду отмены.
func IsCancel(text string) bool {
	switch normalizeCommand(text) {
	case "/cancel", "отмена", "❌ отмена", "cancel":
		return true
	}
	return false
}

// MediaKind тип вложения исходящего сообщения.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaBlob     MediaKind = "blob"
	MediaURL      MediaKind = "url"
	MediaFileID   MediaKind = "file_id"
	MediaDocument MediaKind = "document"
)

// Media ссылка на вложение.
type Media struct {
	Kind     MediaKind
	Ref      string
	FileName string
	Data     []byte
	// AsDocument отправляет вложение файлом, а не фотографией.
	AsDocument bool
}

// Empty сообщает об отсутствии вложения.
func (m Media) Empty() bool { return m.Kind == MediaNone || (m.Ref == "" && len(m.Data) == 0) }

// Button кнопка клавиатуры.
type Button struct {
	Text           string
	Data           string
	URL            string
	WebAppURL      string
	RequestContact bool
}

// Keyboard разметка ответа.
type Keyboard struct {
	Inline bool
	Remove bool
	Rows   [][]Button
}

// OutboundMessage исходящее сообщение.
type OutboundMessage struct {
	ChatID    int64
	ThreadID  int
	Text      string
	HTML      bool
	Media     Media
	Keyboard  *Keyboard
	ReplyTo   int
	NoPreview bool
}

// MessageRef ссылка на отправленное сообщение.
type MessageRef struct {
	Platform  string
	ChatID    int64
	MessageID int64
}

// String кодирует ссылку для хранения: platform:chat:message.
func (r MessageRef) String() string {
	return fmt.Sprintf("%s:%d:%d", r.Platform, r.ChatID, r.MessageID)
}

// NotificationKind тип уведомления для рабочего пространства сотрудников.
type NotificationKind string

const (
	NotifyLeadReady NotificationKind = "lead_ready"
	NotifyHotLead   NotificationKind = "hot_lead"
	NotifyAlert     NotificationKind = "alert"
	NotifySummary   NotificationKind = "summary"
	NotifyCallback  NotificationKind = "callback_request"
)

// Notification событие, которое оркестратор маршрутизирует в рабочее пространство.
type Notification struct {
	ID         string           `json:"id"`
	Kind       NotificationKind `json:"kind"`
	ObjectType ObjectType       `json:"object_type,omitempty"`
	Text       string           `json:"text"`
	UserID     int64            `json:"user_id,omitempty"`
	LeadID     int64            `json:"lead_id,omitempty"`
	ContentID  int64            `json:"content_id,omitempty"`
	TargetID   int64            `json:"target_id,omitempty"`
	Attachment string           `json:"attachment,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// SourceMessage сообщение, полученное из внешнего источника охотником.
type SourceMessage struct {
	ID       int64
	TargetID int64
	URL      string
	Text     string
	Date     time.Time
	FromID   int64
}

// ResolvedSource результат резолва ссылки на чат.
type ResolvedSource struct {
	Link         string
	Title        string
	Username     string
	PeerID       int64
	AccessHash   int64
	Participants *int
	Broadcast    bool
}

// CompletionRequest запрос к текстовой LLM.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	JSON        bool
}
