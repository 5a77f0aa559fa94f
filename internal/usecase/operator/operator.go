// Package operator обрабатывает команды сотрудников в рабочем чате.
package operator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/usecase/content"
	"remont-lead-bot/internal/usecase/hunter"
)

const (
	auditEntity = "operator"
	listLimit   = 20
	noteLimit   = 200
)

// Content операции контент-плана.
type Content interface {
	Create(ctx context.Context, actor domain.Actor, d content.Draft) (domain.ContentItem, error)
	Submit(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error)
	Approve(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error)
	Reject(ctx context.Context, actor domain.Actor, id int64, note string) (domain.ContentItem, error)
	Revoke(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error)
	Schedule(ctx context.Context, actor domain.Actor, id int64, at time.Time) (domain.ContentItem, error)
	PublishNow(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error)
	WriteDraft(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error)
	Resurrect(ctx context.Context, actor domain.Actor, id int64) (domain.ContentItem, error)
	ReviewQueue(ctx context.Context, limit int) ([]domain.ContentItem, error)
}

// Hunter операции охотника.
type Hunter interface {
	AddTarget(ctx context.Context, link string) (domain.TargetResource, error)
	ScanChats(ctx context.Context) (int, error)
	HuntNow(ctx context.Context) (hunter.Report, error)
}

// Store данные, которые читают команды.
type Store interface {
	domain.StatsRepo
	domain.AuditRepo
	ListLeads(ctx context.Context, since time.Time, limit int) ([]domain.Lead, error)
	ListTargets(ctx context.Context, status domain.TargetStatus) ([]domain.TargetResource, error)
	GetTarget(ctx context.Context, id int64) (domain.TargetResource, error)
	SetTargetStatus(ctx context.Context, id int64, status domain.TargetStatus) error
}

// Config параметры команд.
type Config struct {
	Location *time.Location
	// ExportDays глубина выгрузки заявок по умолчанию.
	ExportDays int
}

// Operator исполняет команды сотрудников.
type Operator struct {
	store     Store
	messenger domain.Messenger
	content   Content
	hunter    Hunter
	policy    domain.RolePolicy
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// New создаёт обработчик команд. hunter может быть nil, если охотник выключен.
func New(store Store, messenger domain.Messenger, contentOps Content, hunter Hunter, policy domain.RolePolicy, cfg Config, log zerolog.Logger) *Operator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ExportDays <= 0 {
		cfg.ExportDays = 30
	}
	return &Operator{store: store, messenger: messenger, content: contentOps, hunter: hunter, policy: policy, cfg: cfg, log: log, now: time.Now}
}

// Command разобранная команда.
type Command struct {
	Name string
	Args []string
	// Body строки сообщения после первой.
	Body []string
}

// Parse разбирает команду: префикс «/» и суффикс «@bot» необязательны.
func Parse(text string) (Command, bool) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	fields := strings.Fields(lines[0])
	if len(fields) == 0 {
		return Command{}, false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if _, ok := commands[name]; !ok {
		return Command{}, false
	}
	cmd := Command{Name: name, Args: fields[1:]}
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			cmd.Body = append(cmd.Body, l)
		}
	}
	return cmd, true
}

// commands минимальная роль для каждой команды. Переходы контента дополнительно проверяет граф ролей.
var commands = map[string]domain.Role{
	"help":         domain.RoleAuthor,
	"stats":        domain.RoleAuthor,
	"export_leads": domain.RoleEditor,
	"review_queue": domain.RoleAuthor,
	"post":         domain.RoleAuthor,
	"idea":         domain.RoleAuthor,
	"write":        domain.RoleAuthor,
	"submit":       domain.RoleAuthor,
	"approve":      domain.RoleEditor,
	"reject":       domain.RoleEditor,
	"schedule":     domain.RoleEditor,
	"revoke":       domain.RoleAdmin,
	"publish_now":  domain.RoleAdmin,
	"resurrect":    domain.RoleEditor,
	"add_target":   domain.RoleEditor,
	"scan_chats":   domain.RoleEditor,
	"hunt_now":     domain.RoleEditor,
	"targets":      domain.RoleAuthor,
	"archive":      domain.RoleEditor,
	"activate":     domain.RoleEditor,
}

func rank(r domain.Role) int {
	switch r {
	case domain.RoleAuthor:
		return 1
	case domain.RoleEditor:
		return 2
	case domain.RoleAdmin:
		return 3
	}
	return 0
}

// Handle исполняет команду из рабочего чата. Обычные сообщения сотрудников игнорируются.
func (o *Operator) Handle(ctx context.Context, ev domain.InboundEvent) error {
	if ev.Kind != domain.EventText {
		return nil
	}
	cmd, ok := Parse(ev.Text)
	if !ok {
		if strings.HasPrefix(strings.TrimSpace(ev.Text), "/") {
			o.reply(ctx, ev, "Неизвестная команда. Список команд: help")
		}
		return nil
	}
	actor := o.policy.Actor(ev.UserExternalID)
	log := o.log.With().Int64("actor", actor.ID).Str("role", string(actor.Role)).Str("command", cmd.Name).Logger()

	var (
		reply    string
		entityID int64
		err      error
	)
	if rank(actor.Role) < rank(commands[cmd.Name]) {
		err = fmt.Errorf("%w: команда %s", domain.ErrForbidden, cmd.Name)
	} else {
		reply, entityID, err = o.execute(ctx, actor, ev, cmd)
	}
	status := "ok"
	if err != nil {
		status = "error: " + err.Error()
		reply = describe(err)
		log.Warn().Err(err).Msg("operator: команда не выполнена")
	} else {
		log.Info().Int64("entity", entityID).Msg("operator: команда выполнена")
	}
	o.audit(ctx, actor, cmd, entityID, status)
	if reply != "" {
		o.reply(ctx, ev, reply)
	}
	return nil
}

func (o *Operator) execute(ctx context.Context, actor domain.Actor, ev domain.InboundEvent, cmd Command) (string, int64, error) {
	switch cmd.Name {
	case "help":
		return helpText, 0, nil
	case "stats":
		return o.handleStats(ctx)
	case "export_leads":
		return o.handleExport(ctx, ev, cmd)
	case "review_queue":
		return o.handleReviewQueue(ctx)
	case "post", "idea":
		return o.handleCreate(ctx, actor, cmd)
	case "write", "submit", "approve", "revoke", "publish_now", "resurrect":
		return o.handleTransition(ctx, actor, cmd)
	case "reject":
		return o.handleReject(ctx, actor, cmd)
	case "schedule":
		return o.handleSchedule(ctx, actor, cmd)
	case "add_target", "scan_chats", "hunt_now":
		return o.handleHunter(ctx, cmd)
	case "targets":
		return o.handleTargets(ctx)
	case "archive", "activate":
		return o.handleTargetStatus(ctx, cmd)
	}
	return "", 0, domain.Invalid("command", cmd.Name)
}

func (o *Operator) reply(ctx context.Context, ev domain.InboundEvent, text string) {
	msg := domain.OutboundMessage{ChatID: ev.ChatID, ThreadID: ev.ThreadID, ReplyTo: ev.MessageID, Text: text, NoPreview: true}
	if _, err := o.messenger.SendText(ctx, msg); err != nil {
		o.log.Error().Err(err).Int64("chat", ev.ChatID).Msg("operator: не удалось отправить ответ")
	}
}

func (o *Operator) audit(ctx context.Context, actor domain.Actor, cmd Command, entityID int64, status string) {
	note := strings.TrimSpace(strings.Join(cmd.Args, " ") + " → " + status)
	if r := []rune(note); len(r) > noteLimit {
		note = string(r[:noteLimit])
	}
	entry := domain.AuditEntry{
		Entity:   auditEntity,
		EntityID: entityID,
		Actor:    actor.ID,
		Role:     actor.Role,
		To:       cmd.Name,
		Note:     note,
		At:       o.now(),
	}
	if err := o.store.AppendAudit(ctx, entry); err != nil {
		o.log.Error().Err(err).Str("command", cmd.Name).Msg("operator: не удалось записать аудит")
	}
}

// describe короткий ответ оператору без внутренних подробностей транспорта.
func describe(err error) string {
	var (
		resolve    *domain.ResolveError
		validation *domain.ValidationError
	)
	switch {
	case errors.As(err, &resolve):
		return "⚠️ " + resolve.Advisory()
	case errors.As(err, &validation):
		return "⚠️ " + validation.Error()
	case errors.Is(err, domain.ErrForbidden):
		return "⛔ Недостаточно прав для этой команды."
	case errors.Is(err, domain.ErrIllegalTransition):
		return "⚠️ Недопустимый переход для текущего статуса."
	case errors.Is(err, domain.ErrNotFound):
		return "⚠️ Запись не найдена."
	case errors.Is(err, domain.ErrDuplicateHash):
		return "⚠️ Похожий пост уже есть в контент-плане."
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "⚠️ Хранилище недоступно, повторите позже."
	}
	return "⚠️ Команда не выполнена, подробности в журнале."
}

func parseID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, domain.Invalid("id", "укажите номер записи")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid("id", fmt.Sprintf("некорректный номер %q", args[0]))
	}
	return id, nil
}

var timeLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", "02.01.2006 15:04"}

// ParseTime разбирает ISO 8601. Время без смещения считается местным.
func ParseTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, domain.Invalid("time", fmt.Sprintf("ожидается ISO 8601, получено %q", raw))
}

const helpText = `Команды:
stats — сводка
export_leads [дней] — выгрузка заявок CSV
review_queue — посты на ревью
post <канал> + строки: заголовок / текст / призыв
idea <канал> <текст> — идея поста
write <id> — черновик из идеи
submit <id>, approve <id>, reject <id> [причина]
schedule <id> <2026-01-02T15:04>
publish_now <id>, revoke <id>, resurrect <id>
add_target <ссылка>, scan_chats, hunt_now
targets, archive <id>, activate <id>
Каналы: tg_main, tg_second, vk, all`
