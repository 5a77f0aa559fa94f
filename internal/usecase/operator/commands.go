package operator

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/usecase/content"
	"remont-lead-bot/internal/usecase/hunter"
	"remont-lead-bot/internal/usecase/jobs"
)

func (o *Operator) handleStats(ctx context.Context) (string, int64, error) {
	now := o.now()
	stats, err := o.store.Stats(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return "", 0, err
	}
	return jobs.FormatSummary(stats, now.In(o.cfg.Location)), 0, nil
}

func (o *Operator) handleReviewQueue(ctx context.Context) (string, int64, error) {
	items, err := o.content.ReviewQueue(ctx, listLimit)
	if err != nil {
		return "", 0, err
	}
	if len(items) == 0 {
		return "Очередь ревью пуста.", 0, nil
	}
	lines := []string{fmt.Sprintf("На ревью: %d", len(items))}
	for _, it := range items {
		lines = append(lines, content.Summary(it))
	}
	return strings.Join(lines, "\n"), 0, nil
}

func (o *Operator) handleCreate(ctx context.Context, actor domain.Actor, cmd Command) (string, int64, error) {
	if len(cmd.Args) == 0 {
		return "", 0, domain.Invalid("channel", "укажите канал: tg_main, tg_second, vk или all")
	}
	channel := domain.ChannelTag(strings.ToLower(cmd.Args[0]))
	if !channel.Valid() {
		return "", 0, domain.Invalid("channel", fmt.Sprintf("неизвестный канал %q", cmd.Args[0]))
	}
	d := content.Draft{Channel: channel}
	if cmd.Name == "idea" {
		d.Idea = true
		d.Body = strings.TrimSpace(strings.Join(append([]string{strings.Join(cmd.Args[1:], " ")}, cmd.Body...), "\n"))
		if d.Body == "" {
			return "", 0, domain.Invalid("idea", "пустая идея")
		}
	} else {
		d = draftFromLines(channel, cmd.Body)
		if d.Title == "" || d.Body == "" {
			return "", 0, domain.Invalid("post", "нужны строки: заголовок, текст и необязательный призыв")
		}
	}
	item, err := o.content.Create(ctx, actor, d)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("✅ Создан #%d (%s)", item.ID, item.Status), item.ID, nil
}

// draftFromLines: первая строка заголовок, последняя призыв при трёх и более строках, строки «image: ...» и «media: ...» задают картинку.
func draftFromLines(channel domain.ChannelTag, lines []string) content.Draft {
	d := content.Draft{Channel: channel}
	var text []string
	for _, l := range lines {
		lower := strings.ToLower(l)
		switch {
		case strings.HasPrefix(lower, "image:"):
			d.ImagePrompt = strings.TrimSpace(l[len("image:"):])
		case strings.HasPrefix(lower, "media:"):
			d.MediaRef = strings.TrimSpace(l[len("media:"):])
		default:
			text = append(text, l)
		}
	}
	switch {
	case len(text) == 0:
	case len(text) == 1:
		d.Title = text[0]
	case len(text) == 2:
		d.Title, d.Body = text[0], text[1]
	default:
		d.Title = text[0]
		d.Body = strings.Join(text[1:len(text)-1], "\n")
		d.CTA = text[len(text)-1]
	}
	return d
}

func (o *Operator) handleTransition(ctx context.Context, actor domain.Actor, cmd Command) (string, int64, error) {
	id, err := parseID(cmd.Args)
	if err != nil {
		return "", 0, err
	}
	var item domain.ContentItem
	switch cmd.Name {
	case "write":
		item, err = o.content.WriteDraft(ctx, actor, id)
	case "submit":
		item, err = o.content.Submit(ctx, actor, id)
	case "approve":
		item, err = o.content.Approve(ctx, actor, id)
	case "revoke":
		item, err = o.content.Revoke(ctx, actor, id)
	case "publish_now":
		item, err = o.content.PublishNow(ctx, actor, id)
	case "resurrect":
		item, err = o.content.Resurrect(ctx, actor, id)
		if err == nil {
			return fmt.Sprintf("✅ #%d восстановлен как черновик #%d", id, item.ID), item.ID, nil
		}
	}
	if err != nil {
		return "", id, err
	}
	return fmt.Sprintf("✅ #%d → %s", item.ID, item.Status), id, nil
}

func (o *Operator) handleReject(ctx context.Context, actor domain.Actor, cmd Command) (string, int64, error) {
	id, err := parseID(cmd.Args)
	if err != nil {
		return "", 0, err
	}
	note := strings.TrimSpace(strings.Join(append([]string{strings.Join(cmd.Args[1:], " ")}, cmd.Body...), "\n"))
	item, err := o.content.Reject(ctx, actor, id, note)
	if err != nil {
		return "", id, err
	}
	return fmt.Sprintf("↩️ #%d → %s", item.ID, item.Status), id, nil
}

func (o *Operator) handleSchedule(ctx context.Context, actor domain.Actor, cmd Command) (string, int64, error) {
	id, err := parseID(cmd.Args)
	if err != nil {
		return "", 0, err
	}
	if len(cmd.Args) < 2 {
		return "", id, domain.Invalid("time", "укажите время публикации в ISO 8601")
	}
	at, err := ParseTime(strings.Join(cmd.Args[1:], " "), o.cfg.Location)
	if err != nil {
		return "", id, err
	}
	item, err := o.content.Schedule(ctx, actor, id, at)
	if err != nil {
		return "", id, err
	}
	return fmt.Sprintf("🗓 #%d запланирован на %s", item.ID, at.In(o.cfg.Location).Format("02.01.2006 15:04")), id, nil
}

func (o *Operator) handleHunter(ctx context.Context, cmd Command) (string, int64, error) {
	if o.hunter == nil {
		return "", 0, domain.Invalid("hunter", "охотник выключен")
	}
	switch cmd.Name {
	case "add_target":
		if len(cmd.Args) == 0 {
			return "", 0, domain.Invalid("link", "укажите ссылку на чат")
		}
		t, err := o.hunter.AddTarget(ctx, cmd.Args[0])
		if errors.Is(err, hunter.ErrResolveQueued) {
			return fmt.Sprintf("⏳ Telegram не ответил вовремя. Ссылка %s поставлена в очередь, источник станет активным после проверки", t.Link), 0, nil
		}
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("🎯 Источник #%d %s активен", t.ID, targetName(t)), t.ID, nil
	case "scan_chats":
		n, err := o.hunter.ScanChats(ctx)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("🔎 Найдено новых ссылок: %d, поставлены в очередь проверки", n), 0, nil
	default:
		r, err := o.hunter.HuntNow(ctx)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("🏹 Источников: %d, сообщений: %d, наблюдений: %d, горячих: %d", r.Targets, r.Messages, r.Observations, r.Hot), 0, nil
	}
}

func (o *Operator) handleTargets(ctx context.Context) (string, int64, error) {
	targets, err := o.store.ListTargets(ctx, "")
	if err != nil {
		return "", 0, err
	}
	if len(targets) == 0 {
		return "Источников нет. Добавьте: add_target <ссылка>", 0, nil
	}
	lines := make([]string, 0, len(targets))
	for _, t := range targets {
		lines = append(lines, fmt.Sprintf("#%d [%s] %s", t.ID, t.Status, targetName(t)))
	}
	return strings.Join(lines, "\n"), 0, nil
}

func (o *Operator) handleTargetStatus(ctx context.Context, cmd Command) (string, int64, error) {
	id, err := parseID(cmd.Args)
	if err != nil {
		return "", 0, err
	}
	if _, err := o.store.GetTarget(ctx, id); err != nil {
		return "", id, err
	}
	status := domain.TargetActive
	if cmd.Name == "archive" {
		status = domain.TargetArchived
	}
	if err := o.store.SetTargetStatus(ctx, id, status); err != nil {
		return "", id, err
	}
	return fmt.Sprintf("✅ Источник #%d → %s", id, status), id, nil
}

func targetName(t domain.TargetResource) string {
	if t.Title != "" {
		return fmt.Sprintf("%s (%s)", t.Title, t.Link)
	}
	return t.Link
}

func (o *Operator) handleExport(ctx context.Context, ev domain.InboundEvent, cmd Command) (string, int64, error) {
	days := o.cfg.ExportDays
	if len(cmd.Args) > 0 {
		n, err := strconv.Atoi(cmd.Args[0])
		if err != nil || n <= 0 {
			return "", 0, domain.Invalid("days", fmt.Sprintf("некорректное число дней %q", cmd.Args[0]))
		}
		days = n
	}
	now := o.now()
	leads, err := o.store.ListLeads(ctx, now.AddDate(0, 0, -days), 0)
	if err != nil {
		return "", 0, err
	}
	data, err := LeadsCSV(leads, o.cfg.Location)
	if err != nil {
		return "", 0, err
	}
	msg := domain.OutboundMessage{
		ChatID:   ev.ChatID,
		ThreadID: ev.ThreadID,
		Text:     fmt.Sprintf("📎 Заявки за %d дн.: %d", days, len(leads)),
		Media: domain.Media{
			Kind:       domain.MediaDocument,
			FileName:   fmt.Sprintf("leads-%s.csv", now.In(o.cfg.Location).Format("2006-01-02")),
			Data:       data,
			AsDocument: true,
		},
	}
	if _, err := o.messenger.SendMedia(ctx, msg); err != nil {
		return "", 0, err
	}
	return "", 0, nil
}

var csvHeader = []string{"id", "created_at", "name", "phone", "source", "status", "city", "object_type", "floor", "area", "remodel", "description", "attachment"}

// LeadsCSV выгрузка заявок в CSV.
func LeadsCSV(leads []domain.Lead, loc *time.Location) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, l := range leads {
		r := l.Response
		area := ""
		if r.Area != nil {
			area = strconv.FormatFloat(*r.Area, 'f', -1, 64)
		}
		row := []string{
			strconv.FormatInt(l.ID, 10),
			l.CreatedAt.In(loc).Format(time.RFC3339),
			l.Name,
			l.Phone,
			l.Source,
			string(l.Status),
			r.City,
			string(r.ObjectType),
			r.Floor,
			area,
			string(r.Status),
			r.Description,
			r.Attachment,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
