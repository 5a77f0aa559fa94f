package content

import (
	"fmt"
	"html"
	"strings"

	"remont-lead-bot/internal/domain"
)

// Render собирает текст поста в HTML-разметке Telegram: заголовок, текст, призыв к действию.
func Render(item domain.ContentItem) string {
	var sections []string
	if title := strings.TrimSpace(item.Title); title != "" {
		sections = append(sections, "<b>"+html.EscapeString(title)+"</b>")
	}
	if body := strings.TrimSpace(item.Body); body != "" {
		sections = append(sections, html.EscapeString(body))
	}
	if cta := strings.TrimSpace(item.CTA); cta != "" {
		sections = append(sections, "<i>"+html.EscapeString(cta)+"</i>")
	}
	return strings.Join(sections, "\n\n")
}

// MediaFor превращает ссылку на медиа контента во вложение поста.
func MediaFor(ref string) domain.Media {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return domain.Media{}
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return domain.Media{Kind: domain.MediaURL, Ref: ref}
	default:
		return domain.Media{Kind: domain.MediaBlob, Ref: ref}
	}
}

// Summary строка для списков в рабочем чате.
func Summary(item domain.ContentItem) string {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = firstLine(item.Body, 60)
	}
	line := fmt.Sprintf("#%d [%s] %s", item.ID, item.Channel, title)
	if item.ScheduledAt != nil {
		line += " → " + item.ScheduledAt.Format("02.01 15:04")
	}
	return line
}

func firstLine(text string, limit int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	runes := []rune(line)
	if len(runes) > limit {
		return string(runes[:limit-1]) + "…"
	}
	return line
}
