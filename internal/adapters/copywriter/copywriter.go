package copywriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"remont-lead-bot/internal/domain"
)

const systemPrompt = `Ты редактор канала компании по согласованию перепланировок.
Пиши на русском, без цен и обещаний сроков, дружелюбно и по делу.
Не выдумывай законы и номера постановлений.`

// Copywriter пишет черновик поста из идеи.
type Copywriter struct {
	llm      domain.LLM
	brand    string
	maxChars int
}

var _ domain.Copywriter = (*Copywriter)(nil)

// New создаёт копирайтера.
func New(llm domain.LLM, brand string, maxChars int) *Copywriter {
	if maxChars <= 0 {
		maxChars = 1800
	}
	return &Copywriter{llm: llm, brand: brand, maxChars: maxChars}
}

type draftPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	CTA   string `json:"cta"`
}

// Draft строит заголовок, текст и призыв к действию.
func (c *Copywriter) Draft(ctx context.Context, item domain.ContentItem) (domain.ContentPatch, error) {
	idea := strings.TrimSpace(strings.Join([]string{item.Title, item.Body}, "\n"))
	if idea == "" {
		return domain.ContentPatch{}, domain.Invalid("idea", "пустая идея")
	}
	userPrompt := fmt.Sprintf(`Напиши пост для площадки %s на основе идеи.
Текст не длиннее %d символов, в конце призыв обратиться в %s.
Верни JSON формата {"title": "...", "body": "...", "cta": "..."} без пояснений.
Идея:
%s`, item.Channel, c.maxChars, c.brand, idea)

	reply, err := c.llm.Complete(ctx, domain.CompletionRequest{
		System:      systemPrompt,
		User:        userPrompt,
		MaxTokens:   1200,
		Temperature: 0.6,
		JSON:        true,
	})
	if err != nil {
		return domain.ContentPatch{}, fmt.Errorf("copywriter: %w", err)
	}
	content := trimFence(reply)
	if content == "" {
		return domain.ContentPatch{}, fmt.Errorf("copywriter: %w", errors.New("пустой ответ"))
	}
	var parsed draftPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.ContentPatch{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	patch := domain.ContentPatch{
		Title: strings.TrimSpace(parsed.Title),
		Body:  strings.TrimSpace(parsed.Body),
		CTA:   strings.TrimSpace(parsed.CTA),
	}
	if patch.Body == "" {
		return domain.ContentPatch{}, domain.Invalid("body", "модель вернула пустой текст")
	}
	if patch.Title == "" {
		patch.Title = item.Title
	}
	return patch, nil
}

// trimFence снимает обёртку ```json ... ```, которую иногда добавляют модели.
func trimFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
