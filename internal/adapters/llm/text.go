package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	openai "remont-lead-bot/internal/infra/openai"
)

// Provider один поставщик текстовой генерации.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
}

// Text фасад текстовой LLM: основной поставщик и необязательный запасной.
// Ошибка всех поставщиков возвращается обёрнутой в domain.ErrLLM; пустой успешный ответ ошибкой не считается.
type Text struct {
	primary   Provider
	secondary Provider
	timeout   time.Duration
	maxChars  int
	log       zerolog.Logger
}

var _ domain.LLM = (*Text)(nil)

// NewText создаёт фасад. secondary может быть nil.
func NewText(primary, secondary Provider, timeout time.Duration, maxPromptChars int, log zerolog.Logger) *Text {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Text{primary: primary, secondary: secondary, timeout: timeout, maxChars: maxPromptChars, log: log}
}

// Complete выполняет запрос, при отказе основного поставщика один раз обращается к запасному.
func (t *Text) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	req = t.fit(req)
	var errs []error
	for _, p := range []Provider{t.primary, t.secondary} {
		if p == nil {
			continue
		}
		out, err := t.call(ctx, p, req)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.log.Warn().Err(err).Str("provider", p.Name()).Msg("llm: поставщик не ответил")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: поставщики не настроены", domain.ErrLLM)
	}
	return "", fmt.Errorf("%w: %w", domain.ErrLLM, errors.Join(errs...))
}

func (t *Text) call(ctx context.Context, p Provider, req domain.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := p.Complete(ctx, req)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", domain.Transient(p.Name(), err)
	}
	return strings.TrimSpace(out), err
}

// fit обрезает пользовательскую часть промпта под лимит поставщика.
func (t *Text) fit(req domain.CompletionRequest) domain.CompletionRequest {
	if t.maxChars <= 0 {
		return req
	}
	budget := t.maxChars - len([]rune(req.System))
	if budget < 0 {
		budget = 0
	}
	req.User = Truncate(req.User, budget)
	return req
}

// Truncate оставляет не больше limit символов.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI поставщик поверх OpenAI-совместимого API (OpenAI, YandexGPT).
type OpenAI struct {
	client chatClient
	model  string
	name   string
}

// NewOpenAI создаёт поставщика.
func NewOpenAI(client chatClient, model, name string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if name == "" {
		name = "openai"
	}
	return &OpenAI{client: client, model: model, name: name}
}

// Name реализует Provider.
func (o *OpenAI) Name() string { return o.name }

// Complete реализует Provider.
func (o *OpenAI) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: req.System},
			{Role: openai.RoleUser, Content: req.User},
		},
	}
	if req.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject}
	}
	resp, err := o.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", domain.Transient(o.name, errors.New("пустой список вариантов"))
	}
	return resp.Choices[0].Message.Content, nil
}
