package copywriter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"remont-lead-bot/internal/domain"
)

type fakeLLM struct {
	reply string
	err   error
	req   domain.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.req = req
	return f.reply, f.err
}

func TestDraft(t *testing.T) {
	llm := &fakeLLM{reply: "```json\n{\"title\":\" Кухня-гостиная \",\"body\":\"Объединение кухни с комнатой требует проекта.\",\"cta\":\"Пишите нам\"}\n```"}
	c := New(llm, "Ремонт-Согласование", 0)
	patch, err := c.Draft(context.Background(), domain.ContentItem{Title: "кухня-гостиная", Channel: domain.ChannelMain})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if patch.Title != "Кухня-гостиная" || patch.CTA != "Пишите нам" || !strings.Contains(patch.Body, "проекта") {
		t.Fatalf("неверный черновик: %+v", patch)
	}
	if !llm.req.JSON || !strings.Contains(llm.req.User, "Ремонт-Согласование") {
		t.Fatalf("неверный запрос: %+v", llm.req)
	}
}

func TestDraftErrors(t *testing.T) {
	if _, err := New(&fakeLLM{}, "b", 0).Draft(context.Background(), domain.ContentItem{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ошибку валидации, получили %v", err)
	}
	if _, err := New(&fakeLLM{err: domain.ErrLLM}, "b", 0).Draft(context.Background(), domain.ContentItem{Title: "идея"}); !errors.Is(err, domain.ErrLLM) {
		t.Fatalf("ожидали ErrLLM, получили %v", err)
	}
	if _, err := New(&fakeLLM{reply: `{"title":"t","body":""}`}, "b", 0).Draft(context.Background(), domain.ContentItem{Title: "идея"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ошибку пустого текста, получили %v", err)
	}
}
