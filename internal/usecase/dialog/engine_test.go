package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"remont-lead-bot/internal/adapters/repo"
	"remont-lead-bot/internal/adapters/telegram/telegramtest"
	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/queue"
	"remont-lead-bot/internal/usecase/knowledge"
	"remont-lead-bot/internal/usecase/menu"
	"remont-lead-bot/internal/usecase/quiz"
)

type fakeLLM struct {
	reply string
	err   error
	reqs  []domain.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

type fixture struct {
	store  *repo.Memory
	msg    *telegramtest.Recorder
	llm    *fakeLLM
	engine *Engine
	ext    int64
}

func newFixture(t *testing.T, mode domain.Mode) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: repo.NewMemory(), msg: telegramtest.New(), llm: &fakeLLM{}, ext: 42}
	kb := knowledge.New([]knowledge.Document{{Path: "mzhi.md", Content: "Для согласования перепланировки в МЖИ нужен проект."}})
	q := quiz.NewService(f.store, f.msg, nil, queue.NewMemory(4), quiz.Config{}, zerolog.Nop())
	f.engine = NewEngine(f.store, f.msg, f.llm, kb, q, Config{Brand: "Ремонт Плюс"}, zerolog.Nop())
	u, err := f.store.GetOrCreateUser(ctx, f.ext, domain.Profile{})
	require.NoError(t, err)
	require.NoError(t, f.store.GrantConsent(ctx, u.ID, u.CreatedAt, mode))
	return f
}

func (f *fixture) ask(t *testing.T, text string) {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), f.ext)
	require.NoError(t, err)
	ev := domain.InboundEvent{UserExternalID: f.ext, ChatID: f.ext, Kind: domain.EventText, Text: text}
	require.NoError(t, f.engine.Reply(context.Background(), u, ev))
}

func TestEscalationSwitchesToQuiz(t *testing.T) {
	f := newFixture(t, domain.ModeDialog{})
	f.ask(t, "свяжите со специалистом")

	require.Empty(t, f.llm.reqs)
	u, err := f.store.GetUser(context.Background(), f.ext)
	require.NoError(t, err)
	require.Equal(t, domain.ModeQuiz{Stage: domain.StageCity}, u.Mode)

	sent := f.msg.To(f.ext)
	require.Len(t, sent, 2)
	require.Contains(t, sent[0].Text, "Подключаю специалиста")
	require.True(t, strings.HasPrefix(sent[1].Text, "Вопрос 1 из 7"))

	history, err := f.store.RecentDialog(context.Background(), u.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, domain.DialogAssistant, history[1].Role)
	require.Contains(t, history[1].Text, "Подключаю специалиста")
}

func TestReplyGroundedInKnowledge(t *testing.T) {
	f := newFixture(t, domain.ModeDialog{})
	f.llm.reply = "Нужен проект и обращение в МЖИ."

	f.ask(t, "Что нужно для согласования?")
	require.Len(t, f.llm.reqs, 1)
	first := f.llm.reqs[0]
	require.Contains(t, first.System, "[mzhi.md]")
	require.Contains(t, first.System, "Ремонт Плюс")
	require.Contains(t, first.System, "не длиннее 300 символов")
	require.Equal(t, "Клиент: Что нужно для согласования?", first.User)
	require.Nil(t, f.msg.Last(f.ext).Keyboard)

	f.ask(t, "А сколько ждать?")
	second := f.llm.reqs[1]
	require.NotContains(t, second.System, "Ремонт Плюс")
	require.Contains(t, second.User, "Консультант: Нужен проект и обращение в МЖИ.")
	require.Equal(t, menu.DialogFollowUp(), f.msg.Last(f.ext).Keyboard)

	u, err := f.store.GetUser(context.Background(), f.ext)
	require.NoError(t, err)
	require.Equal(t, "2", u.Scratch[ScratchReplies])
}

func TestLLMFailureSendsApology(t *testing.T) {
	f := newFixture(t, domain.ModeDialog{})
	f.llm.err = errors.Join(domain.ErrLLM, errors.New("timeout"))

	f.ask(t, "Можно ли снести стену?")
	last := f.msg.Last(f.ext)
	require.Contains(t, last.Text, "Извините")
	require.Contains(t, last.Text, menu.ButtonExpert)
	require.NotContains(t, last.Text, "timeout")

	u, err := f.store.GetUser(context.Background(), f.ext)
	require.NoError(t, err)
	history, err := f.store.RecentDialog(context.Background(), u.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestInvestPersona(t *testing.T) {
	f := newFixture(t, domain.ModeInvest{})
	f.llm.reply = "Коммерческие помещения окупаются быстрее."
	f.ask(t, "Что выгоднее купить?")
	require.Contains(t, f.llm.reqs[0].System, "инвестициям")
}

func TestGreetResetsCounter(t *testing.T) {
	f := newFixture(t, domain.ModeDialog{})
	ctx := context.Background()
	u, err := f.store.GetUser(ctx, f.ext)
	require.NoError(t, err)
	require.NoError(t, f.store.SetScratch(ctx, u.ID, ScratchReplies, "5"))
	require.NoError(t, f.engine.Greet(ctx, u, domain.InboundEvent{ChatID: f.ext}))
	u, err = f.store.GetUser(ctx, f.ext)
	require.NoError(t, err)
	require.Empty(t, u.Scratch[ScratchReplies])
}

func TestClip(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"Коротко.", 300, "Коротко."},
		{"Первое предложение. Второе длинное предложение", 25, "Первое предложение."},
		{"оченьдлинноесловобезточек", 10, "оченьдлин…"},
	}
	for _, tc := range cases {
		if got := clip(tc.in, tc.limit); got != tc.want {
			t.Fatalf("clip(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestIsEscalation(t *testing.T) {
	require.True(t, IsEscalation("Свяжите со специалистом"))
	require.True(t, IsEscalation(menu.ButtonExpert))
	require.True(t, IsEscalation("нужна консультация"))
	require.False(t, IsEscalation("что такое мокрая зона?"))
}
