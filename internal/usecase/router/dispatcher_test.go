package router

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"remont-lead-bot/internal/adapters/repo"
	"remont-lead-bot/internal/adapters/telegram/telegramtest"
	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/usecase/menu"
)

type calls struct{ names []string }

func (c *calls) hit(name string) error {
	c.names = append(c.names, name)
	return nil
}

type fakeQuiz struct{ c *calls }

func (f fakeQuiz) AskConsent(context.Context, domain.InboundEvent) error {
	return f.c.hit("ask_consent")
}
func (f fakeQuiz) Consent(context.Context, domain.User, domain.InboundEvent) error {
	return f.c.hit("consent")
}
func (f fakeQuiz) Start(context.Context, domain.User, domain.InboundEvent) error {
	return f.c.hit("quiz_start")
}
func (f fakeQuiz) Handle(context.Context, domain.User, domain.InboundEvent) error {
	return f.c.hit("quiz")
}

type fakeDialog struct{ c *calls }

func (f fakeDialog) Greet(_ context.Context, user domain.User, _ domain.InboundEvent) error {
	return f.c.hit("greet_" + domain.ModeName(user.Mode))
}
func (f fakeDialog) Reply(context.Context, domain.User, domain.InboundEvent) error {
	return f.c.hit("dialog")
}

type fakeSales struct{ c *calls }

func (f fakeSales) Start(context.Context, domain.User, domain.InboundEvent) error {
	return f.c.hit("sales_start")
}
func (f fakeSales) Handle(context.Context, domain.User, domain.InboundEvent) error {
	return f.c.hit("sales")
}

type fakeOperator struct{ c *calls }

func (f fakeOperator) Handle(context.Context, domain.InboundEvent) error { return f.c.hit("operator") }

func newDispatcher(store *repo.Memory, msg *telegramtest.Recorder, c *calls) *Dispatcher {
	return NewDispatcher(store, msg, fakeQuiz{c}, fakeDialog{c}, fakeSales{c}, fakeOperator{c},
		DispatcherConfig{StaffChatID: -100}, zerolog.Nop())
}

func TestDispatcherRouting(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	msg := telegramtest.New()
	c := &calls{}
	d := newDispatcher(store, msg, c)

	u, err := store.GetOrCreateUser(ctx, 5, domain.Profile{})
	require.NoError(t, err)
	require.NoError(t, store.GrantConsent(ctx, u.ID, u.CreatedAt, domain.ModeNone{}))

	steps := []struct {
		ev   domain.InboundEvent
		want string
	}{
		{text(5, "вопрос"), "dialog"},
		{text(5, menu.ButtonQuiz), "quiz_start"},
		{text(5, menu.ButtonDialog), "greet_dialog"},
		{text(5, menu.ButtonInvest), "greet_invest"},
		{text(5, menu.ButtonCallback), "sales_start"},
		{domain.InboundEvent{UserExternalID: 9, ChatID: -100, Kind: domain.EventText, Text: "stats"}, "operator"},
	}
	for _, step := range steps {
		c.names = nil
		require.NoError(t, d.Handle(ctx, step.ev))
		require.Equal(t, []string{step.want}, c.names, step.ev.Text)
	}

	require.NoError(t, store.SetUserMode(ctx, u.ID, domain.ModeQuiz{Stage: domain.StageCity}))
	c.names = nil
	require.NoError(t, d.Handle(ctx, text(5, "Москва")))
	require.Equal(t, []string{"quiz"}, c.names)

	require.NoError(t, store.SetUserMode(ctx, u.ID, domain.ModeSales{Step: 1}))
	c.names = nil
	require.NoError(t, d.Handle(ctx, text(5, "завтра")))
	require.Equal(t, []string{"sales"}, c.names)
}

func TestDispatcherConsentGate(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	msg := telegramtest.New()
	c := &calls{}
	d := newDispatcher(store, msg, c)

	require.NoError(t, d.Handle(ctx, text(7, "/start src_vk")))
	require.Equal(t, []string{"ask_consent"}, c.names)
	before, err := store.GetUser(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "src_vk", before.Source)

	for _, s := range []string{"привет", menu.ButtonQuiz, menu.ButtonCallback} {
		c.names = nil
		require.NoError(t, d.Handle(ctx, text(7, s)))
		require.Equal(t, []string{"consent"}, c.names)
	}
	c.names = nil
	require.NoError(t, d.Handle(ctx, text(7, "/cancel")))
	require.Empty(t, c.names)

	after, err := store.GetUser(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDispatcherCancelResetsMode(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	msg := telegramtest.New()
	d := newDispatcher(store, msg, &calls{})

	u, err := store.GetOrCreateUser(ctx, 8, domain.Profile{})
	require.NoError(t, err)
	require.NoError(t, store.GrantConsent(ctx, u.ID, u.CreatedAt, domain.ModeQuiz{Stage: domain.StageFloor}))

	require.NoError(t, d.Handle(ctx, text(8, menu.ButtonCancel)))
	got, err := store.GetUser(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, domain.ModeNone{}, got.Mode)
	require.Contains(t, msg.Last(8).Text, "остановились")
}

func TestDispatcherAnswersCallbacks(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	msg := telegramtest.New()
	d := newDispatcher(store, msg, &calls{})

	ev := domain.InboundEvent{UserExternalID: 3, ChatID: 3, Kind: domain.EventCallback, CallbackID: "cb-1", Text: "x"}
	require.NoError(t, d.Handle(ctx, ev))
	require.Equal(t, []string{"cb-1"}, msg.Callbacks)
}

func TestStartSource(t *testing.T) {
	cases := map[string]string{
		"/start":           "",
		"/start src_vk":    "src_vk",
		"/start@bot promo": "promo",
		"start":            "",
		"/started x":       "",
	}
	for in, want := range cases {
		if got := startSource(in); got != want {
			t.Fatalf("startSource(%q) = %q, want %q", in, got, want)
		}
	}
}
