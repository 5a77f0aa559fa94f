package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"remont-lead-bot/internal/adapters/repo"
	"remont-lead-bot/internal/adapters/telegram/telegramtest"
	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/config"
	"remont-lead-bot/internal/infra/queue"
	"remont-lead-bot/internal/usecase/content"
)

const staffChat = -100500

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubLLM struct{}

func (stubLLM) Complete(context.Context, domain.CompletionRequest) (string, error) {
	return "", domain.Transient("llm", errors.New("offline"))
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []domain.ScheduledPost
}

func (p *recordingPublisher) Publish(_ context.Context, post domain.ScheduledPost) (domain.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, post)
	return domain.MessageRef{Platform: "fake", MessageID: int64(len(p.sent))}, nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func testConfig() config.AppConfig {
	var cfg config.AppConfig
	cfg.TZ = "UTC"
	cfg.Source = "organic"
	cfg.Brand = "Бюро"
	cfg.MailboxSize = 32
	cfg.Staff.ChatID = staffChat
	cfg.Staff.ThreadResidential = 11
	cfg.Staff.ThreadAlerts = 99
	cfg.Staff.Admins = []int64{1}
	cfg.Scheduler.IntervalSeconds = 1
	cfg.Scheduler.Batch = 32
	cfg.Scheduler.Attempts = 3
	cfg.Jobs.DailySummaryHour = 9
	cfg.Jobs.ReminderAfter = 2 * time.Hour
	return cfg
}

type harness struct {
	app   *App
	store *repo.Memory
	msg   *telegramtest.Recorder
	pub   *recordingPublisher
	stop  func() error
}

func start(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: repo.NewMemory(), msg: telegramtest.New(), pub: &recordingPublisher{}}
	a, err := New(testConfig(), Deps{
		Store:      h.store,
		Queue:      queue.NewMemory(16),
		Messenger:  h.msg,
		LLM:        stubLLM{},
		Publishers: map[domain.ChannelTag]domain.Publisher{domain.ChannelMain: h.pub},
	}, zerolog.Nop())
	require.NoError(t, err)
	h.app = a

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	h.stop = func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return errors.New("app did not stop")
		}
	}
	return h
}

func TestQuizLeadReachesStaffThread(t *testing.T) {
	h := start(t)
	const user = 100
	ev := func(kind domain.EventKind, text string) domain.InboundEvent {
		return domain.InboundEvent{UserExternalID: user, ChatID: user, Kind: kind, Text: text, FirstName: "Anna"}
	}
	events := []domain.InboundEvent{ev(domain.EventText, "/start"), ev(domain.EventText, "✅ consent")}
	contact := ev(domain.EventContact, "")
	contact.Contact = &domain.Contact{Phone: "+79991112233", FirstName: "Anna", UserID: user}
	events = append(events, contact)
	for _, answer := range []string{"Moscow", "residential", "5", "72", "planned", "add bathroom", "no"} {
		events = append(events, ev(domain.EventText, answer))
	}
	for _, e := range events {
		require.NoError(t, h.app.Submit(e))
	}

	require.Eventually(t, func() bool { return len(h.msg.To(staffChat)) == 1 }, 5*time.Second, 10*time.Millisecond)
	card := h.msg.To(staffChat)[0]
	assert.Equal(t, 11, card.ThreadID)
	for _, part := range []string{"Moscow", "72", "planned"} {
		assert.Contains(t, card.Text, part)
	}
	require.Eventually(t, func() bool {
		return strings.Contains(h.msg.Last(user).Text, "только планируется")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.stop())
	// после остановки хранилище закрыто
	_, err := h.store.GetUser(context.Background(), user)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestLeadSubmittedBeforeStopReachesStaff(t *testing.T) {
	h := start(t)
	const user = 200
	ev := func(kind domain.EventKind, text string) domain.InboundEvent {
		return domain.InboundEvent{UserExternalID: user, ChatID: user, Kind: kind, Text: text, FirstName: "Oleg"}
	}
	events := []domain.InboundEvent{ev(domain.EventText, "/start"), ev(domain.EventText, "✅ consent")}
	contact := ev(domain.EventContact, "")
	contact.Contact = &domain.Contact{Phone: "+79994445566", FirstName: "Oleg", UserID: user}
	events = append(events, contact)
	for _, answer := range []string{"Moscow", "residential", "5", "72", "planned", "add bathroom", "no"} {
		events = append(events, ev(domain.EventText, answer))
	}
	for _, e := range events {
		require.NoError(t, h.app.Submit(e))
	}

	require.NoError(t, h.stop())
	cards := h.msg.To(staffChat)
	require.Len(t, cards, 1)
	assert.Equal(t, 11, cards[0].ThreadID)
	assert.Contains(t, cards[0].Text, "72")
}

func TestScheduledContentIsPublished(t *testing.T) {
	h := start(t)
	ctx := context.Background()
	admin := domain.Actor{ID: 1, Role: domain.RoleAdmin}
	svc := h.app.Content()

	item, err := svc.Create(ctx, admin, content.Draft{Channel: domain.ChannelMain, Title: "Заголовок", Body: "B"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, admin, item.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, admin, item.ID)
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, admin, item.ID, time.Now().Add(time.Second))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := h.store.GetContentItem(ctx, item.ID)
		return err == nil && got.Status == domain.ContentPublished
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 1, h.pub.count())
	require.NoError(t, h.stop())
}

func TestNewRequiresCoreDeps(t *testing.T) {
	_, err := New(testConfig(), Deps{Store: repo.NewMemory()}, zerolog.Nop())
	require.Error(t, err)
}

func TestSupervisorRestartsTransientFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var runs atomic.Int32
	task := Task{Name: "flaky", Run: func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return domain.Transient("flaky", errors.New("boom"))
		case 2:
			panic("oops")
		default:
			<-ctx.Done()
			return nil
		}
	}}
	done := make(chan struct{})
	go func() {
		supervise(ctx, task, restartPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond}, zerolog.Nop())
		close(done)
	}()
	require.Eventually(t, func() bool { return runs.Load() == 3 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestSupervisorStopsOnPermanentError(t *testing.T) {
	var runs atomic.Int32
	task := Task{Name: "broken", Run: func(context.Context) error {
		runs.Add(1)
		return domain.Permanent("broken", errors.New("unauthorized"))
	}}
	supervise(context.Background(), task, restartPolicy{Initial: time.Millisecond, Max: time.Millisecond}, zerolog.Nop())
	assert.Equal(t, int32(1), runs.Load())
}
