package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"remont-lead-bot/internal/adapters/repo"
	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeReminder struct {
	users []int64
	err   error
}

func (r *fakeReminder) Remind(_ context.Context, u domain.User) error {
	if r.err != nil {
		return r.err
	}
	r.users = append(r.users, u.ExternalID)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func seedQuizUser(t *testing.T, store *repo.Memory, ext int64, mode domain.Mode) {
	t.Helper()
	ctx := context.Background()
	u, err := store.GetOrCreateUser(ctx, ext, domain.Profile{DisplayName: "Анна"})
	require.NoError(t, err)
	require.NoError(t, store.GrantConsent(ctx, u.ID, time.Now(), domain.ModeNone{}))
	require.NoError(t, store.SetUserMode(ctx, u.ID, mode))
}

func TestRemindStaleOncePerIdle(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := repo.NewMemory(repo.WithClock(clk.now))
	seedQuizUser(t, store, 100, domain.ModeQuiz{Stage: domain.StageCity})
	seedQuizUser(t, store, 200, domain.ModeDialog{})

	rem := &fakeReminder{}
	j := New(store, rem, queue.NewMemory(4), Config{ReminderAfter: 2 * time.Hour}, zerolog.Nop(), WithClock(clk.now))
	ctx := context.Background()

	clk.t = clk.t.Add(time.Hour)
	n, err := j.RemindStale(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	clk.t = clk.t.Add(2 * time.Hour)
	n, err = j.RemindStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []int64{100}, rem.users)

	clk.t = clk.t.Add(5 * time.Hour)
	n, err = j.RemindStale(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRemindStalePermanentFailureIsMarked(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := repo.NewMemory(repo.WithClock(clk.now))
	seedQuizUser(t, store, 100, domain.ModeQuiz{Stage: domain.StageArea})

	rem := &fakeReminder{err: domain.Permanent("telegram: sendMessage", errors.New("bot was blocked"))}
	j := New(store, rem, queue.NewMemory(4), Config{}, zerolog.Nop(), WithClock(clk.now))
	clk.t = clk.t.Add(3 * time.Hour)

	n, err := j.RemindStale(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	users, err := store.ListStaleQuizUsers(context.Background(), clk.t, 10)
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestNextSummary(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	j := New(nil, nil, nil, Config{SummaryHour: 9, Location: msk}, zerolog.Nop())
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"до отправки", time.Date(2026, 3, 1, 5, 0, 0, 0, msk), time.Date(2026, 3, 1, 9, 0, 0, 0, msk)},
		{"ровно в час отправки", time.Date(2026, 3, 1, 9, 0, 0, 0, msk), time.Date(2026, 3, 2, 9, 0, 0, 0, msk)},
		{"после отправки", time.Date(2026, 3, 1, 23, 30, 0, 0, msk), time.Date(2026, 3, 2, 9, 0, 0, 0, msk)},
		{"время в UTC", time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 9, 0, 0, 0, msk)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, tt.want.Equal(j.NextSummary(tt.now)), j.NextSummary(tt.now))
		})
	}
}

func TestSendSummary(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	seedQuizUser(t, store, 100, domain.ModeQuiz{Stage: domain.StageCity})
	q := queue.NewMemory(4)
	j := New(store, &fakeReminder{}, q, Config{}, zerolog.Nop())

	require.NoError(t, j.SendSummary(ctx))
	n, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, ack(true))
	require.Equal(t, domain.NotifySummary, n.Kind)
	require.Contains(t, n.Text, "Пользователи: 1, дали согласие: 1")
}

func TestRunStopsOnCancel(t *testing.T) {
	j := New(repo.NewMemory(), &fakeReminder{}, queue.NewMemory(4), Config{ReminderEvery: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
