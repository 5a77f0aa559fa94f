package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"remont-lead-bot/internal/adapters/telegram/telegramtest"
	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var threads = Threads{Residential: 11, Commercial: 12, House: 13, Hunter: 14, Alerts: 15}

func TestThread(t *testing.T) {
	n := New(queue.NewMemory(1), telegramtest.New(), Config{ChatID: -100, Threads: threads}, zerolog.Nop())
	tests := []struct {
		name string
		note domain.Notification
		want int
	}{
		{"квартира", domain.Notification{Kind: domain.NotifyLeadReady, ObjectType: domain.ObjectResidential}, 11},
		{"коммерция", domain.Notification{Kind: domain.NotifyLeadReady, ObjectType: domain.ObjectCommercial}, 12},
		{"дом", domain.Notification{Kind: domain.NotifyLeadReady, ObjectType: domain.ObjectHouse}, 13},
		{"горячий лид", domain.Notification{Kind: domain.NotifyHotLead}, 14},
		{"предупреждение", domain.Notification{Kind: domain.NotifyAlert}, 15},
		{"сводка", domain.Notification{Kind: domain.NotifySummary}, 15},
		{"звонок", domain.Notification{Kind: domain.NotifyCallback}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, n.Thread(tt.note))
		})
	}
}

func TestRunDeliversWithAttachment(t *testing.T) {
	q := queue.NewMemory(4)
	rec := telegramtest.New()
	n := New(q, rec, Config{ChatID: -100, Threads: threads}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, domain.Notification{
		Kind: domain.NotifyLeadReady, ObjectType: domain.ObjectCommercial, LeadID: 7,
		Text: "🆕 Заявка №7", Attachment: "document:file-1",
	}))
	require.Eventually(t, func() bool { return len(rec.To(-100)) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sent := rec.To(-100)
	require.Equal(t, 12, sent[0].ThreadID)
	require.Equal(t, "🆕 Заявка №7", sent[0].Text)
	require.Equal(t, domain.MediaFileID, sent[1].Media.Kind)
	require.Equal(t, "file-1", sent[1].Media.Ref)
	require.True(t, sent[1].Media.AsDocument)
	require.Contains(t, sent[1].Text, "№7")
}

type flakyMessenger struct {
	*telegramtest.Recorder
	failures int32
	calls    atomic.Int32
	err      error
}

func (m *flakyMessenger) SendText(ctx context.Context, msg domain.OutboundMessage) (domain.MessageRef, error) {
	if m.calls.Add(1) <= m.failures {
		return domain.MessageRef{}, m.err
	}
	return m.Recorder.SendText(ctx, msg)
}

func runNotifier(t *testing.T, n *Notifier) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestRunRequeuesTransientFailure(t *testing.T) {
	q := queue.NewMemory(4)
	m := &flakyMessenger{Recorder: telegramtest.New(), failures: 2, err: domain.Transient("telegram: sendMessage", errors.New("502"))}
	stop := runNotifier(t, New(q, m, Config{ChatID: -100, Threads: threads, Delay: time.Millisecond}, zerolog.Nop()))

	require.NoError(t, q.Publish(context.Background(), domain.Notification{Kind: domain.NotifyAlert, Text: "сбой"}))
	require.Eventually(t, func() bool { return len(m.To(-100)) == 1 }, time.Second, 5*time.Millisecond)
	stop()
	require.EqualValues(t, 3, m.calls.Load())
	require.Zero(t, q.Len())
}

func TestRunGivesUpAfterRedeliveries(t *testing.T) {
	q := queue.NewMemory(4)
	m := &flakyMessenger{Recorder: telegramtest.New(), failures: 100, err: domain.Transient("telegram: sendMessage", errors.New("502"))}
	stop := runNotifier(t, New(q, m, Config{ChatID: -100, Threads: threads, Redeliveries: 2, Delay: time.Millisecond}, zerolog.Nop()))

	require.NoError(t, q.Publish(context.Background(), domain.Notification{Kind: domain.NotifyAlert, Text: "сбой"}))
	require.Eventually(t, func() bool { return m.calls.Load() == 3 && q.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()
	require.EqualValues(t, 3, m.calls.Load())
}

func TestRunDropsPermanentFailure(t *testing.T) {
	q := queue.NewMemory(4)
	m := &flakyMessenger{Recorder: telegramtest.New(), failures: 100, err: domain.Permanent("telegram: sendMessage", errors.New("chat not found"))}
	stop := runNotifier(t, New(q, m, Config{ChatID: -100, Threads: threads, Delay: time.Millisecond}, zerolog.Nop()))

	require.NoError(t, q.Publish(context.Background(), domain.Notification{Kind: domain.NotifyAlert, Text: "сбой"}))
	require.Eventually(t, func() bool { return m.calls.Load() == 1 && q.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()
	require.EqualValues(t, 1, m.calls.Load())
}

func TestFlushDeliversLeftovers(t *testing.T) {
	q := queue.NewMemory(4)
	rec := telegramtest.New()
	n := New(q, rec, Config{ChatID: -100, Threads: threads}, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, domain.Notification{Kind: domain.NotifyLeadReady, ObjectType: domain.ObjectResidential, Text: "🆕 Заявка №1"}))
	require.NoError(t, q.Publish(ctx, domain.Notification{Kind: domain.NotifyAlert, Text: "сбой"}))

	require.Equal(t, 2, n.Flush(ctx, 20*time.Millisecond))
	require.Len(t, rec.To(-100), 2)
	require.Zero(t, q.Len())
	require.Zero(t, n.Flush(ctx, 20*time.Millisecond))
}

func TestAttachmentMedia(t *testing.T) {
	media, ok := AttachmentMedia("photo:abc")
	require.True(t, ok)
	require.Equal(t, domain.Media{Kind: domain.MediaFileID, Ref: "abc"}, media)

	_, ok = AttachmentMedia("voice:abc")
	require.False(t, ok)
	_, ok = AttachmentMedia("photo:")
	require.False(t, ok)
}
