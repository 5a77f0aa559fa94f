package hunter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"remont-lead-bot/internal/adapters/repo"
	"remont-lead-bot/internal/adapters/scorer"
	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/cache"
	"remont-lead-bot/internal/infra/queue"
)

const hotPost = "Кто узаконивал перепланировку в ЖК Символ? Пришло предписание МЖИ, корпус 3. Сколько стоит?"

type fakeSource struct {
	mu       sync.Mutex
	messages map[int64][]domain.SourceMessage
	fetchErr map[int64]error
	resolved map[string]domain.ResolvedSource
	failures map[string][]error
	resolves int
	fetches  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages: map[int64][]domain.SourceMessage{},
		fetchErr: map[int64]error{},
		resolved: map[string]domain.ResolvedSource{},
		failures: map[string][]error{},
	}
}

func (s *fakeSource) FetchMessages(_ context.Context, t domain.TargetResource, afterID int64, limit int) ([]domain.SourceMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if err := s.fetchErr[t.ID]; err != nil {
		return nil, err
	}
	var out []domain.SourceMessage
	for _, m := range s.messages[t.ID] {
		if m.ID > afterID && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeSource) Resolve(_ context.Context, link string) (domain.ResolvedSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolves++
	if errs := s.failures[link]; len(errs) > 0 {
		s.failures[link] = errs[1:]
		return domain.ResolvedSource{}, errs[0]
	}
	src, ok := s.resolved[link]
	if !ok {
		return domain.ResolvedSource{}, &domain.ResolveError{Kind: domain.ResolveNotFound, Link: link, Err: errors.New("USERNAME_NOT_OCCUPIED")}
	}
	return src, nil
}

type env struct {
	store  *repo.Memory
	source *fakeSource
	queue  *queue.Memory
	hunter *Hunter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	vocab := DefaultVocabulary()
	filter, err := NewFilter(vocab)
	require.NoError(t, err)
	e := &env{store: repo.NewMemory(), source: newFakeSource(), queue: queue.NewMemory(16)}
	sc := scorer.NewLLM(nil, scorer.Rules{Critical: vocab.Critical, Technical: vocab.Technical}, zerolog.Nop())
	e.hunter = New(e.store, e.source, sc, e.queue, cache.NewMemorySeenSet(100), filter, Config{HotThreshold: 7}, zerolog.Nop())
	return e
}

func (e *env) target(t *testing.T, link string) domain.TargetResource {
	t.Helper()
	target, _, err := e.store.UpsertTarget(context.Background(), domain.TargetResource{Link: link, Title: "Соседи", Status: domain.TargetActive})
	require.NoError(t, err)
	return target
}

func (e *env) notifications(t *testing.T) []domain.Notification {
	t.Helper()
	var out []domain.Notification
	for e.queue.Len() > 0 {
		n, ack, err := e.queue.Receive(context.Background())
		require.NoError(t, err)
		require.NoError(t, ack(true))
		out = append(out, n)
	}
	return out
}

func TestDuplicatePostYieldsOneObservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target := e.target(t, "https://t.me/sosedi_simvol")
	msg := domain.SourceMessage{ID: 10, TargetID: target.ID, URL: "https://t.me/sosedi_simvol/10", Text: hotPost}

	outcome, err := e.hunter.Process(ctx, target, msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeHot, outcome)

	outcome, err = e.hunter.Process(ctx, target, msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	obs := e.store.Observations()
	require.Len(t, obs, 1)
	require.GreaterOrEqual(t, obs[0].Hotness, 7)
	require.Equal(t, domain.PainEnforcement, obs[0].PainStage)
	require.Equal(t, "ЖК Символ, корпус 3", obs[0].Geo)
	require.Equal(t, "rules", obs[0].ScoredBy)

	hot := e.notifications(t)
	require.Len(t, hot, 1)
	require.Equal(t, domain.NotifyHotLead, hot[0].Kind)
	require.Contains(t, hot[0].Text, "ST-4")
	require.Contains(t, hot[0].Text, "ЖК Символ")
	require.Contains(t, hot[0].Text, msg.URL)
}

func TestStoreDeduplicatesAfterRestart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target := e.target(t, "https://t.me/sosedi_simvol")
	msg := domain.SourceMessage{ID: 10, URL: "https://t.me/sosedi_simvol/10", Text: hotPost}
	_, err := e.hunter.Process(ctx, target, msg)
	require.NoError(t, err)

	filter, err := NewFilter(DefaultVocabulary())
	require.NoError(t, err)
	fresh := New(e.store, e.source, scorer.NewLLM(nil, scorer.DefaultRules(), zerolog.Nop()), e.queue,
		cache.NewMemorySeenSet(100), filter, Config{}, zerolog.Nop())
	outcome, err := fresh.Process(ctx, target, msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)
	require.Len(t, e.store.Observations(), 1)
}

func TestWarmFillsSeenSet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.store.InsertObservation(ctx, domain.HunterObservation{URL: "https://t.me/a/1"})
	require.NoError(t, err)
	seen := cache.NewMemorySeenSet(10)
	filter, err := NewFilter(DefaultVocabulary())
	require.NoError(t, err)
	h := New(e.store, e.source, scorer.NewLLM(nil, scorer.DefaultRules(), zerolog.Nop()), e.queue, seen, filter, Config{}, zerolog.Nop())

	require.NoError(t, h.Warm(ctx))
	ok, err := seen.Seen(ctx, "https://t.me/a/1")
	require.NoError(t, err)
	require.True(t, ok)
}

type flakyScorer struct {
	domain.Scorer
	failures int
}

func (s *flakyScorer) Score(ctx context.Context, text string) (domain.Assessment, error) {
	if s.failures > 0 {
		s.failures--
		return domain.Assessment{}, context.DeadlineExceeded
	}
	return s.Scorer.Score(ctx, text)
}

func TestFailedScoreLeavesNoObservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	vocab := DefaultVocabulary()
	filter, err := NewFilter(vocab)
	require.NoError(t, err)
	sc := &flakyScorer{Scorer: scorer.NewLLM(nil, scorer.Rules{Critical: vocab.Critical, Technical: vocab.Technical}, zerolog.Nop()), failures: 1}
	h := New(e.store, e.source, sc, e.queue, cache.NewMemorySeenSet(100), filter, Config{HotThreshold: 7}, zerolog.Nop())
	target := e.target(t, "https://t.me/sosedi_simvol")
	e.source.messages[target.ID] = []domain.SourceMessage{{ID: 10, URL: "https://t.me/sosedi_simvol/10", Text: hotPost}}

	_, err = h.Tick(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, e.store.Observations())
	got, err := e.store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	require.Zero(t, got.LastMessageID)

	report, err := h.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Hot)
	obs := e.store.Observations()
	require.Len(t, obs, 1)
	require.Equal(t, "rules", obs[0].ScoredBy)
	require.GreaterOrEqual(t, obs[0].Hotness, 7)
}

func TestTickAdvancesAndDiscovers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target := e.target(t, "https://t.me/sosedi_simvol")
	e.source.messages[target.ID] = []domain.SourceMessage{
		{ID: 5, URL: "https://t.me/sosedi_simvol/5", Text: "Привет всем"},
		{ID: 6, URL: "https://t.me/sosedi_simvol/6", Text: "Заходите в чат ремонта https://t.me/remont_chat и t.me/+AbCdEf"},
		{ID: 7, URL: "https://t.me/sosedi_simvol/7", Text: hotPost},
		{ID: 8, URL: "https://t.me/sosedi_simvol/8", Text: "Как согласовать перепланировку санузла с переносом стояка?"},
	}
	e.source.resolved["https://t.me/remont_chat"] = domain.ResolvedSource{Title: "Ремонт", Username: "remont_chat", PeerID: 77}

	report, err := e.hunter.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Targets)
	require.Equal(t, 4, report.Messages)
	require.Equal(t, 2, report.Observations)
	require.Equal(t, 1, report.Hot)
	require.Equal(t, 2, report.Discovered)

	got, err := e.store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	require.EqualValues(t, 8, got.LastMessageID)
	require.NotNil(t, got.LastScannedAt)

	require.Equal(t, 2, e.hunter.Pending())
	added, err := e.hunter.DrainResolveQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, added)
	found, err := e.store.FindTargetByLink(ctx, "https://t.me/remont_chat")
	require.NoError(t, err)
	require.Equal(t, domain.TargetPending, found.Status)
	require.Equal(t, "Ремонт", found.Title)

	report, err = e.hunter.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Messages)
	require.Len(t, e.store.Observations(), 2)
}

func TestPermanentFetchErrorArchivesTarget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target := e.target(t, "https://t.me/closed_chat")
	e.source.fetchErr[target.ID] = domain.Permanent("mtproto: history", errors.New("CHANNEL_PRIVATE"))

	_, err := e.hunter.Tick(ctx)
	require.NoError(t, err)
	got, err := e.store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TargetArchived, got.Status)
	alerts := e.notifications(t)
	require.Len(t, alerts, 1)
	require.Equal(t, domain.NotifyAlert, alerts[0].Kind)
}

func TestTransientFetchErrorKeepsTarget(t *testing.T) {
	e := newEnv(t)
	target := e.target(t, "https://t.me/flaky_chat")
	e.source.fetchErr[target.ID] = domain.Transient("mtproto: history", errors.New("timeout"))

	_, err := e.hunter.Tick(context.Background())
	require.NoError(t, err)
	got, err := e.store.GetTarget(context.Background(), target.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TargetActive, got.Status)
	require.Empty(t, e.notifications(t))
}

func TestAddTarget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.source.resolved["https://t.me/remont_chat"] = domain.ResolvedSource{Title: "Ремонт", Username: "remont_chat"}

	got, err := e.hunter.AddTarget(ctx, "@Remont_Chat")
	require.NoError(t, err)
	require.Equal(t, domain.TargetActive, got.Status)
	require.Equal(t, "https://t.me/remont_chat", got.Link)

	again, err := e.hunter.AddTarget(ctx, "https://t.me/remont_chat/15")
	require.NoError(t, err)
	require.Equal(t, got.ID, again.ID)

	_, err = e.hunter.AddTarget(ctx, "https://t.me/missing_chat")
	var re *domain.ResolveError
	require.ErrorAs(t, err, &re)
	require.Equal(t, domain.ResolveNotFound, re.Kind)

	_, err = e.hunter.AddTarget(ctx, "просто текст")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func transportFailure(link string) error {
	return &domain.ResolveError{Kind: domain.ResolveTransport, Link: link, Err: domain.Transient("mtproto: resolve", errors.New("RPC_CALL_FAIL"))}
}

func TestTransientResolveKeepsLinkQueued(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.source.resolved["https://t.me/remont_chat"] = domain.ResolvedSource{Title: "Ремонт", Username: "remont_chat"}
	e.source.failures["https://t.me/remont_chat"] = []error{transportFailure("https://t.me/remont_chat")}
	require.True(t, e.hunter.enqueue("https://t.me/missing_chat"))
	require.True(t, e.hunter.enqueue("https://t.me/remont_chat"))

	added, err := e.hunter.DrainResolveQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, added)
	require.Equal(t, 1, e.hunter.Pending())
	require.False(t, e.hunter.enqueue("https://t.me/remont_chat"))

	added, err = e.hunter.DrainResolveQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, added)
	require.Zero(t, e.hunter.Pending())
	found, err := e.store.FindTargetByLink(ctx, "https://t.me/remont_chat")
	require.NoError(t, err)
	require.Equal(t, domain.TargetPending, found.Status)
	require.Equal(t, 3, e.source.resolves)
}

func TestResolveDeadlineKeepsLinkQueued(t *testing.T) {
	e := newEnv(t)
	e.source.failures["https://t.me/remont_chat"] = []error{context.DeadlineExceeded}
	require.True(t, e.hunter.enqueue("https://t.me/remont_chat"))

	added, err := e.hunter.DrainResolveQueue(context.Background())
	require.NoError(t, err)
	require.Zero(t, added)
	require.Equal(t, 1, e.hunter.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	added, err = e.hunter.DrainResolveQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, added)
	require.Equal(t, 1, e.hunter.Pending())
	require.Equal(t, 1, e.source.resolves)
}

func TestAddTargetQueuesOnTransportFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	link := "https://t.me/remont_chat"
	e.source.resolved[link] = domain.ResolvedSource{Title: "Ремонт", Username: "remont_chat"}
	e.source.failures[link] = []error{transportFailure(link)}
	require.True(t, e.hunter.enqueue(link))

	got, err := e.hunter.AddTarget(ctx, "@remont_chat")
	require.ErrorIs(t, err, ErrResolveQueued)
	require.Equal(t, link, got.Link)
	require.Equal(t, 1, e.hunter.Pending())

	added, err := e.hunter.DrainResolveQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, added)
	found, err := e.store.FindTargetByLink(ctx, link)
	require.NoError(t, err)
	require.Equal(t, domain.TargetActive, found.Status)
}

func TestScanChatsKeepsPosition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target := e.target(t, "https://t.me/sosedi_simvol")
	require.NoError(t, e.store.UpdateTargetLastID(ctx, target.ID, 20, e.hunter.now()))
	e.source.messages[target.ID] = []domain.SourceMessage{{ID: 19, Text: "смотрите t.me/remont_chat"}}

	found, err := e.hunter.ScanChats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, found)
	got, err := e.store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	require.EqualValues(t, 20, got.LastMessageID)
	require.Empty(t, e.store.Observations())
}

func TestFilter(t *testing.T) {
	f, err := NewFilter(DefaultVocabulary())
	require.NoError(t, err)
	tests := []struct {
		name string
		text string
		want Reason
	}{
		{"вопрос о перепланировке", "Подскажите, как узаконить перепланировку кухни с гостиной", ReasonPass},
		{"коммерческий интерес без вопроса", "Ищу компанию для согласования перепланировки в нашей квартире", ReasonPass},
		{"короткое", "Перепланировка?", ReasonShort},
		{"только ссылки", "https://t.me/a https://t.me/b https://t.me/c @user перепланировка", ReasonShort},
		{"нет ключевых слов", "Кто знает хорошего стоматолога в нашем районе?", ReasonKeywords},
		{"нет вопроса", "Закончили перепланировку в прошлом месяце всем довольны", ReasonNoIntent},
		{"мусор", "Продам квартиру после перепланировки, сколько стоит узнать в лс?", ReasonJunk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, f.Check(tt.text).Reason)
		})
	}
	require.Equal(t, "technical", f.Check("Можно ли переносить несущую стену при перепланировке квартиры?").Intent())
}

func TestGeo(t *testing.T) {
	f, err := NewFilter(Vocabulary{Complexes: []string{"Лесной квартал"}})
	require.NoError(t, err)
	tests := []struct {
		text string
		want string
	}{
		{"Живу в ЖК «Символ», корпус 2б", "ЖК Символ, корпус 2б"},
		{"у нас в Лесной квартал проблема", "ЖК Лесной квартал"},
		{"просто квартира", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, f.Geo(tt.text), tt.text)
	}
}

func TestParseVocabulary(t *testing.T) {
	v, err := ParseVocabulary([]byte("keywords: [ремонт]\ncomplexes:\n  - Символ\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"ремонт"}, v.Keywords)
	require.Equal(t, []string{"Символ"}, v.Complexes)
	require.Equal(t, DefaultVocabulary().Junk, v.Junk)

	_, err = ParseVocabulary([]byte("keywords: {"))
	require.Error(t, err)

	_, err = NewFilter(Vocabulary{Questions: []string{"("}})
	require.Error(t, err)
}

func TestExtractLinks(t *testing.T) {
	got := ExtractLinks("чаты: t.me/Remont_Chat, https://t.me/joinchat/AbC-1 и https://t.me/c/123/4, снова @x и t.me/remont_chat/5")
	require.Equal(t, []string{"https://t.me/remont_chat", "https://t.me/+AbC-1"}, got)
}
