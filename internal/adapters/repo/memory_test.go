package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remont-lead-bot/internal/domain"
)

func consentedUser(t *testing.T, m *Memory, ext int64) domain.User {
	t.Helper()
	ctx := context.Background()
	u, err := m.GetOrCreateUser(ctx, ext, domain.Profile{DisplayName: "Anna"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := m.GrantConsent(ctx, u.ID, time.Now(), domain.ModeQuiz{Stage: domain.StageCity}); err != nil {
		t.Fatalf("consent: %v", err)
	}
	u, _ = m.GetUser(ctx, ext)
	return u
}

func TestGetOrCreateUserConcurrent(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	ids := make([]int64, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := m.GetOrCreateUser(context.Background(), 100, domain.Profile{})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("ids differ: %v", ids)
		}
	}
}

func TestModeRequiresConsent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u, _ := m.GetOrCreateUser(ctx, 1, domain.Profile{})
	if err := m.SetUserMode(ctx, u.ID, domain.ModeDialog{}); !errors.Is(err, domain.ErrConsentRequired) {
		t.Fatalf("err = %v", err)
	}
	if err := m.SetUserMode(ctx, u.ID, domain.ModeNone{}); err != nil {
		t.Fatalf("none mode must be allowed: %v", err)
	}
	if err := m.AppendDialog(ctx, u.ID, domain.DialogUser, "hi"); !errors.Is(err, domain.ErrConsentRequired) {
		t.Fatalf("dialog err = %v", err)
	}
}

func TestAppendQuizAnswerStrictOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u := consentedUser(t, m, 101)

	if _, err := m.AppendQuizAnswer(ctx, u.ID, 2, "residential"); !errors.Is(err, domain.ErrOutOfOrder) {
		t.Fatalf("err = %v", err)
	}
	if n := m.CountResponses(u.ID); n != 0 {
		t.Fatalf("responses = %d", n)
	}
	if _, err := m.AppendQuizAnswer(ctx, u.ID, 1, "Moscow"); err != nil {
		t.Fatalf("q1: %v", err)
	}
	if _, err := m.AppendQuizAnswer(ctx, u.ID, 1, "Moscow"); !errors.Is(err, domain.ErrOutOfOrder) {
		t.Fatalf("duplicate answer err = %v", err)
	}
	if _, err := m.AppendQuizAnswer(ctx, u.ID, 2, "spaceship"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("invalid type err = %v", err)
	}
	got, _ := m.GetUser(ctx, 101)
	if got.Mode != (domain.ModeQuiz{Stage: domain.StageType}) {
		t.Fatalf("mode = %#v", got.Mode)
	}
}

func TestSealQuizAtomic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u := consentedUser(t, m, 102)

	if _, err := m.SealQuiz(ctx, u.ID, "ads"); !errors.Is(err, domain.ErrIncomplete) {
		t.Fatalf("err = %v", err)
	}
	answers := []string{"Moscow", "residential", "5", "72", "planned", "add bathroom", ""}
	for i, a := range answers {
		if _, err := m.AppendQuizAnswer(ctx, u.ID, i+1, a); err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
	}
	lead, err := m.SealQuiz(ctx, u.ID, "ads")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if lead.Response.ObjectType != domain.ObjectResidential || lead.Response.Area == nil || *lead.Response.Area != 72 {
		t.Fatalf("lead = %+v", lead.Response)
	}
	if !lead.Response.Sealed() || lead.Status != domain.LeadNew || lead.Source != "ads" {
		t.Fatalf("lead = %+v", lead)
	}
	got, _ := m.GetUser(ctx, 102)
	if _, ok := got.Mode.(domain.ModeNone); !ok {
		t.Fatalf("mode = %#v", got.Mode)
	}
	if _, err := m.SealQuiz(ctx, u.ID, "ads"); !errors.Is(err, domain.ErrIncomplete) {
		t.Fatalf("second seal err = %v", err)
	}
	leads, _ := m.ListLeads(ctx, time.Time{}, 0)
	if len(leads) != 1 {
		t.Fatalf("leads = %d", len(leads))
	}
}

func TestContentHashDedupConcurrent(t *testing.T) {
	m := NewMemory()
	actor := domain.Actor{ID: 1, Role: domain.RoleAuthor}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		dups int
	)
	bodies := []string{"Перепланировка  квартиры!", "перепланировка квартиры"}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.InsertContentItem(context.Background(), domain.ContentItem{Channel: domain.ChannelMain, Body: bodies[i%2], Status: domain.ContentDraft}, actor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrDuplicateHash):
				dups++
			default:
				t.Errorf("unexpected: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok != 1 || dups != 9 {
		t.Fatalf("ok=%d dups=%d", ok, dups)
	}
}

func TestFailedContentFreesHash(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	admin := domain.Actor{ID: 1, Role: domain.RoleAdmin}
	id, err := m.InsertContentItem(ctx, domain.ContentItem{Channel: domain.ChannelMain, Body: "B", Status: domain.ContentDraft}, admin)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := m.TransitionContent(ctx, domain.ContentTransition{ID: id, From: domain.ContentDraft, To: domain.ContentFailed, Actor: domain.SystemActor}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := m.InsertContentItem(ctx, domain.ContentItem{Channel: domain.ChannelMain, Body: "B", Status: domain.ContentDraft}, admin); err != nil {
		t.Fatalf("reinsert after failed: %v", err)
	}
}

func TestTransitionContentCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	editor := domain.Actor{ID: 2, Role: domain.RoleEditor}
	id, _ := m.InsertContentItem(ctx, domain.ContentItem{Channel: domain.ChannelAll, Body: "text", Status: domain.ContentDraft}, editor)

	if _, err := m.TransitionContent(ctx, domain.ContentTransition{ID: id, From: domain.ContentReview, To: domain.ContentApproved, Actor: editor}); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("stale from err = %v", err)
	}
	if _, err := m.TransitionContent(ctx, domain.ContentTransition{ID: id, From: domain.ContentDraft, To: domain.ContentPublished, Actor: editor}); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("graph err = %v", err)
	}
	if _, err := m.TransitionContent(ctx, domain.ContentTransition{ID: id, From: domain.ContentDraft, To: domain.ContentReview, Actor: editor}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.TransitionContent(ctx, domain.ContentTransition{ID: id, From: domain.ContentReview, To: domain.ContentApproved, Actor: editor})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d", wins)
	}

	at := time.Now().Add(time.Hour)
	it, err := m.TransitionContent(ctx, domain.ContentTransition{
		ID: id, From: domain.ContentApproved, To: domain.ContentScheduled, Actor: editor, ScheduledAt: &at,
		Posts: []domain.ScheduledPost{{Channel: domain.ChannelMain, Text: "text", ScheduledAt: at}},
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if it.ScheduledAt == nil || it.PublishedAt != nil {
		t.Fatalf("timestamps = %v %v", it.ScheduledAt, it.PublishedAt)
	}
	admin := domain.Actor{ID: 3, Role: domain.RoleAdmin}
	it, err = m.TransitionContent(ctx, domain.ContentTransition{ID: id, From: domain.ContentScheduled, To: domain.ContentApproved, Actor: admin})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if it.ScheduledAt != nil {
		t.Fatal("scheduled_at must be cleared")
	}
	if posts := m.Posts(id); len(posts) != 0 {
		t.Fatalf("pending posts survived revoke: %d", len(posts))
	}
	if len(it.Audit) != 5 {
		t.Fatalf("audit entries = %d", len(it.Audit))
	}
}

func TestClaimScheduledPostOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, _ := m.InsertContentItem(ctx, domain.ContentItem{Channel: domain.ChannelMain, Body: "x", Status: domain.ContentDraft}, domain.Actor{ID: 1, Role: domain.RoleAdmin})
	posts, err := m.InsertScheduledPosts(ctx, []domain.ScheduledPost{{ContentID: id, Channel: domain.ChannelMain, Text: "x", ScheduledAt: time.Now()}})
	if err != nil {
		t.Fatalf("insert posts: %v", err)
	}
	first, _ := m.ClaimScheduledPost(ctx, posts[0].ID)
	second, _ := m.ClaimScheduledPost(ctx, posts[0].ID)
	if !first || second {
		t.Fatalf("claims = %v %v", first, second)
	}
	if err := m.MarkPostSent(ctx, posts[0].ID, "tg:1", time.Now()); err != nil {
		t.Fatalf("sent: %v", err)
	}
	if err := m.MarkPostSent(ctx, posts[0].ID, "tg:1", time.Now()); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("second sent err = %v", err)
	}
}

func TestInsertScheduledPostsOncePerContent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, _ := m.InsertContentItem(ctx, domain.ContentItem{Channel: domain.ChannelMain, Body: "x", Status: domain.ContentDraft}, domain.Actor{ID: 1, Role: domain.RoleAdmin})
	post := domain.ScheduledPost{ContentID: id, Channel: domain.ChannelMain, Text: "x", ScheduledAt: time.Now()}
	first, err := m.InsertScheduledPosts(ctx, []domain.ScheduledPost{post})
	if err != nil {
		t.Fatalf("insert posts: %v", err)
	}
	if _, err := m.InsertScheduledPosts(ctx, []domain.ScheduledPost{post}); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("second insert err = %v", err)
	}
	if err := m.MarkPostFailed(ctx, first[0].ID, "banned"); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if _, err := m.InsertScheduledPosts(ctx, []domain.ScheduledPost{post}); err != nil {
		t.Fatalf("insert after failure: %v", err)
	}
}

func TestDueScheduledPostsOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, _ := m.InsertContentItem(ctx, domain.ContentItem{Channel: domain.ChannelAll, Body: "x", Status: domain.ContentDraft}, domain.Actor{ID: 1, Role: domain.RoleAdmin})
	now := time.Now()
	_, _ = m.InsertScheduledPosts(ctx, []domain.ScheduledPost{
		{ContentID: id, Channel: domain.ChannelWall, ScheduledAt: now.Add(-time.Minute)},
		{ContentID: id, Channel: domain.ChannelMain, ScheduledAt: now.Add(-time.Hour)},
		{ContentID: id, Channel: domain.ChannelSecond, ScheduledAt: now.Add(time.Hour)},
	})
	due, err := m.DueScheduledPosts(ctx, now, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 || due[0].Channel != domain.ChannelMain || due[1].Channel != domain.ChannelWall {
		t.Fatalf("due = %+v", due)
	}
}

func TestTargetLastIDMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	target, created, err := m.UpsertTarget(ctx, domain.TargetResource{Link: "https://t.me/jk_chat", Status: domain.TargetActive})
	if err != nil || !created {
		t.Fatalf("upsert: %v %v", created, err)
	}
	if _, created, _ := m.UpsertTarget(ctx, domain.TargetResource{Link: "https://t.me/jk_chat"}); created {
		t.Fatal("link must be unique")
	}
	for _, id := range []int64{10, 5, 30, 7} {
		if err := m.UpdateTargetLastID(ctx, target.ID, id, time.Now()); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	got, _ := m.GetTarget(ctx, target.ID)
	if got.LastMessageID != 30 {
		t.Fatalf("last id = %d", got.LastMessageID)
	}
}

func TestInsertObservationDedup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	obs := domain.HunterObservation{URL: "https://t.me/c/1/5", Excerpt: "x"}
	first, _ := m.InsertObservation(ctx, obs)
	second, _ := m.InsertObservation(ctx, obs)
	if !first || second {
		t.Fatalf("inserted = %v %v", first, second)
	}
	if n := len(m.Observations()); n != 1 {
		t.Fatalf("observations = %d", n)
	}
}

func TestStaleQuizUsers(t *testing.T) {
	clock := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	u := consentedUser(t, m, 200)

	clock = clock.Add(3 * time.Hour)
	stale, _ := m.ListStaleQuizUsers(ctx, clock.Add(-2*time.Hour), 10)
	if len(stale) != 1 || stale[0].ID != u.ID {
		t.Fatalf("stale = %+v", stale)
	}
	_ = m.MarkReminded(ctx, u.ID, clock)
	stale, _ = m.ListStaleQuizUsers(ctx, clock.Add(-2*time.Hour), 10)
	if len(stale) != 0 {
		t.Fatalf("reminded user listed again: %+v", stale)
	}
}
