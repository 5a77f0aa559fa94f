package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"remont-lead-bot/internal/domain"
)

// Memory реализует domain.Store в памяти процесса. Все операции сериализуются одним мьютексом.
type Memory struct {
	mu  sync.Mutex
	now func() time.Time

	seq        int64
	users      map[int64]*domain.User
	byExternal map[int64]int64
	responses  map[int64]*domain.QuizResponse
	leads      []*domain.Lead
	content    map[int64]*domain.ContentItem
	posts      map[int64]*domain.ScheduledPost
	targets    map[int64]*domain.TargetResource
	obs        map[string]*domain.HunterObservation
	obsOrder   []string
	dialog     map[int64][]domain.DialogMessage
	audit      []domain.AuditEntry
	sessions   map[string][]byte
	closed     bool
}

var _ domain.Store = (*Memory)(nil)

// MemoryOption настраивает хранилище.
type MemoryOption func(*Memory)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory создаёт пустое хранилище.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:        time.Now,
		users:      make(map[int64]*domain.User),
		byExternal: make(map[int64]int64),
		responses:  make(map[int64]*domain.QuizResponse),
		content:    make(map[int64]*domain.ContentItem),
		posts:      make(map[int64]*domain.ScheduledPost),
		targets:    make(map[int64]*domain.TargetResource),
		obs:        make(map[string]*domain.HunterObservation),
		dialog:     make(map[int64][]domain.DialogMessage),
		sessions:   make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrStoreUnavailable
	}
	return nil
}

// Ping реализует domain.Store.
func (m *Memory) Ping(context.Context) error {
	if err := m.lock(); err != nil {
		return err
	}
	m.mu.Unlock()
	return nil
}

// Close делает хранилище недоступным.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func copyUser(u *domain.User) domain.User {
	out := *u
	out.Scratch = make(map[string]string, len(u.Scratch))
	for k, v := range u.Scratch {
		out.Scratch[k] = v
	}
	return out
}

func copyResponse(r *domain.QuizResponse) domain.QuizResponse {
	out := *r
	if r.Area != nil {
		a := *r.Area
		out.Area = &a
	}
	return out
}

// GetOrCreateUser реализует domain.UserRepo.
func (m *Memory) GetOrCreateUser(_ context.Context, externalID int64, profile domain.Profile) (domain.User, error) {
	if err := m.lock(); err != nil {
		return domain.User{}, err
	}
	defer m.mu.Unlock()
	if id, ok := m.byExternal[externalID]; ok {
		return copyUser(m.users[id]), nil
	}
	now := m.now()
	u := &domain.User{
		ID:          m.nextID(),
		ExternalID:  externalID,
		DisplayName: profile.DisplayName,
		Username:    profile.Username,
		Source:      profile.Source,
		Mode:        domain.ModeNone{},
		Scratch:     map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.users[u.ID] = u
	m.byExternal[externalID] = u.ID
	return copyUser(u), nil
}

// GetUser реализует domain.UserRepo.
func (m *Memory) GetUser(_ context.Context, externalID int64) (domain.User, error) {
	if err := m.lock(); err != nil {
		return domain.User{}, err
	}
	defer m.mu.Unlock()
	id, ok := m.byExternal[externalID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return copyUser(m.users[id]), nil
}

func (m *Memory) user(id int64) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: пользователь %d", domain.ErrNotFound, id)
	}
	return u, nil
}

func (m *Memory) consented(id int64) (*domain.User, error) {
	u, err := m.user(id)
	if err != nil {
		return nil, err
	}
	if !u.Consent {
		return nil, domain.ErrConsentRequired
	}
	return u, nil
}

// SetUserMode реализует domain.UserRepo.
func (m *Memory) SetUserMode(_ context.Context, userID int64, mode domain.Mode) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	if requiresConsent(mode) && !u.Consent {
		return domain.ErrConsentRequired
	}
	u.Mode = mode
	u.UpdatedAt = m.now()
	return nil
}

// GrantConsent реализует domain.UserRepo.
func (m *Memory) GrantConsent(_ context.Context, userID int64, at time.Time, next domain.Mode) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	u.Consent = true
	ts := at
	u.ConsentAt = &ts
	u.Mode = next
	u.UpdatedAt = m.now()
	return nil
}

// SetContact реализует domain.UserRepo.
func (m *Memory) SetContact(_ context.Context, userID int64, phone, name string, next domain.Mode) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	u, err := m.consented(userID)
	if err != nil {
		return err
	}
	u.Phone = phone
	if name != "" {
		u.DisplayName = name
	}
	u.Mode = next
	u.UpdatedAt = m.now()
	return nil
}

// SetScratch реализует domain.UserRepo.
func (m *Memory) SetScratch(_ context.Context, userID int64, key, value string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	u, err := m.consented(userID)
	if err != nil {
		return err
	}
	if value == "" {
		delete(u.Scratch, key)
	} else {
		u.Scratch[key] = value
	}
	return nil
}

// ListStaleQuizUsers реализует domain.UserRepo.
func (m *Memory) ListStaleQuizUsers(_ context.Context, idleSince time.Time, limit int) ([]domain.User, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.users {
		quiz, ok := u.Mode.(domain.ModeQuiz)
		if !ok || quiz.Stage < domain.StageAwaitContact || quiz.Stage > domain.StageAttachment {
			continue
		}
		if !u.UpdatedAt.Before(idleSince) {
			continue
		}
		if u.RemindedAt != nil && !u.RemindedAt.Before(u.UpdatedAt) {
			continue
		}
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkReminded реализует domain.UserRepo.
func (m *Memory) MarkReminded(_ context.Context, userID int64, at time.Time) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	ts := at
	u.RemindedAt = &ts
	return nil
}

func (m *Memory) openResponse(userID int64) *domain.QuizResponse {
	for _, r := range m.responses {
		if r.UserID == userID && !r.Sealed() {
			return r
		}
	}
	return nil
}

// StartQuiz реализует domain.QuizRepo.
func (m *Memory) StartQuiz(_ context.Context, userID int64, stage domain.QuizStage) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	u, err := m.consented(userID)
	if err != nil {
		return err
	}
	if open := m.openResponse(userID); open != nil {
		delete(m.responses, open.ID)
	}
	u.Mode = domain.ModeQuiz{Stage: stage}
	u.UpdatedAt = m.now()
	return nil
}

// AppendQuizAnswer реализует domain.QuizRepo.
func (m *Memory) AppendQuizAnswer(_ context.Context, userID int64, step int, value string) (domain.QuizResponse, error) {
	if err := m.lock(); err != nil {
		return domain.QuizResponse{}, err
	}
	defer m.mu.Unlock()
	u, err := m.consented(userID)
	if err != nil {
		return domain.QuizResponse{}, err
	}
	open := m.openResponse(userID)
	answered := 0
	if open != nil {
		answered = open.Answered
	}
	if err := checkStep(*u, answered, step); err != nil {
		return domain.QuizResponse{}, err
	}
	draft := domain.QuizResponse{UserID: userID, CreatedAt: m.now()}
	if open != nil {
		draft = copyResponse(open)
	}
	if err := applyAnswer(&draft, step, value); err != nil {
		return domain.QuizResponse{}, err
	}
	if open == nil {
		draft.ID = m.nextID()
	}
	stored := draft
	m.responses[stored.ID] = &stored
	u.Mode = domain.ModeQuiz{Stage: nextStage(step)}
	u.UpdatedAt = m.now()
	return copyResponse(&stored), nil
}

// CurrentQuiz реализует domain.QuizRepo.
func (m *Memory) CurrentQuiz(_ context.Context, userID int64) (domain.QuizResponse, error) {
	if err := m.lock(); err != nil {
		return domain.QuizResponse{}, err
	}
	defer m.mu.Unlock()
	open := m.openResponse(userID)
	if open == nil {
		return domain.QuizResponse{}, domain.ErrNotFound
	}
	return copyResponse(open), nil
}

// SealQuiz реализует domain.QuizRepo.
func (m *Memory) SealQuiz(_ context.Context, userID int64, source string) (domain.Lead, error) {
	if err := m.lock(); err != nil {
		return domain.Lead{}, err
	}
	defer m.mu.Unlock()
	u, err := m.consented(userID)
	if err != nil {
		return domain.Lead{}, err
	}
	open := m.openResponse(userID)
	if open == nil || open.Answered < domain.QuizQuestions {
		return domain.Lead{}, domain.ErrIncomplete
	}
	now := m.now()
	sealedAt := now
	open.SealedAt = &sealedAt
	if source == "" {
		source = u.Source
	}
	lead := &domain.Lead{
		ID:         m.nextID(),
		UserID:     userID,
		ResponseID: open.ID,
		Response:   copyResponse(open),
		Phone:      u.Phone,
		Name:       u.DisplayName,
		Source:     source,
		Status:     domain.LeadNew,
		CreatedAt:  now,
	}
	m.leads = append(m.leads, lead)
	u.Mode = domain.ModeNone{}
	u.UpdatedAt = now
	return *lead, nil
}

// ListLeads реализует domain.QuizRepo.
func (m *Memory) ListLeads(_ context.Context, since time.Time, limit int) ([]domain.Lead, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []domain.Lead
	for _, l := range m.leads {
		if l.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *l)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LastLead реализует domain.QuizRepo.
func (m *Memory) LastLead(_ context.Context, userID int64) (domain.Lead, error) {
	if err := m.lock(); err != nil {
		return domain.Lead{}, err
	}
	defer m.mu.Unlock()
	for i := len(m.leads) - 1; i >= 0; i-- {
		if m.leads[i].UserID == userID {
			return *m.leads[i], nil
		}
	}
	return domain.Lead{}, domain.ErrNotFound
}

// CountResponses количество анкет пользователя (включая незапечатанную).
func (m *Memory) CountResponses(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.responses {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

func (m *Memory) hashTaken(hash string, except int64) bool {
	for _, it := range m.content {
		if it.ID != except && it.Status != domain.ContentFailed && it.ContentHash == hash {
			return true
		}
	}
	return false
}

func (m *Memory) copyItem(it *domain.ContentItem) domain.ContentItem {
	out := *it
	out.Audit = nil
	for _, e := range m.audit {
		if e.Entity == auditContent && e.EntityID == it.ID {
			out.Audit = append(out.Audit, e)
		}
	}
	return out
}

// InsertContentItem реализует domain.ContentRepo.
func (m *Memory) InsertContentItem(_ context.Context, item domain.ContentItem, actor domain.Actor) (int64, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	if err := checkInsert(item, actor); err != nil {
		return 0, err
	}
	item.ContentHash = domain.ContentHash(item.Body)
	if m.hashTaken(item.ContentHash, 0) {
		return 0, domain.ErrDuplicateHash
	}
	now := m.now()
	item.ID = m.nextID()
	item.AuthorID = actor.ID
	item.ScheduledAt = nil
	item.PublishedAt = nil
	item.Audit = nil
	item.CreatedAt = now
	item.UpdatedAt = now
	stored := item
	m.content[item.ID] = &stored
	m.appendAudit(domain.AuditEntry{Entity: auditContent, EntityID: item.ID, Actor: actor.ID, Role: actor.Role, To: string(item.Status), Note: "создано"})
	return item.ID, nil
}

// GetContentItem реализует domain.ContentRepo.
func (m *Memory) GetContentItem(_ context.Context, id int64) (domain.ContentItem, error) {
	if err := m.lock(); err != nil {
		return domain.ContentItem{}, err
	}
	defer m.mu.Unlock()
	it, ok := m.content[id]
	if !ok {
		return domain.ContentItem{}, fmt.Errorf("%w: контент %d", domain.ErrNotFound, id)
	}
	return m.copyItem(it), nil
}

// ListContent реализует domain.ContentRepo.
func (m *Memory) ListContent(_ context.Context, status domain.ContentStatus, limit int) ([]domain.ContentItem, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []domain.ContentItem
	for _, it := range m.content {
		if status == "" || it.Status == status {
			out = append(out, m.copyItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TransitionContent реализует domain.ContentRepo.
func (m *Memory) TransitionContent(_ context.Context, tr domain.ContentTransition) (domain.ContentItem, error) {
	if err := m.lock(); err != nil {
		return domain.ContentItem{}, err
	}
	defer m.mu.Unlock()
	it, ok := m.content[tr.ID]
	if !ok {
		return domain.ContentItem{}, fmt.Errorf("%w: контент %d", domain.ErrNotFound, tr.ID)
	}
	if it.Status != tr.From {
		return domain.ContentItem{}, fmt.Errorf("%w: текущий статус %s, ожидался %s", domain.ErrIllegalTransition, it.Status, tr.From)
	}
	if err := checkTransition(tr); err != nil {
		return domain.ContentItem{}, err
	}
	next := *it
	if tr.Patch != nil {
		next.Title, next.Body, next.CTA = tr.Patch.Title, tr.Patch.Body, tr.Patch.CTA
		next.ContentHash = domain.ContentHash(next.Body)
		if m.hashTaken(next.ContentHash, it.ID) {
			return domain.ContentItem{}, domain.ErrDuplicateHash
		}
	}
	now := m.now()
	applyStatus(&next, tr, now)
	if tr.From == domain.ContentScheduled && tr.To != domain.ContentPublished {
		for id, p := range m.posts {
			if p.ContentID == it.ID && p.Status == domain.PostPending {
				delete(m.posts, id)
			}
		}
	}
	for _, p := range tr.Posts {
		m.insertPost(p, it.ID, now)
	}
	*it = next
	m.appendAudit(domain.AuditEntry{Entity: auditContent, EntityID: it.ID, Actor: tr.Actor.ID, Role: tr.Actor.Role, From: string(tr.From), To: string(tr.To), Note: tr.Note})
	return m.copyItem(it), nil
}

// SetContentMedia реализует domain.ContentRepo.
func (m *Memory) SetContentMedia(_ context.Context, id int64, ref string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	it, ok := m.content[id]
	if !ok {
		return fmt.Errorf("%w: контент %d", domain.ErrNotFound, id)
	}
	it.MediaRef = ref
	it.UpdatedAt = m.now()
	return nil
}

func (m *Memory) insertPost(p domain.ScheduledPost, contentID int64, now time.Time) domain.ScheduledPost {
	p.ID = m.nextID()
	if contentID != 0 {
		p.ContentID = contentID
	}
	p.Status = domain.PostPending
	p.Attempts = 0
	p.SentAt = nil
	p.CreatedAt = now
	stored := p
	m.posts[p.ID] = &stored
	return stored
}

// InsertScheduledPosts реализует domain.ScheduleRepo.
func (m *Memory) InsertScheduledPosts(_ context.Context, posts []domain.ScheduledPost) ([]domain.ScheduledPost, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	now := m.now()
	out := make([]domain.ScheduledPost, 0, len(posts))
	for _, p := range posts {
		if _, ok := m.content[p.ContentID]; !ok {
			return nil, fmt.Errorf("%w: контент %d", domain.ErrNotFound, p.ContentID)
		}
		if m.hasLivePosts(p.ContentID) {
			return nil, fmt.Errorf("%w: у контента %d уже есть посты", domain.ErrIllegalTransition, p.ContentID)
		}
	}
	for _, p := range posts {
		out = append(out, m.insertPost(p, 0, now))
	}
	return out, nil
}

// hasLivePosts сообщает, есть ли у контента неупавшие посты.
func (m *Memory) hasLivePosts(contentID int64) bool {
	for _, p := range m.posts {
		if p.ContentID == contentID && p.Status != domain.PostFailed {
			return true
		}
	}
	return false
}

// DueScheduledPosts реализует domain.ScheduleRepo.
func (m *Memory) DueScheduledPosts(_ context.Context, now time.Time, limit int) ([]domain.ScheduledPost, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []domain.ScheduledPost
	for _, p := range m.posts {
		if p.Status == domain.PostPending && !p.ScheduledAt.After(now) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimScheduledPost реализует domain.ScheduleRepo.
func (m *Memory) ClaimScheduledPost(_ context.Context, id int64) (bool, error) {
	if err := m.lock(); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.Status != domain.PostPending {
		return false, nil
	}
	p.Status = domain.PostSending
	return true, nil
}

// MarkPostSent реализует domain.ScheduleRepo.
func (m *Memory) MarkPostSent(_ context.Context, id int64, ref string, at time.Time) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return fmt.Errorf("%w: пост %d", domain.ErrNotFound, id)
	}
	if p.Status != domain.PostSending {
		return fmt.Errorf("%w: пост %d в статусе %s", domain.ErrIllegalTransition, id, p.Status)
	}
	ts := at
	p.Status = domain.PostSent
	p.SentAt = &ts
	p.MessageRef = ref
	return nil
}

// MarkPostFailed реализует domain.ScheduleRepo.
func (m *Memory) MarkPostFailed(_ context.Context, id int64, reason string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return fmt.Errorf("%w: пост %d", domain.ErrNotFound, id)
	}
	if p.Status != domain.PostSending && p.Status != domain.PostPending {
		return fmt.Errorf("%w: пост %d в статусе %s", domain.ErrIllegalTransition, id, p.Status)
	}
	p.Status = domain.PostFailed
	p.LastError = reason
	return nil
}

// RecordPostAttempt реализует domain.ScheduleRepo.
func (m *Memory) RecordPostAttempt(_ context.Context, id int64, reason string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return fmt.Errorf("%w: пост %d", domain.ErrNotFound, id)
	}
	p.Attempts++
	p.LastError = reason
	return nil
}

// PostsSummary реализует domain.ScheduleRepo.
func (m *Memory) PostsSummary(_ context.Context, contentID int64) (domain.PostsSummary, error) {
	if err := m.lock(); err != nil {
		return domain.PostsSummary{}, err
	}
	defer m.mu.Unlock()
	var s domain.PostsSummary
	for _, p := range m.posts {
		if p.ContentID != contentID {
			continue
		}
		switch p.Status {
		case domain.PostPending:
			s.Pending++
		case domain.PostSending:
			s.Sending++
		case domain.PostSent:
			s.Sent++
		case domain.PostFailed:
			s.Failed++
		}
	}
	return s, nil
}

// Posts возвращает посты единицы контента в порядке создания.
func (m *Memory) Posts(contentID int64) []domain.ScheduledPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledPost
	for _, p := range m.posts {
		if p.ContentID == contentID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListTargets реализует domain.HunterRepo.
func (m *Memory) ListTargets(_ context.Context, status domain.TargetStatus) ([]domain.TargetResource, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []domain.TargetResource
	for _, t := range m.targets {
		if status == "" || t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTarget реализует domain.HunterRepo.
func (m *Memory) GetTarget(_ context.Context, id int64) (domain.TargetResource, error) {
	if err := m.lock(); err != nil {
		return domain.TargetResource{}, err
	}
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return domain.TargetResource{}, fmt.Errorf("%w: источник %d", domain.ErrNotFound, id)
	}
	return *t, nil
}

// FindTargetByLink реализует domain.HunterRepo.
func (m *Memory) FindTargetByLink(_ context.Context, link string) (domain.TargetResource, error) {
	if err := m.lock(); err != nil {
		return domain.TargetResource{}, err
	}
	defer m.mu.Unlock()
	for _, t := range m.targets {
		if t.Link == link {
			return *t, nil
		}
	}
	return domain.TargetResource{}, domain.ErrNotFound
}

// UpsertTarget реализует domain.HunterRepo.
func (m *Memory) UpsertTarget(_ context.Context, target domain.TargetResource) (domain.TargetResource, bool, error) {
	if err := m.lock(); err != nil {
		return domain.TargetResource{}, false, err
	}
	defer m.mu.Unlock()
	for _, t := range m.targets {
		if t.Link == target.Link {
			return *t, false, nil
		}
	}
	target.ID = m.nextID()
	if target.Status == "" {
		target.Status = domain.TargetPending
	}
	if target.Platform == "" {
		target.Platform = "telegram"
	}
	target.CreatedAt = m.now()
	stored := target
	m.targets[target.ID] = &stored
	return stored, true, nil
}

// SetTargetStatus реализует domain.HunterRepo.
func (m *Memory) SetTargetStatus(_ context.Context, id int64, status domain.TargetStatus) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("%w: источник %d", domain.ErrNotFound, id)
	}
	t.Status = status
	return nil
}

// UpdateTargetLastID реализует domain.HunterRepo.
func (m *Memory) UpdateTargetLastID(_ context.Context, id int64, lastID int64, scannedAt time.Time) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("%w: источник %d", domain.ErrNotFound, id)
	}
	if lastID > t.LastMessageID {
		t.LastMessageID = lastID
	}
	ts := scannedAt
	t.LastScannedAt = &ts
	return nil
}

// InsertObservation реализует domain.HunterRepo.
func (m *Memory) InsertObservation(_ context.Context, obs domain.HunterObservation) (bool, error) {
	if err := m.lock(); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	if _, ok := m.obs[obs.URL]; ok {
		return false, nil
	}
	obs.ID = m.nextID()
	obs.CreatedAt = m.now()
	stored := obs
	m.obs[obs.URL] = &stored
	m.obsOrder = append(m.obsOrder, obs.URL)
	return true, nil
}

// RecentObservationURLs реализует domain.HunterRepo.
func (m *Memory) RecentObservationURLs(_ context.Context, limit int) ([]string, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []string
	for i := len(m.obsOrder) - 1; i >= 0; i-- {
		out = append(out, m.obsOrder[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Observations возвращает все наблюдения в порядке вставки.
func (m *Memory) Observations() []domain.HunterObservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.HunterObservation, 0, len(m.obsOrder))
	for _, u := range m.obsOrder {
		out = append(out, *m.obs[u])
	}
	return out
}

// AppendDialog реализует domain.DialogRepo.
func (m *Memory) AppendDialog(_ context.Context, userID int64, role domain.DialogRole, text string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, err := m.consented(userID); err != nil {
		return err
	}
	m.dialog[userID] = append(m.dialog[userID], domain.DialogMessage{
		ID: m.nextID(), UserID: userID, Role: role, Text: text, CreatedAt: m.now(),
	})
	return nil
}

// RecentDialog реализует domain.DialogRepo.
func (m *Memory) RecentDialog(_ context.Context, userID int64, limit int) ([]domain.DialogMessage, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	log := m.dialog[userID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]domain.DialogMessage, len(log))
	copy(out, log)
	return out, nil
}

func (m *Memory) appendAudit(e domain.AuditEntry) {
	e.ID = m.nextID()
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.audit = append(m.audit, e)
}

// AppendAudit реализует domain.AuditRepo.
func (m *Memory) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.appendAudit(entry)
	return nil
}

// ListAudit реализует domain.AuditRepo.
func (m *Memory) ListAudit(_ context.Context, entity string, entityID int64) ([]domain.AuditEntry, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.audit {
		if e.Entity == entity && (entityID == 0 || e.EntityID == entityID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// LoadMTProtoSession реализует domain.SessionRepo.
func (m *Memory) LoadMTProtoSession(_ context.Context, name string) ([]byte, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	data, ok := m.sessions[sessionName(name)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// StoreMTProtoSession реализует domain.SessionRepo.
func (m *Memory) StoreMTProtoSession(_ context.Context, name string, data []byte) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.sessions[sessionName(name)] = append([]byte(nil), data...)
	return nil
}

// Stats реализует domain.StatsRepo.
func (m *Memory) Stats(_ context.Context, since time.Time) (domain.Stats, error) {
	if err := m.lock(); err != nil {
		return domain.Stats{}, err
	}
	defer m.mu.Unlock()
	var s domain.Stats
	for _, u := range m.users {
		s.Users++
		if u.Consent {
			s.ConsentedUsers++
		}
	}
	for _, l := range m.leads {
		s.Leads++
		if l.Status == domain.LeadNew {
			s.LeadsNew++
		}
		if !l.CreatedAt.Before(since) {
			s.LeadsSince++
		}
	}
	for _, o := range m.obs {
		s.Observations++
		if o.Hotness >= hotStatsThreshold {
			s.HotObservations++
		}
	}
	for _, it := range m.content {
		switch it.Status {
		case domain.ContentReview:
			s.ContentInReview++
		case domain.ContentScheduled:
			s.ContentScheduled++
		case domain.ContentPublished:
			if it.PublishedAt != nil && !it.PublishedAt.Before(since) {
				s.PublishedSince++
			}
		}
	}
	for _, t := range m.targets {
		switch t.Status {
		case domain.TargetActive:
			s.ActiveTargets++
		case domain.TargetPending:
			s.PendingTargets++
		}
	}
	return s, nil
}
