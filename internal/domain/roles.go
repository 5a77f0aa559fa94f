package domain

import (
	"fmt"
	"strings"
)

// Role роль оператора в контент-пайплайне.
type Role string

const (
	RoleNone   Role = ""
	RoleAuthor Role = "author"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	// RoleSystem планировщик и прочие фоновые задачи.
	RoleSystem Role = "system"
)

// Actor тот, кто выполняет переход.
type Actor struct {
	ID   int64
	Role Role
}

// SystemActor актор фоновых задач.
var SystemActor = Actor{ID: 0, Role: RoleSystem}

type edge struct {
	from ContentStatus
	to   ContentStatus
}

var writers = []Role{RoleAuthor, RoleEditor, RoleAdmin}

// transitions описывает граф контент-пайплайна и роли, которым разрешён каждый переход.
var transitions = map[edge][]Role{
	{ContentIdea, ContentDraft}:          writers,
	{ContentDraft, ContentReview}:        writers,
	{ContentDraft, ContentIdea}:          writers,
	{ContentReview, ContentApproved}:     {RoleEditor, RoleAdmin},
	{ContentReview, ContentDraft}:        {RoleEditor, RoleAdmin},
	{ContentApproved, ContentScheduled}:  {RoleEditor, RoleAdmin},
	{ContentApproved, ContentPublished}:  {RoleAdmin},
	{ContentScheduled, ContentPublished}: {RoleSystem},
	{ContentScheduled, ContentApproved}:  {RoleAdmin},
	{ContentScheduled, ContentDraft}:     {RoleAdmin},
}

// Active сообщает, что статус не терминальный.
func (s ContentStatus) Active() bool {
	return s != ContentPublished && s != ContentFailed
}

// Edge проверяет наличие ребра в графе без учёта ролей.
func Edge(from, to ContentStatus) bool {
	if to == ContentFailed {
		return from.Active()
	}
	_, ok := transitions[edge{from, to}]
	return ok
}

// CheckTransition проверяет переход from→to для роли.
func CheckTransition(from, to ContentStatus, role Role) error {
	if !Edge(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}
	if to == ContentFailed {
		if role == RoleSystem {
			return nil
		}
		return fmt.Errorf("%w: %s → %s требует роль system", ErrForbidden, from, to)
	}
	for _, allowed := range transitions[edge{from, to}] {
		if allowed == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s для роли %q", ErrForbidden, from, to, role)
}

// RolePolicy сопоставляет идентификаторы операторов ролям.
type RolePolicy struct {
	admins  map[int64]struct{}
	editors map[int64]struct{}
	authors map[int64]struct{}
}

// NewRolePolicy строит политику из списков конфигурации.
func NewRolePolicy(admins, editors, authors []int64) RolePolicy {
	toSet := func(ids []int64) map[int64]struct{} {
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		return set
	}
	return RolePolicy{admins: toSet(admins), editors: toSet(editors), authors: toSet(authors)}
}

// RoleOf возвращает старшую роль оператора.
func (p RolePolicy) RoleOf(id int64) Role {
	if _, ok := p.admins[id]; ok {
		return RoleAdmin
	}
	if _, ok := p.editors[id]; ok {
		return RoleEditor
	}
	if _, ok := p.authors[id]; ok {
		return RoleAuthor
	}
	return RoleNone
}

// Actor возвращает актора для идентификатора.
func (p RolePolicy) Actor(id int64) Actor {
	return Actor{ID: id, Role: p.RoleOf(id)}
}

// ParseRole приводит строку к роли.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAuthor:
		return RoleAuthor
	case RoleEditor:
		return RoleEditor
	case RoleAdmin:
		return RoleAdmin
	case RoleSystem:
		return RoleSystem
	}
	return RoleNone
}
