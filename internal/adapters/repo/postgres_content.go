package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"remont-lead-bot/internal/domain"
)

const contentCols = `id, type, channel, title, body, cta, media_ref, image_prompt, status, scheduled_at, published_at, content_hash, author_id, created_at, updated_at`

const hashConstraint = "content_plan_hash_uniq"

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanContent(row rowScanner) (domain.ContentItem, error) {
	var (
		it      domain.ContentItem
		channel string
		status  string
	)
	if err := row.Scan(&it.ID, &it.Type, &channel, &it.Title, &it.Body, &it.CTA, &it.MediaRef, &it.ImagePrompt, &status, &it.ScheduledAt, &it.PublishedAt, &it.ContentHash, &it.AuthorID, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return domain.ContentItem{}, err
	}
	it.Channel = domain.ChannelTag(channel)
	it.Status = domain.ContentStatus(status)
	return it, nil
}

func loadAudit(ctx context.Context, q querier, entity string, entityID int64) ([]domain.AuditEntry, error) {
	rows, err := q.Query(ctx, `
SELECT id, entity, entity_id, actor, role, from_status, to_status, note, created_at
FROM audit_log
WHERE entity = $1 AND ($2::bigint = 0 OR entity_id = $2)
ORDER BY id
`, entity, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e    domain.AuditEntry
			role string
		)
		if err := rows.Scan(&e.ID, &e.Entity, &e.EntityID, &e.Actor, &role, &e.From, &e.To, &e.Note, &e.At); err != nil {
			return nil, err
		}
		e.Role = domain.Role(role)
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertAudit(ctx context.Context, tx pgx.Tx, e domain.AuditEntry) error {
	_, err := tx.Exec(ctx, `
INSERT INTO audit_log (entity, entity_id, actor, role, from_status, to_status, note)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, e.Entity, e.EntityID, e.Actor, string(e.Role), e.From, e.To, e.Note)
	return err
}

func getContent(ctx context.Context, q querier, id int64, forUpdate bool) (domain.ContentItem, error) {
	sql := `SELECT ` + contentCols + ` FROM content_plan WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	it, err := scanContent(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ContentItem{}, fmt.Errorf("%w: контент %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.ContentItem{}, err
	}
	it.Audit, err = loadAudit(ctx, q, auditContent, id)
	return it, err
}

// InsertContentItem реализует domain.ContentRepo.
func (p *Postgres) InsertContentItem(ctx context.Context, item domain.ContentItem, actor domain.Actor) (int64, error) {
	if err := checkInsert(item, actor); err != nil {
		return 0, err
	}
	item.ContentHash = domain.ContentHash(item.Body)
	if item.Type == "" {
		item.Type = "post"
	}
	var id int64
	err := p.tx(ctx, "content_insert", "content_plan", func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO content_plan (type, channel, title, body, cta, media_ref, image_prompt, status, content_hash, author_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id
`, item.Type, string(item.Channel), item.Title, item.Body, item.CTA, item.MediaRef, item.ImagePrompt, string(item.Status), item.ContentHash, actor.ID).Scan(&id)
		if uniqueViolation(err, hashConstraint) {
			return domain.ErrDuplicateHash
		}
		if err != nil {
			return err
		}
		return insertAudit(ctx, tx, domain.AuditEntry{Entity: auditContent, EntityID: id, Actor: actor.ID, Role: actor.Role, To: string(item.Status), Note: "создано"})
	})
	return id, err
}

// GetContentItem реализует domain.ContentRepo.
func (p *Postgres) GetContentItem(ctx context.Context, id int64) (domain.ContentItem, error) {
	var it domain.ContentItem
	err := p.do(ctx, "content_get", "content_plan", func(ctx context.Context) error {
		var err error
		it, err = getContent(ctx, p.pool, id, false)
		return err
	})
	return it, err
}

// ListContent реализует domain.ContentRepo.
func (p *Postgres) ListContent(ctx context.Context, status domain.ContentStatus, limit int) ([]domain.ContentItem, error) {
	var items []domain.ContentItem
	err := p.do(ctx, "content_list", "content_plan", func(ctx context.Context) error {
		items = nil
		rows, err := p.pool.Query(ctx, `
SELECT `+contentCols+` FROM content_plan
WHERE ($1 = '' OR status = $1)
ORDER BY id
LIMIT NULLIF($2::int, 0)
`, string(status), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			it, err := scanContent(rows)
			if err != nil {
				return err
			}
			items = append(items, it)
		}
		return rows.Err()
	})
	return items, err
}

// TransitionContent реализует domain.ContentRepo.
func (p *Postgres) TransitionContent(ctx context.Context, tr domain.ContentTransition) (domain.ContentItem, error) {
	if err := checkTransition(tr); err != nil {
		return domain.ContentItem{}, err
	}
	var result domain.ContentItem
	err := p.tx(ctx, "content_transition", "content_plan", func(ctx context.Context, tx pgx.Tx) error {
		it, err := getContent(ctx, tx, tr.ID, true)
		if err != nil {
			return err
		}
		if it.Status != tr.From {
			return fmt.Errorf("%w: текущий статус %s, ожидался %s", domain.ErrIllegalTransition, it.Status, tr.From)
		}
		if tr.Patch != nil {
			it.Title, it.Body, it.CTA = tr.Patch.Title, tr.Patch.Body, tr.Patch.CTA
			it.ContentHash = domain.ContentHash(it.Body)
		}
		now := time.Now().UTC()
		applyStatus(&it, tr, now)
		_, err = tx.Exec(ctx, `
UPDATE content_plan
SET title = $2, body = $3, cta = $4, content_hash = $5, status = $6, scheduled_at = $7, published_at = $8, updated_at = $9
WHERE id = $1
`, it.ID, it.Title, it.Body, it.CTA, it.ContentHash, string(it.Status), it.ScheduledAt, it.PublishedAt, now)
		if uniqueViolation(err, hashConstraint) {
			return domain.ErrDuplicateHash
		}
		if err != nil {
			return err
		}
		if tr.From == domain.ContentScheduled && tr.To != domain.ContentPublished {
			if _, err := tx.Exec(ctx, `DELETE FROM scheduled_posts WHERE content_id = $1 AND status = 'pending'`, it.ID); err != nil {
				return err
			}
		}
		for _, post := range tr.Posts {
			post.ContentID = it.ID
			if _, err := insertPost(ctx, tx, post); err != nil {
				return err
			}
		}
		if err := insertAudit(ctx, tx, domain.AuditEntry{Entity: auditContent, EntityID: it.ID, Actor: tr.Actor.ID, Role: tr.Actor.Role, From: string(tr.From), To: string(tr.To), Note: tr.Note}); err != nil {
			return err
		}
		result, err = getContent(ctx, tx, it.ID, false)
		return err
	})
	return result, err
}

// SetContentMedia реализует domain.ContentRepo.
func (p *Postgres) SetContentMedia(ctx context.Context, id int64, ref string) error {
	return p.do(ctx, "content_set_media", "content_plan", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `UPDATE content_plan SET media_ref = $2, updated_at = now() WHERE id = $1`, id, ref)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: контент %d", domain.ErrNotFound, id)
		}
		return nil
	})
}

// AppendAudit реализует domain.AuditRepo.
func (p *Postgres) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	return p.tx(ctx, "audit_insert", "audit_log", func(ctx context.Context, tx pgx.Tx) error {
		return insertAudit(ctx, tx, entry)
	})
}

// ListAudit реализует domain.AuditRepo.
func (p *Postgres) ListAudit(ctx context.Context, entity string, entityID int64) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := p.do(ctx, "audit_list", "audit_log", func(ctx context.Context) error {
		var err error
		out, err = loadAudit(ctx, p.pool, entity, entityID)
		return err
	})
	return out, err
}
