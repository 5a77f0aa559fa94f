package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"remont-lead-bot/internal/domain"
)

const postCols = `id, content_id, channel, text, media_kind, media_ref, scheduled_at, status, attempts, last_error, message_ref, created_at, sent_at`

func scanPost(row rowScanner) (domain.ScheduledPost, error) {
	var (
		p                          domain.ScheduledPost
		channel, mediaKind, status string
	)
	if err := row.Scan(&p.ID, &p.ContentID, &channel, &p.Text, &mediaKind, &p.Media.Ref, &p.ScheduledAt, &status, &p.Attempts, &p.LastError, &p.MessageRef, &p.CreatedAt, &p.SentAt); err != nil {
		return domain.ScheduledPost{}, err
	}
	p.Channel = domain.ChannelTag(channel)
	p.Media.Kind = domain.MediaKind(mediaKind)
	p.Status = domain.PostStatus(status)
	return p, nil
}

func insertPost(ctx context.Context, tx pgx.Tx, post domain.ScheduledPost) (domain.ScheduledPost, error) {
	post.Status = domain.PostPending
	err := tx.QueryRow(ctx, `
INSERT INTO scheduled_posts (content_id, channel, text, media_kind, media_ref, scheduled_at, status)
VALUES ($1, $2, $3, $4, $5, $6, 'pending')
RETURNING id, created_at
`, post.ContentID, string(post.Channel), post.Text, string(post.Media.Kind), post.Media.Ref, post.ScheduledAt).Scan(&post.ID, &post.CreatedAt)
	if foreignKeyViolation(err) {
		return domain.ScheduledPost{}, fmt.Errorf("%w: контент %d", domain.ErrNotFound, post.ContentID)
	}
	return post, err
}

// lockPostless блокирует строку контента до конца транзакции и проверяет, что неупавших постов у неё нет.
func lockPostless(ctx context.Context, tx pgx.Tx, contentID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM content_plan WHERE id = $1 FOR UPDATE`, contentID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: контент %d", domain.ErrNotFound, contentID)
	}
	if err != nil {
		return err
	}
	// отдельный запрос: снимок берётся уже после получения блокировки
	var live bool
	if err := tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM scheduled_posts WHERE content_id = $1 AND status <> 'failed')
`, contentID).Scan(&live); err != nil {
		return err
	}
	if live {
		return fmt.Errorf("%w: у контента %d уже есть посты", domain.ErrIllegalTransition, contentID)
	}
	return nil
}

// InsertScheduledPosts реализует domain.ScheduleRepo.
func (p *Postgres) InsertScheduledPosts(ctx context.Context, posts []domain.ScheduledPost) ([]domain.ScheduledPost, error) {
	var out []domain.ScheduledPost
	err := p.tx(ctx, "posts_insert", "scheduled_posts", func(ctx context.Context, tx pgx.Tx) error {
		out = make([]domain.ScheduledPost, 0, len(posts))
		locked := make(map[int64]bool)
		for _, post := range posts {
			if !locked[post.ContentID] {
				if err := lockPostless(ctx, tx, post.ContentID); err != nil {
					return err
				}
				locked[post.ContentID] = true
			}
			stored, err := insertPost(ctx, tx, post)
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	return out, err
}

// DueScheduledPosts реализует domain.ScheduleRepo.
func (p *Postgres) DueScheduledPosts(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledPost, error) {
	var out []domain.ScheduledPost
	err := p.do(ctx, "posts_due", "scheduled_posts", func(ctx context.Context) error {
		out = nil
		rows, err := p.pool.Query(ctx, `
SELECT `+postCols+` FROM scheduled_posts
WHERE status = 'pending' AND scheduled_at <= $1
ORDER BY scheduled_at, id
LIMIT NULLIF($2::int, 0)
`, now, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			post, err := scanPost(rows)
			if err != nil {
				return err
			}
			out = append(out, post)
		}
		return rows.Err()
	})
	return out, err
}

// ClaimScheduledPost реализует domain.ScheduleRepo.
func (p *Postgres) ClaimScheduledPost(ctx context.Context, id int64) (bool, error) {
	var claimed bool
	err := p.do(ctx, "posts_claim", "scheduled_posts", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `UPDATE scheduled_posts SET status = 'sending' WHERE id = $1 AND status = 'pending'`, id)
		if err != nil {
			return err
		}
		claimed = tag.RowsAffected() == 1
		return nil
	})
	return claimed, err
}

func (p *Postgres) postMiss(ctx context.Context, id int64) error {
	var status string
	err := p.pool.QueryRow(ctx, `SELECT status FROM scheduled_posts WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: пост %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: пост %d в статусе %s", domain.ErrIllegalTransition, id, status)
}

// MarkPostSent реализует domain.ScheduleRepo.
func (p *Postgres) MarkPostSent(ctx context.Context, id int64, ref string, at time.Time) error {
	return p.do(ctx, "posts_mark_sent", "scheduled_posts", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE scheduled_posts SET status = 'sent', sent_at = $3, message_ref = $2
WHERE id = $1 AND status = 'sending'
`, id, ref, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return p.postMiss(ctx, id)
		}
		return nil
	})
}

// MarkPostFailed реализует domain.ScheduleRepo.
func (p *Postgres) MarkPostFailed(ctx context.Context, id int64, reason string) error {
	return p.do(ctx, "posts_mark_failed", "scheduled_posts", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE scheduled_posts SET status = 'failed', last_error = $2
WHERE id = $1 AND status IN ('pending', 'sending')
`, id, reason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return p.postMiss(ctx, id)
		}
		return nil
	})
}

// RecordPostAttempt реализует domain.ScheduleRepo.
func (p *Postgres) RecordPostAttempt(ctx context.Context, id int64, reason string) error {
	return p.do(ctx, "posts_attempt", "scheduled_posts", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `UPDATE scheduled_posts SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
		return err
	})
}

// PostsSummary реализует domain.ScheduleRepo.
func (p *Postgres) PostsSummary(ctx context.Context, contentID int64) (domain.PostsSummary, error) {
	var s domain.PostsSummary
	err := p.do(ctx, "posts_summary", "scheduled_posts", func(ctx context.Context) error {
		s = domain.PostsSummary{}
		rows, err := p.pool.Query(ctx, `SELECT status, count(*) FROM scheduled_posts WHERE content_id = $1 GROUP BY status`, contentID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				status string
				n      int
			)
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			switch domain.PostStatus(status) {
			case domain.PostPending:
				s.Pending = n
			case domain.PostSending:
				s.Sending = n
			case domain.PostSent:
				s.Sent = n
			case domain.PostFailed:
				s.Failed = n
			}
		}
		return rows.Err()
	})
	return s, err
}
