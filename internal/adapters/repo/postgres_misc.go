package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"remont-lead-bot/internal/domain"
)

// AppendDialog реализует domain.DialogRepo.
func (p *Postgres) AppendDialog(ctx context.Context, userID int64, role domain.DialogRole, text string) error {
	return p.do(ctx, "dialog_append", "dialog_messages", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
INSERT INTO dialog_messages (user_id, role, text)
SELECT id, $2, $3 FROM users WHERE id = $1 AND consent = 1
`, userID, string(role), text)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return userMiss(ctx, p.pool, userID)
		}
		return nil
	})
}

// RecentDialog реализует domain.DialogRepo.
func (p *Postgres) RecentDialog(ctx context.Context, userID int64, limit int) ([]domain.DialogMessage, error) {
	var out []domain.DialogMessage
	err := p.do(ctx, "dialog_recent", "dialog_messages", func(ctx context.Context) error {
		out = nil
		rows, err := p.pool.Query(ctx, `
SELECT id, user_id, role, text, created_at FROM (
    SELECT id, user_id, role, text, created_at FROM dialog_messages
    WHERE user_id = $1 ORDER BY id DESC LIMIT NULLIF($2::int, 0)
) recent ORDER BY id
`, userID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m    domain.DialogMessage
				role string
			)
			if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Text, &m.CreatedAt); err != nil {
				return err
			}
			m.Role = domain.DialogRole(role)
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// LoadMTProtoSession загружает сохранённую MTProto-сессию.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := p.do(ctx, "mtproto_sessions_load", "mtproto_sessions", func(ctx context.Context) error {
		err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, sessionName(name)).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	tmp := make([]byte, len(data))
	copy(tmp, data)
	return p.do(ctx, "mtproto_sessions_store", "mtproto_sessions", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, sessionName(name), tmp)
		return err
	})
}

// Stats реализует domain.StatsRepo.
func (p *Postgres) Stats(ctx context.Context, since time.Time) (domain.Stats, error) {
	var s domain.Stats
	err := p.do(ctx, "stats", "postgres", func(ctx context.Context) error {
		return p.pool.QueryRow(ctx, `
SELECT
    (SELECT count(*) FROM users),
    (SELECT count(*) FROM users WHERE consent = 1),
    (SELECT count(*) FROM leads),
    (SELECT count(*) FROM leads WHERE status = 'new'),
    (SELECT count(*) FROM leads WHERE created_at >= $1),
    (SELECT count(*) FROM hunter_observations),
    (SELECT count(*) FROM hunter_observations WHERE hotness >= $2),
    (SELECT count(*) FROM content_plan WHERE status = 'review'),
    (SELECT count(*) FROM content_plan WHERE status = 'scheduled'),
    (SELECT count(*) FROM content_plan WHERE status = 'published' AND published_at >= $1),
    (SELECT count(*) FROM target_resources WHERE status = 'active'),
    (SELECT count(*) FROM target_resources WHERE status = 'pending')
`, since, hotStatsThreshold).Scan(&s.Users, &s.ConsentedUsers, &s.Leads, &s.LeadsNew, &s.LeadsSince, &s.Observations, &s.HotObservations, &s.ContentInReview, &s.ContentScheduled, &s.PublishedSince, &s.ActiveTargets, &s.PendingTargets)
	})
	return s, err
}
