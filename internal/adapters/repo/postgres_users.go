package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"remont-lead-bot/internal/domain"
)

const userCols = `id, external_id, display_name, username, phone, consent, consent_at, mode, step, scratch, source, reminded_at, created_at, updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u       domain.User
		consent int16
		mode    string
		step    int
		scratch map[string]string
	)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.DisplayName, &u.Username, &u.Phone, &consent, &u.ConsentAt, &mode, &step, &scratch, &u.Source, &u.RemindedAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	parsed, err := domain.ParseMode(mode, step)
	if err != nil {
		return domain.User{}, err
	}
	u.Consent = consent == 1
	u.Mode = parsed
	if scratch == nil {
		scratch = map[string]string{}
	}
	u.Scratch = scratch
	return u, nil
}

// userMiss объясняет, почему условное обновление пользователя не затронуло строк.
func userMiss(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, userID int64) error {
	var consent int16
	err := q.QueryRow(ctx, `SELECT consent FROM users WHERE id = $1`, userID).Scan(&consent)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: пользователь %d", domain.ErrNotFound, userID)
	}
	if err != nil {
		return err
	}
	if consent == 0 {
		return domain.ErrConsentRequired
	}
	return fmt.Errorf("%w: пользователь %d", domain.ErrNotFound, userID)
}

// GetOrCreateUser реализует domain.UserRepo.
func (p *Postgres) GetOrCreateUser(ctx context.Context, externalID int64, profile domain.Profile) (domain.User, error) {
	var user domain.User
	err := p.do(ctx, "users_get_or_create", "users", func(ctx context.Context) error {
		if _, err := p.pool.Exec(ctx, `
INSERT INTO users (external_id, display_name, username, source)
VALUES ($1, $2, $3, $4)
ON CONFLICT (external_id) DO NOTHING
`, externalID, profile.DisplayName, profile.Username, profile.Source); err != nil {
			return err
		}
		var err error
		user, err = scanUser(p.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE external_id = $1`, externalID))
		return err
	})
	return user, err
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(ctx context.Context, externalID int64) (domain.User, error) {
	var user domain.User
	err := p.do(ctx, "users_get", "users", func(ctx context.Context) error {
		var err error
		user, err = scanUser(p.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE external_id = $1`, externalID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	return user, err
}

// SetUserMode реализует domain.UserRepo.
func (p *Postgres) SetUserMode(ctx context.Context, userID int64, mode domain.Mode) error {
	name, step := mode.Encode()
	return p.do(ctx, "users_set_mode", "users", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE users SET mode = $2, step = $3, updated_at = now()
WHERE id = $1 AND (consent = 1 OR $4)
`, userID, name, step, !requiresConsent(mode))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return userMiss(ctx, p.pool, userID)
		}
		return nil
	})
}

// GrantConsent реализует domain.UserRepo.
func (p *Postgres) GrantConsent(ctx context.Context, userID int64, at time.Time, next domain.Mode) error {
	name, step := next.Encode()
	return p.do(ctx, "users_grant_consent", "users", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE users SET consent = 1, consent_at = $2, mode = $3, step = $4, updated_at = now()
WHERE id = $1
`, userID, at, name, step)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: пользователь %d", domain.ErrNotFound, userID)
		}
		return nil
	})
}

// SetContact реализует domain.UserRepo.
func (p *Postgres) SetContact(ctx context.Context, userID int64, phone, name string, next domain.Mode) error {
	mode, step := next.Encode()
	return p.do(ctx, "users_set_contact", "users", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE users SET phone = $2, display_name = COALESCE(NULLIF($3, ''), display_name), mode = $4, step = $5, updated_at = now()
WHERE id = $1 AND consent = 1
`, userID, phone, name, mode, step)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return userMiss(ctx, p.pool, userID)
		}
		return nil
	})
}

// SetScratch реализует domain.UserRepo.
func (p *Postgres) SetScratch(ctx context.Context, userID int64, key, value string) error {
	return p.do(ctx, "users_set_scratch", "users", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE users SET scratch = CASE
    WHEN $3::text = '' THEN scratch - $2::text
    ELSE jsonb_set(scratch, ARRAY[$2::text], to_jsonb($3::text))
END
WHERE id = $1 AND consent = 1
`, userID, key, value)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return userMiss(ctx, p.pool, userID)
		}
		return nil
	})
}

// ListStaleQuizUsers реализует domain.UserRepo.
func (p *Postgres) ListStaleQuizUsers(ctx context.Context, idleSince time.Time, limit int) ([]domain.User, error) {
	var users []domain.User
	err := p.do(ctx, "users_list_stale", "users", func(ctx context.Context) error {
		users = nil
		rows, err := p.pool.Query(ctx, `
SELECT `+userCols+` FROM users
WHERE mode = 'quiz' AND step BETWEEN $1 AND $2 AND updated_at < $3
  AND (reminded_at IS NULL OR reminded_at < updated_at)
ORDER BY id
LIMIT NULLIF($4::int, 0)
`, int(domain.StageAwaitContact), int(domain.StageAttachment), idleSince, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	return users, err
}

// MarkReminded реализует domain.UserRepo.
func (p *Postgres) MarkReminded(ctx context.Context, userID int64, at time.Time) error {
	return p.do(ctx, "users_mark_reminded", "users", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `UPDATE users SET reminded_at = $2 WHERE id = $1`, userID, at)
		return err
	})
}
