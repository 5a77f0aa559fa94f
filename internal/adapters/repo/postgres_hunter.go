package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"remont-lead-bot/internal/domain"
)

const targetCols = `id, link, platform, title, peer_id, access_hash, username, participants, geo, status, last_message_id, last_scanned_at, created_at`

func scanTarget(row rowScanner) (domain.TargetResource, error) {
	var (
		t      domain.TargetResource
		status string
	)
	if err := row.Scan(&t.ID, &t.Link, &t.Platform, &t.Title, &t.PeerID, &t.AccessHash, &t.Username, &t.Participants, &t.Geo, &status, &t.LastMessageID, &t.LastScannedAt, &t.CreatedAt); err != nil {
		return domain.TargetResource{}, err
	}
	t.Status = domain.TargetStatus(status)
	return t, nil
}

func (p *Postgres) queryTargets(ctx context.Context, sql string, args ...any) ([]domain.TargetResource, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TargetResource
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTargets реализует domain.HunterRepo.
func (p *Postgres) ListTargets(ctx context.Context, status domain.TargetStatus) ([]domain.TargetResource, error) {
	var out []domain.TargetResource
	err := p.do(ctx, "targets_list", "target_resources", func(ctx context.Context) error {
		var err error
		out, err = p.queryTargets(ctx, `SELECT `+targetCols+` FROM target_resources WHERE ($1 = '' OR status = $1) ORDER BY id`, string(status))
		return err
	})
	return out, err
}

func (p *Postgres) targetBy(ctx context.Context, op, where string, arg any) (domain.TargetResource, error) {
	var t domain.TargetResource
	err := p.do(ctx, op, "target_resources", func(ctx context.Context) error {
		var err error
		t, err = scanTarget(p.pool.QueryRow(ctx, `SELECT `+targetCols+` FROM target_resources WHERE `+where, arg))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	return t, err
}

// GetTarget реализует domain.HunterRepo.
func (p *Postgres) GetTarget(ctx context.Context, id int64) (domain.TargetResource, error) {
	return p.targetBy(ctx, "targets_get", "id = $1", id)
}

// FindTargetByLink реализует domain.HunterRepo.
func (p *Postgres) FindTargetByLink(ctx context.Context, link string) (domain.TargetResource, error) {
	return p.targetBy(ctx, "targets_find", "link = $1", link)
}

// UpsertTarget реализует domain.HunterRepo.
func (p *Postgres) UpsertTarget(ctx context.Context, target domain.TargetResource) (domain.TargetResource, bool, error) {
	if target.Status == "" {
		target.Status = domain.TargetPending
	}
	if target.Platform == "" {
		target.Platform = "telegram"
	}
	var (
		stored  domain.TargetResource
		created bool
	)
	err := p.do(ctx, "targets_upsert", "target_resources", func(ctx context.Context) error {
		var err error
		stored, err = scanTarget(p.pool.QueryRow(ctx, `
INSERT INTO target_resources (link, platform, title, peer_id, access_hash, username, participants, geo, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (link) DO NOTHING
RETURNING `+targetCols,
			target.Link, target.Platform, target.Title, target.PeerID, target.AccessHash, target.Username, target.Participants, target.Geo, string(target.Status)))
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		created = false
		stored, err = scanTarget(p.pool.QueryRow(ctx, `SELECT `+targetCols+` FROM target_resources WHERE link = $1`, target.Link))
		return err
	})
	return stored, created, err
}

// SetTargetStatus реализует domain.HunterRepo.
func (p *Postgres) SetTargetStatus(ctx context.Context, id int64, status domain.TargetStatus) error {
	return p.do(ctx, "targets_set_status", "target_resources", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `UPDATE target_resources SET status = $2 WHERE id = $1`, id, string(status))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: источник %d", domain.ErrNotFound, id)
		}
		return nil
	})
}

// UpdateTargetLastID реализует domain.HunterRepo.
func (p *Postgres) UpdateTargetLastID(ctx context.Context, id int64, lastID int64, scannedAt time.Time) error {
	return p.do(ctx, "targets_update_last_id", "target_resources", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE target_resources
SET last_message_id = GREATEST(last_message_id, $2), last_scanned_at = $3
WHERE id = $1
`, id, lastID, scannedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: источник %d", domain.ErrNotFound, id)
		}
		return nil
	})
}

// InsertObservation реализует domain.HunterRepo.
func (p *Postgres) InsertObservation(ctx context.Context, obs domain.HunterObservation) (bool, error) {
	var inserted bool
	err := p.do(ctx, "observations_insert", "hunter_observations", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
INSERT INTO hunter_observations (url, target_id, excerpt, intent, hotness, geo, pain_stage, justification, is_lead, scored_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (url) DO NOTHING
`, obs.URL, obs.TargetID, obs.Excerpt, obs.Intent, obs.Hotness, obs.Geo, string(obs.PainStage), obs.Justification, flag(obs.IsLead), obs.ScoredBy)
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	return inserted, err
}

// RecentObservationURLs реализует domain.HunterRepo.
func (p *Postgres) RecentObservationURLs(ctx context.Context, limit int) ([]string, error) {
	var out []string
	err := p.do(ctx, "observations_recent", "hunter_observations", func(ctx context.Context) error {
		out = nil
		rows, err := p.pool.Query(ctx, `SELECT url FROM hunter_observations ORDER BY id DESC LIMIT NULLIF($1::int, 0)`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}
