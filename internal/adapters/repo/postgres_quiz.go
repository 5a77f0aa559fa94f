package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"remont-lead-bot/internal/domain"
)

const responseCols = `id, user_id, city, object_type, floor, area, status, description, attachment, answered, sealed_at, created_at`

func scanResponse(row rowScanner) (domain.QuizResponse, error) {
	var (
		r          domain.QuizResponse
		objectType string
		status     string
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.City, &objectType, &r.Floor, &r.Area, &status, &r.Description, &r.Attachment, &r.Answered, &r.SealedAt, &r.CreatedAt); err != nil {
		return domain.QuizResponse{}, err
	}
	r.ObjectType = domain.ObjectType(objectType)
	r.Status = domain.RemodelStatus(status)
	return r, nil
}

func lockUser(ctx context.Context, tx pgx.Tx, userID int64) (domain.User, error) {
	u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("%w: пользователь %d", domain.ErrNotFound, userID)
	}
	if err != nil {
		return domain.User{}, err
	}
	if !u.Consent {
		return domain.User{}, domain.ErrConsentRequired
	}
	return u, nil
}

func openResponse(ctx context.Context, tx pgx.Tx, userID int64) (*domain.QuizResponse, error) {
	r, err := scanResponse(tx.QueryRow(ctx, `SELECT `+responseCols+` FROM quiz_responses WHERE user_id = $1 AND sealed = 0 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func setMode(ctx context.Context, tx pgx.Tx, userID int64, mode domain.Mode) error {
	name, step := mode.Encode()
	_, err := tx.Exec(ctx, `UPDATE users SET mode = $2, step = $3, updated_at = now() WHERE id = $1`, userID, name, step)
	return err
}

// StartQuiz реализует domain.QuizRepo.
func (p *Postgres) StartQuiz(ctx context.Context, userID int64, stage domain.QuizStage) error {
	return p.tx(ctx, "quiz_start", "quiz_responses", func(ctx context.Context, tx pgx.Tx) error {
		if _, err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM quiz_responses WHERE user_id = $1 AND sealed = 0`, userID); err != nil {
			return err
		}
		return setMode(ctx, tx, userID, domain.ModeQuiz{Stage: stage})
	})
}

// AppendQuizAnswer реализует domain.QuizRepo.
func (p *Postgres) AppendQuizAnswer(ctx context.Context, userID int64, step int, value string) (domain.QuizResponse, error) {
	var result domain.QuizResponse
	err := p.tx(ctx, "quiz_append_answer", "quiz_responses", func(ctx context.Context, tx pgx.Tx) error {
		user, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		open, err := openResponse(ctx, tx, userID)
		if err != nil {
			return err
		}
		answered := 0
		draft := domain.QuizResponse{UserID: userID}
		if open != nil {
			answered = open.Answered
			draft = *open
		}
		if err := checkStep(user, answered, step); err != nil {
			return err
		}
		if err := applyAnswer(&draft, step, value); err != nil {
			return err
		}
		if open == nil {
			err = tx.QueryRow(ctx, `
INSERT INTO quiz_responses (user_id, city, object_type, floor, area, status, description, attachment, answered)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at
`, userID, draft.City, string(draft.ObjectType), draft.Floor, draft.Area, string(draft.Status), draft.Description, draft.Attachment, draft.Answered).Scan(&draft.ID, &draft.CreatedAt)
		} else {
			_, err = tx.Exec(ctx, `
UPDATE quiz_responses
SET city = $2, object_type = $3, floor = $4, area = $5, status = $6, description = $7, attachment = $8, answered = $9
WHERE id = $1 AND sealed = 0
`, draft.ID, draft.City, string(draft.ObjectType), draft.Floor, draft.Area, string(draft.Status), draft.Description, draft.Attachment, draft.Answered)
		}
		if err != nil {
			return err
		}
		if err := setMode(ctx, tx, userID, domain.ModeQuiz{Stage: nextStage(step)}); err != nil {
			return err
		}
		result = draft
		return nil
	})
	return result, err
}

// CurrentQuiz реализует domain.QuizRepo.
func (p *Postgres) CurrentQuiz(ctx context.Context, userID int64) (domain.QuizResponse, error) {
	var result domain.QuizResponse
	err := p.do(ctx, "quiz_current", "quiz_responses", func(ctx context.Context) error {
		var err error
		result, err = scanResponse(p.pool.QueryRow(ctx, `SELECT `+responseCols+` FROM quiz_responses WHERE user_id = $1 AND sealed = 0`, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	return result, err
}

// SealQuiz реализует domain.QuizRepo.
func (p *Postgres) SealQuiz(ctx context.Context, userID int64, source string) (domain.Lead, error) {
	var lead domain.Lead
	err := p.tx(ctx, "quiz_seal", "leads", func(ctx context.Context, tx pgx.Tx) error {
		user, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		open, err := openResponse(ctx, tx, userID)
		if err != nil {
			return err
		}
		if open == nil || open.Answered < domain.QuizQuestions {
			return domain.ErrIncomplete
		}
		var sealedAt time.Time
		if err := tx.QueryRow(ctx, `UPDATE quiz_responses SET sealed = 1, sealed_at = now() WHERE id = $1 RETURNING sealed_at`, open.ID).Scan(&sealedAt); err != nil {
			return err
		}
		open.SealedAt = &sealedAt
		snapshot, err := encodeSnapshot(*open)
		if err != nil {
			return err
		}
		if source == "" {
			source = user.Source
		}
		lead = domain.Lead{
			UserID:     userID,
			ResponseID: open.ID,
			Response:   *open,
			Phone:      user.Phone,
			Name:       user.DisplayName,
			Source:     source,
			Status:     domain.LeadNew,
		}
		if err := tx.QueryRow(ctx, `
INSERT INTO leads (user_id, response_id, snapshot, phone, name, source, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at
`, userID, open.ID, snapshot, lead.Phone, lead.Name, lead.Source, string(lead.Status)).Scan(&lead.ID, &lead.CreatedAt); err != nil {
			return err
		}
		return setMode(ctx, tx, userID, domain.ModeNone{})
	})
	return lead, err
}

const leadCols = `id, user_id, response_id, snapshot, phone, name, source, status, notes, created_at`

func scanLead(row rowScanner) (domain.Lead, error) {
	var (
		l        domain.Lead
		snapshot []byte
		status   string
	)
	if err := row.Scan(&l.ID, &l.UserID, &l.ResponseID, &snapshot, &l.Phone, &l.Name, &l.Source, &status, &l.Notes, &l.CreatedAt); err != nil {
		return domain.Lead{}, err
	}
	l.Status = domain.LeadStatus(status)
	if err := decodeSnapshot(snapshot, &l.Response); err != nil {
		return domain.Lead{}, fmt.Errorf("snapshot заявки %d: %w", l.ID, err)
	}
	l.Response.UserID = l.UserID
	return l, nil
}

// ListLeads реализует domain.QuizRepo.
func (p *Postgres) ListLeads(ctx context.Context, since time.Time, limit int) ([]domain.Lead, error) {
	var leads []domain.Lead
	err := p.do(ctx, "leads_list", "leads", func(ctx context.Context) error {
		leads = nil
		rows, err := p.pool.Query(ctx, `SELECT `+leadCols+` FROM leads WHERE created_at >= $1 ORDER BY id LIMIT NULLIF($2::int, 0)`, since, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			l, err := scanLead(rows)
			if err != nil {
				return err
			}
			leads = append(leads, l)
		}
		return rows.Err()
	})
	return leads, err
}

// LastLead реализует domain.QuizRepo.
func (p *Postgres) LastLead(ctx context.Context, userID int64) (domain.Lead, error) {
	var lead domain.Lead
	err := p.do(ctx, "leads_last", "leads", func(ctx context.Context) error {
		var err error
		lead, err = scanLead(p.pool.QueryRow(ctx, `SELECT `+leadCols+` FROM leads WHERE user_id = $1 ORDER BY id DESC LIMIT 1`, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	return lead, err
}
