package repo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remont-lead-bot/internal/domain"
)

// applyAnswer записывает канонический ответ шага в анкету.
func applyAnswer(resp *domain.QuizResponse, step int, value string) error {
	value = strings.TrimSpace(value)
	switch step {
	case 1:
		if value == "" {
			return domain.Invalid("city", "пустое значение")
		}
		resp.City = value
	case 2:
		t := domain.ObjectType(value)
		if !t.Valid() {
			return domain.Invalid("object_type", value)
		}
		resp.ObjectType = t
	case 3:
		if value == "" {
			return domain.Invalid("floor", "пустое значение")
		}
		resp.Floor = value
	case 4:
		if value == "" {
			resp.Area = nil
			break
		}
		area, err := strconv.ParseFloat(value, 64)
		if err != nil || area <= 0 {
			return domain.Invalid("area", value)
		}
		resp.Area = &area
	case 5:
		s := domain.RemodelStatus(value)
		if s != domain.RemodelPlanned && s != domain.RemodelDone {
			return domain.Invalid("status", value)
		}
		resp.Status = s
	case 6:
		resp.Description = value
	case 7:
		resp.Attachment = value
	default:
		return fmt.Errorf("%w: шаг %d", domain.ErrOutOfOrder, step)
	}
	resp.Answered = step
	return nil
}

// nextStage состояние после принятого ответа.
func nextStage(step int) domain.QuizStage {
	return domain.StageForQuestion(step + 1)
}

// checkStep проверяет строгий порядок ответов.
func checkStep(user domain.User, answered, step int) error {
	if step != answered+1 {
		return fmt.Errorf("%w: ожидается шаг %d, получен %d", domain.ErrOutOfOrder, answered+1, step)
	}
	quiz, ok := user.Mode.(domain.ModeQuiz)
	if !ok || quiz.Stage.Question() != step {
		return fmt.Errorf("%w: пользователь не на шаге %d", domain.ErrOutOfOrder, step)
	}
	return nil
}

// requiresConsent сообщает, нужно ли согласие для установки режима.
func requiresConsent(mode domain.Mode) bool {
	_, none := mode.(domain.ModeNone)
	return !none
}

type responseSnapshot struct {
	ID          int64    `json:"id"`
	City        string   `json:"city"`
	ObjectType  string   `json:"object_type"`
	Floor       string   `json:"floor"`
	Area        *float64 `json:"area,omitempty"`
	Status      string   `json:"status"`
	Description string   `json:"description"`
	Attachment  string   `json:"attachment,omitempty"`
	SealedAt    string   `json:"sealed_at"`
}

func encodeSnapshot(resp domain.QuizResponse) ([]byte, error) {
	snap := responseSnapshot{
		ID:          resp.ID,
		City:        resp.City,
		ObjectType:  string(resp.ObjectType),
		Floor:       resp.Floor,
		Area:        resp.Area,
		Status:      string(resp.Status),
		Description: resp.Description,
		Attachment:  resp.Attachment,
	}
	if resp.SealedAt != nil {
		snap.SealedAt = resp.SealedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(snap)
}

func decodeSnapshot(data []byte, into *domain.QuizResponse) error {
	var snap responseSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	into.ID = snap.ID
	into.City = snap.City
	into.ObjectType = domain.ObjectType(snap.ObjectType)
	into.Floor = snap.Floor
	into.Area = snap.Area
	into.Status = domain.RemodelStatus(snap.Status)
	into.Description = snap.Description
	into.Attachment = snap.Attachment
	into.Answered = domain.QuizQuestions
	if ts, err := time.Parse(time.RFC3339, snap.SealedAt); err == nil {
		into.SealedAt = &ts
	}
	return nil
}
