package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"remont-lead-bot/internal/domain"
)

// prepare присваивает уведомлению идентификатор и время, если они не заданы.
func prepare(n domain.Notification) domain.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return n
}

func encode(n domain.Notification) ([]byte, error) {
	payload, err := json.Marshal(prepare(n))
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return payload, nil
}

func decode(payload []byte) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

var (
	_ domain.NotificationQueue = (*Memory)(nil)
	_ domain.NotificationQueue = (*Redis)(nil)
	_ domain.NotificationQueue = (*Rabbit)(nil)
)
