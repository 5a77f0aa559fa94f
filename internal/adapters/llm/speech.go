package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

// SpeechConfig параметры синхронного распознавания речи (SpeechKit).
type SpeechConfig struct {
	URL      string
	APIKey   string
	FolderID string
	Lang     string
	Timeout  time.Duration
}

// Speech распознаёт короткие голосовые сообщения.
type Speech struct {
	cfg  SpeechConfig
	http *http.Client
}

var _ domain.SpeechRecognizer = (*Speech)(nil)

// NewSpeech создаёт адаптер распознавания.
func NewSpeech(cfg SpeechConfig) *Speech {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Lang == "" {
		cfg.Lang = "ru-RU"
	}
	return &Speech{cfg: cfg, http: &http.Client{}}
}

// Recognize отправляет OGG/Opus и возвращает текст.
func (s *Speech) Recognize(ctx context.Context, audio []byte) (string, error) {
	if s.cfg.URL == "" {
		return "", domain.Permanent("speech: recognize", errors.New("распознавание речи не настроено"))
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("lang", s.cfg.Lang)
	if s.cfg.FolderID != "" {
		q.Set("folderId", s.cfg.FolderID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+"?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Api-Key "+s.cfg.APIKey)
	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("speech", "recognize", s.cfg.Lang, start, err)
		return "", domain.Transient("speech: recognize", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err == nil && resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("status %d", resp.StatusCode)
	}
	metrics.ObserveNetworkRequest("speech", "recognize", s.cfg.Lang, start, err)
	if err != nil {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", domain.Permanent("speech: recognize", err)
		}
		return "", domain.Transient("speech: recognize", err)
	}
	var out struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", domain.Transient("speech: recognize", fmt.Errorf("decode: %w", err))
	}
	return out.Result, nil
}
