package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

// ImageConfig параметры асинхронной генерации изображений (YandexART).
type ImageConfig struct {
	URL          string
	OperationURL string
	APIKey       string
	FolderID     string
	Timeout      time.Duration
	PollInterval time.Duration
}

// Image генерирует картинку: запрос создаёт операцию, затем операция опрашивается до готовности.
type Image struct {
	cfg  ImageConfig
	http *http.Client
}

var _ domain.ImageGenerator = (*Image)(nil)

// NewImage создаёт адаптер генерации изображений.
func NewImage(cfg ImageConfig) *Image {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	cfg.OperationURL = strings.TrimRight(cfg.OperationURL, "/")
	return &Image{cfg: cfg, http: &http.Client{Timeout: 15 * time.Second}}
}

type imageRequest struct {
	ModelURI          string         `json:"modelUri"`
	GenerationOptions imageOptions   `json:"generationOptions"`
	Messages          []imageMessage `json:"messages"`
}

type imageOptions struct {
	MimeType    string      `json:"mimeType"`
	AspectRatio aspectRatio `json:"aspectRatio"`
}

type aspectRatio struct {
	WidthRatio  string `json:"widthRatio"`
	HeightRatio string `json:"heightRatio"`
}

type imageMessage struct {
	Weight string `json:"weight"`
	Text   string `json:"text"`
}

type operation struct {
	ID       string `json:"id"`
	Done     bool   `json:"done"`
	Response *struct {
		Image string `json:"image"`
	} `json:"response,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateImage возвращает байты JPEG и их MIME-тип.
func (i *Image) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	if i.cfg.URL == "" || i.cfg.APIKey == "" {
		return nil, "", domain.Permanent("image: generate", errors.New("генерация изображений не настроена"))
	}
	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(imageRequest{
		ModelURI: fmt.Sprintf("art://%s/yandex-art/latest", i.cfg.FolderID),
		GenerationOptions: imageOptions{
			MimeType:    "image/jpeg",
			AspectRatio: aspectRatio{WidthRatio: "16", HeightRatio: "9"},
		},
		Messages: []imageMessage{{Weight: "1", Text: Truncate(prompt, 500)}},
	})
	if err != nil {
		return nil, "", err
	}
	var op operation
	if err := i.do(ctx, http.MethodPost, i.cfg.URL, body, &op); err != nil {
		return nil, "", err
	}
	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, "", domain.Transient("image: poll", ctx.Err())
		case <-ticker.C:
		}
		if err := i.do(ctx, http.MethodGet, i.cfg.OperationURL+"/"+op.ID, nil, &op); err != nil {
			return nil, "", err
		}
	}
	if op.Error != nil {
		return nil, "", domain.Permanent("image: generate", fmt.Errorf("операция %s: %s", op.ID, op.Error.Message))
	}
	if op.Response == nil || op.Response.Image == "" {
		return nil, "", domain.Transient("image: generate", errors.New("пустой результат"))
	}
	data, err := base64.StdEncoding.DecodeString(op.Response.Image)
	if err != nil {
		return nil, "", fmt.Errorf("image: decode: %w", err)
	}
	return data, "image/jpeg", nil
}

func (i *Image) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Api-Key "+i.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if i.cfg.FolderID != "" {
		req.Header.Set("x-folder-id", i.cfg.FolderID)
	}
	start := time.Now()
	resp, err := i.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("image", method, "operation", start, err)
		return domain.Transient("image: "+method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("status %d: %s", resp.StatusCode, Truncate(string(raw), 200))
	}
	metrics.ObserveNetworkRequest("image", method, "operation", start, err)
	switch {
	case err != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return domain.Permanent("image: "+method, err)
	case err != nil:
		return domain.Transient("image: "+method, err)
	}
	return json.Unmarshal(raw, out)
}
