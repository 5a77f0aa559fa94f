package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
	"remont-lead-bot/internal/infra/ratelimit"
)

const (
	component      = "vk"
	defaultBaseURL = "https://api.vk.com/method"
	defaultVersion = "5.199"
	requestTimeout = 15 * time.Second
)

// Config параметры стены сообщества.
type Config struct {
	Token   string
	GroupID int64
	Version string
	RPS     float64
	BaseURL string
}

// Wall публикует посты на стену сообщества: загрузка фото и wall.post.
type Wall struct {
	cfg     Config
	http    *http.Client
	limiter ratelimit.Limiter
	blobs   domain.BlobStore
	log     zerolog.Logger
}

var _ domain.Publisher = (*Wall)(nil)

// NewWall создаёт адаптер. blobs нужен для вложений по ключу хранилища и может быть nil.
func NewWall(cfg Config, blobs domain.BlobStore, log zerolog.Logger) *Wall {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	return &Wall{
		cfg:     cfg,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: ratelimit.NewBucket(cfg.RPS, 1),
		blobs:   blobs,
		log:     log,
	}
}

// Publish размещает пост. Одна попытка: повторы выполняет планировщик.
func (w *Wall) Publish(ctx context.Context, post domain.ScheduledPost) (domain.MessageRef, error) {
	if w.cfg.Token == "" || w.cfg.GroupID == 0 {
		return domain.MessageRef{}, domain.Permanent("vk: publish", fmt.Errorf("стена сообщества не настроена"))
	}
	params := url.Values{}
	params.Set("owner_id", strconv.FormatInt(-w.cfg.GroupID, 10))
	params.Set("from_group", "1")
	params.Set("message", stripHTML(post.Text))
	if !post.Media.Empty() {
		attachment, err := w.uploadPhoto(ctx, post.Media)
		if err != nil {
			return domain.MessageRef{}, err
		}
		params.Set("attachments", attachment)
	}
	var res struct {
		PostID int64 `json:"post_id"`
	}
	if err := w.call(ctx, "wall.post", params, &res); err != nil {
		return domain.MessageRef{}, err
	}
	return domain.MessageRef{Platform: component, ChatID: -w.cfg.GroupID, MessageID: res.PostID}, nil
}

func (w *Wall) uploadPhoto(ctx context.Context, media domain.Media) (string, error) {
	data, err := w.mediaBytes(ctx, media)
	if err != nil {
		return "", err
	}
	group := url.Values{}
	group.Set("group_id", strconv.FormatInt(w.cfg.GroupID, 10))
	var server struct {
		UploadURL string `json:"upload_url"`
	}
	if err := w.call(ctx, "photos.getWallUploadServer", group, &server); err != nil {
		return "", err
	}
	uploaded, err := w.upload(ctx, server.UploadURL, data)
	if err != nil {
		return "", err
	}
	save := url.Values{}
	save.Set("group_id", strconv.FormatInt(w.cfg.GroupID, 10))
	save.Set("server", strconv.FormatInt(uploaded.Server, 10))
	save.Set("photo", uploaded.Photo)
	save.Set("hash", uploaded.Hash)
	var saved []struct {
		ID      int64 `json:"id"`
		OwnerID int64 `json:"owner_id"`
	}
	if err := w.call(ctx, "photos.saveWallPhoto", save, &saved); err != nil {
		return "", err
	}
	if len(saved) == 0 {
		return "", domain.Transient("vk: saveWallPhoto", fmt.Errorf("пустой ответ"))
	}
	return fmt.Sprintf("photo%d_%d", saved[0].OwnerID, saved[0].ID), nil
}

type uploadResult struct {
	Server int64  `json:"server"`
	Photo  string `json:"photo"`
	Hash   string `json:"hash"`
}

func (w *Wall) upload(ctx context.Context, uploadURL string, data []byte) (uploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", "image.jpg")
	if err != nil {
		return uploadResult{}, err
	}
	if _, err := part.Write(data); err != nil {
		return uploadResult{}, err
	}
	if err := mw.Close(); err != nil {
		return uploadResult{}, err
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return uploadResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return uploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	start := time.Now()
	resp, err := w.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest(component, "upload", "photo", start, err)
		return uploadResult{}, domain.Transient("vk: upload", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	metrics.ObserveNetworkRequest(component, "upload", "photo", start, err)
	if err != nil {
		return uploadResult{}, domain.Transient("vk: upload", err)
	}
	var res uploadResult
	if err := json.Unmarshal(raw, &res); err != nil || res.Photo == "" || res.Photo == "[]" {
		return uploadResult{}, domain.Permanent("vk: upload", fmt.Errorf("фото не принято: %s", string(raw)))
	}
	return res, nil
}

func (w *Wall) mediaBytes(ctx context.Context, media domain.Media) ([]byte, error) {
	switch {
	case len(media.Data) > 0:
		return media.Data, nil
	case media.Kind == domain.MediaBlob && w.blobs != nil:
		return w.blobs.Get(ctx, media.Ref)
	case media.Kind == domain.MediaURL:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, media.Ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := w.http.Do(req)
		if err != nil {
			return nil, domain.Transient("vk: fetch media", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, domain.Permanent("vk: fetch media", fmt.Errorf("status %d", resp.StatusCode))
		}
		return io.ReadAll(resp.Body)
	}
	return nil, domain.Permanent("vk: media", fmt.Errorf("вложение %s не поддерживается", media.Kind))
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e apiError) Error() string { return fmt.Sprintf("vk error %d: %s", e.Code, e.Message) }

// call выполняет метод API и раскладывает поле response в out.
func (w *Wall) call(ctx context.Context, method string, params url.Values, out any) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	params.Set("access_token", w.cfg.Token)
	params.Set("v", w.cfg.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	start := time.Now()
	resp, err := w.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest(component, method, "api", start, err)
		return domain.Transient("vk: "+method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest(component, method, "api", start, err)
		return domain.Transient("vk: "+method, err)
	}
	if resp.StatusCode >= 500 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest(component, method, "api", start, err)
		return domain.Transient("vk: "+method, err)
	}
	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *apiError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		metrics.ObserveNetworkRequest(component, method, "api", start, err)
		return domain.Transient("vk: "+method, fmt.Errorf("decode response: %w", err))
	}
	if envelope.Error != nil {
		err := classify("vk: "+method, *envelope.Error)
		metrics.ObserveNetworkRequest(component, method, "api", start, err)
		return err
	}
	metrics.ObserveNetworkRequest(component, method, "api", start, nil)
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("vk: %s: decode: %w", method, err)
	}
	return nil
}

// classify: 6 и 9 ограничения частоты, 1 и 10 внутренние ошибки VK, остальное постоянные отказы.
func classify(op string, e apiError) error {
	switch e.Code {
	case 6:
		return domain.FloodWait(op, time.Second, e)
	case 9:
		return domain.FloodWait(op, time.Minute, e)
	case 1, 10:
		return domain.Transient(op, e)
	}
	return domain.Permanent(op, e)
}

var htmlReplacer = strings.NewReplacer("<b>", "", "</b>", "", "<i>", "", "</i>", "", "<u>", "", "</u>", "",
	"&lt;", "<", "&gt;", ">", "&amp;", "&")

// stripHTML убирает разметку Telegram: стена VK принимает только простой текст.
func stripHTML(text string) string {
	return htmlReplacer.Replace(text)
}
