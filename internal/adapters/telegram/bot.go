package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
	"remont-lead-bot/internal/infra/ratelimit"
	"remont-lead-bot/internal/infra/retry"
)

const (
	platform     = "telegram"
	captionLimit = 1024
	sendTimeout  = 15 * time.Second
)

// api подмножество tgbotapi.BotAPI, которое использует адаптер.
type api interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	UploadFiles(endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot адаптер Bot API: отправка в чаты и темы форума, правка, реакции, скачивание файлов.
type Bot struct {
	api     api
	limiter ratelimit.Limiter
	retry   retry.Policy
	blobs   domain.BlobStore
	http    *http.Client
	log     zerolog.Logger
}

var _ domain.Messenger = (*Bot)(nil)

// Option настраивает адаптер.
type Option func(*Bot)

// WithBlobStore позволяет отправлять вложения по ключу хранилища.
func WithBlobStore(store domain.BlobStore) Option {
	return func(b *Bot) { b.blobs = store }
}

// WithRetry подменяет политику повторов.
func WithRetry(p retry.Policy) Option {
	return func(b *Bot) { b.retry = p }
}

// NewBot создаёт адаптер поверх готового клиента tgbotapi.
func NewBot(client *tgbotapi.BotAPI, rps float64, log zerolog.Logger, opts ...Option) *Bot {
	client.Client = &http.Client{Timeout: sendTimeout}
	return newBot(client, ratelimit.NewBucket(rps, 1), log, opts...)
}

func newBot(client api, limiter ratelimit.Limiter, log zerolog.Logger, opts ...Option) *Bot {
	b := &Bot{
		api:     client,
		limiter: limiter,
		retry:   retry.Default(),
		http:    &http.Client{Timeout: sendTimeout},
		log:     log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SendText отправляет текст, разбивая его на части по лимиту Telegram. Клавиатура прикрепляется к последней части.
func (b *Bot) SendText(ctx context.Context, msg domain.OutboundMessage) (domain.MessageRef, error) {
	parts := SplitMessage(msg.Text)
	if len(parts) == 0 {
		return domain.MessageRef{}, domain.Invalid("text", "пустое сообщение")
	}
	var first domain.MessageRef
	for i, part := range parts {
		params := baseParams(msg)
		params.AddNonEmpty("text", part)
		params.AddBool("disable_web_page_preview", msg.NoPreview)
		if i == len(parts)-1 {
			if err := addKeyboard(params, msg.Keyboard); err != nil {
				return domain.MessageRef{}, err
			}
		}
		ref, err := b.call(ctx, "sendMessage", params, nil)
		if err != nil {
			return domain.MessageRef{}, err
		}
		if i == 0 {
			first = ref
		}
	}
	return first, nil
}

// SendMedia отправляет фото или документ с подписью. Длинная подпись уходит отдельным сообщением.
func (b *Bot) SendMedia(ctx context.Context, msg domain.OutboundMessage) (domain.MessageRef, error) {
	if msg.Media.Empty() {
		return b.SendText(ctx, msg)
	}
	file, err := b.fileData(ctx, msg.Media)
	if err != nil {
		return domain.MessageRef{}, err
	}
	endpoint, field := "sendPhoto", "photo"
	if msg.Media.Kind == domain.MediaDocument || msg.Media.AsDocument {
		endpoint, field = "sendDocument", "document"
	}
	params := baseParams(msg)
	tail := ""
	if len([]rune(msg.Text)) <= captionLimit {
		params.AddNonEmpty("caption", msg.Text)
		if err := addKeyboard(params, msg.Keyboard); err != nil {
			return domain.MessageRef{}, err
		}
	} else {
		tail = msg.Text
	}
	ref, err := b.call(ctx, endpoint, params, []tgbotapi.RequestFile{{Name: field, Data: file}})
	if err != nil {
		return domain.MessageRef{}, err
	}
	if tail != "" {
		text := msg
		text.Media = domain.Media{}
		text.ReplyTo = 0
		if _, err := b.SendText(ctx, text); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

// Edit меняет текст отправленного сообщения.
func (b *Bot) Edit(ctx context.Context, ref domain.MessageRef, text string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", ref.ChatID)
	params.AddNonZero("message_id", int(ref.MessageID))
	params.AddNonEmpty("text", text)
	params.AddNonEmpty("parse_mode", tgbotapi.ModeHTML)
	_, err := b.request(ctx, "editMessageText", params, nil)
	return err
}

// SetReaction ставит эмодзи-реакцию на сообщение.
func (b *Bot) SetReaction(ctx context.Context, ref domain.MessageRef, emoji string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", ref.ChatID)
	params.AddNonZero("message_id", int(ref.MessageID))
	if err := params.AddInterface("reaction", []map[string]string{{"type": "emoji", "emoji": emoji}}); err != nil {
		return err
	}
	_, err := b.request(ctx, "setMessageReaction", params, nil)
	return err
}

// AnswerCallback закрывает индикатор загрузки на inline-кнопке.
func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("callback_query_id", callbackID)
	params.AddNonEmpty("text", text)
	_, err := b.request(ctx, "answerCallbackQuery", params, nil)
	return err
}

// DownloadFile скачивает файл пользователя по идентификатору Telegram.
func (b *Bot) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	link, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, classify("telegram: getFile", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest(platform, "download", "file", start, err)
		return nil, domain.Transient("telegram: download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest(platform, "download", "file", start, err)
		if resp.StatusCode >= 500 {
			return nil, domain.Transient("telegram: download", err)
		}
		return nil, domain.Permanent("telegram: download", err)
	}
	data, err := io.ReadAll(resp.Body)
	metrics.ObserveNetworkRequest(platform, "download", "file", start, err)
	if err != nil {
		return nil, domain.Transient("telegram: download", err)
	}
	return data, nil
}

func (b *Bot) call(ctx context.Context, endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (domain.MessageRef, error) {
	resp, err := b.request(ctx, endpoint, params, files)
	if err != nil {
		return domain.MessageRef{}, err
	}
	var sent tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return domain.MessageRef{}, fmt.Errorf("telegram: decode %s: %w", endpoint, err)
	}
	ref := domain.MessageRef{Platform: platform, MessageID: int64(sent.MessageID)}
	if sent.Chat != nil {
		ref.ChatID = sent.Chat.ID
	}
	return ref, nil
}

// request выполняет метод Bot API с ограничением частоты и повторами временных ошибок.
func (b *Bot) request(ctx context.Context, endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error) {
	var resp *tgbotapi.APIResponse
	policy := b.retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.log.Warn().Err(err).Str("method", endpoint).Int("attempt", attempt).Dur("delay", delay).Msg("telegram: повтор запроса")
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		var err error
		if len(files) > 0 {
			resp, err = b.api.UploadFiles(endpoint, params, files)
		} else {
			resp, err = b.api.MakeRequest(endpoint, params)
		}
		metrics.ObserveNetworkRequest(platform, endpoint, params["chat_id"], start, err)
		if err != nil {
			return classify("telegram: "+endpoint, err)
		}
		return nil
	})
	return resp, err
}

func (b *Bot) fileData(ctx context.Context, media domain.Media) (tgbotapi.RequestFileData, error) {
	name := media.FileName
	if name == "" {
		name = "image.jpg"
	}
	switch {
	case len(media.Data) > 0:
		return tgbotapi.FileBytes{Name: name, Bytes: media.Data}, nil
	case media.Kind == domain.MediaURL:
		return tgbotapi.FileURL(media.Ref), nil
	case media.Kind == domain.MediaFileID:
		return tgbotapi.FileID(media.Ref), nil
	case media.Kind == domain.MediaBlob || media.Kind == domain.MediaDocument:
		if b.blobs == nil {
			return nil, domain.Permanent("telegram: media", errors.New("blob store is not configured"))
		}
		data, err := b.blobs.Get(ctx, media.Ref)
		if err != nil {
			return nil, fmt.Errorf("telegram: load blob %s: %w", media.Ref, err)
		}
		return tgbotapi.FileBytes{Name: name, Bytes: data}, nil
	}
	return nil, domain.Invalid("media", string(media.Kind))
}

func baseParams(msg domain.OutboundMessage) tgbotapi.Params {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", msg.ChatID)
	params.AddNonZero("message_thread_id", msg.ThreadID)
	params.AddNonZero("reply_to_message_id", msg.ReplyTo)
	if msg.HTML {
		params.AddNonEmpty("parse_mode", tgbotapi.ModeHTML)
	}
	return params
}

// classify переводит ошибки Bot API в транспортную таксономию.
func classify(op string, err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return domain.Transient(op, err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return domain.FloodWait(op, time.Duration(apiErr.RetryAfter)*time.Second, err)
	case apiErr.Code >= 500:
		return domain.Transient(op, err)
	default:
		return domain.Permanent(op, err)
	}
}
