package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/ratelimit"
	"remont-lead-bot/internal/infra/retry"
)

type fakeAPI struct {
	calls  []string
	params []tgbotapi.Params
	files  [][]tgbotapi.RequestFile
	errs   []error
}

func (f *fakeAPI) result(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.calls = append(f.calls, endpoint)
	f.params = append(f.params, params)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	raw, _ := json.Marshal(map[string]any{"message_id": len(f.calls), "chat": map[string]any{"id": -100}})
	return &tgbotapi.APIResponse{Ok: true, Result: raw}, nil
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	return f.result(endpoint, params)
}

func (f *fakeAPI) UploadFiles(endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error) {
	f.files = append(f.files, files)
	return f.result(endpoint, params)
}

func (f *fakeAPI) GetFileDirectURL(string) (string, error) { return "", errors.New("not used") }

func testBot(api *fakeAPI) *Bot {
	fast := retry.Policy{MaxAttempts: 3, Base: time.Millisecond, Max: time.Millisecond}
	return newBot(api, ratelimit.NewBucket(0, 0), zerolog.Nop(), WithRetry(fast))
}

func TestSendTextThreadAndKeyboard(t *testing.T) {
	api := &fakeAPI{}
	bot := testBot(api)
	ref, err := bot.SendText(context.Background(), domain.OutboundMessage{
		ChatID:   -100,
		ThreadID: 7,
		Text:     "Новая заявка",
		Keyboard: &domain.Keyboard{Inline: true, Rows: [][]domain.Button{{{Text: "Взять", Data: "take:1"}}}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref.ChatID != -100 || ref.MessageID != 1 || ref.Platform != platform {
		t.Fatalf("ref = %+v", ref)
	}
	p := api.params[0]
	if p["message_thread_id"] != "7" || p["chat_id"] != "-100" {
		t.Fatalf("params = %v", p)
	}
	if !strings.Contains(p["reply_markup"], `"callback_data":"take:1"`) {
		t.Fatalf("markup = %s", p["reply_markup"])
	}
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	api := &fakeAPI{}
	bot := testBot(api)
	text := strings.Repeat("а", 4000) + "\n" + strings.Repeat("б", 200)
	ref, err := bot.SendText(context.Background(), domain.OutboundMessage{ChatID: 1, Text: text, Keyboard: &domain.Keyboard{Remove: true}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(api.calls) != 2 {
		t.Fatalf("calls = %d", len(api.calls))
	}
	if _, ok := api.params[0]["reply_markup"]; ok {
		t.Fatal("keyboard must be attached to the last part only")
	}
	if api.params[1]["reply_markup"] == "" {
		t.Fatal("last part lost keyboard")
	}
	if ref.MessageID != 1 {
		t.Fatalf("ref must point to the first part, got %d", ref.MessageID)
	}
}

func TestRequestRetriesFloodWait(t *testing.T) {
	api := &fakeAPI{errs: []error{
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 0}},
		&tgbotapi.Error{Code: 502, Message: "Bad Gateway"},
	}}
	bot := testBot(api)
	if _, err := bot.SendText(context.Background(), domain.OutboundMessage{ChatID: 1, Text: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(api.calls) != 3 {
		t.Fatalf("calls = %d", len(api.calls))
	}
}

func TestRequestPermanentNotRetried(t *testing.T) {
	api := &fakeAPI{errs: []error{&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}}
	bot := testBot(api)
	_, err := bot.SendText(context.Background(), domain.OutboundMessage{ChatID: 1, Text: "x"})
	if !domain.IsPermanent(err) {
		t.Fatalf("err = %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d", len(api.calls))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
		wait      time.Duration
	}{
		{"flood", &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5}}, true, 5 * time.Second},
		{"server", &tgbotapi.Error{Code: 500}, true, 0},
		{"bad request", &tgbotapi.Error{Code: 400}, false, 0},
		{"network", errors.New("connection reset"), true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			if domain.IsTransient(err) != tc.transient {
				t.Fatalf("transient = %v", domain.IsTransient(err))
			}
			if got := domain.RetryAfter(err); got != tc.wait {
				t.Fatalf("retry after = %s", got)
			}
		})
	}
}

func TestChannelPublishSingleAttempt(t *testing.T) {
	api := &fakeAPI{errs: []error{&tgbotapi.Error{Code: 502}}}
	ch := NewChannel(testBot(api), domain.ChannelMain, -1001)
	_, err := ch.Publish(context.Background(), domain.ScheduledPost{Text: "B"})
	if !domain.IsTransient(err) {
		t.Fatalf("err = %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d", len(api.calls))
	}
}

func TestSendMediaLongCaption(t *testing.T) {
	api := &fakeAPI{}
	bot := testBot(api)
	_, err := bot.SendMedia(context.Background(), domain.OutboundMessage{
		ChatID: 1,
		Text:   strings.Repeat("x", captionLimit+1),
		Media:  domain.Media{Kind: domain.MediaURL, Ref: "https://example.com/a.jpg"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(api.calls) != 2 || api.calls[0] != "sendPhoto" || api.calls[1] != "sendMessage" {
		t.Fatalf("calls = %v", api.calls)
	}
	if _, ok := api.params[0]["caption"]; ok {
		t.Fatal("long caption must go as a separate message")
	}
}
