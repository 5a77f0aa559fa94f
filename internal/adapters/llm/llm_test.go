package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"remont-lead-bot/internal/domain"
	openai "remont-lead-bot/internal/infra/openai"
)

type stubProvider struct {
	name  string
	out   string
	err   error
	calls int
	last  domain.CompletionRequest
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	s.calls++
	s.last = req
	return s.out, s.err
}

func TestTextFallsBackToSecondary(t *testing.T) {
	primary := &stubProvider{name: "openai", err: domain.Transient("openai", errors.New("503"))}
	secondary := &stubProvider{name: "gemini", out: " ответ "}
	text := NewText(primary, secondary, time.Second, 0, zerolog.Nop())

	out, err := text.Complete(context.Background(), domain.CompletionRequest{User: "вопрос"})
	require.NoError(t, err)
	require.Equal(t, "ответ", out)
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, secondary.calls)
}

func TestTextFailureIsDistinctFromEmptyReply(t *testing.T) {
	empty := NewText(&stubProvider{name: "openai"}, nil, time.Second, 0, zerolog.Nop())
	out, err := empty.Complete(context.Background(), domain.CompletionRequest{User: "q"})
	require.NoError(t, err)
	require.Empty(t, out)

	failing := NewText(&stubProvider{name: "openai", err: errors.New("boom")}, nil, time.Second, 0, zerolog.Nop())
	_, err = failing.Complete(context.Background(), domain.CompletionRequest{User: "q"})
	require.ErrorIs(t, err, domain.ErrLLM)
}

func TestTextTruncatesPrompt(t *testing.T) {
	p := &stubProvider{name: "openai", out: "ok"}
	text := NewText(p, nil, time.Second, 10, zerolog.Nop())
	_, err := text.Complete(context.Background(), domain.CompletionRequest{System: "сист", User: strings.Repeat("я", 50)})
	require.NoError(t, err)
	require.Equal(t, 6, len([]rune(p.last.User)))
}

type fakeChat struct {
	req openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: "{}"}}}}, nil
}

func TestOpenAIProviderRequestsJSON(t *testing.T) {
	chat := &fakeChat{}
	p := NewOpenAI(chat, "yandexgpt-lite", "yandexgpt")
	out, err := p.Complete(context.Background(), domain.CompletionRequest{System: "s", User: "u", JSON: true, MaxTokens: 100})
	require.NoError(t, err)
	require.Equal(t, "{}", out)
	require.NotNil(t, chat.req.ResponseFormat)
	require.Len(t, chat.req.Messages, 2)
	require.Equal(t, 100, chat.req.MaxTokens)
}

func TestImagePollsOperation(t *testing.T) {
	var polls atomic.Int32
	img := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Api-Key key", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"op1","done":false}`))
		case polls.Add(1) < 2:
			_, _ = w.Write([]byte(`{"id":"op1","done":false}`))
		default:
			_, _ = w.Write([]byte(`{"id":"op1","done":true,"response":{"image":"` + img + `"}}`))
		}
	}))
	defer srv.Close()

	gen := NewImage(ImageConfig{URL: srv.URL + "/gen", OperationURL: srv.URL + "/operations", APIKey: "key", FolderID: "f", PollInterval: 5 * time.Millisecond})
	data, mime, err := gen.GenerateImage(context.Background(), "светлая гостиная")
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(data))
	require.Equal(t, "image/jpeg", mime)
	require.EqualValues(t, 2, polls.Load())
}

func TestImageTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"op1","done":false}`))
	}))
	defer srv.Close()
	gen := NewImage(ImageConfig{URL: srv.URL, OperationURL: srv.URL, APIKey: "key", Timeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	_, _, err := gen.GenerateImage(context.Background(), "x")
	require.True(t, domain.IsTransient(err), "err = %v", err)
}

func TestSpeechRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ru-RU", r.URL.Query().Get("lang"))
		_, _ = w.Write([]byte(`{"result":"Москва"}`))
	}))
	defer srv.Close()
	text, err := NewSpeech(SpeechConfig{URL: srv.URL, APIKey: "k"}).Recognize(context.Background(), []byte("ogg"))
	require.NoError(t, err)
	require.Equal(t, "Москва", text)
}

func TestSpeechNotConfigured(t *testing.T) {
	_, err := NewSpeech(SpeechConfig{}).Recognize(context.Background(), []byte("ogg"))
	require.True(t, domain.IsPermanent(err))
}
