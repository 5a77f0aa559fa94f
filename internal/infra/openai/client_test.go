package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"remont-lead-bot/internal/domain"
)

func TestCreateChatCompletionYandexCompat(t *testing.T) {
	var gotModel, gotAuth, gotFolder string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		gotAuth = r.Header.Get("Authorization")
		gotFolder = r.Header.Get("x-folder-id")
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{Choices: []ChatCompletionChoice{{Message: ChatMessage{Role: RoleAssistant, Content: "ok"}}}})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, time.Second, WithFolder("b1g"))
	resp, err := c.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "yandexgpt-lite"})
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if resp.Choices[0].Message.Content != "ok" {
		t.Fatalf("content = %q", resp.Choices[0].Message.Content)
	}
	if gotModel != "gpt://b1g/yandexgpt-lite" || gotAuth != "Api-Key key" || gotFolder != "b1g" {
		t.Fatalf("model=%q auth=%q folder=%q", gotModel, gotAuth, gotFolder)
	}
}

func TestCreateChatCompletionClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))
		_, err := NewClient("key", srv.URL, time.Second).CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
		srv.Close()
		if domain.IsTransient(err) != tc.transient {
			t.Fatalf("status %d: transient=%v err=%v", tc.status, domain.IsTransient(err), err)
		}
		if tc.status == http.StatusTooManyRequests && domain.RetryAfter(err) != 2*time.Second {
			t.Fatalf("retry after = %v", domain.RetryAfter(err))
		}
	}
}
