package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client выполняет Chat Completions запросы к OpenAI-совместимому API.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	authScheme string
	folderID   string
	component  string
}

// Option настраивает клиента.
type Option func(*Client)

// WithFolder включает режим совместимости YandexGPT: ключ Api-Key и заголовок каталога.
func WithFolder(folderID string) Option {
	return func(c *Client) {
		if folderID == "" {
			return
		}
		c.folderID = folderID
		c.authScheme = "Api-Key"
		c.component = "yandexgpt"
	}
}

// WithHTTPClient подменяет HTTP клиента.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient создаёт клиента OpenAI.
func NewClient(apiKey, baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		http:       &http.Client{Timeout: timeout + 5*time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		authScheme: "Bearer",
		component:  "openai",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelURI приводит имя модели к виду gpt://<folder>/<model> в режиме YandexGPT.
func (c *Client) ModelURI(model string) string {
	if c.folderID == "" || strings.Contains(model, "://") {
		return model
	}
	return fmt.Sprintf("gpt://%s/%s", c.folderID, model)
}

// ChatCompletionRequest описывает тело запроса.
type ChatCompletionRequest struct {
	Model          string                        `json:"model"`
	Messages       []ChatMessage                 `json:"messages"`
	Temperature    float64                       `json:"temperature,omitempty"`
	MaxTokens      int                           `json:"max_tokens,omitempty"`
	ResponseFormat *ChatCompletionResponseFormat `json:"response_format,omitempty"`
}

// ChatMessage представляет сообщение в диалоге.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	// RoleSystem системная инструкция.
	RoleSystem = "system"
	// RoleUser сообщение пользователя.
	RoleUser = "user"
	// RoleAssistant ответ модели.
	RoleAssistant = "assistant"
)

// ChatCompletionResponseFormat задаёт формат ответа.
type ChatCompletionResponseFormat struct {
	Type string `json:"type"`
}

const (
	// ResponseFormatTypeJSONObject просит вернуть объект JSON.
	ResponseFormatTypeJSONObject = "json_object"
)

// ChatCompletionResponse описывает ответ модели.
type ChatCompletionResponse struct {
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatCompletionUsage   `json:"usage,omitempty"`
}

// ChatCompletionChoice содержит сообщение модели.
type ChatCompletionChoice struct {
	Message ChatMessage `json:"message"`
}

// ChatCompletionUsage описывает статистику использования токенов.
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CreateChatCompletion вызывает /chat/completions. Ошибки классифицируются как временные или постоянные.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	const op = "chat_completions"
	if c.apiKey == "" {
		return ChatCompletionResponse{}, domain.Permanent(c.component+": "+op, fmt.Errorf("api key is empty"))
	}
	req.Model = c.ModelURI(req.Model)
	body, err := json.Marshal(req)
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("%s: marshal request: %w", c.component, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("%s: build request: %w", c.component, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.authScheme+" "+c.apiKey)
	if c.folderID != "" {
		httpReq.Header.Set("x-folder-id", c.folderID)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveNetworkRequest(c.component, op, req.Model, start, err)
		return ChatCompletionResponse{}, domain.Transient(c.component+": "+op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest(c.component, op, req.Model, start, err)
		return ChatCompletionResponse{}, domain.Transient(c.component+": "+op, err)
	}
	if resp.StatusCode >= 400 {
		err := classifyStatus(c.component+": "+op, resp, respBody)
		metrics.ObserveNetworkRequest(c.component, op, req.Model, start, err)
		return ChatCompletionResponse{}, err
	}
	var completion ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		metrics.ObserveNetworkRequest(c.component, op, req.Model, start, err)
		return ChatCompletionResponse{}, domain.Transient(c.component+": "+op, fmt.Errorf("decode response: %w", err))
	}
	metrics.ObserveNetworkRequest(c.component, op, req.Model, start, nil)
	if completion.Usage != nil {
		metrics.ObserveLLMGeneration(req.Model, time.Since(start), completion.Usage.PromptTokens, completion.Usage.CompletionTokens, completion.Usage.TotalTokens)
	}
	return completion, nil
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func classifyStatus(op string, resp *http.Response, body []byte) error {
	var apiErr apiErrorResponse
	var err error
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
		err = fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Message)
	} else {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.FloodWait(op, parseRetryAfter(resp.Header.Get("Retry-After")), err)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout:
		return domain.Transient(op, err)
	default:
		return domain.Permanent(op, err)
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
