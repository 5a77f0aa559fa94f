package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

// Gemini запасной поставщик на Google GenAI.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini создаёт клиента Gemini API.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: не указан ключ")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: создание клиента: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Name реализует Provider.
func (g *Gemini) Name() string { return "gemini" }

// Complete реализует Provider.
func (g *Gemini) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.User), cfg)
	metrics.ObserveNetworkRequest("gemini", "generate_content", g.model, start, err)
	if err != nil {
		return "", domain.Transient("gemini: generate", err)
	}
	if u := resp.UsageMetadata; u != nil {
		metrics.ObserveLLMGeneration(g.model, time.Since(start), int(u.PromptTokenCount), int(u.CandidatesTokenCount), int(u.TotalTokenCount))
	}
	return resp.Text(), nil
}
