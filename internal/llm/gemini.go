package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider streams completions from the Gemini API.
type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Models() []string {
	return []string{"gemini-2.0-flash", "gemini-2.0-flash-lite", "gemini-1.5-flash", "gemini-1.5-pro"}
}

func (p *GeminiProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system := req.System(); system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)

		var inputTokens, outputTokens int
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				send(ctx, ch, StreamChunk{Error: err, Done: true})
				return
			}
			if u := resp.UsageMetadata; u != nil {
				inputTokens = int(u.PromptTokenCount)
				outputTokens = int(u.CandidatesTokenCount)
			}
			if text := resp.Text(); text != "" {
				if !send(ctx, ch, StreamChunk{Content: text}) {
					return
				}
			}
		}
		send(ctx, ch, StreamChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
	}()

	return ch, nil
}
