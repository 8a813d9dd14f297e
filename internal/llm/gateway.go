package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nikhilbhutani/promptops/internal/config"
)

// modelPrefixes maps model name prefixes to the provider that serves them.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"gemini", "gemini"},
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"claude", "anthropic"},
}

type gateway struct {
	providers       map[string]Provider
	defaultProvider string
}

func NewGateway(ctx context.Context, cfg config.LLMConfig) (Gateway, error) {
	g := &gateway{
		providers:       make(map[string]Provider),
		defaultProvider: cfg.DefaultProvider,
	}

	if cfg.GeminiKey != "" {
		p, err := NewGeminiProvider(ctx, cfg.GeminiKey)
		if err != nil {
			return nil, err
		}
		g.providers["gemini"] = p
	}
	if cfg.OpenAIKey != "" {
		g.providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey)
	}
	if cfg.AnthropicKey != "" {
		g.providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey)
	}
	if cfg.OllamaURL != "" {
		g.providers["ollama"] = NewOllamaProvider(cfg.OllamaURL)
	}

	if len(g.providers) == 0 {
		slog.Warn("no LLM providers configured, inference requests will fail")
	}
	return g, nil
}

// NewStaticGateway builds a gateway over already constructed providers.
func NewStaticGateway(defaultProvider string, providers ...Provider) Gateway {
	g := &gateway{
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: defaultProvider,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// ChatStream makes exactly one attempt against the resolved provider.
func (g *gateway) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	p, err := g.Provider(g.route(req))
	if err != nil {
		return nil, err
	}
	return p.ChatCompletionStream(ctx, req)
}

func (g *gateway) route(req ChatRequest) string {
	if req.Provider != "" {
		return req.Provider
	}
	model := strings.ToLower(req.Model)
	for _, mp := range modelPrefixes {
		if strings.HasPrefix(model, mp.prefix) {
			if _, ok := g.providers[mp.provider]; ok {
				return mp.provider
			}
		}
	}
	return g.defaultProvider
}

func (g *gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			models = append(models, ModelInfo{Provider: p.Name(), Model: m})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].Model < models[j].Model
	})
	return models
}
