package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 2000
)

// OpenAIConfig configures the chat-completion generator. BaseURL may point
// at any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

// OpenAIGenerator implements Generator with a chat completion.
type OpenAIGenerator struct {
	cfg    OpenAIConfig
	sdk    *openai.Client
	logger *slog.Logger
}

// NewOpenAIGenerator creates the generator. An empty API key is an error.
func NewOpenAIGenerator(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("decision: openai api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	sdkCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIGenerator{
		cfg:    cfg,
		sdk:    openai.NewClientWithConfig(sdkCfg),
		logger: logger.With(slog.String("component", "decision")),
	}, nil
}

// Analyze asks the model for decisions. Failures are logged and replaced by
// Fallback; the returned error is always nil.
func (g *OpenAIGenerator) Analyze(ctx context.Context, in Input) (Analysis, error) {
	a, err := g.analyze(ctx, in)
	if err != nil {
		g.logger.ErrorContext(ctx, "analysis failed, using fallback", slog.String("error", err.Error()))
		return Fallback(), nil
	}
	return a, nil
}

func (g *OpenAIGenerator) analyze(ctx context.Context, in Input) (Analysis, error) {
	resp, err := g.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(in)},
		},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("decision: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, errors.New("decision: empty completion")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	a, dropped, err := ParseAnalysis(content)
	if err != nil {
		g.logger.DebugContext(ctx, "unparseable model output", slog.String("content", content))
		return Analysis{}, err
	}
	for _, reason := range dropped {
		g.logger.WarnContext(ctx, "decision dropped", slog.String("reason", reason))
	}
	g.logger.InfoContext(ctx, "analysis generated",
		slog.Int("decisions", len(a.Decisions)),
		slog.String("risk", a.RiskAssessment),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return a, nil
}
