package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmehdipour/innbot/internal/model"
	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable means no summary could be produced; callers send the report without one.
var ErrUnavailable = errors.New("summary unavailable")

// ErrDisabled is what Disabled returns; it matches ErrUnavailable.
var ErrDisabled = fmt.Errorf("%w: disabled", ErrUnavailable)

// Summarizer writes a short human description of a company record.
type Summarizer interface {
	Summarize(ctx context.Context, rec model.CompanyRecord) (string, error)
}

// Disabled is used when no LLM endpoint is configured.
type Disabled struct{}

func (Disabled) Summarize(context.Context, model.CompanyRecord) (string, error) {
	return "", ErrDisabled
}

const systemPrompt = "Ты помощник по проверке контрагентов. Опиши компанию в 2-3 предложениях " +
	"по-русски, без выдумок, только по переданным данным. Разрешены теги <b> и <i>."

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
}

// New returns Disabled unless summaries are enabled and a key is present.
func New(cfg config.SummaryConfig) Summarizer {
	if !cfg.Enabled || strings.TrimSpace(cfg.APIKey) == "" || cfg.BaseURL == "" {
		return Disabled{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}

	oc := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:       openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (c *Client) Summarize(ctx context.Context, rec model.CompanyRecord) (string, error) {
	facts, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(facts)},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty answer", ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
