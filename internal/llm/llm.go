package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/comigor/whatsapp-relay/internal/config"
	"github.com/comigor/whatsapp-relay/internal/logger"
	"github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the backend answers without any choice.
var ErrEmptyResponse = errors.New("llm: response contained no choices")

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// Backend turns a prompt into a single completion.
type Backend struct {
	client      Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewBackend wraps client with the model settings from cfg.
func NewBackend(client Client, cfg config.LLMConfig) *Backend {
	temperature := cfg.Temperature
	if temperature == 0 {
		// go-openai drops a zero temperature (omitempty), which the API reads as 1.
		temperature = math.SmallestNonzeroFloat32
	}
	return &Backend{
		client:      client,
		model:       cfg.Model,
		temperature: temperature,
		timeout:     cfg.Timeout,
	}
}

// Complete sends messages to the model and returns the trimmed reply text.
func (b *Backend) Complete(ctx context.Context, messages []Message) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	logger.L.Debug("LLM response received", "model", b.model, "elapsed", time.Since(start), "usage", resp.Usage)

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
