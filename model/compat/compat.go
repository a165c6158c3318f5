// Package compat implements model.Model for OpenAI-compatible chat endpoints
// (Ollama, vLLM, DeepSeek, Azure proxies) that only need a base URL and key.
package compat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hupe1980/dealmesh/model"
)

// Options configure the compatible-endpoint adapter.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	APIKey      string
	BaseURL     string
}

// Model talks to an OpenAI-compatible /chat/completions endpoint.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel builds a client from options. BaseURL must include the /v1 suffix
// expected by the endpoint.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{Model: "llama3.1", Temperature: 0.2, MaxTokens: 1024}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	return &Model{client: openai.NewClientWithConfig(cfg), opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		creq := openai.ChatCompletionRequest{
			Model:       m.opts.Model,
			Messages:    buildMessages(req),
			Temperature: m.opts.Temperature,
			MaxTokens:   m.opts.MaxTokens,
		}
		if req.Stream {
			m.stream(ctx, creq, out, errCh)
			return
		}
		resp, err := m.client.CreateChatCompletion(ctx, creq)
		if err != nil {
			errCh <- fmt.Errorf("compat api error: %w", err)
			return
		}
		if len(resp.Choices) == 0 {
			errCh <- fmt.Errorf("no choices returned")
			return
		}
		out <- model.Response{
			ID:           resp.ID,
			Text:         resp.Choices[0].Message.Content,
			FinishReason: string(resp.Choices[0].FinishReason),
			Usage: &model.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
	}()
	return out, errCh
}

func (m *Model) stream(ctx context.Context, creq openai.ChatCompletionRequest, out chan<- model.Response, errCh chan<- error) {
	creq.Stream = true
	stream, err := m.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		errCh <- fmt.Errorf("compat streaming error: %w", err)
		return
	}
	defer stream.Close()

	var (
		text   strings.Builder
		id     string
		reason string
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errCh <- fmt.Errorf("compat streaming error: %w", err)
			return
		}
		id = chunk.ID
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				out <- model.Response{ID: id, Partial: true, Text: ch.Delta.Content}
			}
			if ch.FinishReason != "" {
				reason = string(ch.FinishReason)
			}
		}
	}
	out <- model.Response{ID: id, Text: text.String(), FinishReason: reason}
}

func buildMessages(req model.Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.Instructions != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Instructions})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case model.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case model.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: msg.Text})
	}
	return msgs
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "compat"}
}
