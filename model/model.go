package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned by Complete when a model finished without text.
var ErrEmptyResponse = errors.New("model: empty response")

// Message is one turn of a chat style prompt.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request captures the normalized model input produced by workers.
type Request struct {
	Instructions string    `json:"instructions"` // System prompt, optional
	Messages     []Message `json:"messages"`
	Stream       bool      `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"` // Indicates if this is a partial response
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "compat", "mock"
}

// Model is the minimal interface required by workers to drive generation.
// Providers emit zero or more partial chunks followed by one final Response
// on the first channel; at most one error is sent on the second.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Prompt builds a single user message request.
func Prompt(text string) Request {
	return Request{Messages: []Message{{Role: RoleUser, Text: text}}}
}

// Completion is the drained result of a Generate call.
type Completion struct {
	Text     string
	Usage    TokenUsage
	Duration time.Duration
}

// Complete drains Generate into the final text. Partial chunks are only used
// when the provider never emits a final chunk.
func Complete(ctx context.Context, m Model, req Request) (Completion, error) {
	start := time.Now()
	respCh, errCh := m.Generate(ctx, req)

	var (
		partial strings.Builder
		final   *Response
	)
	for resp := range respCh {
		if resp.Partial {
			partial.WriteString(resp.Text)
			continue
		}
		r := resp
		final = &r
	}
	if err := <-errCh; err != nil {
		return Completion{Duration: time.Since(start)}, err
	}

	out := Completion{Duration: time.Since(start)}
	switch {
	case final != nil:
		out.Text = final.Text
		if final.Usage != nil {
			out.Usage = *final.Usage
		}
	default:
		out.Text = partial.String()
	}
	if strings.TrimSpace(out.Text) == "" {
		return out, ErrEmptyResponse
	}
	return out, nil
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses are matched by substring against the last user message; the
// first registered match wins.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses []mockResponse
	fallback  func(prompt string) (string, error)
	calls     []Request
}

type mockResponse struct {
	match string
	text  string
	err   error
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: provider}}
}

// AddResponse registers a canned completion for prompts containing match.
func (m *MockModel) AddResponse(match, response string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{match: match, text: response})
	return m
}

// AddError registers a failure for prompts containing match.
func (m *MockModel) AddError(match string, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{match: match, err: err})
	return m
}

// WithFallback sets the responder used when no registered match applies.
func (m *MockModel) WithFallback(fn func(prompt string) (string, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
	return m
}

// Calls returns the requests received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of prompts containing match received so far.
func (m *MockModel) CallCount(match string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.Contains(lastUserText(c), match) {
			n++
		}
	}
	return n
}

func (m *MockModel) respond(prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.responses {
		if strings.Contains(prompt, r.match) {
			return r.text, r.err
		}
	}
	if m.fallback != nil {
		return m.fallback(prompt)
	}
	return fmt.Sprintf("Mock response to: %s", prompt), nil
}

func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Text
		}
	}
	return ""
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		full, err := m.respond(lastUserText(req))
		if err != nil {
			errCh <- err
			return
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Text: full, FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
