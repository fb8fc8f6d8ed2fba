// Package provider abstracts chat-completion backends behind a single
// interface so agents never depend on a vendor SDK directly.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a chat-completion conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model request to invoke a registered tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Model             string
	Messages          []Message
	Temperature       float32
	MaxTokens         int
	Tools             []ToolSpec
	ToolChoice        string
	ParallelToolCalls bool
}

// Usage reports token consumption for one completion, including tokens
// served from the provider's prompt cache.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// Response is a provider-neutral chat completion response.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Provider executes chat completions against one backend.
type Provider interface {
	// Complete runs a single chat completion. Implementations must honor
	// ctx for cancellation and deadlines.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Name identifies the backend for logs and metrics.
	Name() string
}

// Error wraps a backend failure with enough context to decide on retry.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
