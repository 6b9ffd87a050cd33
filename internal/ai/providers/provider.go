// Package providers implements the Chat port over the OpenAI and
// Anthropic HTTP APIs.
package providers

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// ChatResponse is the completion plus token accounting.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Provider is the chat completion port. Implementations are safe for
// concurrent use.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}
