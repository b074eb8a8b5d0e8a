package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider answers one chat completion. Implementations are stateless per call.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Fixed sampling parameters sent with every completion.
const (
	Temperature = 0.7
	MaxTokens   = 1000
)
