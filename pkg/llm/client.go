// Package llm is the model backend boundary: a minimal chat client and the
// structured output contract the backend must honour.
package llm

import (
	"context"
	"errors"
)

// ErrBackend wraps failures returned by a model backend.
var ErrBackend = errors.New("model backend error")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
	// Model identifies the backing model, e.g. for answer provenance.
	Model() string
}

type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type Response struct {
	Content string `json:"content"`
}
