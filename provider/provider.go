// Package provider defines the Provider capability the reply loop consumes
// to talk to a language model: single-turn completion, streaming
// completion, embeddings, model metadata, and session-name generation. It
// also owns the shared retry policy and the closed provider error
// taxonomy every concrete engine must map its own errors onto.
package provider

import (
	"context"
	"fmt"

	"github.com/goose-run/goose-core/message"
)

// Usage reports token accounting for one provider call. Fields are never
// negative; a caller that needs a total when the provider didn't report
// one should estimate via a token counter rather than leave it at zero.
type Usage struct {
	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
}

// ProviderUsage pairs the model name that served a request with its usage.
type ProviderUsage struct {
	Model string
	Usage Usage
}

// ModelConfig describes a provider's active model and its limits.
type ModelConfig struct {
	ModelName          string
	ContextLimit       int
	Temperature        *float64
	SupportsStreaming  bool
	SupportsEmbeddings bool
}

// StreamChunk is one item of a streaming completion. Intermediate chunks
// carry an incremental Message with stable tool-request ids across chunks;
// the final chunk in a stream carries Usage.
type StreamChunk struct {
	Message *message.Message
	Usage   *ProviderUsage
	Err     error
}

// Provider is the capability the reply loop depends on. Streaming and
// embeddings are optional: a Provider that doesn't support one returns
// ErrUnsupported.
type Provider interface {
	// Complete runs one non-streaming turn.
	Complete(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (message.Message, ProviderUsage, error)

	// Stream runs one streaming turn. The returned channel is closed when
	// the stream ends; the final item delivered before closing carries
	// Usage.
	Stream(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (<-chan StreamChunk, error)

	// CreateEmbeddings embeds a batch of texts.
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	GetModelConfig() ModelConfig

	// FetchSupportedModels lists models this provider's account/endpoint
	// can serve, or nil if the provider can't enumerate them.
	FetchSupportedModels(ctx context.Context) ([]string, error)

	// GenerateSessionName summarizes a conversation into a short title,
	// at most 100 characters, with reasoning-style prefixes stripped.
	GenerateSessionName(ctx context.Context, conv *message.Conversation) (string, error)
}

// ErrUnsupported is returned by optional Provider methods an engine
// doesn't implement.
var ErrUnsupported = fmt.Errorf("provider: operation not supported")

// ErrorKind is the closed provider error taxonomy. Every concrete engine
// maps its own HTTP statuses and in-body error objects onto one of these.
type ErrorKind string

const (
	ErrAuthentication       ErrorKind = "authentication"
	ErrRateLimitExceeded    ErrorKind = "rate_limit_exceeded"
	ErrContextLengthExceeded ErrorKind = "context_length_exceeded"
	ErrServerError          ErrorKind = "server_error"
	ErrRequestFailed        ErrorKind = "request_failed"
	ErrExecutionError       ErrorKind = "execution_error"
	ErrUsageError           ErrorKind = "usage_error"
)

// Error is the typed error every Provider method returns on failure.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryDelay *float64 // seconds, set only for RateLimitExceeded when the provider advertises one
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the shared retry policy should retry an error
// of this kind.
func (e *Error) Retryable() bool {
	return e.Kind == ErrRateLimitExceeded || e.Kind == ErrServerError
}

// NewError constructs a provider Error wrapping cause.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}
