package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Client generates the next assistant turn from an ordered history
type Client interface {
	// Generate returns an assistant message for the given history and tools
	Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error)

	// ModelSlug returns the model identifier
	ModelSlug() string

	// MaxTokens returns the context window size in tokens
	MaxTokens() int
}

// ErrContextOverflow signals that the provider truncated the response
// because the context or output limit was reached.
var ErrContextOverflow = errors.New("context window exceeded")

// ContextOverflowError carries the provider finish reason for an overflow
type ContextOverflowError struct {
	Model        string
	FinishReason string
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("maximal context window tokens reached for model %s (finish reason: %s)", e.Model, e.FinishReason)
}

// Is matches ErrContextOverflow
func (e *ContextOverflowError) Is(target error) bool {
	return target == ErrContextOverflow
}

// TransientError marks a provider failure as safe to retry
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransientStatus reports whether an HTTP status code is worth retrying
func IsTransientStatus(code int) bool {
	switch {
	case code == 408, code == 409, code == 429:
		return true
	case code >= 500:
		return true
	}
	return false
}

// IsTransient checks if an error should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContextOverflow) || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"econnreset",
		"etimedout",
		"connection reset",
		"connection refused",
		"rate limit",
		"timeout",
		"429",
		"502",
		"503",
		"504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
