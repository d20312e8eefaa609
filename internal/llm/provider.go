// Package llm is the gateway to OpenAI-compatible chat-completion endpoints
// (SiliconFlow by default). One call, one HTTP request; failures come back
// as typed errors and are never retried here.
package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Failure kinds. Every error returned by Client wraps exactly one of these.
var (
	ErrInvalidCredential = errors.New("llm: invalid credential")
	ErrRateLimited       = errors.New("llm: rate limited")
	ErrTimeout           = errors.New("llm: request timed out")
	ErrTransport         = errors.New("llm: transport failure")
	ErrUpstream          = errors.New("llm: upstream error")
	ErrEmptyResponse     = errors.New("llm: empty response")
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// CompletionRequest is one chat-completion call. The credential travels with
// the request; the client holds no per-user state.
type CompletionRequest struct {
	Credential  string
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int           // 0 omits max_tokens from the body
	Timeout     time.Duration // 0 uses the client default
}

// APIError describes a failed call. Kind is one of the package sentinels.
type APIError struct {
	Kind       error
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Cause      error
}

func (e *APIError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *APIError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// ErrorForStatus maps a non-2xx HTTP status to an APIError. ErrTimeout is
// reserved for client-side deadlines, so an upstream 504 is ErrUpstream.
func ErrorForStatus(status int, message string) *APIError {
	kind := ErrUpstream
	switch status {
	case http.StatusUnauthorized:
		kind = ErrInvalidCredential
	case http.StatusTooManyRequests:
		kind = ErrRateLimited
	}
	return &APIError{Kind: kind, StatusCode: status, Message: message}
}

// Retryable reports whether a caller may retry err after backing off.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidCredential):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTransport), errors.Is(err, ErrUpstream),
		errors.Is(err, ErrEmptyResponse):
		return true
	}
	return false
}

// Code returns a stable machine-readable name for err's kind, or "" when
// err did not come from this package.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	}
	return ""
}
