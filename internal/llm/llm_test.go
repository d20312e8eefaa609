package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// ════════════════════════════════════════════════════════════════════
// provider.go: types and error taxonomy
// ════════════════════════════════════════════════════════════════════

func TestMessageConstructors(t *testing.T) {
	sys := SystemMessage("你是交易哲学家")
	if sys.Role != RoleSystem || sys.Content != "你是交易哲学家" {
		t.Fatalf("SystemMessage: got %+v", sys)
	}
	user := UserMessage("# User Context")
	if user.Role != RoleUser || user.Content != "# User Context" {
		t.Fatalf("UserMessage: got %+v", user)
	}
}

func TestErrorForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrInvalidCredential},
		{429, ErrRateLimited},
		{504, ErrUpstream},
		{400, ErrUpstream},
		{403, ErrUpstream},
		{500, ErrUpstream},
		{503, ErrUpstream},
	}
	for _, tc := range tests {
		err := ErrorForStatus(tc.status, "boom")
		if !errors.Is(err, tc.want) {
			t.Errorf("ErrorForStatus(%d): got %v, want kind %v", tc.status, err, tc.want)
		}
		if err.StatusCode != tc.status || err.Message != "boom" {
			t.Errorf("ErrorForStatus(%d): fields not carried: %+v", tc.status, err)
		}
	}
}

func TestRetryableAndCode(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		code      string
	}{
		{&APIError{Kind: ErrInvalidCredential}, false, "invalid_credential"},
		{&APIError{Kind: ErrRateLimited}, true, "rate_limited"},
		{&APIError{Kind: ErrTimeout}, true, "timeout"},
		{&APIError{Kind: ErrTransport}, true, "transport_error"},
		{&APIError{Kind: ErrUpstream}, true, "upstream_error"},
		{&APIError{Kind: ErrEmptyResponse}, true, "empty_response"},
		{errors.New("other"), false, ""},
		{nil, false, ""},
	}
	for _, tc := range tests {
		if got := Retryable(tc.err); got != tc.retryable {
			t.Errorf("Retryable(%v): got %v, want %v", tc.err, got, tc.retryable)
		}
		if got := Code(tc.err); got != tc.code {
			t.Errorf("Code(%v): got %q, want %q", tc.err, got, tc.code)
		}
	}
}

func TestAPIErrorString(t *testing.T) {
	err := &APIError{Kind: ErrUpstream, StatusCode: 500, Message: "model overloaded"}
	s := err.Error()
	if !strings.Contains(s, "HTTP 500") || !strings.Contains(s, "model overloaded") {
		t.Fatalf("unexpected Error(): %s", s)
	}

	cause := errors.New("dial tcp: connection refused")
	err = &APIError{Kind: ErrTransport, Cause: cause}
	if !errors.Is(err, cause) || !errors.Is(err, ErrTransport) {
		t.Fatal("APIError should unwrap to both kind and cause")
	}
}

// ════════════════════════════════════════════════════════════════════
// openai.go: client
// ════════════════════════════════════════════════════════════════════

func TestNewClientDefaults(t *testing.T) {
	c := NewClient()
	if c.baseURL != DefaultBaseURL || c.timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	c = NewClient(WithBaseURL("http://custom/v1/"), WithTimeout(5*time.Second))
	if c.BaseURL() != "http://custom/v1" || c.timeout != 5*time.Second {
		t.Fatalf("options not applied: %+v", c)
	}
}

func newMockServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

func completionRequest() CompletionRequest {
	return CompletionRequest{
		Credential:  "sk-test",
		Model:       "deepseek-ai/DeepSeek-V3",
		Messages:    []Message{SystemMessage("instructions"), UserMessage("context")},
		Temperature: 0.6,
		MaxTokens:   500,
	}
}

func TestCompleteSuccess(t *testing.T) {
	server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header: got %q", r.Header.Get("Authorization"))
		}
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if raw["model"] != "deepseek-ai/DeepSeek-V3" {
			t.Errorf("model: got %v", raw["model"])
		}
		if raw["temperature"] != 0.6 {
			t.Errorf("temperature: got %v", raw["temperature"])
		}
		if raw["max_tokens"] != float64(500) {
			t.Errorf("max_tokens: got %v", raw["max_tokens"])
		}
		msgs, _ := raw["messages"].([]any)
		if len(msgs) != 2 {
			t.Errorf("expected 2 messages, got %d", len(msgs))
		} else if m := msgs[0].(map[string]any); m["role"] != "system" || m["content"] != "instructions" {
			t.Errorf("first message: got %v", m)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]string{"role": "assistant", "content": "  【心情】膨胀\n【运动】深蹲×20\n【建议】别得意  \n"},
			}},
		})
	})
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL))
	text, err := c.Complete(context.Background(), completionRequest())
	if err != nil {
		t.Fatal(err)
	}
	if text != "【心情】膨胀\n【运动】深蹲×20\n【建议】别得意" {
		t.Fatalf("got %q", text)
	}
}

func TestCompleteOmitsMaxTokensAndKeepsZeroTemperature(t *testing.T) {
	server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["max_tokens"]; ok {
			t.Errorf("max_tokens should be omitted, got %v", raw["max_tokens"])
		}
		if v, ok := raw["temperature"]; !ok || v != float64(0) {
			t.Errorf("temperature should always be sent, got %v (present=%v)", v, ok)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	defer server.Close()

	req := completionRequest()
	req.MaxTokens = 0
	req.Temperature = 0
	if _, err := NewClient(WithBaseURL(server.URL)).Complete(context.Background(), req); err != nil {
		t.Fatal(err)
	}
}

func TestCompleteStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{"invalid key", 401, `{"error":{"message":"Invalid token","type":"auth"}}`, ErrInvalidCredential, "Invalid token"},
		{"rate limited", 429, `{"error":{"message":"TPM limit reached"}}`, ErrRateLimited, "TPM limit reached"},
		{"server error", 500, `{"error":{"message":"model overloaded"}}`, ErrUpstream, "model overloaded"},
		{"siliconflow shape", 400, `{"code":20012,"message":"Model does not exist."}`, ErrUpstream, "Model does not exist."},
		{"plain body", 502, `bad gateway`, ErrUpstream, "bad gateway"},
		{"gateway timeout", 504, `{"error":{"message":"upstream busy"}}`, ErrUpstream, "upstream busy"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			defer server.Close()

			_, err := NewClient(WithBaseURL(server.URL)).Complete(context.Background(), completionRequest())
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want kind %v", err, tc.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tc.status {
				t.Errorf("StatusCode: got %d, want %d", apiErr.StatusCode, tc.status)
			}
			if apiErr.Message != tc.message {
				t.Errorf("Message: got %q, want %q", apiErr.Message, tc.message)
			}
			if tc.want != ErrTimeout && errors.Is(err, ErrTimeout) {
				t.Errorf("HTTP %d must not be reported as a timeout: %v", tc.status, err)
			}
		})
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	})
	defer server.Close()

	_, err := NewClient(WithBaseURL(server.URL)).Complete(context.Background(), completionRequest())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("got %v, want ErrEmptyResponse", err)
	}
}

func TestCompleteBodylessSuccess(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"no content", http.StatusNoContent},
		{"empty 200", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			defer server.Close()

			_, err := NewClient(WithBaseURL(server.URL)).Complete(context.Background(), completionRequest())
			if !errors.Is(err, ErrEmptyResponse) {
				t.Fatalf("got %v, want ErrEmptyResponse", err)
			}
			if errors.Is(err, ErrUpstream) {
				t.Errorf("bodyless success reported as upstream failure: %v", err)
			}
		})
	}
}

func TestCompleteMalformedBody(t *testing.T) {
	server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	})
	defer server.Close()

	_, err := NewClient(WithBaseURL(server.URL)).Complete(context.Background(), completionRequest())
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("got %v, want ErrUpstream", err)
	}
}

func TestCompleteTimeout(t *testing.T) {
	server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	defer server.Close()

	req := completionRequest()
	req.Timeout = 50 * time.Millisecond
	start := time.Now()
	_, err := NewClient(WithBaseURL(server.URL)).Complete(context.Background(), req)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrInvalidCredential) {
		t.Fatal("timeout must be distinguishable from other kinds")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced: took %v", time.Since(start))
	}
}

func TestCompleteTransportFailure(t *testing.T) {
	server := newMockServer(func(w http.ResponseWriter, r *http.Request) {})
	url := server.URL
	server.Close()

	_, err := NewClient(WithBaseURL(url)).Complete(context.Background(), completionRequest())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("got %v, want ErrTransport", err)
	}
}

func TestCompleteDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer server.Close()

	NewClient(WithBaseURL(server.URL)).Complete(context.Background(), completionRequest())
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly 1 request, got %d", n)
	}
}

func TestPing(t *testing.T) {
	server := newMockServer(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Content != "Hi" {
			t.Errorf("unexpected ping messages: %+v", req.Messages)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 10 {
			t.Errorf("ping should cap max_tokens at 10")
		}
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"Hello"}}]}`))
	})
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL))
	if err := c.Ping(context.Background(), "sk-good", "Qwen/Qwen2.5-7B-Instruct"); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := c.Ping(context.Background(), "bad", "Qwen/Qwen2.5-7B-Instruct"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("Ping with bad key: got %v", err)
	}
}
