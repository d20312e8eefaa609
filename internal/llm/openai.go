package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is SiliconFlow's OpenAI-compatible API root.
const DefaultBaseURL = "https://api.siliconflow.cn/v1"

// DefaultTimeout bounds a call when neither the client nor the request sets one.
const DefaultTimeout = 30 * time.Second

// Client issues chat-completion requests.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     logrus.FieldLogger
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (e.g., an OpenAI-compatible proxy).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithTimeout sets the default per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a gateway client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.log = l
	}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Complete sends one chat completion and returns the trimmed text of the
// first choice.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", &APIError{Kind: ErrTransport, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		c.log.WithFields(logrus.Fields{"model": req.Model, "status": resp.StatusCode}).
			Warn("chat completion rejected")
		return "", err
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if ctx.Err() != nil {
			return "", classifyTransport(ctx, err)
		}
		if errors.Is(err, io.EOF) {
			return "", &APIError{Kind: ErrEmptyResponse, StatusCode: resp.StatusCode}
		}
		return "", &APIError{Kind: ErrUpstream, StatusCode: resp.StatusCode, Message: "malformed response body", Cause: err}
	}
	if len(result.Choices) == 0 {
		return "", &APIError{Kind: ErrEmptyResponse, StatusCode: resp.StatusCode}
	}

	c.log.WithFields(logrus.Fields{
		"model":   req.Model,
		"latency": time.Since(start).Round(time.Millisecond),
		"tokens":  result.Usage.TotalTokens,
	}).Debug("chat completion ok")

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// Ping sends a minimal completion to verify the credential and model.
func (c *Client) Ping(ctx context.Context, credential, model string) error {
	_, err := c.Complete(ctx, CompletionRequest{
		Credential: credential,
		Model:      model,
		Messages:   []Message{UserMessage("Hi")},
		MaxTokens:  10,
	})
	return err
}

// ── Internal Types ──

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// errorResponse covers both the OpenAI shape ({"error":{"message"}}) and
// SiliconFlow's flat {"code","message"} shape.
type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	Message string `json:"message"`
}

// ── Helpers ──

func checkError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return ErrorForStatus(resp.StatusCode, upstreamMessage(body))
}

func upstreamMessage(body []byte) string {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil {
		if e.Error != nil && e.Error.Message != "" {
			return e.Error.Message
		}
		if e.Message != "" {
			return e.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if r := []rune(msg); len(r) > 200 {
		msg = string(r[:200])
	}
	return msg
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &APIError{Kind: ErrTimeout, Cause: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &APIError{Kind: ErrTimeout, Cause: err}
	}
	return &APIError{Kind: ErrTransport, Cause: err}
}
