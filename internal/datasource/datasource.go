// Package datasource fetches fund quotes, sector rankings, fund search
// hits and news headlines from public Chinese market endpoints. Each
// source caches its results and degrades to the next provider or host
// when one fails.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// --- Sentinel errors ---

// ErrInvalidCode is returned for fund codes that are not six digits.
var ErrInvalidCode = errors.New("fund code must be 6 digits")

// ErrFundNotFound is returned when no provider knows the fund.
var ErrFundNotFound = errors.New("fund not found")

// ErrNoData is returned when an upstream answered but carried nothing usable.
var ErrNoData = errors.New("no data from source")

// ErrBatchTooLarge is returned when a batch request exceeds the configured limit.
var ErrBatchTooLarge = errors.New("too many fund codes in batch")

// ErrEmptyQuery is returned when a search keyword is blank after cleaning.
var ErrEmptyQuery = errors.New("empty search keyword")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

var fundCodeRe = regexp.MustCompile(`^\d{6}$`)

// ValidFundCode reports whether code looks like a mainland fund code.
func ValidFundCode(code string) bool {
	return fundCodeRe.MatchString(code)
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// HTTPClient is the client used when a source is built without one.
var HTTPClient = &http.Client{
	Timeout: 10 * time.Second,
}

// doGet performs a GET and returns the whole body. Responses above 399
// come back as *ErrHTTP.
func doGet(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	if client == nil {
		client = HTTPClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
