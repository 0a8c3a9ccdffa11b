package modules

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openconveyor/conveyor/pkg/dispatch"
	"github.com/openconveyor/conveyor/pkg/result"
)

// maxFetchBody caps how much response body http.fetch returns.
const maxFetchBody = 1 << 20

var fetchClient = &http.Client{Timeout: 30 * time.Second}

// HTTPFetch performs an HTTP GET (or the "method" parameter) against the
// "url" parameter and returns status, headers of interest, and the body.
func HTTPFetch(ctx context.Context, mc *dispatch.Context) (any, error) {
	rawURL, ok := mc.StringParam("url")
	if !ok {
		return nil, result.NewValidationError("url", "url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, result.NewInvalidValueError("url", "url must be an absolute http or https URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, result.NewInvalidValueError("url", fmt.Sprintf("unsupported scheme %q", parsed.Scheme))
	}

	method := http.MethodGet
	if m, ok := mc.StringParam("method"); ok {
		method = m
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, result.NewInvalidValueError("method", err.Error())
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, result.NewNetworkError("request failed", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, result.NewNetworkError("failed to read response body", rawURL, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, result.NewRateLimitedError("rate limited by "+parsed.Host, parseRetryAfter(resp))
	}
	if resp.StatusCode >= 400 {
		return nil, result.NewAPIError(
			fmt.Sprintf("%s returned status %d", parsed.Host, resp.StatusCode),
			rawURL, resp.StatusCode)
	}

	return map[string]any{
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
	}, nil
}

// parseRetryAfter reads the Retry-After header in seconds, defaulting to
// one second.
func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
