package gateway

import (
	"fmt"
	"io"
	"net/http"
)

// readBody drains a response body, capped so a misbehaving provider cannot
// balloon memory or logs.
func readBody(resp *http.Response) []byte {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	return b
}

// classifyStatus maps a non-2xx provider response onto the adapter error
// taxonomy: 5xx is retryable, everything else is terminal.
func classifyStatus(provider string, status int, body []byte) error {
	snippet := body
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, provider, status, snippet)
	}
	return fmt.Errorf("%w: %s returned %d: %s", ErrRejected, provider, status, snippet)
}

// transportErr wraps a connection-level failure as retryable.
func transportErr(provider string, err error) error {
	return fmt.Errorf("%w: %s request failed: %v", ErrUnavailable, provider, err)
}
