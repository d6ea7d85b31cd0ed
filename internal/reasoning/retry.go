package reasoning

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rendis/copilot/pkg/schema"
	"github.com/sashabaranov/go-openai"
)

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"temporary failure",
	"i/o timeout",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"internal server error",
	"too many requests",
}

// IsRetryable classifies whether a backend error is worth another attempt.
// Cancellation, parse failures, client-side API errors and unrecognized
// errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var cErr *schema.CopilotError
	if errors.As(err, &cErr) {
		return cErr.IsRetryable()
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
