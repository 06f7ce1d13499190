package engine

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from a model provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable returns true for transient errors (rate limit, server errors).
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// ExhaustedError is returned when every generation attempt failed before an
// artifact could be produced. Feedback holds the message of each failure in
// attempt order.
type ExhaustedError struct {
	Attempts int
	Feedback []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %s", e.Attempts, strings.Join(e.Feedback, "; "))
}
