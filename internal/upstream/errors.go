package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/delegator/internal/retry"
	openai "github.com/sashabaranov/go-openai"
)

// ErrUpstream is matched by every *UpstreamError.
var ErrUpstream = errors.New("upstream error")

// UpstreamError is a non-retryable failure reported by the endpoint itself,
// usually an HTTP status outside 2xx.
type UpstreamError struct {
	// Status is the HTTP status code, or 0 when the response was malformed.
	Status int

	// Model is the model that was requested.
	Model string

	// Message is the endpoint's error message or response body.
	Message string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	var parts []string
	parts = append(parts, "upstream")
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Status != 0 {
		parts = append(parts, http.StatusText(e.Status))
	}
	return strings.Join(parts, " ")
}

// Is reports whether target is ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// classify maps a go-openai failure onto the retry taxonomy. HTTP status
// errors become *UpstreamError. Cancellation passes through untouched.
func classify(err error, model string) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &UpstreamError{Status: apiErr.HTTPStatusCode, Model: model, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &UpstreamError{Status: reqErr.HTTPStatusCode, Model: model, Message: truncate(msg, 512)}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	// A bad certificate arrives inside a *net.OpError, which would otherwise
	// read as a connection failure.
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return retry.Permanent(fmt.Errorf("upstream TLS verification failed: %w", err))
	}
	if retry.IsTransient(err) {
		return retry.Transient(fmt.Errorf("upstream request failed: %w", err))
	}
	return fmt.Errorf("upstream request failed: %w", err)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
