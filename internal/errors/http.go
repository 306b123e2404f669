package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// FromHTTPStatus maps a provider HTTP failure to a typed error. body is the
// (possibly truncated) response body, used to spot quota messages that some
// providers return as 429.
func FromHTTPStatus(provider string, status int, body string) *RecallError {
	msg := fmt.Sprintf("%s returned status %d", provider, status)
	if b := strings.TrimSpace(body); b != "" {
		if len(b) > 200 {
			b = b[:200]
		}
		msg += ": " + b
	}

	lower := strings.ToLower(body)
	switch {
	case status == http.StatusPaymentRequired,
		strings.Contains(lower, "insufficient_quota"),
		strings.Contains(lower, "quota exceeded"):
		return New(ErrCodeQuotaExceeded, msg, nil).
			WithDetail("provider", provider).
			WithSuggestion("check the provider account's billing and quota")
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return New(ErrCodeInvalidCredentials, msg, nil).
			WithDetail("provider", provider).
			WithSuggestion("check the API key (OPENAI_API_KEY or api_key in config)")
	case status == http.StatusTooManyRequests:
		return New(ErrCodeRateLimited, msg, nil).WithDetail("provider", provider)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return NetworkError(msg, nil).WithDetail("provider", provider)
	case status >= 500:
		return New(ErrCodeNetworkUnavailable, msg, nil).WithDetail("provider", provider)
	default:
		return New(ErrCodeInternal, msg, nil).WithDetail("provider", provider)
	}
}

// FromTransport classifies a transport-level failure (no HTTP response).
// Context cancellation is returned unchanged so callers can detect it.
func FromTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NetworkError(provider+" request timed out", err).WithDetail("provider", provider)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return NetworkError(provider+" request timed out", err).WithDetail("provider", provider)
	}
	return New(ErrCodeNetworkUnavailable, provider+" unreachable", err).
		WithDetail("provider", provider)
}
