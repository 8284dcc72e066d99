package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"

	"replygate/pkg/circuitbreaker"
)

// ClassifyError reports whether err is worth retrying on a later cycle, and a short
// error_type label for logs and metrics.
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return true, "circuit_open"
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	// Gmail API errors carry the HTTP status
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return true, "mailstore_rate_limited"
		case apiErr.Code >= 500:
			return true, "mailstore_5xx"
		case apiErr.Code == http.StatusNotFound:
			return false, "mailstore_not_found"
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return false, "mailstore_auth"
		default:
			return false, "mailstore_4xx"
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "entry too large"):
		return false, "entry_too_large"
	case strings.Contains(errStr, "not found"):
		return false, "not_found"
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "i/o timeout"):
		return true, "cache_unavailable"
	}

	return false, "unknown_error"
}
