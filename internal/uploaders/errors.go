package uploaders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"

	"shorts-publisher/internal/credentials"
)

// Sentinel errors.
var (
	// ErrAuth means the platform rejected the credential and it cannot be
	// refreshed. Never retried.
	ErrAuth = credentials.ErrAuth
	// ErrProcessingTimeout means Instagram never reported a terminal
	// processing state. The publish already happened, so it is only logged.
	ErrProcessingTimeout = errors.New("instagram processing did not finish in time")
)

const redactionMarker = "[REDACTED]"

// ConfigurationError is the only error UploadAll returns to its caller.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// ProtocolError reports a platform response missing required fields.
type ProtocolError struct {
	Platform Target
	Phase    string
	Missing  []string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s %s: response missing %s", e.Platform, e.Phase, strings.Join(e.Missing, ", "))
}

// TransferError reports a non-2xx answer to a binary upload.
type TransferError struct {
	Platform   Target
	StatusCode int
	Body       string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s transfer failed with status %d: %s", e.Platform, e.StatusCode, e.Body)
}

// APIError reports a non-2xx answer to a JSON API call.
type APIError struct {
	Platform   Target
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Platform, e.Op, e.StatusCode, e.Message)
}

// NetworkError wraps connection failures and timeouts.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// PublishError wraps a failure of the request that makes a post public.
// The platform may have published before failing, so it is never retried.
type PublishError struct {
	Platform Target
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s publish outcome unknown: %v", e.Platform, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsRetryable classifies upload errors: network failures, 5xx and 429 are
// retried; auth, protocol, configuration, publish and other 4xx errors are
// not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrAuth) {
		return false
	}
	var pubErr *PublishError
	if errors.As(err, &pubErr) {
		return false
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return false
	}
	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		return retryableStatus(transferErr.StatusCode)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// Redact replaces every occurrence of each secret, raw or URL-escaped, with
// a marker.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, redactionMarker)
		if esc := url.QueryEscape(secret); esc != secret {
			s = strings.ReplaceAll(s, esc, redactionMarker)
		}
		if esc := url.PathEscape(secret); esc != secret {
			s = strings.ReplaceAll(s, esc, redactionMarker)
		}
	}
	return s
}
