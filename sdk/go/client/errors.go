package client

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
)

// Client-specific errors
var (
	ErrClientClosed   = errors.New("client is closed")
	ErrSyncDisabled   = errors.New("sync is disabled")
	ErrInvalidConfig  = errors.New("invalid client configuration")
	ErrInvalidPayload = errors.New("invalid response payload")
)

// StoreError is returned when the local word list cannot be read or written.
type StoreError = interfaces.StoreError

// ConfigurationError means sync was attempted without an endpoint or a
// caller identity. No request is sent in that case.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("sync is not configured: missing %s", e.Field)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

// TransportError covers network failures and non-2xx responses.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("sync request to %s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("sync request to %s failed with status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("sync request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether a later attempt may succeed.
func (e *TransportError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// ServerError means the response arrived but its envelope reports failure,
// or the payload could not be used.
type ServerError struct {
	Code    int
	Message string
	Err     error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync server error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("sync server error %d: %s", e.Code, e.Message)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt. Only temporary
// transport failures qualify.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}
