package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Pipeline condition markers. Stage code wraps these with Wrap so callers can
// classify failures with errors.Is regardless of the message detail.
var (
	ErrGateClosed      = errors.New("gate closed")
	ErrLockHeld        = errors.New("lock held")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrEmptyPayload    = errors.New("empty payload")
	ErrDirectory       = errors.New("directory error")
	ErrWriteFailed     = errors.New("write failed")
	ErrInvalidSchema   = errors.New("invalid schema")
	ErrMalformedRecord = errors.New("malformed record")
	ErrParseFailure    = errors.New("parse failure")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrWriteFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsBackpressure reports whether err is an expected run-level precondition
// (closed gate or held lock) rather than a failure worth alerting on.
func IsBackpressure(err error) bool {
	return errors.Is(err, ErrGateClosed) || errors.Is(err, ErrLockHeld)
}

// HTTPStatus maps a stage error to the response code the intake endpoint returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrGateClosed), errors.Is(err, ErrLockHeld):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidSchema), errors.Is(err, ErrEmptyPayload),
		errors.Is(err, ErrMalformedRecord), errors.Is(err, ErrParseFailure):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
