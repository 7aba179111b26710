package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks failures where a referenced task or template has
	// vanished. Non-retryable: the worker drops the work item.
	ErrNotFound = errors.New("not found")
	// ErrExternalService marks storage, transcription, or LLM call failures.
	ErrExternalService = errors.New("external service error")
	// ErrMalformedResponse marks LLM output that could not be parsed as the
	// expected structure. Workers degrade instead of failing the stage.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrValidation marks bad inputs detected before any collaborator call.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or unusable runtime settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient marks failures worth retrying on a later pass.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short classification string for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExternalService):
		return "external_service"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "transient"
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
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
