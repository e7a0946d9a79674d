package llm

import (
	"errors"
	"fmt"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code when the provider answered (401, 429, 500, etc.)
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: rate limiting, a
// server-side error, or no answer at all.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.Code == 429:
		return true
	case e.Code >= 500:
		return true
	case e.Code == 0 && e.Err != nil:
		return true
	}
	return false
}

// AsProviderError classifies err as a ProviderError, wrapping foreign
// errors under provider.
func AsProviderError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: provider, Message: "call failed", Err: err}
}
