package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText indicates a request without any text to narrate.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrProviderUnavailable indicates a provider lacks required configuration. It is the
	// one condition the orchestrator handles by falling back to another provider.
	ErrProviderUnavailable = errors.New("synthesis provider unavailable")
	// ErrNoProviderConfigured indicates that no provider can serve the request.
	ErrNoProviderConfigured = fmt.Errorf("%w: no provider configured", ErrProviderUnavailable)
	// ErrProviderTransport marks failures to reach a provider at all.
	ErrProviderTransport = errors.New("synthesis provider unreachable")
	// ErrSynthesisTimeout indicates a job did not reach a terminal status within its
	// polling budget.
	ErrSynthesisTimeout = errors.New("synthesis timed out")
	// ErrAllStorageTiersFailed indicates no storage tier accepted the artifact.
	ErrAllStorageTiersFailed = errors.New("all storage tiers failed")
)

// ProviderError reports a provider that answered with a failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	message := e.Provider + " provider error"

	if e.StatusCode != 0 {
		message = fmt.Sprintf("%s (status %d)", message, e.StatusCode)
	}

	if e.Body != "" {
		message += ": " + e.Body
	}

	if e.Err != nil {
		message += ": " + e.Err.Error()
	}

	return message
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
