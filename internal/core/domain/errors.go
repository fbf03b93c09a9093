package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredentialsAvailable = errors.New("no credentials available")
	ErrTotalConcurrencyLimit  = errors.New("total concurrency budget saturated")
	ErrNoModelsAvailable      = errors.New("no models available for tier")
	ErrRoutingDisabled        = errors.New("model routing disabled")
	ErrQueueFull              = errors.New("request queue full")
	ErrProviderNotConfigured  = errors.New("provider not configured")
)

// ErrUnknownConfigKey flags an unrecognised key in a runtime config edit.
// Boot-time loads tolerate unknown keys; runtime PUTs fail fast with this.
type ErrUnknownConfigKey struct {
	Key string
}

func (e *ErrUnknownConfigKey) Error() string {
	return fmt.Sprintf("unknown configuration key: %s", e.Key)
}

// DispatchError wraps a terminal outcome with the message surfaced to the
// downstream client in the canonical Anthropic error shape.
type DispatchError struct {
	Outcome Outcome
	Message string
	// Body holds the raw upstream error body when one exists, so 4xx
	// responses pass through unmodified.
	Body   []byte
	Status int
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed (%s): %s", e.Outcome, e.Message)
}

// NewDispatchError builds a terminal error for an outcome with no upstream body.
func NewDispatchError(outcome Outcome, format string, args ...any) *DispatchError {
	return &DispatchError{
		Outcome: outcome,
		Message: fmt.Sprintf(format, args...),
		Status:  outcome.HTTPStatus(),
	}
}
