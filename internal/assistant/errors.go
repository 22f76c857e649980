package assistant

import (
	"errors"
	"fmt"
)

// TransportError is a failed round-trip to the model: network, auth, quota,
// or an empty reply. The session history is left untouched.
type TransportError struct {
	Provider string
	err      error
}

func (e *TransportError) Error() string {
	return e.err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// NewTransportError wraps err as a transport failure for provider.
func NewTransportError(provider string, err error) error {
	return &TransportError{Provider: provider, err: err}
}

// ContractError means the model replied but the reply does not satisfy the
// response contract.
type ContractError struct {
	Reason string
	Raw    string
	err    error
}

func (e *ContractError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("assistant: response violates contract: %s: %v", e.Reason, e.err)
	}
	return "assistant: response violates contract: " + e.Reason
}

func (e *ContractError) Unwrap() error {
	return e.err
}

func contractError(raw, reason string, err error) error {
	return &ContractError{Reason: reason, Raw: raw, err: err}
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsContract reports whether err is a ContractError.
func IsContract(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}
