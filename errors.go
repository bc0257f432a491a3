package universalis

import (
	"errors"
	"fmt"
)

// Sentinel errors. All use prefix "universalis:". Callers should use errors.Is/errors.As.
var (
	ErrUnknownProvider      = errors.New("universalis: unknown provider")
	ErrProviderUnavailable  = errors.New("universalis: provider unavailable")
	ErrProviderCall         = errors.New("universalis: provider call failed")
	ErrMalformedResponse    = errors.New("universalis: provider response is missing expected fields")
	ErrConversationNotFound = errors.New("universalis: conversation not found")
	ErrUserNotFound         = errors.New("universalis: user not found")
	ErrInvalidSetting       = errors.New("universalis: invalid setting value")
	ErrNotVisionModel       = errors.New("universalis: model does not accept images")
)

// Provider operations reported in ProviderError.Op.
const (
	OpProbe     = "probe"
	OpCall      = "call"
	OpNormalize = "normalize"
)

// ProviderError wraps a failed provider interaction with the provider and the failing step.
// Use errors.Is(err, ErrProviderUnavailable) or errors.Is(err, ErrProviderCall) to classify it.
type ProviderError struct {
	Provider Provider
	Op       string
	Err      error
}

// Error implements error.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("universalis: %s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *ProviderError) Unwrap() error { return e.Err }

// Unavailable wraps cause as a ProviderError matching ErrProviderUnavailable.
func Unavailable(p Provider, cause error) *ProviderError {
	return &ProviderError{Provider: p, Op: OpProbe, Err: fmt.Errorf("%w: %w", ErrProviderUnavailable, cause)}
}

// CallFailed wraps cause as a ProviderError matching ErrProviderCall.
func CallFailed(p Provider, cause error) *ProviderError {
	return &ProviderError{Provider: p, Op: OpCall, Err: fmt.Errorf("%w: %w", ErrProviderCall, cause)}
}

// NormalizeFailed wraps cause as a ProviderError matching both ErrProviderCall and ErrMalformedResponse.
func NormalizeFailed(p Provider, cause error) *ProviderError {
	if !errors.Is(cause, ErrMalformedResponse) {
		cause = fmt.Errorf("%w: %w", ErrMalformedResponse, cause)
	}
	return &ProviderError{Provider: p, Op: OpNormalize, Err: fmt.Errorf("%w: %w", ErrProviderCall, cause)}
}

// Compile-time check that ProviderError implements error.
var _ error = (*ProviderError)(nil)
