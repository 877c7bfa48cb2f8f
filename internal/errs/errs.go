// Package errs defines the error taxonomy shared by the store, relevance,
// provider, and dispatch layers. Every terminal error carries a stable
// machine-readable code alongside its message; messages never include
// credentials or internal stack detail.
package errs

import (
	"fmt"
	"strings"
)

// Stable error codes, used by callers (and the HTTP layer) to map errors
// without string matching on messages.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeNotFound              = "RESOURCE_NOT_FOUND"
	CodeUnsupportedCapability = "UNSUPPORTED_CAPABILITY"
	CodeModelProvisioning     = "MODEL_PROVISIONING_ERROR"
	CodeProviderCall          = "PROVIDER_CALL_ERROR"
	CodeAllProvidersExhausted = "ALL_PROVIDERS_EXHAUSTED"
)

// Coder is implemented by all errors in this package.
type Coder interface {
	error
	Code() string
}

// ValidationError reports bad input shape or range. Local, never retried.
type ValidationError struct {
	Message string
}

func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Code() string  { return CodeValidation }

// NotFoundError reports a missing resource id. Local.
type NotFoundError struct {
	Resource string
	ID       string
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %q not found", e.Resource, e.ID)
}
func (e *NotFoundError) Code() string { return CodeNotFound }

// UnsupportedCapabilityError reports a parameter sent to a provider whose
// declared capabilities forbid it. Adapters raise this instead of silently
// dropping the parameter so misconfiguration stays visible.
type UnsupportedCapabilityError struct {
	Provider   string
	Capability string
	Detail     string
}

func (e *UnsupportedCapabilityError) Error() string {
	msg := fmt.Sprintf("provider %q does not support %s", e.Provider, e.Capability)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
func (e *UnsupportedCapabilityError) Code() string { return CodeUnsupportedCapability }

// ModelProvisioningError reports a failed local model pull, distinct from a
// generic call failure so callers can suggest pulling manually.
type ModelProvisioningError struct {
	Provider string
	Model    string
	Reason   string
}

func (e *ModelProvisioningError) Error() string {
	return fmt.Sprintf("failed to provision model %q on %s: %s (try pulling it manually)",
		e.Model, e.Provider, e.Reason)
}
func (e *ModelProvisioningError) Code() string { return CodeModelProvisioning }

// ProviderCallError reports one candidate's inference failure. Recoverable
// via fallback; it surfaces to callers only wrapped in
// AllProvidersExhaustedError.
type ProviderCallError struct {
	Provider string
	Err      error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("provider %s call failed: %v", e.Provider, e.Err)
}
func (e *ProviderCallError) Code() string  { return CodeProviderCall }
func (e *ProviderCallError) Unwrap() error { return e.Err }

// ProviderFailure records why one fallback candidate was not usable.
type ProviderFailure struct {
	Provider string
	Reason   string
}

// AllProvidersExhaustedError is terminal: every fallback candidate failed.
type AllProvidersExhaustedError struct {
	Failures []ProviderFailure
}

func (e *AllProvidersExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Provider + ": " + f.Reason
	}
	return "all providers exhausted: " + strings.Join(parts, "; ")
}
func (e *AllProvidersExhaustedError) Code() string { return CodeAllProvidersExhausted }
