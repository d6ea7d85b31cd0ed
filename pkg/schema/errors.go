package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeReasoning         = "REASONING_ERROR"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeSecurity          = "SECURITY_ERROR"
	ErrCodeConfig            = "CONFIG_ERROR"
)

// CopilotError is the structured error type for errors that cross package boundaries.
// Node-level failures never surface as CopilotError; nodes convert them into state.
type CopilotError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Node    string         `json:"node,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CopilotError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.Node, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CopilotError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure is transient.
// Validation, security, parse and open-circuit errors are never retried.
func (e *CopilotError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeSecurity, ErrCodeParse, ErrCodeCircuitOpen, ErrCodeConfig, ErrCodeNotFound:
		return false
	default:
		return true
	}
}

// NewError creates a new CopilotError.
func NewError(code, message string) *CopilotError {
	return &CopilotError{Code: code, Message: message}
}

// NewErrorf creates a new CopilotError with a formatted message.
func NewErrorf(code, format string, args ...any) *CopilotError {
	return &CopilotError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the workflow node name to the error.
func (e *CopilotError) WithNode(node string) *CopilotError {
	e.Node = node
	return e
}

// WithCause attaches an underlying cause.
func (e *CopilotError) WithCause(err error) *CopilotError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CopilotError) WithDetails(details map[string]any) *CopilotError {
	e.Details = details
	return e
}
