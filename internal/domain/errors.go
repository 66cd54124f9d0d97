package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidConfiguration  = fmt.Errorf("invalid configuration")
	ErrConfigurationConflict = fmt.Errorf("%w: both tool call behavior and function choice behavior are set", ErrInvalidConfiguration)

	ErrCompletionRequestFailed = fmt.Errorf("completion request failed")
	ErrProviderNotFound        = fmt.Errorf("llm provider not found")
	ErrConfigLoad              = fmt.Errorf("failed to load configuration")
	ErrDecryption              = fmt.Errorf("decryption failed")

	// Transport errors, wrapped by CompletionError.
	ErrContextOverflow     = fmt.Errorf("context window exceeded")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid         = fmt.Errorf("authentication failed")
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")
	ErrCircuitOpen         = fmt.Errorf("circuit breaker open")

	// Tool invocation errors. These are embedded in tool result messages and
	// are never returned by the completion loop.
	ErrToolInvocation     = fmt.Errorf("tool invocation failed")
	ErrNotFunctionCall    = fmt.Errorf("%w: not a function call", ErrToolInvocation)
	ErrInvalidArguments   = fmt.Errorf("%w: invalid JSON in function arguments", ErrToolInvocation)
	ErrFunctionNotDefined = fmt.Errorf("%w: function not defined", ErrToolInvocation)
	ErrFunctionNotFound   = fmt.Errorf("%w: function not found", ErrToolInvocation)
	ErrFunctionFailed     = fmt.Errorf("%w: function returned an error", ErrToolInvocation)
	ErrInvocationDenied   = fmt.Errorf("%w: invocation denied", ErrToolInvocation)

	// ErrRecursionLimit is logged, never returned: nested auto-invoke is disabled instead.
	ErrRecursionLimit = fmt.Errorf("auto-invoke recursion limit reached")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "completion.BuildRequest")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CompletionError is returned when the remote completion client fails.
// It matches ErrCompletionRequestFailed and unwraps to the transport cause.
type CompletionError struct {
	Provider   string
	ResponseID string
	StatusCode int
	Usage      *Usage
	Err        error
}

func (e *CompletionError) Error() string {
	msg := ErrCompletionRequestFailed.Error()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.ResponseID != "" {
		msg += " (response " + e.ResponseID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool { return target == ErrCompletionRequestFailed }

// NewCompletionError wraps a transport failure. An existing CompletionError
// is returned as is so partial metadata is not lost.
func NewCompletionError(provider string, err error) *CompletionError {
	var ce *CompletionError
	if errors.As(err, &ce) {
		if ce.Provider == "" {
			ce.Provider = provider
		}
		return ce
	}
	return &CompletionError{Provider: provider, Err: err}
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrCircuitOpen)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown                 ErrorCode = "UNKNOWN"
	CodeInvalidConfiguration    ErrorCode = "INVALID_CONFIGURATION"
	CodeConfigurationConflict   ErrorCode = "CONFIGURATION_CONFLICT"
	CodeCompletionRequestFailed ErrorCode = "COMPLETION_REQUEST_FAILED"
	CodeProviderNotFound        ErrorCode = "PROVIDER_NOT_FOUND"
	CodeConfigLoad              ErrorCode = "CONFIG_LOAD"
	CodeDecryption              ErrorCode = "DECRYPTION"
	CodeContextOverflow         ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit               ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid             ErrorCode = "AUTH_INVALID"
	CodeProviderUnavailable     ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeCircuitOpen             ErrorCode = "CIRCUIT_OPEN"
	CodeToolInvocation          ErrorCode = "TOOL_INVOCATION"
	CodeNotFunctionCall         ErrorCode = "NOT_FUNCTION_CALL"
	CodeInvalidArguments        ErrorCode = "INVALID_ARGUMENTS"
	CodeFunctionNotDefined      ErrorCode = "FUNCTION_NOT_DEFINED"
	CodeFunctionNotFound        ErrorCode = "FUNCTION_NOT_FOUND"
	CodeFunctionFailed          ErrorCode = "FUNCTION_FAILED"
	CodeInvocationDenied        ErrorCode = "INVOCATION_DENIED"
	CodeRecursionLimit          ErrorCode = "RECURSION_LIMIT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidConfiguration:    CodeInvalidConfiguration,
	ErrConfigurationConflict:   CodeConfigurationConflict,
	ErrCompletionRequestFailed: CodeCompletionRequestFailed,
	ErrProviderNotFound:        CodeProviderNotFound,
	ErrConfigLoad:              CodeConfigLoad,
	ErrDecryption:              CodeDecryption,
	ErrContextOverflow:         CodeContextOverflow,
	ErrRateLimit:               CodeRateLimit,
	ErrAuthInvalid:             CodeAuthInvalid,
	ErrProviderUnavailable:     CodeProviderUnavailable,
	ErrCircuitOpen:             CodeCircuitOpen,
	ErrToolInvocation:          CodeToolInvocation,
	ErrNotFunctionCall:         CodeNotFunctionCall,
	ErrInvalidArguments:        CodeInvalidArguments,
	ErrFunctionNotDefined:      CodeFunctionNotDefined,
	ErrFunctionNotFound:        CodeFunctionNotFound,
	ErrFunctionFailed:          CodeFunctionFailed,
	ErrInvocationDenied:        CodeInvocationDenied,
	ErrRecursionLimit:          CodeRecursionLimit,
}

// codePriority orders specific sentinels before the parents they wrap, so
// that the chain walk in ErrorCodeOf picks the most specific code.
var codePriority = []error{
	ErrConfigurationConflict,
	ErrNotFunctionCall,
	ErrInvalidArguments,
	ErrFunctionNotDefined,
	ErrFunctionNotFound,
	ErrFunctionFailed,
	ErrInvocationDenied,
	ErrContextOverflow,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrProviderUnavailable,
	ErrCircuitOpen,
	ErrInvalidConfiguration,
	ErrToolInvocation,
	ErrCompletionRequestFailed,
	ErrProviderNotFound,
	ErrConfigLoad,
	ErrDecryption,
	ErrRecursionLimit,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Transport causes inside a CompletionError win over the generic
// completion failure code. Returns CodeUnknown if no sentinel matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
