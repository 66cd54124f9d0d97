package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("completion.BuildRequest", ErrInvalidConfiguration, "max tokens 0")
	want := "completion.BuildRequest: max tokens 0: invalid configuration"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("llm.Registry.Get", ErrProviderNotFound, "")
	want := "llm.Registry.Get: llm provider not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("completion.ResolveToolConfig", ErrConfigurationConflict, "")
	if !errors.Is(err, ErrConfigurationConflict) {
		t.Error("errors.Is should match ErrConfigurationConflict")
	}
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Error("conflict should also match ErrInvalidConfiguration")
	}
}

func TestWrapOpNil(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
}

func TestToolInvocationErrorsShareParent(t *testing.T) {
	for _, err := range []error{ErrNotFunctionCall, ErrInvalidArguments, ErrFunctionNotDefined, ErrFunctionNotFound, ErrFunctionFailed, ErrInvocationDenied} {
		assert.ErrorIs(t, err, ErrToolInvocation)
	}
	assert.Contains(t, ErrFunctionNotDefined.Error(), "not defined")
}

// --- CompletionError tests ---

func TestCompletionError_IsAndUnwrap(t *testing.T) {
	err := error(&CompletionError{Provider: "openai", ResponseID: "resp-1", Err: ErrRateLimit})

	assert.ErrorIs(t, err, ErrCompletionRequestFailed)
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.NotErrorIs(t, err, ErrAuthInvalid)
	assert.Equal(t, "openai: completion request failed (response resp-1): rate limit exceeded", err.Error())
}

func TestNewCompletionError_KeepsExisting(t *testing.T) {
	inner := &CompletionError{ResponseID: "r", Usage: &Usage{TotalTokens: 3}, Err: ErrProviderUnavailable}
	wrapped := fmt.Errorf("stream: %w", inner)

	got := NewCompletionError("bedrock", wrapped)
	require.Same(t, inner, got)
	assert.Equal(t, "bedrock", got.Provider)
	assert.Equal(t, 3, got.Usage.TotalTokens)
}

func TestNewCompletionError_WrapsPlain(t *testing.T) {
	cause := errors.New("connection reset")
	got := NewCompletionError("openai", cause)
	assert.ErrorIs(t, got, cause)
	assert.ErrorIs(t, got, ErrCompletionRequestFailed)
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeInvalidConfiguration, ErrorCodeOf(ErrInvalidConfiguration))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeFunctionNotFound, ErrorCodeOf(ErrFunctionNotFound))
}

func TestErrorCodeOf_MostSpecificWins(t *testing.T) {
	assert.Equal(t, CodeConfigurationConflict, ErrorCodeOf(fmt.Errorf("resolve: %w", ErrConfigurationConflict)))
	assert.Equal(t, CodeFunctionNotDefined, ErrorCodeOf(fmt.Errorf("call 1: %w", ErrFunctionNotDefined)))
	assert.Equal(t, CodeAuthInvalid, ErrorCodeOf(&CompletionError{Err: ErrAuthInvalid}))
	assert.Equal(t, CodeCompletionRequestFailed, ErrorCodeOf(&CompletionError{Err: errors.New("eof")}))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("tool.Registry.Function", ErrFunctionNotFound, "math-add")
	assert.Equal(t, CodeFunctionNotFound, ErrorCodeOf(err))
	assert.Equal(t, CodeFunctionNotFound, err.Code())
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(&CompletionError{Err: ErrRateLimit}))
	assert.True(t, IsRetryableError(ErrCircuitOpen))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(ErrInvalidConfiguration))
}

func TestEveryCodeIsOrdered(t *testing.T) {
	seen := make(map[error]bool, len(codePriority))
	for _, s := range codePriority {
		seen[s] = true
	}
	for s := range errorCodeMap {
		if !seen[s] {
			t.Errorf("sentinel %q missing from codePriority", s)
		}
	}
}
