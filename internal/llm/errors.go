package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// LLM error codes
const (
	ErrProviderUnavailable  types.ErrorCode = "LLM_PROVIDER_UNAVAILABLE"
	ErrProviderUnauthorized types.ErrorCode = "LLM_PROVIDER_UNAUTHORIZED"
	ErrProviderRateLimited  types.ErrorCode = "LLM_PROVIDER_RATE_LIMITED"
	ErrModelUnresolved      types.ErrorCode = "LLM_MODEL_UNRESOLVED"
	ErrCompletionFailed     types.ErrorCode = "LLM_COMPLETION_FAILED"
	ErrEmbeddingFailed      types.ErrorCode = "LLM_EMBEDDING_FAILED"
	ErrNetworkFailed        types.ErrorCode = "LLM_NETWORK_FAILED"
	ErrTimeoutExceeded      types.ErrorCode = "LLM_TIMEOUT_EXCEEDED"
)

// NewRateLimitError creates the distinguishable, retryable error a provider
// raises when the backend throttles it.
func NewRateLimitError(providerName string) *types.Error {
	return types.NewRetryableError(ErrProviderRateLimited,
		"rate limit exceeded for provider: "+providerName)
}

// NewAuthError creates an authentication error for a provider.
func NewAuthError(providerName string, cause error) *types.Error {
	return &types.Error{
		Code:    ErrProviderUnauthorized,
		Message: fmt.Sprintf("provider %q authentication failed", providerName),
		Cause:   cause,
	}
}

// NewProviderUnavailableError creates a retryable error for a provider that
// is temporarily unreachable.
func NewProviderUnavailableError(providerName string, cause error) *types.Error {
	return &types.Error{
		Code:      ErrProviderUnavailable,
		Message:   "provider temporarily unavailable: " + providerName,
		Retryable: true,
		Cause:     cause,
	}
}

// NewModelUnresolvedError creates the configuration error returned when no
// model can be resolved for a request.
func NewModelUnresolvedError(providerName string) *types.Error {
	return types.NewError(ErrModelUnresolved,
		"no model specified, no default configured, and provider "+providerName+" lists none")
}

// IsRateLimitError reports whether err is the provider rate-limit error
// type, by code.
func IsRateLimitError(err error) bool {
	var kerr *types.Error
	if errors.As(err, &kerr) {
		return kerr.Code == ErrProviderRateLimited
	}
	return false
}

// TranslateError maps a raw backend error onto a coded error by inspecting
// its message. Already-coded errors pass through unchanged.
func TranslateError(providerName string, err error) error {
	if err == nil {
		return nil
	}

	var kerr *types.Error
	if errors.As(err, &kerr) {
		return err
	}

	lowerMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerMsg, "unauthorized") ||
		strings.Contains(lowerMsg, "authentication") ||
		strings.Contains(lowerMsg, "api key"):
		return NewAuthError(providerName, err)
	case strings.Contains(lowerMsg, "rate limit") ||
		strings.Contains(lowerMsg, "too many requests") ||
		strings.Contains(lowerMsg, "429"):
		return NewRateLimitError(providerName)
	case strings.Contains(lowerMsg, "timeout") || strings.Contains(lowerMsg, "deadline"):
		return &types.Error{
			Code:      ErrTimeoutExceeded,
			Message:   err.Error(),
			Retryable: true,
			Cause:     err,
		}
	case strings.Contains(lowerMsg, "network") || strings.Contains(lowerMsg, "connection"):
		return &types.Error{
			Code:      ErrNetworkFailed,
			Message:   err.Error(),
			Retryable: true,
			Cause:     err,
		}
	default:
		return NewProviderUnavailableError(providerName, err)
	}
}
