package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

var (
	// ErrMissingCredential is returned for every request when no API key is configured.
	ErrMissingCredential = errors.New("api key not configured")
	// ErrTimeout is returned when the upstream call exceeds its deadline.
	ErrTimeout = errors.New("gemini request timed out")
	// ErrUnreachable wraps network failures where no HTTP response was received.
	ErrUnreachable = errors.New("gemini endpoint unreachable")
	// ErrInvalidRequest wraps envelope validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	missingCredentialMessage = "API key is not configured. Please add %s to your environment variables."
	timeoutMessage           = "The request to the Gemini API timed out. Please try again later."
	forbiddenMessage         = "Gemini API error: 403 Forbidden. This usually indicates an issue with your API key or permissions."
	genericMessage           = "An error occurred while processing your request. Please check your internet connection and try again."
)

// CredentialError names the settings the selected provider is missing. It
// matches ErrMissingCredential.
type CredentialError struct {
	Variables string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: set %s", ErrMissingCredential, e.Variables)
}

func (e *CredentialError) Is(target error) bool {
	return target == ErrMissingCredential
}

const (
	geminiCredentialVariables = "GEMINI_API_KEY"
	arkCredentialVariables    = "ARK_MODEL and ARK_API_KEY (or ARK_ACCESS_KEY and ARK_SECRET_KEY)"
)

// UpstreamError is a non-2xx answer from the provider.
type UpstreamError struct {
	Status  int
	Message string
	Details any
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// newUpstreamError classifies a failed provider response. The body is decoded
// as JSON when possible and kept as raw text otherwise.
func newUpstreamError(status int, body []byte) *UpstreamError {
	var details any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &details); err != nil {
			details = strings.TrimSpace(string(body))
		}
	}

	message := fmt.Sprintf("Gemini API error: %d", status)
	if status == http.StatusForbidden {
		message = forbiddenMessage
	}

	return &UpstreamError{Status: status, Message: message, Details: details}
}

// Describe maps an error from Service.Chat onto the HTTP status and body the
// chat endpoint answers with.
func Describe(err error) (int, chat.ErrorResponse) {
	var (
		upstream   *UpstreamError
		credential *CredentialError
	)
	switch {
	case errors.As(err, &credential):
		return http.StatusInternalServerError, chat.ErrorResponse{
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprintf(missingCredentialMessage, credential.Variables),
		}
	case errors.Is(err, ErrMissingCredential):
		return http.StatusInternalServerError, chat.ErrorResponse{
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprintf(missingCredentialMessage, geminiCredentialVariables),
		}
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, chat.ErrorResponse{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout, chat.ErrorResponse{Status: http.StatusGatewayTimeout, Message: timeoutMessage}
	case errors.As(err, &upstream):
		status := upstream.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return status, chat.ErrorResponse{Status: status, Message: upstream.Message, Details: upstream.Details}
	default:
		return http.StatusInternalServerError, chat.ErrorResponse{Status: http.StatusInternalServerError, Message: genericMessage}
	}
}
