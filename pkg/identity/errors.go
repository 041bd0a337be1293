package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrClientNotFound is returned when a realm has no client with the requested clientId
var ErrClientNotFound = errors.New("client not found")

// ProviderError is a non-2xx answer from the identity provider.
// Status is 0 when no response was received.
type ProviderError struct {
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("identity provider unreachable: %s", e.Message)
	}
	return fmt.Sprintf("identity provider returned %d: %s", e.Status, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// providerErrorBody covers the error shapes the admin API and token
// endpoint return
type providerErrorBody struct {
	ErrorMessage     string `json:"errorMessage"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

// providerMessage extracts the human-readable message from an error body,
// falling back to the raw body and then the status text
func providerMessage(status int, body []byte) string {
	var parsed providerErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.ErrorMessage != "":
			return parsed.ErrorMessage
		case parsed.ErrorDescription != "":
			return parsed.ErrorDescription
		case parsed.Error != "":
			return parsed.Error
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

func newProviderError(resp *http.Response, body []byte) *ProviderError {
	return &ProviderError{Status: resp.StatusCode, Message: providerMessage(resp.StatusCode, body)}
}
