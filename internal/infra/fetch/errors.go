package fetch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vietddude/biomes-client/internal/core/domain"
)

// StatusError is a non-2xx response other than 502.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Is reports 401 and 404 as domain.ErrNotAuthenticated.
func (e *StatusError) Is(target error) bool {
	if target == domain.ErrNotAuthenticated {
		return e.NotAuthenticated()
	}
	return false
}

// NotAuthenticated reports whether the status means no valid session.
func (e *StatusError) NotAuthenticated() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusNotFound
}

// ServerError reports whether the status is a retryable 5xx.
func (e *StatusError) ServerError() bool {
	return e.Status >= 500 && e.Status != http.StatusBadGateway
}

func errorMessage(body []byte) string {
	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Error != "" {
			return structured.Error
		}
		if structured.Message != "" {
			return structured.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return "empty response"
}

func serviceUnavailable(method, path string) error {
	return domain.WrapError(domain.CodeServiceUnavailable,
		fmt.Sprintf("%s %s", method, path), domain.ErrServiceUnavailable)
}

func transient(method, path string, err error) error {
	return domain.WrapError(domain.CodeTransientNetwork, fmt.Sprintf("%s %s", method, path), err)
}
