package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banux/nxt-catalog/internal/catalog"
)

// APIError is a non-2xx response of the catalog API.
type APIError struct {
	Status  int
	Message string
	// Fields holds per-field validation messages, when the API sent any.
	Fields catalog.FieldErrors
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog api: status %d", e.Status)
	}
	return fmt.Sprintf("catalog api: status %d: %s", e.Status, e.Message)
}

// NotFound reports whether the API answered 404.
func (e *APIError) NotFound() bool { return e.Status == http.StatusNotFound }

// ErrorBody is the JSON error document of the catalog API.
type ErrorBody struct {
	Message string              `json:"message"`
	Errors  catalog.FieldErrors `json:"errors,omitempty"`
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Message = body.Message
		if len(body.Errors) > 0 {
			apiErr.Fields = body.Errors
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
