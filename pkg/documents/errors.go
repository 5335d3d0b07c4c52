package documents

import (
	"errors"
	"fmt"
	"net/http"

	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
)

var (
	// ErrNotFound indicates no document exists under the key.
	ErrNotFound = fmt.Errorf("document %w", tderrors.ErrNotFound)
	// ErrEmptyKey indicates an empty storage key was provided.
	ErrEmptyKey = fmt.Errorf("storage key must not be empty: %w", tderrors.ErrValidation)
	// ErrInvalidKey indicates the storage key contains a path traversal segment.
	ErrInvalidKey = fmt.Errorf("storage key contains invalid path segment: %w", tderrors.ErrValidation)
)

// MapHTTPStatus maps storage errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrEmptyKey) || errors.Is(err, ErrInvalidKey) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
