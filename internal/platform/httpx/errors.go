package httpx

import (
	"errors"
	"net/http"

	"github.com/covenant-app/covenant/internal/shared"
)

// Generic error codes for failures outside the access-plane taxonomy.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeValidation = "VALIDATION_FAILED"
	CodeInternal   = "INTERNAL"
)

// RespondError maps domain errors to HTTP responses.
func RespondError(w http.ResponseWriter, err error) {
	if accessErr, ok := shared.AsAccessError(err); ok {
		JSON(w, accessErr.Code.Status(), ErrorPayload{
			Error:    accessErr.Message,
			Code:     string(accessErr.Code),
			Required: accessErr.Required,
			Role:     accessErr.Role,
			LockedBy: accessErr.LockedBy,
		})
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Error(w, http.StatusNotFound, CodeNotFound, "resource not found")
	case errors.Is(err, shared.ErrValidation):
		Error(w, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Error(w, http.StatusUnauthorized, string(shared.CodeAuthRequired), "invalid credentials")
	default:
		Error(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
