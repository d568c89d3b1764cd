package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vietddude/mealog/internal/auth"
	"github.com/vietddude/mealog/internal/infra/retry"
	"github.com/vietddude/mealog/internal/infra/storage"
	"github.com/vietddude/mealog/internal/meal"
)

const retryExhaustedMessage = "The service is still failing after several retries. Please try again later."

// classifyError returns the HTTP status and user-facing message for err.
func classifyError(err error) (int, string) {
	var verr *meal.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, meal.ErrNoOwner):
		return http.StatusUnauthorized, "Please sign in first."
	case errors.Is(err, auth.ErrEmailInUse):
		return http.StatusConflict, auth.Message(err)
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, auth.Message(err)
	case errors.Is(err, auth.ErrUserDisabled):
		return http.StatusForbidden, auth.Message(err)
	case auth.IsCredentialError(err):
		return http.StatusUnauthorized, auth.Message(err)
	case errors.Is(err, retry.ErrAttemptsExhausted):
		return http.StatusServiceUnavailable, retryExhaustedMessage
	}

	switch kind := storage.KindOf(err); {
	case kind == storage.KindPermissionDenied:
		return http.StatusForbidden, "You do not have access to this data."
	case kind == storage.KindNotFound:
		return http.StatusNotFound, "The meal was not found."
	case kind == storage.KindInvalidArgument:
		return http.StatusBadRequest, err.Error()
	case kind == storage.KindUnauthenticated:
		return http.StatusUnauthorized, "Please sign in again."
	case kind.Transient():
		return http.StatusServiceUnavailable, retryExhaustedMessage
	default:
		return http.StatusInternalServerError, "Something went wrong."
	}
}

func writeError(c *gin.Context, err error) {
	code, msg := classifyError(err)
	c.JSON(code, gin.H{"error": msg})
}
