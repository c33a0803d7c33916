package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskrunner/runner/internal/apperrors"
	"github.com/taskrunner/runner/internal/queue"
)

// errorResponse is the JSON shape every 4xx/5xx carries (spec §7
// "surface to caller as 4xx with {error, message}").
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError classifies err per spec §7's error kinds and writes the
// matching status code. Grounded on the teacher's mapDomainError/
// writeMappedError split: a pure classifier plus a thin writer, so
// handlers never hand-pick a status code themselves.
func writeError(c *gin.Context, err error, fallback int, fallbackMsg string) {
	status, kind, msg := classify(err)
	if status == 0 {
		status = fallback
		kind = apperrors.KindUnknown.String()
		if fallbackMsg != "" {
			msg = fallbackMsg
		} else {
			msg = err.Error()
		}
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: kind, Message: msg})
}

func classify(err error) (status int, kind, message string) {
	if err == nil {
		return 0, "", ""
	}
	var transient *apperrors.TransientError
	var permanent *apperrors.PermanentError
	switch {
	case errors.Is(err, queue.ErrInvalidTransition), errors.Is(err, queue.ErrConflict):
		return http.StatusConflict, apperrors.KindTransition.String(), err.Error()
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound, apperrors.KindValidation.String(), err.Error()
	case errors.Is(err, queue.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, apperrors.KindStorageUnavailable.String(), err.Error()
	case errors.As(err, &permanent):
		return http.StatusBadRequest, apperrors.KindValidation.String(), permanent.Error()
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable, apperrors.KindStorageUnavailable.String(), transient.Error()
	default:
		return 0, "", ""
	}
}

// requireJSON binds the request body into out, writing a 400 on failure.
// Returns false when the caller should stop handling the request.
func requireJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
			Error:   apperrors.KindValidation.String(),
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}
