package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/timecapsule/internal/logger"
	"github.com/timmy/timecapsule/internal/service"
)

// writeError renders err as {error, errorId}. Internal causes are logged,
// never sent to the client.
func writeError(c *gin.Context, scope string, err error) {
	svcErr := service.AsError(scope, err)

	status := statusForKind(svcErr.Kind)
	if status >= http.StatusInternalServerError && svcErr.Kind == service.KindUnexpected {
		logger.FromContext(c.Request.Context()).
			WithErrorID(svcErr.ErrorID).
			WithError(err).
			Error("Unhandled request error")
	}

	c.JSON(status, gin.H{
		"error":   svcErr.Message,
		"errorId": svcErr.ErrorID,
	})
}

func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NotFound handles unknown routes.
func NotFound(c *gin.Context) {
	writeError(c, "api", service.NotFoundError("api", "Not found."))
}
