package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/middleware"
	"github.com/ukuvago/contractdesk/internal/services"
)

const linkUnavailable = "link invalid or expired"

// statusFor maps a service error kind onto an HTTP status code.
func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidState, services.KindAlreadyFinalized, services.KindConflict:
		return http.StatusConflict
	case services.KindTokenExpired:
		return http.StatusGone
	case services.KindInvalidEvidence:
		return http.StatusUnprocessableEntity
	case services.KindInvalidPassword:
		return http.StatusUnauthorized
	case services.KindUpstreamGenerationFailure:
		return http.StatusBadGateway
	case services.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(kind services.ErrorKind, message string, retryable bool) gin.H {
	return gin.H{"kind": kind, "message": message, "retryable": retryable}
}

// respondError writes a service failure for an authenticated caller.
func respondError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	message := err.Error()
	retryable := false

	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		retryable = svcErr.Retryable()
	}
	if kind == services.KindInternal {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		message = "internal error"
	}

	c.JSON(statusFor(kind), gin.H{
		"error":      errorBody(kind, message, retryable),
		"request_id": middleware.GetRequestID(c),
	})
}

// badRequest rejects malformed input before it reaches the service.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      errorBody(services.KindValidation, message, false),
		"request_id": middleware.GetRequestID(c),
	})
}

// respondPublicError writes a service failure for an anonymous token holder.
// Unknown and expired tokens get the same message.
func respondPublicError(c *gin.Context, err error) {
	kind := services.KindOf(err)

	switch kind {
	case services.KindNotFound, services.KindTokenExpired:
		c.JSON(statusFor(kind), gin.H{"error": linkUnavailable})
	case services.KindAlreadyFinalized:
		c.JSON(http.StatusConflict, gin.H{"error": "This signing request is no longer open"})
	case services.KindInvalidPassword:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
	case services.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "Please try again", "retryable": true})
	case services.KindInvalidEvidence, services.KindInvalidState, services.KindValidation:
		c.JSON(statusFor(kind), gin.H{"error": err.Error()})
	default:
		logger.Error(c.Request.Context(), "public request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
	}
}
