package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get("request_id")

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusBadRequest, code, message, nil)
}

// RespondUnprocessable reports a request body that parsed but failed validation.
func RespondUnprocessable(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusUnprocessableEntity, "validation_error", message, details)
}

// RespondUnAuthorized always carries the bearer challenge header.
func RespondUnAuthorized(ctx *gin.Context, code, message string) {
	ctx.Header("WWW-Authenticate", "Bearer")
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}
