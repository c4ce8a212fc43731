package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	ping func() error
}

// ping is usually a DB pool ping; nil means readiness only checks the process
func NewHealthHandler(ping func() error) *HealthHandler {
	return &HealthHandler{ping: ping}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(ctx *gin.Context) {
	if h.ping != nil {
		if err := h.ping(); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}
