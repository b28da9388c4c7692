package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"meshforge-backend/internal/models"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// HealthHandler godoc
// @Summary     Health check
// @Description Reports service identity and build version for liveness probes
// @Tags        health
// @Accept      json
// @Produce     json
// @Success     200 {object} models.HealthResponse
// @Router      /health [get]
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Service: "meshforge-backend",
		Version: Version,
	})
}
