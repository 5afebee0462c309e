package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
)

const serviceName = "fortaleza-purchase-agent"

type HealthController struct {
	mode    models.Mode
	version string
	pending func() int
}

func NewHealthController(mode models.Mode, version string, pending func() int) *HealthController {
	return &HealthController{mode: mode, version: version, pending: pending}
}

// Root handles GET /.
func (hc *HealthController) Root(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"status":  "running",
		"mode":    hc.mode,
		"version": hc.version,
	})
}

// Health handles GET /health.
func (hc *HealthController) Health(ctx *gin.Context) {
	resp := gin.H{"status": "healthy", "service": serviceName}
	if hc.pending != nil {
		resp["pending_approvals"] = hc.pending()
	}
	ctx.JSON(http.StatusOK, resp)
}
