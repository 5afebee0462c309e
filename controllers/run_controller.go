package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/apperrors"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/services"
)

type RunController struct {
	runs RunReader
}

func NewRunController(runs RunReader) *RunController {
	return &RunController{runs: runs}
}

// GetRun handles GET /runs/:run_id.
func (rc *RunController) GetRun(ctx *gin.Context) {
	run, err := rc.runs.Get(ctx.Param("run_id"))
	if err != nil {
		if errors.Is(err, services.ErrRunNotFound) {
			apperrors.Respond(ctx, apperrors.NotFound("run not found", err))
			return
		}
		apperrors.Respond(ctx, apperrors.Internal(err))
		return
	}
	ctx.JSON(http.StatusOK, run)
}
