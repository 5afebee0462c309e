package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/apperrors"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/approval"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
)

// ApprovalLedger is the part of the ledger exposed over HTTP.
type ApprovalLedger interface {
	Decide(runID string, d approval.Decision) (approval.Request, error)
	Status(runID string) (approval.Request, error)
}

// RunReader reads retained purchase runs.
type RunReader interface {
	Get(runID string) (models.PurchaseRun, error)
}

// ApprovalRecorder counts approval callbacks.
type ApprovalRecorder interface {
	ApprovalDecision(decision, result string)
}

type ApprovalController struct {
	ledger  ApprovalLedger
	runs    RunReader
	metrics ApprovalRecorder
	logger  *zap.Logger
}

func NewApprovalController(ledger ApprovalLedger, runs RunReader, rec ApprovalRecorder, logger *zap.Logger) *ApprovalController {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &ApprovalController{ledger: ledger, runs: runs, metrics: rec, logger: logger}
}

// ApprovalStatusResponse is returned by GET /approval/:run_id/status.
type ApprovalStatusResponse struct {
	approval.Request
	RunState models.RunState `json:"run_state,omitempty"`
}

// Approve handles GET|POST /approval/:run_id/approve.
func (ac *ApprovalController) Approve(ctx *gin.Context) {
	ac.decide(ctx, approval.DecisionApproved)
}

// Reject handles GET|POST /approval/:run_id/reject.
func (ac *ApprovalController) Reject(ctx *gin.Context) {
	ac.decide(ctx, approval.DecisionRejected)
}

func (ac *ApprovalController) decide(ctx *gin.Context, d approval.Decision) {
	runID := ctx.Param("run_id")

	req, err := ac.ledger.Decide(runID, d)
	if err != nil {
		var appErr *apperrors.Error
		result := "error"
		switch {
		case errors.Is(err, approval.ErrNotFound):
			result = "not_found"
			appErr = apperrors.NotFound("approval request not found", err)
		case errors.Is(err, approval.ErrAlreadyDecided):
			result = "already_decided"
			appErr = apperrors.BadRequest("already decided", err)
		case errors.Is(err, approval.ErrExpired):
			result = "expired"
			appErr = apperrors.BadRequest("expired", err)
		default:
			appErr = apperrors.Internal(err)
		}
		ac.metrics.ApprovalDecision(string(d), result)
		ac.logger.Warn("Approval callback refused",
			zap.String("run_id", runID),
			zap.String("decision", string(d)),
			zap.String("result", result),
			zap.String("client_ip", ctx.ClientIP()),
		)
		apperrors.Respond(ctx, appErr)
		return
	}

	ac.metrics.ApprovalDecision(string(d), "recorded")
	ac.logger.Info("Approval callback recorded", zap.String("run_id", runID), zap.String("decision", string(d)))
	ctx.JSON(http.StatusOK, gin.H{
		"status":     string(req.Decision),
		"run_id":     runID,
		"decided_at": req.DecidedAt,
	})
}

// Status handles GET /approval/:run_id/status.
func (ac *ApprovalController) Status(ctx *gin.Context) {
	runID := ctx.Param("run_id")

	req, err := ac.ledger.Status(runID)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			apperrors.Respond(ctx, apperrors.NotFound("approval request not found", err))
			return
		}
		apperrors.Respond(ctx, apperrors.Internal(err))
		return
	}

	resp := ApprovalStatusResponse{Request: req}
	if run, err := ac.runs.Get(runID); err == nil {
		resp.RunState = run.State
	}
	ctx.JSON(http.StatusOK, resp)
}
