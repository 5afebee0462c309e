package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/apperrors"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/dedup"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/logger"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/metrics"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/services"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/signature"
)

// MaxWebhookBody caps the stock alert request body.
const MaxWebhookBody = 64 << 10

const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// RunStarter starts purchase runs for accepted events.
type RunStarter interface {
	Start(event models.StockAlertEvent, mode models.Mode) (models.PurchaseRun, error)
	Mode() models.Mode
}

// WebhookRecorder counts webhook outcomes.
type WebhookRecorder interface {
	WebhookOutcome(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) WebhookOutcome(string)           {}
func (nopRecorder) ApprovalDecision(string, string) {}

// WebhookController accepts signed stock alerts from the inbox monitor.
type WebhookController struct {
	verifier *signature.Verifier
	dedup    dedup.Store
	runs     RunStarter
	validate *validator.Validate
	metrics  WebhookRecorder
	logger   *zap.Logger
}

func NewWebhookController(verifier *signature.Verifier, store dedup.Store, runs RunStarter, rec WebhookRecorder, logger *zap.Logger) *WebhookController {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &WebhookController{
		verifier: verifier,
		dedup:    store,
		runs:     runs,
		validate: validator.New(),
		metrics:  rec,
		logger:   logger,
	}
}

// HandleStockAlert handles POST /webhook/pi.
func (wc *WebhookController) HandleStockAlert(ctx *gin.Context) {
	timestamp := ctx.GetHeader(HeaderTimestamp)
	sig := ctx.GetHeader(HeaderSignature)
	if timestamp == "" || sig == "" {
		wc.reject(ctx, metrics.OutcomeMissingHeaders, logger.EventMissingHeaders,
			apperrors.Unauthorized("missing signature headers", nil))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			wc.reject(ctx, metrics.OutcomeInvalidPayload, "",
				apperrors.New(http.StatusRequestEntityTooLarge, "payload too large", nil))
			return
		}
		wc.reject(ctx, metrics.OutcomeInvalidPayload, "", apperrors.BadRequest("unreadable body", err))
		return
	}

	if err := wc.verifier.Verify(body, timestamp, sig); err != nil {
		switch {
		case errors.Is(err, signature.ErrStaleTimestamp):
			wc.reject(ctx, metrics.OutcomeInvalidTimestamp, logger.EventInvalidTimestamp,
				apperrors.BadRequest("timestamp too old/future", err))
		case errors.Is(err, signature.ErrInvalidSignature):
			wc.reject(ctx, metrics.OutcomeInvalidSignature, logger.EventFailedHMAC,
				apperrors.Unauthorized("invalid signature", err))
		default:
			wc.reject(ctx, metrics.OutcomeError, "", apperrors.Internal(err))
		}
		return
	}

	var event models.StockAlertEvent
	if err := json.Unmarshal(body, &event); err != nil {
		wc.reject(ctx, metrics.OutcomeInvalidPayload, "", apperrors.BadRequest("invalid JSON payload", err))
		return
	}
	if err := wc.validate.Struct(event); err != nil {
		wc.reject(ctx, metrics.OutcomeInvalidPayload, "", apperrors.BadRequest("invalid payload: "+validationSummary(err), err))
		return
	}

	mode, err := models.ResolveOverride(wc.runs.Mode(), event.Mode)
	if err != nil {
		wc.reject(ctx, metrics.OutcomeInvalidPayload, "", apperrors.BadRequest(err.Error(), err))
		return
	}

	if err := wc.dedup.Accept(ctx.Request.Context(), event.EventID); err != nil {
		if errors.Is(err, dedup.ErrDuplicate) {
			wc.reject(ctx, metrics.OutcomeDuplicate, logger.EventDuplicateEvent,
				apperrors.Conflict("duplicate event", err))
			return
		}
		wc.reject(ctx, metrics.OutcomeError, "",
			apperrors.New(http.StatusServiceUnavailable, "event store unavailable", err))
		return
	}

	run, err := wc.runs.Start(event, mode)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRunInProgress):
			wc.reject(ctx, metrics.OutcomeRunInProgress, "", apperrors.Conflict("run in progress", err))
		case errors.Is(err, services.ErrDuplicateRun):
			wc.reject(ctx, metrics.OutcomeDuplicate, logger.EventDuplicateEvent, apperrors.Conflict("duplicate event", err))
		case errors.Is(err, services.ErrShuttingDown):
			wc.forget(ctx, event.EventID)
			wc.reject(ctx, metrics.OutcomeError, "", apperrors.New(http.StatusServiceUnavailable, "shutting down", err))
		default:
			wc.forget(ctx, event.EventID)
			wc.reject(ctx, metrics.OutcomeError, "", apperrors.Internal(err))
		}
		return
	}

	wc.metrics.WebhookOutcome(metrics.OutcomeAccepted)
	wc.logger.Info("Stock alert accepted",
		zap.String("event_id", event.EventID),
		zap.String("run_id", run.ID),
		zap.String("mode", string(run.Mode)),
		zap.String("subject", event.Subject),
	)
	ctx.JSON(http.StatusAccepted, models.AcceptedResponse{
		Status:  "accepted",
		EventID: event.EventID,
		RunID:   run.ID,
		Mode:    run.Mode,
		Message: "purchase run started",
	})
}

// forget releases an event id whose run never started, so the sender's
// retry is not rejected as a duplicate.
func (wc *WebhookController) forget(ctx *gin.Context, eventID string) {
	if err := wc.dedup.Forget(ctx.Request.Context(), eventID); err != nil {
		wc.logger.Error("Failed to release event id", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (wc *WebhookController) reject(ctx *gin.Context, outcome, securityEvent string, appErr *apperrors.Error) {
	wc.metrics.WebhookOutcome(outcome)

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int("status", appErr.Code),
		zap.String("client_ip", ctx.ClientIP()),
	}
	if securityEvent != "" {
		fields = append(fields, logger.SecurityEvent(securityEvent))
	}
	if appErr.Err != nil {
		fields = append(fields, zap.Error(appErr.Err))
	}
	wc.logger.Warn("Stock alert rejected", fields...)

	apperrors.Respond(ctx, appErr)
}

// validationSummary lists the failing fields without echoing their values.
func validationSummary(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "validation failed"
	}
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += ", "
		}
		msg += fe.Field() + " " + fe.Tag()
	}
	return msg
}
