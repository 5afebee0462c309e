package routes_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/approval"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/controllers"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/dedup"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/metrics"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/ratelimit"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/routes"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/services"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/signature"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type idleStarter struct{}

func (idleStarter) Start(models.StockAlertEvent, models.Mode) (models.PurchaseRun, error) {
	return models.PurchaseRun{}, services.ErrShuttingDown
}
func (idleStarter) Mode() models.Mode { return models.ModeDryRun }

func setupRouter(webhookLimit, approvalLimit int) (*gin.Engine, *metrics.Metrics) {
	log := zap.NewNop()
	ledger := approval.NewLedger(time.Hour, log)
	registry := services.NewRegistry(time.Hour)
	m := metrics.New(ledger.PendingCount, log)

	r := gin.New()
	routes.RegisterRoutes(r, routes.Handlers{
		Webhook:          controllers.NewWebhookController(signature.NewVerifier("secret", 0), dedup.NewMemoryStore(time.Hour), idleStarter{}, m, log),
		Approval:         controllers.NewApprovalController(ledger, registry, m, log),
		Runs:             controllers.NewRunController(registry),
		Health:           controllers.NewHealthController(models.ModeDryRun, "test", ledger.PendingCount),
		WebhookLimiter:   ratelimit.New(webhookLimit, time.Minute),
		ApprovalLimiter:  ratelimit.New(approvalLimit, time.Minute),
		OnWebhookLimited: func() { m.WebhookOutcome(metrics.OutcomeRateLimited) },
		Metrics:          m.Handler(),
	}, log)
	return r, m
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRoutes_Registered(t *testing.T) {
	r, _ := setupRouter(10, 10)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/webhook/pi").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/approval/run-1/approve").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/approval/run-1/reject").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/approval/run-1/status").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/runs/run-1").Code)
}

func TestRoutes_WebhookRateLimited(t *testing.T) {
	r, _ := setupRouter(1, 10)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/webhook/pi").Code)
	w := do(r, http.MethodPost, "/webhook/pi")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	body := do(r, http.MethodGet, "/metrics").Body.String()
	assert.True(t, strings.Contains(body, `purchase_agent_webhook_events_total{outcome="rate_limited"} 1`), body)
}

func TestRoutes_ApprovalLimiterIndependent(t *testing.T) {
	r, _ := setupRouter(1, 1)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/approval/run-1/approve").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/approval/run-1/status").Code)

	// The webhook budget is untouched.
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/webhook/pi").Code)
}
