package controllers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/approval"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/controllers"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/services"
)

// --- Mocks ---

type mockRuns struct {
	getFn func(runID string) (models.PurchaseRun, error)
}

func (m *mockRuns) Get(runID string) (models.PurchaseRun, error) {
	if m.getFn == nil {
		return models.PurchaseRun{}, services.ErrRunNotFound
	}
	return m.getFn(runID)
}

// --- Helpers ---

type approvalFixture struct {
	router *gin.Engine
	ledger *approval.Ledger
	runs   *mockRuns
	rec    *recorder
	now    time.Time
}

func newApprovalFixture() *approvalFixture {
	f := &approvalFixture{runs: &mockRuns{}, rec: &recorder{}, now: testNow}
	f.ledger = approval.NewLedger(time.Hour, zap.NewNop()).WithClock(func() time.Time { return f.now })
	ac := controllers.NewApprovalController(f.ledger, f.runs, f.rec, zap.NewNop())

	f.router = gin.New()
	f.router.GET("/approval/:run_id/approve", ac.Approve)
	f.router.POST("/approval/:run_id/approve", ac.Approve)
	f.router.GET("/approval/:run_id/reject", ac.Reject)
	f.router.POST("/approval/:run_id/reject", ac.Reject)
	f.router.GET("/approval/:run_id/status", ac.Status)
	return f
}

func (f *approvalFixture) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// --- Tests ---

func TestApprove_Success(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			f := newApprovalFixture()
			_, err := f.ledger.Create("run-1", 10*time.Minute, models.OrderSummary{Total: "$54.99"})
			require.NoError(t, err)

			w := f.do(method, "/approval/run-1/approve")

			assert.Equal(t, http.StatusOK, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, "approved", body["status"])
			assert.Equal(t, "run-1", body["run_id"])
			assert.Equal(t, []string{"approved:recorded"}, f.rec.decisions)
		})
	}
}

func TestReject_Success(t *testing.T) {
	f := newApprovalFixture()
	_, err := f.ledger.Create("run-1", 10*time.Minute, models.OrderSummary{})
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/approval/run-1/reject")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", decodeBody(t, w)["status"])
}

func TestApprove_UnknownRun(t *testing.T) {
	f := newApprovalFixture()

	w := f.do(http.MethodGet, "/approval/nope/approve")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{"approved:not_found"}, f.rec.decisions)
}

func TestApprove_AlreadyDecided(t *testing.T) {
	f := newApprovalFixture()
	_, err := f.ledger.Create("run-1", 10*time.Minute, models.OrderSummary{})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/approval/run-1/reject").Code)
	w := f.do(http.MethodGet, "/approval/run-1/approve")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "already decided", decodeBody(t, w)["error"])

	req, err := f.ledger.Status("run-1")
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionRejected, req.Decision)
}

func TestApprove_Expired(t *testing.T) {
	f := newApprovalFixture()
	_, err := f.ledger.Create("run-1", 10*time.Minute, models.OrderSummary{})
	require.NoError(t, err)

	f.now = f.now.Add(10*time.Minute + time.Second)
	w := f.do(http.MethodGet, "/approval/run-1/approve")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "expired", decodeBody(t, w)["error"])
}

func TestApprovalStatus(t *testing.T) {
	f := newApprovalFixture()
	_, err := f.ledger.Create("run-1", 10*time.Minute, models.OrderSummary{Total: "$54.99"})
	require.NoError(t, err)
	f.runs.getFn = func(runID string) (models.PurchaseRun, error) {
		return models.PurchaseRun{ID: runID, State: models.StateAwaitingApproval}, nil
	}

	w := f.do(http.MethodGet, "/approval/run-1/status")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "awaiting_approval", body["run_state"])
	assert.Equal(t, "$54.99", body["order_summary"].(map[string]any)["total"])
}

func TestApprovalStatus_ExpiredWithoutRun(t *testing.T) {
	f := newApprovalFixture()
	_, err := f.ledger.Create("run-1", time.Minute, models.OrderSummary{})
	require.NoError(t, err)
	f.now = f.now.Add(2 * time.Minute)

	w := f.do(http.MethodGet, "/approval/run-1/status")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "expired", body["status"])
	assert.NotContains(t, body, "run_state")
}

func TestApprovalStatus_NotFound(t *testing.T) {
	f := newApprovalFixture()

	w := f.do(http.MethodGet, "/approval/missing/status")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
