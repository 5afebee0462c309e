package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/controllers"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/dedup"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/services"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/signature"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-shared-secret"

var testNow = time.Date(2025, 11, 17, 12, 0, 0, 0, time.UTC)

// --- Mocks ---

type mockStarter struct {
	mode    models.Mode
	startFn func(event models.StockAlertEvent, mode models.Mode) (models.PurchaseRun, error)
	started []models.StockAlertEvent
}

func (m *mockStarter) Start(event models.StockAlertEvent, mode models.Mode) (models.PurchaseRun, error) {
	m.started = append(m.started, event)
	if m.startFn != nil {
		return m.startFn(event, mode)
	}
	return models.PurchaseRun{ID: "run-" + event.EventID, EventID: event.EventID, Mode: mode, State: models.StateReceived}, nil
}

func (m *mockStarter) Mode() models.Mode {
	if m.mode == "" {
		return models.ModeDryRun
	}
	return m.mode
}

type recorder struct {
	outcomes  []string
	decisions []string
}

func (r *recorder) WebhookOutcome(outcome string) { r.outcomes = append(r.outcomes, outcome) }
func (r *recorder) ApprovalDecision(decision, result string) {
	r.decisions = append(r.decisions, decision+":"+result)
}

type failingStore struct{}

func (failingStore) Accept(context.Context, string) error { return errors.New("redis: connection refused") }
func (failingStore) Forget(context.Context, string) error { return errors.New("redis: connection refused") }

// --- Helpers ---

type webhookFixture struct {
	router  *gin.Engine
	starter *mockStarter
	store   dedup.Store
	rec     *recorder
}

func newWebhookFixture(store dedup.Store) *webhookFixture {
	if store == nil {
		store = dedup.NewMemoryStore(time.Hour)
	}
	f := &webhookFixture{starter: &mockStarter{}, store: store, rec: &recorder{}}
	verifier := signature.NewVerifier(testSecret, 300*time.Second).WithClock(func() time.Time { return testNow })
	wc := controllers.NewWebhookController(verifier, store, f.starter, f.rec, zap.NewNop())

	f.router = gin.New()
	f.router.POST("/webhook/pi", wc.HandleStockAlert)
	return f
}

func eventBody(t *testing.T, eventID string, extra map[string]string) []byte {
	t.Helper()
	payload := map[string]string{
		"event_id":    eventID,
		"received_at": "2025-11-17T00:00:00Z",
		"subject":     "Fortaleza Blanco is back in stock",
		"direct_link": "https://shop.example.com/products/fortaleza-blanco",
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func (f *webhookFixture) post(body []byte, ts, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/pi", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if ts != "" {
		req.Header.Set(controllers.HeaderTimestamp, ts)
	}
	if sig != "" {
		req.Header.Set(controllers.HeaderSignature, sig)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *webhookFixture) postSigned(body []byte) *httptest.ResponseRecorder {
	ts := strconv.FormatInt(testNow.Unix(), 10)
	return f.post(body, ts, signature.Sign(testSecret, ts, body))
}

// --- Tests ---

func TestHandleStockAlert_Accepted(t *testing.T) {
	f := newWebhookFixture(nil)

	w := f.postSigned(eventBody(t, "evt-1", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp models.AcceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "evt-1", resp.EventID)
	assert.Equal(t, "run-evt-1", resp.RunID)
	assert.Equal(t, models.ModeDryRun, resp.Mode)
	require.Len(t, f.starter.started, 1)
	assert.Equal(t, "https://shop.example.com/products/fortaleza-blanco", f.starter.started[0].DirectLink)
	assert.Equal(t, []string{"accepted"}, f.rec.outcomes)
}

func TestHandleStockAlert_DuplicateEvent(t *testing.T) {
	f := newWebhookFixture(nil)
	body := eventBody(t, "evt-dup", nil)

	first := f.postSigned(body)
	second := f.postSigned(body)

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "duplicate event")
	assert.Len(t, f.starter.started, 1)
}

func TestHandleStockAlert_MissingHeaders(t *testing.T) {
	f := newWebhookFixture(nil)
	body := eventBody(t, "evt-2", nil)
	ts := strconv.FormatInt(testNow.Unix(), 10)

	assert.Equal(t, http.StatusUnauthorized, f.post(body, "", "abc").Code)
	assert.Equal(t, http.StatusUnauthorized, f.post(body, ts, "").Code)
	assert.Empty(t, f.starter.started)
}

func TestHandleStockAlert_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(nil)
	body := eventBody(t, "evt-3", nil)
	ts := strconv.FormatInt(testNow.Unix(), 10)

	w := f.post(body, ts, signature.Sign("wrong-secret", ts, body))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid signature")
	assert.Empty(t, f.starter.started)
	assert.Equal(t, []string{"invalid_signature"}, f.rec.outcomes)
}

func TestHandleStockAlert_TamperedBody(t *testing.T) {
	f := newWebhookFixture(nil)
	body := eventBody(t, "evt-4", nil)
	ts := strconv.FormatInt(testNow.Unix(), 10)
	sig := signature.Sign(testSecret, ts, body)

	tampered := bytes.Replace(body, []byte("evt-4"), []byte("evt-5"), 1)
	w := f.post(tampered, ts, sig)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleStockAlert_StaleTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ts   string
	}{
		{"too old", strconv.FormatInt(testNow.Add(-301*time.Second).Unix(), 10)},
		{"too far in future", strconv.FormatInt(testNow.Add(301*time.Second).Unix(), 10)},
		{"not numeric", "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(nil)
			body := eventBody(t, "evt-stale", nil)

			// Signed correctly; only freshness fails.
			w := f.post(body, tt.ts, signature.Sign(testSecret, tt.ts, body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "timestamp too old/future")
			assert.Empty(t, f.starter.started)
		})
	}
}

func TestHandleStockAlert_TimestampAtToleranceEdge(t *testing.T) {
	f := newWebhookFixture(nil)
	body := eventBody(t, "evt-edge", nil)
	ts := strconv.FormatInt(testNow.Add(-300*time.Second).Unix(), 10)

	w := f.post(body, ts, signature.Sign(testSecret, ts, body))

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleStockAlert_InvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"event_id":`},
		{"missing event id", `{"received_at":"2025-11-17T00:00:00Z","subject":"x"}`},
		{"bad received_at", `{"event_id":"e","received_at":"17/11/2025","subject":"x"}`},
		{"bad direct link", `{"event_id":"e","received_at":"2025-11-17T00:00:00Z","subject":"x","direct_link":"not a url"}`},
		{"unknown mode", `{"event_id":"e","received_at":"2025-11-17T00:00:00Z","subject":"x","mode":"yolo"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(nil)

			w := f.postSigned([]byte(tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, f.starter.started)
		})
	}
}

func TestHandleStockAlert_ModeOverride(t *testing.T) {
	t.Run("safer override accepted", func(t *testing.T) {
		f := newWebhookFixture(nil)
		f.starter.mode = models.ModeProd

		w := f.postSigned(eventBody(t, "evt-safe", map[string]string{"mode": "dryrun"}))

		assert.Equal(t, http.StatusAccepted, w.Code)
		var resp models.AcceptedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.ModeDryRun, resp.Mode)
	})

	t.Run("less safe override rejected", func(t *testing.T) {
		f := newWebhookFixture(nil)

		w := f.postSigned(eventBody(t, "evt-unsafe", map[string]string{"mode": "prod"}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "less safe")
		assert.Empty(t, f.starter.started)
	})
}

func TestHandleStockAlert_RunInProgress(t *testing.T) {
	f := newWebhookFixture(nil)
	f.starter.startFn = func(models.StockAlertEvent, models.Mode) (models.PurchaseRun, error) {
		return models.PurchaseRun{}, services.ErrRunInProgress
	}
	body := eventBody(t, "evt-busy", nil)

	w := f.postSigned(body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "run in progress")

	// The event stays recorded as seen.
	again := f.postSigned(body)
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Contains(t, again.Body.String(), "duplicate event")
	assert.Len(t, f.starter.started, 1)
}

func TestHandleStockAlert_StartErrors(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		status          int
		redeliverStatus int
	}{
		{"duplicate run", services.ErrDuplicateRun, http.StatusConflict, http.StatusConflict},
		{"shutting down", services.ErrShuttingDown, http.StatusServiceUnavailable, http.StatusAccepted},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(nil)
			f.starter.startFn = func(models.StockAlertEvent, models.Mode) (models.PurchaseRun, error) {
				return models.PurchaseRun{}, tt.err
			}
			body := eventBody(t, "evt-"+tt.name, nil)

			w := f.postSigned(body)

			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "boom")

			// The sender retries once the agent is healthy again.
			f.starter.startFn = nil
			again := f.postSigned(body)
			assert.Equal(t, tt.redeliverStatus, again.Code)
		})
	}
}

func TestHandleStockAlert_DedupStoreUnavailable(t *testing.T) {
	f := newWebhookFixture(failingStore{})

	w := f.postSigned(eventBody(t, "evt-redis", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, f.starter.started)
}

func TestHandleStockAlert_BodyTooLarge(t *testing.T) {
	f := newWebhookFixture(nil)
	body := []byte(`{"event_id":"big","subject":"` + strings.Repeat("x", controllers.MaxWebhookBody) + `"}`)

	w := f.postSigned(body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, f.starter.started)
}
