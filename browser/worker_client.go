package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WorkerClient drives an external browser worker over JSON HTTP.
type WorkerClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWorkerClient creates a client for the worker at baseURL.
func NewWorkerClient(baseURL string, timeout time.Duration, logger *zap.Logger) *WorkerClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WorkerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type workerError struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

// errorTypes maps the worker's error_type field onto local sentinels.
var errorTypes = map[string]error{
	"NavigationError":      ErrNavigation,
	"PageNotFound":         ErrPageNotFound,
	"ProtocolError":        ErrProtocol,
	"UnexpectedPage":       ErrUnexpectedPage,
	"AlreadyLoggedIn":      ErrAlreadyLoggedIn,
	"TwoFactorRequired":    ErrTwoFactorRequired,
	"CaptchaRequired":      ErrCaptchaRequired,
	"ProductSoldOut":       ErrSoldOut,
	"ThreeDSecureRequired": ErrStepUpAuthRequired,
	"StepUpAuthRequired":   ErrStepUpAuthRequired,
	"PaymentDeclined":      ErrPaymentDeclined,
	"Timeout":              ErrTransient,
}

func (w *WorkerClient) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("worker %s: %w", endpoint, ctx.Err())
		}
		return fmt.Errorf("%w: worker %s: %v", ErrTransient, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read worker %s response: %v", ErrTransient, endpoint, err)
	}

	if resp.StatusCode >= 400 {
		return w.mapError(endpoint, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode worker %s response: %w", endpoint, err)
	}
	return nil
}

func (w *WorkerClient) mapError(endpoint string, status int, raw []byte) error {
	var we workerError
	_ = json.Unmarshal(raw, &we)
	msg := we.Message
	if msg == "" {
		msg = fmt.Sprintf("browser worker error %d", status)
	}

	w.logger.Warn("Browser worker returned error",
		zap.String("endpoint", endpoint),
		zap.Int("status", status),
		zap.String("error_type", we.ErrorType),
	)

	if sentinel, ok := errorTypes[we.ErrorType]; ok {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrTransient, msg)
	}
	return errors.New(msg)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (w *WorkerClient) Open(ctx context.Context) (*Session, error) {
	var out sessionRequest
	if err := w.post(ctx, "/sessions", struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, errors.New("browser worker returned empty session id")
	}
	return &Session{ID: out.SessionID}, nil
}

func (w *WorkerClient) Close(ctx context.Context, s *Session) error {
	return w.post(ctx, "/reset", sessionRequest{SessionID: s.ID}, nil)
}

func (w *WorkerClient) Navigate(ctx context.Context, s *Session, directLink string) (PageState, error) {
	var out PageState
	err := w.post(ctx, "/navigate", map[string]string{"session_id": s.ID, "direct_link": directLink}, &out)
	return out, err
}

func (w *WorkerClient) Search(ctx context.Context, s *Session, productHint string) (PageState, error) {
	var out PageState
	err := w.post(ctx, "/search", map[string]string{"session_id": s.ID, "product_name": productHint}, &out)
	return out, err
}

func (w *WorkerClient) VerifyAge(ctx context.Context, s *Session, dob *DateOfBirth) (AgeResult, error) {
	var out AgeResult
	err := w.post(ctx, "/verify-age", struct {
		SessionID string       `json:"session_id"`
		DOB       *DateOfBirth `json:"dob,omitempty"`
	}{s.ID, dob}, &out)
	return out, err
}

func (w *WorkerClient) Authenticate(ctx context.Context, s *Session, creds Credentials) (AuthResult, error) {
	var out AuthResult
	err := w.post(ctx, "/login", struct {
		SessionID string `json:"session_id"`
		Credentials
	}{s.ID, creds}, &out)
	return out, err
}

func (w *WorkerClient) AddToCart(ctx context.Context, s *Session) (PageState, error) {
	var out PageState
	err := w.post(ctx, "/add-to-cart", map[string]any{"session_id": s.ID, "proceed_to_checkout": true}, &out)
	return out, err
}

func (w *WorkerClient) ReviewAndPay(ctx context.Context, s *Session, payment PaymentDetails, submit bool) (CheckoutResult, error) {
	var out CheckoutResult
	err := w.post(ctx, "/checkout", struct {
		SessionID   string         `json:"session_id"`
		SubmitOrder bool           `json:"submit_order"`
		Payment     PaymentDetails `json:"payment"`
	}{s.ID, submit, payment}, &out)
	return out, err
}
