package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/approval"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/browser"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/sender"
)

var ErrShuttingDown = errors.New("orchestrator is shutting down")

// CredentialSource supplies the secrets a run needs.
type CredentialSource interface {
	Credentials(ctx context.Context) (browser.Credentials, error)
	Payment(ctx context.Context) (browser.PaymentDetails, error)
	DateOfBirth(ctx context.Context) (*browser.DateOfBirth, error)
}

// RunObserver is told about every run that reaches a terminal state.
type RunObserver interface {
	RunFinished(run models.PurchaseRun)
}

type Options struct {
	Mode                models.Mode
	ProductName         string
	ApprovalTimeout     time.Duration
	PollInterval        time.Duration
	CollaboratorTimeout time.Duration
	NavigationTimeout   time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
	// FailUnconfirmed turns a submitted order without a recognised
	// confirmation page into a failure instead of an unconfirmed success.
	FailUnconfirmed bool
	PublicBaseURL   string
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = models.ModeDryRun
	}
	if o.ApprovalTimeout <= 0 {
		o.ApprovalTimeout = approval.DefaultTTL
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.CollaboratorTimeout <= 0 {
		o.CollaboratorTimeout = 30 * time.Second
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = o.CollaboratorTimeout
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 1
	}
	return o
}

// Orchestrator drives purchase runs through their stages. Each run executes
// on its own goroutine and owns its browser session.
type Orchestrator struct {
	opts     Options
	browser  browser.Collaborator
	ledger   *approval.Ledger
	notifier sender.Sender
	secrets  CredentialSource
	registry *Registry
	observer RunObserver
	logger   *zap.Logger
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	done   map[string]chan struct{}
}

func NewOrchestrator(
	opts Options,
	collaborator browser.Collaborator,
	ledger *approval.Ledger,
	notifier sender.Sender,
	secrets CredentialSource,
	registry *Registry,
	logger *zap.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:     opts.withDefaults(),
		browser:  collaborator,
		ledger:   ledger,
		notifier: notifier,
		secrets:  secrets,
		registry: registry,
		logger:   logger,
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
		done:     make(map[string]chan struct{}),
	}
}

func (o *Orchestrator) WithObserver(obs RunObserver) *Orchestrator {
	o.observer = obs
	return o
}

func (o *Orchestrator) Mode() models.Mode {
	return o.opts.Mode
}

// Start registers a run for event and executes it in the background. mode
// must already be resolved; empty means the configured mode.
func (o *Orchestrator) Start(event models.StockAlertEvent, mode models.Mode) (models.PurchaseRun, error) {
	if mode == "" {
		mode = o.opts.Mode
	}
	now := o.now()
	run := &models.PurchaseRun{
		ID:             uuid.NewString(),
		EventID:        event.EventID,
		Mode:           mode,
		State:          models.StateReceived,
		DirectLink:     event.DirectLink,
		ProductHint:    event.ProductHint,
		CreatedAt:      now,
		StateEnteredAt: now,
		History:        []models.StateTransition{{State: models.StateReceived, At: now}},
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return models.PurchaseRun{}, ErrShuttingDown
	}
	if err := o.registry.Begin(run); err != nil {
		return models.PurchaseRun{}, err
	}
	snapshot, err := o.registry.Get(run.ID)
	if err != nil {
		return models.PurchaseRun{}, err
	}

	done := make(chan struct{})
	o.done[run.ID] = done
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.done, snapshot.ID)
			o.mu.Unlock()
			close(done)
		}()
		o.execute(o.baseCtx, snapshot)
	}()

	return snapshot, nil
}

// Get returns the current snapshot of a retained run.
func (o *Orchestrator) Get(runID string) (models.PurchaseRun, error) {
	return o.registry.Get(runID)
}

// Wait blocks until the run is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (models.PurchaseRun, error) {
	o.mu.Lock()
	done, running := o.done[runID]
	o.mu.Unlock()

	if running {
		select {
		case <-done:
		case <-ctx.Done():
			return models.PurchaseRun{}, ctx.Err()
		}
	}
	return o.registry.Get(runID)
}

// Shutdown cancels in-flight runs and waits for them to record their
// terminal state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runScope carries per-run state through the stages.
type runScope struct {
	run     models.PurchaseRun
	session *browser.Session
	logger  *zap.Logger
	creds   browser.Credentials
	payment browser.PaymentDetails
	dob     *browser.DateOfBirth
}

type result struct {
	state       models.RunState
	category    models.FailureCategory
	reason      string
	manual      bool
	unconfirmed bool
	err         error
}

func fail(category models.FailureCategory, reason string, err error) *result {
	return &result{state: models.StateFailed, category: category, reason: reason, err: err}
}

func manualFail(category models.FailureCategory, reason string, err error) *result {
	return &result{state: models.StateFailed, category: category, reason: reason, manual: true, err: err}
}

func abort(reason string) *result {
	return &result{state: models.StateAborted, category: models.CategoryApproval, reason: reason}
}

func (o *Orchestrator) execute(ctx context.Context, run models.PurchaseRun) {
	rs := &runScope{
		run: run,
		logger: o.logger.With(
			zap.String("run_id", run.ID),
			zap.String("event_id", run.EventID),
			zap.String("mode", string(run.Mode)),
		),
	}
	rs.logger.Info("Purchase run started", zap.Bool("direct_link", run.DirectLink != ""))
	o.notify(ctx, rs, startNotification(run, o.product(run)))

	res := o.drive(ctx, rs)
	o.finish(ctx, rs, res)
}

func (o *Orchestrator) drive(ctx context.Context, rs *runScope) *result {
	if err := o.loadSecrets(ctx, rs); err != nil {
		return fail(models.CategoryInternal, "credentials unavailable", err)
	}

	session, err := callWithRetry(ctx, o.retry(rs), o.opts.CollaboratorTimeout, o.browser.Open)
	if err != nil {
		return fail(models.CategoryInternal, "browser session unavailable", err)
	}
	rs.session = session
	defer o.closeSession(rs)

	if res := o.navigate(ctx, rs); res != nil {
		return res
	}
	if res := o.authenticate(ctx, rs); res != nil {
		return res
	}
	if res := o.buildCart(ctx, rs); res != nil {
		return res
	}
	summary, res := o.review(ctx, rs)
	if res != nil {
		return res
	}

	if !rs.run.Mode.Submits() {
		return &result{state: models.StateSucceeded, reason: "dry run complete, order not submitted"}
	}

	if res := o.awaitApproval(ctx, rs, summary); res != nil {
		return res
	}
	return o.submit(ctx, rs)
}

func (o *Orchestrator) loadSecrets(ctx context.Context, rs *runScope) error {
	var err error
	if rs.creds, err = o.secrets.Credentials(ctx); err != nil {
		return err
	}
	if rs.payment, err = o.secrets.Payment(ctx); err != nil {
		return err
	}
	rs.dob, err = o.secrets.DateOfBirth(ctx)
	return err
}

func (o *Orchestrator) navigate(ctx context.Context, rs *runScope) *result {
	o.transition(rs, models.StateNavigating, "")

	if link := rs.run.DirectLink; link != "" {
		page, err := callWithRetry(ctx, o.retry(rs), o.opts.NavigationTimeout, func(c context.Context) (browser.PageState, error) {
			return o.browser.Navigate(c, rs.session, link)
		})
		if err == nil {
			return o.handleAgeGate(ctx, rs, page)
		}
		if ctx.Err() != nil {
			return fail(models.CategoryNavigation, "navigation failed", err)
		}
		rs.logger.Warn("Direct link navigation failed, falling back to search", zap.Error(err))
		o.note(rs, models.StateNavigating, "direct link failed, searching")
	}

	product := o.product(rs.run)
	page, err := callWithRetry(ctx, o.retry(rs), o.opts.NavigationTimeout, func(c context.Context) (browser.PageState, error) {
		return o.browser.Search(c, rs.session, product)
	})
	if err != nil {
		return fail(models.CategoryNavigation, "navigation failed", err)
	}
	return o.handleAgeGate(ctx, rs, page)
}

// handleAgeGate answers an age gate if the last page change hit one. The
// primary state does not change.
func (o *Orchestrator) handleAgeGate(ctx context.Context, rs *runScope, page browser.PageState) *result {
	if !page.AgeGate {
		return nil
	}
	o.note(rs, models.StateAgeVerifying, "age gate detected")

	_, err := callWithRetry(ctx, o.retry(rs), o.opts.CollaboratorTimeout, func(c context.Context) (browser.AgeResult, error) {
		return o.browser.VerifyAge(c, rs.session, rs.dob)
	})
	if err != nil {
		return fail(models.CategoryNavigation, "age verification failed", err)
	}
	return nil
}

func (o *Orchestrator) authenticate(ctx context.Context, rs *runScope) *result {
	o.transition(rs, models.StateAuthenticating, "")

	res, err := callWithRetry(ctx, o.retry(rs), o.opts.CollaboratorTimeout, func(c context.Context) (browser.AuthResult, error) {
		return o.browser.Authenticate(c, rs.session, rs.creds)
	})
	switch {
	case errors.Is(err, browser.ErrAlreadyLoggedIn):
		o.note(rs, models.StateAuthenticating, "already logged in")
		return nil
	case errors.Is(err, browser.ErrTwoFactorRequired):
		return manualFail(models.CategoryAccount, "manual intervention required: two-factor authentication", err)
	case errors.Is(err, browser.ErrCaptchaRequired):
		return manualFail(models.CategoryAccount, "manual intervention required: captcha", err)
	case err != nil:
		return fail(models.CategoryAccount, "login failed", err)
	}

	if res.AlreadyLoggedIn {
		o.note(rs, models.StateAuthenticating, "already logged in")
	}
	return o.handleAgeGate(ctx, rs, res.Page)
}

func (o *Orchestrator) buildCart(ctx context.Context, rs *runScope) *result {
	o.transition(rs, models.StateCartBuilding, "")

	page, err := callWithRetry(ctx, o.retry(rs), o.opts.CollaboratorTimeout, func(c context.Context) (browser.PageState, error) {
		return o.browser.AddToCart(c, rs.session)
	})
	switch {
	case errors.Is(err, browser.ErrSoldOut):
		return fail(models.CategoryInventory, "sold out", err)
	case err != nil:
		return fail(models.CategoryCheckout, "add to cart failed", err)
	}
	return o.handleAgeGate(ctx, rs, page)
}

func (o *Orchestrator) review(ctx context.Context, rs *runScope) (models.OrderSummary, *result) {
	o.transition(rs, models.StateReviewing, "")

	res, err := callWithRetry(ctx, o.retry(rs), o.opts.CollaboratorTimeout, func(c context.Context) (browser.CheckoutResult, error) {
		return o.browser.ReviewAndPay(c, rs.session, rs.payment, false)
	})
	if err != nil {
		return models.OrderSummary{}, checkoutFailure(err, "checkout review failed")
	}
	if r := o.handleAgeGate(ctx, rs, res.Page); r != nil {
		return models.OrderSummary{}, r
	}

	summary := res.Summary.Normalize()
	if _, err := o.registry.Update(rs.run.ID, func(r *models.PurchaseRun) {
		s := summary
		r.OrderSummary = &s
	}); err != nil {
		return models.OrderSummary{}, fail(models.CategoryInternal, "run record lost", err)
	}
	rs.logger.Info("Order summary computed",
		zap.String("subtotal", summary.Subtotal),
		zap.String("total", summary.Total),
		zap.String("pickup_location", summary.PickupLocation),
	)
	return summary, nil
}

func checkoutFailure(err error, generic string) *result {
	switch {
	case errors.Is(err, browser.ErrStepUpAuthRequired):
		return manualFail(models.CategoryPayment, "manual intervention required: payment verification", err)
	case errors.Is(err, browser.ErrPaymentDeclined):
		return manualFail(models.CategoryPayment, "payment declined", err)
	default:
		return fail(models.CategoryCheckout, generic, err)
	}
}

// awaitApproval suspends the run until the ledger records a decision or the
// request expires. A nil result means approved and consumed.
func (o *Orchestrator) awaitApproval(ctx context.Context, rs *runScope, summary models.OrderSummary) *result {
	o.transition(rs, models.StateAwaitingApproval, "")

	req, err := o.ledger.Create(rs.run.ID, o.opts.ApprovalTimeout, summary)
	if err != nil {
		return fail(models.CategoryInternal, "approval request failed", err)
	}
	decided, err := o.ledger.Decided(rs.run.ID)
	if err != nil {
		return fail(models.CategoryInternal, "approval request failed", err)
	}

	o.notify(ctx, rs, approvalNotification(rs.run, summary, o.opts.PublicBaseURL))

	deadline := time.NewTimer(req.ExpiresAt.Sub(o.now()))
	defer deadline.Stop()
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		expired := false
		select {
		case <-ctx.Done():
			return fail(models.CategoryInternal, "run cancelled while awaiting approval", ctx.Err())
		case <-deadline.C:
			expired = true
		case <-decided:
		case <-ticker.C:
		}

		status, err := o.ledger.Status(rs.run.ID)
		if err != nil {
			return fail(models.CategoryInternal, "approval request lost", err)
		}
		switch status.Status {
		case approval.StatusApproved:
			if err := o.ledger.Consume(rs.run.ID); err != nil {
				return fail(models.CategoryApproval, "approval already used", err)
			}
			rs.logger.Info("Purchase approved")
			return nil
		case approval.StatusRejected:
			rs.logger.Info("Purchase rejected")
			return abort("rejected")
		case approval.StatusExpired:
			rs.logger.Info("Approval window elapsed")
			return abort("timeout")
		}
		if expired {
			rs.logger.Info("Approval window elapsed")
			return abort("timeout")
		}
	}
}

// submit places the order. It is never retried: a repeated submission could
// place a second order.
func (o *Orchestrator) submit(ctx context.Context, rs *runScope) *result {
	o.transition(rs, models.StateSubmitting, "")

	res, err := callOnce(ctx, o.opts.CollaboratorTimeout, func(c context.Context) (browser.CheckoutResult, error) {
		return o.browser.ReviewAndPay(c, rs.session, rs.payment, true)
	})
	if err != nil {
		if errors.Is(err, browser.ErrStepUpAuthRequired) || errors.Is(err, browser.ErrPaymentDeclined) {
			return checkoutFailure(err, "")
		}
		return manualFail(models.CategoryCheckout, "manual intervention required: order submission outcome unknown", err)
	}

	confirmationURL := res.ConfirmationURL
	if confirmationURL == "" {
		confirmationURL = res.Page.URL
	}
	confirmed := res.Confirmed || isConfirmationPage(confirmationURL)

	if _, err := o.registry.Update(rs.run.ID, func(r *models.PurchaseRun) {
		r.Submitted = true
		r.ConfirmationURL = confirmationURL
	}); err != nil {
		rs.logger.Error("Failed to record submission", zap.Error(err))
	}

	if confirmed {
		return &result{state: models.StateSucceeded, reason: "order placed"}
	}
	rs.logger.Warn("Order submitted but confirmation not detected", zap.String("current_url", confirmationURL))
	if o.opts.FailUnconfirmed {
		return manualFail(models.CategoryCheckout, "manual intervention required: order confirmation not detected", nil)
	}
	return &result{
		state:       models.StateSucceeded,
		reason:      "order submitted, confirmation not detected",
		unconfirmed: true,
	}
}

func isConfirmationPage(u string) bool {
	u = strings.ToLower(u)
	for _, marker := range []string{"thank", "confirmation", "order-received", "/orders/"} {
		if strings.Contains(u, marker) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) finish(ctx context.Context, rs *runScope, res *result) {
	if ctx.Err() != nil && res.state != models.StateSucceeded && !res.manual {
		res = fail(models.CategoryInternal, "run cancelled", ctx.Err())
	}

	now := o.now()
	final, err := o.registry.Update(rs.run.ID, func(r *models.PurchaseRun) {
		r.State = res.state
		r.StateEnteredAt = now
		r.FinishedAt = &now
		r.Category = res.category
		r.Reason = res.reason
		r.ManualIntervention = res.manual
		r.Unconfirmed = res.unconfirmed
		r.History = append(r.History, models.StateTransition{State: res.state, At: now, Note: res.reason})
	})
	if err != nil {
		rs.logger.Error("Failed to record run outcome", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("state", string(final.State)),
		zap.String("category", string(final.Category)),
		zap.String("reason", final.Reason),
		zap.Bool("manual_intervention", final.ManualIntervention),
		zap.Bool("unconfirmed", final.Unconfirmed),
		zap.Duration("duration", now.Sub(final.CreatedAt)),
	}
	if res.err != nil {
		fields = append(fields, zap.Error(res.err))
	}
	if final.State == models.StateSucceeded {
		rs.logger.Info("Purchase run finished", fields...)
	} else {
		rs.logger.Warn("Purchase run finished", fields...)
	}

	// The run context may already be cancelled; the outcome still goes out.
	nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o.notify(nctx, rs, terminalNotification(final, o.product(final)))

	if o.observer != nil {
		o.observer.RunFinished(final)
	}
}

func (o *Orchestrator) transition(rs *runScope, state models.RunState, note string) {
	now := o.now()
	if _, err := o.registry.Update(rs.run.ID, func(r *models.PurchaseRun) {
		r.State = state
		r.StateEnteredAt = now
		r.History = append(r.History, models.StateTransition{State: state, At: now, Note: note})
	}); err != nil {
		rs.logger.Error("Failed to record state change", zap.String("state", string(state)), zap.Error(err))
		return
	}
	rs.logger.Info("Run state changed", zap.String("state", string(state)))
}

// note appends a history entry without changing the primary state.
func (o *Orchestrator) note(rs *runScope, state models.RunState, note string) {
	now := o.now()
	if _, err := o.registry.Update(rs.run.ID, func(r *models.PurchaseRun) {
		r.History = append(r.History, models.StateTransition{State: state, At: now, Note: note})
	}); err != nil {
		rs.logger.Error("Failed to record run note", zap.String("state", string(state)), zap.String("note", note), zap.Error(err))
		return
	}
	rs.logger.Info(note, zap.String("state", string(state)))
}

func (o *Orchestrator) notify(ctx context.Context, rs *runScope, n sender.Notification) {
	if _, err := o.notifier.Notify(ctx, n); err != nil {
		rs.logger.Error("Failed to send notification", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

func (o *Orchestrator) closeSession(rs *runScope) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.browser.Close(ctx, rs.session); err != nil {
		rs.logger.Warn("Failed to close browser session", zap.Error(err))
	}
}

func (o *Orchestrator) retry(rs *runScope) retryPolicy {
	return retryPolicy{
		attempts: o.opts.RetryAttempts,
		delay:    o.opts.RetryDelay,
		notify: func(err error, next time.Duration) {
			rs.logger.Warn("Transient collaborator error, retrying", zap.Error(err), zap.Duration("backoff", next))
		},
	}
}

func (o *Orchestrator) product(run models.PurchaseRun) string {
	if run.ProductHint != "" {
		return run.ProductHint
	}
	return o.opts.ProductName
}
