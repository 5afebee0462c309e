// Package approval tracks the human decision a purchase run waits on before
// submitting an order.
//
// Decisions are write-once. Expiry is computed on read: once the request's
// TTL has elapsed without a decision it reports StatusExpired, and late
// decisions are refused with ErrExpired even though no write ever marked it.
package approval

import (
	"errors"
	"sync"
	"time"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"go.uber.org/zap"
)

const (
	DefaultTTL       = 10 * time.Minute
	DefaultRetention = 24 * time.Hour
)

var (
	ErrExists          = errors.New("approval request already exists")
	ErrNotFound        = errors.New("approval request not found")
	ErrExpired         = errors.New("approval request expired")
	ErrAlreadyDecided  = errors.New("approval request already decided")
	ErrNotApproved     = errors.New("approval request not approved")
	ErrAlreadyConsumed = errors.New("approval already used")
)

// Decision is the recorded human answer.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Status is the decision as seen by readers, with expiry applied.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is a snapshot of one ledger entry.
type Request struct {
	RunID     string              `json:"run_id"`
	Status    Status              `json:"status"`
	Decision  Decision            `json:"decision"`
	Summary   models.OrderSummary `json:"order_summary"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
	DecidedAt *time.Time          `json:"decided_at"`
	Consumed  bool                `json:"consumed"`
}

type entry struct {
	req     Request
	decided chan struct{} // closed on the single decision write
}

// Ledger is an in-memory approval store safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewLedger creates a ledger that sweeps entries older than retention.
func NewLedger(retention time.Duration, logger *zap.Logger) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		entries:   make(map[string]*entry),
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the ledger's time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Create opens a pending request for runID that expires after ttl.
func (l *Ledger) Create(runID string, ttl time.Duration, summary models.OrderSummary) (Request, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[runID]; ok {
		return Request{}, ErrExists
	}
	e := &entry{
		req: Request{
			RunID:     runID,
			Status:    StatusPending,
			Decision:  DecisionPending,
			Summary:   summary,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
		decided: make(chan struct{}),
	}
	l.entries[runID] = e

	l.logger.Info("Approval request created",
		zap.String("run_id", runID),
		zap.Duration("ttl", ttl),
		zap.String("total", summary.Total),
	)
	return e.snapshot(now), nil
}

// Decide records d for runID exactly once.
func (l *Ledger) Decide(runID string, d Decision) (Request, error) {
	if d != DecisionApproved && d != DecisionRejected {
		return Request{}, errors.New("approval: decision must be approved or rejected")
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[runID]
	if !ok {
		return Request{}, ErrNotFound
	}
	if e.req.Decision != DecisionPending {
		l.logger.Warn("Decision for already-decided request",
			zap.String("run_id", runID),
			zap.String("existing_decision", string(e.req.Decision)),
			zap.String("attempted_decision", string(d)),
		)
		return e.snapshot(now), ErrAlreadyDecided
	}
	if e.expired(now) {
		l.logger.Warn("Decision after expiry", zap.String("run_id", runID), zap.String("attempted_decision", string(d)))
		return e.snapshot(now), ErrExpired
	}

	e.req.Decision = d
	e.req.DecidedAt = &now
	close(e.decided)

	l.logger.Info("Approval decision recorded", zap.String("run_id", runID), zap.String("decision", string(d)))
	return e.snapshot(now), nil
}

// Status returns the current snapshot for runID.
func (l *Ledger) Status(runID string) (Request, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[runID]
	if !ok {
		return Request{}, ErrNotFound
	}
	return e.snapshot(now), nil
}

// Decided returns a channel that is closed once a decision is recorded for
// runID. Expiry does not close it.
func (l *Ledger) Decided(runID string) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.decided, nil
}

// Consume marks an approved request as used. Only the first call succeeds,
// so one approval can authorise at most one submission.
func (l *Ledger) Consume(runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[runID]
	switch {
	case !ok:
		return ErrNotFound
	case e.req.Decision != DecisionApproved:
		return ErrNotApproved
	case e.req.Consumed:
		return ErrAlreadyConsumed
	}
	e.req.Consumed = true
	return nil
}

// PendingCount returns how many requests are still awaiting a decision.
func (l *Ledger) PendingCount() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.req.Decision == DecisionPending && !e.expired(now) {
			n++
		}
	}
	return n
}

// Sweep removes entries created before the retention window, whatever their
// decision.
func (l *Ledger) Sweep() int {
	cutoff := l.now().Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.entries {
		if e.req.CreatedAt.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Info("Swept old approval requests", zap.Int("count", removed), zap.Duration("retention", l.retention))
	}
	return removed
}

func (e *entry) expired(now time.Time) bool {
	return e.req.Decision == DecisionPending && now.After(e.req.ExpiresAt)
}

func (e *entry) snapshot(now time.Time) Request {
	r := e.req
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		r.DecidedAt = &t
	}
	switch {
	case r.Decision == DecisionApproved:
		r.Status = StatusApproved
	case r.Decision == DecisionRejected:
		r.Status = StatusRejected
	case e.expired(now):
		r.Status = StatusExpired
	default:
		r.Status = StatusPending
	}
	return r
}
