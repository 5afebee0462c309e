package services

import (
	"errors"
	"sync"
	"time"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
)

var (
	ErrRunInProgress = errors.New("run in progress")
	ErrDuplicateRun  = errors.New("event already started a run")
	ErrRunNotFound   = errors.New("run not found")
)

// Registry holds purchase runs in memory. At most one run is active at a
// time and each event starts at most one run. Terminal runs stay readable
// for a grace period.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*models.PurchaseRun
	byEvent   map[string]string
	active    string
	retention time.Duration
	now       func() time.Time
}

func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Registry{
		runs:      make(map[string]*models.PurchaseRun),
		byEvent:   make(map[string]string),
		retention: retention,
		now:       time.Now,
	}
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Begin registers run as the active run.
func (r *Registry) Begin(run *models.PurchaseRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEvent[run.EventID]; ok {
		return ErrDuplicateRun
	}
	if r.active != "" {
		return ErrRunInProgress
	}
	r.runs[run.ID] = run
	r.byEvent[run.EventID] = run.ID
	r.active = run.ID
	return nil
}

// Update applies fn to the run under the registry lock and returns the
// resulting snapshot. A run that becomes terminal releases the active slot.
func (r *Registry) Update(id string, fn func(*models.PurchaseRun)) (models.PurchaseRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return models.PurchaseRun{}, ErrRunNotFound
	}
	fn(run)
	if run.State.Terminal() && r.active == id {
		r.active = ""
	}
	return run.Clone(), nil
}

func (r *Registry) Get(id string) (models.PurchaseRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return models.PurchaseRun{}, ErrRunNotFound
	}
	return run.Clone(), nil
}

// Active returns the id of the running run, if any.
func (r *Registry) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != ""
}

// Sweep drops terminal runs that finished before the grace period.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, run := range r.runs {
		if run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
			delete(r.byEvent, run.EventID)
			removed++
		}
	}
	return removed
}
