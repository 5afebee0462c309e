package models

import "time"

// RunState is a PurchaseRun lifecycle state.
type RunState string

const (
	StateReceived         RunState = "received"
	StateNavigating       RunState = "navigating"
	StateAgeVerifying     RunState = "age_verifying"
	StateAuthenticating   RunState = "authenticating"
	StateCartBuilding     RunState = "cart_building"
	StateReviewing        RunState = "reviewing"
	StateAwaitingApproval RunState = "awaiting_approval"
	StateSubmitting       RunState = "submitting"
	StateSucceeded        RunState = "succeeded"
	StateFailed           RunState = "failed"
	StateAborted          RunState = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted
}

// FailureCategory groups terminal outcomes for notifications and metrics.
type FailureCategory string

const (
	CategoryNone       FailureCategory = ""
	CategoryNavigation FailureCategory = "navigation"
	CategoryAccount    FailureCategory = "account"
	CategoryInventory  FailureCategory = "inventory"
	CategoryCheckout   FailureCategory = "checkout"
	CategoryPayment    FailureCategory = "payment"
	CategoryApproval   FailureCategory = "approval"
	CategoryInternal   FailureCategory = "internal"
)

// Unknown is reported for order summary fields the page did not expose.
const Unknown = "unknown"

// OrderSummary is the snapshot shown to the approver.
type OrderSummary struct {
	Subtotal       string `json:"subtotal"`
	Tax            string `json:"tax"`
	Total          string `json:"total"`
	Quantity       string `json:"quantity"`
	PickupLocation string `json:"pickup_location"`
}

// Normalize replaces empty fields with "unknown".
func (s OrderSummary) Normalize() OrderSummary {
	fill := func(v string) string {
		if v == "" {
			return Unknown
		}
		return v
	}
	return OrderSummary{
		Subtotal:       fill(s.Subtotal),
		Tax:            fill(s.Tax),
		Total:          fill(s.Total),
		Quantity:       fill(s.Quantity),
		PickupLocation: fill(s.PickupLocation),
	}
}

// StateTransition is one entry in a run's history.
type StateTransition struct {
	State RunState  `json:"state"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

// PurchaseRun is one execution of the purchase workflow.
type PurchaseRun struct {
	ID                 string            `json:"run_id"`
	EventID            string            `json:"event_id"`
	Mode               Mode              `json:"mode"`
	State              RunState          `json:"state"`
	DirectLink         string            `json:"direct_link,omitempty"`
	ProductHint        string            `json:"product_hint,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	StateEnteredAt     time.Time         `json:"state_entered_at"`
	FinishedAt         *time.Time        `json:"finished_at,omitempty"`
	OrderSummary       *OrderSummary     `json:"order_summary,omitempty"`
	Category           FailureCategory   `json:"category,omitempty"`
	Reason             string            `json:"reason,omitempty"`
	ManualIntervention bool              `json:"manual_intervention"`
	Unconfirmed        bool              `json:"unconfirmed"`
	Submitted          bool              `json:"submitted"`
	ConfirmationURL    string            `json:"confirmation_url,omitempty"`
	History            []StateTransition `json:"history"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *PurchaseRun) Clone() PurchaseRun {
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.OrderSummary != nil {
		s := *r.OrderSummary
		c.OrderSummary = &s
	}
	c.History = append([]StateTransition(nil), r.History...)
	return c
}
