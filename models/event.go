package models

import "time"

// StockAlertEvent is the webhook body posted by the inbox monitor when a
// back-in-stock email arrives.
type StockAlertEvent struct {
	EventID     string `json:"event_id" validate:"required,max=256"`
	ReceivedAt  string `json:"received_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Subject     string `json:"subject" validate:"required,max=1024"`
	DirectLink  string `json:"direct_link,omitempty" validate:"omitempty,url,max=2048"`
	ProductHint string `json:"product_hint,omitempty" validate:"max=256"`
	Mode        string `json:"mode,omitempty" validate:"omitempty,oneof=dryrun test prod"`
}

// ReceivedTime parses ReceivedAt. It returns the zero time if the value is
// not RFC 3339.
func (e StockAlertEvent) ReceivedTime() time.Time {
	t, err := time.Parse(time.RFC3339, e.ReceivedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AcceptedResponse is returned with 202 once a run has been queued.
type AcceptedResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	RunID   string `json:"run_id"`
	Mode    Mode   `json:"mode"`
	Message string `json:"message"`
}
