package sender

import (
	"context"
	"errors"
	"time"
)

// Kind identifies the purchase lifecycle event a notification reports.
type Kind string

const (
	KindStart          Kind = "START"
	KindSuccess        Kind = "SUCCESS"
	KindFailure        Kind = "FAILURE"
	KindHumanAssist    Kind = "HUMAN_ASSIST_NEEDED"
	KindApprovalPrompt Kind = "APPROVAL_PROMPT"
)

// Priority follows the Pushover priority scale.
type Priority int

const (
	PriorityLowest    Priority = -2
	PriorityLow       Priority = -1
	PriorityNormal    Priority = 0
	PriorityHigh      Priority = 1
	PriorityEmergency Priority = 2
)

// Notification is an outbound message. Fields must never carry credentials
// or payment data.
type Notification struct {
	Kind     Kind              `json:"kind"`
	RunID    string            `json:"run_id"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Priority Priority          `json:"priority"`
	URL      string            `json:"url,omitempty"`
	URLTitle string            `json:"url_title,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

type Sender interface {
	Notify(ctx context.Context, n Notification) (SendResult, error)
}

// MultiSender fans a notification out to every configured sender. It only
// fails when all of them fail.
type MultiSender struct {
	senders []Sender
}

func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

func (m *MultiSender) Notify(ctx context.Context, n Notification) (SendResult, error) {
	var (
		first SendResult
		ok    bool
		errs  []error
	)
	for _, s := range m.senders {
		res, err := s.Notify(ctx, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			first, ok = res, true
		}
	}
	if ok || len(m.senders) == 0 {
		return first, nil
	}
	return SendResult{}, errors.Join(errs...)
}
