package services

import (
	"fmt"
	"strings"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/sender"
)

func startNotification(run models.PurchaseRun, product string) sender.Notification {
	return sender.Notification{
		Kind:     sender.KindStart,
		RunID:    run.ID,
		Title:    "Fortaleza Agent Started",
		Message:  fmt.Sprintf("Run %s started for %s (mode: %s)", run.ID, product, run.Mode),
		Priority: sender.PriorityNormal,
		Details:  map[string]string{"event_id": run.EventID, "mode": string(run.Mode)},
	}
}

func approvalNotification(run models.PurchaseRun, summary models.OrderSummary, baseURL string) sender.Notification {
	approveURL := fmt.Sprintf("%s/approval/%s/approve", baseURL, run.ID)
	rejectURL := fmt.Sprintf("%s/approval/%s/reject", baseURL, run.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "Subtotal: %s\nTax: %s\nTotal: %s\n", summary.Subtotal, summary.Tax, summary.Total)
	fmt.Fprintf(&b, "Quantity: %s\nPickup: %s\n\n", summary.Quantity, summary.PickupLocation)
	fmt.Fprintf(&b, "Approve: %s\nReject: %s", approveURL, rejectURL)

	return sender.Notification{
		Kind:     sender.KindApprovalPrompt,
		RunID:    run.ID,
		Title:    "Approve Fortaleza purchase?",
		Message:  b.String(),
		Priority: sender.PriorityEmergency,
		URL:      approveURL,
		URLTitle: "Approve purchase",
		Details: map[string]string{
			"approve_url": approveURL,
			"reject_url":  rejectURL,
			"total":       summary.Total,
		},
	}
}

// terminalNotification builds the single notification sent when a run ends.
func terminalNotification(run models.PurchaseRun, product string) sender.Notification {
	n := sender.Notification{
		RunID: run.ID,
		Details: map[string]string{
			"state":    string(run.State),
			"category": string(run.Category),
			"reason":   run.Reason,
			"mode":     string(run.Mode),
		},
	}

	switch {
	case run.ManualIntervention || run.Unconfirmed:
		n.Kind = sender.KindHumanAssist
		n.Title = "Human Assistance Needed"
		n.Message = fmt.Sprintf("Run %s requires human assistance: %s", run.ID, run.Reason)
		n.Priority = sender.PriorityEmergency
		if run.ConfirmationURL != "" {
			n.URL = run.ConfirmationURL
		}
	case run.State == models.StateSucceeded:
		n.Kind = sender.KindSuccess
		n.Title = "Purchase Successful"
		n.Message = fmt.Sprintf("Run %s succeeded for %s: %s", run.ID, product, run.Reason)
		n.Priority = sender.PriorityHigh
		if run.OrderSummary != nil {
			n.Details["total"] = run.OrderSummary.Total
		}
		if run.ConfirmationURL != "" {
			n.URL = run.ConfirmationURL
			n.URLTitle = "Order confirmation"
		}
	default:
		n.Kind = sender.KindFailure
		n.Title = "Purchase Failed"
		if run.State == models.StateAborted {
			n.Title = "Purchase Aborted"
		}
		n.Message = fmt.Sprintf("Run %s %s (%s): %s", run.ID, run.State, run.Category, run.Reason)
		n.Priority = sender.PriorityHigh
		if run.Category == models.CategoryInventory {
			n.Title = "Product Sold Out"
			n.Message = fmt.Sprintf("%s is sold out. Waiting for the next stock alert.", product)
			n.Priority = sender.PriorityNormal
		}
	}
	return n
}
