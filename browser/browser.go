// Package browser defines the site-automation capabilities a purchase run
// consumes. Each call takes an explicit Session owned by one run; no page
// state is shared between runs.
package browser

import (
	"context"
	"errors"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
)

var (
	// ErrTransient marks failures worth retrying: network blips, worker 5xx,
	// slow page loads reported by the worker.
	ErrTransient = errors.New("transient browser error")

	ErrNavigation     = errors.New("navigation failed")
	ErrPageNotFound   = errors.New("page not found")
	ErrProtocol       = errors.New("site redirect protocol error")
	ErrUnexpectedPage = errors.New("unexpected page")

	ErrAlreadyLoggedIn   = errors.New("already logged in")
	ErrTwoFactorRequired = errors.New("two-factor authentication required")
	ErrCaptchaRequired   = errors.New("captcha required")

	ErrSoldOut = errors.New("sold out")

	ErrStepUpAuthRequired = errors.New("step-up payment authentication required")
	ErrPaymentDeclined    = errors.New("payment declined")
)

// Session is the handle for one browser context.
type Session struct {
	ID string
}

// PageState describes where a page-changing call left the browser.
type PageState struct {
	URL     string `json:"current_url"`
	AgeGate bool   `json:"age_gate"`
}

// DateOfBirth answers an age gate.
type DateOfBirth struct {
	Month string `json:"month"`
	Day   string `json:"day"`
	Year  string `json:"year"`
}

// Credentials log in to the retailer account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PaymentDetails fill the checkout payment form. Never log these.
type PaymentDetails struct {
	CardNumber      string `json:"cc_number"`
	ExpiryMonth     string `json:"cc_exp_month"`
	ExpiryYear      string `json:"cc_exp_year"`
	CVV             string `json:"cc_cvv"`
	BillingName     string `json:"billing_name"`
	BillingAddress1 string `json:"billing_address1"`
	BillingAddress2 string `json:"billing_address2,omitempty"`
	BillingCity     string `json:"billing_city"`
	BillingState    string `json:"billing_state"`
	BillingZip      string `json:"billing_zip"`
}

// AgeResult reports whether an age gate was present and answered.
type AgeResult struct {
	Handled bool `json:"handled"`
}

// AuthResult is returned by Authenticate.
type AuthResult struct {
	Page            PageState `json:"page"`
	AlreadyLoggedIn bool      `json:"already_logged_in"`
}

// CheckoutResult is returned by ReviewAndPay.
type CheckoutResult struct {
	Page            PageState           `json:"page"`
	Summary         models.OrderSummary `json:"order_summary"`
	Submitted       bool                `json:"submitted"`
	Confirmed       bool                `json:"confirmed"`
	ConfirmationURL string              `json:"confirmation_url,omitempty"`
}

// Collaborator is the browser automation boundary.
type Collaborator interface {
	Open(ctx context.Context) (*Session, error)
	Close(ctx context.Context, s *Session) error

	Navigate(ctx context.Context, s *Session, directLink string) (PageState, error)
	Search(ctx context.Context, s *Session, productHint string) (PageState, error)
	VerifyAge(ctx context.Context, s *Session, dob *DateOfBirth) (AgeResult, error)
	Authenticate(ctx context.Context, s *Session, creds Credentials) (AuthResult, error)
	AddToCart(ctx context.Context, s *Session) (PageState, error)
	ReviewAndPay(ctx context.Context, s *Session, payment PaymentDetails, submit bool) (CheckoutResult, error)
}
