package services

import (
	"context"
	"sync"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/browser"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/sender"
)

// fakeBrowser is a scripted collaborator. Nil hooks succeed.
type fakeBrowser struct {
	mu          sync.Mutex
	calls       []string
	searchTerms []string
	submits     int

	navigate func(n int) (browser.PageState, error)
	search   func() (browser.PageState, error)
	verify   func() (browser.AgeResult, error)
	auth     func() (browser.AuthResult, error)
	cart     func(n int) (browser.PageState, error)
	review   func(submit bool) (browser.CheckoutResult, error)
}

func (f *fakeBrowser) record(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeBrowser) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBrowser) Count(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeBrowser) Submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeBrowser) Open(context.Context) (*browser.Session, error) {
	f.record("open")
	return &browser.Session{ID: "session-1"}, nil
}

func (f *fakeBrowser) Close(context.Context, *browser.Session) error {
	f.record("close")
	return nil
}

func (f *fakeBrowser) Navigate(_ context.Context, _ *browser.Session, link string) (browser.PageState, error) {
	n := f.record("navigate")
	if f.navigate != nil {
		return f.navigate(n)
	}
	return browser.PageState{URL: link}, nil
}

func (f *fakeBrowser) Search(_ context.Context, _ *browser.Session, hint string) (browser.PageState, error) {
	f.record("search")
	f.mu.Lock()
	f.searchTerms = append(f.searchTerms, hint)
	f.mu.Unlock()
	if f.search != nil {
		return f.search()
	}
	return browser.PageState{URL: "https://shop.example/search"}, nil
}

func (f *fakeBrowser) VerifyAge(context.Context, *browser.Session, *browser.DateOfBirth) (browser.AgeResult, error) {
	f.record("verify_age")
	if f.verify != nil {
		return f.verify()
	}
	return browser.AgeResult{Handled: true}, nil
}

func (f *fakeBrowser) Authenticate(context.Context, *browser.Session, browser.Credentials) (browser.AuthResult, error) {
	f.record("authenticate")
	if f.auth != nil {
		return f.auth()
	}
	return browser.AuthResult{}, nil
}

func (f *fakeBrowser) AddToCart(context.Context, *browser.Session) (browser.PageState, error) {
	n := f.record("add_to_cart")
	if f.cart != nil {
		return f.cart(n)
	}
	return browser.PageState{URL: "https://shop.example/checkout"}, nil
}

func (f *fakeBrowser) ReviewAndPay(_ context.Context, _ *browser.Session, _ browser.PaymentDetails, submit bool) (browser.CheckoutResult, error) {
	if submit {
		f.record("submit")
		f.mu.Lock()
		f.submits++
		f.mu.Unlock()
	} else {
		f.record("review")
	}
	if f.review != nil {
		return f.review(submit)
	}
	if submit {
		return browser.CheckoutResult{
			Submitted:       true,
			Confirmed:       true,
			ConfirmationURL: "https://shop.example/checkout/thank-you",
		}, nil
	}
	return browser.CheckoutResult{
		Summary: models.OrderSummary{Subtotal: "$49.99", Tax: "$4.38", Total: "$54.37", Quantity: "1"},
	}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sender.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n sender.Notification) (sender.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return sender.SendResult{MessageID: "fake"}, nil
}

func (f *fakeNotifier) Kinds() []sender.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]sender.Kind, len(f.sent))
	for i, n := range f.sent {
		kinds[i] = n.Kind
	}
	return kinds
}

func (f *fakeNotifier) Last() sender.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeSecrets struct{}

func (fakeSecrets) Credentials(context.Context) (browser.Credentials, error) {
	return browser.Credentials{Email: "buyer@example.com", Password: "hunter2"}, nil
}

func (fakeSecrets) Payment(context.Context) (browser.PaymentDetails, error) {
	return browser.PaymentDetails{CardNumber: "4111111111111111", CVV: "123"}, nil
}

func (fakeSecrets) DateOfBirth(context.Context) (*browser.DateOfBirth, error) {
	return &browser.DateOfBirth{Month: "01", Day: "02", Year: "1980"}, nil
}

type recordingObserver struct {
	mu   sync.Mutex
	runs []models.PurchaseRun
}

func (r *recordingObserver) RunFinished(run models.PurchaseRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}
