package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/browser"
)

// Vault groups raw secrets into the typed values the agent consumes.
type Vault struct {
	provider Provider
}

func NewVault(p Provider) *Vault {
	return &Vault{provider: p}
}

func (v *Vault) get(ctx context.Context, names ...string) ([]string, error) {
	values := make([]string, len(names))
	for i, name := range names {
		val, err := v.provider.GetSecret(ctx, name)
		if err != nil {
			return nil, err
		}
		values[i] = val
	}
	return values, nil
}

func (v *Vault) optional(ctx context.Context, name string) (string, error) {
	val, err := v.provider.GetSecret(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return val, err
}

func (v *Vault) WebhookSecret(ctx context.Context) (string, error) {
	vals, err := v.get(ctx, WebhookSecret)
	if err != nil {
		return "", err
	}
	return vals[0], nil
}

func (v *Vault) Credentials(ctx context.Context) (browser.Credentials, error) {
	vals, err := v.get(ctx, AccountEmail, AccountPassword)
	if err != nil {
		return browser.Credentials{}, fmt.Errorf("load account credentials: %w", err)
	}
	return browser.Credentials{Email: vals[0], Password: vals[1]}, nil
}

func (v *Vault) Payment(ctx context.Context) (browser.PaymentDetails, error) {
	vals, err := v.get(ctx,
		CardNumber, CardExpMonth, CardExpYear, CardCVV,
		BillingName, BillingAddress1, BillingCity, BillingState, BillingZip,
	)
	if err != nil {
		return browser.PaymentDetails{}, fmt.Errorf("load payment details: %w", err)
	}
	addr2, err := v.optional(ctx, BillingAddress2)
	if err != nil {
		return browser.PaymentDetails{}, fmt.Errorf("load payment details: %w", err)
	}
	return browser.PaymentDetails{
		CardNumber:      vals[0],
		ExpiryMonth:     vals[1],
		ExpiryYear:      vals[2],
		CVV:             vals[3],
		BillingName:     vals[4],
		BillingAddress1: vals[5],
		BillingAddress2: addr2,
		BillingCity:     vals[6],
		BillingState:    vals[7],
		BillingZip:      vals[8],
	}, nil
}

// DateOfBirth returns nil when no date of birth is stored; the age gate is
// then answered by the worker's default.
func (v *Vault) DateOfBirth(ctx context.Context) (*browser.DateOfBirth, error) {
	vals, err := v.get(ctx, DOBMonth, DOBDay, DOBYear)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load date of birth: %w", err)
	}
	return &browser.DateOfBirth{Month: vals[0], Day: vals[1], Year: vals[2]}, nil
}

// Pushover returns the app token and user key, or ErrNotFound.
func (v *Vault) Pushover(ctx context.Context) (string, string, error) {
	vals, err := v.get(ctx, PushoverAppToken, PushoverUserKey)
	if err != nil {
		return "", "", err
	}
	return vals[0], vals[1], nil
}
