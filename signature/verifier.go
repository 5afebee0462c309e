// Package signature authenticates inbound webhooks with an HMAC-SHA256 over
// "{timestamp}.{body}" and rejects requests outside a freshness window.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the accepted clock skew either side of now.
const DefaultTolerance = 300 * time.Second

var (
	ErrNotConfigured    = errors.New("signature secret not configured")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleTimestamp   = errors.New("timestamp too old/future")
)

// Verifier checks webhook signatures against a pre-shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. A non-positive tolerance falls back to
// DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the verifier's time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Tolerance returns the configured freshness window.
func (v *Verifier) Tolerance() time.Duration { return v.tolerance }

// Sign returns the hex-encoded signature for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	return hex.EncodeToString(compute([]byte(secret), timestamp, body))
}

func compute(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// Verify checks freshness first, then the signature. Mismatches never say
// which byte differed.
func (v *Verifier) Verify(body []byte, timestamp, signature string) error {
	if len(v.secret) == 0 {
		return ErrNotConfigured
	}
	if err := v.checkTimestamp(timestamp); err != nil {
		return err
	}

	// Compared as lowercase hex text so that case flips are mismatches too.
	expected := hex.EncodeToString(compute(v.secret, timestamp, body))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) checkTimestamp(timestamp string) error {
	sec, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrStaleTimestamp)
	}
	age := v.now().Sub(time.Unix(sec, 0))
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return fmt.Errorf("%w: skew %s exceeds %s", ErrStaleTimestamp, age.Truncate(time.Second), v.tolerance)
	}
	return nil
}
