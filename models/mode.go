package models

import (
	"fmt"
	"strings"
)

// Mode gates whether the checkout collaborator is ever asked to submit.
type Mode string

const (
	ModeDryRun Mode = "dryrun" // every stage except the final submission
	ModeTest   Mode = "test"   // submits, any product (end-to-end validation)
	ModeProd   Mode = "prod"   // submits for real
)

// ParseMode normalises and validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDryRun, ModeTest, ModeProd:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want dryrun, test or prod)", s)
	}
}

// Safety ranks modes; higher is safer.
func (m Mode) Safety() int {
	switch m {
	case ModeDryRun:
		return 3
	case ModeTest:
		return 2
	case ModeProd:
		return 1
	default:
		return 0
	}
}

// Submits reports whether runs in this mode place a real order.
func (m Mode) Submits() bool {
	return m == ModeTest || m == ModeProd
}

// ResolveOverride returns the effective mode for a run when a payload asks
// for requested. Overrides may only move to an equally safe or safer mode.
func ResolveOverride(configured Mode, requested string) (Mode, error) {
	if requested == "" {
		return configured, nil
	}
	m, err := ParseMode(requested)
	if err != nil {
		return "", err
	}
	if m.Safety() < configured.Safety() {
		return "", fmt.Errorf("cannot override mode %s with less safe mode %s", configured, m)
	}
	return m, nil
}
