// Package rules holds the business constants of the pharmacy ledger and the
// pure predicates built on them. A RuleSet is a value: build it once with
// Default and pass it to every component that needs it.
package rules

import (
	"time"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
)

type ExpiryStatus string

const (
	ExpiryExpired  ExpiryStatus = "expired"
	ExpiryCritical ExpiryStatus = "critical"
	ExpiryWarning  ExpiryStatus = "warning"
	ExpiryValid    ExpiryStatus = "valid"
)

type RuleSet struct {
	PrescriptionValidityDays int
	CriticalExpiryDays       int
	WarningExpiryDays        int
	MinQuantity              int
	MaxQuantity              int
	MinRFIDLength            int
	MaxRFIDLength            int
	MaxPrescriptionItems     int

	// Location defines calendar-day boundaries.
	Location *time.Location
	Now      func() time.Time

	permissions map[domain.Action][]domain.Role
}

func Default() RuleSet {
	return RuleSet{
		PrescriptionValidityDays: 30,
		CriticalExpiryDays:       7,
		WarningExpiryDays:        30,
		MinQuantity:              1,
		MaxQuantity:              10000,
		MinRFIDLength:            4,
		MaxRFIDLength:            50,
		MaxPrescriptionItems:     20,
		Location:                 time.UTC,
		Now:                      time.Now,
		permissions: map[domain.Action][]domain.Role{
			domain.ActionCreatePrescription: {domain.RoleAdmin, domain.RoleDoctor},
			domain.ActionDispatch:           {domain.RoleAdmin, domain.RolePharmacist},
			domain.ActionCancelPrescription: {domain.RoleAdmin, domain.RoleDoctor},
		},
	}
}

// WithLocation returns a copy of r whose calendar days follow loc.
func (r RuleSet) WithLocation(loc *time.Location) RuleSet {
	r.Location = loc
	return r
}

// WithClock returns a copy of r that reads the current time from now.
func (r RuleSet) WithClock(now func() time.Time) RuleSet {
	r.Now = now
	return r
}

// Today is the current calendar day in r.Location, expressed as midnight
// UTC like every other date the ledger stores.
func (r RuleSet) Today() time.Time {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return r.Date(r.Now().In(loc))
}

// Date truncates t to the calendar day of its own wall clock, expressed as
// midnight UTC. Values that are already midnight UTC pass through
// unchanged.
func (r RuleSet) Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole calendar days from a to b.
func (r RuleSet) daysBetween(a, b time.Time) int {
	return int(r.Date(b).Sub(r.Date(a)).Hours() / 24)
}

// IsExpired reports whether date lies before today. The zero date is never
// expired.
func (r RuleSet) IsExpired(date time.Time) bool {
	if date.IsZero() {
		return false
	}
	return r.daysBetween(r.Today(), date) < 0
}

// DaysUntilExpiry is negative for expired dates. ok is false for the zero
// date.
func (r RuleSet) DaysUntilExpiry(date time.Time) (days int, ok bool) {
	if date.IsZero() {
		return 0, false
	}
	return r.daysBetween(r.Today(), date), true
}

func (r RuleSet) ExpiryStatus(date time.Time) ExpiryStatus {
	days, ok := r.DaysUntilExpiry(date)
	switch {
	case !ok:
		return ExpiryValid
	case days < 0:
		return ExpiryExpired
	case days <= r.CriticalExpiryDays:
		return ExpiryCritical
	case days <= r.WarningExpiryDays:
		return ExpiryWarning
	default:
		return ExpiryValid
	}
}

// DaysSinceIssue counts calendar days from issue to today.
func (r RuleSet) DaysSinceIssue(issue time.Time) int {
	return r.daysBetween(issue, r.Today())
}

// IsPrescriptionExpired: a prescription issued N days ago is valid while
// N <= PrescriptionValidityDays.
func (r RuleSet) IsPrescriptionExpired(issue time.Time) bool {
	if issue.IsZero() {
		return false
	}
	return r.DaysSinceIssue(issue) > r.PrescriptionValidityDays
}

// ValidateQuantity checks n against the per-operation bounds.
func (r RuleSet) ValidateQuantity(field string, n int) error {
	if n < r.MinQuantity || n > r.MaxQuantity {
		return domain.InvalidQuantity(field, n, r.MinQuantity, r.MaxQuantity)
	}
	return nil
}

// ValidRFID accepts [A-Za-z0-9_-] within the configured length bounds.
func (r RuleSet) ValidRFID(code string) bool {
	if len(code) < r.MinRFIDLength || len(code) > r.MaxRFIDLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func (r RuleSet) MayPerform(role domain.Role, action domain.Action) bool {
	for _, allowed := range r.permissions[action] {
		if allowed == role {
			return true
		}
	}
	return false
}

// Authorize is MayPerform returning a permission error.
func (r RuleSet) Authorize(actor domain.Actor, action domain.Action) error {
	if !r.MayPerform(actor.Role, action) {
		return domain.RoleNotAllowed(actor.Role, action)
	}
	return nil
}
