package lending

import "time"

// Policy bundles the lending rules the engine enforces. All values are
// overridable from configuration.
type Policy struct {
	// Loan length bounds for checkout and claim; DefaultLoanDays applies
	// when the caller passes zero.
	MinLoanDays     int
	MaxLoanDays     int
	DefaultLoanDays int

	// Extension bounds per request.
	MinExtendDays int
	MaxExtendDays int

	// MaxExtensions caps extensionCount over a loan's lifetime.
	MaxExtensions int

	// MinDaysBeforeDue is how many full days must remain before the due
	// date for an extension to be granted.
	MinDaysBeforeDue int

	// PenaltyPerDay is the accrued currency units per overdue day.
	PenaltyPerDay int

	// ClaimWindow is how long an approved reservation stays claimable.
	ClaimWindow time.Duration
}

// DefaultPolicy returns the stock lending rules.
func DefaultPolicy() Policy {
	return Policy{
		MinLoanDays:      1,
		MaxLoanDays:      14,
		DefaultLoanDays:  14,
		MinExtendDays:    1,
		MaxExtendDays:    7,
		MaxExtensions:    3,
		MinDaysBeforeDue: 2,
		PenaltyPerDay:    10,
		ClaimWindow:      24 * time.Hour,
	}
}

// normalized fills unset fields with defaults so a partially configured
// policy stays usable.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MinLoanDays <= 0 {
		p.MinLoanDays = def.MinLoanDays
	}
	if p.MaxLoanDays <= 0 {
		p.MaxLoanDays = def.MaxLoanDays
	}
	if p.DefaultLoanDays <= 0 {
		p.DefaultLoanDays = def.DefaultLoanDays
	}
	if p.MinExtendDays <= 0 {
		p.MinExtendDays = def.MinExtendDays
	}
	if p.MaxExtendDays <= 0 {
		p.MaxExtendDays = def.MaxExtendDays
	}
	if p.MaxExtensions <= 0 {
		p.MaxExtensions = def.MaxExtensions
	}
	if p.MinDaysBeforeDue <= 0 {
		p.MinDaysBeforeDue = def.MinDaysBeforeDue
	}
	if p.PenaltyPerDay <= 0 {
		p.PenaltyPerDay = def.PenaltyPerDay
	}
	if p.ClaimWindow <= 0 {
		p.ClaimWindow = def.ClaimWindow
	}
	return p
}
