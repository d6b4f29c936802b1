package shared

import (
	"fmt"
	"math"
	"strings"
)

// CourseID identifies a course. Courses come from the relational catalog
// owned by an external collaborator; the ledger only needs the numeric key.
type CourseID uint64

// Validate checks that the course ID is set.
func (id CourseID) Validate() error {
	if id == 0 {
		return fmt.Errorf("course id: %w", ErrInvalidID)
	}
	return nil
}

// String returns the decimal representation.
func (id CourseID) String() string {
	return uitoa(uint64(id))
}

// GuideNumber identifies one gradable lesson unit within a course, 1-based.
type GuideNumber uint64

// Validate checks that the guide number is set.
func (n GuideNumber) Validate() error {
	if n == 0 {
		return fmt.Errorf("guide number: %w", ErrInvalidID)
	}
	return nil
}

// Address is a settlement-layer account identity: a student, a signer, or
// the contract owner. The zero value is the invalid "nobody" identity.
type Address string

// StudentAddress is an Address in student position. Every ledger operation
// rejects the zero identity.
type StudentAddress = Address

// ZeroAddress is the invalid empty identity.
const ZeroAddress StudentAddress = ""

// Validate checks that the address is non-zero.
func (a StudentAddress) Validate() error {
	if a.IsZero() {
		return ErrInvalidStudent
	}
	return nil
}

// IsZero reports whether the address is the zero/empty identity.
func (a StudentAddress) IsZero() bool {
	return strings.TrimSpace(string(a)) == ""
}

// String implements fmt.Stringer.
func (a StudentAddress) String() string {
	return string(a)
}

// Currency is a currency tag for vault balances, e.g. "USDC6" for a
// six-decimal stablecoin. Tags are opaque to the ledger.
type Currency string

// DefaultCurrency is the primary currency scholarships are paid in.
const DefaultCurrency Currency = "USDC6"

// Validate checks that the currency tag is non-empty.
func (c Currency) Validate() error {
	if strings.TrimSpace(string(c)) == "" {
		return fmt.Errorf("currency: %w", ErrEmptyValue)
	}
	return nil
}

// Amount is a currency amount in integer minor units. All ledger math is
// integer math; percentage-scaled rewards truncate, never round.
type Amount uint64

// ScaleByPercent returns floor(a * pct / 100). pct above 100 is clamped.
func (a Amount) ScaleByPercent(pct uint8) Amount {
	if pct >= 100 {
		return a
	}
	if pct == 0 {
		return 0
	}
	if uint64(a) > math.MaxUint64/100 {
		// The product would overflow; divide first. Truncates up to one
		// extra minor unit at scales no real vault reaches.
		return Amount(uint64(a) / 100 * uint64(pct))
	}
	return Amount(uint64(a) * uint64(pct) / 100)
}

// ProfileScore is a student's aggregate profile score, 0-100.
type ProfileScore uint8

// MaxProfileScore is the upper bound of the profile score scale.
const MaxProfileScore ProfileScore = 100

// Validate checks the score is within the 0-100 scale.
func (s ProfileScore) Validate() error {
	if s > MaxProfileScore {
		return fmt.Errorf("profile score %d: %w", s, ErrInvalidInput)
	}
	return nil
}
