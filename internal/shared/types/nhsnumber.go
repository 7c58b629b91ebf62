package types

import (
	"fmt"
	"regexp"
	"strings"
)

// NHSNumber represents an NHS number (10 digits).
// The tenth digit is a check digit computed with the Modulus 11 algorithm
// over the first nine digits.
type NHSNumber string

var nhsNumberRegex = regexp.MustCompile(`^\d{10}$`)

// ParseNHSNumber validates and parses an NHS number string.
// Spaces are tolerated on input ("943 476 5919") and stripped.
func ParseNHSNumber(s string) (NHSNumber, error) {
	s = strings.ReplaceAll(s, " ", "")
	if !nhsNumberRegex.MatchString(s) {
		return "", fmt.Errorf("NHS number must be exactly 10 digits")
	}

	n := NHSNumber(s)
	if !n.IsValid() {
		return "", fmt.Errorf("invalid NHS number checksum")
	}

	return n, nil
}

// String returns the string representation
func (n NHSNumber) String() string {
	return string(n)
}

// Masked returns a masked version for display (last 4 digits visible)
func (n NHSNumber) Masked() string {
	if len(n) < 10 {
		return "**********"
	}
	return "******" + string(n)[6:]
}

// IsValid validates the NHS number check digit
func (n NHSNumber) IsValid() bool {
	if len(n) != 10 {
		return false
	}

	digits := make([]int, 10)
	for i, c := range n {
		if c < '0' || c > '9' {
			return false
		}
		digits[i] = int(c - '0')
	}

	// Weights run 10 down to 2 over the first nine digits
	sum := 0
	for i := 0; i < 9; i++ {
		sum += digits[i] * (10 - i)
	}

	checkDigit := 11 - (sum % 11)
	if checkDigit == 11 {
		checkDigit = 0
	}

	// A computed check digit of 10 means the number is invalid
	if checkDigit == 10 {
		return false
	}

	return digits[9] == checkDigit
}

// IsZero checks if the NHS number is empty
func (n NHSNumber) IsZero() bool {
	return n == ""
}
