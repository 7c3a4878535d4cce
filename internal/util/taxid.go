package util

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidTaxID is returned for input that looks like a tax id but is not 10 or 12 digits.
var ErrInvalidTaxID = errors.New("invalid tax id")

var (
	separators = regexp.MustCompile(`[\s\-]+`)
	digitsOnly = regexp.MustCompile(`^\d+$`)
	taxIDRe    = regexp.MustCompile(`^(\d{10}|\d{12})$`)
)

// NormalizeTaxID strips spaces and dashes users paste along with the number.
func NormalizeTaxID(raw string) string {
	return separators.ReplaceAllString(strings.TrimSpace(raw), "")
}

// ParseTaxID returns the normalized tax id, ErrInvalidTaxID for digit strings of
// the wrong length, and ok=false for input that is not a tax id attempt at all.
func ParseTaxID(raw string) (inn string, ok bool, err error) {
	s := NormalizeTaxID(raw)
	if !digitsOnly.MatchString(s) {
		return "", false, nil
	}
	if !taxIDRe.MatchString(s) {
		return "", true, ErrInvalidTaxID
	}
	return s, true, nil
}

// ValidTaxID reports whether s is exactly 10 or 12 ASCII digits.
func ValidTaxID(s string) bool {
	return taxIDRe.MatchString(s)
}
