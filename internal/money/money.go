// Package money converts between decimal amount strings and minor units.
//
// The gateway works in currencies with exactly two decimal places, so an
// amount is carried as an int64 count of cents ("12.50" <-> 1250).
package money

import (
	"strconv"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "12.5") to minor units (1250).
// Digits beyond the second decimal are rounded half up. Returns (0, false)
// on invalid input.
//
// Rules:
//   - Empty string is invalid
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
func Parse(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, false
	}

	roundUp := len(frac) > Decimals && frac[Decimals] >= '5'
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	v, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, false
	}
	if roundUp {
		v++
	}
	return v, true
}

// ParseMinor parses an integer count of minor units as sent on the wire.
func ParseMinor(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !allDigits(s) {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Format renders minor units as a decimal string with two places ("12.50").
func Format(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	s := strconv.FormatInt(minor, 10)
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	point := len(s) - Decimals
	result := s[:point] + "." + s[point:]
	if neg {
		result = "-" + result
	}
	return result
}

// Normalize rewrites a decimal string with exactly two places.
func Normalize(s string) (string, bool) {
	v, ok := Parse(s)
	if !ok {
		return "", false
	}
	return Format(v), true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
