// Package validation provides input validation for the values that cross
// the core's public boundary: opaque ids, minor-unit amounts, currencies,
// and free-text fields destined for durable rows.
package validation

import (
	"regexp"
	"strings"
)

// MaxStringLength is the maximum length for free-text fields (proof notes,
// refund reasons) before they are truncated.
const MaxStringLength = 10000

// MaxAmountCents caps a single escrow at $100,000. A local-task gross
// above this is far more likely to be a unit bug (dollars passed as
// cents, doubled retries) than a real job.
const MaxAmountCents int64 = 10_000_000

var (
	// idRegex validates opaque ids: the prefixed crypto-random ids this
	// module mints and the gateway's own pi_/tr_/ch_/evt_/pm_/acct_ ids.
	idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	// currencyRegex validates lowercase ISO 4217 codes the gateway accepts.
	currencyRegex = regexp.MustCompile(`^[a-z]{3}$`)
)

// IsValidID reports whether s is an acceptable opaque identifier.
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

// IsValidAmountCents reports whether amount is a plausible escrow amount:
// strictly positive and at most MaxAmountCents.
func IsValidAmountCents(amount int64) bool {
	return amount > 0 && amount <= MaxAmountCents
}

// IsValidCurrency reports whether s is a lowercase ISO 4217 code.
func IsValidCurrency(s string) bool {
	return currencyRegex.MatchString(s)
}

// SanitizeString trims whitespace, strips null bytes, and truncates to
// maxLen. Applied to every free-text field before it reaches a durable row.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
