package validation

import (
	"strings"
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"task_1", true},
		{"pi_3OqXbC2eZvKYlo2C", true},
		{"acct_worker-7", true},
		{"evt_00000000000000000000", true},

		{"", false},
		{"task 1", false},              // spaces
		{"task\x001", false},           // control bytes
		{"task/1", false},              // path characters
		{strings.Repeat("a", 129), false}, // too long
	}
	for _, tt := range tests {
		if got := IsValidID(tt.id); got != tt.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestIsValidAmountCents(t *testing.T) {
	tests := []struct {
		amount int64
		valid  bool
	}{
		{1, true},
		{10000, true},
		{MaxAmountCents, true},

		{0, false},
		{-1, false},
		{MaxAmountCents + 1, false},
	}
	for _, tt := range tests {
		if got := IsValidAmountCents(tt.amount); got != tt.valid {
			t.Errorf("IsValidAmountCents(%d) = %v, want %v", tt.amount, got, tt.valid)
		}
	}
}

func TestIsValidCurrency(t *testing.T) {
	for _, c := range []string{"usd", "eur", "gbp"} {
		if !IsValidCurrency(c) {
			t.Errorf("IsValidCurrency(%q) = false, want true", c)
		}
	}
	for _, c := range []string{"USD", "us", "usdd", "", "u$d"} {
		if IsValidCurrency(c) {
			t.Errorf("IsValidCurrency(%q) = true, want false", c)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  left on porch  ", 100); got != "left on porch" {
		t.Errorf("trim: got %q", got)
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("null bytes: got %q", got)
	}
	if got := SanitizeString(strings.Repeat("x", 50), 10); len(got) != 10 {
		t.Errorf("truncate: len = %d, want 10", len(got))
	}
}
