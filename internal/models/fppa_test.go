package models

import "testing"

func TestIsValidFPPATransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{FPPAStatusPending, FPPAStatusValid, true},
		{FPPAStatusPending, FPPAStatusRejected, true},
		{FPPAStatusValid, FPPAStatusClosed, true},

		{FPPAStatusPending, FPPAStatusClosed, false},
		{FPPAStatusValid, FPPAStatusRejected, false},
		{FPPAStatusRejected, FPPAStatusValid, false},
		{FPPAStatusClosed, FPPAStatusValid, false},
		{FPPAStatusValid, FPPAStatusPending, false},
		{"nonexistent", FPPAStatusValid, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsValidFPPATransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("IsValidFPPATransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestFPPARoleMayTransition(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		from     string
		to       string
		expected bool
	}{
		{"payer approves", FPPARolePayer, FPPAStatusPending, FPPAStatusValid, true},
		{"payer rejects", FPPARolePayer, FPPAStatusPending, FPPAStatusRejected, true},
		{"payee cannot approve", FPPARolePayee, FPPAStatusPending, FPPAStatusValid, false},
		{"payee cannot reject", FPPARolePayee, FPPAStatusPending, FPPAStatusRejected, false},
		{"payer closes", FPPARolePayer, FPPAStatusValid, FPPAStatusClosed, true},
		{"payee closes", FPPARolePayee, FPPAStatusValid, FPPAStatusClosed, true},
		{"payer cannot reopen", FPPARolePayer, FPPAStatusClosed, FPPAStatusValid, false},
		{"payer cannot skip to closed", FPPARolePayer, FPPAStatusPending, FPPAStatusClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FPPARoleMayTransition(tt.role, tt.from, tt.to); got != tt.expected {
				t.Errorf("FPPARoleMayTransition(%q, %q, %q) = %v, want %v", tt.role, tt.from, tt.to, got, tt.expected)
			}
		})
	}
}
