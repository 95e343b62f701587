package models

import (
	"time"

	"github.com/google/uuid"
)

// Funds-pull pre-approval statuses.
const (
	FPPAStatusPending  = "pending"
	FPPAStatusValid    = "valid"
	FPPAStatusRejected = "rejected"
	FPPAStatusClosed   = "closed"
)

// FPPA roles: which side of the approval this wallet plays.
const (
	FPPARolePayer = "PAYER"
	FPPARolePayee = "PAYEE"
)

// Scope types.
const (
	FPPAScopeConsent        = "consent"
	FPPAScopeSaveSubAccount = "save_sub_account"
)

// Cumulative amount units.
const (
	FPPAUnitWeek  = "week"
	FPPAUnitMonth = "month"
	FPPAUnitYear  = "year"
)

var ValidFPPATransitions = map[string][]string{
	FPPAStatusPending:  {FPPAStatusValid, FPPAStatusRejected},
	FPPAStatusValid:    {FPPAStatusClosed},
	FPPAStatusRejected: {},
	FPPAStatusClosed:   {},
}

func IsValidFPPATransition(from, to string) bool {
	allowed, ok := ValidFPPATransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// FPPARoleMayTransition enforces role authority on top of the transition
// DAG: only the payer resolves a pending approval; either role may close a
// valid one.
func FPPARoleMayTransition(role, from, to string) bool {
	if !IsValidFPPATransition(from, to) {
		return false
	}
	if from == FPPAStatusPending {
		return role == FPPARolePayer
	}
	return true
}

type CurrencyAmount struct {
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
}

type ScopedCumulativeAmount struct {
	Unit      string         `json:"unit"` // week / month / year
	Value     uint64         `json:"value"`
	MaxAmount CurrencyAmount `json:"max_amount"`
}

type FPPAScope struct {
	Type                 string                  `json:"type"`
	ExpirationTimestamp  int64                   `json:"expiration_timestamp"`
	MaxCumulativeAmount  *ScopedCumulativeAmount `json:"max_cumulative_amount,omitempty"`
	MaxTransactionAmount *CurrencyAmount         `json:"max_transaction_amount,omitempty"`
}

// FundsPullPreApproval is one standing pull authorization.
type FundsPullPreApproval struct {
	FundsPullPreApprovalID uuid.UUID `json:"funds_pull_pre_approval_id"`
	PayerAddress           string    `json:"payer_address"`  // bech32
	BillerAddress          string    `json:"biller_address"` // bech32, the payee
	Scope                  FPPAScope `json:"scope"`
	Description            *string   `json:"description,omitempty"`
	Status                 string    `json:"status"`
	Role                   string    `json:"role"`
	OffchainSent           bool      `json:"offchain_sent"`
	Version                int64     `json:"-"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}
