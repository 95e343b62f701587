package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/diem-vasp/wallet-backend/internal/models"
)

type createPaymentRequest struct {
	AccountID       uuid.UUID  `json:"account_id"`
	ReceiverAddress string     `json:"receiver_address"`
	Amount          uint64     `json:"amount"`
	Currency        string     `json:"currency"`
	Action          string     `json:"action"`
	Description     *string    `json:"description"`
	Expiration      *time.Time `json:"expiration"`
}

type createPaymentRequestRequest struct {
	AccountID   uuid.UUID  `json:"account_id"`
	PayerVASP   string     `json:"payer_address"`
	Amount      uint64     `json:"amount"`
	Currency    string     `json:"currency"`
	Action      string     `json:"action"`
	Description *string    `json:"description"`
	Expiration  *time.Time `json:"expiration"`
}

type reviewRequest struct {
	Approve bool `json:"approve"`
}

type createAccountRequest struct {
	Name string `json:"name"`
}

type transferRequest struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Amount        uint64    `json:"amount"`
	Currency      string    `json:"currency"`
}

type createFPPARequest struct {
	PayerAddress  string           `json:"payer_address"`
	BillerAddress string           `json:"biller_address"`
	Scope         models.FPPAScope `json:"scope"`
	Description   *string          `json:"description"`
}
