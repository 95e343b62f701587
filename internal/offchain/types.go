package offchain

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// Object type discriminators.
const (
	ObjectTypeCommandRequest  = "CommandRequestObject"
	ObjectTypeCommandResponse = "CommandResponseObject"
	ObjectTypePaymentCommand  = "PaymentCommand"
	ObjectTypeFPPACommand     = "FundPullPreApprovalCommand"
	ObjectTypePaymentInfo     = "GetInfoCommandResponse"
)

// CommandType selects the handler for an inbound request.
type CommandType string

const (
	CommandPayment       CommandType = "PaymentCommand"
	CommandFPPA          CommandType = "FundPullPreApprovalCommand"
	CommandGetInfo       CommandType = "GetInfoCommand"
	CommandInitCharge    CommandType = "InitChargePayment"
	CommandInitAuthorize CommandType = "InitAuthorizeCommand"
	CommandAbortPayment  CommandType = "AbortPayment"
	CommandGetPaymentInfo CommandType = "GetPaymentInfo"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Error types carried in failure responses.
const (
	ErrorTypeCommand  = "command_error"
	ErrorTypeProtocol = "protocol_error"
)

// claimsBase satisfies jwt.Claims for the envelope payload objects without
// adding any registered-claim fields to the wire encoding.
type claimsBase struct{}

func (claimsBase) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (claimsBase) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (claimsBase) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (claimsBase) GetIssuer() (string, error)                   { return "", nil }
func (claimsBase) GetSubject() (string, error)                  { return "", nil }
func (claimsBase) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// CommandRequestObject is the payload of every inbound envelope. The command
// body stays raw until the handler for its type decodes it.
type CommandRequestObject struct {
	claimsBase
	ObjectType  string          `json:"_ObjectType"`
	CID         string          `json:"cid"`
	CommandType CommandType     `json:"command_type"`
	Command     json.RawMessage `json:"command"`
}

// OffChainError is the typed error of a failure response.
type OffChainError struct {
	Type    string `json:"type"` // command_error / protocol_error
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// CommandResponseObject is the payload of every response envelope.
type CommandResponseObject struct {
	claimsBase
	ObjectType string          `json:"_ObjectType"`
	Status     string          `json:"status"`
	CID        *string         `json:"cid"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *OffChainError  `json:"error,omitempty"`
}

// StatusObject wraps an actor status on the wire.
type StatusObject struct {
	Status string `json:"status"`
}

// PaymentActorObject is one side of a payment on the wire.
type PaymentActorObject struct {
	Address           string          `json:"address"` // bech32 with subaddress
	Status            StatusObject    `json:"status"`
	KycData           json.RawMessage `json:"kyc_data,omitempty"`
	AdditionalKycData *string         `json:"additional_kyc_data,omitempty"`
	Metadata          []string        `json:"metadata,omitempty"`
}

// PaymentActionObject describes what is being paid.
type PaymentActionObject struct {
	Amount     uint64 `json:"amount"`
	Currency   string `json:"currency"`
	Action     string `json:"action"` // charge / auth
	Timestamp  int64  `json:"timestamp"`
	ValidUntil int64  `json:"valid_until,omitempty"` // expiration, unix seconds
}

// PaymentObject is the shared payment state both VASPs converge on.
type PaymentObject struct {
	ReferenceID                string              `json:"reference_id"`
	Sender                     PaymentActorObject  `json:"sender"`
	Receiver                   PaymentActorObject  `json:"receiver"`
	Action                     PaymentActionObject `json:"action"`
	RecipientSignature         *string             `json:"recipient_signature,omitempty"`
	Description                *string             `json:"description,omitempty"`
	OriginalPaymentReferenceID *string             `json:"original_payment_reference_id,omitempty"`
}

// PaymentCommandObject carries a PaymentObject mutation.
type PaymentCommandObject struct {
	ObjectType string        `json:"_ObjectType"`
	Payment    PaymentObject `json:"payment"`
}

// FPPAObject is a funds-pull pre-approval on the wire.
type FPPAObject struct {
	FundsPullPreApprovalID string          `json:"funds_pull_pre_approval_id"`
	Address                string          `json:"address"`        // payer, bech32
	BillerAddress          string          `json:"biller_address"` // payee, bech32
	Scope                  FPPAScopeObject `json:"scope"`
	Description            *string         `json:"description,omitempty"`
	Status                 string          `json:"status"`
}

type FPPAScopeObject struct {
	Type                 string                `json:"type"`
	ExpirationTimestamp  int64                 `json:"expiration_timestamp"`
	MaxCumulativeAmount  *FPPACumulativeObject `json:"max_cumulative_amount,omitempty"`
	MaxTransactionAmount *CurrencyObject       `json:"max_transaction_amount,omitempty"`
}

type FPPACumulativeObject struct {
	Unit      string         `json:"unit"`
	Value     uint64         `json:"value"`
	MaxAmount CurrencyObject `json:"max_amount"`
}

type CurrencyObject struct {
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
}

// FPPACommandObject carries an FPPAObject mutation.
type FPPACommandObject struct {
	ObjectType              string     `json:"_ObjectType"`
	FundsPullPreApproval    FPPAObject `json:"funds_pull_pre_approval"`
}

// ReferenceIDCommandObject is the body of GetInfoCommand, GetPaymentInfo and
// AbortPayment requests.
type ReferenceIDCommandObject struct {
	ReferenceID  string  `json:"reference_id"`
	AbortCode    *string `json:"abort_code,omitempty"`
	AbortMessage *string `json:"abort_message,omitempty"`
}

// InitPaymentCommandObject is the body of InitChargePayment and
// InitAuthorizeCommand: the sender wallet hands over its actor data for a
// payment the receiver pre-created.
type InitPaymentCommandObject struct {
	ReferenceID string             `json:"reference_id"`
	Sender      PaymentActorObject `json:"sender"`
}

// PaymentInfoObject is the result of GetInfoCommand / GetPaymentInfo.
type PaymentInfoObject struct {
	ObjectType  string              `json:"_ObjectType"`
	ReferenceID string              `json:"reference_id"`
	Receiver    PaymentActorObject  `json:"receiver"`
	Action      PaymentActionObject `json:"action"`
	Description *string             `json:"description,omitempty"`
}
