package offchain

import (
	"errors"
	"fmt"
)

// Error codes carried in failure responses.
const (
	CodeInvalidObject          = "invalid_object"
	CodeMissingField           = "missing_field"
	CodeInvalidFieldValue      = "invalid_field_value"
	CodeUnknownReferenceID     = "unknown_reference_id"
	CodeInvalidTransition      = "invalid_transition"
	CodeInvalidRecipientSig    = "invalid_recipient_signature"
	CodeInvalidRole            = "invalid_role"
	CodePaymentAlreadySettled  = "payment_already_settled"
	CodeInvalidCommandType     = "invalid_command_type"
	CodeInvalidSignature       = "invalid_signature"
	CodeUnknownSender          = "unknown_sender"
	CodeInternal               = "internal_error"
)

// CommandError rejects a type-valid but semantically illegal command. The
// dispatcher answers it with status=failure, error.type=command_error,
// http 400, and no state mutation.
type CommandError struct {
	Code    string
	Field   string
	Message string
}

func (e *CommandError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("command error %s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("command error %s: %s", e.Code, e.Message)
}

func commandErrorf(code, field, format string, args ...any) *CommandError {
	return &CommandError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Storage sentinels shared by the store ports.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("row version conflict")
)
