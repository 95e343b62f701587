package events

import "context"

// Event types
const (
	EventPaymentStatusChanged = "payment_status_changed"
	EventPaymentSettled       = "payment_settled"
	EventPaymentReview        = "payment_review_required"
	EventFPPAStatusChanged    = "fppa_status_changed"
	EventDepositReceived      = "deposit_received"
)

// StreamPayments carries every wallet-facing event.
const StreamPayments = "events:payments"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
