package models

import (
	"time"

	"github.com/google/uuid"
)

// Actor statuses of the off-chain payment negotiation.
const (
	ActorStatusNone               = "none"
	ActorStatusNeedsKycData       = "needs_kyc_data"
	ActorStatusReadyForSettlement = "ready_for_settlement"
	ActorStatusAbort              = "abort"
	ActorStatusSoftMatch          = "soft_match"
)

// Valid actor status transitions: from -> []to. abort is a terminal sink
// reachable from every live status; soft_match parks the actor until an
// operator resolves the review.
var ValidActorTransitions = map[string][]string{
	ActorStatusNone:               {ActorStatusNeedsKycData, ActorStatusReadyForSettlement, ActorStatusSoftMatch, ActorStatusAbort},
	ActorStatusNeedsKycData:       {ActorStatusReadyForSettlement, ActorStatusSoftMatch, ActorStatusAbort},
	ActorStatusSoftMatch:          {ActorStatusReadyForSettlement, ActorStatusAbort},
	ActorStatusReadyForSettlement: {ActorStatusAbort},
	ActorStatusAbort:              {},
}

func IsValidActorTransition(from, to string) bool {
	allowed, ok := ValidActorTransitions[from]
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

// actorStatusRank orders the live statuses so inbound updates can be
// rejected unless they strictly advance the side being modified.
var actorStatusRank = map[string]int{
	ActorStatusNone:               0,
	ActorStatusNeedsKycData:       1,
	ActorStatusSoftMatch:          1,
	ActorStatusReadyForSettlement: 2,
}

// ActorStatusAdvances reports whether to is a strict advance over from.
// abort always advances a live status; nothing advances abort.
func ActorStatusAdvances(from, to string) bool {
	if from == ActorStatusAbort {
		return false
	}
	if to == ActorStatusAbort {
		return true
	}
	fromRank, ok := actorStatusRank[from]
	if !ok {
		return false
	}
	toRank, ok := actorStatusRank[to]
	if !ok {
		return false
	}
	if from == ActorStatusNeedsKycData && to == ActorStatusSoftMatch {
		return true
	}
	return toRank > fromRank
}

// Internal transaction statuses sequencing the worker pipeline.
const (
	TxStatusOffChainOutbound         = "OFF_CHAIN_OUTBOUND"
	TxStatusOffChainReceiverOutbound = "OFF_CHAIN_RECEIVER_OUTBOUND"
	TxStatusOffChainWait             = "OFF_CHAIN_WAIT"
	TxStatusOffChainInbound          = "OFF_CHAIN_INBOUND"
	TxStatusOffChainReady            = "OFF_CHAIN_READY"
	TxStatusOffChainReview           = "OFF_CHAIN_REVIEW"
	TxStatusCompleted                = "COMPLETED"
	TxStatusCanceled                 = "CANCELED"
	TxStatusFailed                   = "FAILED"
)

// Statuses the outbound worker picks up each tick.
var OutboundActionable = []string{
	TxStatusOffChainOutbound,
	TxStatusOffChainReceiverOutbound,
	TxStatusOffChainInbound,
	TxStatusOffChainReady,
}

func IsTerminalTxStatus(status string) bool {
	switch status {
	case TxStatusCompleted, TxStatusCanceled, TxStatusFailed:
		return true
	}
	return false
}

// Payment roles: which actor this wallet plays.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// Payment actions.
const (
	ActionCharge    = "charge"
	ActionAuthorize = "auth"
)

// Payment is one off-chain negotiation, persisted one row per reference_id.
type Payment struct {
	ReferenceID     uuid.UUID `json:"reference_id"`
	SenderAddress   string    `json:"sender_address"`   // bech32, account + subaddress
	ReceiverAddress string    `json:"receiver_address"` // bech32, account + subaddress
	Amount          uint64    `json:"amount"`           // base units, 6 fractional digits
	Currency        string    `json:"currency"`
	Action          string    `json:"action"`
	Expiration      time.Time `json:"expiration"`

	SenderStatus            string  `json:"sender_status"`
	ReceiverStatus          string  `json:"receiver_status"`
	SenderKycData           *string `json:"sender_kyc_data,omitempty"`
	ReceiverKycData         *string `json:"receiver_kyc_data,omitempty"`
	SenderAdditionalKycData *string `json:"sender_additional_kyc_data,omitempty"`
	ReceiverAdditionalKycData *string `json:"receiver_additional_kyc_data,omitempty"`

	RecipientSignature         *string    `json:"recipient_signature,omitempty"` // hex, 64 bytes
	Description                *string    `json:"description,omitempty"`
	OriginalPaymentReferenceID *uuid.UUID `json:"original_payment_reference_id,omitempty"`

	// Bookkeeping
	MyRole            string    `json:"my_role"` // sender / receiver
	Inbound           bool      `json:"inbound"` // last mutation came from the peer
	CID               uuid.UUID `json:"cid"`     // last envelope correlation id
	TransactionStatus string    `json:"transaction_status"`

	SettlementVersion  *uint64 `json:"settlement_version,omitempty"`
	SettlementSequence *uint64 `json:"settlement_sequence,omitempty"`

	Version   int64     `json:"-"` // optimistic commit guard
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MyStatus returns the actor status of the side this wallet plays.
func (p *Payment) MyStatus() string {
	if p.MyRole == RoleSender {
		return p.SenderStatus
	}
	return p.ReceiverStatus
}

// PeerStatus returns the actor status of the counterparty side.
func (p *Payment) PeerStatus() string {
	if p.MyRole == RoleSender {
		return p.ReceiverStatus
	}
	return p.SenderStatus
}

func (p *Payment) SetMyStatus(status string) {
	if p.MyRole == RoleSender {
		p.SenderStatus = status
	} else {
		p.ReceiverStatus = status
	}
}

func (p *Payment) SetPeerStatus(status string) {
	if p.MyRole == RoleSender {
		p.ReceiverStatus = status
	} else {
		p.SenderStatus = status
	}
}

// MyKycData returns this side's kyc payload, if any.
func (p *Payment) MyKycData() *string {
	if p.MyRole == RoleSender {
		return p.SenderKycData
	}
	return p.ReceiverKycData
}

// PeerKycData returns the counterparty's kyc payload, if any.
func (p *Payment) PeerKycData() *string {
	if p.MyRole == RoleSender {
		return p.ReceiverKycData
	}
	return p.SenderKycData
}

func (p *Payment) SetMyKycData(data string) {
	if p.MyRole == RoleSender {
		p.SenderKycData = &data
	} else {
		p.ReceiverKycData = &data
	}
}

// Aborted reports whether either side has aborted the negotiation.
func (p *Payment) Aborted() bool {
	return p.SenderStatus == ActorStatusAbort || p.ReceiverStatus == ActorStatusAbort
}

// BothReady reports whether both sides reached ready_for_settlement.
func (p *Payment) BothReady() bool {
	return p.SenderStatus == ActorStatusReadyForSettlement &&
		p.ReceiverStatus == ActorStatusReadyForSettlement
}

// Expired reports whether the negotiation passed its expiration without
// settling.
func (p *Payment) Expired(now time.Time) bool {
	return !IsTerminalTxStatus(p.TransactionStatus) && now.After(p.Expiration)
}
