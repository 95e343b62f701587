package offchain

import (
	"encoding/json"

	"github.com/diem-vasp/wallet-backend/internal/kyc"
	"github.com/diem-vasp/wallet-backend/internal/models"
)

// Step is the follow-up the outbound worker owes a payment, computed purely
// from the pair of actor statuses and the wallet's side.
type Step int

const (
	// StepNone: waiting on the peer, nothing to do.
	StepNone Step = iota
	// StepSendInitialKyc: sender at (none, none) opens the exchange.
	StepSendInitialKyc
	// StepEvaluatePeer: the peer supplied data that needs a kyc verdict
	// before this side advances (receiver answering the sender's kyc, or
	// sender confirming after the receiver went ready).
	StepEvaluatePeer
	// StepSettle: both sides ready, sender hands off to settlement.
	StepSettle
	// StepCancel: an abort was observed, mark the payment canceled.
	StepCancel
	// StepReview: a soft match parks the payment for manual review.
	StepReview
)

// NextStep classifies a payment. It never mutates.
func NextStep(p *models.Payment) Step {
	if p.Aborted() {
		return StepCancel
	}
	if p.MyStatus() == models.ActorStatusSoftMatch || p.PeerStatus() == models.ActorStatusSoftMatch {
		return StepReview
	}
	if p.BothReady() {
		if p.MyRole == models.RoleSender {
			return StepSettle
		}
		return StepNone
	}

	if p.MyRole == models.RoleSender {
		switch {
		case p.SenderStatus == models.ActorStatusNone && p.ReceiverStatus == models.ActorStatusNone:
			return StepSendInitialKyc
		case p.SenderStatus == models.ActorStatusNeedsKycData && p.ReceiverStatus == models.ActorStatusReadyForSettlement:
			return StepEvaluatePeer
		}
		return StepNone
	}

	// Receiver: answer the sender's kyc data once it arrives.
	if p.SenderStatus == models.ActorStatusNeedsKycData && p.ReceiverStatus == models.ActorStatusNone {
		return StepEvaluatePeer
	}
	return StepNone
}

// ApplyInitialKyc performs StepSendInitialKyc: the sender attaches its own
// kyc data and asks the peer for theirs.
func ApplyInitialKyc(p *models.Payment, ownKyc json.RawMessage) {
	p.SetMyStatus(models.ActorStatusNeedsKycData)
	p.SetMyKycData(string(ownKyc))
	p.Inbound = false
	p.TransactionStatus = models.TxStatusOffChainOutbound
}

// ApplyVerdict performs StepEvaluatePeer given the kyc verdict.
// recipientSigHex is only consumed on the receiver side of an accept, where
// the compliance key must co-sign the settlement.
func ApplyVerdict(p *models.Payment, verdict kyc.Verdict, ownKyc json.RawMessage, recipientSigHex string) {
	switch verdict {
	case kyc.VerdictAccept:
		if p.MyRole == models.RoleReceiver {
			p.SetMyKycData(string(ownKyc))
			p.RecipientSignature = &recipientSigHex
			p.SetMyStatus(models.ActorStatusReadyForSettlement)
			p.TransactionStatus = models.TxStatusOffChainReceiverOutbound
		} else {
			p.SetMyStatus(models.ActorStatusReadyForSettlement)
			p.TransactionStatus = models.TxStatusOffChainOutbound
		}
	case kyc.VerdictSoftMatch:
		p.SetMyStatus(models.ActorStatusSoftMatch)
		p.TransactionStatus = models.TxStatusOffChainOutbound
	case kyc.VerdictReject:
		p.SetMyStatus(models.ActorStatusAbort)
		p.TransactionStatus = models.TxStatusOffChainOutbound
	}
	p.Inbound = false
}

// AfterSend advances the transaction status once the peer acknowledged the
// outbound command.
func AfterSend(p *models.Payment) {
	switch {
	case p.Aborted():
		p.TransactionStatus = models.TxStatusCanceled
	case p.MyStatus() == models.ActorStatusSoftMatch:
		p.TransactionStatus = models.TxStatusOffChainReview
	case p.BothReady() && p.MyRole == models.RoleSender:
		p.TransactionStatus = models.TxStatusOffChainReady
	default:
		p.TransactionStatus = models.TxStatusOffChainWait
	}
}
