package offchain

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/events"
	"github.com/diem-vasp/wallet-backend/internal/models"
)

// Dispatcher verifies, decodes, and applies inbound off-chain envelopes,
// replying with a signed response. Every mutation goes through a
// read-modify-write with an optimistic version guard; a conflicting write is
// retried once against fresh state.
type Dispatcher struct {
	payments      PaymentStore
	approvals     FPPAStore
	discovery     Discovery
	replay        ReplayCache
	publisher     events.Publisher
	complianceKey ed25519.PrivateKey
	myAccount     chain.AccountAddress
	hrp           string
	maxAmount     uint64
	log           *zap.Logger
	now           func() time.Time
}

type DispatcherConfig struct {
	Payments      PaymentStore
	Approvals     FPPAStore
	Discovery     Discovery
	Replay        ReplayCache      // optional
	Publisher     events.Publisher // optional
	ComplianceKey ed25519.PrivateKey
	MyAccount     chain.AccountAddress
	HRP           string
	MaxAmount     uint64
	Logger        *zap.Logger
	Now           func() time.Time // optional, defaults to time.Now
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		payments:      cfg.Payments,
		approvals:     cfg.Approvals,
		discovery:     cfg.Discovery,
		replay:        cfg.Replay,
		publisher:     cfg.Publisher,
		complianceKey: cfg.ComplianceKey,
		myAccount:     cfg.MyAccount,
		hrp:           cfg.HRP,
		maxAmount:     cfg.MaxAmount,
		log:           cfg.Logger,
		now:           now,
	}
}

// Process handles one inbound envelope from the peer identified by the
// X-REQUEST-SENDER-ADDRESS header. It returns the http status and the signed
// response body.
func (d *Dispatcher) Process(ctx context.Context, senderAddress string, body []byte) (int, []byte) {
	peerAccount, _, err := chain.DecodeAddress(d.hrp, senderAddress)
	if err != nil {
		return d.protocolFailure(nil, CodeInvalidFieldValue, "X-REQUEST-SENDER-ADDRESS", "unparseable sender address")
	}

	_, peerKey, err := d.discovery.Lookup(ctx, peerAccount)
	if err != nil {
		d.log.Warn("peer discovery failed",
			zap.String("sender", senderAddress),
			zap.Error(err),
		)
		return d.protocolFailure(PeekCID(body), CodeUnknownSender, "", "could not resolve sender compliance key")
	}

	req, err := ParseRequest(body, peerKey)
	if err != nil {
		// The published key may have rotated; drop the cached entry so the
		// next delivery re-reads the chain.
		_ = d.discovery.Invalidate(ctx, peerAccount)
		d.log.Warn("envelope verification failed",
			zap.String("sender", senderAddress),
			zap.Error(err),
		)
		return d.protocolFailure(PeekCID(body), CodeInvalidSignature, "", "envelope signature did not verify")
	}

	digest := payloadDigest(body)
	if d.replay != nil {
		if cached, err := d.replay.Get(ctx, req.CID, digest); err == nil && cached != nil {
			return cached.HTTPStatus, cached.Body
		}
	}

	result, err := d.dispatch(ctx, peerAccount, peerKey, req)

	var status int
	var respBody []byte
	cacheable := true
	switch {
	case err == nil:
		status, respBody = d.respond(http.StatusOK, CommandResponseObject{
			ObjectType: ObjectTypeCommandResponse,
			Status:     StatusSuccess,
			CID:        &req.CID,
			Result:     result,
		})
	default:
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			status, respBody = d.respond(http.StatusBadRequest, CommandResponseObject{
				ObjectType: ObjectTypeCommandResponse,
				Status:     StatusFailure,
				CID:        &req.CID,
				Error: &OffChainError{
					Type:    ErrorTypeCommand,
					Code:    cmdErr.Code,
					Field:   cmdErr.Field,
					Message: cmdErr.Message,
				},
			})
		} else {
			// Unexpected handler failure: log, generic protocol error, no
			// mutation was committed, and do not pin the reply in the cache.
			cacheable = false
			d.log.Error("inbound handler failed",
				zap.String("cid", req.CID),
				zap.String("command_type", string(req.CommandType)),
				zap.Error(err),
			)
			cid := req.CID
			status, respBody = d.protocolFailure(&cid, CodeInternal, "", "internal error")
		}
	}

	if d.replay != nil && cacheable {
		_ = d.replay.Put(ctx, req.CID, digest, CachedResponse{HTTPStatus: status, Body: respBody})
	}
	return status, respBody
}

func (d *Dispatcher) dispatch(ctx context.Context, peerAccount chain.AccountAddress, peerKey ed25519.PublicKey, req *CommandRequestObject) (json.RawMessage, error) {
	switch req.CommandType {
	case CommandPayment:
		return nil, d.handlePaymentCommand(ctx, peerAccount, peerKey, req)
	case CommandInitCharge:
		return nil, d.handleInitPayment(ctx, peerAccount, req, models.ActionCharge)
	case CommandInitAuthorize:
		return nil, d.handleInitPayment(ctx, peerAccount, req, models.ActionAuthorize)
	case CommandAbortPayment:
		return nil, d.handleAbortPayment(ctx, req)
	case CommandGetInfo, CommandGetPaymentInfo:
		return d.handleGetPaymentInfo(ctx, req)
	case CommandFPPA:
		return nil, d.handleFPPACommand(ctx, peerAccount, req)
	}
	return nil, commandErrorf(CodeInvalidCommandType, "command_type", "unsupported command type %q", req.CommandType)
}

// --- PaymentCommand ---

func (d *Dispatcher) handlePaymentCommand(ctx context.Context, peerAccount chain.AccountAddress, peerKey ed25519.PublicKey, req *CommandRequestObject) error {
	var cmd PaymentCommandObject
	if err := json.Unmarshal(req.Command, &cmd); err != nil {
		return commandErrorf(CodeInvalidObject, "command", "unparseable payment command: %v", err)
	}
	obj := cmd.Payment

	refID, err := uuid.Parse(obj.ReferenceID)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "payment.reference_id", "not a uuid")
	}

	senderAccount, _, err := chain.DecodeAddress(d.hrp, obj.Sender.Address)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "payment.sender.address", "unparseable address")
	}
	receiverAccount, _, err := chain.DecodeAddress(d.hrp, obj.Receiver.Address)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "payment.receiver.address", "unparseable address")
	}

	myRole, err := d.resolveRole(senderAccount, receiverAccount, peerAccount)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		stored, err := d.payments.GetPayment(ctx, refID)
		switch {
		case errors.Is(err, ErrNotFound):
			return d.createInboundPayment(ctx, refID, myRole, obj, senderAccount, peerKey, req.CID)
		case err != nil:
			return err
		}

		mutated, err := d.mergeInbound(stored, obj, myRole, senderAccount, peerKey, req.CID)
		if err != nil || !mutated {
			return err
		}

		err = d.payments.UpdatePayment(ctx, stored)
		if errors.Is(err, ErrVersionConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return err
		}
		d.publishPaymentEvent(ctx, events.EventPaymentStatusChanged, stored)
		return nil
	}
}

func (d *Dispatcher) resolveRole(senderAccount, receiverAccount, peerAccount chain.AccountAddress) (string, error) {
	switch d.myAccount {
	case senderAccount:
		if receiverAccount != peerAccount {
			return "", commandErrorf(CodeInvalidRole, "payment.receiver.address", "receiver is not the requesting VASP")
		}
		return models.RoleSender, nil
	case receiverAccount:
		if senderAccount != peerAccount {
			return "", commandErrorf(CodeInvalidRole, "payment.sender.address", "sender is not the requesting VASP")
		}
		return models.RoleReceiver, nil
	}
	return "", commandErrorf(CodeInvalidFieldValue, "payment", "payment does not involve this VASP")
}

func (d *Dispatcher) createInboundPayment(ctx context.Context, refID uuid.UUID, myRole string, obj PaymentObject, senderAccount chain.AccountAddress, peerKey ed25519.PublicKey, cid string) error {
	if obj.Action.Amount < 1 || obj.Action.Amount > d.maxAmount {
		return commandErrorf(CodeInvalidFieldValue, "payment.action.amount", "amount out of range")
	}
	if obj.Action.Currency == "" {
		return commandErrorf(CodeMissingField, "payment.action.currency", "currency is required")
	}
	if obj.Action.Action != models.ActionCharge && obj.Action.Action != models.ActionAuthorize {
		return commandErrorf(CodeInvalidFieldValue, "payment.action.action", "unknown action %q", obj.Action.Action)
	}
	if obj.Action.ValidUntil == 0 {
		return commandErrorf(CodeMissingField, "payment.action.valid_until", "expiration is required")
	}
	expiration := time.Unix(obj.Action.ValidUntil, 0)
	if !expiration.After(d.now()) {
		return commandErrorf(CodeInvalidFieldValue, "payment.action.valid_until", "expiration is not in the future")
	}

	// The peer opens the negotiation; it cannot speak for this side.
	myActor := obj.Sender
	peerActor := obj.Receiver
	if myRole == models.RoleReceiver {
		myActor, peerActor = obj.Receiver, obj.Sender
	}
	if myActor.Status.Status != models.ActorStatusNone {
		return commandErrorf(CodeInvalidTransition, "payment", "peer may not set this side's status at creation")
	}
	if _, ok := models.ValidActorTransitions[peerActor.Status.Status]; !ok {
		return commandErrorf(CodeInvalidFieldValue, "payment", "unknown actor status %q", peerActor.Status.Status)
	}

	// A receiver opening at ready_for_settlement must already carry a valid
	// attestation, same rule as on merge.
	if myRole == models.RoleSender && peerActor.Status.Status == models.ActorStatusReadyForSettlement {
		if obj.RecipientSignature == nil {
			return commandErrorf(CodeMissingField, "payment.recipient_signature", "required at ready_for_settlement")
		}
		metadata := chain.EncodeTravelRuleMetadata(refID.String())
		if err := chain.VerifyAttestation(peerKey, metadata, senderAccount, obj.Action.Amount, *obj.RecipientSignature); err != nil {
			return commandErrorf(CodeInvalidRecipientSig, "payment.recipient_signature", "%v", err)
		}
	}

	cidUUID, err := uuid.Parse(cid)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "cid", "not a uuid")
	}

	now := d.now()
	p := &models.Payment{
		ReferenceID:       refID,
		SenderAddress:     obj.Sender.Address,
		ReceiverAddress:   obj.Receiver.Address,
		Amount:            obj.Action.Amount,
		Currency:          obj.Action.Currency,
		Action:            obj.Action.Action,
		Expiration:        expiration,
		SenderStatus:      obj.Sender.Status.Status,
		ReceiverStatus:    obj.Receiver.Status.Status,
		SenderKycData:     kycString(obj.Sender.KycData),
		ReceiverKycData:   kycString(obj.Receiver.KycData),
		RecipientSignature: obj.RecipientSignature,
		Description:       obj.Description,
		MyRole:            myRole,
		Inbound:           true,
		CID:               cidUUID,
		TransactionStatus: models.TxStatusOffChainInbound,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if obj.OriginalPaymentReferenceID != nil {
		orig, err := uuid.Parse(*obj.OriginalPaymentReferenceID)
		if err != nil {
			return commandErrorf(CodeInvalidFieldValue, "payment.original_payment_reference_id", "not a uuid")
		}
		p.OriginalPaymentReferenceID = &orig
	}

	if err := d.payments.CreatePayment(ctx, p); err != nil {
		return err
	}
	d.publishPaymentEvent(ctx, events.EventPaymentStatusChanged, p)
	return nil
}

// mergeInbound folds an inbound payment object into the stored row. It
// returns false when the command is a replay or a stale update, which is
// answered success without mutation.
func (d *Dispatcher) mergeInbound(stored *models.Payment, obj PaymentObject, myRole string, senderAccount chain.AccountAddress, peerKey ed25519.PublicKey, cid string) (bool, error) {
	// Terminal payments never move again; late peer replies see the stored
	// state.
	if models.IsTerminalTxStatus(stored.TransactionStatus) {
		return false, nil
	}

	if obj.Action.Amount != stored.Amount || obj.Action.Currency != stored.Currency || obj.Action.Action != stored.Action {
		return false, commandErrorf(CodeInvalidFieldValue, "payment.action", "action fields are immutable")
	}
	if obj.Sender.Address != stored.SenderAddress || obj.Receiver.Address != stored.ReceiverAddress {
		return false, commandErrorf(CodeInvalidFieldValue, "payment", "actor addresses are immutable")
	}

	myActor := obj.Sender
	peerActor := obj.Receiver
	if myRole == models.RoleReceiver {
		myActor, peerActor = obj.Receiver, obj.Sender
	}

	from := stored.PeerStatus()
	to := peerActor.Status.Status

	if !models.ActorStatusAdvances(from, to) {
		// Identical replay or stale regression: both answer success with
		// the stored state.
		return false, nil
	}
	if !models.IsValidActorTransition(from, to) {
		return false, commandErrorf(CodeInvalidTransition, "payment", "illegal transition %s -> %s", from, to)
	}

	// The peer may only move its own side.
	if myActor.Status.Status != stored.MyStatus() {
		return false, commandErrorf(CodeInvalidRole, "payment", "peer may not modify this side's status")
	}

	// A receiver going ready must co-sign the settlement.
	peerIsReceiver := myRole == models.RoleSender
	if to == models.ActorStatusReadyForSettlement && peerIsReceiver {
		if obj.RecipientSignature == nil {
			return false, commandErrorf(CodeMissingField, "payment.recipient_signature", "required at ready_for_settlement")
		}
		metadata := chain.EncodeTravelRuleMetadata(stored.ReferenceID.String())
		if err := chain.VerifyAttestation(peerKey, metadata, senderAccount, stored.Amount, *obj.RecipientSignature); err != nil {
			return false, commandErrorf(CodeInvalidRecipientSig, "payment.recipient_signature", "%v", err)
		}
		stored.RecipientSignature = obj.RecipientSignature
	}

	stored.SetPeerStatus(to)
	if kyc := kycString(peerActor.KycData); kyc != nil {
		if myRole == models.RoleSender {
			stored.ReceiverKycData = kyc
		} else {
			stored.SenderKycData = kyc
		}
	}
	if peerActor.AdditionalKycData != nil {
		if myRole == models.RoleSender {
			stored.ReceiverAdditionalKycData = peerActor.AdditionalKycData
		} else {
			stored.SenderAdditionalKycData = peerActor.AdditionalKycData
		}
	}

	if cidUUID, err := uuid.Parse(cid); err == nil {
		stored.CID = cidUUID
	}
	stored.Inbound = true
	stored.UpdatedAt = d.now()

	switch {
	case stored.Aborted():
		stored.TransactionStatus = models.TxStatusCanceled
	case stored.BothReady() && myRole == models.RoleSender:
		stored.TransactionStatus = models.TxStatusOffChainReady
	default:
		stored.TransactionStatus = models.TxStatusOffChainInbound
	}
	return true, nil
}

// --- InitChargePayment / InitAuthorizeCommand ---

func (d *Dispatcher) handleInitPayment(ctx context.Context, peerAccount chain.AccountAddress, req *CommandRequestObject, action string) error {
	var cmd InitPaymentCommandObject
	if err := json.Unmarshal(req.Command, &cmd); err != nil {
		return commandErrorf(CodeInvalidObject, "command", "unparseable init command: %v", err)
	}
	refID, err := uuid.Parse(cmd.ReferenceID)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "reference_id", "not a uuid")
	}

	p, err := d.payments.GetPayment(ctx, refID)
	if errors.Is(err, ErrNotFound) {
		return commandErrorf(CodeUnknownReferenceID, "reference_id", "no payment request with this reference id")
	}
	if err != nil {
		return err
	}

	if p.MyRole != models.RoleReceiver {
		return commandErrorf(CodeInvalidRole, "reference_id", "this VASP is not the payee of the referenced payment")
	}
	if p.Action != action {
		return commandErrorf(CodeInvalidFieldValue, "command_type", "payment action is %q", p.Action)
	}
	senderAccount, _, err := chain.DecodeAddress(d.hrp, p.SenderAddress)
	if err == nil && senderAccount != peerAccount {
		return commandErrorf(CodeInvalidRole, "reference_id", "payment belongs to a different payer VASP")
	}
	if models.IsTerminalTxStatus(p.TransactionStatus) {
		return nil
	}

	to := cmd.Sender.Status.Status
	if !models.ActorStatusAdvances(p.SenderStatus, to) {
		return nil // stale, reply success with stored state
	}
	if !models.IsValidActorTransition(p.SenderStatus, to) {
		return commandErrorf(CodeInvalidTransition, "sender.status", "illegal transition %s -> %s", p.SenderStatus, to)
	}

	p.SenderStatus = to
	p.SenderKycData = kycString(cmd.Sender.KycData)
	p.Inbound = true
	if cidUUID, err := uuid.Parse(req.CID); err == nil {
		p.CID = cidUUID
	}
	p.TransactionStatus = models.TxStatusOffChainInbound
	if p.Aborted() {
		p.TransactionStatus = models.TxStatusCanceled
	}
	p.UpdatedAt = d.now()

	if err := d.payments.UpdatePayment(ctx, p); err != nil {
		return err
	}
	d.publishPaymentEvent(ctx, events.EventPaymentStatusChanged, p)
	return nil
}

// --- AbortPayment ---

func (d *Dispatcher) handleAbortPayment(ctx context.Context, req *CommandRequestObject) error {
	var cmd ReferenceIDCommandObject
	if err := json.Unmarshal(req.Command, &cmd); err != nil {
		return commandErrorf(CodeInvalidObject, "command", "unparseable abort command: %v", err)
	}
	refID, err := uuid.Parse(cmd.ReferenceID)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "reference_id", "not a uuid")
	}

	p, err := d.payments.GetPayment(ctx, refID)
	if errors.Is(err, ErrNotFound) {
		return commandErrorf(CodeUnknownReferenceID, "reference_id", "unknown payment")
	}
	if err != nil {
		return err
	}

	switch p.TransactionStatus {
	case models.TxStatusCompleted:
		return commandErrorf(CodePaymentAlreadySettled, "reference_id", "payment already settled on-chain")
	case models.TxStatusCanceled, models.TxStatusFailed:
		return nil
	}

	p.SetPeerStatus(models.ActorStatusAbort)
	p.Inbound = true
	if cidUUID, err := uuid.Parse(req.CID); err == nil {
		p.CID = cidUUID
	}
	p.TransactionStatus = models.TxStatusCanceled
	p.UpdatedAt = d.now()

	if err := d.payments.UpdatePayment(ctx, p); err != nil {
		return err
	}
	d.publishPaymentEvent(ctx, events.EventPaymentStatusChanged, p)
	return nil
}

// --- GetInfoCommand / GetPaymentInfo ---

func (d *Dispatcher) handleGetPaymentInfo(ctx context.Context, req *CommandRequestObject) (json.RawMessage, error) {
	var cmd ReferenceIDCommandObject
	if err := json.Unmarshal(req.Command, &cmd); err != nil {
		return nil, commandErrorf(CodeInvalidObject, "command", "unparseable get-info command: %v", err)
	}
	refID, err := uuid.Parse(cmd.ReferenceID)
	if err != nil {
		return nil, commandErrorf(CodeInvalidFieldValue, "reference_id", "not a uuid")
	}

	p, err := d.payments.GetPayment(ctx, refID)
	if errors.Is(err, ErrNotFound) {
		return nil, commandErrorf(CodeUnknownReferenceID, "reference_id", "unknown payment")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(PaymentInfo(p))
}

// --- FundPullPreApprovalCommand ---

func (d *Dispatcher) handleFPPACommand(ctx context.Context, peerAccount chain.AccountAddress, req *CommandRequestObject) error {
	var cmd FPPACommandObject
	if err := json.Unmarshal(req.Command, &cmd); err != nil {
		return commandErrorf(CodeInvalidObject, "command", "unparseable pre-approval command: %v", err)
	}
	obj := cmd.FundsPullPreApproval

	id, err := uuid.Parse(obj.FundsPullPreApprovalID)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "funds_pull_pre_approval_id", "not a uuid")
	}
	payerAccount, _, err := chain.DecodeAddress(d.hrp, obj.Address)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "address", "unparseable payer address")
	}
	billerAccount, _, err := chain.DecodeAddress(d.hrp, obj.BillerAddress)
	if err != nil {
		return commandErrorf(CodeInvalidFieldValue, "biller_address", "unparseable biller address")
	}

	var myRole, peerRole string
	switch d.myAccount {
	case payerAccount:
		if billerAccount != peerAccount {
			return commandErrorf(CodeInvalidRole, "biller_address", "biller is not the requesting VASP")
		}
		myRole, peerRole = models.FPPARolePayer, models.FPPARolePayee
	case billerAccount:
		if payerAccount != peerAccount {
			return commandErrorf(CodeInvalidRole, "address", "payer is not the requesting VASP")
		}
		myRole, peerRole = models.FPPARolePayee, models.FPPARolePayer
	default:
		return commandErrorf(CodeInvalidFieldValue, "funds_pull_pre_approval", "pre-approval does not involve this VASP")
	}

	if _, ok := models.ValidFPPATransitions[obj.Status]; !ok {
		return commandErrorf(CodeInvalidFieldValue, "status", "unknown status %q", obj.Status)
	}

	stored, err := d.approvals.GetFPPA(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		// The payee requests with pending; a payer may grant unilaterally.
		if peerRole == models.FPPARolePayee && obj.Status != models.FPPAStatusPending {
			return commandErrorf(CodeInvalidRole, "status", "payee may only initiate a pending request")
		}
		if peerRole == models.FPPARolePayer && obj.Status != models.FPPAStatusPending && obj.Status != models.FPPAStatusValid {
			return commandErrorf(CodeInvalidTransition, "status", "cannot initiate with status %q", obj.Status)
		}
		now := d.now()
		a := &models.FundsPullPreApproval{
			FundsPullPreApprovalID: id,
			PayerAddress:           obj.Address,
			BillerAddress:          obj.BillerAddress,
			Scope:                  scopeFromObject(obj.Scope),
			Description:            obj.Description,
			Status:                 obj.Status,
			Role:                   myRole,
			OffchainSent:           true, // inbound copy, nothing of ours to send
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := d.approvals.CreateFPPA(ctx, a); err != nil {
			return err
		}
		d.publishFPPAEvent(ctx, a)
		return nil
	case err != nil:
		return err
	}

	if obj.Status == stored.Status {
		return nil // replay
	}
	if !models.IsValidFPPATransition(stored.Status, obj.Status) {
		return commandErrorf(CodeInvalidTransition, "status", "illegal transition %s -> %s", stored.Status, obj.Status)
	}
	if !models.FPPARoleMayTransition(peerRole, stored.Status, obj.Status) {
		return commandErrorf(CodeInvalidRole, "status", "%s may not perform %s -> %s", peerRole, stored.Status, obj.Status)
	}

	stored.Status = obj.Status
	stored.OffchainSent = true
	stored.UpdatedAt = d.now()
	if err := d.approvals.UpdateFPPA(ctx, stored); err != nil {
		return err
	}
	d.publishFPPAEvent(ctx, stored)
	return nil
}

// --- response plumbing ---

func (d *Dispatcher) respond(status int, resp CommandResponseObject) (int, []byte) {
	signed, err := SignEnvelope(resp, d.complianceKey)
	if err != nil {
		d.log.Error("failed to sign response envelope", zap.Error(err))
		return http.StatusInternalServerError, nil
	}
	return status, []byte(signed)
}

func (d *Dispatcher) protocolFailure(cid *string, code, field, message string) (int, []byte) {
	return d.respond(http.StatusBadRequest, CommandResponseObject{
		ObjectType: ObjectTypeCommandResponse,
		Status:     StatusFailure,
		CID:        cid,
		Error: &OffChainError{
			Type:    ErrorTypeProtocol,
			Code:    code,
			Field:   field,
			Message: message,
		},
	})
}

func (d *Dispatcher) publishPaymentEvent(ctx context.Context, eventType string, p *models.Payment) {
	if d.publisher == nil {
		return
	}
	_ = d.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: eventType,
		Payload: map[string]any{
			"reference_id":       p.ReferenceID.String(),
			"sender_status":      p.SenderStatus,
			"receiver_status":    p.ReceiverStatus,
			"transaction_status": p.TransactionStatus,
		},
	})
}

func (d *Dispatcher) publishFPPAEvent(ctx context.Context, a *models.FundsPullPreApproval) {
	if d.publisher == nil {
		return
	}
	_ = d.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: events.EventFPPAStatusChanged,
		Payload: map[string]any{
			"funds_pull_pre_approval_id": a.FundsPullPreApprovalID.String(),
			"status":                     a.Status,
		},
	})
}

func scopeFromObject(s FPPAScopeObject) models.FPPAScope {
	scope := models.FPPAScope{
		Type:                s.Type,
		ExpirationTimestamp: s.ExpirationTimestamp,
	}
	if s.MaxCumulativeAmount != nil {
		scope.MaxCumulativeAmount = &models.ScopedCumulativeAmount{
			Unit:  s.MaxCumulativeAmount.Unit,
			Value: s.MaxCumulativeAmount.Value,
			MaxAmount: models.CurrencyAmount{
				Amount:   s.MaxCumulativeAmount.MaxAmount.Amount,
				Currency: s.MaxCumulativeAmount.MaxAmount.Currency,
			},
		}
	}
	if s.MaxTransactionAmount != nil {
		scope.MaxTransactionAmount = &models.CurrencyAmount{
			Amount:   s.MaxTransactionAmount.Amount,
			Currency: s.MaxTransactionAmount.Currency,
		}
	}
	return scope
}

func payloadDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
