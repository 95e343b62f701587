package services

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/events"
	"github.com/diem-vasp/wallet-backend/internal/kyc"
	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

var (
	ErrAmountOutOfRange = errors.New("payment amount out of range")
	ErrInvalidAction    = errors.New("unknown payment action")
	ErrPaymentTerminal  = errors.New("payment is in a terminal status")
	ErrNotReviewable    = errors.New("payment is not parked for review")
)

type paymentStore interface {
	offchain.PaymentStore
	ListRecent(ctx context.Context, limit, offset int) ([]*models.Payment, error)
}

type subaddressBinder interface {
	Create(ctx context.Context, subaddress string, accountID uuid.UUID) error
}

// PaymentService owns the wallet-facing payment operations: opening outbound
// payments, pre-creating payment requests, and resolving reviews. The peer
// exchange itself runs in the outbound worker.
type PaymentService struct {
	payments      paymentStore
	subaddrs      subaddressBinder
	publisher     events.Publisher
	complianceKey ed25519.PrivateKey
	myAccount     chain.AccountAddress
	hrp           string
	maxAmount     uint64
	defaultExpiry time.Duration
	log           *zap.Logger
	now           func() time.Time
}

type PaymentServiceConfig struct {
	Payments      paymentStore
	Subaddresses  subaddressBinder
	Publisher     events.Publisher
	ComplianceKey ed25519.PrivateKey
	MyAccount     chain.AccountAddress
	HRP           string
	MaxAmount     uint64
	DefaultExpiry time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

func NewPaymentService(cfg PaymentServiceConfig) *PaymentService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &PaymentService{
		payments:      cfg.Payments,
		subaddrs:      cfg.Subaddresses,
		publisher:     cfg.Publisher,
		complianceKey: cfg.ComplianceKey,
		myAccount:     cfg.MyAccount,
		hrp:           cfg.HRP,
		maxAmount:     cfg.MaxAmount,
		defaultExpiry: cfg.DefaultExpiry,
		log:           cfg.Logger,
		now:           now,
	}
}

type CreatePaymentParams struct {
	AccountID       uuid.UUID
	ReceiverAddress string // bech32 with subaddress
	Amount          uint64
	Currency        string
	Action          string
	Description     *string
	Expiration      *time.Time
}

// CreatePayment opens an outbound payment as the sending VASP. The worker
// picks it up and starts the kyc exchange on its next tick.
func (s *PaymentService) CreatePayment(ctx context.Context, params CreatePaymentParams) (*models.Payment, error) {
	if params.Amount < 1 || params.Amount > s.maxAmount {
		return nil, ErrAmountOutOfRange
	}
	if params.Action == "" {
		params.Action = models.ActionCharge
	}
	if params.Action != models.ActionCharge && params.Action != models.ActionAuthorize {
		return nil, ErrInvalidAction
	}
	if _, _, err := chain.DecodeAddress(s.hrp, params.ReceiverAddress); err != nil {
		return nil, fmt.Errorf("receiver address: %w", err)
	}

	senderAddress, err := s.freshAddress(ctx, params.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiration := now.Add(s.defaultExpiry)
	if params.Expiration != nil {
		expiration = *params.Expiration
	}
	if !expiration.After(now) {
		return nil, errors.New("expiration is not in the future")
	}

	p := &models.Payment{
		ReferenceID:       uuid.New(),
		SenderAddress:     senderAddress,
		ReceiverAddress:   params.ReceiverAddress,
		Amount:            params.Amount,
		Currency:          params.Currency,
		Action:            params.Action,
		Expiration:        expiration,
		SenderStatus:      models.ActorStatusNone,
		ReceiverStatus:    models.ActorStatusNone,
		Description:       params.Description,
		MyRole:            models.RoleSender,
		CID:               uuid.New(),
		TransactionStatus: models.TxStatusOffChainOutbound,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.payments.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	s.log.Info("payment created",
		zap.String("reference_id", p.ReferenceID.String()),
		zap.Uint64("amount", p.Amount),
		zap.String("currency", p.Currency),
	)
	return p, nil
}

type CreatePaymentRequestParams struct {
	AccountID   uuid.UUID
	PayerVASP   string // bech32 account of the paying VASP, subaddress optional
	Amount      uint64
	Currency    string
	Action      string
	Description *string
	Expiration  *time.Time
}

// CreatePaymentRequest pre-creates a payment as the receiving VASP. The
// reference id is handed to the payer out of band; their wallet then claims
// it with an init command.
func (s *PaymentService) CreatePaymentRequest(ctx context.Context, params CreatePaymentRequestParams) (*models.Payment, error) {
	if params.Amount < 1 || params.Amount > s.maxAmount {
		return nil, ErrAmountOutOfRange
	}
	if params.Action == "" {
		params.Action = models.ActionCharge
	}
	if params.Action != models.ActionCharge && params.Action != models.ActionAuthorize {
		return nil, ErrInvalidAction
	}
	if _, _, err := chain.DecodeAddress(s.hrp, params.PayerVASP); err != nil {
		return nil, fmt.Errorf("payer address: %w", err)
	}

	receiverAddress, err := s.freshAddress(ctx, params.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiration := now.Add(s.defaultExpiry)
	if params.Expiration != nil {
		expiration = *params.Expiration
	}

	p := &models.Payment{
		ReferenceID:       uuid.New(),
		SenderAddress:     params.PayerVASP,
		ReceiverAddress:   receiverAddress,
		Amount:            params.Amount,
		Currency:          params.Currency,
		Action:            params.Action,
		Expiration:        expiration,
		SenderStatus:      models.ActorStatusNone,
		ReceiverStatus:    models.ActorStatusNone,
		Description:       params.Description,
		MyRole:            models.RoleReceiver,
		CID:               uuid.New(),
		TransactionStatus: models.TxStatusOffChainWait,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.payments.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, referenceID uuid.UUID) (*models.Payment, error) {
	return s.payments.GetPayment(ctx, referenceID)
}

func (s *PaymentService) ListPayments(ctx context.Context, limit, offset int) ([]*models.Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.payments.ListRecent(ctx, limit, offset)
}

// ResolveReview settles a soft-match review. Approving restarts the exchange
// at ready_for_settlement; rejecting aborts it. Either way the worker sends
// the resulting command.
func (s *PaymentService) ResolveReview(ctx context.Context, referenceID uuid.UUID, approve bool) (*models.Payment, error) {
	p, err := s.payments.GetPayment(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if p.TransactionStatus != models.TxStatusOffChainReview || p.MyStatus() != models.ActorStatusSoftMatch {
		return nil, ErrNotReviewable
	}

	if !approve {
		offchain.ApplyVerdict(p, kyc.VerdictReject, nil, "")
	} else {
		recipientSig := ""
		if p.MyRole == models.RoleReceiver {
			senderAccount, _, err := chain.DecodeAddress(s.hrp, p.SenderAddress)
			if err != nil {
				return nil, fmt.Errorf("sender address: %w", err)
			}
			metadata := chain.EncodeTravelRuleMetadata(p.ReferenceID.String())
			recipientSig = chain.SignAttestation(s.complianceKey, metadata, senderAccount, p.Amount)
		}
		ownKyc := json.RawMessage(nil)
		if data := p.MyKycData(); data != nil {
			ownKyc = json.RawMessage(*data)
		}
		offchain.ApplyVerdict(p, kyc.VerdictAccept, ownKyc, recipientSig)
	}
	p.UpdatedAt = s.now()

	if err := s.payments.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	s.publishStatus(ctx, p)
	return p, nil
}

// CancelPayment aborts a live payment from this side. The worker delivers
// the abort to the peer.
func (s *PaymentService) CancelPayment(ctx context.Context, referenceID uuid.UUID) (*models.Payment, error) {
	p, err := s.payments.GetPayment(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalTxStatus(p.TransactionStatus) {
		return nil, ErrPaymentTerminal
	}

	p.SetMyStatus(models.ActorStatusAbort)
	p.Inbound = false
	p.TransactionStatus = models.TxStatusOffChainOutbound
	p.UpdatedAt = s.now()

	if err := s.payments.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	s.publishStatus(ctx, p)
	return p, nil
}

// freshAddress draws a new subaddress, binds it to the account, and renders
// the full bech32 deposit address.
func (s *PaymentService) freshAddress(ctx context.Context, accountID uuid.UUID) (string, error) {
	sub, err := chain.RandomSubAddress()
	if err != nil {
		return "", err
	}
	if err := s.subaddrs.Create(ctx, sub.Hex(), accountID); err != nil {
		return "", err
	}
	return chain.EncodeAddress(s.hrp, s.myAccount, &sub)
}

func (s *PaymentService) publishStatus(ctx context.Context, p *models.Payment) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: events.EventPaymentStatusChanged,
		Payload: map[string]any{
			"reference_id":       p.ReferenceID.String(),
			"sender_status":      p.SenderStatus,
			"receiver_status":    p.ReceiverStatus,
			"transaction_status": p.TransactionStatus,
		},
	})
}
