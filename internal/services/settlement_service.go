package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/events"
	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

var ErrNotSettleable = errors.New("payment is not ready for settlement")

type chainAPI interface {
	GetAccount(ctx context.Context, addr chain.AccountAddress) (*chain.Account, error)
	GetAccountTransaction(ctx context.Context, addr chain.AccountAddress, sequence uint64) (*chain.Transaction, error)
	Submit(ctx context.Context, signedTxnHex string) error
	WaitForTransaction(ctx context.Context, addr chain.AccountAddress, sequence uint64, timeout time.Duration) (*chain.Transaction, error)
}

type transactionMirror interface {
	Create(ctx context.Context, t *models.ChainTransaction) error
}

// SettlementService turns a fully negotiated payment into one on-chain
// peer-to-peer transfer. The account sequence number is persisted before
// submit; if the process dies in between, the next attempt requeries the
// chain at that sequence instead of submitting again.
type SettlementService struct {
	payments    offchain.PaymentStore
	mirror      transactionMirror
	chain       chainAPI
	signer      *chain.Signer
	publisher   events.Publisher
	hrp         string
	gasCurrency string
	waitTimeout time.Duration
	log         *zap.Logger
	now         func() time.Time
}

type SettlementConfig struct {
	Payments    offchain.PaymentStore
	Mirror      transactionMirror
	Chain       chainAPI
	Signer      *chain.Signer
	Publisher   events.Publisher
	HRP         string
	GasCurrency string
	WaitTimeout time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

func NewSettlementService(cfg SettlementConfig) *SettlementService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	waitTimeout := cfg.WaitTimeout
	if waitTimeout == 0 {
		waitTimeout = 30 * time.Second
	}
	return &SettlementService{
		payments:    cfg.Payments,
		mirror:      cfg.Mirror,
		chain:       cfg.Chain,
		signer:      cfg.Signer,
		publisher:   cfg.Publisher,
		hrp:         cfg.HRP,
		gasCurrency: cfg.GasCurrency,
		waitTimeout: waitTimeout,
		log:         cfg.Logger,
		now:         now,
	}
}

// Settle submits the on-chain transfer for a ready payment. Transport errors
// leave the payment in OFF_CHAIN_READY for the next tick; a committed
// transaction that the VM rejected marks the payment FAILED.
func (s *SettlementService) Settle(ctx context.Context, p *models.Payment) error {
	if p.MyRole != models.RoleSender || !p.BothReady() {
		return ErrNotSettleable
	}
	if p.RecipientSignature == nil {
		return fmt.Errorf("%w: missing recipient signature", ErrNotSettleable)
	}

	// A previously reserved sequence means a submit may already have gone
	// out. Ask the chain before doing anything else.
	if p.SettlementSequence != nil {
		done, err := s.requery(ctx, p)
		if err != nil || done {
			return err
		}
	}

	if p.SettlementSequence == nil {
		acct, err := s.chain.GetAccount(ctx, s.signer.Address())
		if err != nil {
			return err
		}
		if acct == nil {
			return errors.New("wallet account does not exist on chain")
		}
		seq := acct.SequenceNumber
		p.SettlementSequence = &seq
		p.UpdatedAt = s.now()
		if err := s.payments.UpdatePayment(ctx, p); err != nil {
			return err
		}
	}

	receiverAccount, _, err := chain.DecodeAddress(s.hrp, p.ReceiverAddress)
	if err != nil {
		return fmt.Errorf("receiver address: %w", err)
	}
	recipientSig, err := hex.DecodeString(*p.RecipientSignature)
	if err != nil {
		return fmt.Errorf("recipient signature hex: %w", err)
	}

	metadata := chain.EncodeTravelRuleMetadata(p.ReferenceID.String())
	signedHex := s.signer.SignPeerToPeer(chain.PeerToPeerParams{
		Sequence:          *p.SettlementSequence,
		Currency:          p.Currency,
		Payee:             receiverAccount,
		Amount:            p.Amount,
		Metadata:          metadata,
		MetadataSignature: recipientSig,
		GasCurrency:       s.gasCurrency,
		Expiration:        s.now().Add(5 * time.Minute),
	})

	if err := s.chain.Submit(ctx, signedHex); err != nil {
		// The reserved sequence stays on the payment; the next tick
		// requeries before resubmitting.
		s.log.Warn("settlement submit failed",
			zap.String("reference_id", p.ReferenceID.String()),
			zap.Uint64("sequence", *p.SettlementSequence),
			zap.Error(err),
		)
		return err
	}

	txn, err := s.chain.WaitForTransaction(ctx, s.signer.Address(), *p.SettlementSequence, s.waitTimeout)
	if err != nil {
		return err
	}
	return s.finalize(ctx, p, txn)
}

// requery resolves an already reserved sequence. Returns done=true when the
// payment reached a terminal state here.
func (s *SettlementService) requery(ctx context.Context, p *models.Payment) (bool, error) {
	txn, err := s.chain.GetAccountTransaction(ctx, s.signer.Address(), *p.SettlementSequence)
	if errors.Is(err, chain.ErrTransactionNotFound) {
		return false, nil // nothing committed, safe to submit at this sequence
	}
	if err != nil {
		return false, err
	}

	// The sequence committed. It is ours only if the travel-rule metadata
	// names this payment; otherwise another writer consumed the sequence and
	// the settlement starts over with a fresh one.
	if decoded, err := chain.DecodeMetadataHex(txn.Transaction.Script.Metadata); err == nil &&
		decoded.TravelRule != nil && *decoded.TravelRule == p.ReferenceID.String() {
		return true, s.finalize(ctx, p, txn)
	}

	p.SettlementSequence = nil
	p.UpdatedAt = s.now()
	return false, s.payments.UpdatePayment(ctx, p)
}

func (s *SettlementService) finalize(ctx context.Context, p *models.Payment, txn *chain.Transaction) error {
	if !txn.Executed() {
		s.log.Error("settlement transaction rejected by the chain",
			zap.String("reference_id", p.ReferenceID.String()),
			zap.Uint64("version", txn.Version),
			zap.String("vm_status", txn.VMStatus.Type),
		)
		p.TransactionStatus = models.TxStatusFailed
		p.UpdatedAt = s.now()
		if err := s.payments.UpdatePayment(ctx, p); err != nil {
			return err
		}
		s.publish(ctx, p)
		return nil
	}

	version := txn.Version
	p.SettlementVersion = &version
	p.TransactionStatus = models.TxStatusCompleted
	p.UpdatedAt = s.now()
	if err := s.payments.UpdatePayment(ctx, p); err != nil {
		return err
	}

	s.mirrorSettlement(ctx, p, version)
	s.publish(ctx, p)
	s.log.Info("payment settled",
		zap.String("reference_id", p.ReferenceID.String()),
		zap.Uint64("version", version),
	)
	return nil
}

func (s *SettlementService) mirrorSettlement(ctx context.Context, p *models.Payment, version uint64) {
	senderAccount, senderSub, err := chain.DecodeAddress(s.hrp, p.SenderAddress)
	if err != nil {
		return
	}
	receiverAccount, receiverSub, err := chain.DecodeAddress(s.hrp, p.ReceiverAddress)
	if err != nil {
		return
	}

	refID := p.ReferenceID
	row := &models.ChainTransaction{
		ID:                 uuid.New(),
		BlockchainVersion:  &version,
		SequenceNumber:     p.SettlementSequence,
		SourceAddress:      senderAccount.Hex(),
		DestinationAddress: receiverAccount.Hex(),
		Amount:             p.Amount,
		Currency:           p.Currency,
		Type:               models.TxTypeExternal,
		Status:             models.TxStatusCompleted,
		ReferenceID:        &refID,
		CreatedAt:          s.now(),
	}
	if senderSub != nil {
		h := senderSub.Hex()
		row.SourceSubaddress = &h
	}
	if receiverSub != nil {
		h := receiverSub.Hex()
		row.DestinationSubaddress = &h
	}
	// The reconciler inserts the same version if this write is lost.
	if err := s.mirror.Create(ctx, row); err != nil {
		s.log.Warn("failed to mirror settlement transaction",
			zap.Uint64("version", version),
			zap.Error(err),
		)
	}
}

func (s *SettlementService) publish(ctx context.Context, p *models.Payment) {
	if s.publisher == nil {
		return
	}
	eventType := events.EventPaymentSettled
	if p.TransactionStatus != models.TxStatusCompleted {
		eventType = events.EventPaymentStatusChanged
	}
	_ = s.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: eventType,
		Payload: map[string]any{
			"reference_id":       p.ReferenceID.String(),
			"transaction_status": p.TransactionStatus,
			"settlement_version": p.SettlementVersion,
		},
	})
}
