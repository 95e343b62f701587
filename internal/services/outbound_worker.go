package services

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/events"
	"github.com/diem-vasp/wallet-backend/internal/kyc"
	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
	"github.com/diem-vasp/wallet-backend/internal/peer"
)

type peerSender interface {
	SendCommand(ctx context.Context, baseURL string, peerKey ed25519.PublicKey, cid string, commandType offchain.CommandType, command any) (*offchain.CommandResponseObject, error)
}

type settler interface {
	Settle(ctx context.Context, p *models.Payment) error
}

// Worker drives every payment and pre-approval that owes the counterparty a
// command or a local decision. Each tick reads actionable rows, does the
// network work without holding any lock, and commits results under the
// optimistic version guard; a conflicting row is simply left for the next
// tick.
type Worker struct {
	payments      offchain.PaymentStore
	approvals     offchain.FPPAStore
	discovery     offchain.Discovery
	peers         peerSender
	settlement    settler
	checker       kyc.Checker
	provider      kyc.Provider
	publisher     events.Publisher
	complianceKey ed25519.PrivateKey
	hrp           string
	batchSize     int
	log           *zap.Logger
	now           func() time.Time
}

type WorkerConfig struct {
	Payments      offchain.PaymentStore
	Approvals     offchain.FPPAStore
	Discovery     offchain.Discovery
	Peers         peerSender
	Settlement    settler
	Checker       kyc.Checker
	Provider      kyc.Provider
	Publisher     events.Publisher
	ComplianceKey ed25519.PrivateKey
	HRP           string
	BatchSize     int
	Logger        *zap.Logger
	Now           func() time.Time
}

func NewWorker(cfg WorkerConfig) *Worker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Worker{
		payments:      cfg.Payments,
		approvals:     cfg.Approvals,
		discovery:     cfg.Discovery,
		peers:         cfg.Peers,
		settlement:    cfg.Settlement,
		checker:       cfg.Checker,
		provider:      cfg.Provider,
		publisher:     cfg.Publisher,
		complianceKey: cfg.ComplianceKey,
		hrp:           cfg.HRP,
		batchSize:     batch,
		log:           cfg.Logger,
		now:           now,
	}
}

// Run ticks until the context is canceled.
func (w *Worker) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one batch of expired, actionable, and unsent rows.
func (w *Worker) Tick(ctx context.Context) {
	w.expirePayments(ctx)
	w.processPayments(ctx)
	w.sendPreApprovals(ctx)
}

func (w *Worker) expirePayments(ctx context.Context) {
	expired, err := w.payments.ListExpired(ctx, w.now(), w.batchSize)
	if err != nil {
		w.log.Error("list expired payments", zap.Error(err))
		return
	}
	for _, p := range expired {
		p.SetMyStatus(models.ActorStatusAbort)
		p.TransactionStatus = models.TxStatusCanceled
		p.UpdatedAt = w.now()
		if err := w.payments.UpdatePayment(ctx, p); err != nil {
			continue
		}
		w.publishStatus(ctx, p)

		// Best effort: tell the peer the window closed.
		w.sendAbort(ctx, p)
		w.log.Info("payment expired",
			zap.String("reference_id", p.ReferenceID.String()),
		)
	}
}

func (w *Worker) processPayments(ctx context.Context) {
	batch, err := w.payments.ListByTransactionStatus(ctx, models.OutboundActionable, w.batchSize)
	if err != nil {
		w.log.Error("list actionable payments", zap.Error(err))
		return
	}
	for _, p := range batch {
		switch p.TransactionStatus {
		case models.TxStatusOffChainInbound:
			w.handleInbound(ctx, p)
		case models.TxStatusOffChainOutbound, models.TxStatusOffChainReceiverOutbound:
			w.sendPayment(ctx, p)
		case models.TxStatusOffChainReady:
			if err := w.settlement.Settle(ctx, p); err != nil {
				w.log.Warn("settlement attempt failed",
					zap.String("reference_id", p.ReferenceID.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// handleInbound decides how to answer a peer mutation.
func (w *Worker) handleInbound(ctx context.Context, p *models.Payment) {
	switch offchain.NextStep(p) {
	case offchain.StepEvaluatePeer:
		w.evaluatePeer(ctx, p)
	case offchain.StepCancel:
		p.TransactionStatus = models.TxStatusCanceled
		w.commit(ctx, p)
	case offchain.StepReview:
		p.TransactionStatus = models.TxStatusOffChainReview
		if w.commit(ctx, p) {
			w.publishReview(ctx, p)
		}
	case offchain.StepSettle:
		p.TransactionStatus = models.TxStatusOffChainReady
		w.commit(ctx, p)
	default:
		p.TransactionStatus = models.TxStatusOffChainWait
		w.commit(ctx, p)
	}
}

func (w *Worker) evaluatePeer(ctx context.Context, p *models.Payment) {
	data := p.PeerKycData()
	if data == nil {
		p.TransactionStatus = models.TxStatusOffChainWait
		w.commit(ctx, p)
		return
	}

	verdict, err := w.checker.Evaluate(ctx, json.RawMessage(*data))
	if err != nil {
		w.log.Warn("kyc evaluation failed, rejecting",
			zap.String("reference_id", p.ReferenceID.String()),
			zap.Error(err),
		)
		verdict = kyc.VerdictReject
	}

	var ownKyc json.RawMessage
	recipientSig := ""
	if verdict == kyc.VerdictAccept && p.MyRole == models.RoleReceiver {
		if ownKyc, err = w.provider.OwnKycData(ctx); err != nil {
			w.log.Error("own kyc data unavailable", zap.Error(err))
			return
		}
		senderAccount, _, err := chain.DecodeAddress(w.hrp, p.SenderAddress)
		if err != nil {
			w.log.Error("sender address unparseable",
				zap.String("reference_id", p.ReferenceID.String()),
				zap.Error(err),
			)
			return
		}
		metadata := chain.EncodeTravelRuleMetadata(p.ReferenceID.String())
		recipientSig = chain.SignAttestation(w.complianceKey, metadata, senderAccount, p.Amount)
	}

	offchain.ApplyVerdict(p, verdict, ownKyc, recipientSig)
	w.commit(ctx, p)
}

// sendPayment delivers this side's current state to the peer and advances the
// pipeline on acknowledgment.
func (w *Worker) sendPayment(ctx context.Context, p *models.Payment) {
	if offchain.NextStep(p) == offchain.StepSendInitialKyc {
		ownKyc, err := w.provider.OwnKycData(ctx)
		if err != nil {
			w.log.Error("own kyc data unavailable", zap.Error(err))
			return
		}
		offchain.ApplyInitialKyc(p, ownKyc)
	}

	cid := uuid.New()
	p.CID = cid
	p.UpdatedAt = w.now()
	if err := w.payments.UpdatePayment(ctx, p); err != nil {
		return
	}

	baseURL, key, peerAccount, err := w.lookupPeer(ctx, w.peerAddressOf(p))
	if err != nil {
		w.log.Warn("peer lookup failed",
			zap.String("reference_id", p.ReferenceID.String()),
			zap.Error(err),
		)
		return
	}

	cmd := offchain.PaymentCommandObject{
		ObjectType: offchain.ObjectTypePaymentCommand,
		Payment:    offchain.PaymentToObject(p),
	}
	resp, err := w.peers.SendCommand(ctx, baseURL, key, cid.String(), offchain.CommandPayment, cmd)
	if err != nil {
		// An unverifiable response means the cached compliance key may be
		// stale; drop it so the next tick re-resolves from chain. Either
		// way the row stays outbound and is retried.
		if errors.Is(err, peer.ErrBadResponse) {
			_ = w.discovery.Invalidate(ctx, peerAccount)
		}
		return
	}

	if resp.Status != offchain.StatusSuccess {
		w.log.Warn("peer rejected payment command",
			zap.String("reference_id", p.ReferenceID.String()),
			zap.Any("error", resp.Error),
		)
		p.TransactionStatus = models.TxStatusFailed
		w.commit(ctx, p)
		return
	}

	offchain.AfterSend(p)
	w.commit(ctx, p)
}

func (w *Worker) sendAbort(ctx context.Context, p *models.Payment) {
	baseURL, key, _, err := w.lookupPeer(ctx, w.peerAddressOf(p))
	if err != nil {
		return
	}
	_, _ = w.peers.SendCommand(ctx, baseURL, key, uuid.New().String(),
		offchain.CommandAbortPayment,
		offchain.ReferenceIDCommandObject{ReferenceID: p.ReferenceID.String()})
}

func (w *Worker) sendPreApprovals(ctx context.Context) {
	unsent, err := w.approvals.ListUnsent(ctx, w.batchSize)
	if err != nil {
		w.log.Error("list unsent pre-approvals", zap.Error(err))
		return
	}
	for _, a := range unsent {
		peerAddress := a.BillerAddress
		if a.Role == models.FPPARolePayee {
			peerAddress = a.PayerAddress
		}
		baseURL, key, peerAccount, err := w.lookupPeer(ctx, peerAddress)
		if err != nil {
			continue
		}

		cmd := offchain.FPPACommandObject{
			ObjectType:           offchain.ObjectTypeFPPACommand,
			FundsPullPreApproval: offchain.FPPAToObject(a),
		}
		resp, err := w.peers.SendCommand(ctx, baseURL, key, uuid.New().String(), offchain.CommandFPPA, cmd)
		if err != nil {
			if errors.Is(err, peer.ErrBadResponse) {
				_ = w.discovery.Invalidate(ctx, peerAccount)
			}
			continue
		}
		if resp.Status != offchain.StatusSuccess {
			continue
		}

		a.OffchainSent = true
		a.UpdatedAt = w.now()
		if err := w.approvals.UpdateFPPA(ctx, a); err != nil {
			continue
		}
	}
}

func (w *Worker) lookupPeer(ctx context.Context, bech32Address string) (string, ed25519.PublicKey, chain.AccountAddress, error) {
	account, _, err := chain.DecodeAddress(w.hrp, bech32Address)
	if err != nil {
		return "", nil, account, err
	}
	baseURL, key, err := w.discovery.Lookup(ctx, account)
	return baseURL, key, account, err
}

func (w *Worker) peerAddressOf(p *models.Payment) string {
	if p.MyRole == models.RoleSender {
		return p.ReceiverAddress
	}
	return p.SenderAddress
}

func (w *Worker) commit(ctx context.Context, p *models.Payment) bool {
	p.UpdatedAt = w.now()
	if err := w.payments.UpdatePayment(ctx, p); err != nil {
		if !errors.Is(err, offchain.ErrVersionConflict) {
			w.log.Error("payment update failed",
				zap.String("reference_id", p.ReferenceID.String()),
				zap.Error(err),
			)
		}
		return false
	}
	w.publishStatus(ctx, p)
	return true
}

func (w *Worker) publishStatus(ctx context.Context, p *models.Payment) {
	if w.publisher == nil {
		return
	}
	_ = w.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: events.EventPaymentStatusChanged,
		Payload: map[string]any{
			"reference_id":       p.ReferenceID.String(),
			"sender_status":      p.SenderStatus,
			"receiver_status":    p.ReceiverStatus,
			"transaction_status": p.TransactionStatus,
		},
	})
}

func (w *Worker) publishReview(ctx context.Context, p *models.Payment) {
	if w.publisher == nil {
		return
	}
	_ = w.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: events.EventPaymentReview,
		Payload: map[string]any{
			"reference_id": p.ReferenceID.String(),
			"my_role":      p.MyRole,
		},
	})
}
