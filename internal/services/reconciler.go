package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/events"
	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

type reconcilerChain interface {
	GetAccount(ctx context.Context, addr chain.AccountAddress) (*chain.Account, error)
	GetEvents(ctx context.Context, streamKey string, start, limit uint64) ([]chain.Event, error)
	GetTransactionByVersion(ctx context.Context, version uint64) (*chain.Transaction, error)
}

type mirrorStore interface {
	Create(ctx context.Context, t *models.ChainTransaction) error
	ExistsVersion(ctx context.Context, version uint64) (bool, error)
	ListExternalVersions(ctx context.Context) ([]uint64, error)
	DeleteExternalByVersions(ctx context.Context, versions []uint64) (int64, error)
	ExternalNetBalance(ctx context.Context, vaspAddressHex, currency string) (int64, error)
}

type cursorStore interface {
	Get(ctx context.Context, streamKey string) (*models.EventCursor, error)
	Save(ctx context.Context, c *models.EventCursor) error
}

type subaddressResolver interface {
	Resolve(ctx context.Context, subaddress string) (uuid.UUID, error)
	Create(ctx context.Context, subaddress string, accountID uuid.UUID) error
}

type inventoryProvider interface {
	EnsureInventory(ctx context.Context) (*models.Account, error)
}

// Reconciler mirrors the VASP account's on-chain payment history into the
// local ledger. It pages both event streams from persisted cursors, routes
// deposits to accounts by subaddress, links travel-rule transfers back to
// their off-chain payments, and repairs the mirror when its balance diverges
// from the chain's.
type Reconciler struct {
	chain     reconcilerChain
	mirror    mirrorStore
	cursors   cursorStore
	subaddrs  subaddressResolver
	accounts  inventoryProvider
	payments  offchain.PaymentStore
	publisher events.Publisher
	myAccount chain.AccountAddress
	batchSize uint64
	log       *zap.Logger
	now       func() time.Time
}

type ReconcilerConfig struct {
	Chain     reconcilerChain
	Mirror    mirrorStore
	Cursors   cursorStore
	Subaddrs  subaddressResolver
	Accounts  inventoryProvider
	Payments  offchain.PaymentStore
	Publisher events.Publisher
	MyAccount chain.AccountAddress
	BatchSize uint64
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = 100
	}
	return &Reconciler{
		chain:     cfg.Chain,
		mirror:    cfg.Mirror,
		cursors:   cfg.Cursors,
		subaddrs:  cfg.Subaddrs,
		accounts:  cfg.Accounts,
		payments:  cfg.Payments,
		publisher: cfg.Publisher,
		myAccount: cfg.MyAccount,
		batchSize: batch,
		log:       cfg.Logger,
		now:       now,
	}
}

// Run syncs until the context is canceled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sync(ctx); err != nil {
				r.log.Error("chain sync failed", zap.Error(err))
			}
		}
	}
}

// Sync runs one full pass: drain both event streams, then check the mirror
// against the chain's reported balances.
func (r *Reconciler) Sync(ctx context.Context) error {
	acct, err := r.chain.GetAccount(ctx, r.myAccount)
	if err != nil {
		return err
	}
	if acct == nil {
		return errors.New("vasp account does not exist on chain")
	}

	if err := r.syncStream(ctx, acct.ReceivedEventsKey, true); err != nil {
		return err
	}
	if err := r.syncStream(ctx, acct.SentEventsKey, false); err != nil {
		return err
	}

	return r.checkDivergence(ctx, acct)
}

func (r *Reconciler) syncStream(ctx context.Context, streamKey string, inbound bool) error {
	if streamKey == "" {
		return nil
	}
	cursor, err := r.cursors.Get(ctx, streamKey)
	if err != nil {
		return err
	}

	for {
		batch, err := r.chain.GetEvents(ctx, streamKey, cursor.LastSequence, r.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, ev := range batch {
			if err := r.applyEvent(ctx, ev, inbound); err != nil {
				return err
			}
			cursor.LastSequence = ev.SequenceNumber + 1
			if ev.TransactionVersion > cursor.LastVersion {
				cursor.LastVersion = ev.TransactionVersion
			}
		}
		if err := r.cursors.Save(ctx, cursor); err != nil {
			return err
		}
		if uint64(len(batch)) < r.batchSize {
			return nil
		}
	}
}

func (r *Reconciler) applyEvent(ctx context.Context, ev chain.Event, inbound bool) error {
	exists, err := r.mirror.ExistsVersion(ctx, ev.TransactionVersion)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	decoded, decodeErr := chain.DecodeMetadataHex(ev.Data.Metadata)

	row := &models.ChainTransaction{
		ID:                 uuid.New(),
		SourceAddress:      ev.Data.Sender,
		DestinationAddress: ev.Data.Receiver,
		Amount:             ev.Data.Amount.Amount,
		Currency:           ev.Data.Amount.Currency,
		Type:               models.TxTypeExternal,
		Status:             models.TxStatusCompleted,
		CreatedAt:          r.now(),
	}
	version := ev.TransactionVersion
	row.BlockchainVersion = &version

	switch {
	case decodeErr == nil && decoded.General != nil:
		if decoded.General.ToSubAddress != nil {
			h := decoded.General.ToSubAddress.Hex()
			row.DestinationSubaddress = &h
		}
		if decoded.General.FromSubAddress != nil {
			h := decoded.General.FromSubAddress.Hex()
			row.SourceSubaddress = &h
		}
		if inbound && row.DestinationSubaddress != nil {
			if err := r.routeDeposit(ctx, *row.DestinationSubaddress); err != nil {
				return err
			}
		}
	case decodeErr == nil && decoded.TravelRule != nil:
		r.linkPayment(ctx, *decoded.TravelRule, row, inbound)
	default:
		// Unknown or absent metadata: the transfer still counts for the
		// balance, it just stays unrouted.
		if inbound {
			if err := r.routeDeposit(ctx, ""); err != nil {
				return err
			}
		}
	}

	if err := r.mirror.Create(ctx, row); err != nil {
		return err
	}

	if inbound && r.publisher != nil {
		_ = r.publisher.Publish(ctx, events.StreamPayments, events.Event{
			Type: events.EventDepositReceived,
			Payload: map[string]any{
				"version":  ev.TransactionVersion,
				"amount":   ev.Data.Amount.Amount,
				"currency": ev.Data.Amount.Currency,
			},
		})
	}
	return nil
}

// routeDeposit makes sure the destination subaddress belongs to someone.
// Unknown or missing subaddresses are bound to the inventory account so the
// funds stay accounted for.
func (r *Reconciler) routeDeposit(ctx context.Context, subaddress string) error {
	if subaddress != "" {
		if _, err := r.subaddrs.Resolve(ctx, subaddress); err == nil {
			return nil
		} else if !errors.Is(err, offchain.ErrNotFound) {
			return err
		}
	}

	inventory, err := r.accounts.EnsureInventory(ctx)
	if err != nil {
		return err
	}
	if subaddress == "" {
		return nil // counted for the wallet, owned by inventory implicitly
	}
	r.log.Info("routing unclaimed deposit subaddress to inventory",
		zap.String("subaddress", subaddress),
	)
	return r.subaddrs.Create(ctx, subaddress, inventory.ID)
}

// linkPayment attaches a travel-rule transfer to its off-chain payment. On
// the receiving side this is how the wallet learns the sender settled.
func (r *Reconciler) linkPayment(ctx context.Context, referenceID string, row *models.ChainTransaction, inbound bool) {
	refID, err := uuid.Parse(referenceID)
	if err != nil {
		return
	}
	row.ReferenceID = &refID

	p, err := r.payments.GetPayment(ctx, refID)
	if err != nil {
		return
	}
	if models.IsTerminalTxStatus(p.TransactionStatus) {
		return
	}
	if !inbound && p.MyRole != models.RoleReceiver {
		return
	}

	version := *row.BlockchainVersion
	p.SettlementVersion = &version
	p.TransactionStatus = models.TxStatusCompleted
	p.UpdatedAt = r.now()
	if err := r.payments.UpdatePayment(ctx, p); err != nil {
		return
	}
	if r.publisher != nil {
		_ = r.publisher.Publish(ctx, events.StreamPayments, events.Event{
			Type: events.EventPaymentSettled,
			Payload: map[string]any{
				"reference_id":       refID.String(),
				"transaction_status": p.TransactionStatus,
				"settlement_version": version,
			},
		})
	}
}

// checkDivergence compares the mirrored balance against the chain's. When
// the mirror claims more than the chain holds, rows whose versions the chain
// does not confirm are dropped.
func (r *Reconciler) checkDivergence(ctx context.Context, acct *chain.Account) error {
	diverged := false
	for _, bal := range acct.Balances {
		local, err := r.mirror.ExternalNetBalance(ctx, r.myAccount.Hex(), bal.Currency)
		if err != nil {
			return err
		}
		if local != int64(bal.Amount) {
			r.log.Warn("mirror balance diverges from chain",
				zap.String("currency", bal.Currency),
				zap.Int64("local", local),
				zap.Uint64("chain", bal.Amount),
			)
			diverged = true
		}
	}
	if !diverged {
		return nil
	}
	return r.repairMirror(ctx)
}

func (r *Reconciler) repairMirror(ctx context.Context) error {
	versions, err := r.mirror.ListExternalVersions(ctx)
	if err != nil {
		return err
	}

	var orphaned []uint64
	for _, v := range versions {
		txn, err := r.chain.GetTransactionByVersion(ctx, v)
		if errors.Is(err, chain.ErrTransactionNotFound) {
			orphaned = append(orphaned, v)
			continue
		}
		if err != nil {
			return err
		}
		if !txn.Executed() {
			orphaned = append(orphaned, v)
		}
	}
	if len(orphaned) == 0 {
		return nil
	}

	deleted, err := r.mirror.DeleteExternalByVersions(ctx, orphaned)
	if err != nil {
		return err
	}
	r.log.Warn("dropped mirror rows the chain does not confirm",
		zap.Int64("deleted", deleted),
		zap.Uint64s("versions", orphaned),
	)
	return nil
}
