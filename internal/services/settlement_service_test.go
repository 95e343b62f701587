package services

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/models"
)

type settlementFixture struct {
	service  *SettlementService
	payments *memPaymentStore
	mirror   *memMirror
	chain    *fakeChain

	myAddress   string
	peerAddress string
	peerPriv    []byte
	myAccount   chain.AccountAddress
	peerAccount chain.AccountAddress
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	_, walletPriv := testKeyPair(t)
	_, peerPriv := testKeyPair(t)

	myAccount, _ := chain.AccountAddressFromHex("f72589b71ff4f8d139674a3f7369c69b")
	peerAccount, _ := chain.AccountAddressFromHex("2a74c1db95b6bfcbe2dbbc16b6a37b22")
	mySub, _ := chain.SubAddressFromHex("0102030405060708")
	peerSub, _ := chain.SubAddressFromHex("1112131415161718")
	myAddress, _ := chain.EncodeAddress(chain.HRPTestnet, myAccount, &mySub)
	peerAddress, _ := chain.EncodeAddress(chain.HRPTestnet, peerAccount, &peerSub)

	f := &settlementFixture{
		payments: newMemPaymentStore(),
		mirror:   newMemMirror(),
		chain: &fakeChain{
			account: &chain.Account{
				Address:        myAccount.Hex(),
				SequenceNumber: 5,
			},
			bySequence: make(map[uint64]*chain.Transaction),
			byVersion:  make(map[uint64]*chain.Transaction),
		},
		myAddress:   myAddress,
		peerAddress: peerAddress,
		peerPriv:    peerPriv,
		myAccount:   myAccount,
		peerAccount: peerAccount,
	}
	f.service = NewSettlementService(SettlementConfig{
		Payments:    f.payments,
		Mirror:      f.mirror,
		Chain:       f.chain,
		Signer:      chain.NewSigner(walletPriv, myAccount, 2),
		HRP:         chain.HRPTestnet,
		GasCurrency: "XUS",
		WaitTimeout: time.Second,
		Logger:      zap.NewNop(),
	})
	return f
}

func (f *settlementFixture) readyPayment(t *testing.T) *models.Payment {
	t.Helper()
	refID := uuid.New()
	metadata := chain.EncodeTravelRuleMetadata(refID.String())
	sig := chain.SignAttestation(f.peerPriv, metadata, f.myAccount, 75_000)

	p := &models.Payment{
		ReferenceID:        refID,
		SenderAddress:      f.myAddress,
		ReceiverAddress:    f.peerAddress,
		Amount:             75_000,
		Currency:           "XUS",
		Action:             models.ActionCharge,
		Expiration:         time.Now().Add(time.Hour),
		SenderStatus:       models.ActorStatusReadyForSettlement,
		ReceiverStatus:     models.ActorStatusReadyForSettlement,
		RecipientSignature: &sig,
		MyRole:             models.RoleSender,
		TransactionStatus:  models.TxStatusOffChainReady,
	}
	if err := f.payments.CreatePayment(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func committedTxn(version uint64, refID uuid.UUID, executed bool) *chain.Transaction {
	status := chain.VMStatusExecuted
	if !executed {
		status = "move_abort"
	}
	return &chain.Transaction{
		Version:  version,
		VMStatus: chain.VMStatus{Type: status},
		Transaction: chain.TransactionData{
			Type: "user",
			Script: chain.Script{
				Type:     chain.ScriptTypePeerToPeerWithMetadata,
				Metadata: hex.EncodeToString(chain.EncodeTravelRuleMetadata(refID.String())),
			},
		},
	}
}

func TestSettleSubmitsAndCompletes(t *testing.T) {
	f := newSettlementFixture(t)
	p := f.readyPayment(t)

	f.chain.onSubmit = func(string) {
		f.chain.bySequence[5] = committedTxn(42, p.ReferenceID, true)
	}

	if err := f.service.Settle(context.Background(), p); err != nil {
		t.Fatalf("settle: %v", err)
	}

	stored, _ := f.payments.GetPayment(context.Background(), p.ReferenceID)
	if stored.TransactionStatus != models.TxStatusCompleted {
		t.Errorf("transaction status = %q, want completed", stored.TransactionStatus)
	}
	if stored.SettlementVersion == nil || *stored.SettlementVersion != 42 {
		t.Errorf("settlement version = %v, want 42", stored.SettlementVersion)
	}
	if stored.SettlementSequence == nil || *stored.SettlementSequence != 5 {
		t.Errorf("settlement sequence = %v, want 5", stored.SettlementSequence)
	}
	if len(f.chain.submitted) != 1 {
		t.Errorf("submitted %d transactions, want 1", len(f.chain.submitted))
	}
	if _, ok := f.mirror.rows[42]; !ok {
		t.Error("settlement not mirrored into the local ledger")
	}
}

func TestSettleRequeryFindsEarlierSubmit(t *testing.T) {
	f := newSettlementFixture(t)
	p := f.readyPayment(t)

	// A previous run reserved sequence 5 and submitted before dying.
	seq := uint64(5)
	p.SettlementSequence = &seq
	if err := f.payments.UpdatePayment(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	f.chain.bySequence[5] = committedTxn(42, p.ReferenceID, true)

	if err := f.service.Settle(context.Background(), p); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if len(f.chain.submitted) != 0 {
		t.Fatalf("submitted %d transactions, want 0 (requery must not resubmit)", len(f.chain.submitted))
	}
	stored, _ := f.payments.GetPayment(context.Background(), p.ReferenceID)
	if stored.TransactionStatus != models.TxStatusCompleted {
		t.Errorf("transaction status = %q, want completed", stored.TransactionStatus)
	}
	if stored.SettlementVersion == nil || *stored.SettlementVersion != 42 {
		t.Errorf("settlement version = %v, want 42", stored.SettlementVersion)
	}
}

func TestSettleRequeryForeignSequenceStartsOver(t *testing.T) {
	f := newSettlementFixture(t)
	p := f.readyPayment(t)

	// Sequence 5 was consumed by an unrelated transfer; the account is now
	// at sequence 6.
	seq := uint64(5)
	p.SettlementSequence = &seq
	if err := f.payments.UpdatePayment(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	f.chain.bySequence[5] = committedTxn(41, uuid.New(), true)
	f.chain.account.SequenceNumber = 6
	f.chain.onSubmit = func(string) {
		f.chain.bySequence[6] = committedTxn(43, p.ReferenceID, true)
	}

	if err := f.service.Settle(context.Background(), p); err != nil {
		t.Fatalf("settle: %v", err)
	}

	stored, _ := f.payments.GetPayment(context.Background(), p.ReferenceID)
	if stored.SettlementSequence == nil || *stored.SettlementSequence != 6 {
		t.Errorf("settlement sequence = %v, want fresh 6", stored.SettlementSequence)
	}
	if stored.SettlementVersion == nil || *stored.SettlementVersion != 43 {
		t.Errorf("settlement version = %v, want 43", stored.SettlementVersion)
	}
	if len(f.chain.submitted) != 1 {
		t.Errorf("submitted %d transactions, want 1", len(f.chain.submitted))
	}
}

func TestSettleVMRejectionFails(t *testing.T) {
	f := newSettlementFixture(t)
	p := f.readyPayment(t)

	f.chain.onSubmit = func(string) {
		f.chain.bySequence[5] = committedTxn(42, p.ReferenceID, false)
	}

	if err := f.service.Settle(context.Background(), p); err != nil {
		t.Fatalf("settle: %v", err)
	}

	stored, _ := f.payments.GetPayment(context.Background(), p.ReferenceID)
	if stored.TransactionStatus != models.TxStatusFailed {
		t.Errorf("transaction status = %q, want failed", stored.TransactionStatus)
	}
	if len(f.mirror.rows) != 0 {
		t.Error("rejected settlement must not be mirrored")
	}
}

func TestSettleRefusesUnreadyPayment(t *testing.T) {
	f := newSettlementFixture(t)
	p := f.readyPayment(t)
	p.ReceiverStatus = models.ActorStatusNeedsKycData

	if err := f.service.Settle(context.Background(), p); err == nil {
		t.Fatal("expected refusal for a payment that is not both-ready")
	}
	if len(f.chain.submitted) != 0 {
		t.Error("nothing may be submitted for an unready payment")
	}
}
