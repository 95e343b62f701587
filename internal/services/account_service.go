package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/repositories"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// AccountService manages internal ledger accounts: deposit addresses,
// balances derived from the transaction mirror, and internal transfers that
// never touch the chain.
type AccountService struct {
	accounts  *repositories.AccountRepository
	subaddrs  *repositories.SubaddressRepository
	txns      *repositories.TransactionRepository
	myAccount chain.AccountAddress
	hrp       string
	log       *zap.Logger
}

func NewAccountService(
	accounts *repositories.AccountRepository,
	subaddrs *repositories.SubaddressRepository,
	txns *repositories.TransactionRepository,
	myAccount chain.AccountAddress,
	hrp string,
	log *zap.Logger,
) *AccountService {
	return &AccountService{
		accounts:  accounts,
		subaddrs:  subaddrs,
		txns:      txns,
		myAccount: myAccount,
		hrp:       hrp,
		log:       log,
	}
}

func (s *AccountService) CreateAccount(ctx context.Context, name string) (*models.Account, error) {
	return s.accounts.Create(ctx, name)
}

func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// DepositAddress mints a fresh bech32 deposit address bound to the account.
// Every call returns a new subaddress; reuse across depositors is avoided by
// construction.
func (s *AccountService) DepositAddress(ctx context.Context, accountID uuid.UUID) (string, error) {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return "", err
	}
	sub, err := chain.RandomSubAddress()
	if err != nil {
		return "", err
	}
	if err := s.subaddrs.Create(ctx, sub.Hex(), accountID); err != nil {
		return "", err
	}
	return chain.EncodeAddress(s.hrp, s.myAccount, &sub)
}

func (s *AccountService) Balance(ctx context.Context, accountID uuid.UUID, currency string) (int64, error) {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return 0, err
	}
	return s.txns.AccountBalance(ctx, accountID, currency)
}

func (s *AccountService) Transactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.ChainTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.txns.ListForAccount(ctx, accountID, limit, offset)
}

// TransferInternal moves funds between two accounts of this wallet by
// recording an INTERNAL ledger row. No chain transaction is involved.
func (s *AccountService) TransferInternal(ctx context.Context, fromID, toID uuid.UUID, amount uint64, currency string) (*models.ChainTransaction, error) {
	if amount < 1 {
		return nil, ErrAmountOutOfRange
	}
	if _, err := s.accounts.GetByID(ctx, fromID); err != nil {
		return nil, err
	}
	if _, err := s.accounts.GetByID(ctx, toID); err != nil {
		return nil, err
	}

	balance, err := s.txns.AccountBalance(ctx, fromID, currency)
	if err != nil {
		return nil, err
	}
	if balance < int64(amount) {
		return nil, ErrInsufficientFunds
	}

	fromSub, err := chain.RandomSubAddress()
	if err != nil {
		return nil, err
	}
	toSub, err := chain.RandomSubAddress()
	if err != nil {
		return nil, err
	}
	if err := s.subaddrs.Create(ctx, fromSub.Hex(), fromID); err != nil {
		return nil, err
	}
	if err := s.subaddrs.Create(ctx, toSub.Hex(), toID); err != nil {
		return nil, err
	}

	fromHex := fromSub.Hex()
	toHex := toSub.Hex()
	row := &models.ChainTransaction{
		ID:                    uuid.New(),
		SourceAddress:         s.myAccount.Hex(),
		SourceSubaddress:      &fromHex,
		DestinationAddress:    s.myAccount.Hex(),
		DestinationSubaddress: &toHex,
		Amount:                amount,
		Currency:              currency,
		Type:                  models.TxTypeInternal,
		Status:                models.TxStatusCompleted,
		CreatedAt:             time.Now(),
	}
	if err := s.txns.Create(ctx, row); err != nil {
		return nil, err
	}

	s.log.Info("internal transfer recorded",
		zap.String("from", fromID.String()),
		zap.String("to", toID.String()),
		zap.Uint64("amount", amount),
		zap.String("currency", currency),
	)
	return row, nil
}
