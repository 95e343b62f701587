package services

import (
	"context"
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

var ErrFPPATransition = errors.New("pre-approval transition not allowed")

type fppaStore interface {
	offchain.FPPAStore
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.FundsPullPreApproval, error)
}

// FPPAService owns the wallet-facing side of funds-pull pre-approvals. Every
// local mutation leaves offchain_sent false; the worker delivers it to the
// counterparty.
type FPPAService struct {
	approvals fppaStore
	publisher events.Publisher
	myAccount chain.AccountAddress
	hrp       string
	log       *zap.Logger
	now       func() time.Time
}

func NewFPPAService(approvals fppaStore, publisher events.Publisher, myAccount chain.AccountAddress, hrp string, log *zap.Logger) *FPPAService {
	return &FPPAService{
		approvals: approvals,
		publisher: publisher,
		myAccount: myAccount,
		hrp:       hrp,
		log:       log,
		now:       time.Now,
	}
}

type CreateFPPAParams struct {
	PayerAddress  string // bech32
	BillerAddress string // bech32
	Scope         models.FPPAScope
	Description   *string
}

// CreateRequest opens a pending pull request as the payee (biller) side.
func (s *FPPAService) CreateRequest(ctx context.Context, params CreateFPPAParams) (*models.FundsPullPreApproval, error) {
	return s.create(ctx, params, models.FPPARolePayee, models.FPPAStatusPending)
}

// CreateGrant issues an approval directly as the payer, no prior request
// needed.
func (s *FPPAService) CreateGrant(ctx context.Context, params CreateFPPAParams) (*models.FundsPullPreApproval, error) {
	return s.create(ctx, params, models.FPPARolePayer, models.FPPAStatusValid)
}

func (s *FPPAService) create(ctx context.Context, params CreateFPPAParams, role, status string) (*models.FundsPullPreApproval, error) {
	payerAccount, _, err := chain.DecodeAddress(s.hrp, params.PayerAddress)
	if err != nil {
		return nil, fmt.Errorf("payer address: %w", err)
	}
	billerAccount, _, err := chain.DecodeAddress(s.hrp, params.BillerAddress)
	if err != nil {
		return nil, fmt.Errorf("biller address: %w", err)
	}
	switch role {
	case models.FPPARolePayer:
		if payerAccount != s.myAccount {
			return nil, errors.New("payer address does not belong to this VASP")
		}
	case models.FPPARolePayee:
		if billerAccount != s.myAccount {
			return nil, errors.New("biller address does not belong to this VASP")
		}
	}
	if params.Scope.Type != models.FPPAScopeConsent && params.Scope.Type != models.FPPAScopeSaveSubAccount {
		return nil, fmt.Errorf("unknown scope type %q", params.Scope.Type)
	}
	if params.Scope.ExpirationTimestamp <= s.now().Unix() {
		return nil, errors.New("scope expiration is not in the future")
	}

	now := s.now()
	a := &models.FundsPullPreApproval{
		FundsPullPreApprovalID: uuid.New(),
		PayerAddress:           params.PayerAddress,
		BillerAddress:          params.BillerAddress,
		Scope:                  params.Scope,
		Description:            params.Description,
		Status:                 status,
		Role:                   role,
		OffchainSent:           false,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.approvals.CreateFPPA(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *FPPAService) Get(ctx context.Context, id uuid.UUID) (*models.FundsPullPreApproval, error) {
	return s.approvals.GetFPPA(ctx, id)
}

func (s *FPPAService) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.FundsPullPreApproval, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.approvals.ListByStatus(ctx, status, limit, offset)
}

// Approve resolves a pending request as the payer.
func (s *FPPAService) Approve(ctx context.Context, id uuid.UUID) (*models.FundsPullPreApproval, error) {
	return s.transition(ctx, id, models.FPPAStatusValid)
}

// Reject declines a pending request as the payer.
func (s *FPPAService) Reject(ctx context.Context, id uuid.UUID) (*models.FundsPullPreApproval, error) {
	return s.transition(ctx, id, models.FPPAStatusRejected)
}

// Close revokes a valid approval; either role may do this.
func (s *FPPAService) Close(ctx context.Context, id uuid.UUID) (*models.FundsPullPreApproval, error) {
	return s.transition(ctx, id, models.FPPAStatusClosed)
}

func (s *FPPAService) transition(ctx context.Context, id uuid.UUID, to string) (*models.FundsPullPreApproval, error) {
	a, err := s.approvals.GetFPPA(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.FPPARoleMayTransition(a.Role, a.Status, to) {
		return nil, fmt.Errorf("%w: %s may not move %s -> %s", ErrFPPATransition, a.Role, a.Status, to)
	}

	a.Status = to
	a.OffchainSent = false
	a.UpdatedAt = s.now()
	if err := s.approvals.UpdateFPPA(ctx, a); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, events.StreamPayments, events.Event{
			Type: events.EventFPPAStatusChanged,
			Payload: map[string]any{
				"funds_pull_pre_approval_id": a.FundsPullPreApprovalID.String(),
				"status":                     a.Status,
			},
		})
	}
	return a, nil
}
