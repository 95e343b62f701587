package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

type FPPARepository struct {
	pool *pgxpool.Pool
}

func NewFPPARepository(pool *pgxpool.Pool) *FPPARepository {
	return &FPPARepository{pool: pool}
}

const fppaColumns = `
	funds_pull_pre_approval_id, payer_address, biller_address, scope,
	description, status, role, offchain_sent, version, created_at, updated_at`

func scanFPPA(row pgx.Row) (*models.FundsPullPreApproval, error) {
	var a models.FundsPullPreApproval
	var scopeRaw []byte
	err := row.Scan(
		&a.FundsPullPreApprovalID, &a.PayerAddress, &a.BillerAddress,
		&scopeRaw, &a.Description, &a.Status, &a.Role, &a.OffchainSent,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, offchain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pre-approval: %w", err)
	}
	if err := json.Unmarshal(scopeRaw, &a.Scope); err != nil {
		return nil, fmt.Errorf("decode pre-approval scope: %w", err)
	}
	return &a, nil
}

func (r *FPPARepository) GetFPPA(ctx context.Context, id uuid.UUID) (*models.FundsPullPreApproval, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+fppaColumns+` FROM funds_pull_pre_approvals
		 WHERE funds_pull_pre_approval_id = $1`,
		id)
	return scanFPPA(row)
}

func (r *FPPARepository) CreateFPPA(ctx context.Context, a *models.FundsPullPreApproval) error {
	scopeRaw, err := json.Marshal(a.Scope)
	if err != nil {
		return fmt.Errorf("encode pre-approval scope: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO funds_pull_pre_approvals (
			funds_pull_pre_approval_id, payer_address, biller_address, scope,
			description, status, role, offchain_sent, version, created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)`,
		a.FundsPullPreApprovalID, a.PayerAddress, a.BillerAddress, scopeRaw,
		a.Description, a.Status, a.Role, a.OffchainSent, a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pre-approval %s: %w", a.FundsPullPreApprovalID, err)
	}
	return nil
}

func (r *FPPARepository) UpdateFPPA(ctx context.Context, a *models.FundsPullPreApproval) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE funds_pull_pre_approvals SET
			status = $2, offchain_sent = $3, version = version + 1,
			updated_at = $4
		WHERE funds_pull_pre_approval_id = $1 AND version = $5`,
		a.FundsPullPreApprovalID, a.Status, a.OffchainSent, a.UpdatedAt,
		a.Version,
	)
	if err != nil {
		return fmt.Errorf("update pre-approval %s: %w", a.FundsPullPreApprovalID, err)
	}
	if tag.RowsAffected() == 0 {
		return offchain.ErrVersionConflict
	}
	a.Version++
	return nil
}

// ListUnsent returns approvals whose latest local mutation still owes the
// counterparty an off-chain command.
func (r *FPPARepository) ListUnsent(ctx context.Context, limit int) ([]*models.FundsPullPreApproval, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+fppaColumns+` FROM funds_pull_pre_approvals
		 WHERE offchain_sent = false
		 ORDER BY updated_at ASC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list unsent pre-approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.FundsPullPreApproval
	for rows.Next() {
		a, err := scanFPPA(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (r *FPPARepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.FundsPullPreApproval, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+fppaColumns+` FROM funds_pull_pre_approvals
		 WHERE status = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pre-approvals by status: %w", err)
	}
	defer rows.Close()

	var approvals []*models.FundsPullPreApproval
	for rows.Next() {
		a, err := scanFPPA(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}
