package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `
	reference_id, sender_address, receiver_address, amount, currency, action,
	expiration, sender_status, receiver_status, sender_kyc_data,
	receiver_kyc_data, sender_additional_kyc_data, receiver_additional_kyc_data,
	recipient_signature, description, original_payment_reference_id, my_role,
	inbound, cid, transaction_status, settlement_version, settlement_sequence,
	version, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(
		&p.ReferenceID, &p.SenderAddress, &p.ReceiverAddress, &p.Amount,
		&p.Currency, &p.Action, &p.Expiration, &p.SenderStatus,
		&p.ReceiverStatus, &p.SenderKycData, &p.ReceiverKycData,
		&p.SenderAdditionalKycData, &p.ReceiverAdditionalKycData,
		&p.RecipientSignature, &p.Description, &p.OriginalPaymentReferenceID,
		&p.MyRole, &p.Inbound, &p.CID, &p.TransactionStatus,
		&p.SettlementVersion, &p.SettlementSequence, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, offchain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetPayment(ctx context.Context, referenceID uuid.UUID) (*models.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference_id = $1`,
		referenceID)
	return scanPayment(row)
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (
			reference_id, sender_address, receiver_address, amount, currency,
			action, expiration, sender_status, receiver_status,
			sender_kyc_data, receiver_kyc_data, sender_additional_kyc_data,
			receiver_additional_kyc_data, recipient_signature, description,
			original_payment_reference_id, my_role, inbound, cid,
			transaction_status, settlement_version, settlement_sequence,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, 0, $23, $24
		)`,
		p.ReferenceID, p.SenderAddress, p.ReceiverAddress, p.Amount,
		p.Currency, p.Action, p.Expiration, p.SenderStatus, p.ReceiverStatus,
		p.SenderKycData, p.ReceiverKycData, p.SenderAdditionalKycData,
		p.ReceiverAdditionalKycData, p.RecipientSignature, p.Description,
		p.OriginalPaymentReferenceID, p.MyRole, p.Inbound, p.CID,
		p.TransactionStatus, p.SettlementVersion, p.SettlementSequence,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ReferenceID, err)
	}
	return nil
}

// UpdatePayment writes the payment back under its optimistic version guard.
// The guard loses when another writer committed since the caller's read, in
// which case nothing is written and ErrVersionConflict is returned.
func (r *PaymentRepository) UpdatePayment(ctx context.Context, p *models.Payment) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET
			sender_status = $2, receiver_status = $3, sender_kyc_data = $4,
			receiver_kyc_data = $5, sender_additional_kyc_data = $6,
			receiver_additional_kyc_data = $7, recipient_signature = $8,
			my_role = $9, inbound = $10, cid = $11, transaction_status = $12,
			settlement_version = $13, settlement_sequence = $14,
			version = version + 1, updated_at = $15
		WHERE reference_id = $1 AND version = $16`,
		p.ReferenceID, p.SenderStatus, p.ReceiverStatus, p.SenderKycData,
		p.ReceiverKycData, p.SenderAdditionalKycData,
		p.ReceiverAdditionalKycData, p.RecipientSignature, p.MyRole,
		p.Inbound, p.CID, p.TransactionStatus, p.SettlementVersion,
		p.SettlementSequence, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ReferenceID, err)
	}
	if tag.RowsAffected() == 0 {
		return offchain.ErrVersionConflict
	}
	p.Version++
	return nil
}

func (r *PaymentRepository) ListByTransactionStatus(ctx context.Context, statuses []string, limit int) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE transaction_status = ANY($1)
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments by status: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

// ListExpired returns live payments whose negotiation window has passed.
func (r *PaymentRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE expiration < $1
		   AND transaction_status NOT IN ($2, $3, $4)
		 ORDER BY expiration ASC
		 LIMIT $5`,
		now, models.TxStatusCompleted, models.TxStatusCanceled,
		models.TxStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *PaymentRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recent payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]*models.Payment, error) {
	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
