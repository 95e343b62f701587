package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const transactionColumns = `
	id, blockchain_version, sequence_number, source_address,
	source_subaddress, destination_address, destination_subaddress, amount,
	currency, type, status, reference_id, created_at`

func scanTransaction(row pgx.Row) (*models.ChainTransaction, error) {
	var t models.ChainTransaction
	err := row.Scan(
		&t.ID, &t.BlockchainVersion, &t.SequenceNumber, &t.SourceAddress,
		&t.SourceSubaddress, &t.DestinationAddress, &t.DestinationSubaddress,
		&t.Amount, &t.Currency, &t.Type, &t.Status, &t.ReferenceID,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, offchain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

func (r *TransactionRepository) Create(ctx context.Context, t *models.ChainTransaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chain_transactions (
			id, blockchain_version, sequence_number, source_address,
			source_subaddress, destination_address, destination_subaddress,
			amount, currency, type, status, reference_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.BlockchainVersion, t.SequenceNumber, t.SourceAddress,
		t.SourceSubaddress, t.DestinationAddress, t.DestinationSubaddress,
		t.Amount, t.Currency, t.Type, t.Status, t.ReferenceID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chain transaction: %w", err)
	}
	return nil
}

// ExistsVersion reports whether an EXTERNAL row already mirrors the given
// chain version. The unique index makes the mirror insert idempotent; this
// check just spares a conflict round trip.
func (r *TransactionRepository) ExistsVersion(ctx context.Context, version uint64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM chain_transactions WHERE blockchain_version = $1
		)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check chain version %d: %w", version, err)
	}
	return exists, nil
}

func (r *TransactionRepository) GetByVersion(ctx context.Context, version uint64) (*models.ChainTransaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM chain_transactions
		 WHERE blockchain_version = $1`,
		version)
	return scanTransaction(row)
}

func (r *TransactionRepository) GetByReferenceID(ctx context.Context, referenceID uuid.UUID) (*models.ChainTransaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM chain_transactions
		 WHERE reference_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		referenceID)
	return scanTransaction(row)
}

// ListExternalVersions returns every chain version the local mirror holds.
func (r *TransactionRepository) ListExternalVersions(ctx context.Context) ([]uint64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT blockchain_version FROM chain_transactions
		 WHERE type = $1 AND blockchain_version IS NOT NULL`,
		models.TxTypeExternal)
	if err != nil {
		return nil, fmt.Errorf("list external versions: %w", err)
	}
	defer rows.Close()

	var versions []uint64
	for rows.Next() {
		var v uint64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// DeleteExternalByVersions removes mirror rows whose chain versions turned
// out not to exist, the divergence repair path of the reconciler.
func (r *TransactionRepository) DeleteExternalByVersions(ctx context.Context, versions []uint64) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chain_transactions
		 WHERE type = $1 AND blockchain_version = ANY($2)`,
		models.TxTypeExternal, versions)
	if err != nil {
		return 0, fmt.Errorf("delete external versions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AccountBalance computes an account's holdings in one currency from the
// transaction mirror: credits into the account's subaddresses minus debits
// out of them, settled rows only.
func (r *TransactionRepository) AccountBalance(ctx context.Context, accountID uuid.UUID, currency string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN d.account_id = $1 THEN t.amount ELSE 0 END -
			CASE WHEN s.account_id = $1 THEN t.amount ELSE 0 END
		), 0)
		FROM chain_transactions t
		LEFT JOIN subaddresses s ON s.subaddress = t.source_subaddress
		LEFT JOIN subaddresses d ON d.subaddress = t.destination_subaddress
		WHERE t.currency = $2 AND t.status = $3`,
		accountID, currency, models.TxStatusCompleted).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("account balance: %w", err)
	}
	return balance, nil
}

// ExternalNetBalance is the wallet-wide mirrored on-chain balance: settled
// EXTERNAL credits minus debits for the VASP account, per currency. The
// reconciler compares it against the chain's reported balance to detect
// divergence.
func (r *TransactionRepository) ExternalNetBalance(ctx context.Context, vaspAddressHex, currency string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN destination_address = $1 AND source_address <> $1 THEN amount
			     WHEN source_address = $1 AND destination_address <> $1 THEN -amount
			     ELSE 0 END
		), 0)
		FROM chain_transactions
		WHERE type = $2 AND currency = $3 AND status = $4`,
		vaspAddressHex, models.TxTypeExternal, currency,
		models.TxStatusCompleted).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("external net balance: %w", err)
	}
	return balance, nil
}

func (r *TransactionRepository) ListForAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.ChainTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM chain_transactions t
		 WHERE EXISTS (
			SELECT 1 FROM subaddresses sa
			WHERE sa.account_id = $1
			  AND (sa.subaddress = t.source_subaddress OR sa.subaddress = t.destination_subaddress)
		 )
		 ORDER BY t.created_at DESC
		 LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list account transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.ChainTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
