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

type SubaddressRepository struct {
	pool *pgxpool.Pool
}

func NewSubaddressRepository(pool *pgxpool.Pool) *SubaddressRepository {
	return &SubaddressRepository{pool: pool}
}

func (r *SubaddressRepository) Create(ctx context.Context, subaddress string, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO subaddresses (subaddress, account_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (subaddress) DO NOTHING`,
		subaddress, accountID, time.Now())
	if err != nil {
		return fmt.Errorf("insert subaddress %s: %w", subaddress, err)
	}
	return nil
}

// Resolve maps a subaddress to its owning account id.
func (r *SubaddressRepository) Resolve(ctx context.Context, subaddress string) (uuid.UUID, error) {
	var accountID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT account_id FROM subaddresses WHERE subaddress = $1`,
		subaddress).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, offchain.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve subaddress %s: %w", subaddress, err)
	}
	return accountID, nil
}

func (r *SubaddressRepository) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]models.SubaddressBinding, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT subaddress, account_id, created_at FROM subaddresses
		 WHERE account_id = $1
		 ORDER BY created_at ASC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list subaddresses: %w", err)
	}
	defer rows.Close()

	var bindings []models.SubaddressBinding
	for rows.Next() {
		var b models.SubaddressBinding
		if err := rows.Scan(&b.Subaddress, &b.AccountID, &b.CreatedAt); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}
