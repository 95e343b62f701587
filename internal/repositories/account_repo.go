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

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) Create(ctx context.Context, name string) (*models.Account, error) {
	a := &models.Account{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, created_at) VALUES ($1, $2, $3)`,
		a.ID, a.Name, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert account %q: %w", name, err)
	}
	return a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, offchain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

func (r *AccountRepository) GetByName(ctx context.Context, name string) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM accounts WHERE name = $1`, name).
		Scan(&a.ID, &a.Name, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, offchain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", name, err)
	}
	return &a, nil
}

// EnsureInventory creates the inventory account on first boot and returns it
// afterwards. Unrouted deposits land there.
func (r *AccountRepository) EnsureInventory(ctx context.Context) (*models.Account, error) {
	a, err := r.GetByName(ctx, models.InventoryAccountName)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, offchain.ErrNotFound) {
		return nil, err
	}

	a = &models.Account{
		ID:        uuid.New(),
		Name:      models.InventoryAccountName,
		CreatedAt: time.Now(),
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		a.ID, a.Name, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure inventory account: %w", err)
	}
	return r.GetByName(ctx, models.InventoryAccountName)
}
