package offchain

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/models"
)

// PaymentStore is the persistence port for payments. Updates carry an
// optimistic version guard: a write against a stale version returns
// ErrVersionConflict and the caller abandons its tick.
type PaymentStore interface {
	GetPayment(ctx context.Context, referenceID uuid.UUID) (*models.Payment, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, p *models.Payment) error
	ListByTransactionStatus(ctx context.Context, statuses []string, limit int) ([]*models.Payment, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error)
}

// FPPAStore is the persistence port for funds-pull pre-approvals.
type FPPAStore interface {
	GetFPPA(ctx context.Context, id uuid.UUID) (*models.FundsPullPreApproval, error)
	CreateFPPA(ctx context.Context, a *models.FundsPullPreApproval) error
	UpdateFPPA(ctx context.Context, a *models.FundsPullPreApproval) error
	ListUnsent(ctx context.Context, limit int) ([]*models.FundsPullPreApproval, error)
}

// Discovery resolves a counterparty account to its published off-chain
// endpoint and compliance verification key. Implementations cache per
// address; Invalidate drops the cached entry after a verification failure.
type Discovery interface {
	Lookup(ctx context.Context, account chain.AccountAddress) (baseURL string, key ed25519.PublicKey, err error)
	Invalidate(ctx context.Context, account chain.AccountAddress) error
}

// CachedResponse is a previously computed reply for an inbound cid.
type CachedResponse struct {
	HTTPStatus int    `json:"http_status"`
	Body       []byte `json:"body"`
}

// ReplayCache remembers responses keyed by (cid, payload digest) so an exact
// envelope re-delivery yields the same bytes without re-running the handler.
type ReplayCache interface {
	Get(ctx context.Context, cid, digest string) (*CachedResponse, error)
	Put(ctx context.Context, cid, digest string, resp CachedResponse) error
}
