package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/middleware"
	"github.com/diem-vasp/wallet-backend/internal/models"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
	"github.com/diem-vasp/wallet-backend/internal/services"
)

const (
	apiRateLimit  = 600
	apiRateWindow = time.Minute
)

// APIConfig wires the internal wallet API.
type APIConfig struct {
	Payments  *services.PaymentService
	Accounts  *services.AccountService
	Approvals *services.FPPAService
	Hub       *Hub
	Redis     *redis.Client
	Logger    *zap.Logger
}

// NewAPIApp serves the wallet-facing REST API and the websocket event feed.
// This surface is internal; it sits behind the wallet's own frontend, not
// the open internet.
func NewAPIApp(cfg APIConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(cfg.Logger))
	app.Use(middleware.RateLimit(cfg.Redis, apiRateLimit, apiRateWindow))

	h := &apiHandlers{
		payments:  cfg.Payments,
		accounts:  cfg.Accounts,
		approvals: cfg.Approvals,
	}

	v1 := app.Group("/api/v1")

	v1.Post("/payments", h.createPayment)
	v1.Post("/payment-requests", h.createPaymentRequest)
	v1.Get("/payments", h.listPayments)
	v1.Get("/payments/:id", h.getPayment)
	v1.Post("/payments/:id/cancel", h.cancelPayment)
	v1.Post("/payments/:id/review", h.reviewPayment)

	v1.Post("/accounts", h.createAccount)
	v1.Get("/accounts/:id/balance", h.accountBalance)
	v1.Post("/accounts/:id/deposit-address", h.depositAddress)
	v1.Get("/accounts/:id/transactions", h.accountTransactions)
	v1.Post("/transfers", h.internalTransfer)

	v1.Post("/funds-pull-pre-approvals", h.createFPPARequest)
	v1.Post("/funds-pull-pre-approvals/grant", h.createFPPAGrant)
	v1.Get("/funds-pull-pre-approvals", h.listFPPAs)
	v1.Get("/funds-pull-pre-approvals/:id", h.getFPPA)
	v1.Post("/funds-pull-pre-approvals/:id/approve", h.approveFPPA)
	v1.Post("/funds-pull-pre-approvals/:id/reject", h.rejectFPPA)
	v1.Post("/funds-pull-pre-approvals/:id/close", h.closeFPPA)

	if cfg.Hub != nil {
		RegisterWebsocket(app, cfg.Hub)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app
}

type apiHandlers struct {
	payments  *services.PaymentService
	accounts  *services.AccountService
	approvals *services.FPPAService
}

func (h *apiHandlers) createPayment(c *fiber.Ctx) error {
	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unparseable body")
	}
	p, err := h.payments.CreatePayment(c.Context(), services.CreatePaymentParams{
		AccountID:       req.AccountID,
		ReceiverAddress: req.ReceiverAddress,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Action:          req.Action,
		Description:     req.Description,
		Expiration:      req.Expiration,
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *apiHandlers) createPaymentRequest(c *fiber.Ctx) error {
	var req createPaymentRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unparseable body")
	}
	p, err := h.payments.CreatePaymentRequest(c.Context(), services.CreatePaymentRequestParams{
		AccountID:   req.AccountID,
		PayerVASP:   req.PayerVASP,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Action:      req.Action,
		Description: req.Description,
		Expiration:  req.Expiration,
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *apiHandlers) listPayments(c *fiber.Ctx) error {
	payments, err := h.payments.ListPayments(c.Context(), c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments})
}

func (h *apiHandlers) getPayment(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment id")
	}
	p, err := h.payments.GetPayment(c.Context(), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(p)
}

func (h *apiHandlers) cancelPayment(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment id")
	}
	p, err := h.payments.CancelPayment(c.Context(), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(p)
}

func (h *apiHandlers) reviewPayment(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment id")
	}
	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unparseable body")
	}
	p, err := h.payments.ResolveReview(c.Context(), id, req.Approve)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(p)
}

func (h *apiHandlers) createAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return badRequest(c, "account name required")
	}
	a, err := h.accounts.CreateAccount(c.Context(), req.Name)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

func (h *apiHandlers) accountBalance(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid account id")
	}
	currency := c.Query("currency", "XUS")
	balance, err := h.accounts.Balance(c.Context(), id, currency)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"account_id": id, "currency": currency, "balance": balance})
}

func (h *apiHandlers) depositAddress(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid account id")
	}
	address, err := h.accounts.DepositAddress(c.Context(), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"address": address})
}

func (h *apiHandlers) accountTransactions(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid account id")
	}
	txns, err := h.accounts.Transactions(c.Context(), id, c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"transactions": txns})
}

func (h *apiHandlers) internalTransfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unparseable body")
	}
	row, err := h.accounts.TransferInternal(c.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Currency)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

func (h *apiHandlers) createFPPARequest(c *fiber.Ctx) error {
	var req createFPPARequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unparseable body")
	}
	a, err := h.approvals.CreateRequest(c.Context(), services.CreateFPPAParams{
		PayerAddress:  req.PayerAddress,
		BillerAddress: req.BillerAddress,
		Scope:         req.Scope,
		Description:   req.Description,
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

func (h *apiHandlers) createFPPAGrant(c *fiber.Ctx) error {
	var req createFPPARequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "unparseable body")
	}
	a, err := h.approvals.CreateGrant(c.Context(), services.CreateFPPAParams{
		PayerAddress:  req.PayerAddress,
		BillerAddress: req.BillerAddress,
		Scope:         req.Scope,
		Description:   req.Description,
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

func (h *apiHandlers) listFPPAs(c *fiber.Ctx) error {
	approvals, err := h.approvals.ListByStatus(c.Context(), c.Query("status", "pending"),
		c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"funds_pull_pre_approvals": approvals})
}

func (h *apiHandlers) getFPPA(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid pre-approval id")
	}
	a, err := h.approvals.Get(c.Context(), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(a)
}

func (h *apiHandlers) approveFPPA(c *fiber.Ctx) error { return h.fppaTransition(c, h.approvals.Approve) }
func (h *apiHandlers) rejectFPPA(c *fiber.Ctx) error  { return h.fppaTransition(c, h.approvals.Reject) }
func (h *apiHandlers) closeFPPA(c *fiber.Ctx) error   { return h.fppaTransition(c, h.approvals.Close) }

func (h *apiHandlers) fppaTransition(c *fiber.Ctx, fn func(ctx context.Context, id uuid.UUID) (*models.FundsPullPreApproval, error)) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid pre-approval id")
	}
	a, err := fn(c.Context(), id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(a)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, offchain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, offchain.ErrVersionConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflicting update, retry"})
	case errors.Is(err, services.ErrAmountOutOfRange),
		errors.Is(err, services.ErrInvalidAction),
		errors.Is(err, services.ErrInsufficientFunds),
		errors.Is(err, services.ErrNotReviewable),
		errors.Is(err, services.ErrPaymentTerminal),
		errors.Is(err, services.ErrFPPATransition):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
