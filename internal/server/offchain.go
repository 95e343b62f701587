package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/middleware"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
	"github.com/diem-vasp/wallet-backend/internal/peer"
)

const (
	offchainRateLimit  = 120
	offchainRateWindow = time.Minute
)

// NewOffchainApp serves the counterparty-facing command endpoint. Responses
// are signed envelopes regardless of outcome, so the peer can always verify
// what it got.
func NewOffchainApp(dispatcher *offchain.Dispatcher, redisClient *redis.Client, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             1 << 20,
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(middleware.RateLimit(redisClient, offchainRateLimit, offchainRateWindow))

	app.Post(peer.CommandPath, func(c *fiber.Ctx) error {
		sender := c.Get("X-REQUEST-SENDER-ADDRESS")
		if sender == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing X-REQUEST-SENDER-ADDRESS header",
			})
		}

		status, body := dispatcher.Process(c.Context(), sender, c.Body())
		c.Set(fiber.HeaderContentType, "application/jwt")
		return c.Status(status).Send(body)
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app
}
