package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/cache"
	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/config"
	"github.com/diem-vasp/wallet-backend/internal/db"
	"github.com/diem-vasp/wallet-backend/internal/events"
	"github.com/diem-vasp/wallet-backend/internal/offchain"
	"github.com/diem-vasp/wallet-backend/internal/peer"
	"github.com/diem-vasp/wallet-backend/internal/repositories"
	"github.com/diem-vasp/wallet-backend/internal/server"
	"github.com/diem-vasp/wallet-backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	complianceKey, err := chain.PrivateKeyFromHex(cfg.CompliancePrivateKey)
	if err != nil {
		log.Fatal("invalid COMPLIANCE_PRIVATE_KEY", zap.Error(err))
	}
	myAccount, err := chain.AccountAddressFromHex(cfg.VASPAddress)
	if err != nil {
		log.Fatal("invalid VASP_ADDRESS", zap.Error(err))
	}

	// Repositories
	paymentRepo := repositories.NewPaymentRepository(pool)
	fppaRepo := repositories.NewFPPARepository(pool)
	accountRepo := repositories.NewAccountRepository(pool)
	subaddrRepo := repositories.NewSubaddressRepository(pool)
	txnRepo := repositories.NewTransactionRepository(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Chain and peer discovery
	chainClient := chain.NewClient(cfg.JSONRPCURL, cfg.PeerTimeout, log)
	discovery := peer.NewChainDiscovery(chainClient, rdb, log)
	replay := cache.NewRedisReplayCache(rdb, cfg.ReplayWindow)

	dispatcher := offchain.NewDispatcher(offchain.DispatcherConfig{
		Payments:      paymentRepo,
		Approvals:     fppaRepo,
		Discovery:     discovery,
		Replay:        replay,
		Publisher:     publisher,
		ComplianceKey: complianceKey,
		MyAccount:     myAccount,
		HRP:           cfg.HRP,
		MaxAmount:     cfg.MaxPaymentAmount,
		Logger:        log,
	})

	paymentService := services.NewPaymentService(services.PaymentServiceConfig{
		Payments:      paymentRepo,
		Subaddresses:  subaddrRepo,
		Publisher:     publisher,
		ComplianceKey: complianceKey,
		MyAccount:     myAccount,
		HRP:           cfg.HRP,
		MaxAmount:     cfg.MaxPaymentAmount,
		DefaultExpiry: cfg.PaymentExpiration,
		Logger:        log,
	})
	accountService := services.NewAccountService(accountRepo, subaddrRepo, txnRepo, myAccount, cfg.HRP, log)
	fppaService := services.NewFPPAService(fppaRepo, publisher, myAccount, cfg.HRP, log)

	hub := server.NewHub(subscriber, log)
	hub.Start(ctx)

	offchainApp := server.NewOffchainApp(dispatcher, rdb, log)
	apiApp := server.NewAPIApp(server.APIConfig{
		Payments:  paymentService,
		Accounts:  accountService,
		Approvals: fppaService,
		Hub:       hub,
		Redis:     rdb,
		Logger:    log,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = offchainApp.Shutdown()
		_ = apiApp.Shutdown()
	}()

	errCh := make(chan error, 2)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.OffchainPort)
		log.Info("starting off-chain server", zap.String("addr", addr))
		errCh <- offchainApp.Listen(addr)
	}()
	go func() {
		addr := fmt.Sprintf(":%s", cfg.APIPort)
		log.Info("starting API server", zap.String("addr", addr))
		errCh <- apiApp.Listen(addr)
	}()

	if err := <-errCh; err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
