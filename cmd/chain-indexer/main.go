package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/config"
	"github.com/diem-vasp/wallet-backend/internal/db"
	"github.com/diem-vasp/wallet-backend/internal/events"
	"github.com/diem-vasp/wallet-backend/internal/repositories"
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

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	myAccount, err := chain.AccountAddressFromHex(cfg.VASPAddress)
	if err != nil {
		log.Fatal("invalid VASP_ADDRESS", zap.Error(err))
	}

	paymentRepo := repositories.NewPaymentRepository(pool)
	txnRepo := repositories.NewTransactionRepository(pool)
	cursorRepo := repositories.NewCursorRepository(pool)
	subaddrRepo := repositories.NewSubaddressRepository(pool)
	accountRepo := repositories.NewAccountRepository(pool)

	publisher := events.NewRedisPublisher(rdb, log)
	chainClient := chain.NewClient(cfg.JSONRPCURL, cfg.PeerTimeout, log)

	reconciler := services.NewReconciler(services.ReconcilerConfig{
		Chain:     chainClient,
		Mirror:    txnRepo,
		Cursors:   cursorRepo,
		Subaddrs:  subaddrRepo,
		Accounts:  accountRepo,
		Payments:  paymentRepo,
		Publisher: publisher,
		MyAccount: myAccount,
		BatchSize: uint64(cfg.BatchSize),
		Logger:    log,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	log.Info("chain indexer started", zap.Duration("interval", cfg.SyncInterval))
	reconciler.Run(ctx, cfg.SyncInterval)
}
