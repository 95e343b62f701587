package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/config"
	"github.com/diem-vasp/wallet-backend/internal/db"
	"github.com/diem-vasp/wallet-backend/internal/events"
	"github.com/diem-vasp/wallet-backend/internal/kyc"
	"github.com/diem-vasp/wallet-backend/internal/peer"
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

	complianceKey, err := chain.PrivateKeyFromHex(cfg.CompliancePrivateKey)
	if err != nil {
		log.Fatal("invalid COMPLIANCE_PRIVATE_KEY", zap.Error(err))
	}
	walletKey, err := chain.PrivateKeyFromHex(cfg.WalletPrivateKey)
	if err != nil {
		log.Fatal("invalid WALLET_PRIVATE_KEY", zap.Error(err))
	}
	myAccount, err := chain.AccountAddressFromHex(cfg.VASPAddress)
	if err != nil {
		log.Fatal("invalid VASP_ADDRESS", zap.Error(err))
	}
	myAddress, err := chain.EncodeAddress(cfg.HRP, myAccount, nil)
	if err != nil {
		log.Fatal("cannot encode own address", zap.Error(err))
	}

	paymentRepo := repositories.NewPaymentRepository(pool)
	fppaRepo := repositories.NewFPPARepository(pool)
	txnRepo := repositories.NewTransactionRepository(pool)

	publisher := events.NewRedisPublisher(rdb, log)

	chainClient := chain.NewClient(cfg.JSONRPCURL, cfg.PeerTimeout, log)
	discovery := peer.NewChainDiscovery(chainClient, rdb, log)
	peerClient := peer.NewClient(complianceKey, myAddress, cfg.PeerTimeout, log)

	signer := chain.NewSigner(walletKey, myAccount, uint8(cfg.ChainID))
	settlement := services.NewSettlementService(services.SettlementConfig{
		Payments:    paymentRepo,
		Mirror:      txnRepo,
		Chain:       chainClient,
		Signer:      signer,
		Publisher:   publisher,
		HRP:         cfg.HRP,
		GasCurrency: cfg.GasCurrencyCode,
		Logger:      log,
	})

	worker := services.NewWorker(services.WorkerConfig{
		Payments:      paymentRepo,
		Approvals:     fppaRepo,
		Discovery:     discovery,
		Peers:         peerClient,
		Settlement:    settlement,
		Checker:       kyc.AcceptAll{},
		Provider:      kyc.StaticProvider{Data: ownKycData()},
		Publisher:     publisher,
		ComplianceKey: complianceKey,
		HRP:           cfg.HRP,
		BatchSize:     cfg.BatchSize,
		Logger:        log,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	log.Info("worker started", zap.Duration("tick", cfg.WorkerTick))
	worker.Run(ctx, cfg.WorkerTick)
}

// ownKycData is the payload sent to counterparties during the kyc exchange.
// Operators override it via OWN_KYC_DATA.
func ownKycData() json.RawMessage {
	if v := os.Getenv("OWN_KYC_DATA"); v != "" {
		return json.RawMessage(v)
	}
	return json.RawMessage(`{"payload_version":1,"type":"entity","given_name":"","surname":""}`)
}
