package peer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/chain"
)

const (
	discoveryKeyPrefix = "peer:dual-attestation:"
	discoveryTTL       = time.Hour
)

// ErrPeerNotFound marks accounts with no published dual-attestation info.
var ErrPeerNotFound = errors.New("peer has no dual attestation info on chain")

type discoveryEntry struct {
	BaseURL          string `json:"base_url"`
	ComplianceKeyHex string `json:"compliance_key"`
}

// ChainDiscovery resolves counterparty endpoints from the dual-attestation
// fields VASP accounts publish on chain, with a redis cache in front. It
// implements offchain.Discovery.
type ChainDiscovery struct {
	chain *chain.Client
	redis *redis.Client
	log   *zap.Logger
}

func NewChainDiscovery(chainClient *chain.Client, redisClient *redis.Client, log *zap.Logger) *ChainDiscovery {
	return &ChainDiscovery{chain: chainClient, redis: redisClient, log: log}
}

func (d *ChainDiscovery) Lookup(ctx context.Context, account chain.AccountAddress) (string, ed25519.PublicKey, error) {
	cacheKey := discoveryKeyPrefix + account.Hex()

	if raw, err := d.redis.Get(ctx, cacheKey).Result(); err == nil {
		var entry discoveryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err == nil {
			key, err := chain.PublicKeyFromHex(entry.ComplianceKeyHex)
			if err == nil {
				return entry.BaseURL, key, nil
			}
		}
		// Unreadable cache entry, fall through to the chain.
		d.redis.Del(ctx, cacheKey)
	}

	acct, err := d.chain.GetAccount(ctx, account)
	if err != nil {
		return "", nil, fmt.Errorf("discover peer %s: %w", account.Hex(), err)
	}
	if acct == nil || acct.Role.ComplianceKey == "" || acct.Role.BaseURL == "" {
		return "", nil, fmt.Errorf("%w: %s", ErrPeerNotFound, account.Hex())
	}

	key, err := chain.PublicKeyFromHex(acct.Role.ComplianceKey)
	if err != nil {
		return "", nil, fmt.Errorf("peer %s published a bad compliance key: %w", account.Hex(), err)
	}

	entry := discoveryEntry{
		BaseURL:          acct.Role.BaseURL,
		ComplianceKeyHex: hex.EncodeToString(key),
	}
	if raw, err := json.Marshal(entry); err == nil {
		if err := d.redis.Set(ctx, cacheKey, raw, discoveryTTL).Err(); err != nil {
			d.log.Warn("failed to cache peer discovery entry",
				zap.String("account", account.Hex()),
				zap.Error(err),
			)
		}
	}
	return entry.BaseURL, key, nil
}

// Invalidate drops a cached entry, forcing the next lookup to re-read the
// chain. Called after an envelope signature failure so key rotations heal.
func (d *ChainDiscovery) Invalidate(ctx context.Context, account chain.AccountAddress) error {
	return d.redis.Del(ctx, discoveryKeyPrefix+account.Hex()).Err()
}
