package peer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

// CommandPath is where every counterparty accepts signed envelopes.
const CommandPath = "/offchain/v2/command"

const (
	headerRequestID     = "X-REQUEST-ID"
	headerSenderAddress = "X-REQUEST-SENDER-ADDRESS"

	envelopeContentType = "application/jwt"
)

// ErrTransport marks deliveries that never produced a response at all.
// The caller leaves its local state untouched and retries on a later tick.
var ErrTransport = errors.New("peer transport error")

// ErrBadResponse marks a response whose envelope did not verify under the
// peer's published compliance key. The caller should drop its cached
// discovery entry: the peer may have rotated keys on chain.
var ErrBadResponse = errors.New("peer response verification failed")

// Client delivers signed command envelopes to counterparty VASPs.
type Client struct {
	httpClient    *http.Client
	complianceKey ed25519.PrivateKey
	myAddress     string // bech32, sent as the sender-address header
	log           *zap.Logger
}

func NewClient(complianceKey ed25519.PrivateKey, myAddress string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		complianceKey: complianceKey,
		myAddress:     myAddress,
		log:           log,
	}
}

// SendCommand signs and delivers one command, then verifies the peer's
// response envelope under peerKey. A non-200/400 status or a connection
// failure maps to ErrTransport; a response that fails envelope
// verification maps to ErrBadResponse.
func (c *Client) SendCommand(ctx context.Context, baseURL string, peerKey ed25519.PublicKey, cid string, commandType offchain.CommandType, command any) (*offchain.CommandResponseObject, error) {
	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	envelope, err := offchain.SignEnvelope(offchain.CommandRequestObject{
		ObjectType:  offchain.ObjectTypeCommandRequest,
		CID:         cid,
		CommandType: commandType,
		Command:     body,
	}, c.complianceKey)
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+CommandPath, bytes.NewReader([]byte(envelope)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", envelopeContentType)
	req.Header.Set(headerRequestID, cid)
	req.Header.Set(headerSenderAddress, c.myAddress)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		c.log.Warn("peer returned unexpected status",
			zap.String("base_url", baseURL),
			zap.String("cid", cid),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: peer returned %d", ErrTransport, resp.StatusCode)
	}

	parsed, err := offchain.ParseResponse(respBody, peerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return parsed, nil
}
