package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Client speaks the chain's JSON-RPC 2.0 API over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
	nextID     atomic.Int64
}

// ErrTransport marks network-level failures the caller should retry.
var ErrTransport = errors.New("chain transport error")

// RPCError is a typed error returned by the chain.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain rpc error %d: %s", e.Code, e.Message)
}

// ErrTransactionNotFound is returned when an account transaction does not
// exist (yet).
var ErrTransactionNotFound = errors.New("transaction not found")

func NewClient(url string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: chain rpc returned %d: %s", ErrTransport, resp.StatusCode, string(b))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return ErrTransactionNotFound
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// GetAccount fetches the on-chain state of an account; nil when the account
// does not exist.
func (c *Client) GetAccount(ctx context.Context, addr AccountAddress) (*Account, error) {
	var acct Account
	err := c.call(ctx, "get_account", []any{addr.Hex()}, &acct)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetEvents reads limit events from a stream starting at sequence start.
func (c *Client) GetEvents(ctx context.Context, streamKey string, start, limit uint64) ([]Event, error) {
	var events []Event
	err := c.call(ctx, "get_events", []any{streamKey, start, limit}, &events)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return events, nil
}

// GetTransactions reads limit committed transactions starting at version.
func (c *Client) GetTransactions(ctx context.Context, startVersion, limit uint64) ([]Transaction, error) {
	var txns []Transaction
	err := c.call(ctx, "get_transactions", []any{startVersion, limit, false}, &txns)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// GetTransactionByVersion fetches a single committed transaction.
func (c *Client) GetTransactionByVersion(ctx context.Context, version uint64) (*Transaction, error) {
	txns, err := c.GetTransactions(ctx, version, 1)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, ErrTransactionNotFound
	}
	return &txns[0], nil
}

// GetAccountTransaction fetches the transaction an account committed at a
// given sequence number, or ErrTransactionNotFound.
func (c *Client) GetAccountTransaction(ctx context.Context, addr AccountAddress, sequence uint64) (*Transaction, error) {
	var txn Transaction
	err := c.call(ctx, "get_account_transaction", []any{addr.Hex(), sequence, false}, &txn)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// Submit sends a signed transaction blob to the chain.
func (c *Client) Submit(ctx context.Context, signedTxnHex string) error {
	return c.call(ctx, "submit", []any{signedTxnHex}, nil)
}

// GetCurrencies lists the currencies the chain knows.
func (c *Client) GetCurrencies(ctx context.Context) ([]CurrencyInfo, error) {
	var currencies []CurrencyInfo
	if err := c.call(ctx, "get_currencies", []any{}, &currencies); err != nil {
		return nil, err
	}
	return currencies, nil
}

// WaitForTransaction polls until the account's transaction at the given
// sequence number is committed, or the timeout passes.
func (c *Client) WaitForTransaction(ctx context.Context, addr AccountAddress, sequence uint64, timeout time.Duration) (*Transaction, error) {
	deadline := time.Now().Add(timeout)
	for {
		txn, err := c.GetAccountTransaction(ctx, addr, sequence)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: not committed after %s", ErrTransactionNotFound, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
