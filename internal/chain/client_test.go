package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (any, *RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetAccount(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (any, *RPCError) {
		if method != "get_account" {
			t.Errorf("method = %q, want get_account", method)
		}
		return Account{
			Address:           "f72589b71ff4f8d139674a3f7369c69b",
			SequenceNumber:    7,
			SentEventsKey:     "sent-key",
			ReceivedEventsKey: "recv-key",
			Balances:          []Amount{{Amount: 1000, Currency: "XUS"}},
			Role: AccountRole{
				Type:          "parent_vasp",
				BaseURL:       "https://peer.example.com",
				ComplianceKey: "aa",
			},
		}, nil
	})
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	acct, err := c.GetAccount(context.Background(), testAccount(t))
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.SequenceNumber != 7 {
		t.Errorf("sequence = %d, want 7", acct.SequenceNumber)
	}
	if acct.Balance("XUS") != 1000 {
		t.Errorf("XUS balance = %d, want 1000", acct.Balance("XUS"))
	}
	if acct.Balance("XDX") != 0 {
		t.Errorf("missing currency balance should be 0")
	}
	if acct.Role.BaseURL != "https://peer.example.com" {
		t.Errorf("base url = %q", acct.Role.BaseURL)
	}
}

func TestGetAccountMissing(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (any, *RPCError) {
		return nil, nil
	})
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	acct, err := c.GetAccount(context.Background(), testAccount(t))
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct != nil {
		t.Error("missing account should be nil")
	}
}

func TestSubmitRPCError(t *testing.T) {
	srv := rpcServer(t, func(method string, _ []json.RawMessage) (any, *RPCError) {
		return nil, &RPCError{Code: -32001, Message: "SEQUENCE_NUMBER_TOO_OLD"}
	})
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	err := c.Submit(context.Background(), "00ff")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != -32001 {
		t.Errorf("code = %d, want -32001", rpcErr.Code)
	}
}

func TestTransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 500*time.Millisecond, zap.NewNop())
	err := c.Submit(context.Background(), "00")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestGetEvents(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (any, *RPCError) {
		if method != "get_events" {
			t.Errorf("method = %q, want get_events", method)
		}
		return []Event{
			{Key: "recv-key", SequenceNumber: 0, TransactionVersion: 2, Data: EventData{
				Type:   EventTypeReceivedPayment,
				Amount: Amount{Amount: 75, Currency: "XUS"},
			}},
		}, nil
	})
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	events, err := c.GetEvents(context.Background(), "recv-key", 0, 10)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].TransactionVersion != 2 {
		t.Errorf("unexpected events: %+v", events)
	}
}
