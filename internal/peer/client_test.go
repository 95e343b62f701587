package peer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func respondSigned(t *testing.T, w http.ResponseWriter, cid string, key ed25519.PrivateKey) {
	t.Helper()
	envelope, err := offchain.SignEnvelope(offchain.CommandResponseObject{
		ObjectType: offchain.ObjectTypeCommandResponse,
		Status:     offchain.StatusSuccess,
		CID:        &cid,
	}, key)
	if err != nil {
		t.Fatalf("sign response: %v", err)
	}
	w.Header().Set("Content-Type", "application/jwt")
	_, _ = w.Write([]byte(envelope))
}

func TestSendCommandVerifiesResponseEnvelope(t *testing.T) {
	peerPub, peerPriv := testKeyPair(t)
	_, compliancePriv := testKeyPair(t)
	client := NewClient(compliancePriv, "tlb1test", time.Second, zap.NewNop())

	cmd := offchain.ReferenceIDCommandObject{ReferenceID: "r1"}

	t.Run("verified response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondSigned(t, w, r.Header.Get("X-REQUEST-ID"), peerPriv)
		}))
		defer srv.Close()

		resp, err := client.SendCommand(context.Background(), srv.URL, peerPub, "cid-1", offchain.CommandAbortPayment, cmd)
		if err != nil {
			t.Fatalf("SendCommand: %v", err)
		}
		if resp.Status != offchain.StatusSuccess {
			t.Errorf("status = %q, want success", resp.Status)
		}
	})

	// A response signed under a key other than the peer's published one
	// must surface as ErrBadResponse, not as a retryable transport error.
	t.Run("response under rotated key", func(t *testing.T) {
		_, rotatedPriv := testKeyPair(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondSigned(t, w, r.Header.Get("X-REQUEST-ID"), rotatedPriv)
		}))
		defer srv.Close()

		_, err := client.SendCommand(context.Background(), srv.URL, peerPub, "cid-2", offchain.CommandAbortPayment, cmd)
		if !errors.Is(err, ErrBadResponse) {
			t.Fatalf("err = %v, want ErrBadResponse", err)
		}
		if errors.Is(err, ErrTransport) {
			t.Fatal("verification failure must not be classified as transport")
		}
	})

	t.Run("unexpected status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := client.SendCommand(context.Background(), srv.URL, peerPub, "cid-3", offchain.CommandAbortPayment, cmd)
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("err = %v, want ErrTransport", err)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()

		_, err := client.SendCommand(context.Background(), srv.URL, peerPub, "cid-4", offchain.CommandAbortPayment, cmd)
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("err = %v, want ErrTransport", err)
		}
	})
}
