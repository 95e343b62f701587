package offchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"
)

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestEnvelopeRoundTrip(t *testing.T) {
	pub, priv := testKeyPair(t)

	req := CommandRequestObject{
		ObjectType:  ObjectTypeCommandRequest,
		CID:         "3185027f-0574-6f55-2668-3a38fdb5de98",
		CommandType: CommandPayment,
		Command:     json.RawMessage(`{"_ObjectType":"PaymentCommand"}`),
	}
	signed, err := SignEnvelope(req, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if strings.Count(signed, ".") != 2 {
		t.Fatalf("expected compact three-segment envelope, got %q", signed)
	}

	parsed, err := ParseRequest([]byte(signed), pub)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.CID != req.CID {
		t.Errorf("cid = %q, want %q", parsed.CID, req.CID)
	}
	if parsed.CommandType != CommandPayment {
		t.Errorf("command_type = %q, want %q", parsed.CommandType, CommandPayment)
	}
}

func TestParseRequestWrongKey(t *testing.T) {
	_, priv := testKeyPair(t)
	otherPub, _ := testKeyPair(t)

	req := CommandRequestObject{
		ObjectType:  ObjectTypeCommandRequest,
		CID:         "cid-1",
		CommandType: CommandGetInfo,
		Command:     json.RawMessage(`{}`),
	}
	signed, err := SignEnvelope(req, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := ParseRequest([]byte(signed), otherPub); err == nil {
		t.Fatal("expected verification failure under wrong key")
	}
}

func TestParseRequestTampered(t *testing.T) {
	pub, priv := testKeyPair(t)

	signed, err := SignEnvelope(CommandRequestObject{
		ObjectType:  ObjectTypeCommandRequest,
		CID:         "cid-2",
		CommandType: CommandGetInfo,
		Command:     json.RawMessage(`{}`),
	}, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parts := strings.Split(signed, ".")
	otherSigned, err := SignEnvelope(CommandRequestObject{
		ObjectType:  ObjectTypeCommandRequest,
		CID:         "cid-3",
		CommandType: CommandGetInfo,
		Command:     json.RawMessage(`{}`),
	}, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	otherParts := strings.Split(otherSigned, ".")

	tampered := parts[0] + "." + otherParts[1] + "." + parts[2]
	if _, err := ParseRequest([]byte(tampered), pub); err == nil {
		t.Fatal("expected verification failure for spliced payload")
	}
}

func TestParseRequestRejectsResponseObject(t *testing.T) {
	pub, priv := testKeyPair(t)

	cid := "cid-4"
	signed, err := SignEnvelope(CommandResponseObject{
		ObjectType: ObjectTypeCommandResponse,
		Status:     StatusSuccess,
		CID:        &cid,
	}, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := ParseRequest([]byte(signed), pub); err == nil {
		t.Fatal("expected object type rejection")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	pub, priv := testKeyPair(t)

	cid := "cid-5"
	signed, err := SignEnvelope(CommandResponseObject{
		ObjectType: ObjectTypeCommandResponse,
		Status:     StatusFailure,
		CID:        &cid,
		Error: &OffChainError{
			Type: ErrorTypeCommand,
			Code: CodeInvalidTransition,
		},
	}, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	resp, err := ParseResponse([]byte(signed), pub)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Status != StatusFailure {
		t.Errorf("status = %q, want failure", resp.Status)
	}
	if resp.Error == nil || resp.Error.Code != CodeInvalidTransition {
		t.Errorf("error = %+v, want code %s", resp.Error, CodeInvalidTransition)
	}
}

func TestPeekCID(t *testing.T) {
	_, priv := testKeyPair(t)

	signed, err := SignEnvelope(CommandRequestObject{
		ObjectType:  ObjectTypeCommandRequest,
		CID:         "peeked-cid",
		CommandType: CommandGetInfo,
		Command:     json.RawMessage(`{}`),
	}, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cid := PeekCID([]byte(signed))
	if cid == nil || *cid != "peeked-cid" {
		t.Fatalf("PeekCID = %v, want peeked-cid", cid)
	}

	if cid := PeekCID([]byte("not.an.envelope")); cid != nil {
		t.Fatalf("PeekCID on garbage = %v, want nil", cid)
	}
}
