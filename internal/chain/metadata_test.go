package chain

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"testing"
)

func TestGeneralMetadataRoundTrip(t *testing.T) {
	to, _ := SubAddressFromHex("cf64428bdeb62af2")
	from, _ := SubAddressFromHex("1122334455667788")
	event := uint64(42)

	tests := []struct {
		name string
		meta GeneralMetadata
	}{
		{"both subaddresses", GeneralMetadata{ToSubAddress: &to, FromSubAddress: &from}},
		{"to only", GeneralMetadata{ToSubAddress: &to}},
		{"from only", GeneralMetadata{FromSubAddress: &from}},
		{"with referenced event", GeneralMetadata{ToSubAddress: &to, ReferencedEvent: &event}},
		{"empty", GeneralMetadata{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeGeneralMetadata(tt.meta)
			decoded, err := DecodeMetadata(encoded)
			if err != nil {
				t.Fatalf("DecodeMetadata: %v", err)
			}
			if decoded.General == nil {
				t.Fatal("decoded metadata is not general")
			}
			got := decoded.General
			if !subEqual(got.ToSubAddress, tt.meta.ToSubAddress) {
				t.Errorf("to_subaddress mismatch: %v != %v", got.ToSubAddress, tt.meta.ToSubAddress)
			}
			if !subEqual(got.FromSubAddress, tt.meta.FromSubAddress) {
				t.Errorf("from_subaddress mismatch: %v != %v", got.FromSubAddress, tt.meta.FromSubAddress)
			}
			if (got.ReferencedEvent == nil) != (tt.meta.ReferencedEvent == nil) {
				t.Errorf("referenced_event presence mismatch")
			} else if got.ReferencedEvent != nil && *got.ReferencedEvent != *tt.meta.ReferencedEvent {
				t.Errorf("referenced_event = %d, want %d", *got.ReferencedEvent, *tt.meta.ReferencedEvent)
			}
		})
	}
}

func TestTravelRuleMetadataRoundTrip(t *testing.T) {
	refID := "4185027f-0574-6f55-2668-3a38fdb5de98"
	encoded := EncodeTravelRuleMetadata(refID)

	decoded, err := DecodeMetadata(encoded)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if decoded.TravelRule == nil {
		t.Fatal("decoded metadata is not travel rule")
	}
	if *decoded.TravelRule != refID {
		t.Errorf("reference id = %q, want %q", *decoded.TravelRule, refID)
	}
}

func TestDecodeMetadataUnknownVariant(t *testing.T) {
	if _, err := DecodeMetadata([]byte{0x09, 0x00}); !errors.Is(err, ErrUnknownMetadata) {
		t.Errorf("expected ErrUnknownMetadata, got %v", err)
	}
	if _, err := DecodeMetadata(nil); !errors.Is(err, ErrUnknownMetadata) {
		t.Errorf("empty metadata: expected ErrUnknownMetadata, got %v", err)
	}
}

func TestAttestationMessageLayout(t *testing.T) {
	sender := testAccount(t)
	metadata := EncodeTravelRuleMetadata("ref-1")
	amount := uint64(2_000_000_000)

	msg := AttestationMessage(metadata, sender, amount)

	if !bytes.HasPrefix(msg, metadata) {
		t.Error("message must start with the metadata bytes")
	}
	if !bytes.HasSuffix(msg, []byte(AttestationSalt)) {
		t.Error("message must end with the attestation salt")
	}

	// sender address then little-endian amount sit between metadata and salt
	mid := msg[len(metadata) : len(msg)-len(AttestationSalt)]
	if len(mid) != AccountAddressLength+8 {
		t.Fatalf("middle section is %d bytes, want %d", len(mid), AccountAddressLength+8)
	}
	if !bytes.Equal(mid[:AccountAddressLength], sender[:]) {
		t.Error("sender address not embedded raw")
	}
	if binary.LittleEndian.Uint64(mid[AccountAddressLength:]) != amount {
		t.Error("amount not little-endian encoded")
	}
}

func TestSignAndVerifyAttestation(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sender := testAccount(t)
	metadata := EncodeTravelRuleMetadata("ref-2")
	amount := uint64(75_000_000)

	sigHex := SignAttestation(priv, metadata, sender, amount)
	if err := VerifyAttestation(pub, metadata, sender, amount, sigHex); err != nil {
		t.Errorf("valid attestation rejected: %v", err)
	}

	if err := VerifyAttestation(pub, metadata, sender, amount+1, sigHex); err == nil {
		t.Error("attestation over a different amount must not verify")
	}

	otherPub, _, _ := ed25519.GenerateKey(nil)
	if err := VerifyAttestation(otherPub, metadata, sender, amount, sigHex); err == nil {
		t.Error("attestation must not verify under a different key")
	}

	if err := VerifyAttestation(pub, metadata, sender, amount, "zzzz"); err == nil {
		t.Error("garbage signature hex must be rejected")
	}
	if err := VerifyAttestation(pub, metadata, sender, amount, "aabb"); err == nil {
		t.Error("short signature must be rejected")
	}
}

func subEqual(a, b *SubAddress) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}
