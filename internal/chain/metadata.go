package chain

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Transfer metadata embedded in peer-to-peer transactions. Two variants are
// used by the wallet: general metadata carries subaddress routing for
// ordinary deposits, travel-rule metadata links a transfer to an off-chain
// negotiation by reference id.

// Metadata enum variants.
const (
	metadataVariantGeneral    = 1
	metadataVariantTravelRule = 2
)

// AttestationSalt terminates the canonical dual-attestation signing message.
const AttestationSalt = "@@$$DIEM_ATTEST$$@@"

var ErrUnknownMetadata = errors.New("unknown metadata variant")

// GeneralMetadata routes a transfer to subaddresses on either end.
type GeneralMetadata struct {
	ToSubAddress    *SubAddress
	FromSubAddress  *SubAddress
	ReferencedEvent *uint64
}

// EncodeGeneralMetadata serializes a v0 general metadata blob.
func EncodeGeneralMetadata(m GeneralMetadata) []byte {
	w := newBCSWriter()
	w.writeUleb128(metadataVariantGeneral)
	w.writeUleb128(0) // v0
	writeOptionSub(w, m.ToSubAddress)
	writeOptionSub(w, m.FromSubAddress)
	if m.ReferencedEvent != nil {
		w.writeBool(true)
		w.writeU64(*m.ReferencedEvent)
	} else {
		w.writeBool(false)
	}
	return w.bytes()
}

// EncodeTravelRuleMetadata serializes a v0 travel-rule metadata blob
// carrying the off-chain reference id.
func EncodeTravelRuleMetadata(referenceID string) []byte {
	w := newBCSWriter()
	w.writeUleb128(metadataVariantTravelRule)
	w.writeUleb128(0) // v0
	w.writeBool(true)
	w.writeString(referenceID)
	return w.bytes()
}

// DecodedMetadata is the union of the variants the wallet understands.
type DecodedMetadata struct {
	General    *GeneralMetadata
	TravelRule *string // reference id
}

// DecodeMetadata parses a metadata blob. Unknown variants return
// ErrUnknownMetadata; callers treat those transfers as unrouted.
func DecodeMetadata(b []byte) (*DecodedMetadata, error) {
	if len(b) == 0 {
		return nil, ErrUnknownMetadata
	}
	r := newBCSReader(b)
	variant, err := r.readUleb128()
	if err != nil {
		return nil, err
	}
	switch variant {
	case metadataVariantGeneral:
		if _, err := r.readUleb128(); err != nil { // version
			return nil, err
		}
		var gm GeneralMetadata
		if gm.ToSubAddress, err = readOptionSub(r); err != nil {
			return nil, err
		}
		if gm.FromSubAddress, err = readOptionSub(r); err != nil {
			return nil, err
		}
		hasEvent, err := r.readBool()
		if err != nil {
			return nil, err
		}
		if hasEvent {
			ev, err := r.readU64()
			if err != nil {
				return nil, err
			}
			gm.ReferencedEvent = &ev
		}
		return &DecodedMetadata{General: &gm}, nil
	case metadataVariantTravelRule:
		if _, err := r.readUleb128(); err != nil { // version
			return nil, err
		}
		hasRef, err := r.readBool()
		if err != nil {
			return nil, err
		}
		if !hasRef {
			empty := ""
			return &DecodedMetadata{TravelRule: &empty}, nil
		}
		ref, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		s := string(ref)
		return &DecodedMetadata{TravelRule: &s}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMetadata, variant)
}

// DecodeMetadataHex decodes the hex metadata field of a chain transaction.
func DecodeMetadataHex(s string) (*DecodedMetadata, error) {
	if s == "" {
		return nil, ErrUnknownMetadata
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata hex: %w", err)
	}
	return DecodeMetadata(b)
}

// AttestationMessage builds the canonical message the receiver's compliance
// key signs: metadata bytes, the raw 16-byte sender account, the amount as
// a little-endian u64, then the fixed salt.
func AttestationMessage(metadata []byte, sender AccountAddress, amount uint64) []byte {
	msg := make([]byte, 0, len(metadata)+AccountAddressLength+8+len(AttestationSalt))
	msg = append(msg, metadata...)
	msg = append(msg, sender[:]...)
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], amount)
	msg = append(msg, amt[:]...)
	msg = append(msg, []byte(AttestationSalt)...)
	return msg
}

// SignAttestation produces the hex recipient signature for a travel-rule
// transfer.
func SignAttestation(key ed25519.PrivateKey, metadata []byte, sender AccountAddress, amount uint64) string {
	sig := ed25519.Sign(key, AttestationMessage(metadata, sender, amount))
	return hex.EncodeToString(sig)
}

// VerifyAttestation checks a hex recipient signature against the canonical
// attestation message.
func VerifyAttestation(pub ed25519.PublicKey, metadata []byte, sender AccountAddress, amount uint64, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid recipient signature hex: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid recipient signature size: %d", len(sig))
	}
	if !ed25519.Verify(pub, AttestationMessage(metadata, sender, amount), sig) {
		return errors.New("recipient signature does not verify")
	}
	return nil
}

func writeOptionSub(w *bcsWriter, sub *SubAddress) {
	if sub == nil {
		w.writeBool(false)
		return
	}
	w.writeBool(true)
	w.writeBytes(sub[:])
}

func readOptionSub(r *bcsReader) (*SubAddress, error) {
	has, err := r.readBool()
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	b, err := r.readBytes()
	if err != nil {
		return nil, err
	}
	if len(b) != SubAddressLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSubAddress, len(b))
	}
	var sub SubAddress
	copy(sub[:], b)
	return &sub, nil
}
