package chain

import (
	"crypto/ed25519"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"
)

// Signer builds and signs on-chain transactions with the wallet's key.
type Signer struct {
	key     ed25519.PrivateKey
	address AccountAddress
	chainID uint8
}

const (
	defaultMaxGasAmount = 1_000_000
	defaultGasUnitPrice = 0

	// rawTransactionSaltPrefix domain-separates the transaction signing hash.
	rawTransactionSaltPrefix = "DIEM::RawTransaction"

	payloadVariantScriptFunction = 3
	typeTagVariantStruct         = 7
	authenticatorVariantEd25519  = 0

	paymentModuleName   = "PaymentScripts"
	paymentFunctionName = "peer_to_peer_with_metadata"
)

// frameworkAddress is the 0x1 account hosting the payment script module.
var frameworkAddress = AccountAddress{15: 0x01}

func NewSigner(key ed25519.PrivateKey, address AccountAddress, chainID uint8) *Signer {
	return &Signer{key: key, address: address, chainID: chainID}
}

func (s *Signer) Address() AccountAddress {
	return s.address
}

// PeerToPeerParams describes one peer_to_peer_with_metadata call.
type PeerToPeerParams struct {
	Sequence          uint64
	Currency          string
	Payee             AccountAddress
	Amount            uint64
	Metadata          []byte
	MetadataSignature []byte
	GasCurrency       string
	Expiration        time.Time
}

// SignPeerToPeer serializes, signs, and hex-encodes a
// peer_to_peer_with_metadata transaction ready for submit.
func (s *Signer) SignPeerToPeer(p PeerToPeerParams) string {
	raw := s.serializeRaw(p)

	prefix := sha3.Sum256([]byte(rawTransactionSaltPrefix))
	message := append(prefix[:], raw...)
	sig := ed25519.Sign(s.key, message)

	// SignedTransaction = RawTransaction + ed25519 authenticator.
	w := newBCSWriter()
	w.writeFixedBytes(raw)
	w.writeUleb128(authenticatorVariantEd25519)
	w.writeBytes(s.key.Public().(ed25519.PublicKey))
	w.writeBytes(sig)

	return hex.EncodeToString(w.bytes())
}

func (s *Signer) serializeRaw(p PeerToPeerParams) []byte {
	w := newBCSWriter()
	w.writeFixedBytes(s.address[:])
	w.writeU64(p.Sequence)

	// Payload: script function 0x1::PaymentScripts::peer_to_peer_with_metadata.
	w.writeUleb128(payloadVariantScriptFunction)
	w.writeFixedBytes(frameworkAddress[:])
	w.writeString(paymentModuleName)
	w.writeString(paymentFunctionName)

	// One type argument: the currency struct tag 0x1::Currency::Currency.
	w.writeUleb128(1)
	w.writeUleb128(typeTagVariantStruct)
	w.writeFixedBytes(frameworkAddress[:])
	w.writeString(p.Currency)
	w.writeString(p.Currency)
	w.writeUleb128(0) // no type params

	// Arguments, each BCS-encoded then length-prefixed.
	w.writeUleb128(4)
	w.writeBytes(p.Payee[:])
	amountArg := newBCSWriter()
	amountArg.writeU64(p.Amount)
	w.writeBytes(amountArg.bytes())
	metadataArg := newBCSWriter()
	metadataArg.writeBytes(p.Metadata)
	w.writeBytes(metadataArg.bytes())
	sigArg := newBCSWriter()
	sigArg.writeBytes(p.MetadataSignature)
	w.writeBytes(sigArg.bytes())

	w.writeU64(defaultMaxGasAmount)
	w.writeU64(defaultGasUnitPrice)
	w.writeString(p.GasCurrency)
	w.writeU64(uint64(p.Expiration.Unix()))
	w.writeU8(s.chainID)
	return w.bytes()
}
