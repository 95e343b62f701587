package chain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	// AccountAddressLength is the on-chain account address size.
	AccountAddressLength = 16
	// SubAddressLength is the subaddress tag size.
	SubAddressLength = 8

	// bech32AddressVersion is the single version value prepended to the
	// 5-bit payload.
	bech32AddressVersion = 1
)

// Human-readable prefixes.
const (
	HRPTestnet = "tlb"
	HRPMainnet = "lbr"
)

var (
	ErrInvalidAccountAddress = errors.New("invalid account address")
	ErrInvalidSubAddress     = errors.New("invalid subaddress")
	ErrHRPMismatch           = errors.New("address hrp does not match network")
)

type AccountAddress [AccountAddressLength]byte

func AccountAddressFromHex(s string) (AccountAddress, error) {
	var addr AccountAddress
	b, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("%w: %v", ErrInvalidAccountAddress, err)
	}
	if len(b) != AccountAddressLength {
		return addr, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidAccountAddress, len(b), AccountAddressLength)
	}
	copy(addr[:], b)
	return addr, nil
}

func (a AccountAddress) Hex() string {
	return hex.EncodeToString(a[:])
}

type SubAddress [SubAddressLength]byte

func SubAddressFromHex(s string) (SubAddress, error) {
	var sub SubAddress
	b, err := hex.DecodeString(s)
	if err != nil {
		return sub, fmt.Errorf("%w: %v", ErrInvalidSubAddress, err)
	}
	if len(b) != SubAddressLength {
		return sub, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSubAddress, len(b), SubAddressLength)
	}
	copy(sub[:], b)
	return sub, nil
}

// RandomSubAddress draws a fresh 8-byte subaddress.
func RandomSubAddress() (SubAddress, error) {
	var sub SubAddress
	if _, err := rand.Read(sub[:]); err != nil {
		return sub, err
	}
	return sub, nil
}

func (s SubAddress) Hex() string {
	return hex.EncodeToString(s[:])
}

// EncodeAddress renders an account address, with an optional subaddress,
// as a bech32 string under the given hrp. The payload is the version value
// followed by the 8-to-5-bit converted 16 or 24 byte body.
func EncodeAddress(hrp string, account AccountAddress, sub *SubAddress) (string, error) {
	body := make([]byte, 0, AccountAddressLength+SubAddressLength)
	body = append(body, account[:]...)
	if sub != nil {
		body = append(body, sub[:]...)
	}

	converted, err := bech32.ConvertBits(body, 8, 5, true)
	if err != nil {
		return "", err
	}

	data := make([]byte, 0, len(converted)+1)
	data = append(data, bech32AddressVersion)
	data = append(data, converted...)

	return bech32.Encode(hrp, data)
}

// DecodeAddress parses a bech32 wallet address, enforcing the expected hrp,
// and returns the account address plus the subaddress when one is present.
func DecodeAddress(expectedHRP, addr string) (AccountAddress, *SubAddress, error) {
	var account AccountAddress

	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return account, nil, fmt.Errorf("%w: %v", ErrInvalidAccountAddress, err)
	}
	if hrp != expectedHRP {
		return account, nil, fmt.Errorf("%w: got %q, want %q", ErrHRPMismatch, hrp, expectedHRP)
	}
	if len(data) < 1 || data[0] != bech32AddressVersion {
		return account, nil, fmt.Errorf("%w: unsupported address version", ErrInvalidAccountAddress)
	}

	body, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return account, nil, fmt.Errorf("%w: %v", ErrInvalidAccountAddress, err)
	}

	switch len(body) {
	case AccountAddressLength:
		copy(account[:], body)
		return account, nil, nil
	case AccountAddressLength + SubAddressLength:
		copy(account[:], body[:AccountAddressLength])
		var sub SubAddress
		copy(sub[:], body[AccountAddressLength:])
		return account, &sub, nil
	}
	return account, nil, fmt.Errorf("%w: payload is %d bytes", ErrInvalidAccountAddress, len(body))
}
