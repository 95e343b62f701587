package offchain

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Every off-chain message travels as a compact JWS: three dot-separated
// unpadded base64url segments, EdDSA signature over the ASCII
// "<protected>.<payload>" prefix. The request and response objects are the
// token claims.

// ErrInvalidSignature marks an envelope that failed verification under the
// peer's declared compliance key.
var ErrInvalidSignature = errors.New("invalid envelope signature")

var envelopeMethods = []string{jwt.SigningMethodEdDSA.Alg()}

// SignEnvelope serializes and signs a request or response object with the
// wallet's compliance key.
func SignEnvelope(obj jwt.Claims, key ed25519.PrivateKey) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, obj).SignedString(key)
}

// ParseRequest verifies an inbound envelope against the peer's compliance
// key and decodes the request object.
func ParseRequest(raw []byte, peerKey ed25519.PublicKey) (*CommandRequestObject, error) {
	var req CommandRequestObject
	if _, err := jwt.ParseWithClaims(string(raw), &req, func(*jwt.Token) (any, error) {
		return peerKey, nil
	}, jwt.WithValidMethods(envelopeMethods)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if req.ObjectType != ObjectTypeCommandRequest {
		return nil, fmt.Errorf("%w: unexpected object type %q", ErrInvalidSignature, req.ObjectType)
	}
	return &req, nil
}

// ParseResponse verifies a peer's response envelope and decodes it.
func ParseResponse(raw []byte, peerKey ed25519.PublicKey) (*CommandResponseObject, error) {
	var resp CommandResponseObject
	if _, err := jwt.ParseWithClaims(string(raw), &resp, func(*jwt.Token) (any, error) {
		return peerKey, nil
	}, jwt.WithValidMethods(envelopeMethods)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if resp.ObjectType != ObjectTypeCommandResponse {
		return nil, fmt.Errorf("%w: unexpected object type %q", ErrInvalidSignature, resp.ObjectType)
	}
	return &resp, nil
}

// PeekCID extracts the cid from an envelope without verifying it, so a
// failure response can still echo the peer's correlation id. Returns nil
// when the payload cannot be decoded.
func PeekCID(raw []byte) *string {
	var req CommandRequestObject
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(string(raw), &req); err != nil {
		return nil
	}
	if req.CID == "" {
		return nil
	}
	cid := req.CID
	return &cid
}
