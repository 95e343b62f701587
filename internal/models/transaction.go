package models

import (
	"time"

	"github.com/google/uuid"
)

// Chain transaction types.
const (
	TxTypeInternal = "INTERNAL"
	TxTypeExternal = "EXTERNAL"
)

// ChainTransaction mirrors one transfer of the wallet's ledger. EXTERNAL
// rows mirror on-chain history and are authoritative for balances; INTERNAL
// rows move funds between two subaddresses of this wallet without touching
// the chain.
type ChainTransaction struct {
	ID                    uuid.UUID  `json:"id"`
	BlockchainVersion     *uint64    `json:"blockchain_version,omitempty"` // unique, EXTERNAL only
	SequenceNumber        *uint64    `json:"sequence_number,omitempty"`
	SourceAddress         string     `json:"source_address"` // hex account address
	SourceSubaddress      *string    `json:"source_subaddress,omitempty"` // hex, 8 bytes
	DestinationAddress    string     `json:"destination_address"`
	DestinationSubaddress *string    `json:"destination_subaddress,omitempty"`
	Amount                uint64     `json:"amount"`
	Currency              string     `json:"currency"`
	Type                  string     `json:"type"`   // INTERNAL / EXTERNAL
	Status                string     `json:"status"` // TxStatus* vocabulary
	ReferenceID           *uuid.UUID `json:"reference_id,omitempty"` // link to an off-chain payment
	CreatedAt             time.Time  `json:"created_at"`
}

// SubaddressBinding maps an 8-byte subaddress to an internal account.
// Created when a deposit address is generated, never mutated.
type SubaddressBinding struct {
	Subaddress string    `json:"subaddress"` // hex, 8 bytes, unique
	AccountID  uuid.UUID `json:"account_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Account is an internal ledger account. The inventory account owns every
// inbound subaddress nothing else claims.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

const InventoryAccountName = "inventory"

// EventCursor tracks per-stream reconciliation progress.
type EventCursor struct {
	StreamKey    string    `json:"stream_key"`
	LastSequence uint64    `json:"last_sequence"` // next event sequence to read
	LastVersion  uint64    `json:"last_version"`  // highest transaction version seen
	UpdatedAt    time.Time `json:"updated_at"`
}
