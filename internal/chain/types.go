package chain

// JSON views returned by the chain's JSON-RPC API. Only the fields the
// wallet consumes are mapped.

type Amount struct {
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
}

type AccountRole struct {
	Type string `json:"type"` // parent_vasp / child_vasp / ...

	// Dual attestation info published by VASP accounts.
	ComplianceKey     string `json:"compliance_key"` // hex ed25519
	BaseURL           string `json:"base_url"`
	ParentVASPAddress string `json:"parent_vasp_address,omitempty"`
}

type Account struct {
	Address           string      `json:"address"`
	Balances          []Amount    `json:"balances"`
	SequenceNumber    uint64      `json:"sequence_number"`
	SentEventsKey     string      `json:"sent_events_key"`
	ReceivedEventsKey string      `json:"received_events_key"`
	Role              AccountRole `json:"role"`
}

// Balance returns the account's balance in the given currency, zero when the
// account holds none of it.
func (a *Account) Balance(currency string) uint64 {
	for _, b := range a.Balances {
		if b.Currency == currency {
			return b.Amount
		}
	}
	return 0
}

const (
	EventTypeSentPayment     = "sentpayment"
	EventTypeReceivedPayment = "receivedpayment"
)

type EventData struct {
	Type     string `json:"type"`
	Amount   Amount `json:"amount"`
	Sender   string `json:"sender"`   // hex account address
	Receiver string `json:"receiver"` // hex account address
	Metadata string `json:"metadata"` // hex
}

type Event struct {
	Key                string    `json:"key"`
	SequenceNumber     uint64    `json:"sequence_number"`
	TransactionVersion uint64    `json:"transaction_version"`
	Data               EventData `json:"data"`
}

const ScriptTypePeerToPeerWithMetadata = "peer_to_peer_with_metadata"

type Script struct {
	Type              string `json:"type"`
	Receiver          string `json:"receiver"` // hex account address
	Amount            uint64 `json:"amount"`
	Currency          string `json:"currency"`
	Metadata          string `json:"metadata"`           // hex
	MetadataSignature string `json:"metadata_signature"` // hex
}

type TransactionData struct {
	Type           string `json:"type"` // user / blockmetadata / ...
	Sender         string `json:"sender"`
	SequenceNumber uint64 `json:"sequence_number"`
	Script         Script `json:"script"`
}

type VMStatus struct {
	Type string `json:"type"` // executed / out_of_gas / move_abort / ...
}

const VMStatusExecuted = "executed"

type Transaction struct {
	Version     uint64          `json:"version"`
	Hash        string          `json:"hash"`
	VMStatus    VMStatus        `json:"vm_status"`
	Transaction TransactionData `json:"transaction"`
}

// Executed reports whether the transaction was included and succeeded.
func (t *Transaction) Executed() bool {
	return t.VMStatus.Type == VMStatusExecuted
}

type CurrencyInfo struct {
	Code             string `json:"code"`
	FractionalPart   uint64 `json:"fractional_part"`
	ScalingFactor    uint64 `json:"scaling_factor"`
	MintEventsKey    string `json:"mint_events_key,omitempty"`
	BurnEventsKey    string `json:"burn_events_key,omitempty"`
}
