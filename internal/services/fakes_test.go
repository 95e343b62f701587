package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/diem-vasp/wallet-backend/internal/chain"
	"github.com/diem-vasp/wallet-backend/internal/models"
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

type memPaymentStore struct {
	payments map[uuid.UUID]*models.Payment
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{payments: make(map[uuid.UUID]*models.Payment)}
}

func (s *memPaymentStore) GetPayment(_ context.Context, refID uuid.UUID) (*models.Payment, error) {
	p, ok := s.payments[refID]
	if !ok {
		return nil, offchain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *memPaymentStore) CreatePayment(_ context.Context, p *models.Payment) error {
	clone := *p
	s.payments[p.ReferenceID] = &clone
	return nil
}

func (s *memPaymentStore) UpdatePayment(_ context.Context, p *models.Payment) error {
	stored, ok := s.payments[p.ReferenceID]
	if !ok {
		return offchain.ErrNotFound
	}
	if stored.Version != p.Version {
		return offchain.ErrVersionConflict
	}
	clone := *p
	clone.Version++
	s.payments[p.ReferenceID] = &clone
	p.Version++
	return nil
}

func (s *memPaymentStore) ListByTransactionStatus(_ context.Context, statuses []string, limit int) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, p := range s.payments {
		for _, st := range statuses {
			if p.TransactionStatus == st {
				clone := *p
				out = append(out, &clone)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memPaymentStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, p := range s.payments {
		if p.Expired(now) {
			clone := *p
			out = append(out, &clone)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memFPPAStore struct {
	approvals map[uuid.UUID]*models.FundsPullPreApproval
}

func newMemFPPAStore() *memFPPAStore {
	return &memFPPAStore{approvals: make(map[uuid.UUID]*models.FundsPullPreApproval)}
}

func (s *memFPPAStore) GetFPPA(_ context.Context, id uuid.UUID) (*models.FundsPullPreApproval, error) {
	a, ok := s.approvals[id]
	if !ok {
		return nil, offchain.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (s *memFPPAStore) CreateFPPA(_ context.Context, a *models.FundsPullPreApproval) error {
	clone := *a
	s.approvals[a.FundsPullPreApprovalID] = &clone
	return nil
}

func (s *memFPPAStore) UpdateFPPA(_ context.Context, a *models.FundsPullPreApproval) error {
	if _, ok := s.approvals[a.FundsPullPreApprovalID]; !ok {
		return offchain.ErrNotFound
	}
	clone := *a
	s.approvals[a.FundsPullPreApprovalID] = &clone
	return nil
}

func (s *memFPPAStore) ListUnsent(_ context.Context, limit int) ([]*models.FundsPullPreApproval, error) {
	var out []*models.FundsPullPreApproval
	for _, a := range s.approvals {
		if !a.OffchainSent {
			clone := *a
			out = append(out, &clone)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type staticDiscovery struct {
	key         ed25519.PublicKey
	invalidated int
}

func (d *staticDiscovery) Lookup(context.Context, chain.AccountAddress) (string, ed25519.PublicKey, error) {
	return "http://peer.example.com", d.key, nil
}

func (d *staticDiscovery) Invalidate(context.Context, chain.AccountAddress) error {
	d.invalidated++
	return nil
}

type sentCommand struct {
	CommandType offchain.CommandType
	Command     any
}

// scriptedPeer records outbound commands and replies per a script: by
// default success, or the configured failure/transport error.
type scriptedPeer struct {
	sent         []sentCommand
	failWith     *offchain.OffChainError
	transportErr error
}

func (p *scriptedPeer) SendCommand(_ context.Context, _ string, _ ed25519.PublicKey, cid string, commandType offchain.CommandType, command any) (*offchain.CommandResponseObject, error) {
	if p.transportErr != nil {
		return nil, p.transportErr
	}
	p.sent = append(p.sent, sentCommand{CommandType: commandType, Command: command})
	if p.failWith != nil {
		return &offchain.CommandResponseObject{
			ObjectType: offchain.ObjectTypeCommandResponse,
			Status:     offchain.StatusFailure,
			CID:        &cid,
			Error:      p.failWith,
		}, nil
	}
	return &offchain.CommandResponseObject{
		ObjectType: offchain.ObjectTypeCommandResponse,
		Status:     offchain.StatusSuccess,
		CID:        &cid,
	}, nil
}

type recordingSettler struct {
	settled []uuid.UUID
}

func (s *recordingSettler) Settle(_ context.Context, p *models.Payment) error {
	s.settled = append(s.settled, p.ReferenceID)
	return nil
}

type fakeChain struct {
	account      *chain.Account
	bySequence   map[uint64]*chain.Transaction
	byVersion    map[uint64]*chain.Transaction
	eventStreams map[string][]chain.Event
	submitted    []string
	submitErr    error
	// onSubmit lets a test make the committed transaction appear.
	onSubmit func(signedHex string)
}

func (c *fakeChain) GetAccount(context.Context, chain.AccountAddress) (*chain.Account, error) {
	return c.account, nil
}

func (c *fakeChain) GetAccountTransaction(_ context.Context, _ chain.AccountAddress, sequence uint64) (*chain.Transaction, error) {
	txn, ok := c.bySequence[sequence]
	if !ok {
		return nil, chain.ErrTransactionNotFound
	}
	return txn, nil
}

func (c *fakeChain) Submit(_ context.Context, signedHex string) error {
	if c.submitErr != nil {
		return c.submitErr
	}
	c.submitted = append(c.submitted, signedHex)
	if c.onSubmit != nil {
		c.onSubmit(signedHex)
	}
	return nil
}

func (c *fakeChain) WaitForTransaction(ctx context.Context, addr chain.AccountAddress, sequence uint64, _ time.Duration) (*chain.Transaction, error) {
	return c.GetAccountTransaction(ctx, addr, sequence)
}

func (c *fakeChain) GetEvents(_ context.Context, streamKey string, start, limit uint64) ([]chain.Event, error) {
	all := c.eventStreams[streamKey]
	var out []chain.Event
	for _, ev := range all {
		if ev.SequenceNumber >= start && uint64(len(out)) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeChain) GetTransactionByVersion(_ context.Context, version uint64) (*chain.Transaction, error) {
	txn, ok := c.byVersion[version]
	if !ok {
		return nil, chain.ErrTransactionNotFound
	}
	return txn, nil
}

type memMirror struct {
	rows map[uint64]*models.ChainTransaction // by blockchain version
	all  []*models.ChainTransaction
}

func newMemMirror() *memMirror {
	return &memMirror{rows: make(map[uint64]*models.ChainTransaction)}
}

func (m *memMirror) Create(_ context.Context, t *models.ChainTransaction) error {
	clone := *t
	m.all = append(m.all, &clone)
	if t.BlockchainVersion != nil {
		m.rows[*t.BlockchainVersion] = &clone
	}
	return nil
}

func (m *memMirror) ExistsVersion(_ context.Context, version uint64) (bool, error) {
	_, ok := m.rows[version]
	return ok, nil
}

func (m *memMirror) ListExternalVersions(context.Context) ([]uint64, error) {
	var versions []uint64
	for v := range m.rows {
		versions = append(versions, v)
	}
	return versions, nil
}

func (m *memMirror) DeleteExternalByVersions(_ context.Context, versions []uint64) (int64, error) {
	var n int64
	for _, v := range versions {
		if _, ok := m.rows[v]; ok {
			delete(m.rows, v)
			n++
		}
	}
	return n, nil
}

func (m *memMirror) ExternalNetBalance(_ context.Context, vaspHex, currency string) (int64, error) {
	var balance int64
	for _, row := range m.rows {
		if row.Currency != currency || row.Status != models.TxStatusCompleted {
			continue
		}
		if row.DestinationAddress == vaspHex && row.SourceAddress != vaspHex {
			balance += int64(row.Amount)
		}
		if row.SourceAddress == vaspHex && row.DestinationAddress != vaspHex {
			balance -= int64(row.Amount)
		}
	}
	return balance, nil
}

type memCursors struct {
	cursors map[string]*models.EventCursor
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: make(map[string]*models.EventCursor)}
}

func (c *memCursors) Get(_ context.Context, streamKey string) (*models.EventCursor, error) {
	cur, ok := c.cursors[streamKey]
	if !ok {
		return &models.EventCursor{StreamKey: streamKey}, nil
	}
	clone := *cur
	return &clone, nil
}

func (c *memCursors) Save(_ context.Context, cur *models.EventCursor) error {
	clone := *cur
	c.cursors[cur.StreamKey] = &clone
	return nil
}

type memSubaddrs struct {
	bindings map[string]uuid.UUID
}

func newMemSubaddrs() *memSubaddrs {
	return &memSubaddrs{bindings: make(map[string]uuid.UUID)}
}

func (s *memSubaddrs) Resolve(_ context.Context, subaddress string) (uuid.UUID, error) {
	id, ok := s.bindings[subaddress]
	if !ok {
		return uuid.Nil, offchain.ErrNotFound
	}
	return id, nil
}

func (s *memSubaddrs) Create(_ context.Context, subaddress string, accountID uuid.UUID) error {
	s.bindings[subaddress] = accountID
	return nil
}

type staticInventory struct {
	account models.Account
}

func (s *staticInventory) EnsureInventory(context.Context) (*models.Account, error) {
	clone := s.account
	return &clone, nil
}
