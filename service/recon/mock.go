package recon

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/luxledger/service/db"
)

// MockStore is an in-memory Store implementation for testing. It reproduces
// the conditional-update semantics of the Postgres store, including the
// ErrNotApplied and ErrNotFound sentinels and the write-once guards.
type MockStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex // serializes WithTx calls so a rollback cannot undo a sibling's writes
	escrows  map[string]*db.Escrow          // by escrow PDA
	assets   map[string]*db.Asset           // by mint
	deposits map[string]*db.TreasuryDeposit // by signature
	ledger   map[string]*db.LedgerTransaction
	pools    map[string]*db.Pool // by token mint

	// errors holds a forced error per method name (for testing failure paths).
	errors map[string]error
}

// NewMockStore creates an empty in-memory store for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		escrows:  make(map[string]*db.Escrow),
		assets:   make(map[string]*db.Asset),
		deposits: make(map[string]*db.TreasuryDeposit),
		ledger:   make(map[string]*db.LedgerTransaction),
		pools:    make(map[string]*db.Pool),
		errors:   make(map[string]error),
	}
}

// SetError forces the named method to return the given error.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockStore) forcedError(method string) error {
	return m.errors[method]
}

// mockSnapshot holds record copies taken before a transaction runs.
type mockSnapshot struct {
	escrows  map[string]*db.Escrow
	assets   map[string]*db.Asset
	deposits map[string]*db.TreasuryDeposit
	ledger   map[string]*db.LedgerTransaction
	pools    map[string]*db.Pool
}

func copyRecords[V any](src map[string]*V) map[string]*V {
	dst := make(map[string]*V, len(src))
	for k, v := range src {
		c := *v
		dst[k] = &c
	}
	return dst
}

// WithTx mirrors the transactional store: when fn fails, every mutation it
// made is rolled back.
func (m *MockStore) WithTx(ctx context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := mockSnapshot{
		escrows:  copyRecords(m.escrows),
		assets:   copyRecords(m.assets),
		deposits: copyRecords(m.deposits),
		ledger:   copyRecords(m.ledger),
		pools:    copyRecords(m.pools),
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.escrows = snap.escrows
		m.assets = snap.assets
		m.deposits = snap.deposits
		m.ledger = snap.ledger
		m.pools = snap.pools
		m.mu.Unlock()
		return err
	}
	return nil
}

// AddEscrow seeds an escrow record.
func (m *MockStore) AddEscrow(esc *db.Escrow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if esc.Status == "" {
		esc.Status = db.EscrowInitiated
	}
	m.escrows[esc.EscrowPDA] = esc
}

// AddAsset seeds an asset record.
func (m *MockStore) AddAsset(asset *db.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if asset.Status == "" {
		asset.Status = db.AssetPending
	}
	m.assets[asset.Mint] = asset
}

// AddPool seeds a pool record, indexed by its token mint.
func (m *MockStore) AddPool(pool *db.Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool.TokenStatus == "" {
		pool.TokenStatus = db.PoolTokenPending
	}
	if pool.LiquidityModel == "" {
		pool.LiquidityModel = db.LiquidityAutomated
	}
	if pool.TokenMint != nil {
		m.pools[*pool.TokenMint] = pool
	}
}

// GetDeposit returns a seeded or recorded deposit (for assertions).
func (m *MockStore) GetDeposit(signature string) *db.TreasuryDeposit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deposits[signature]
}

// GetLedger returns a recorded ledger entry (for assertions).
func (m *MockStore) GetLedger(signature string) *db.LedgerTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger[signature]
}

// LedgerCount returns the number of ledger entries (for assertions).
func (m *MockStore) LedgerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

func (m *MockStore) LedgerEntryExists(ctx context.Context, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("LedgerEntryExists"); err != nil {
		return false, err
	}
	_, ok := m.ledger[signature]
	return ok, nil
}

func (m *MockStore) CreateLedgerEntry(ctx context.Context, params db.CreateLedgerEntryParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("CreateLedgerEntry"); err != nil {
		return false, err
	}
	if _, ok := m.ledger[params.Signature]; ok {
		return false, nil
	}
	m.ledger[params.Signature] = &db.LedgerTransaction{
		Signature: params.Signature,
		TxType:    params.TxType,
		Amount:    params.Amount,
		EscrowPDA: params.EscrowPDA,
		AssetMint: params.AssetMint,
		PoolID:    params.PoolID,
		Status:    "confirmed",
		CreatedAt: time.Now(),
	}
	return true, nil
}

func (m *MockStore) GetEscrow(ctx context.Context, escrowPDA string) (*db.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("GetEscrow"); err != nil {
		return nil, err
	}
	esc, ok := m.escrows[escrowPDA]
	if !ok {
		return nil, db.ErrNotFound
	}
	return esc, nil
}

func (m *MockStore) GetEscrowByAssetMint(ctx context.Context, assetMint string) (*db.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("GetEscrowByAssetMint"); err != nil {
		return nil, err
	}
	var latest *db.Escrow
	for _, esc := range m.escrows {
		if esc.AssetMint != assetMint {
			continue
		}
		if latest == nil || esc.CreatedAt.After(latest.CreatedAt) {
			latest = esc
		}
	}
	if latest == nil {
		return nil, db.ErrNotFound
	}
	return latest, nil
}

func (m *MockStore) GetOpenEscrowBySender(ctx context.Context, sender string) (*db.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("GetOpenEscrowBySender"); err != nil {
		return nil, err
	}
	var latest *db.Escrow
	for _, esc := range m.escrows {
		if esc.Seller != sender && esc.EscrowPDA != sender {
			continue
		}
		if esc.Status == db.EscrowReleased || esc.Status == db.EscrowCancelled {
			continue
		}
		if esc.ListingPrice == nil {
			continue
		}
		if latest == nil || esc.CreatedAt.After(latest.CreatedAt) {
			latest = esc
		}
	}
	if latest == nil {
		return nil, db.ErrNotFound
	}
	return latest, nil
}

func (m *MockStore) MarkEscrowListed(ctx context.Context, escrowPDA string, price int64, signature string, at time.Time) (*db.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("MarkEscrowListed"); err != nil {
		return nil, err
	}
	esc, ok := m.escrows[escrowPDA]
	if !ok || esc.Status == db.EscrowListed {
		return nil, db.ErrNotApplied
	}
	esc.Status = db.EscrowListed
	esc.ListingPrice = &price
	esc.ListedAt = &at
	esc.Audit = append(esc.Audit, db.AuditEntry{Signature: signature, Transition: "listed", At: at})
	return esc, nil
}

func (m *MockStore) RevertEscrowListing(ctx context.Context, escrowPDA string, signature string, at time.Time) (*db.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("RevertEscrowListing"); err != nil {
		return nil, err
	}
	esc, ok := m.escrows[escrowPDA]
	if !ok || esc.Status != db.EscrowListed {
		return nil, db.ErrNotApplied
	}
	esc.Status = db.EscrowInitiated
	esc.ListingPrice = nil
	esc.ListedAt = nil
	esc.Audit = append(esc.Audit, db.AuditEntry{Signature: signature, Transition: "listing-cancelled", At: at})
	return esc, nil
}

func (m *MockStore) MarkEscrowFunded(ctx context.Context, escrowPDA string, amount int64, signature string, at time.Time) (*db.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("MarkEscrowFunded"); err != nil {
		return nil, err
	}
	esc, ok := m.escrows[escrowPDA]
	if !ok || esc.Status != db.EscrowListed || esc.FundedAmount != nil {
		return nil, db.ErrNotApplied
	}
	esc.Status = db.EscrowFunded
	esc.FundedAmount = &amount
	esc.FundedAt = &at
	esc.Audit = append(esc.Audit, db.AuditEntry{Signature: signature, Transition: "funded", At: at})
	return esc, nil
}

func (m *MockStore) ReleaseEscrowFromFunded(ctx context.Context, escrowPDA string, signature string, at time.Time) (*db.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("ReleaseEscrowFromFunded"); err != nil {
		return nil, err
	}
	esc, ok := m.escrows[escrowPDA]
	if !ok || esc.Status != db.EscrowFunded {
		return nil, db.ErrNotApplied
	}
	esc.Status = db.EscrowReleased
	esc.ReleasedAt = &at
	esc.Audit = append(esc.Audit, db.AuditEntry{Signature: signature, Transition: "released", At: at})
	return esc, nil
}

func (m *MockStore) ForceEscrowReleased(ctx context.Context, escrowPDA string, buyer string, signature string, at time.Time) (*db.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("ForceEscrowReleased"); err != nil {
		return nil, err
	}
	esc, ok := m.escrows[escrowPDA]
	if !ok || esc.Status == db.EscrowReleased {
		return nil, db.ErrNotApplied
	}
	esc.Status = db.EscrowReleased
	esc.Buyer = &buyer
	esc.ReleasedAt = &at
	esc.Audit = append(esc.Audit, db.AuditEntry{Signature: signature, Transition: "released", At: at})
	return esc, nil
}

func (m *MockStore) CancelEscrowsByAssetMint(ctx context.Context, assetMint string, reason string, signature string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("CancelEscrowsByAssetMint"); err != nil {
		return 0, err
	}
	var count int64
	for _, esc := range m.escrows {
		if esc.AssetMint != assetMint {
			continue
		}
		if esc.Status == db.EscrowReleased || esc.Status == db.EscrowCancelled {
			continue
		}
		esc.Status = db.EscrowCancelled
		esc.CancelReason = &reason
		esc.CancelledAt = &at
		esc.Audit = append(esc.Audit, db.AuditEntry{Signature: signature, Transition: "cancelled", At: at})
		count++
	}
	return count, nil
}

func (m *MockStore) GetAsset(ctx context.Context, mint string) (*db.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("GetAsset"); err != nil {
		return nil, err
	}
	asset, ok := m.assets[mint]
	if !ok {
		return nil, db.ErrNotFound
	}
	return asset, nil
}

func (m *MockStore) AppendAssetTransfer(ctx context.Context, mint string, from, to, signature string, at time.Time) (*db.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("AppendAssetTransfer"); err != nil {
		return nil, err
	}
	asset, ok := m.assets[mint]
	if !ok {
		return nil, db.ErrNotFound
	}
	asset.Owner = to
	asset.TransferHistory = append(asset.TransferHistory, db.TransferEntry{From: from, To: to, Signature: signature, At: at})
	return asset, nil
}

func (m *MockStore) AttachAssetMintSignature(ctx context.Context, mint string, signature string, at time.Time) (*db.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("AttachAssetMintSignature"); err != nil {
		return nil, err
	}
	asset, ok := m.assets[mint]
	if !ok || asset.MintSignature != nil {
		return nil, db.ErrNotApplied
	}
	asset.MintSignature = &signature
	asset.MintedAt = &at
	return asset, nil
}

func (m *MockStore) MarkAssetBurned(ctx context.Context, mint string, signature string) (*db.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("MarkAssetBurned"); err != nil {
		return nil, err
	}
	asset, ok := m.assets[mint]
	if !ok || asset.Status == db.AssetBurned {
		return nil, db.ErrNotApplied
	}
	asset.Status = db.AssetBurned
	asset.BurnSignature = &signature
	return asset, nil
}

func (m *MockStore) CreateTreasuryDeposit(ctx context.Context, params db.CreateTreasuryDepositParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("CreateTreasuryDeposit"); err != nil {
		return false, err
	}
	if _, ok := m.deposits[params.Signature]; ok {
		return false, nil
	}
	m.deposits[params.Signature] = &db.TreasuryDeposit{
		Signature:   params.Signature,
		Amount:      params.Amount,
		FromAddress: params.FromAddress,
		ToAddress:   params.ToAddress,
		DepositType: params.DepositType,
		EscrowPDA:   params.EscrowPDA,
		AssetMint:   params.AssetMint,
		PoolID:      params.PoolID,
		CreatedAt:   time.Now(),
	}
	return true, nil
}

func (m *MockStore) GetPoolByTokenMint(ctx context.Context, tokenMint string) (*db.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("GetPoolByTokenMint"); err != nil {
		return nil, err
	}
	pool, ok := m.pools[tokenMint]
	if !ok {
		return nil, db.ErrNotFound
	}
	return pool, nil
}

func (m *MockStore) RecordPoolTrade(ctx context.Context, tokenMint string, volume int64, price int64) (*db.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("RecordPoolTrade"); err != nil {
		return nil, err
	}
	pool, ok := m.pools[tokenMint]
	if !ok {
		return nil, db.ErrNotFound
	}
	pool.TradeCount++
	pool.TotalVolume += volume
	pool.LastPrice = &price
	return pool, nil
}

func (m *MockStore) AdjustPoolLiquidity(ctx context.Context, tokenMint string, delta int64) (*db.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("AdjustPoolLiquidity"); err != nil {
		return nil, err
	}
	pool, ok := m.pools[tokenMint]
	if !ok {
		return nil, db.ErrNotFound
	}
	pool.Liquidity += delta
	return pool, nil
}

func (m *MockStore) UpdatePoolToken(ctx context.Context, tokenMint string, status db.PoolTokenStatus, model db.LiquidityModel) (*db.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("UpdatePoolToken"); err != nil {
		return nil, err
	}
	pool, ok := m.pools[tokenMint]
	if !ok {
		return nil, db.ErrNotFound
	}
	pool.TokenStatus = status
	pool.LiquidityModel = model
	return pool, nil
}

func (m *MockStore) MarkPoolGraduated(ctx context.Context, tokenMint string, at time.Time) (*db.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forcedError("MarkPoolGraduated"); err != nil {
		return nil, err
	}
	pool, ok := m.pools[tokenMint]
	if !ok || pool.Graduated {
		return nil, db.ErrNotApplied
	}
	pool.Graduated = true
	pool.GraduatedAt = &at
	pool.TokenStatus = db.PoolTokenUnlocked
	return pool, nil
}
