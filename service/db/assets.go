package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AssetStatus is the lifecycle state of a tokenized asset.
type AssetStatus string

const (
	AssetPending AssetStatus = "pending"
	AssetListed  AssetStatus = "listed"
	AssetPooled  AssetStatus = "pooled"
	AssetSold    AssetStatus = "sold"
	AssetBurned  AssetStatus = "burned"
	AssetFrozen  AssetStatus = "frozen"
)

// TransferEntry is one entry in an asset's append-only transfer history.
type TransferEntry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Signature string    `json:"signature"`
	At        time.Time `json:"at"`
}

// Asset is a tokenized physical good, keyed by its token mint address.
// Invariant: Owner always equals the To field of the newest history entry.
type Asset struct {
	Mint            string
	Owner           string
	Status          AssetStatus
	MintSignature   *string
	MintedAt        *time.Time
	BurnSignature   *string
	TransferHistory []TransferEntry
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const assetColumns = `mint, owner, status, mint_signature, minted_at, burn_signature,
	transfer_history, created_at, updated_at`

// CreateAssetParams contains the parameters for pre-registering an asset.
// Assets are created by the listing/minting flow before any chain event for
// them arrives.
type CreateAssetParams struct {
	Mint   string
	Owner  string
	Status AssetStatus
}

// CreateAsset inserts a new asset record.
func (s *Store) CreateAsset(ctx context.Context, params CreateAssetParams) (*Asset, error) {
	status := params.Status
	if status == "" {
		status = AssetPending
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO assets (mint, owner, status)
		VALUES ($1, $2, $3)
		RETURNING `+assetColumns,
		params.Mint, params.Owner, status)
	return scanAsset(row)
}

// GetAsset retrieves an asset by its token mint address.
func (s *Store) GetAsset(ctx context.Context, mint string) (*Asset, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+assetColumns+` FROM assets WHERE mint = $1`, mint)
	asset, err := scanAsset(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return asset, nil
}

// ListAssets retrieves assets ordered by most recently updated.
func (s *Store) ListAssets(ctx context.Context, limit int32) ([]*Asset, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+assetColumns+` FROM assets ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// AppendAssetTransfer records an ownership change: appends a history entry
// and overwrites the current owner. The overwrite is unconditional
// (last-write-wins); transfer events arrive causally ordered in practice and
// a wrong final owner self-corrects on the next notification.
func (s *Store) AppendAssetTransfer(ctx context.Context, mint string, from, to, signature string, at time.Time) (*Asset, error) {
	entry := []TransferEntry{{From: from, To: to, Signature: signature, At: at}}
	history, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer entry: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE assets
		SET owner = $2, transfer_history = transfer_history || $3::jsonb, updated_at = now()
		WHERE mint = $1
		RETURNING `+assetColumns,
		mint, to, history)
	asset, err := scanAsset(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return asset, nil
}

// AttachAssetMintSignature records the mint signature on a pre-registered
// asset. Set exactly once; a replayed mint event is rejected by the
// mint_signature guard.
func (s *Store) AttachAssetMintSignature(ctx context.Context, mint string, signature string, at time.Time) (*Asset, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE assets
		SET mint_signature = $2, minted_at = $3, updated_at = now()
		WHERE mint = $1 AND mint_signature IS NULL
		RETURNING `+assetColumns,
		mint, signature, at)
	asset, err := scanAsset(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return asset, nil
}

// MarkAssetBurned sets the asset status to burned and records the burn
// signature. Idempotent: an already-burned asset is left untouched.
func (s *Store) MarkAssetBurned(ctx context.Context, mint string, signature string) (*Asset, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE assets
		SET status = 'burned', burn_signature = $2, updated_at = now()
		WHERE mint = $1 AND status <> 'burned'
		RETURNING `+assetColumns,
		mint, signature)
	asset, err := scanAsset(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return asset, nil
}

// UpdateAssetStatus sets the asset's lifecycle status.
func (s *Store) UpdateAssetStatus(ctx context.Context, mint string, status AssetStatus) (*Asset, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE assets SET status = $2, updated_at = now()
		WHERE mint = $1
		RETURNING `+assetColumns,
		mint, status)
	asset, err := scanAsset(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return asset, nil
}

func scanAsset(row rowScanner) (*Asset, error) {
	var asset Asset
	var history []byte
	err := row.Scan(
		&asset.Mint, &asset.Owner, &asset.Status, &asset.MintSignature,
		&asset.MintedAt, &asset.BurnSignature, &history,
		&asset.CreatedAt, &asset.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &asset.TransferHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transfer history: %w", err)
	}
	return &asset, nil
}
