package db

import (
	"context"
	"time"
)

// DepositType classifies a native-currency transfer into the treasury.
type DepositType string

const (
	DepositEscrowFee     DepositType = "escrow_fee"
	DepositPlatformFee   DepositType = "platform_fee"
	DepositPoolRoyalty   DepositType = "pool_royalty"
	DepositDirectDeposit DepositType = "direct_deposit"
)

// TreasuryDeposit is a write-once record of one treasury inflow, keyed by the
// chain transaction signature. Only the Verified flag may change after
// creation.
type TreasuryDeposit struct {
	Signature   string
	Amount      int64
	FromAddress string
	ToAddress   string
	DepositType DepositType
	EscrowPDA   *string
	AssetMint   *string
	PoolID      *string
	Verified    bool
	CreatedAt   time.Time
}

const depositColumns = `signature, amount, from_address, to_address, deposit_type,
	escrow_pda, asset_mint, pool_id, verified, created_at`

// CreateTreasuryDepositParams contains the parameters for recording a deposit.
type CreateTreasuryDepositParams struct {
	Signature   string
	Amount      int64
	FromAddress string
	ToAddress   string
	DepositType DepositType
	EscrowPDA   *string
	AssetMint   *string
	PoolID      *string
}

// CreateTreasuryDeposit inserts a deposit row, enforcing at-most-one record
// per signature with an atomic check-and-insert. Returns false when a row for
// the signature already exists.
func (s *Store) CreateTreasuryDeposit(ctx context.Context, params CreateTreasuryDepositParams) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO treasury_deposits
			(signature, amount, from_address, to_address, deposit_type, escrow_pda, asset_mint, pool_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signature) DO NOTHING`,
		params.Signature, params.Amount, params.FromAddress, params.ToAddress,
		params.DepositType, params.EscrowPDA, params.AssetMint, params.PoolID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetTreasuryDeposit retrieves a deposit by signature.
func (s *Store) GetTreasuryDeposit(ctx context.Context, signature string) (*TreasuryDeposit, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+depositColumns+` FROM treasury_deposits WHERE signature = $1`, signature)
	dep, err := scanDeposit(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return dep, nil
}

// ListTreasuryDeposits retrieves deposits ordered by most recent first.
func (s *Store) ListTreasuryDeposits(ctx context.Context, limit int32) ([]*TreasuryDeposit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+depositColumns+` FROM treasury_deposits ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []*TreasuryDeposit
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, dep)
	}
	return deposits, rows.Err()
}

// SetTreasuryDepositVerified flips the verification flag, the only mutable
// field on a deposit.
func (s *Store) SetTreasuryDepositVerified(ctx context.Context, signature string, verified bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE treasury_deposits SET verified = $2 WHERE signature = $1`,
		signature, verified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDeposit(row rowScanner) (*TreasuryDeposit, error) {
	var dep TreasuryDeposit
	err := row.Scan(
		&dep.Signature, &dep.Amount, &dep.FromAddress, &dep.ToAddress,
		&dep.DepositType, &dep.EscrowPDA, &dep.AssetMint, &dep.PoolID,
		&dep.Verified, &dep.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &dep, nil
}
