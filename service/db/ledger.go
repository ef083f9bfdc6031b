package db

import (
	"context"
	"time"
)

// TxType categorizes a ledger entry.
type TxType string

const (
	TxSale         TxType = "sale"
	TxListing      TxType = "listing"
	TxMint         TxType = "mint"
	TxBurn         TxType = "burn"
	TxTransfer     TxType = "transfer"
	TxInvestment   TxType = "investment"
	TxDeposit      TxType = "deposit"
	TxTrade        TxType = "trade"
	TxDistribution TxType = "distribution"
	TxRefund       TxType = "refund"
	TxPoolUpdate   TxType = "pool_update"
	TxLiquidity    TxType = "liquidity"
	TxFee          TxType = "fee"
)

// LedgerTransaction is one entry in the append-only audit log. The table is
// keyed by chain transaction signature and doubles as the deduplication
// guard: a signature with an existing row has already been applied.
type LedgerTransaction struct {
	Signature string
	TxType    TxType
	Amount    int64
	EscrowPDA *string
	AssetMint *string
	PoolID    *string
	Status    string
	CreatedAt time.Time
}

const ledgerColumns = `signature, tx_type, amount, escrow_pda, asset_mint, pool_id, status, created_at`

// CreateLedgerEntryParams contains the parameters for appending a ledger entry.
type CreateLedgerEntryParams struct {
	Signature string
	TxType    TxType
	Amount    int64
	EscrowPDA *string
	AssetMint *string
	PoolID    *string
}

// CreateLedgerEntry appends an entry to the ledger. Returns false when an
// entry for the signature already exists; entries are never mutated.
func (s *Store) CreateLedgerEntry(ctx context.Context, params CreateLedgerEntryParams) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO ledger_transactions (signature, tx_type, amount, escrow_pda, asset_mint, pool_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signature) DO NOTHING`,
		params.Signature, params.TxType, params.Amount,
		params.EscrowPDA, params.AssetMint, params.PoolID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// LedgerEntryExists reports whether a ledger row exists for the signature.
// This is the deduplication guard's check, run before any state mutation.
func (s *Store) LedgerEntryExists(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_transactions WHERE signature = $1)`,
		signature).Scan(&exists)
	return exists, err
}

// GetLedgerEntry retrieves a ledger entry by signature.
func (s *Store) GetLedgerEntry(ctx context.Context, signature string) (*LedgerTransaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_transactions WHERE signature = $1`, signature)
	txn, err := scanLedger(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return txn, nil
}

// ListLedgerEntries retrieves ledger entries ordered by most recent first.
func (s *Store) ListLedgerEntries(ctx context.Context, limit int32) ([]*LedgerTransaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_transactions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*LedgerTransaction
	for rows.Next() {
		txn, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func scanLedger(row rowScanner) (*LedgerTransaction, error) {
	var txn LedgerTransaction
	err := row.Scan(
		&txn.Signature, &txn.TxType, &txn.Amount,
		&txn.EscrowPDA, &txn.AssetMint, &txn.PoolID,
		&txn.Status, &txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
