package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EscrowStatus is the lifecycle state of an escrow record.
type EscrowStatus string

const (
	EscrowInitiated EscrowStatus = "initiated"
	EscrowListed    EscrowStatus = "listed"
	EscrowFunded    EscrowStatus = "funded"
	EscrowShipped   EscrowStatus = "shipped"
	EscrowDelivered EscrowStatus = "delivered"
	EscrowReleased  EscrowStatus = "released"
	EscrowCancelled EscrowStatus = "cancelled"
)

// AuditEntry records the chain signature that caused a single escrow transition.
type AuditEntry struct {
	Signature  string    `json:"signature"`
	Transition string    `json:"transition"`
	At         time.Time `json:"at"`
}

// Escrow is the holding record for one asset sale, keyed by its
// program-derived address on chain.
type Escrow struct {
	EscrowPDA    string
	AssetMint    string
	Seller       string
	Buyer        *string
	ListingPrice *int64
	FundedAmount *int64
	Status       EscrowStatus
	CancelReason *string
	ListedAt     *time.Time
	FundedAt     *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	ReleasedAt   *time.Time
	CancelledAt  *time.Time
	Audit        []AuditEntry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const escrowColumns = `escrow_pda, asset_mint, seller, buyer, listing_price, funded_amount,
	status, cancel_reason, listed_at, funded_at, shipped_at, delivered_at, released_at,
	cancelled_at, audit, created_at, updated_at`

// CreateEscrowParams contains the parameters for creating an escrow record.
// Escrow creation belongs to the listing flow; the store exposes it for that
// flow and for tests.
type CreateEscrowParams struct {
	EscrowPDA string
	AssetMint string
	Seller    string
}

// CreateEscrow inserts a new escrow record in the initiated state.
func (s *Store) CreateEscrow(ctx context.Context, params CreateEscrowParams) (*Escrow, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO escrows (escrow_pda, asset_mint, seller)
		VALUES ($1, $2, $3)
		RETURNING `+escrowColumns,
		params.EscrowPDA, params.AssetMint, params.Seller)
	return scanEscrow(row)
}

// GetEscrow retrieves an escrow by its program-derived address.
func (s *Store) GetEscrow(ctx context.Context, escrowPDA string) (*Escrow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE escrow_pda = $1`, escrowPDA)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return esc, nil
}

// GetEscrowByAssetMint retrieves the escrow tracking the given asset, if any.
// At most one escrow exists per listed asset.
func (s *Store) GetEscrowByAssetMint(ctx context.Context, assetMint string) (*Escrow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE asset_mint = $1
		ORDER BY created_at DESC LIMIT 1`, assetMint)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return esc, nil
}

// GetOpenEscrowBySender finds a non-terminal, priced escrow whose seller or
// escrow address equals the given sender. Used by the deposit classifier to
// match treasury transfers to escrow royalties.
func (s *Store) GetOpenEscrowBySender(ctx context.Context, sender string) (*Escrow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE (seller = $1 OR escrow_pda = $1)
		  AND status NOT IN ('released', 'cancelled')
		  AND listing_price IS NOT NULL
		ORDER BY created_at DESC LIMIT 1`, sender)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return esc, nil
}

// ListEscrows retrieves escrows ordered by most recently updated.
func (s *Store) ListEscrows(ctx context.Context, limit int32) ([]*Escrow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []*Escrow
	for rows.Next() {
		esc, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, esc)
	}
	return escrows, rows.Err()
}

// MarkEscrowListed applies a listing event: sets the price and listing time.
// Precondition: status is anything but listed. Returns ErrNotApplied when the
// escrow is already listed (duplicate or stale listing notification).
func (s *Store) MarkEscrowListed(ctx context.Context, escrowPDA string, price int64, signature string, at time.Time) (*Escrow, error) {
	audit, err := auditJSON(signature, "listed", at)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'listed', listing_price = $2, listed_at = $3,
		    audit = audit || $4::jsonb, updated_at = now()
		WHERE escrow_pda = $1 AND status <> 'listed'
		RETURNING `+escrowColumns,
		escrowPDA, price, at, audit)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return esc, nil
}

// RevertEscrowListing applies a listing-cancel event: listed -> initiated,
// clearing the price fields. The status guard rejects a stale or duplicate
// cancel arriving after the escrow has been funded.
func (s *Store) RevertEscrowListing(ctx context.Context, escrowPDA string, signature string, at time.Time) (*Escrow, error) {
	audit, err := auditJSON(signature, "listing-cancelled", at)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'initiated', listing_price = NULL, listed_at = NULL,
		    audit = audit || $2::jsonb, updated_at = now()
		WHERE escrow_pda = $1 AND status = 'listed'
		RETURNING `+escrowColumns,
		escrowPDA, audit)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return esc, nil
}

// MarkEscrowFunded applies a positive balance delta: listed -> funded.
// The funded amount is set exactly once; a replay of the funding event is
// rejected by the status guard.
func (s *Store) MarkEscrowFunded(ctx context.Context, escrowPDA string, amount int64, signature string, at time.Time) (*Escrow, error) {
	audit, err := auditJSON(signature, "funded", at)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'funded', funded_amount = $2, funded_at = $3,
		    audit = audit || $4::jsonb, updated_at = now()
		WHERE escrow_pda = $1 AND status = 'listed' AND funded_amount IS NULL
		RETURNING `+escrowColumns,
		escrowPDA, amount, at, audit)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return esc, nil
}

// ReleaseEscrowFromFunded applies a negative balance delta: funded -> released.
func (s *Store) ReleaseEscrowFromFunded(ctx context.Context, escrowPDA string, signature string, at time.Time) (*Escrow, error) {
	audit, err := auditJSON(signature, "released", at)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'released', released_at = $2,
		    audit = audit || $3::jsonb, updated_at = now()
		WHERE escrow_pda = $1 AND status = 'funded'
		RETURNING `+escrowColumns,
		escrowPDA, at, audit)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return esc, nil
}

// ForceEscrowReleased applies a sale event: the sale is authoritative, so the
// escrow is forced to released from whatever state it is in, recording the
// buyer. Already-released escrows are left untouched so a replay appends no
// duplicate audit entry.
func (s *Store) ForceEscrowReleased(ctx context.Context, escrowPDA string, buyer string, signature string, at time.Time) (*Escrow, error) {
	audit, err := auditJSON(signature, "released", at)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'released', buyer = $2, released_at = $3,
		    audit = audit || $4::jsonb, updated_at = now()
		WHERE escrow_pda = $1 AND status <> 'released'
		RETURNING `+escrowColumns,
		escrowPDA, buyer, at, audit)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return esc, nil
}

// CancelEscrow forces the escrow to cancelled with the given reason. Used for
// the burn override; the only guard is against re-cancelling.
func (s *Store) CancelEscrow(ctx context.Context, escrowPDA string, reason string, signature string, at time.Time) (*Escrow, error) {
	audit, err := auditJSON(signature, "cancelled", at)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'cancelled', cancel_reason = $2, cancelled_at = $3,
		    audit = audit || $4::jsonb, updated_at = now()
		WHERE escrow_pda = $1 AND status <> 'cancelled'
		RETURNING `+escrowColumns,
		escrowPDA, reason, at, audit)
	esc, err := scanEscrow(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return esc, nil
}

// CancelEscrowsByAssetMint cancels every non-terminal escrow tracking the
// given asset. Used for the burn cascade. Returns the number of escrows
// cancelled.
func (s *Store) CancelEscrowsByAssetMint(ctx context.Context, assetMint string, reason string, signature string, at time.Time) (int64, error) {
	audit, err := auditJSON(signature, "cancelled", at)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE escrows
		SET status = 'cancelled', cancel_reason = $2, cancelled_at = $3,
		    audit = audit || $4::jsonb, updated_at = now()
		WHERE asset_mint = $1 AND status NOT IN ('released', 'cancelled')`,
		assetMint, reason, at, audit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// auditJSON marshals a single-element audit array for appending via the
// jsonb || operator.
func auditJSON(signature, transition string, at time.Time) ([]byte, error) {
	entry := []AuditEntry{{Signature: signature, Transition: transition, At: at}}
	b, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return b, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	var esc Escrow
	var audit []byte
	err := row.Scan(
		&esc.EscrowPDA, &esc.AssetMint, &esc.Seller, &esc.Buyer,
		&esc.ListingPrice, &esc.FundedAmount, &esc.Status, &esc.CancelReason,
		&esc.ListedAt, &esc.FundedAt, &esc.ShippedAt, &esc.DeliveredAt,
		&esc.ReleasedAt, &esc.CancelledAt, &audit, &esc.CreatedAt, &esc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(audit, &esc.Audit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal escrow audit trail: %w", err)
	}
	return &esc, nil
}
