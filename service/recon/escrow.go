package recon

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/luxledger/service/db"
	"github.com/brojonat/luxledger/service/events"
	"github.com/brojonat/luxledger/service/nats"
)

// applySale handles an asset-sale event. The sale is authoritative: the
// escrow (if one tracks the asset) is forced to released regardless of its
// current status, and the asset's ownership ledger is updated. Either side
// may be missing; a sale for an untracked asset with no escrow is still a
// successful no-op.
func (e *Engine) applySale(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	sale := ev.Sale

	var assetApplied bool
	asset, err := store.AppendAssetTransfer(ctx, sale.AssetMint, sale.Seller, sale.Buyer, ev.Signature, ev.Timestamp)
	switch {
	case err == nil:
		assetApplied = true
	case errors.Is(err, db.ErrNotFound):
		e.logger.Info("sale for untracked asset, skipping ownership update",
			"asset_mint", sale.AssetMint, "signature", ev.Signature)
	default:
		return OutcomeFailed, fmt.Errorf("failed to apply sale transfer for %s: %w", sale.AssetMint, err)
	}

	var escrowApplied bool
	var escrowPDA *string
	esc, err := store.GetEscrowByAssetMint(ctx, sale.AssetMint)
	switch {
	case err == nil:
		released, err := store.ForceEscrowReleased(ctx, esc.EscrowPDA, sale.Buyer, ev.Signature, ev.Timestamp)
		if err != nil && !errors.Is(err, db.ErrNotApplied) {
			return OutcomeFailed, fmt.Errorf("failed to release escrow %s on sale: %w", esc.EscrowPDA, err)
		}
		if err == nil {
			escrowApplied = true
			escrowPDA = &released.EscrowPDA
			if e.metrics != nil {
				e.metrics.RecordEscrowTransition("released")
			}
		}
	case errors.Is(err, db.ErrNotFound):
		e.logger.Info("sale for asset with no escrow",
			"asset_mint", sale.AssetMint, "signature", ev.Signature)
	default:
		return OutcomeFailed, fmt.Errorf("failed to look up escrow for %s: %w", sale.AssetMint, err)
	}

	if !assetApplied && !escrowApplied {
		return OutcomeIgnored, nil
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxSale,
		Amount:    sale.Amount,
		EscrowPDA: escrowPDA,
		AssetMint: &sale.AssetMint,
	}); err != nil {
		return OutcomeFailed, err
	}

	if escrowApplied {
		e.publishUpdate(ctx, &nats.UpdateEvent{
			Entity:    nats.EntityEscrow,
			EntityID:  *escrowPDA,
			Kind:      string(ev.Kind),
			Change:    "released",
			Signature: ev.Signature,
			Status:    string(db.EscrowReleased),
			Amount:    sale.Amount,
		})
	}
	if assetApplied {
		e.publishUpdate(ctx, &nats.UpdateEvent{
			Entity:    nats.EntityAsset,
			EntityID:  asset.Mint,
			Kind:      string(ev.Kind),
			Change:    "owner-updated",
			Signature: ev.Signature,
			Status:    string(asset.Status),
		})
	}
	return OutcomeApplied, nil
}

// applyListing handles an asset-listed event: the escrow picks up the listing
// price and moves to listed. The escrow is resolved by its address when the
// payload carries one, otherwise by the asset mint.
func (e *Engine) applyListing(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	listing := ev.Listing

	pda := listing.EscrowPDA
	if pda == "" {
		esc, err := store.GetEscrowByAssetMint(ctx, listing.AssetMint)
		if errors.Is(err, db.ErrNotFound) {
			e.logger.Info("listing for unknown escrow, dropping",
				"asset_mint", listing.AssetMint, "signature", ev.Signature)
			return OutcomeIgnored, nil
		}
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to resolve escrow for listing %s: %w", listing.AssetMint, err)
		}
		pda = esc.EscrowPDA
	}

	esc, err := store.MarkEscrowListed(ctx, pda, listing.Price, ev.Signature, ev.Timestamp)
	if errors.Is(err, db.ErrNotApplied) {
		e.logger.Info("listing precondition not met, dropping",
			"escrow_pda", pda, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to mark escrow %s listed: %w", pda, err)
	}

	if e.metrics != nil {
		e.metrics.RecordEscrowTransition("listed")
	}
	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxListing,
		Amount:    listing.Price,
		EscrowPDA: &esc.EscrowPDA,
		AssetMint: &esc.AssetMint,
	}); err != nil {
		return OutcomeFailed, err
	}
	e.publishUpdate(ctx, &nats.UpdateEvent{
		Entity:    nats.EntityEscrow,
		EntityID:  esc.EscrowPDA,
		Kind:      string(ev.Kind),
		Change:    "listed",
		Signature: ev.Signature,
		Status:    string(esc.Status),
		Amount:    listing.Price,
	})
	return OutcomeApplied, nil
}

// applyListingCancel handles an asset-listing-cancelled event: listed back to
// initiated, clearing the price. Dropped unless the escrow is currently
// listed, which rejects a stale cancel arriving after funding.
func (e *Engine) applyListingCancel(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	listing := ev.Listing

	pda := listing.EscrowPDA
	if pda == "" {
		esc, err := store.GetEscrowByAssetMint(ctx, listing.AssetMint)
		if errors.Is(err, db.ErrNotFound) {
			e.logger.Info("listing cancel for unknown escrow, dropping",
				"asset_mint", listing.AssetMint, "signature", ev.Signature)
			return OutcomeIgnored, nil
		}
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to resolve escrow for listing cancel %s: %w", listing.AssetMint, err)
		}
		pda = esc.EscrowPDA
	}

	esc, err := store.RevertEscrowListing(ctx, pda, ev.Signature, ev.Timestamp)
	if errors.Is(err, db.ErrNotApplied) {
		e.logger.Info("listing cancel precondition not met, dropping",
			"escrow_pda", pda, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to revert listing for escrow %s: %w", pda, err)
	}

	if e.metrics != nil {
		e.metrics.RecordEscrowTransition("listing-cancelled")
	}
	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxListing,
		EscrowPDA: &esc.EscrowPDA,
		AssetMint: &esc.AssetMint,
	}); err != nil {
		return OutcomeFailed, err
	}
	e.publishUpdate(ctx, &nats.UpdateEvent{
		Entity:    nats.EntityEscrow,
		EntityID:  esc.EscrowPDA,
		Kind:      string(ev.Kind),
		Change:    "listing-cancelled",
		Signature: ev.Signature,
		Status:    string(esc.Status),
	})
	return OutcomeApplied, nil
}

// applyBalanceUpdate handles an account-balance-update event. A positive
// delta on an escrow address is interpreted as funding, a negative one as
// release. The sign heuristic is a known approximation; when the
// transaction's native transfers move lamports both into and out of the
// escrow account the event is flagged on the ambiguity counter.
func (e *Engine) applyBalanceUpdate(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	type applied struct {
		esc        *db.Escrow
		transition string
		amount     int64
	}
	var applications []applied

	for _, change := range ev.BalanceChanges {
		if change.Delta == 0 {
			continue
		}
		esc, err := store.GetEscrow(ctx, change.Account)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to look up escrow %s: %w", change.Account, err)
		}

		if deltaIsAmbiguous(ev.NativeTransfers, change.Account) {
			e.logger.Warn("ambiguous balance delta for escrow account",
				"escrow_pda", change.Account, "delta", change.Delta, "signature", ev.Signature)
			if e.metrics != nil {
				e.metrics.RecordAmbiguousDelta(change.Account)
			}
		}

		if change.Delta > 0 {
			updated, err := store.MarkEscrowFunded(ctx, esc.EscrowPDA, change.Delta, ev.Signature, ev.Timestamp)
			if errors.Is(err, db.ErrNotApplied) {
				e.logger.Info("funding precondition not met, dropping",
					"escrow_pda", esc.EscrowPDA, "status", esc.Status, "signature", ev.Signature)
				continue
			}
			if err != nil {
				return OutcomeFailed, fmt.Errorf("failed to mark escrow %s funded: %w", esc.EscrowPDA, err)
			}
			applications = append(applications, applied{esc: updated, transition: "funded", amount: change.Delta})
		} else {
			updated, err := store.ReleaseEscrowFromFunded(ctx, esc.EscrowPDA, ev.Signature, ev.Timestamp)
			if errors.Is(err, db.ErrNotApplied) {
				e.logger.Info("release precondition not met, dropping",
					"escrow_pda", esc.EscrowPDA, "status", esc.Status, "signature", ev.Signature)
				continue
			}
			if err != nil {
				return OutcomeFailed, fmt.Errorf("failed to release escrow %s: %w", esc.EscrowPDA, err)
			}
			applications = append(applications, applied{esc: updated, transition: "released", amount: change.Delta})
		}
	}

	if len(applications) == 0 {
		return OutcomeIgnored, nil
	}

	// One ledger row per signature; the first application carries the link.
	first := applications[0]
	txType := db.TxDeposit
	if first.transition == "released" {
		txType = db.TxDistribution
	}
	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    txType,
		Amount:    first.amount,
		EscrowPDA: &first.esc.EscrowPDA,
		AssetMint: &first.esc.AssetMint,
	}); err != nil {
		return OutcomeFailed, err
	}

	for _, app := range applications {
		if e.metrics != nil {
			e.metrics.RecordEscrowTransition(app.transition)
		}
		e.publishUpdate(ctx, &nats.UpdateEvent{
			Entity:    nats.EntityEscrow,
			EntityID:  app.esc.EscrowPDA,
			Kind:      string(ev.Kind),
			Change:    app.transition,
			Signature: ev.Signature,
			Status:    string(app.esc.Status),
			Amount:    app.amount,
		})
	}
	return OutcomeApplied, nil
}

// deltaIsAmbiguous reports whether the transaction moved lamports both into
// and out of the account, making the net delta's sign a lossy summary.
func deltaIsAmbiguous(transfers []events.NativeTransfer, account string) bool {
	var in, out bool
	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		if t.To == account {
			in = true
		}
		if t.From == account {
			out = true
		}
	}
	return in && out
}
