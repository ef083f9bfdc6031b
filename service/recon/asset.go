package recon

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/luxledger/service/db"
	"github.com/brojonat/luxledger/service/events"
	"github.com/brojonat/luxledger/service/nats"
)

// applyMint handles an asset-minted event. Assets are pre-registered by the
// listing flow, so the event only attaches the mint signature. The guard
// rejects both a replay and a mint for an unregistered asset.
func (e *Engine) applyMint(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	mint := ev.Mint

	asset, err := store.AttachAssetMintSignature(ctx, mint.AssetMint, ev.Signature, ev.Timestamp)
	if errors.Is(err, db.ErrNotApplied) {
		e.logger.Info("mint signature already attached or asset unknown, dropping",
			"asset_mint", mint.AssetMint, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to attach mint signature to %s: %w", mint.AssetMint, err)
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxMint,
		AssetMint: &asset.Mint,
	}); err != nil {
		return OutcomeFailed, err
	}
	e.publishUpdate(ctx, &nats.UpdateEvent{
		Entity:    nats.EntityAsset,
		EntityID:  asset.Mint,
		Kind:      string(ev.Kind),
		Change:    "minted",
		Signature: ev.Signature,
		Status:    string(asset.Status),
	})
	return OutcomeApplied, nil
}

// applyTransfer handles an asset-transferred event: appends to the transfer
// history and overwrites the current owner.
func (e *Engine) applyTransfer(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	transfer := ev.Transfer

	asset, err := store.AppendAssetTransfer(ctx, transfer.AssetMint, transfer.From, transfer.To, ev.Signature, ev.Timestamp)
	if errors.Is(err, db.ErrNotFound) {
		e.logger.Info("transfer for untracked asset, dropping",
			"asset_mint", transfer.AssetMint, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to apply transfer for %s: %w", transfer.AssetMint, err)
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxTransfer,
		AssetMint: &asset.Mint,
	}); err != nil {
		return OutcomeFailed, err
	}
	e.publishUpdate(ctx, &nats.UpdateEvent{
		Entity:    nats.EntityAsset,
		EntityID:  asset.Mint,
		Kind:      string(ev.Kind),
		Change:    "owner-updated",
		Signature: ev.Signature,
		Status:    string(asset.Status),
	})
	return OutcomeApplied, nil
}

// applyBurn handles an asset-burned event: the asset moves to its terminal
// burned state and every non-terminal escrow tracking it is cascade-cancelled.
// The cascade runs even when the asset record itself is already burned, so a
// burn arriving twice with different signatures still converges.
func (e *Engine) applyBurn(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	burn := ev.Burn

	var burned *db.Asset
	asset, err := store.MarkAssetBurned(ctx, burn.AssetMint, ev.Signature)
	switch {
	case err == nil:
		burned = asset
	case errors.Is(err, db.ErrNotApplied):
		e.logger.Info("asset already burned or unknown",
			"asset_mint", burn.AssetMint, "signature", ev.Signature)
	default:
		return OutcomeFailed, fmt.Errorf("failed to mark asset %s burned: %w", burn.AssetMint, err)
	}

	cancelled, err := store.CancelEscrowsByAssetMint(ctx, burn.AssetMint, "asset burned", ev.Signature, ev.Timestamp)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to cascade-cancel escrows for %s: %w", burn.AssetMint, err)
	}
	if cancelled > 0 {
		e.logger.Info("cascade-cancelled escrows for burned asset",
			"asset_mint", burn.AssetMint, "count", cancelled, "signature", ev.Signature)
		if e.metrics != nil {
			for i := int64(0); i < cancelled; i++ {
				e.metrics.RecordEscrowTransition("cancelled")
			}
		}
	}

	if burned == nil && cancelled == 0 {
		return OutcomeIgnored, nil
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxBurn,
		AssetMint: &burn.AssetMint,
	}); err != nil {
		return OutcomeFailed, err
	}
	if burned != nil {
		e.publishUpdate(ctx, &nats.UpdateEvent{
			Entity:    nats.EntityAsset,
			EntityID:  burned.Mint,
			Kind:      string(ev.Kind),
			Change:    "burned",
			Signature: ev.Signature,
			Status:    string(burned.Status),
		})
	}
	return OutcomeApplied, nil
}
