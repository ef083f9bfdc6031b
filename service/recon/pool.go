package recon

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/luxledger/service/db"
	"github.com/brojonat/luxledger/service/events"
	"github.com/brojonat/luxledger/service/nats"
)

// applyTrade handles a trade-executed event from the trading venue: the trade
// is folded into the pool's cumulative statistics, and any partner fee it
// carried is recorded as a pool-royalty treasury deposit. A trade for an
// unknown token mint is dropped; the pool record is created by the investment
// flow and may not exist yet when the venue starts reporting.
func (e *Engine) applyTrade(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	trade := ev.Trade

	pool, err := store.GetPoolByTokenMint(ctx, trade.TokenMint)
	if errors.Is(err, db.ErrNotFound) {
		e.logger.Info("trade for unknown pool token, dropping",
			"token_mint", trade.TokenMint, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to look up pool for %s: %w", trade.TokenMint, err)
	}

	volume := trade.TokenAmount * trade.PriceLamports
	if trade.PriceLamports > 0 && volume/trade.PriceLamports != trade.TokenAmount {
		return OutcomeFailed, fmt.Errorf("trade %s volume overflows int64 (%d tokens at %d lamports)",
			ev.Signature, trade.TokenAmount, trade.PriceLamports)
	}
	updated, err := store.RecordPoolTrade(ctx, trade.TokenMint, volume, trade.PriceLamports)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to record trade for pool %s: %w", pool.ID, err)
	}
	if e.metrics != nil {
		e.metrics.RecordPoolTrade(trade.TokenMint)
	}

	if trade.PartnerFee > 0 {
		feeFrom := trade.PartnerFeeFrom
		if feeFrom == "" {
			feeFrom = trade.Trader
		}
		if _, err := store.CreateTreasuryDeposit(ctx, db.CreateTreasuryDepositParams{
			Signature:   ev.Signature,
			Amount:      trade.PartnerFee,
			FromAddress: feeFrom,
			ToAddress:   e.cfg.TreasuryAddress,
			DepositType: db.DepositPoolRoyalty,
			AssetMint:   &pool.AssetMint,
			PoolID:      &pool.ID,
		}); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to record partner fee for trade %s: %w", ev.Signature, err)
		}
		if e.metrics != nil {
			e.metrics.RecordDepositClassified(string(db.DepositPoolRoyalty))
		}
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxTrade,
		Amount:    volume,
		AssetMint: &pool.AssetMint,
		PoolID:    &pool.ID,
	}); err != nil {
		return OutcomeFailed, err
	}
	e.publishUpdate(ctx, &nats.UpdateEvent{
		Entity:    nats.EntityPool,
		EntityID:  trade.TokenMint,
		Kind:      string(ev.Kind),
		Change:    "trade-recorded",
		Signature: ev.Signature,
		Status:    string(updated.TokenStatus),
		Amount:    volume,
	})
	return OutcomeApplied, nil
}

// applyPoolUpdate handles pool-created and pool-updated events: the venue is
// authoritative for the token's status and liquidity model. Fields the
// payload omits keep their stored values.
func (e *Engine) applyPoolUpdate(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	details := ev.Pool

	pool, err := store.GetPoolByTokenMint(ctx, details.TokenMint)
	if errors.Is(err, db.ErrNotFound) {
		e.logger.Info("pool event for unknown token, dropping",
			"token_mint", details.TokenMint, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to look up pool for %s: %w", details.TokenMint, err)
	}

	status := poolTokenStatus(details.TokenStatus, pool.TokenStatus)
	if ev.Kind == events.KindPoolCreated && details.TokenStatus == "" {
		status = db.PoolTokenMinted
	}
	model := liquidityModel(details.LiquidityModel, pool.LiquidityModel)

	updated, err := store.UpdatePoolToken(ctx, details.TokenMint, status, model)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to update pool token %s: %w", details.TokenMint, err)
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxPoolUpdate,
		AssetMint: &pool.AssetMint,
		PoolID:    &pool.ID,
	}); err != nil {
		return OutcomeFailed, err
	}
	e.publishUpdate(ctx, &nats.UpdateEvent{
		Entity:    nats.EntityPool,
		EntityID:  details.TokenMint,
		Kind:      string(ev.Kind),
		Change:    "token-updated",
		Signature: ev.Signature,
		Status:    string(updated.TokenStatus),
	})
	return OutcomeApplied, nil
}

// applyGraduation handles a token-graduated event: the pool's token leaves
// its liquidity-bootstrapping phase. An already-graduated pool keeps its
// original graduation time.
func (e *Engine) applyGraduation(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	details := ev.Pool

	pool, err := store.MarkPoolGraduated(ctx, details.TokenMint, ev.Timestamp)
	if errors.Is(err, db.ErrNotApplied) {
		e.logger.Info("graduation for unknown or already-graduated pool, dropping",
			"token_mint", details.TokenMint, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to graduate pool for %s: %w", details.TokenMint, err)
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxPoolUpdate,
		AssetMint: &pool.AssetMint,
		PoolID:    &pool.ID,
	}); err != nil {
		return OutcomeFailed, err
	}
	e.publishUpdate(ctx, &nats.UpdateEvent{
		Entity:    nats.EntityPool,
		EntityID:  details.TokenMint,
		Kind:      string(ev.Kind),
		Change:    "graduated",
		Signature: ev.Signature,
		Status:    string(pool.TokenStatus),
	})
	return OutcomeApplied, nil
}

// applyPartnerFee handles partner-fee-earned and partner-fee-claimed events.
// An earned fee is a treasury inflow and is recorded as a pool-royalty
// deposit; a claim is an outflow and only lands in the ledger.
func (e *Engine) applyPartnerFee(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	fee := ev.Fee

	var poolID, assetMint *string
	pool, err := store.GetPoolByTokenMint(ctx, fee.TokenMint)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return OutcomeFailed, fmt.Errorf("failed to look up pool for %s: %w", fee.TokenMint, err)
	}
	if pool != nil {
		poolID = &pool.ID
		assetMint = &pool.AssetMint
	}

	if ev.Kind == events.KindPartnerFeeEarned {
		if _, err := store.CreateTreasuryDeposit(ctx, db.CreateTreasuryDepositParams{
			Signature:   ev.Signature,
			Amount:      fee.Amount,
			FromAddress: fee.From,
			ToAddress:   e.cfg.TreasuryAddress,
			DepositType: db.DepositPoolRoyalty,
			AssetMint:   assetMint,
			PoolID:      poolID,
		}); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to record partner fee deposit %s: %w", ev.Signature, err)
		}
		if e.metrics != nil {
			e.metrics.RecordDepositClassified(string(db.DepositPoolRoyalty))
		}
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxFee,
		Amount:    fee.Amount,
		AssetMint: assetMint,
		PoolID:    poolID,
	}); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

// applyLiquidity handles liquidity-added and liquidity-removed events.
func (e *Engine) applyLiquidity(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	liq := ev.Liquidity

	delta := liq.Amount
	if ev.Kind == events.KindLiquidityRemoved {
		delta = -delta
	}

	pool, err := store.AdjustPoolLiquidity(ctx, liq.TokenMint, delta)
	if errors.Is(err, db.ErrNotFound) {
		e.logger.Info("liquidity event for unknown pool token, dropping",
			"token_mint", liq.TokenMint, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to adjust liquidity for %s: %w", liq.TokenMint, err)
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxLiquidity,
		Amount:    delta,
		AssetMint: &pool.AssetMint,
		PoolID:    &pool.ID,
	}); err != nil {
		return OutcomeFailed, err
	}
	e.publishUpdate(ctx, &nats.UpdateEvent{
		Entity:    nats.EntityPool,
		EntityID:  liq.TokenMint,
		Kind:      string(ev.Kind),
		Change:    "liquidity-adjusted",
		Signature: ev.Signature,
		Status:    string(pool.TokenStatus),
		Amount:    delta,
	})
	return OutcomeApplied, nil
}

// poolTokenStatus maps a reported token status onto the closed set, falling
// back to the stored value for empty or unrecognized input.
func poolTokenStatus(s string, fallback db.PoolTokenStatus) db.PoolTokenStatus {
	switch db.PoolTokenStatus(s) {
	case db.PoolTokenPending, db.PoolTokenMinted, db.PoolTokenUnlocked, db.PoolTokenFrozen, db.PoolTokenBurned:
		return db.PoolTokenStatus(s)
	default:
		return fallback
	}
}

// liquidityModel maps a reported liquidity model onto the closed set, falling
// back to the stored value for empty or unrecognized input.
func liquidityModel(s string, fallback db.LiquidityModel) db.LiquidityModel {
	switch db.LiquidityModel(s) {
	case db.LiquidityPeerToPeer, db.LiquidityAutomated, db.LiquidityHybrid:
		return db.LiquidityModel(s)
	default:
		return fallback
	}
}
