package recon

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/luxledger/service/db"
	"github.com/brojonat/luxledger/service/events"
)

// applyNativeTransfer handles a generic-native-transfer event. Only lamport
// movements into the treasury address are recorded; everything else is
// dropped. Multiple treasury-bound transfers in one transaction collapse into
// a single deposit row keyed by the signature.
func (e *Engine) applyNativeTransfer(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	var total int64
	var from string
	for _, t := range ev.NativeTransfers {
		if t.To != e.cfg.TreasuryAddress || t.Amount <= 0 {
			continue
		}
		if from == "" {
			from = t.From
		}
		total += t.Amount
	}
	if total == 0 {
		return OutcomeIgnored, nil
	}

	depositType, esc, err := e.classifyDeposit(ctx, store, from, total, ev.Instructions)
	if err != nil {
		return OutcomeFailed, err
	}

	params := db.CreateTreasuryDepositParams{
		Signature:   ev.Signature,
		Amount:      total,
		FromAddress: from,
		ToAddress:   e.cfg.TreasuryAddress,
		DepositType: depositType,
	}
	if esc != nil {
		params.EscrowPDA = &esc.EscrowPDA
		params.AssetMint = &esc.AssetMint
	}
	inserted, err := store.CreateTreasuryDeposit(ctx, params)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to record treasury deposit %s: %w", ev.Signature, err)
	}
	if !inserted {
		// Lost a race with a concurrent delivery of the same signature.
		e.logger.Debug("treasury deposit already recorded", "signature", ev.Signature)
	}

	e.logger.Info("treasury deposit recorded",
		"signature", ev.Signature,
		"amount", total,
		"from", from,
		"type", depositType,
	)
	if e.metrics != nil {
		e.metrics.RecordDepositClassified(string(depositType))
	}

	if err := e.recordLedger(ctx, store, db.CreateLedgerEntryParams{
		Signature: ev.Signature,
		TxType:    db.TxDeposit,
		Amount:    total,
		EscrowPDA: params.EscrowPDA,
		AssetMint: params.AssetMint,
	}); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

// classifyDeposit decides what a treasury inflow is. Classification is
// three-tiered and deterministic for a fixed store state:
//
//  1. escrow_fee when the sender matches an open, priced escrow and the
//     amount is within tolerance of the configured royalty on its listing
//     price;
//  2. platform_fee when the transaction's instruction trace touches the
//     marketplace program;
//  3. direct_deposit otherwise.
func (e *Engine) classifyDeposit(ctx context.Context, store Store, from string, amount int64, instructions []events.Instruction) (db.DepositType, *db.Escrow, error) {
	esc, err := store.GetOpenEscrowBySender(ctx, from)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return "", nil, fmt.Errorf("failed to match deposit sender %s to escrow: %w", from, err)
	}
	if esc != nil && esc.ListingPrice != nil {
		expected := *esc.ListingPrice * e.cfg.EscrowRoyaltyBps / 10000
		tolerance := expected * e.cfg.RoyaltyToleranceBps / 10000
		diff := amount - expected
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			return db.DepositEscrowFee, esc, nil
		}
	}

	for _, inst := range instructions {
		if inst.ProgramID == e.cfg.MarketplaceProgramID {
			return db.DepositPlatformFee, nil, nil
		}
	}

	return db.DepositDirectDeposit, nil, nil
}
