package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscrowLifecycle(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	esc, err := ts.CreateEscrow(ctx, CreateEscrowParams{
		EscrowPDA: "escrow-1", AssetMint: "mint-1", Seller: "seller-1",
	})
	require.NoError(t, err)
	assert.Equal(t, EscrowInitiated, esc.Status)
	assert.Empty(t, esc.Audit)

	// initiated -> listed
	esc, err = ts.MarkEscrowListed(ctx, "escrow-1", 1_000_000, "sig-list", now)
	require.NoError(t, err)
	assert.Equal(t, EscrowListed, esc.Status)
	require.NotNil(t, esc.ListingPrice)
	assert.Equal(t, int64(1_000_000), *esc.ListingPrice)
	require.Len(t, esc.Audit, 1)
	assert.Equal(t, "listed", esc.Audit[0].Transition)

	// A replayed listing is rejected by the status guard.
	_, err = ts.MarkEscrowListed(ctx, "escrow-1", 1_000_000, "sig-list-2", now)
	assert.ErrorIs(t, err, ErrNotApplied)

	// listed -> funded
	esc, err = ts.MarkEscrowFunded(ctx, "escrow-1", 1_000_000, "sig-fund", now)
	require.NoError(t, err)
	assert.Equal(t, EscrowFunded, esc.Status)
	require.Len(t, esc.Audit, 2)

	// Funding is write-once.
	_, err = ts.MarkEscrowFunded(ctx, "escrow-1", 2_000_000, "sig-fund-2", now)
	assert.ErrorIs(t, err, ErrNotApplied)

	// A stale listing cancel must not fire after funding.
	_, err = ts.RevertEscrowListing(ctx, "escrow-1", "sig-cancel", now)
	assert.ErrorIs(t, err, ErrNotApplied)

	// funded -> released
	esc, err = ts.ReleaseEscrowFromFunded(ctx, "escrow-1", "sig-release", now)
	require.NoError(t, err)
	assert.Equal(t, EscrowReleased, esc.Status)

	// Released is terminal for the force path too.
	_, err = ts.ForceEscrowReleased(ctx, "escrow-1", "buyer-1", "sig-sale", now)
	assert.ErrorIs(t, err, ErrNotApplied)
}

func TestRevertEscrowListingClearsPrice(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()
	now := time.Now().UTC()

	_, err := ts.CreateEscrow(ctx, CreateEscrowParams{EscrowPDA: "escrow-1", AssetMint: "mint-1", Seller: "s"})
	require.NoError(t, err)
	_, err = ts.MarkEscrowListed(ctx, "escrow-1", 500, "sig-1", now)
	require.NoError(t, err)

	esc, err := ts.RevertEscrowListing(ctx, "escrow-1", "sig-2", now)
	require.NoError(t, err)
	assert.Equal(t, EscrowInitiated, esc.Status)
	assert.Nil(t, esc.ListingPrice)
	assert.Nil(t, esc.ListedAt)
}

func TestGetOpenEscrowBySender(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()
	now := time.Now().UTC()

	_, err := ts.CreateEscrow(ctx, CreateEscrowParams{EscrowPDA: "escrow-1", AssetMint: "mint-1", Seller: "seller-1"})
	require.NoError(t, err)

	// Unpriced escrows never match.
	_, err = ts.GetOpenEscrowBySender(ctx, "seller-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ts.MarkEscrowListed(ctx, "escrow-1", 1_000, "sig-1", now)
	require.NoError(t, err)

	// Matches by seller and by escrow address.
	esc, err := ts.GetOpenEscrowBySender(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, "escrow-1", esc.EscrowPDA)
	esc, err = ts.GetOpenEscrowBySender(ctx, "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, "escrow-1", esc.EscrowPDA)

	// Terminal escrows stop matching.
	_, err = ts.ForceEscrowReleased(ctx, "escrow-1", "buyer-1", "sig-2", now)
	require.NoError(t, err)
	_, err = ts.GetOpenEscrowBySender(ctx, "seller-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelEscrowsByAssetMint(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()
	now := time.Now().UTC()

	_, err := ts.CreateEscrow(ctx, CreateEscrowParams{EscrowPDA: "escrow-1", AssetMint: "mint-1", Seller: "s1"})
	require.NoError(t, err)
	_, err = ts.CreateEscrow(ctx, CreateEscrowParams{EscrowPDA: "escrow-2", AssetMint: "mint-1", Seller: "s2"})
	require.NoError(t, err)
	_, err = ts.ForceEscrowReleased(ctx, "escrow-2", "buyer", "sig-r", now)
	require.NoError(t, err)

	count, err := ts.CancelEscrowsByAssetMint(ctx, "mint-1", "asset burned", "sig-burn", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	esc, err := ts.GetEscrow(ctx, "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, EscrowCancelled, esc.Status)

	// Released escrows are untouched by the cascade.
	esc, err = ts.GetEscrow(ctx, "escrow-2")
	require.NoError(t, err)
	assert.Equal(t, EscrowReleased, esc.Status)
}

func TestAssetTransferAndMintGuard(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()
	now := time.Now().UTC()

	_, err := ts.CreateAsset(ctx, CreateAssetParams{Mint: "mint-1", Owner: "owner-1"})
	require.NoError(t, err)

	asset, err := ts.AttachAssetMintSignature(ctx, "mint-1", "sig-mint", now)
	require.NoError(t, err)
	require.NotNil(t, asset.MintSignature)

	// The mint signature is write-once.
	_, err = ts.AttachAssetMintSignature(ctx, "mint-1", "sig-mint-2", now)
	assert.ErrorIs(t, err, ErrNotApplied)

	asset, err = ts.AppendAssetTransfer(ctx, "mint-1", "owner-1", "owner-2", "sig-t1", now)
	require.NoError(t, err)
	assert.Equal(t, "owner-2", asset.Owner)
	require.Len(t, asset.TransferHistory, 1)

	asset, err = ts.AppendAssetTransfer(ctx, "mint-1", "owner-2", "owner-3", "sig-t2", now)
	require.NoError(t, err)
	assert.Equal(t, "owner-3", asset.Owner)
	assert.Len(t, asset.TransferHistory, 2)
	assert.Equal(t, asset.Owner, asset.TransferHistory[len(asset.TransferHistory)-1].To)

	_, err = ts.AppendAssetTransfer(ctx, "no-such-mint", "a", "b", "sig-t3", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTreasuryDepositWriteOnce(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()

	inserted, err := ts.CreateTreasuryDeposit(ctx, CreateTreasuryDepositParams{
		Signature: "sig-1", Amount: 100, FromAddress: "a", ToAddress: "treasury",
		DepositType: DepositDirectDeposit,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same signature again: atomic check-and-insert declines.
	inserted, err = ts.CreateTreasuryDeposit(ctx, CreateTreasuryDepositParams{
		Signature: "sig-1", Amount: 999, FromAddress: "b", ToAddress: "treasury",
		DepositType: DepositEscrowFee,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	dep, err := ts.GetTreasuryDeposit(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), dep.Amount)
	assert.Equal(t, DepositDirectDeposit, dep.DepositType)
	assert.False(t, dep.Verified)

	require.NoError(t, ts.SetTreasuryDepositVerified(ctx, "sig-1", true))
	dep, err = ts.GetTreasuryDeposit(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, dep.Verified)
}

func TestLedgerDeduplication(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()

	exists, err := ts.LedgerEntryExists(ctx, "sig-1")
	require.NoError(t, err)
	assert.False(t, exists)

	inserted, err := ts.CreateLedgerEntry(ctx, CreateLedgerEntryParams{
		Signature: "sig-1", TxType: TxSale, Amount: 42,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	exists, err = ts.LedgerEntryExists(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, exists)

	inserted, err = ts.CreateLedgerEntry(ctx, CreateLedgerEntryParams{
		Signature: "sig-1", TxType: TxMint,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	entry, err := ts.GetLedgerEntry(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, TxSale, entry.TxType)
	assert.Equal(t, "confirmed", entry.Status)
}

func TestWithTxRollsBack(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()
	token := "token-1"

	_, err := ts.CreatePool(ctx, CreatePoolParams{
		ID: "pool-1", AssetMint: "mint-1", TokenMint: &token,
	})
	require.NoError(t, err)

	// A failing callback must undo every write it made.
	boom := errors.New("boom")
	err = ts.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.RecordPoolTrade(ctx, token, 500, 100); err != nil {
			return err
		}
		if _, err := tx.CreateLedgerEntry(ctx, CreateLedgerEntryParams{
			Signature: "sig-1", TxType: TxTrade, Amount: 500,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	pool, err := ts.GetPoolByTokenMint(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pool.TradeCount)

	exists, err := ts.LedgerEntryExists(ctx, "sig-1")
	require.NoError(t, err)
	assert.False(t, exists)

	// A clean callback commits both writes.
	err = ts.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.RecordPoolTrade(ctx, token, 500, 100); err != nil {
			return err
		}
		_, err := tx.CreateLedgerEntry(ctx, CreateLedgerEntryParams{
			Signature: "sig-1", TxType: TxTrade, Amount: 500,
		})
		return err
	})
	require.NoError(t, err)

	pool, err = ts.GetPoolByTokenMint(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.TradeCount)

	exists, err = ts.LedgerEntryExists(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPoolTradeAccumulation(t *testing.T) {
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Truncate(t)

	ctx := context.Background()
	now := time.Now().UTC()
	token := "token-1"

	_, err := ts.CreatePool(ctx, CreatePoolParams{
		ID: "pool-1", AssetMint: "mint-1", TokenMint: &token,
	})
	require.NoError(t, err)

	pool, err := ts.RecordPoolTrade(ctx, token, 20_000, 2_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.TradeCount)
	assert.Equal(t, int64(20_000), pool.TotalVolume)

	pool, err = ts.RecordPoolTrade(ctx, token, 5_000, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pool.TradeCount)
	assert.Equal(t, int64(25_000), pool.TotalVolume)
	require.NotNil(t, pool.LastPrice)
	assert.Equal(t, int64(1_000), *pool.LastPrice)

	pool, err = ts.AdjustPoolLiquidity(ctx, token, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), pool.Liquidity)

	pool, err = ts.MarkPoolGraduated(ctx, token, now)
	require.NoError(t, err)
	assert.True(t, pool.Graduated)
	assert.Equal(t, PoolTokenUnlocked, pool.TokenStatus)

	_, err = ts.MarkPoolGraduated(ctx, token, now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotApplied)
}
