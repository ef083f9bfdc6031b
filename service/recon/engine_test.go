package recon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/luxledger/service/config"
	"github.com/brojonat/luxledger/service/db"
	"github.com/brojonat/luxledger/service/events"
	"github.com/brojonat/luxledger/service/metrics"
	"github.com/brojonat/luxledger/service/nats"
)

const (
	testTreasury    = "TreasuryAddr11111111111111111111"
	testMarketplace = "MarketProgram1111111111111111111"
)

// testSig builds a distinct, valid base58 signature: 63 leading '1'
// characters decode to zero bytes, so the final character is the only thing
// that varies.
func testSig(c string) string {
	return strings.Repeat("1", 63) + c
}

func newTestEngine(t *testing.T) (*Engine, *MockStore, *nats.MockPublisher) {
	t.Helper()
	store := NewMockStore()
	publisher := nats.NewMockPublisher()
	cfg := &config.Config{
		TreasuryAddress:      testTreasury,
		MarketplaceProgramID: testMarketplace,
		EscrowRoyaltyBps:     250,
		RoyaltyToleranceBps:  100,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewEngine(store, cfg, publisher, m, logger), store, publisher
}

// chainEvent marshals a chain-indexer payload for tests.
func chainEvent(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func seedListedEscrow(store *MockStore, pda, mint, seller string, price int64) *db.Escrow {
	esc := &db.Escrow{
		EscrowPDA:    pda,
		AssetMint:    mint,
		Seller:       seller,
		Status:       db.EscrowListed,
		ListingPrice: &price,
		CreatedAt:    time.Now(),
	}
	store.AddEscrow(esc)
	return esc
}

func TestProcessBatch_ListingApplied(t *testing.T) {
	engine, store, publisher := newTestEngine(t)
	store.AddEscrow(&db.Escrow{EscrowPDA: "escrow-1", AssetMint: "mint-1", Seller: "seller-1"})

	sig := testSig("2")
	raw := chainEvent(t, map[string]any{
		"type":      "NFT_LISTING",
		"signature": sig,
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{
				"mint":   "mint-1",
				"escrow": "escrow-1",
				"seller": "seller-1",
				"amount": int64(5_000_000),
			},
		},
	})

	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Failed: 0, Total: 1}, summary)

	esc, err := store.GetEscrow(context.Background(), "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, db.EscrowListed, esc.Status)
	require.NotNil(t, esc.ListingPrice)
	assert.Equal(t, int64(5_000_000), *esc.ListingPrice)

	entry := store.GetLedger(sig)
	require.NotNil(t, entry)
	assert.Equal(t, db.TxListing, entry.TxType)

	published := publisher.GetPublishedEventsForEntity("escrow-1")
	require.Len(t, published, 1)
	assert.Equal(t, "listed", published[0].Change)
}

func TestProcessBatch_DuplicateDelivery(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	store.AddEscrow(&db.Escrow{EscrowPDA: "escrow-1", AssetMint: "mint-1", Seller: "seller-1"})

	sig := testSig("3")
	raw := chainEvent(t, map[string]any{
		"type":      "NFT_LISTING",
		"signature": sig,
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{"mint": "mint-1", "escrow": "escrow-1", "amount": int64(100)},
		},
	})

	first := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	second := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})

	// Both deliveries succeed; the second is a verified no-op.
	assert.Equal(t, Summary{Processed: 1, Total: 1}, first)
	assert.Equal(t, Summary{Processed: 1, Total: 1}, second)
	assert.Equal(t, 1, store.LedgerCount())

	esc, err := store.GetEscrow(context.Background(), "escrow-1")
	require.NoError(t, err)
	assert.Len(t, esc.Audit, 1)
}

func TestProcessBatch_OutOfOrderFunding(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	store.AddEscrow(&db.Escrow{EscrowPDA: "escrow-1", AssetMint: "mint-1", Seller: "seller-1"})

	fundSig := testSig("4")
	fundRaw := chainEvent(t, map[string]any{
		"type":      "ACCOUNT_BALANCE_UPDATE",
		"signature": fundSig,
		"timestamp": time.Now().Unix(),
		"accountData": []map[string]any{
			{"account": "escrow-1", "nativeBalanceChange": int64(5_000_000)},
		},
	})
	listRaw := chainEvent(t, map[string]any{
		"type":      "NFT_LISTING",
		"signature": testSig("5"),
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{"mint": "mint-1", "escrow": "escrow-1", "amount": int64(5_000_000)},
		},
	})

	// Funding arrives before the listing: dropped by the status guard, but
	// still a successful delivery. No ledger row is written for the drop, so
	// the sender's redelivery can apply it once the listing has landed.
	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{fundRaw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)
	esc, err := store.GetEscrow(context.Background(), "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, db.EscrowInitiated, esc.Status)
	assert.Nil(t, store.GetLedger(fundSig))

	engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{listRaw})
	engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{fundRaw})

	esc, err = store.GetEscrow(context.Background(), "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, db.EscrowFunded, esc.Status)
	require.NotNil(t, esc.FundedAmount)
	assert.Equal(t, int64(5_000_000), *esc.FundedAmount)
}

func TestProcessBatch_PartialBatchIsolation(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	store.AddEscrow(&db.Escrow{EscrowPDA: "escrow-1", AssetMint: "mint-1", Seller: "seller-1"})
	store.AddAsset(&db.Asset{Mint: "mint-2", Owner: "owner-2"})

	good1 := chainEvent(t, map[string]any{
		"type":      "NFT_LISTING",
		"signature": testSig("6"),
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{"mint": "mint-1", "escrow": "escrow-1", "amount": int64(100)},
		},
	})
	bad := json.RawMessage(`{"type": "NFT_MINT", "signature": "not-base58!!"}`)
	good2 := chainEvent(t, map[string]any{
		"type":      "NFT_MINT",
		"signature": testSig("7"),
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{"mint": "mint-2", "owner": "owner-2"},
		},
	})

	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{good1, bad, good2})
	assert.Equal(t, Summary{Processed: 2, Failed: 1, Total: 3}, summary)

	esc, err := store.GetEscrow(context.Background(), "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, db.EscrowListed, esc.Status)

	asset, err := store.GetAsset(context.Background(), "mint-2")
	require.NoError(t, err)
	require.NotNil(t, asset.MintSignature)
	assert.Equal(t, testSig("7"), *asset.MintSignature)
}

func TestSale_NoEscrowStillUpdatesOwner(t *testing.T) {
	engine, store, publisher := newTestEngine(t)
	store.AddAsset(&db.Asset{Mint: "mint-9", Owner: "seller-9"})

	sig := testSig("8")
	raw := chainEvent(t, map[string]any{
		"type":      "NFT_SALE",
		"signature": sig,
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{
				"mint":   "mint-9",
				"buyer":  "buyer-9",
				"seller": "seller-9",
				"amount": int64(42),
			},
		},
	})

	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)

	asset, err := store.GetAsset(context.Background(), "mint-9")
	require.NoError(t, err)
	assert.Equal(t, "buyer-9", asset.Owner)
	assert.Len(t, asset.TransferHistory, 1)

	entry := store.GetLedger(sig)
	require.NotNil(t, entry)
	assert.Equal(t, db.TxSale, entry.TxType)
	assert.Nil(t, entry.EscrowPDA)

	assert.Len(t, publisher.GetPublishedEventsForEntity("mint-9"), 1)
}

func TestSale_ForcesEscrowReleased(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	store.AddAsset(&db.Asset{Mint: "mint-1", Owner: "seller-1"})
	seedListedEscrow(store, "escrow-1", "mint-1", "seller-1", 1_000_000)

	raw := chainEvent(t, map[string]any{
		"type":      "NFT_SALE",
		"signature": testSig("9"),
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{
				"mint":   "mint-1",
				"buyer":  "buyer-1",
				"seller": "seller-1",
				"amount": int64(1_000_000),
			},
		},
	})

	engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})

	esc, err := store.GetEscrow(context.Background(), "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, db.EscrowReleased, esc.Status)
	require.NotNil(t, esc.Buyer)
	assert.Equal(t, "buyer-1", *esc.Buyer)
}

func TestBurn_CascadesEscrowCancellation(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	store.AddAsset(&db.Asset{Mint: "mint-1", Owner: "seller-1"})
	seedListedEscrow(store, "escrow-1", "mint-1", "seller-1", 500)

	raw := chainEvent(t, map[string]any{
		"type":      "BURN",
		"signature": testSig("A"),
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{"mint": "mint-1", "owner": "seller-1"},
		},
	})

	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)

	asset, err := store.GetAsset(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, db.AssetBurned, asset.Status)

	esc, err := store.GetEscrow(context.Background(), "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, db.EscrowCancelled, esc.Status)
	require.NotNil(t, esc.CancelReason)
	assert.Equal(t, "asset burned", *esc.CancelReason)
}

func TestListingCancel_StaleAfterFunding(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	amount := int64(1_000)
	esc := seedListedEscrow(store, "escrow-1", "mint-1", "seller-1", 1_000)
	esc.Status = db.EscrowFunded
	esc.FundedAmount = &amount

	raw := chainEvent(t, map[string]any{
		"type":      "NFT_CANCEL_LISTING",
		"signature": testSig("B"),
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{"mint": "mint-1", "escrow": "escrow-1"},
		},
	})

	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)

	got, err := store.GetEscrow(context.Background(), "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, db.EscrowFunded, got.Status)
	assert.Nil(t, store.GetLedger(testSig("B")))
}

func TestDepositClassification(t *testing.T) {
	tests := []struct {
		name         string
		from         string
		amount       int64
		instructions []map[string]any
		seed         func(store *MockStore)
		wantType     db.DepositType
	}{
		{
			name:   "escrow fee within tolerance",
			from:   "seller-1",
			amount: 25_100, // 250 bps of 10_000_000 is 25_000; tolerance is 250
			seed: func(store *MockStore) {
				seedListedEscrow(store, "escrow-1", "mint-1", "seller-1", 10_000_000)
			},
			wantType: db.DepositEscrowFee,
		},
		{
			name:   "amount outside tolerance falls through to platform fee",
			from:   "seller-1",
			amount: 30_000,
			seed: func(store *MockStore) {
				seedListedEscrow(store, "escrow-1", "mint-1", "seller-1", 10_000_000)
			},
			instructions: []map[string]any{{"programId": testMarketplace}},
			wantType:     db.DepositPlatformFee,
		},
		{
			name:         "marketplace program in trace",
			from:         "random-sender",
			amount:       999,
			instructions: []map[string]any{{"programId": "OtherProg"}, {"programId": testMarketplace}},
			wantType:     db.DepositPlatformFee,
		},
		{
			name:     "unmatched sender is a direct deposit",
			from:     "random-sender",
			amount:   999,
			wantType: db.DepositDirectDeposit,
		},
		{
			// 250 bps of 2_000 is 50; 1% of that is under one lamport, so
			// only the exact royalty qualifies.
			name:   "sub-lamport tolerance accepts the exact royalty",
			from:   "seller-1",
			amount: 50,
			seed: func(store *MockStore) {
				seedListedEscrow(store, "escrow-1", "mint-1", "seller-1", 2_000)
			},
			wantType: db.DepositEscrowFee,
		},
		{
			name:   "sub-lamport tolerance rejects one lamport over",
			from:   "seller-1",
			amount: 51,
			seed: func(store *MockStore) {
				seedListedEscrow(store, "escrow-1", "mint-1", "seller-1", 2_000)
			},
			wantType: db.DepositDirectDeposit,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, store, _ := newTestEngine(t)
			if tt.seed != nil {
				tt.seed(store)
			}

			sig := testSig(string("CDEFVW"[i]))
			fields := map[string]any{
				"type":      "NATIVE_TRANSFER",
				"signature": sig,
				"timestamp": time.Now().Unix(),
				"nativeTransfers": []map[string]any{
					{"fromUserAccount": tt.from, "toUserAccount": testTreasury, "amount": tt.amount},
				},
			}
			if tt.instructions != nil {
				fields["instructions"] = tt.instructions
			}

			summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{chainEvent(t, fields)})
			assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)

			dep := store.GetDeposit(sig)
			require.NotNil(t, dep)
			assert.Equal(t, tt.wantType, dep.DepositType)
			assert.Equal(t, tt.amount, dep.Amount)
			if tt.wantType == db.DepositEscrowFee {
				require.NotNil(t, dep.EscrowPDA)
				assert.Equal(t, "escrow-1", *dep.EscrowPDA)
			}
		})
	}
}

func TestNativeTransfer_NotToTreasuryIgnored(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	sig := testSig("G")
	raw := chainEvent(t, map[string]any{
		"type":      "NATIVE_TRANSFER",
		"signature": sig,
		"timestamp": time.Now().Unix(),
		"nativeTransfers": []map[string]any{
			{"fromUserAccount": "a", "toUserAccount": "b", "amount": int64(5)},
		},
	})

	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)
	assert.Nil(t, store.GetDeposit(sig))
	assert.Nil(t, store.GetLedger(sig))
}

func TestTrade_UpdatesPoolAndRecordsPartnerFee(t *testing.T) {
	engine, store, publisher := newTestEngine(t)
	token := "token-mint-1"
	store.AddPool(&db.Pool{ID: "pool-1", AssetMint: "mint-1", TokenMint: &token})

	sig := testSig("H")
	raw, err := json.Marshal(map[string]any{
		"event":              "trade",
		"signature":          sig,
		"timestamp":          time.Now().Unix(),
		"mint":               token,
		"trader":             "trader-1",
		"side":               "buy",
		"tokenAmount":        int64(10),
		"priceLamports":      int64(2_000),
		"partnerFeeLamports": int64(50),
	})
	require.NoError(t, err)

	summary := engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)

	pool, err := store.GetPoolByTokenMint(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.TradeCount)
	assert.Equal(t, int64(20_000), pool.TotalVolume)
	require.NotNil(t, pool.LastPrice)
	assert.Equal(t, int64(2_000), *pool.LastPrice)

	dep := store.GetDeposit(sig)
	require.NotNil(t, dep)
	assert.Equal(t, db.DepositPoolRoyalty, dep.DepositType)
	assert.Equal(t, int64(50), dep.Amount)

	entry := store.GetLedger(sig)
	require.NotNil(t, entry)
	assert.Equal(t, db.TxTrade, entry.TxType)

	assert.Len(t, publisher.GetPublishedEventsForEntity(token), 1)
}

func TestTrade_FailedDeliveryRollsBackAndRedeliveryApplies(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	token := "token-mint-1"
	store.AddPool(&db.Pool{ID: "pool-1", AssetMint: "mint-1", TokenMint: &token})

	sig := testSig("S")
	raw, err := json.Marshal(map[string]any{
		"event":         "trade",
		"signature":     sig,
		"timestamp":     time.Now().Unix(),
		"mint":          token,
		"trader":        "trader-1",
		"side":          "buy",
		"tokenAmount":   int64(10),
		"priceLamports": int64(2_000),
	})
	require.NoError(t, err)

	// The first delivery dies between the pool update and the ledger row;
	// the whole application must roll back.
	store.SetError("CreateLedgerEntry", assert.AnError)
	summary := engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{raw})
	assert.Equal(t, Summary{Failed: 1, Total: 1}, summary)

	pool, err := store.GetPoolByTokenMint(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pool.TradeCount)
	assert.Equal(t, int64(0), pool.TotalVolume)
	assert.Nil(t, store.GetLedger(sig))

	// The redelivery is then the only application that counts.
	store.SetError("CreateLedgerEntry", nil)
	summary = engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)

	pool, err = store.GetPoolByTokenMint(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.TradeCount)
	assert.Equal(t, int64(20_000), pool.TotalVolume)
	require.NotNil(t, store.GetLedger(sig))
}

func TestTransfer_FailedDeliveryDoesNotDuplicateHistory(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	store.AddAsset(&db.Asset{Mint: "mint-1", Owner: "owner-1"})

	raw := chainEvent(t, map[string]any{
		"type":      "TRANSFER",
		"signature": testSig("T"),
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{"mint": "mint-1", "seller": "owner-1", "owner": "owner-2"},
		},
	})

	store.SetError("CreateLedgerEntry", assert.AnError)
	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Failed: 1, Total: 1}, summary)

	asset, err := store.GetAsset(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", asset.Owner)
	assert.Empty(t, asset.TransferHistory)

	store.SetError("CreateLedgerEntry", nil)
	summary = engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)

	asset, err = store.GetAsset(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-2", asset.Owner)
	assert.Len(t, asset.TransferHistory, 1)
}

func TestTrade_VolumeOverflowFails(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	token := "token-mint-1"
	store.AddPool(&db.Pool{ID: "pool-1", AssetMint: "mint-1", TokenMint: &token})

	raw, err := json.Marshal(map[string]any{
		"event":         "trade",
		"signature":     testSig("U"),
		"timestamp":     time.Now().Unix(),
		"mint":          token,
		"trader":        "trader-1",
		"side":          "buy",
		"tokenAmount":   int64(1) << 40,
		"priceLamports": int64(1) << 40,
	})
	require.NoError(t, err)

	summary := engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{raw})
	assert.Equal(t, Summary{Failed: 1, Total: 1}, summary)

	pool, err := store.GetPoolByTokenMint(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pool.TradeCount)
	assert.Equal(t, int64(0), pool.TotalVolume)
}

func TestTrade_UnknownPoolIgnored(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	sig := testSig("J")
	raw, err := json.Marshal(map[string]any{
		"event":         "trade",
		"signature":     sig,
		"timestamp":     time.Now().Unix(),
		"mint":          "no-such-token",
		"tokenAmount":   int64(1),
		"priceLamports": int64(1),
	})
	require.NoError(t, err)

	summary := engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)
	assert.Nil(t, store.GetLedger(sig))
}

func TestGraduation_Idempotent(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	token := "token-mint-1"
	store.AddPool(&db.Pool{ID: "pool-1", AssetMint: "mint-1", TokenMint: &token})

	first, err := json.Marshal(map[string]any{
		"event": "graduated", "signature": testSig("K"),
		"timestamp": time.Now().Unix(), "mint": token,
	})
	require.NoError(t, err)
	second, err := json.Marshal(map[string]any{
		"event": "graduated", "signature": testSig("L"),
		"timestamp": time.Now().Add(time.Hour).Unix(), "mint": token,
	})
	require.NoError(t, err)

	engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{first})
	pool, err := store.GetPoolByTokenMint(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, pool.GraduatedAt)
	originalAt := *pool.GraduatedAt

	// A second graduation with a fresh signature is dropped by the guard and
	// keeps the original graduation time.
	summary := engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{second})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)
	pool, err = store.GetPoolByTokenMint(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, pool.GraduatedAt.Equal(originalAt))
}

func TestLiquidity_AddAndRemove(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	token := "token-mint-1"
	store.AddPool(&db.Pool{ID: "pool-1", AssetMint: "mint-1", TokenMint: &token})

	add, err := json.Marshal(map[string]any{
		"event": "liquidity_added", "signature": testSig("M"),
		"timestamp": time.Now().Unix(), "mint": token, "amountLamports": int64(1_000),
	})
	require.NoError(t, err)
	remove, err := json.Marshal(map[string]any{
		"event": "liquidity_removed", "signature": testSig("N"),
		"timestamp": time.Now().Unix(), "mint": token, "amountLamports": int64(400),
	})
	require.NoError(t, err)

	engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{add})
	engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{remove})

	pool, err := store.GetPoolByTokenMint(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(600), pool.Liquidity)
}

func TestPartnerFeeEarned_RecordsDeposit(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	token := "token-mint-1"
	store.AddPool(&db.Pool{ID: "pool-1", AssetMint: "mint-1", TokenMint: &token})

	sig := testSig("P")
	raw, err := json.Marshal(map[string]any{
		"event": "partner_fee_earned", "signature": sig,
		"timestamp": time.Now().Unix(), "mint": token,
		"amountLamports": int64(750), "trader": "payer-1",
	})
	require.NoError(t, err)

	engine.ProcessBatch(context.Background(), events.SourceTrading, []json.RawMessage{raw})

	dep := store.GetDeposit(sig)
	require.NotNil(t, dep)
	assert.Equal(t, db.DepositPoolRoyalty, dep.DepositType)
	require.NotNil(t, dep.PoolID)
	assert.Equal(t, "pool-1", *dep.PoolID)
}

func TestUnknownKind_LoggedAndDropped(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	sig := testSig("Q")
	raw := chainEvent(t, map[string]any{
		"type":      "STAKE_DELEGATE",
		"signature": sig,
		"timestamp": time.Now().Unix(),
	})

	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 1, Total: 1}, summary)
	assert.Nil(t, store.GetLedger(sig))
}

func TestStoreError_CountsAsFailed(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	store.SetError("LedgerEntryExists", assert.AnError)

	raw := chainEvent(t, map[string]any{
		"type":      "NFT_LISTING",
		"signature": testSig("R"),
		"timestamp": time.Now().Unix(),
		"events": map[string]any{
			"nft": map[string]any{"mint": "mint-1", "escrow": "escrow-1", "amount": int64(1)},
		},
	})

	summary := engine.ProcessBatch(context.Background(), events.SourceChain, []json.RawMessage{raw})
	assert.Equal(t, Summary{Processed: 0, Failed: 1, Total: 1}, summary)
}
