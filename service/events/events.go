// Package events defines the closed set of notification kinds the
// reconciliation engine consumes and the parsers that map the loosely-typed
// wire payloads of the two event sources onto them.
package events

import "time"

// Source identifies which external system delivered an event.
type Source string

const (
	SourceChain   Source = "chain"
	SourceTrading Source = "trading"
)

// Kind is the semantic classification of a notification. The set is closed;
// anything else maps to KindUnknown and is logged and dropped.
type Kind string

const (
	KindAssetSale             Kind = "asset-sale"
	KindAssetListed           Kind = "asset-listed"
	KindAssetListingCancelled Kind = "asset-listing-cancelled"
	KindAssetMinted           Kind = "asset-minted"
	KindAssetTransferred      Kind = "asset-transferred"
	KindAssetBurned           Kind = "asset-burned"
	KindAccountBalanceUpdate  Kind = "account-balance-update"
	KindNativeTransfer        Kind = "generic-native-transfer"
	KindTokenSwap             Kind = "token-swap"
	KindTradeExecuted         Kind = "trade-executed"
	KindPoolCreated           Kind = "pool-created"
	KindPoolUpdated           Kind = "pool-updated"
	KindTokenGraduated        Kind = "token-graduated"
	KindPartnerFeeEarned      Kind = "partner-fee-earned"
	KindPartnerFeeClaimed     Kind = "partner-fee-claimed"
	KindLiquidityAdded        Kind = "liquidity-added"
	KindLiquidityRemoved      Kind = "liquidity-removed"
	KindUnknown               Kind = "unknown"
)

// Event is the normalized form of one notification. Exactly the payload
// sections implied by Kind are populated; the rest are nil.
type Event struct {
	Kind      Kind
	Source    Source
	RawType   string
	Signature string
	Slot      int64
	Timestamp time.Time

	Sale      *SaleDetails
	Listing   *ListingDetails
	Mint      *MintDetails
	Transfer  *TransferDetails
	Burn      *BurnDetails
	Trade     *TradeDetails
	Pool      *PoolDetails
	Fee       *FeeDetails
	Liquidity *LiquidityDetails

	// BalanceChanges carries per-account native balance deltas for
	// account-balance-update events.
	BalanceChanges []BalanceChange

	// NativeTransfers carries the raw lamport movements of the transaction.
	// Populated for any chain event that reports them.
	NativeTransfers []NativeTransfer

	// Instructions carries the transaction's instruction trace (program ids
	// only). Used by the deposit classifier's program-address fallback.
	Instructions []Instruction
}

// SaleDetails describes an asset-sale event.
type SaleDetails struct {
	AssetMint string
	Buyer     string
	Seller    string
	Amount    int64
}

// ListingDetails describes an asset-listed or asset-listing-cancelled event.
type ListingDetails struct {
	AssetMint string
	EscrowPDA string
	Seller    string
	Price     int64
}

// MintDetails describes an asset-minted event.
type MintDetails struct {
	AssetMint string
	Owner     string
}

// TransferDetails describes an asset-transferred event.
type TransferDetails struct {
	AssetMint string
	From      string
	To        string
}

// BurnDetails describes an asset-burned event.
type BurnDetails struct {
	AssetMint string
	Owner     string
}

// BalanceChange is one account's signed native balance delta in lamports.
type BalanceChange struct {
	Account string
	Delta   int64
}

// NativeTransfer is one raw lamport movement between accounts.
type NativeTransfer struct {
	From   string
	To     string
	Amount int64
}

// Instruction is one entry in a transaction's instruction trace.
type Instruction struct {
	ProgramID string
}

// TradeDetails describes a trade-executed event from the trading service.
// Volume is priced in lamports via the reported unit price.
type TradeDetails struct {
	TokenMint      string
	Trader         string
	Side           string
	TokenAmount    int64
	PriceLamports  int64
	PartnerFee     int64
	FeeRecipient   string
	PartnerFeeFrom string
}

// PoolDetails describes a pool-created, pool-updated, or token-graduated
// event.
type PoolDetails struct {
	TokenMint      string
	TokenStatus    string
	LiquidityModel string
}

// FeeDetails describes a partner-fee-earned or partner-fee-claimed event.
type FeeDetails struct {
	TokenMint string
	Amount    int64
	Recipient string
	From      string
}

// LiquidityDetails describes a liquidity-added or liquidity-removed event.
type LiquidityDetails struct {
	TokenMint string
	Amount    int64
}
