package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// Split normalizes a webhook body into individual raw event payloads. Both
// sources may POST either a single JSON object or an array of objects.
func Split(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty request body")
	}

	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("invalid event array: %w", err)
		}
		return raws, nil
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid event object: %w", err)
	}
	return []json.RawMessage{raw}, nil
}

// chainEnvelope is the wire shape of one chain-indexer notification
// (enhanced-transaction format).
type chainEnvelope struct {
	Type            string `json:"type"`
	Signature       string `json:"signature"`
	Slot            int64  `json:"slot"`
	Timestamp       int64  `json:"timestamp"`
	NativeTransfers []struct {
		FromUserAccount string `json:"fromUserAccount"`
		ToUserAccount   string `json:"toUserAccount"`
		Amount          int64  `json:"amount"`
	} `json:"nativeTransfers"`
	AccountData []struct {
		Account             string `json:"account"`
		NativeBalanceChange int64  `json:"nativeBalanceChange"`
	} `json:"accountData"`
	Instructions []struct {
		ProgramID string `json:"programId"`
	} `json:"instructions"`
	Events struct {
		NFT *struct {
			Mint   string `json:"mint"`
			Buyer  string `json:"buyer"`
			Seller string `json:"seller"`
			Owner  string `json:"owner"`
			Escrow string `json:"escrow"`
			Amount int64  `json:"amount"`
		} `json:"nft"`
	} `json:"events"`
}

// chainKinds maps the indexer's transaction type strings onto the closed
// kind set. Absent entries classify as KindUnknown.
var chainKinds = map[string]Kind{
	"NFT_SALE":               KindAssetSale,
	"NFT_LISTING":            KindAssetListed,
	"NFT_CANCEL_LISTING":     KindAssetListingCancelled,
	"NFT_MINT":               KindAssetMinted,
	"TRANSFER":               KindAssetTransferred,
	"BURN":                   KindAssetBurned,
	"ACCOUNT_BALANCE_UPDATE": KindAccountBalanceUpdate,
	"NATIVE_TRANSFER":        KindNativeTransfer,
	"SWAP":                   KindTokenSwap,
}

// ParseChainEvent classifies one raw chain-indexer payload. A payload that
// cannot be parsed into a known variant is rejected whole; there is no
// partial interpretation. Unknown type strings produce a KindUnknown event,
// which the engine logs and drops.
func ParseChainEvent(raw json.RawMessage) (*Event, error) {
	var env chainEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed chain event: %w", err)
	}
	if err := validateSignature(env.Signature); err != nil {
		return nil, err
	}

	ev := &Event{
		Kind:      KindUnknown,
		Source:    SourceChain,
		RawType:   env.Type,
		Signature: env.Signature,
		Slot:      env.Slot,
		Timestamp: time.Unix(env.Timestamp, 0).UTC(),
	}
	if kind, ok := chainKinds[env.Type]; ok {
		ev.Kind = kind
	}

	for _, nt := range env.NativeTransfers {
		ev.NativeTransfers = append(ev.NativeTransfers, NativeTransfer{
			From: nt.FromUserAccount, To: nt.ToUserAccount, Amount: nt.Amount,
		})
	}
	for _, ad := range env.AccountData {
		ev.BalanceChanges = append(ev.BalanceChanges, BalanceChange{
			Account: ad.Account, Delta: ad.NativeBalanceChange,
		})
	}
	for _, in := range env.Instructions {
		ev.Instructions = append(ev.Instructions, Instruction{ProgramID: in.ProgramID})
	}

	nft := env.Events.NFT
	switch ev.Kind {
	case KindAssetSale:
		if nft == nil || nft.Mint == "" {
			return nil, fmt.Errorf("sale event %s missing nft section", env.Signature)
		}
		ev.Sale = &SaleDetails{
			AssetMint: nft.Mint, Buyer: nft.Buyer, Seller: nft.Seller, Amount: nft.Amount,
		}
	case KindAssetListed, KindAssetListingCancelled:
		if nft == nil || nft.Mint == "" {
			return nil, fmt.Errorf("listing event %s missing nft section", env.Signature)
		}
		ev.Listing = &ListingDetails{
			AssetMint: nft.Mint, EscrowPDA: nft.Escrow, Seller: nft.Seller, Price: nft.Amount,
		}
	case KindAssetMinted:
		if nft == nil || nft.Mint == "" {
			return nil, fmt.Errorf("mint event %s missing nft section", env.Signature)
		}
		ev.Mint = &MintDetails{AssetMint: nft.Mint, Owner: nft.Owner}
	case KindAssetTransferred:
		if nft == nil || nft.Mint == "" {
			return nil, fmt.Errorf("transfer event %s missing nft section", env.Signature)
		}
		ev.Transfer = &TransferDetails{AssetMint: nft.Mint, From: nft.Seller, To: nft.Owner}
	case KindAssetBurned:
		if nft == nil || nft.Mint == "" {
			return nil, fmt.Errorf("burn event %s missing nft section", env.Signature)
		}
		ev.Burn = &BurnDetails{AssetMint: nft.Mint, Owner: nft.Owner}
	case KindAccountBalanceUpdate:
		if len(ev.BalanceChanges) == 0 {
			return nil, fmt.Errorf("balance-update event %s has no account data", env.Signature)
		}
	case KindNativeTransfer:
		if len(ev.NativeTransfers) == 0 {
			return nil, fmt.Errorf("native-transfer event %s has no transfers", env.Signature)
		}
	}

	return ev, nil
}

// tradingEnvelope is the wire shape of one trading-service notification.
type tradingEnvelope struct {
	Event          string `json:"event"`
	Signature      string `json:"signature"`
	Timestamp      int64  `json:"timestamp"`
	Mint           string `json:"mint"`
	Trader         string `json:"trader"`
	Side           string `json:"side"`
	TokenAmount    int64  `json:"tokenAmount"`
	PriceLamports  int64  `json:"priceLamports"`
	AmountLamports int64  `json:"amountLamports"`
	PartnerFee     int64  `json:"partnerFeeLamports"`
	PartnerFeeFrom string `json:"partnerFeePayer"`
	FeeRecipient   string `json:"feeRecipient"`
	TokenStatus    string `json:"tokenStatus"`
	LiquidityModel string `json:"liquidityModel"`
}

var tradingKinds = map[string]Kind{
	"trade":               KindTradeExecuted,
	"pool_created":        KindPoolCreated,
	"pool_updated":        KindPoolUpdated,
	"graduated":           KindTokenGraduated,
	"partner_fee_earned":  KindPartnerFeeEarned,
	"partner_fee_claimed": KindPartnerFeeClaimed,
	"liquidity_added":     KindLiquidityAdded,
	"liquidity_removed":   KindLiquidityRemoved,
}

// ParseTradeEvent classifies one raw trading-service payload.
func ParseTradeEvent(raw json.RawMessage) (*Event, error) {
	var env tradingEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed trading event: %w", err)
	}
	if err := validateSignature(env.Signature); err != nil {
		return nil, err
	}

	ev := &Event{
		Kind:      KindUnknown,
		Source:    SourceTrading,
		RawType:   env.Event,
		Signature: env.Signature,
		Timestamp: time.Unix(env.Timestamp, 0).UTC(),
	}
	if kind, ok := tradingKinds[env.Event]; ok {
		ev.Kind = kind
	}
	if ev.Kind != KindUnknown && env.Mint == "" {
		return nil, fmt.Errorf("trading event %s missing mint", env.Signature)
	}

	switch ev.Kind {
	case KindTradeExecuted:
		if env.TokenAmount <= 0 || env.PriceLamports < 0 {
			return nil, fmt.Errorf("trade event %s has invalid amount or price", env.Signature)
		}
		ev.Trade = &TradeDetails{
			TokenMint:      env.Mint,
			Trader:         env.Trader,
			Side:           env.Side,
			TokenAmount:    env.TokenAmount,
			PriceLamports:  env.PriceLamports,
			PartnerFee:     env.PartnerFee,
			PartnerFeeFrom: env.PartnerFeeFrom,
			FeeRecipient:   env.FeeRecipient,
		}
	case KindPoolCreated, KindPoolUpdated, KindTokenGraduated:
		ev.Pool = &PoolDetails{
			TokenMint:      env.Mint,
			TokenStatus:    env.TokenStatus,
			LiquidityModel: env.LiquidityModel,
		}
	case KindPartnerFeeEarned, KindPartnerFeeClaimed:
		if env.AmountLamports <= 0 {
			return nil, fmt.Errorf("fee event %s has invalid amount", env.Signature)
		}
		ev.Fee = &FeeDetails{
			TokenMint: env.Mint,
			Amount:    env.AmountLamports,
			Recipient: env.FeeRecipient,
			From:      env.Trader,
		}
	case KindLiquidityAdded, KindLiquidityRemoved:
		if env.AmountLamports <= 0 {
			return nil, fmt.Errorf("liquidity event %s has invalid amount", env.Signature)
		}
		ev.Liquidity = &LiquidityDetails{TokenMint: env.Mint, Amount: env.AmountLamports}
	}

	return ev, nil
}

// validateSignature rejects payloads whose transaction signature is missing
// or not valid base58. The signature is the global idempotency key, so a
// garbage value here would defeat deduplication.
func validateSignature(sig string) error {
	if sig == "" {
		return fmt.Errorf("event missing transaction signature")
	}
	if _, err := solanago.SignatureFromBase58(sig); err != nil {
		return fmt.Errorf("invalid transaction signature %q: %w", sig, err)
	}
	return nil
}
