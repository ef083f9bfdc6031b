// Package recon implements the event reconciliation engine: it folds
// at-least-once, possibly out-of-order notifications from the chain indexer
// and the token-trading service into the escrow, asset, treasury, ledger,
// and pool records.
package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/luxledger/service/config"
	"github.com/brojonat/luxledger/service/db"
	"github.com/brojonat/luxledger/service/events"
	"github.com/brojonat/luxledger/service/metrics"
	"github.com/brojonat/luxledger/service/nats"
)

// Store is the persistence surface the engine depends on. SQLStore adapts
// the database store to it; tests substitute a mock.
type Store interface {
	// WithTx runs fn against a store whose writes commit or roll back as a
	// unit. Each event's side effects and its ledger row apply inside one
	// transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Deduplication guard / ledger
	LedgerEntryExists(ctx context.Context, signature string) (bool, error)
	CreateLedgerEntry(ctx context.Context, params db.CreateLedgerEntryParams) (bool, error)

	// Escrows
	GetEscrow(ctx context.Context, escrowPDA string) (*db.Escrow, error)
	GetEscrowByAssetMint(ctx context.Context, assetMint string) (*db.Escrow, error)
	GetOpenEscrowBySender(ctx context.Context, sender string) (*db.Escrow, error)
	MarkEscrowListed(ctx context.Context, escrowPDA string, price int64, signature string, at time.Time) (*db.Escrow, error)
	RevertEscrowListing(ctx context.Context, escrowPDA string, signature string, at time.Time) (*db.Escrow, error)
	MarkEscrowFunded(ctx context.Context, escrowPDA string, amount int64, signature string, at time.Time) (*db.Escrow, error)
	ReleaseEscrowFromFunded(ctx context.Context, escrowPDA string, signature string, at time.Time) (*db.Escrow, error)
	ForceEscrowReleased(ctx context.Context, escrowPDA string, buyer string, signature string, at time.Time) (*db.Escrow, error)
	CancelEscrowsByAssetMint(ctx context.Context, assetMint string, reason string, signature string, at time.Time) (int64, error)

	// Assets
	GetAsset(ctx context.Context, mint string) (*db.Asset, error)
	AppendAssetTransfer(ctx context.Context, mint string, from, to, signature string, at time.Time) (*db.Asset, error)
	AttachAssetMintSignature(ctx context.Context, mint string, signature string, at time.Time) (*db.Asset, error)
	MarkAssetBurned(ctx context.Context, mint string, signature string) (*db.Asset, error)

	// Treasury deposits
	CreateTreasuryDeposit(ctx context.Context, params db.CreateTreasuryDepositParams) (bool, error)

	// Pools
	GetPoolByTokenMint(ctx context.Context, tokenMint string) (*db.Pool, error)
	RecordPoolTrade(ctx context.Context, tokenMint string, volume int64, price int64) (*db.Pool, error)
	AdjustPoolLiquidity(ctx context.Context, tokenMint string, delta int64) (*db.Pool, error)
	UpdatePoolToken(ctx context.Context, tokenMint string, status db.PoolTokenStatus, model db.LiquidityModel) (*db.Pool, error)
	MarkPoolGraduated(ctx context.Context, tokenMint string, at time.Time) (*db.Pool, error)
}

// SQLStore adapts the pgx-backed store to the Store interface. The embedded
// store provides every operation; WithTx is rebound so the callback receives
// the transaction-scoped store behind the same interface.
type SQLStore struct {
	*db.Store
}

// NewSQLStore wraps a database store for use by the engine.
func NewSQLStore(s *db.Store) SQLStore {
	return SQLStore{Store: s}
}

func (s SQLStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.Store.WithTx(ctx, func(tx *db.Store) error {
		return fn(SQLStore{Store: tx})
	})
}

// Outcome is the per-event processing result.
type Outcome string

const (
	// OutcomeApplied: the event caused at least one state change.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate: the signature was already applied; verified no-op.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored: unknown kind, unmet precondition, or unresolvable
	// reference; logged and dropped, counted as processed.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed: malformed payload or store error; counted as failed.
	OutcomeFailed Outcome = "failed"
)

// Result is the outcome of processing a single event.
type Result struct {
	Signature string
	Kind      events.Kind
	Outcome   Outcome
	Err       error
}

// Summary aggregates a batch's per-event results. Processed counts every
// non-failed outcome: a no-op is a success.
type Summary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Engine reconciles external event notifications against the store.
type Engine struct {
	store     Store
	cfg       *config.Config
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine creates a reconciliation engine. The publisher and metrics are
// optional; if nil, updates are not published and metrics are not recorded.
func NewEngine(store Store, cfg *config.Config, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		cfg:       cfg,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// ProcessBatch fans a batch of raw payloads out to per-event goroutines and
// aggregates their outcomes. Events are independent units of work: one
// event's failure (or panic) never prevents its siblings from being applied.
func (e *Engine) ProcessBatch(ctx context.Context, source events.Source, raws []json.RawMessage) Summary {
	start := time.Now()
	results := make([]Result, len(raws))

	var wg sync.WaitGroup
	for i, raw := range raws {
		wg.Add(1)
		go func(i int, raw json.RawMessage) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{
						Outcome: OutcomeFailed,
						Err:     fmt.Errorf("panic processing event: %v", r),
					}
				}
			}()
			results[i] = e.processOne(ctx, source, raw)
		}(i, raw)
	}
	wg.Wait()

	summary := Summary{Total: len(raws)}
	for _, res := range results {
		if res.Outcome == OutcomeFailed {
			summary.Failed++
			e.logger.Error("event processing failed",
				"source", source,
				"kind", res.Kind,
				"signature", res.Signature,
				"error", res.Err,
			)
		} else {
			summary.Processed++
		}
		if e.metrics != nil {
			kind := string(res.Kind)
			if kind == "" {
				kind = string(events.KindUnknown)
			}
			e.metrics.RecordEventOutcome(string(source), kind, string(res.Outcome))
		}
	}

	if e.metrics != nil {
		e.metrics.RecordBatchDuration(string(source), time.Since(start).Seconds())
	}

	e.logger.Info("batch processed",
		"source", source,
		"total", summary.Total,
		"processed", summary.Processed,
		"failed", summary.Failed,
	)
	return summary
}

// processOne classifies, deduplicates, and dispatches a single raw event.
func (e *Engine) processOne(ctx context.Context, source events.Source, raw json.RawMessage) Result {
	var ev *events.Event
	var err error
	switch source {
	case events.SourceTrading:
		ev, err = events.ParseTradeEvent(raw)
	default:
		ev, err = events.ParseChainEvent(raw)
	}
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	res := Result{Signature: ev.Signature, Kind: ev.Kind}

	if ev.Kind == events.KindUnknown {
		e.logger.Warn("unknown event kind, dropping",
			"source", source, "raw_type", ev.RawType, "signature", ev.Signature)
		res.Outcome = OutcomeIgnored
		return res
	}
	if ev.Kind == events.KindTokenSwap {
		e.logger.Debug("ignoring token swap", "signature", ev.Signature)
		res.Outcome = OutcomeIgnored
		return res
	}

	// Deduplication guard: a signature with a ledger row has already been
	// applied. Runs before any state mutation.
	exists, err := e.store.LedgerEntryExists(ctx, ev.Signature)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("dedup check for %s: %w", ev.Signature, err)
		return res
	}
	if exists {
		e.logger.Debug("duplicate event, dropping", "kind", ev.Kind, "signature", ev.Signature)
		res.Outcome = OutcomeDuplicate
		return res
	}

	outcome, err := e.apply(ctx, ev)
	res.Outcome = outcome
	res.Err = err
	return res
}

// apply runs the event's handler inside one transaction: the handler's state
// changes and the dedup ledger row commit or roll back together, so a
// mid-application failure leaves nothing behind and the sender's redelivery
// applies the event exactly once.
func (e *Engine) apply(ctx context.Context, ev *events.Event) (Outcome, error) {
	var outcome Outcome
	err := e.store.WithTx(ctx, func(tx Store) error {
		var err error
		outcome, err = e.dispatch(ctx, tx, ev)
		return err
	})
	if errors.Is(err, errAlreadyRecorded) {
		e.logger.Debug("signature recorded by a concurrent delivery, dropping",
			"kind", ev.Kind, "signature", ev.Signature)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

func (e *Engine) dispatch(ctx context.Context, store Store, ev *events.Event) (Outcome, error) {
	switch ev.Kind {
	case events.KindAssetSale:
		return e.applySale(ctx, store, ev)
	case events.KindAssetListed:
		return e.applyListing(ctx, store, ev)
	case events.KindAssetListingCancelled:
		return e.applyListingCancel(ctx, store, ev)
	case events.KindAssetMinted:
		return e.applyMint(ctx, store, ev)
	case events.KindAssetTransferred:
		return e.applyTransfer(ctx, store, ev)
	case events.KindAssetBurned:
		return e.applyBurn(ctx, store, ev)
	case events.KindAccountBalanceUpdate:
		return e.applyBalanceUpdate(ctx, store, ev)
	case events.KindNativeTransfer:
		return e.applyNativeTransfer(ctx, store, ev)
	case events.KindTradeExecuted:
		return e.applyTrade(ctx, store, ev)
	case events.KindPoolCreated, events.KindPoolUpdated:
		return e.applyPoolUpdate(ctx, store, ev)
	case events.KindTokenGraduated:
		return e.applyGraduation(ctx, store, ev)
	case events.KindPartnerFeeEarned, events.KindPartnerFeeClaimed:
		return e.applyPartnerFee(ctx, store, ev)
	case events.KindLiquidityAdded, events.KindLiquidityRemoved:
		return e.applyLiquidity(ctx, store, ev)
	default:
		e.logger.Warn("no handler for event kind", "kind", ev.Kind, "signature", ev.Signature)
		return OutcomeIgnored, nil
	}
}

// errAlreadyRecorded aborts an application whose signature gained a ledger
// row after the dedup check, which happens when the same signature arrives
// in two concurrent deliveries. The loser's transaction rolls back and the
// event counts as a duplicate.
var errAlreadyRecorded = errors.New("ledger row already present")

// recordLedger inserts the event's dedup ledger row inside the current
// transaction.
func (e *Engine) recordLedger(ctx context.Context, store Store, params db.CreateLedgerEntryParams) error {
	inserted, err := store.CreateLedgerEntry(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry for %s: %w", params.Signature, err)
	}
	if !inserted {
		return errAlreadyRecorded
	}
	return nil
}

// publishUpdate pushes a reconciliation update to NATS. Publishing is
// best-effort: a publish failure is logged, never surfaced as an event
// failure.
func (e *Engine) publishUpdate(ctx context.Context, event *nats.UpdateEvent) {
	if e.publisher == nil {
		return
	}
	event.PublishedAt = time.Now().UTC()
	start := time.Now()
	err := e.publisher.PublishUpdate(ctx, event)
	if e.metrics != nil {
		subject := fmt.Sprintf("recon.%s.%s", event.Entity, event.EntityID)
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	if err != nil {
		e.logger.Error("failed to publish reconciliation update",
			"entity", event.Entity,
			"entity_id", event.EntityID,
			"signature", event.Signature,
			"error", err,
		)
	}
}
