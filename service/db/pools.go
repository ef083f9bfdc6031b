package db

import (
	"context"
	"time"
)

// PoolTokenStatus is the lifecycle state of a pool's trading token.
type PoolTokenStatus string

const (
	PoolTokenPending  PoolTokenStatus = "pending"
	PoolTokenMinted   PoolTokenStatus = "minted"
	PoolTokenUnlocked PoolTokenStatus = "unlocked"
	PoolTokenFrozen   PoolTokenStatus = "frozen"
	PoolTokenBurned   PoolTokenStatus = "burned"
)

// LiquidityModel is how a pool's trading token is made tradable.
type LiquidityModel string

const (
	LiquidityPeerToPeer LiquidityModel = "peer-to-peer"
	LiquidityAutomated  LiquidityModel = "automated"
	LiquidityHybrid     LiquidityModel = "hybrid"
)

// Pool is a fractional-ownership vehicle over a single asset, optionally
// tokenized for secondary trading. Trading statistics are cumulative.
type Pool struct {
	ID             string
	AssetMint      string
	TokenMint      *string
	TokenStatus    PoolTokenStatus
	LiquidityModel LiquidityModel
	TradeCount     int64
	TotalVolume    int64
	LastPrice      *int64
	Liquidity      int64
	Graduated      bool
	GraduatedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const poolColumns = `id, asset_mint, token_mint, token_status, liquidity_model,
	trade_count, total_volume, last_price, liquidity, graduated, graduated_at,
	created_at, updated_at`

// CreatePoolParams contains the parameters for creating a pool record.
// Pool creation belongs to the investment flow; the store exposes it for that
// flow and for tests.
type CreatePoolParams struct {
	ID             string
	AssetMint      string
	TokenMint      *string
	LiquidityModel LiquidityModel
}

// CreatePool inserts a new pool record.
func (s *Store) CreatePool(ctx context.Context, params CreatePoolParams) (*Pool, error) {
	model := params.LiquidityModel
	if model == "" {
		model = LiquidityAutomated
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO pools (id, asset_mint, token_mint, liquidity_model)
		VALUES ($1, $2, $3, $4)
		RETURNING `+poolColumns,
		params.ID, params.AssetMint, params.TokenMint, model)
	return scanPool(row)
}

// GetPool retrieves a pool by internal id.
func (s *Store) GetPool(ctx context.Context, id string) (*Pool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+poolColumns+` FROM pools WHERE id = $1`, id)
	pool, err := scanPool(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return pool, nil
}

// GetPoolByTokenMint retrieves the pool whose trading token is the given mint.
func (s *Store) GetPoolByTokenMint(ctx context.Context, tokenMint string) (*Pool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+poolColumns+` FROM pools WHERE token_mint = $1`, tokenMint)
	pool, err := scanPool(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return pool, nil
}

// ListPools retrieves pools ordered by most recently updated.
func (s *Store) ListPools(ctx context.Context, limit int32) ([]*Pool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+poolColumns+` FROM pools ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []*Pool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

// RecordPoolTrade folds one executed trade into the pool's cumulative
// statistics: trade count, volume, and last price.
func (s *Store) RecordPoolTrade(ctx context.Context, tokenMint string, volume int64, price int64) (*Pool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE pools
		SET trade_count = trade_count + 1, total_volume = total_volume + $2,
		    last_price = $3, updated_at = now()
		WHERE token_mint = $1
		RETURNING `+poolColumns,
		tokenMint, volume, price)
	pool, err := scanPool(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return pool, nil
}

// AdjustPoolLiquidity applies a liquidity-added or liquidity-removed delta.
func (s *Store) AdjustPoolLiquidity(ctx context.Context, tokenMint string, delta int64) (*Pool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE pools
		SET liquidity = liquidity + $2, updated_at = now()
		WHERE token_mint = $1
		RETURNING `+poolColumns,
		tokenMint, delta)
	pool, err := scanPool(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return pool, nil
}

// UpdatePoolToken applies a pool-created or pool-updated event: token status
// and liquidity model as reported by the trading venue.
func (s *Store) UpdatePoolToken(ctx context.Context, tokenMint string, status PoolTokenStatus, model LiquidityModel) (*Pool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE pools
		SET token_status = $2, liquidity_model = $3, updated_at = now()
		WHERE token_mint = $1
		RETURNING `+poolColumns,
		tokenMint, status, model)
	pool, err := scanPool(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotFound)
	}
	return pool, nil
}

// MarkPoolGraduated records the token's exit from its liquidity-bootstrapping
// mechanism. Idempotent: an already-graduated pool keeps its original
// graduation time.
func (s *Store) MarkPoolGraduated(ctx context.Context, tokenMint string, at time.Time) (*Pool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE pools
		SET graduated = true, graduated_at = $2, token_status = 'unlocked', updated_at = now()
		WHERE token_mint = $1 AND graduated = false
		RETURNING `+poolColumns,
		tokenMint, at)
	pool, err := scanPool(row)
	if err != nil {
		return nil, mapNoRows(err, ErrNotApplied)
	}
	return pool, nil
}

func scanPool(row rowScanner) (*Pool, error) {
	var pool Pool
	err := row.Scan(
		&pool.ID, &pool.AssetMint, &pool.TokenMint, &pool.TokenStatus,
		&pool.LiquidityModel, &pool.TradeCount, &pool.TotalVolume,
		&pool.LastPrice, &pool.Liquidity, &pool.Graduated, &pool.GraduatedAt,
		&pool.CreatedAt, &pool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pool, nil
}
