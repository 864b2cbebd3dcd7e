package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Flip-Liquid/valorem-oracles/internal/model"
)

// Store provides Postgres persistence for volatility records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutVolatilityBatch inserts or updates volatility records. A record is keyed
// by pool and the late-snapshot timestamp, so re-running a window is an
// idempotent upsert.
func (s *Store) PutVolatilityBatch(ctx context.Context, records []model.VolatilityRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(`
			INSERT INTO pair_volatility (
				chain_id, pool_address, token0, token1, fee,
				implied_vol_x18, window_start_ts, window_end_ts, computed_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
			ON CONFLICT (chain_id, pool_address, window_end_ts)
			DO UPDATE SET
				implied_vol_x18 = EXCLUDED.implied_vol_x18,
				window_start_ts = EXCLUDED.window_start_ts,
				computed_at = EXCLUDED.computed_at,
				updated_at = now()
		`,
			int64(record.ChainID),
			record.PoolAddress,
			record.Token0,
			record.Token1,
			int64(record.Fee),
			record.ImpliedVolX18,
			int64(record.WindowStartTS),
			int64(record.WindowEndTS),
			record.ComputedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestVolatility returns the most recent implied volatility for a pool.
func (s *Store) LatestVolatility(ctx context.Context, chainID uint64, poolAddress string) (string, bool, error) {
	if poolAddress == "" {
		return "", false, fmt.Errorf("pool address required")
	}
	var iv string
	row := s.pool.QueryRow(ctx, `
		SELECT implied_vol_x18 FROM pair_volatility
		WHERE chain_id=$1 AND pool_address=$2
		ORDER BY window_end_ts DESC LIMIT 1
	`, int64(chainID), poolAddress)
	if err := row.Scan(&iv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return iv, true, nil
}
