package model

import "time"

// VolatilityRecord is one cached implied-volatility figure for a tracked
// pair. ImpliedVolX18 is a decimal string at 1e18 scale, so values survive
// storage backends without 256-bit integer columns.
type VolatilityRecord struct {
	ChainID       uint64    `json:"chain_id"`
	PoolAddress   string    `json:"pool_address"`
	Token0        string    `json:"token0"`
	Token1        string    `json:"token1"`
	Fee           uint32    `json:"fee"`
	ImpliedVolX18 string    `json:"implied_vol_x18"`
	WindowStartTS uint32    `json:"window_start_ts"`
	WindowEndTS   uint32    `json:"window_end_ts"`
	ComputedAt    time.Time `json:"computed_at"`
}
