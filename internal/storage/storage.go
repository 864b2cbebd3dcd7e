package storage

import (
	"context"

	"github.com/Flip-Liquid/valorem-oracles/internal/model"
)

// Storage defines a sink for computed volatility records.
type Storage interface {
	PutVolatilityBatch(ctx context.Context, records []model.VolatilityRecord) error
}
