package registry

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Flip-Liquid/valorem-oracles/internal/dex"
)

// Pair identifies a tracked trading pair at a fee tier. Token0 sorts below
// Token1 bytewise, matching the pool contract's ordering.
type Pair struct {
	Token0 common.Address
	Token1 common.Address
	Fee    uint32
}

func (p Pair) String() string {
	return fmt.Sprintf("%s:%s:%d", p.Token0.Hex(), p.Token1.Hex(), p.Fee)
}

// TrackedPair is a Pair together with its resolved pool address.
type TrackedPair struct {
	Pair
	Pool common.Address
}

// ParsePairs parses "token0:token1:fee" specs. Tokens are normalized into
// contract order so records line up with on-chain token0/token1.
func ParsePairs(specs []string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(strings.TrimSpace(spec), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid pair spec %q, want token0:token1:fee", spec)
		}
		if !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("invalid token address in pair spec %q", spec)
		}
		tokenA := common.HexToAddress(parts[0])
		tokenB := common.HexToAddress(parts[1])
		if tokenA == tokenB {
			return nil, fmt.Errorf("pair spec %q names the same token twice", spec)
		}

		var fee uint32
		if _, err := fmt.Sscanf(parts[2], "%d", &fee); err != nil {
			return nil, fmt.Errorf("invalid fee in pair spec %q: %w", spec, err)
		}

		if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
			tokenA, tokenB = tokenB, tokenA
		}
		pairs = append(pairs, Pair{Token0: tokenA, Token1: tokenB, Fee: fee})
	}
	return pairs, nil
}

// PoolLookup resolves a pair to its pool address.
type PoolLookup interface {
	ResolvePool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
}

// Registry maps the configured pairs to their resolved pools.
type Registry struct {
	lookup PoolLookup
	pairs  []Pair

	mu    sync.RWMutex
	pools map[Pair]common.Address
}

// New builds a Registry over a lookup and its tracked pairs.
func New(lookup PoolLookup, pairs []Pair) *Registry {
	return &Registry{
		lookup: lookup,
		pairs:  pairs,
		pools:  make(map[Pair]common.Address),
	}
}

// Resolve resolves every pair that does not have a pool address yet. A pair
// with no pool is an error; the ones already resolved are left alone.
func (r *Registry) Resolve(ctx context.Context) error {
	for _, pair := range r.pairs {
		r.mu.RLock()
		_, ok := r.pools[pair]
		r.mu.RUnlock()
		if ok {
			continue
		}

		pool, err := r.lookup.ResolvePool(ctx, pair.Token0, pair.Token1, pair.Fee)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", pair, err)
		}

		r.mu.Lock()
		r.pools[pair] = pool
		r.mu.Unlock()
	}
	return nil
}

// Tracked returns the pairs that have a resolved pool, in configured order.
func (r *Registry) Tracked() []TrackedPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tracked := make([]TrackedPair, 0, len(r.pairs))
	for _, pair := range r.pairs {
		pool, ok := r.pools[pair]
		if !ok {
			continue
		}
		tracked = append(tracked, TrackedPair{Pair: pair, Pool: pool})
	}
	return tracked
}

var _ PoolLookup = (*dex.Observer)(nil)
