package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Flip-Liquid/valorem-oracles/internal/chain"
	"github.com/Flip-Liquid/valorem-oracles/internal/volatility"
)

// ErrNoPool means the factory has no pool for the requested pair and fee.
var ErrNoPool = errors.New("no pool for pair")

// metadataTTL bounds how long cached pool metadata is served before it is
// re-read from chain. Fee and tick spacing never change, but the protocol
// fee and the oracle cardinality do.
const metadataTTL = time.Hour

type cachedMetadata struct {
	meta      volatility.PoolMetadata
	fetchedAt time.Time
}

// Observer reads pool and factory state needed by the volatility engine.
type Observer struct {
	chainClient *chain.Client
	factory     common.Address
	poolABI     abi.ABI
	factoryABI  abi.ABI
	logger      *zap.Logger

	mu        sync.RWMutex
	metaCache map[common.Address]cachedMetadata
}

// NewObserver builds an Observer bound to a factory address.
func NewObserver(chainClient *chain.Client, factory common.Address, logger *zap.Logger) (*Observer, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	factoryABI, err := V3FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}

	return &Observer{
		chainClient: chainClient,
		factory:     factory,
		poolABI:     poolABI,
		factoryABI:  factoryABI,
		logger:      logger,
		metaCache:   make(map[common.Address]cachedMetadata),
	}, nil
}

// ResolvePool asks the factory for the pool of (tokenA, tokenB, fee).
func (o *Observer) ResolvePool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	data, err := o.factoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPool: %w", err)
	}
	msg := ethereum.CallMsg{To: &o.factory, Data: data}
	resp, err := o.chainClient.CallContract(ctx, msg, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call getPool: %w", err)
	}
	values, err := o.factoryABI.Unpack("getPool", resp)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getPool: %w", err)
	}
	pool, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("getPool: %w", err)
	}
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s/%s fee %d", ErrNoPool, tokenA.Hex(), tokenB.Hex(), fee)
	}
	return pool, nil
}

// FetchPoolMetadata loads the slow-moving pool facts: gammas derived from the
// fee and the protocol fee split, tick spacing, and the age of the oldest
// oracle observation. Results are cached for metadataTTL.
func (o *Observer) FetchPoolMetadata(ctx context.Context, pool common.Address) (volatility.PoolMetadata, error) {
	o.mu.RLock()
	cached, ok := o.metaCache[pool]
	o.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < metadataTTL {
		return cached.meta, nil
	}

	blockNumber, blockTime, err := o.chainClient.LatestHeader(ctx)
	if err != nil {
		return volatility.PoolMetadata{}, fmt.Errorf("latest header: %w", err)
	}
	blockPtr := new(big.Int).SetUint64(blockNumber)

	values, err := o.callPool(ctx, pool, "fee", blockPtr)
	if err != nil {
		return volatility.PoolMetadata{}, err
	}
	feeInt, err := asBigInt(values[0])
	if err != nil {
		return volatility.PoolMetadata{}, fmt.Errorf("fee: %w", err)
	}
	fee := uint32(feeInt.Uint64())

	values, err = o.callPool(ctx, pool, "tickSpacing", blockPtr)
	if err != nil {
		return volatility.PoolMetadata{}, err
	}
	tickSpacingInt, err := asBigInt(values[0])
	if err != nil {
		return volatility.PoolMetadata{}, fmt.Errorf("tick spacing: %w", err)
	}
	tickSpacing, err := int24FromBig(tickSpacingInt)
	if err != nil {
		return volatility.PoolMetadata{}, fmt.Errorf("tick spacing: %w", err)
	}

	values, err = o.callPool(ctx, pool, "slot0", blockPtr)
	if err != nil {
		return volatility.PoolMetadata{}, err
	}
	if len(values) < 6 {
		return volatility.PoolMetadata{}, fmt.Errorf("slot0 return size %d", len(values))
	}
	observationIndex, err := asUint16(values[2])
	if err != nil {
		return volatility.PoolMetadata{}, fmt.Errorf("observation index: %w", err)
	}
	observationCardinality, err := asUint16(values[3])
	if err != nil {
		return volatility.PoolMetadata{}, fmt.Errorf("observation cardinality: %w", err)
	}
	feeProtocol, err := asUint8(values[5])
	if err != nil {
		return volatility.PoolMetadata{}, fmt.Errorf("fee protocol: %w", err)
	}

	maxSecondsAgo, err := o.oldestObservationAge(ctx, pool, blockPtr, blockTime, observationIndex, observationCardinality)
	if err != nil {
		return volatility.PoolMetadata{}, err
	}

	gamma0, gamma1 := computeGammas(fee, feeProtocol)
	meta := volatility.PoolMetadata{
		MaxSecondsAgo: maxSecondsAgo,
		Gamma0:        gamma0,
		Gamma1:        gamma1,
		TickSpacing:   tickSpacing,
	}

	o.mu.Lock()
	o.metaCache[pool] = cachedMetadata{meta: meta, fetchedAt: time.Now()}
	o.mu.Unlock()

	o.logger.Debug("pool metadata refreshed",
		zap.String("pool", pool.Hex()),
		zap.Uint32("gamma0", gamma0),
		zap.Uint32("gamma1", gamma1),
		zap.Uint32("max_seconds_ago", maxSecondsAgo),
	)
	return meta, nil
}

// FetchPoolData reads one consistent observation of the pool: slot0, in-range
// liquidity, and the oracle deltas over the lookback window, all pinned to a
// single block.
func (o *Observer) FetchPoolData(ctx context.Context, pool common.Address, lookback uint32) (volatility.PoolData, error) {
	if lookback == 0 {
		return volatility.PoolData{}, fmt.Errorf("lookback must be greater than zero")
	}

	blockNumber, _, err := o.chainClient.LatestHeader(ctx)
	if err != nil {
		return volatility.PoolData{}, fmt.Errorf("latest header: %w", err)
	}
	blockPtr := new(big.Int).SetUint64(blockNumber)

	values, err := o.callPool(ctx, pool, "slot0", blockPtr)
	if err != nil {
		return volatility.PoolData{}, err
	}
	if len(values) < 2 {
		return volatility.PoolData{}, fmt.Errorf("slot0 return size %d", len(values))
	}
	sqrtPriceInt, err := asBigInt(values[0])
	if err != nil {
		return volatility.PoolData{}, fmt.Errorf("sqrt price: %w", err)
	}
	sqrtPrice, overflow := uint256.FromBig(sqrtPriceInt)
	if overflow {
		return volatility.PoolData{}, fmt.Errorf("sqrt price overflows uint256")
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return volatility.PoolData{}, fmt.Errorf("tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return volatility.PoolData{}, fmt.Errorf("tick: %w", err)
	}

	values, err = o.callPool(ctx, pool, "liquidity", blockPtr)
	if err != nil {
		return volatility.PoolData{}, err
	}
	liquidityInt, err := asBigInt(values[0])
	if err != nil {
		return volatility.PoolData{}, fmt.Errorf("liquidity: %w", err)
	}
	liquidity, overflow := uint256.FromBig(liquidityInt)
	if overflow {
		return volatility.PoolData{}, fmt.Errorf("liquidity overflows uint256")
	}

	meanTick, secondsPerLiquidity, err := o.observe(ctx, pool, blockPtr, lookback)
	if err != nil {
		return volatility.PoolData{}, err
	}

	data := volatility.PoolData{
		CurrentTick:        tick,
		ArithmeticMeanTick: meanTick,
		OracleLookback:     lookback,
	}
	data.SqrtPriceX96.Set(sqrtPrice)
	data.SecondsPerLiquidityX128.Set(secondsPerLiquidity)
	data.TickLiquidity.Set(liquidity)
	return data, nil
}

// FetchFeeGrowthGlobals reads both fee growth accumulators pinned to the
// latest block; the snapshot timestamp is that block's timestamp.
func (o *Observer) FetchFeeGrowthGlobals(ctx context.Context, pool common.Address) (volatility.FeeGrowthGlobals, error) {
	blockNumber, blockTime, err := o.chainClient.LatestHeader(ctx)
	if err != nil {
		return volatility.FeeGrowthGlobals{}, fmt.Errorf("latest header: %w", err)
	}
	blockPtr := new(big.Int).SetUint64(blockNumber)

	values, err := o.callPool(ctx, pool, "feeGrowthGlobal0X128", blockPtr)
	if err != nil {
		return volatility.FeeGrowthGlobals{}, err
	}
	growth0, err := asBigInt(values[0])
	if err != nil {
		return volatility.FeeGrowthGlobals{}, fmt.Errorf("fee growth 0: %w", err)
	}

	values, err = o.callPool(ctx, pool, "feeGrowthGlobal1X128", blockPtr)
	if err != nil {
		return volatility.FeeGrowthGlobals{}, err
	}
	growth1, err := asBigInt(values[0])
	if err != nil {
		return volatility.FeeGrowthGlobals{}, fmt.Errorf("fee growth 1: %w", err)
	}

	fg := volatility.FeeGrowthGlobals{Timestamp: uint32(blockTime)}
	fg.FeeGrowth0X128.SetFromBig(growth0)
	fg.FeeGrowth1X128.SetFromBig(growth1)
	return fg, nil
}

func (o *Observer) oldestObservationAge(ctx context.Context, pool common.Address, blockPtr *big.Int, blockTime uint64, index, cardinality uint16) (uint32, error) {
	if cardinality == 0 {
		return 0, fmt.Errorf("observation cardinality is zero")
	}

	oldestIndex := new(big.Int).SetUint64(uint64((index + 1) % cardinality))
	timestamp, initialized, err := o.observationAt(ctx, pool, blockPtr, oldestIndex)
	if err != nil {
		return 0, err
	}
	if !initialized {
		// The ring has not wrapped yet; slot 0 holds the oldest entry.
		timestamp, _, err = o.observationAt(ctx, pool, blockPtr, big.NewInt(0))
		if err != nil {
			return 0, err
		}
	}

	// Observation timestamps are uint32 truncations of block time.
	return uint32(blockTime) - timestamp, nil
}

func (o *Observer) observationAt(ctx context.Context, pool common.Address, blockPtr, index *big.Int) (uint32, bool, error) {
	values, err := o.callPool(ctx, pool, "observations", blockPtr, index)
	if err != nil {
		return 0, false, err
	}
	if len(values) != 4 {
		return 0, false, fmt.Errorf("observations return size %d", len(values))
	}
	timestamp, err := asUint32(values[0])
	if err != nil {
		return 0, false, fmt.Errorf("observation timestamp: %w", err)
	}
	initialized, ok := values[3].(bool)
	if !ok {
		return 0, false, fmt.Errorf("observation initialized flag type %T", values[3])
	}
	return timestamp, initialized, nil
}

func (o *Observer) observe(ctx context.Context, pool common.Address, blockPtr *big.Int, lookback uint32) (int32, *uint256.Int, error) {
	data, err := o.poolABI.Pack("observe", []uint32{lookback, 0})
	if err != nil {
		return 0, nil, fmt.Errorf("pack observe: %w", err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := o.chainClient.CallContract(ctx, msg, blockPtr)
	if err != nil {
		return 0, nil, fmt.Errorf("call observe: %w", err)
	}
	values, err := o.poolABI.Unpack("observe", resp)
	if err != nil {
		return 0, nil, fmt.Errorf("unpack observe: %w", err)
	}
	if len(values) != 2 {
		return 0, nil, fmt.Errorf("observe return size %d", len(values))
	}

	tickCumulatives, ok := values[0].([]*big.Int)
	if !ok || len(tickCumulatives) != 2 {
		return 0, nil, fmt.Errorf("unexpected tick cumulatives %T", values[0])
	}
	liquidityCumulatives, ok := values[1].([]*big.Int)
	if !ok || len(liquidityCumulatives) != 2 {
		return 0, nil, fmt.Errorf("unexpected liquidity cumulatives %T", values[1])
	}

	tickDelta := new(big.Int).Sub(tickCumulatives[1], tickCumulatives[0])
	meanTick, err := meanTickFromDelta(tickDelta.Int64(), lookback)
	if err != nil {
		return 0, nil, err
	}

	earlier, overflow := uint256.FromBig(liquidityCumulatives[0])
	if overflow {
		return 0, nil, fmt.Errorf("liquidity cumulative overflows uint256")
	}
	later, overflow := uint256.FromBig(liquidityCumulatives[1])
	if overflow {
		return 0, nil, fmt.Errorf("liquidity cumulative overflows uint256")
	}

	return meanTick, wrapSub160(later, earlier), nil
}

func (o *Observer) callPool(ctx context.Context, pool common.Address, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := o.poolABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := o.chainClient.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := o.poolABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// computeGammas derives the per-token retained fee fractions (ppm) from the
// pool fee and the packed protocol fee nibbles: 1/n of the fee goes to the
// protocol when the nibble n is nonzero.
func computeGammas(fee uint32, feeProtocol uint8) (uint32, uint32) {
	gamma0 := fee
	gamma1 := fee
	if n := uint32(feeProtocol % 16); n != 0 {
		gamma0 -= fee / n
	}
	if n := uint32(feeProtocol >> 4); n != 0 {
		gamma1 -= fee / n
	}
	return gamma0, gamma1
}

// meanTickFromDelta divides a tick-cumulative delta by the window length,
// flooring toward negative infinity the way the pool oracle does.
func meanTickFromDelta(tickDelta int64, window uint32) (int32, error) {
	if window == 0 {
		return 0, fmt.Errorf("window must be greater than zero")
	}
	mean := tickDelta / int64(window)
	if tickDelta < 0 && tickDelta%int64(window) != 0 {
		mean--
	}
	if mean < -1<<23 || mean > 1<<23-1 {
		return 0, fmt.Errorf("mean tick out of range: %d", mean)
	}
	return int32(mean), nil
}

// wrapSub160 subtracts two uint160 cumulative counters mod 2^160.
func wrapSub160(later, earlier *uint256.Int) *uint256.Int {
	delta := new(uint256.Int).Sub(later, earlier)
	return delta.And(delta, maxUint160)
}

var maxUint160 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	n, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	return uint8(n.Uint64()), nil
}

func asUint16(value interface{}) (uint16, error) {
	n, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	return uint16(n.Uint64()), nil
}

func asUint32(value interface{}) (uint32, error) {
	n, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	return uint32(n.Uint64()), nil
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt(1<<23 - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
