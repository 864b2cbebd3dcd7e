package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Flip-Liquid/valorem-oracles/internal/chain"
	"github.com/Flip-Liquid/valorem-oracles/internal/dex"
	"github.com/Flip-Liquid/valorem-oracles/internal/storage/postgres"
	"github.com/Flip-Liquid/valorem-oracles/internal/volatility"
)

func newEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "One-shot volatility estimate for a pair",
		RunE:  runEstimate,
	}

	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().String("factory", "", "V3 factory address")
	cmd.Flags().String("token0", "", "first token address")
	cmd.Flags().String("token1", "", "second token address")
	cmd.Flags().Uint32("fee", 3000, "fee tier (ppm)")
	cmd.Flags().Duration("lookback", time.Hour, "oracle observation lookback")
	cmd.Flags().Duration("wait", time.Minute, "time between the two snapshots")
	cmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	return cmd
}

func runEstimate(cmd *cobra.Command, _ []string) error {
	rpcURL, _ := cmd.Flags().GetString("rpc")
	factory, _ := cmd.Flags().GetString("factory")
	token0, _ := cmd.Flags().GetString("token0")
	token1, _ := cmd.Flags().GetString("token1")
	fee, _ := cmd.Flags().GetUint32("fee")
	lookback, _ := cmd.Flags().GetDuration("lookback")
	wait, _ := cmd.Flags().GetDuration("wait")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if rpcURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(factory) {
		return fmt.Errorf("a valid factory address is required")
	}
	if !common.IsHexAddress(token0) || !common.IsHexAddress(token1) {
		return fmt.Errorf("valid token addresses are required")
	}
	if wait <= 0 {
		return fmt.Errorf("wait must be greater than zero")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	observer, err := dex.NewObserver(chainClient, common.HexToAddress(factory), logger)
	if err != nil {
		return err
	}

	pool, err := observer.ResolvePool(ctx, common.HexToAddress(token0), common.HexToAddress(token1), fee)
	if err != nil {
		return err
	}

	meta, err := observer.FetchPoolMetadata(ctx, pool)
	if err != nil {
		return err
	}

	early, err := observer.FetchFeeGrowthGlobals(ctx, pool)
	if err != nil {
		return err
	}

	logger.Info("waiting between snapshots", zap.Duration("wait", wait))
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	late, err := observer.FetchFeeGrowthGlobals(ctx, pool)
	if err != nil {
		return err
	}
	if late.Timestamp <= early.Timestamp {
		return fmt.Errorf("no new block between snapshots; increase --wait")
	}

	window := uint32(lookback.Seconds())
	if meta.MaxSecondsAgo > 0 && window > meta.MaxSecondsAgo {
		window = meta.MaxSecondsAgo
	}
	data, err := observer.FetchPoolData(ctx, pool, window)
	if err != nil {
		return err
	}

	estimate, err := volatility.NewEstimator(nil).Estimate24H(meta, data, early, late)
	if err != nil {
		return err
	}

	fmt.Printf("pool:            %s\n", pool.Hex())
	fmt.Printf("window:          %ds\n", late.Timestamp-early.Timestamp)
	fmt.Printf("implied vol x18: %s\n", estimate.Dec())
	return nil
}

func newTVLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tvl",
		Short: "Diagnostics: tick TVL and tick price for a pool",
		RunE:  runTVL,
	}

	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().String("pool", "", "pool address")
	cmd.Flags().Duration("lookback", time.Minute, "oracle observation lookback")
	cmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	return cmd
}

func runTVL(cmd *cobra.Command, _ []string) error {
	rpcURL, _ := cmd.Flags().GetString("rpc")
	poolFlag, _ := cmd.Flags().GetString("pool")
	lookback, _ := cmd.Flags().GetDuration("lookback")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if rpcURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(poolFlag) {
		return fmt.Errorf("a valid pool address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	// The factory is not needed for direct pool reads.
	observer, err := dex.NewObserver(chainClient, common.Address{}, logger)
	if err != nil {
		return err
	}

	pool := common.HexToAddress(poolFlag)
	meta, err := observer.FetchPoolMetadata(ctx, pool)
	if err != nil {
		return err
	}

	window := uint32(lookback.Seconds())
	if meta.MaxSecondsAgo > 0 && window > meta.MaxSecondsAgo {
		window = meta.MaxSecondsAgo
	}
	data, err := observer.FetchPoolData(ctx, pool, window)
	if err != nil {
		return err
	}

	estimator := volatility.NewEstimator(nil)
	tvl, err := estimator.TickTVLx64(meta.TickSpacing, data.CurrentTick, &data.SqrtPriceX96, &data.TickLiquidity)
	if err != nil {
		return err
	}

	// Token1 value of 1e18 token0 base units at the mean tick.
	unitPrice, err := estimator.Amount0ToAmount1(uint256.NewInt(1e18), data.ArithmeticMeanTick)
	if err != nil {
		return err
	}

	fmt.Printf("pool:               %s\n", pool.Hex())
	fmt.Printf("current tick:       %d\n", data.CurrentTick)
	fmt.Printf("tick liquidity:     %s\n", data.TickLiquidity.Dec())
	fmt.Printf("tick tvl x64:       %s\n", tvl.Dec())
	fmt.Printf("amount1 per 1e18 amount0 (mean tick): %s\n", unitPrice.Dec())
	return nil
}

func newLatestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the last stored volatility for a pool",
		RunE:  runLatest,
	}

	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().Uint64("chain-id", 1, "chain id")
	cmd.Flags().String("pool", "", "pool address")

	return cmd
}

func runLatest(cmd *cobra.Command, _ []string) error {
	dsn, _ := cmd.Flags().GetString("pg-dsn")
	chainID, _ := cmd.Flags().GetUint64("chain-id")
	poolFlag, _ := cmd.Flags().GetString("pool")

	if !common.IsHexAddress(poolFlag) {
		return fmt.Errorf("a valid pool address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	iv, ok, err := store.LatestVolatility(ctx, chainID, common.HexToAddress(poolFlag).Hex())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no stored volatility for %s", poolFlag)
	}

	fmt.Println(iv)
	return nil
}
