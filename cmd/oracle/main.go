package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Flip-Liquid/valorem-oracles/internal/chain"
	"github.com/Flip-Liquid/valorem-oracles/internal/config"
	"github.com/Flip-Liquid/valorem-oracles/internal/dex"
	"github.com/Flip-Liquid/valorem-oracles/internal/refresher"
	"github.com/Flip-Liquid/valorem-oracles/internal/registry"
	"github.com/Flip-Liquid/valorem-oracles/internal/storage"
	"github.com/Flip-Liquid/valorem-oracles/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "oracle",
		Short:        "Implied volatility oracle for V3 pairs",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the volatility refresh daemon",
		RunE:  runRefresher,
	}

	runCmd.Flags().String("rpc", "", "EVM RPC URL")
	runCmd.Flags().String("factory", "", "V3 factory address")
	runCmd.Flags().StringSlice("pair", nil, "tracked pairs, token0:token1:fee (comma-separated)")
	runCmd.Flags().Duration("interval", 5*time.Minute, "refresh interval")
	runCmd.Flags().Duration("lookback", time.Hour, "oracle observation lookback")
	runCmd.Flags().Duration("window", 24*time.Hour, "canonical volatility window")
	runCmd.Flags().String("history", "./data/snapshots.json", "snapshot history file path")
	runCmd.Flags().Int("history-depth", 25, "snapshots kept per pool")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (JSONL sink is used when empty)")
	runCmd.Flags().String("out", "./data/volatility.jsonl", "output JSONL path")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)
	root.AddCommand(newEstimateCmd())
	root.AddCommand(newTVLCmd())
	root.AddCommand(newLatestCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRefresher(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Factory) {
		return fmt.Errorf("a valid factory address is required")
	}

	pairs, err := registry.ParsePairs(cfg.Pairs)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return fmt.Errorf("pair list is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}

	observer, err := dex.NewObserver(chainClient, common.HexToAddress(cfg.Factory), logger)
	if err != nil {
		return err
	}

	var sink storage.Storage
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sink = store
	} else {
		sink = storage.NewJsonlStorage(cfg.Out)
	}

	runner := refresher.NewRunner(refresher.RunConfig{
		ChainID:      chainID.Uint64(),
		Interval:     cfg.Interval,
		Lookback:     uint32(cfg.Lookback.Seconds()),
		TargetWindow: uint32(cfg.Window.Seconds()),
		HistoryPath:  cfg.History,
		HistoryDepth: cfg.HistoryDepth,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, observer, registry.New(observer, pairs), sink, logger)

	logger.Info("oracle start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("factory", cfg.Factory),
		zap.Int("pairs", len(pairs)),
		zap.Duration("interval", cfg.Interval),
		zap.Duration("lookback", cfg.Lookback),
		zap.Duration("window", cfg.Window),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
