package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"momentum-trading-bot/config"
	"momentum-trading-bot/internal/analyzer"
	"momentum-trading-bot/internal/api"
	"momentum-trading-bot/internal/circuit"
	"momentum-trading-bot/internal/database"
	"momentum-trading-bot/internal/engine"
	"momentum-trading-bot/internal/events"
	"momentum-trading-bot/internal/exchange"
	"momentum-trading-bot/internal/executor"
	"momentum-trading-bot/internal/logging"
	"momentum-trading-bot/internal/market"
	"momentum-trading-bot/internal/perf"
	"momentum-trading-bot/internal/risk"
	tradesignal "momentum-trading-bot/internal/signal"
	"momentum-trading-bot/internal/state"
	"momentum-trading-bot/internal/strategy"
	"momentum-trading-bot/internal/vault"
)

// perfDir holds the tracker state (trades.json, performance.json) and
// the daily reports.
const perfDir = "data"

var (
	flagConfig        string
	flagDebug         bool
	flagSkipBlacklist bool
	flagSkipSectors   bool
)

func main() {
	root := &cobra.Command{
		Use:          "momentum-trading-bot",
		Short:        "Momentum trading engine for crypto spot markets",
		RunE:         run,
		SilenceUsage: true,
	}
	root.Flags().StringVar(&flagConfig, "config", "config.yaml", "configuration file path")
	root.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	root.Flags().BoolVar(&flagSkipBlacklist, "skip-blacklist", false, "skip the periodic blacklist refresh")
	root.Flags().BoolVar(&flagSkipSectors, "skip-sectors", false, "skip the periodic sector ranking")

	root.AddCommand(&cobra.Command{
		Use:   "gen-config [path]",
		Short: "Write a commented starter configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.GenerateSampleConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	// An explicit --config names one file; otherwise the default search
	// chain (config.yaml, config.yml, config.json) applies.
	path := ""
	if cmd.Flags().Changed("config") {
		path = flagConfig
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if flagDebug {
		cfg.Logging.Level = "DEBUG"
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	zl := newZerolog(cfg.Logging)

	logger.Info("configuration loaded", "path", cfg.Path(), "dry_run", cfg.DryRun, "test_mode", cfg.TestMode)

	bus := events.NewEventBus()

	sink, err := events.NewLogSink(cfg.LogDir, zl)
	if err != nil {
		logger.Warn("event log disabled", "error", err)
	} else {
		bus.SubscribeAll(sink.Handle)
		defer sink.Close()
	}

	// Credentials: file and environment first, Vault on top when enabled.
	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	clients := make(map[string]exchange.Client, len(cfg.Exchanges))
	for _, id := range cfg.Exchanges {
		creds := exchange.Credentials{}
		if fileCreds, ok := cfg.Credentials(id); ok {
			creds = exchange.Credentials{APIKey: fileCreds.APIKey, SecretKey: fileCreds.SecretKey}
		}
		if id == cfg.DefaultExchange && vaultClient.Enabled() {
			vc, verr := vaultClient.Credentials(context.Background())
			if verr != nil {
				logger.Warn("vault credentials unavailable, using file credentials", "error", verr)
			} else {
				creds = exchange.Credentials{APIKey: vc.APIKey, SecretKey: vc.SecretKey}
				logger.Info("exchange credentials sourced from vault", "exchange", id)
			}
		}

		client, cerr := exchange.New(id, creds, cfg.TestMode)
		if cerr != nil {
			return fmt.Errorf("exchange %s: %w", id, cerr)
		}
		if merr := client.LoadMarkets(); merr != nil {
			return fmt.Errorf("loading %s markets: %w", id, merr)
		}
		clients[id] = client
		logger.Info("markets loaded", "exchange", id, "symbols", len(client.Symbols()))
	}
	client, ok := clients[cfg.DefaultExchange]
	if !ok {
		return fmt.Errorf("default_exchange %q is not in the exchanges list", cfg.DefaultExchange)
	}

	provider := market.NewProvider(client, market.Config{
		QuoteCurrencies: cfg.QuoteCurrencies,
		CandleTTL:       time.Duration(cfg.DataRefreshInterval) * time.Second,
		Sectors:         cfg.Sectors,
	})

	// No social momentum source is compiled in; the analyzer treats the
	// signal as absent, which only forfeits the score bonus.
	if cfg.SocialAPIEnabled {
		logger.Warn("social_api_enabled is set but no social provider is wired, lookups stay off")
	}
	marketAnalyzer := analyzer.New(provider, nil,
		time.Duration(cfg.MarketStateRefreshInterval)*time.Second)

	signals := tradesignal.NewGenerator(provider, cfg.ScanWorkers)

	riskManager := risk.NewManager(provider, risk.Config{
		MaxRiskPerTrade:     cfg.MaxRiskPerTrade,
		MaxTotalRisk:        cfg.MaxTotalRisk,
		MaxSectorAllocation: cfg.MaxSectorAllocation,
		AccountBalance:      cfg.AccountBalance,
	})

	journal, err := executor.NewJournal(cfg.LogDir, zl)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	exec := executor.New(client, journal, bus, executor.Config{
		DryRun:           cfg.DryRun,
		IcebergThreshold: cfg.IcebergThreshold,
		MinOrderAmount:   cfg.MinOrderAmount,
	})

	var repo *database.Repository
	if cfg.Database.Enabled {
		db, derr := database.NewDB(cfg.Database.URL, zl)
		if derr != nil {
			return fmt.Errorf("database: %w", derr)
		}
		defer db.Close()
		if merr := db.RunMigrations(context.Background()); merr != nil {
			return fmt.Errorf("database migrations: %w", merr)
		}
		repo = database.NewRepository(db)
		exec.SetArchive(repo)
		logger.Info("trade archive enabled")
	}

	perfTracker, err := perf.NewTracker(perfDir, cfg.AccountBalance, zl)
	if err != nil {
		logger.Warn("performance tracking disabled", "error", err)
		perfTracker = nil
	}

	breaker := circuit.New(circuit.Config{
		Enabled:              cfg.CircuitBreaker.Enabled,
		MaxConsecutiveLosses: cfg.CircuitBreaker.MaxConsecutiveLosses,
		MaxDailyLossPct:      cfg.CircuitBreaker.MaxDailyLossPct,
		CooldownMinutes:      cfg.CircuitBreaker.CooldownMinutes,
	}, bus)

	var store *state.Store
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = state.NewStore(rdb, zl)
		logger.Info("position state store enabled", "addr", cfg.Redis.Addr)
	}

	eng, err := engine.New(engine.Config{
		ScanInterval:    time.Duration(cfg.ScanInterval) * time.Minute,
		MaxNewPositions: cfg.MaxNewPositions,
		SkipBlacklist:   flagSkipBlacklist,
		SkipSectors:     flagSkipSectors,
	}, engine.Deps{
		Provider: provider,
		Analyzer: marketAnalyzer,
		Signals:  signals,
		Risk:     riskManager,
		Executor: exec,
		Perf:     perfTracker,
		Breaker:  breaker,
		Store:    store,
		Bus:      bus,
	})
	if err != nil {
		return err
	}

	strategies, err := buildStrategies(cfg, client, exec)
	if err != nil {
		return err
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(api.Config{
			Port:          cfg.API.Port,
			AuthTokenHash: cfg.API.AuthTokenHash,
			JWTSecret:     cfg.API.JWTSecret,
			CORSOrigins:   cfg.API.CORSOrigins,
			Production:    !flagDebug,
		}, api.Deps{
			Engine:   eng,
			Executor: exec,
			Perf:     perfTracker,
			Analyzer: marketAnalyzer,
			Breaker:  breaker,
			Repo:     repo,
			Bus:      bus,
		}, zl)
		go func() {
			if serr := server.Start(); serr != nil {
				logger.Error("api server failed", "error", serr)
			}
		}()
	}

	if err := eng.Start(context.Background()); err != nil {
		return err
	}
	for _, st := range strategies {
		if serr := st.Start(); serr != nil {
			logger.Error("strategy start failed", "error", serr)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if server != nil {
		if serr := server.Shutdown(shutdownCtx); serr != nil {
			logger.Error("api shutdown failed", "error", serr)
		}
	}
	for _, st := range strategies {
		st.Stop()
	}
	eng.Stop()

	logger.Info("shutdown complete")
	return nil
}

// buildStrategies constructs one MA cross runner per configured symbol.
// The strategy shares the executor and journals with the engine but
// drives its own candle polling.
func buildStrategies(cfg *config.Config, client exchange.Client, exec *executor.Executor) ([]*strategy.MACross, error) {
	if !cfg.IsStrategyEnabled("ma_cross") {
		return nil, nil
	}

	params := cfg.GetStrategyParameters("ma_cross")
	symbols := cfg.GetStrategySymbols("ma_cross")
	if len(symbols) == 0 {
		logging.Warn("ma_cross enabled but no symbols configured")
		return nil, nil
	}

	strategies := make([]*strategy.MACross, 0, len(symbols))
	for _, sym := range symbols {
		mc, err := strategy.NewMACross(strategy.Config{
			Symbol:               sym,
			Timeframe:            config.ParamString(params, "timeframe", "1h"),
			ShortWindow:          config.ParamInt(params, "short_window", 5),
			LongWindow:           config.ParamInt(params, "long_window", 20),
			PositionSize:         config.ParamFloat(params, "position_size", 0.1),
			MaxPositions:         config.ParamInt(params, "max_positions", 3),
			MaxTradesPerDay:      config.ParamInt(params, "max_trades_per_day", 3),
			StopLossPct:          config.ParamFloat(params, "stop_loss_pct", 3.0),
			TakeProfitPct:        config.ParamFloat(params, "take_profit_pct", 5.0),
			TrailingStop:         config.ParamBool(params, "trailing_stop", false),
			TrailingStopDistance: config.ParamFloat(params, "trailing_stop_distance", 2.0),
			MinVolumeUSD:         config.ParamFloat(params, "min_volume_usd", 1000000),
			CheckInterval:        time.Duration(config.ParamInt(params, "check_interval", 60)) * time.Second,
			AccountBalance:       cfg.AccountBalance,
		}, client, exec)
		if err != nil {
			return nil, fmt.Errorf("ma_cross %s: %w", sym, err)
		}
		strategies = append(strategies, mc)
	}
	return strategies, nil
}

// newZerolog builds the root logger for the components that log through
// zerolog (journal, state store, database, API).
func newZerolog(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		if f, ferr := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); ferr == nil {
			out = f
		}
	}
	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
