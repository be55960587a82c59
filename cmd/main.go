package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/amirphl/polyswing/internal/config"
	"github.com/amirphl/polyswing/internal/db"
	"github.com/amirphl/polyswing/internal/exchange"
	"github.com/amirphl/polyswing/internal/indicator"
	"github.com/amirphl/polyswing/internal/livetrading"
	"github.com/amirphl/polyswing/internal/metrics"
	"github.com/amirphl/polyswing/internal/notifier"
	"github.com/amirphl/polyswing/internal/portfolio"
	"github.com/amirphl/polyswing/internal/position"
	"github.com/amirphl/polyswing/internal/risk"
	"github.com/amirphl/polyswing/internal/settlement"
	"github.com/amirphl/polyswing/internal/strategy"
	"github.com/amirphl/polyswing/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	dryRun := flag.Bool("dry-run", false, "force dry-run mode regardless of config")
	flag.Parse()

	// Best effort: credentials usually live in .env during development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	log := utils.NewLogger(cfg.LogLevel, cfg.LogFile)
	log.Info().Bool("dry_run", cfg.DryRun).Int("assets", len(cfg.Assets)).Msg("starting swing trader")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: postgres when configured, in-memory otherwise.
	var storage db.Storage
	if cfg.DBConnStr != "" {
		pg, err := db.Connect(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer pg.GetDB().Close()
		storage = pg
		log.Info().Msg("using postgres storage")
	} else {
		storage = db.NewMemory()
		log.Warn().Msg("no DB_CONN_STR set, state will not survive restarts")
	}

	var notify notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notify = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID,
			cfg.NotificationRetries, cfg.NotificationDelay.Std())
	}

	metricsSrv := metrics.Serve(cfg.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	// Exchange collaborators.
	clob := exchange.NewClobClient(cfg.ClobHost, exchange.Credentials{
		APIKey:     cfg.APIKey,
		Secret:     cfg.APISecret,
		Passphrase: cfg.APIPassphrase,
		Address:    cfg.FunderAddress,
	}, cfg.DryRun, log)
	gamma := exchange.NewGammaClient(cfg.GammaHost, log)
	binance := exchange.NewBinanceClient(log)

	quotes := exchange.NewQuoteService(gamma, clob, cfg.BookDepthLevels, log)
	symbols := make(map[string]string, len(cfg.Assets))
	streamSymbols := make([]string, 0, len(cfg.Assets))
	for asset, ac := range cfg.Assets {
		quotes.Track(asset, ac.Keywords, ac.MinLiquidityUSD)
		symbols[asset] = ac.BinanceSymbol
		streamSymbols = append(streamSymbols, ac.BinanceSymbol)
	}

	balance, err := clob.Balance(ctx)
	if err != nil {
		if cfg.DryRun {
			balance = 1000
			log.Warn().Err(err).Float64("balance", balance).Msg("balance fetch failed, using dry-run default")
		} else {
			log.Fatal().Err(err).Msg("cannot read account balance")
		}
	}
	log.Info().Float64("balance", balance).Msg("account balance")

	pf := portfolio.NewState(balance, cfg.MaxPositions)

	riskMgr, err := risk.NewManager(cfg.Risk(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid risk parameters")
	}

	engine := livetrading.NewEngine(
		cfg,
		indicator.NewEngine(cfg.Indicator(), log),
		strategy.NewDetector(cfg.Strategy(), strategy.ProximityLevels{Proximity: cfg.LevelProximity}, log),
		cfg.Gate(),
		riskMgr,
		position.NewManager(
			position.Config{TakeProfitPct: cfg.TakeProfitPct, MaxExitRetries: cfg.MaxExitRetries},
			clob, clob, binance, notify, symbols, log),
		settlement.NewReconciler(clob, clob, clob, notify, log),
		pf,
		quotes,
		binance,
		storage,
		notify,
		log,
	)

	if err := engine.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("position recovery failed, starting empty")
	}

	go func() {
		if err := binance.Stream(ctx, streamSymbols); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("spot stream terminated")
		}
	}()

	engine.Run(ctx)
	log.Info().Msg("shutdown complete")
}
