package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/alert"
	"github.com/fundingarb/engine/internal/analyzer"
	"github.com/fundingarb/engine/internal/atomicx"
	"github.com/fundingarb/engine/internal/config"
	"github.com/fundingarb/engine/internal/fees"
	"github.com/fundingarb/engine/internal/fundingsvc"
	"github.com/fundingarb/engine/internal/liquidity"
	"github.com/fundingarb/engine/internal/orchestrator"
	"github.com/fundingarb/engine/internal/risk"
	"github.com/fundingarb/engine/internal/storage"
	"github.com/fundingarb/engine/internal/types"
	"github.com/fundingarb/engine/internal/venue"
	"github.com/fundingarb/engine/internal/venue/evmadapter"
	"github.com/fundingarb/engine/internal/wsfeed"
)

const VERSION = "v1.0"

// Exit codes per spec: 0 normal, 2 configuration invalid, 3 persistent venue
// authentication failure at startup, 4 irrecoverable atomic-rollback incident.
const (
	exitOK                 = 0
	exitConfigInvalid      = 2
	exitVenueAuthFailure   = 3
	exitRollbackIncident   = 4
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	} else {
		log.Info().Msg("✅ .env file loaded successfully")
	}

	proc := config.LoadProcess()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if proc.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	level, err := zerolog.ParseLevel(proc.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("     FUNDINGARB ENGINE %s - DELTA-NEUTRAL FUNDING ARBITRAGE", VERSION)
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	strategy, err := config.LoadStrategy(os.Getenv("STRATEGY_CONFIG_FILE"))
	if err != nil {
		log.Error().Err(err).Msg("invalid strategy configuration")
		os.Exit(exitConfigInvalid)
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// LAYER 1: STORAGE
	// ═══════════════════════════════════════════════════════════════════════════════

	store, err := storage.Open(proc.DatabaseDSN)
	if err != nil {
		log.Error().Err(err).Msg("storage layer unavailable")
		os.Exit(exitConfigInvalid)
	}
	log.Info().Msg("✅ Storage layer initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// LAYER 2: VENUE ADAPTERS + BOOK TICKER CACHE
	// ═══════════════════════════════════════════════════════════════════════════════

	adapters := make(map[string]venue.Adapter, len(strategy.Exchanges))
	subscribers := make(map[string]wsfeed.Subscriber, len(strategy.Exchanges))
	for _, name := range strategy.Exchanges {
		a, err := buildVenueAdapter(name, proc.DryRun)
		if err != nil {
			log.Error().Err(err).Str("venue", name).Msg("venue authentication failed at startup")
			os.Exit(exitVenueAuthFailure)
		}
		adapters[name] = a
		subscribers[name] = a
		log.Info().Str("venue", name).Msg("✅ venue adapter initialized")
	}
	cache := wsfeed.New(subscribers)

	// ═══════════════════════════════════════════════════════════════════════════════
	// LAYER 3: ANALYSIS + EXECUTION
	// ═══════════════════════════════════════════════════════════════════════════════

	venueDefs := make([]types.Venue, 0, len(adapters))
	for _, a := range adapters {
		venueDefs = append(venueDefs, a.Venue())
	}
	feeModel := fees.NewModelFromVenues(venueDefs)
	fundingAnalyzer := analyzer.New(feeModel)
	liquidityAnalyzer := liquidity.New()

	atomicCfg := atomicx.DefaultConfig()
	atomicCfg.WarmupMs = strategy.AtomicWarmupMs
	atomicCfg.MaxAlignmentSpreadPct = strategy.MaxAlignmentSpreadPct
	atomicCfg.LiquidityPolicy = strategy.Liquidity
	atomicExecutor := atomicx.New(cache, liquidityAnalyzer, atomicCfg)

	riskEvaluator := risk.New(strategy.Rebalance)
	fundingClient := fundingsvc.New(proc.FundingSvcURL)

	notifier, err := alert.NewTelegram()
	if err != nil {
		log.Warn().Err(err).Msg("telegram unavailable, using noop notifier")
		notifier = alert.NewNoop()
	}
	log.Info().Msg("✅ Strategy components initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// LAYER 4: ORCHESTRATOR
	// ═══════════════════════════════════════════════════════════════════════════════

	orchCfg := orchestrator.Config{
		MaxPositions:             strategy.MaxPositions,
		MaxPositionSizeUSD:       strategy.MaxPositionSizeUSD,
		MinProfitAPY:             strategy.MinProfitAPY,
		MaxOIUSD:                 strategy.MaxOIUSD,
		SinglePositionPerSession: strategy.SinglePositionPerSession,
		TickInterval:             time.Duration(strategy.TickIntervalSeconds) * time.Second,
		CooldownSeconds:          strategy.CooldownSeconds,
		MaxNewPerCycle:           1,
	}
	orch := orchestrator.New(orchCfg, adapters, store, fundingAnalyzer, riskEvaluator, atomicExecutor, fundingClient, notifier)
	log.Info().Msg("✅ Strategy orchestrator initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// LAYER 5: METRICS ENDPOINT
	// ═══════════════════════════════════════════════════════════════════════════════

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", metricsAddr).Msg("✅ Metrics endpoint listening")

	// ═══════════════════════════════════════════════════════════════════════════════
	// STATUS BANNER
	// ═══════════════════════════════════════════════════════════════════════════════

	mode := "LIVE"
	if proc.DryRun {
		mode = "DRY RUN"
	}
	log.Info().Msg("")
	log.Info().Msg("╔═══════════════════════════════════════════════════════════════╗")
	log.Info().Msgf("║  FUNDINGARB ENGINE %s                                       ║", VERSION)
	log.Info().Msg("╠═══════════════════════════════════════════════════════════════╣")
	log.Info().Msgf("║  Mode:          %-48s ║", mode)
	log.Info().Msgf("║  Exchanges:     %-48s ║", fmt.Sprintf("%v", strategy.Exchanges))
	log.Info().Msgf("║  Max positions: %-48d ║", strategy.MaxPositions)
	log.Info().Msgf("║  Tick interval: %-45ds ║", strategy.TickIntervalSeconds)
	log.Info().Msg("╚═══════════════════════════════════════════════════════════════╝")
	log.Info().Msg("")

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan error, 1)
	go func() {
		runDone <- orch.Run(ctx, proc.GracefulShutdown)
	}()

	log.Info().Msg("🚀 Running...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := exitOK
	select {
	case <-sigCh:
		log.Warn().Msg("🛑 Shutdown signal received...")
		cancel()
		<-runDone
	case err := <-runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("orchestrator exited with error")
			if errors.Is(err, orchestrator.ErrIrrecoverableIncident) {
				exitCode = exitRollbackIncident
			}
		}
	}

	log.Info().Msg("shutdown complete")
	os.Exit(exitCode)
}

// buildVenueAdapter constructs the concrete evmadapter.Adapter for a named
// venue, reading its REST/WS endpoints and signing key from the environment
// (VENUE_<NAME>_*), and its session-immutable trading parameters from the
// spec's known venue table.
func buildVenueAdapter(name string, dryRun bool) (*evmadapter.Adapter, error) {
	def, ok := knownVenues[name]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", name)
	}
	prefix := "VENUE_" + upper(name) + "_"
	cfg := evmadapter.Config{
		VenueName:       name,
		RESTBaseURL:     os.Getenv(prefix + "REST_URL"),
		WSURL:           os.Getenv(prefix + "WS_URL"),
		ContractAddress: os.Getenv(prefix + "CONTRACT"),
		ChainID:         def.chainID,
		PrivateKeyHex:   os.Getenv(prefix + "PRIVATE_KEY"),
		Venue:           def.venue,
		Symbols:         def.symbols,
		DryRun:          dryRun,
	}
	return evmadapter.New(cfg)
}

type venueDef struct {
	chainID int64
	venue   types.Venue
	symbols map[string]types.Symbol
}

var knownVenues = map[string]venueDef{
	"lighter": {
		chainID: 42161,
		venue: types.Venue{
			Name: "lighter", FundingIntervalSec: 3600,
			MakerFeeRate: decimalFromString("0.0002"), TakerFeeRate: decimalFromString("0.0005"),
			LeverageSettable: true, FullDepthWS: true,
		},
		symbols: defaultSymbolSet(),
	},
	"aster": {
		chainID: 56,
		venue: types.Venue{
			Name: "aster", FundingIntervalSec: 28800,
			MakerFeeRate: decimalFromString("0.0001"), TakerFeeRate: decimalFromString("0.0004"),
			LeverageSettable: false, FullDepthWS: false,
		},
		symbols: defaultSymbolSet(),
	},
}

func defaultSymbolSet() map[string]types.Symbol {
	return map[string]types.Symbol{
		"BTC": {Underlying: "BTC", TickSize: decimalFromString("0.1"), LotSize: decimalFromString("0.001"), MinOrder: decimalFromString("0.001")},
		"ETH": {Underlying: "ETH", TickSize: decimalFromString("0.01"), LotSize: decimalFromString("0.01"), MinOrder: decimalFromString("0.01")},
		"SOL": {Underlying: "SOL", TickSize: decimalFromString("0.001"), LotSize: decimalFromString("0.1"), MinOrder: decimalFromString("0.1")},
	}
}

func decimalFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func upper(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'a' && r <= 'z' {
			out[i] = r - ('a' - 'A')
		}
	}
	return string(out)
}
