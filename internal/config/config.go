// Package config loads the funding-arbitrage core's configuration. Two
// layers, matching the teacher: process-level settings (DSNs, log level,
// dry-run) come from flat env vars via the teacher's
// getEnv/getEnvBool/getEnvInt/getEnvDuration helper style
// (internal/config/config.go in the teacher); the nested strategy
// configuration enumerated in spec §6 (exchanges, rebalance.*, liquidity.*,
// execution.atomic.*, hedge.opening.*/hedge.closing.*, session.*) is loaded
// through spf13/viper, which merges a YAML file, environment overrides, and
// defaults the way the flat helpers can't express for a dotted-key surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/fundingarb/engine/internal/hedge"
	"github.com/fundingarb/engine/internal/liquidity"
	"github.com/fundingarb/engine/internal/risk"
)

// Process holds process-level settings: DSNs, dry-run, log level, shutdown
// grace period. These are read from flat environment variables, mirroring the
// teacher's internal/config/config.go.
type Process struct {
	LogLevel       string
	LogFormat      string // "console" or "json"
	DryRun         bool
	DatabaseDSN    string
	FundingSvcURL  string
	GracefulShutdown time.Duration
}

// LoadProcess reads process-level settings from the environment.
func LoadProcess() Process {
	return Process{
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		DryRun:           getEnvBool("DRY_RUN", true),
		DatabaseDSN:      getEnv("DATABASE_DSN", "data/fundingarb.db"),
		FundingSvcURL:    getEnv("FUNDING_SVC_URL", "http://localhost:8090"),
		GracefulShutdown: getEnvDuration("GRACEFUL_SHUTDOWN", 15*time.Second),
	}
}

// Strategy is the nested configuration surface enumerated in spec §6.
type Strategy struct {
	Exchanges           []string
	MaxPositions        int
	MaxPositionSizeUSD  decimal.Decimal
	MinProfitAPY        decimal.Decimal
	MaxOIUSD            decimal.Decimal
	Rebalance           risk.Config
	Liquidity           liquidity.Policy
	AtomicWarmupMs      int
	MaxAlignmentSpreadPct decimal.Decimal
	HedgeOpening        hedge.Profile
	HedgeClosing        hedge.Profile
	SinglePositionPerSession bool
	TickIntervalSeconds int
	CooldownSeconds     int
}

// LoadStrategy reads the nested strategy config via viper: a YAML file at
// configPath (if present), overridden by FUNDINGARB_-prefixed env vars,
// falling back to viper defaults for every key spec §6 enumerates.
func LoadStrategy(configPath string) (Strategy, error) {
	v := viper.New()
	v.SetEnvPrefix("FUNDINGARB")
	v.AutomaticEnv()

	v.SetDefault("exchanges", []string{"lighter", "aster"})
	v.SetDefault("max_positions", 5)
	v.SetDefault("max_position_size_usd", "1000")
	v.SetDefault("min_profit_apy", "0.02")
	v.SetDefault("max_oi_usd", "50000000")
	v.SetDefault("rebalance.erosion_threshold", "0.5")
	v.SetDefault("rebalance.max_age_hours", 168)
	v.SetDefault("rebalance.enable_better_opportunity", false)
	v.SetDefault("rebalance.min_improvement", "0.002")
	v.SetDefault("liquidity.max_slippage_pct", "0.5")
	v.SetDefault("liquidity.max_spread_bps", 50)
	v.SetDefault("liquidity.min_liquidity_score", "0.6")
	v.SetDefault("execution.atomic.warmup_ms", 500)
	v.SetDefault("execution.atomic.max_alignment_spread_pct", "0.5")
	v.SetDefault("hedge.opening.max_retries", 8)
	v.SetDefault("hedge.opening.retry_backoff_ms", 75)
	v.SetDefault("hedge.opening.total_timeout_ms", 6000)
	v.SetDefault("hedge.opening.inside_tick_retries", 3)
	v.SetDefault("hedge.closing.max_retries", 5)
	v.SetDefault("hedge.closing.retry_backoff_ms", 50)
	v.SetDefault("hedge.closing.total_timeout_ms", 3000)
	v.SetDefault("hedge.closing.inside_tick_retries", 2)
	v.SetDefault("session.single_position_per_session", false)
	v.SetDefault("tick_interval_seconds", 60)
	v.SetDefault("cooldown_seconds", 3600)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Strategy{}, fmt.Errorf("config: failed reading %s: %w", configPath, err)
			}
		}
	}

	maxPosSize, err := decimal.NewFromString(v.GetString("max_position_size_usd"))
	if err != nil {
		return Strategy{}, fmt.Errorf("config: invalid max_position_size_usd: %w", err)
	}
	minProfitAPY, err := decimal.NewFromString(v.GetString("min_profit_apy"))
	if err != nil {
		return Strategy{}, fmt.Errorf("config: invalid min_profit_apy: %w", err)
	}
	maxOI, err := decimal.NewFromString(v.GetString("max_oi_usd"))
	if err != nil {
		return Strategy{}, fmt.Errorf("config: invalid max_oi_usd: %w", err)
	}
	erosionThreshold, err := decimal.NewFromString(v.GetString("rebalance.erosion_threshold"))
	if err != nil {
		return Strategy{}, fmt.Errorf("config: invalid rebalance.erosion_threshold: %w", err)
	}
	minImprovement, err := decimal.NewFromString(v.GetString("rebalance.min_improvement"))
	if err != nil {
		return Strategy{}, fmt.Errorf("config: invalid rebalance.min_improvement: %w", err)
	}
	maxSlippage, err := decimal.NewFromString(v.GetString("liquidity.max_slippage_pct"))
	if err != nil {
		return Strategy{}, fmt.Errorf("config: invalid liquidity.max_slippage_pct: %w", err)
	}
	minLiquidityScore, err := decimal.NewFromString(v.GetString("liquidity.min_liquidity_score"))
	if err != nil {
		return Strategy{}, fmt.Errorf("config: invalid liquidity.min_liquidity_score: %w", err)
	}
	maxAlignmentSpread, err := decimal.NewFromString(v.GetString("execution.atomic.max_alignment_spread_pct"))
	if err != nil {
		return Strategy{}, fmt.Errorf("config: invalid execution.atomic.max_alignment_spread_pct: %w", err)
	}

	return Strategy{
		Exchanges:          v.GetStringSlice("exchanges"),
		MaxPositions:       v.GetInt("max_positions"),
		MaxPositionSizeUSD: maxPosSize,
		MinProfitAPY:       minProfitAPY,
		MaxOIUSD:           maxOI,
		Rebalance: risk.Config{
			ErosionThreshold:        erosionThreshold,
			MaxAgeHours:             v.GetFloat64("rebalance.max_age_hours"),
			EnableBetterOpportunity: v.GetBool("rebalance.enable_better_opportunity"),
			MinImprovement:          minImprovement,
			HysteresisCycles:        2,
		},
		Liquidity: liquidity.Policy{
			MaxSlippagePct:    maxSlippage,
			MaxSpreadBps:      decimal.NewFromInt(int64(v.GetInt("liquidity.max_spread_bps"))),
			MinLiquidityScore: minLiquidityScore,
		},
		AtomicWarmupMs:        v.GetInt("execution.atomic.warmup_ms"),
		MaxAlignmentSpreadPct: maxAlignmentSpread,
		HedgeOpening: hedge.Profile{
			MaxRetries:        v.GetInt("hedge.opening.max_retries"),
			RetryBackoff:      time.Duration(v.GetInt("hedge.opening.retry_backoff_ms")) * time.Millisecond,
			TotalTimeout:      time.Duration(v.GetInt("hedge.opening.total_timeout_ms")) * time.Millisecond,
			InsideTickRetries: v.GetInt("hedge.opening.inside_tick_retries"),
		},
		HedgeClosing: hedge.Profile{
			MaxRetries:        v.GetInt("hedge.closing.max_retries"),
			RetryBackoff:      time.Duration(v.GetInt("hedge.closing.retry_backoff_ms")) * time.Millisecond,
			TotalTimeout:      time.Duration(v.GetInt("hedge.closing.total_timeout_ms")) * time.Millisecond,
			InsideTickRetries: v.GetInt("hedge.closing.inside_tick_retries"),
		},
		SinglePositionPerSession: v.GetBool("session.single_position_per_session"),
		TickIntervalSeconds:      v.GetInt("tick_interval_seconds"),
		CooldownSeconds:          v.GetInt("cooldown_seconds"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
