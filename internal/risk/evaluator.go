// Package risk implements RiskEvaluator: pluggable, priority-ordered exit
// predicates for open positions. Grounded in the teacher's
// risk/circuit_breaker.go predicate-and-trip shape, generalized from a
// single daily-loss trip condition to a combined, ordered set of
// position-level exit predicates.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/types"
)

// Predicate evaluates one exit condition. Predicates are pure: no locks, no
// side effects, idempotent for unchanged inputs.
type Predicate interface {
	Priority() int
	Reason() types.ExitReason
	ShouldExit(pos types.Position, currentDivergence decimal.Decimal, bestAvailableAPY decimal.Decimal, now time.Time) bool
}

// Config holds the tunables named in spec §6's rebalance.* keys.
type Config struct {
	ErosionThreshold       decimal.Decimal // default 0.5
	MaxAgeHours            float64         // default 168
	EnableBetterOpportunity bool
	MinImprovement         decimal.Decimal // default 0.002 (0.2%)
	HysteresisCycles       int             // default 2, see DESIGN.md Open Question 1
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		ErosionThreshold: decimal.NewFromFloat(0.5),
		MaxAgeHours:      168,
		MinImprovement:   decimal.NewFromFloat(0.002),
		HysteresisCycles: 2,
	}
}

type fundingFlip struct{}

func (fundingFlip) Priority() int                 { return 1 }
func (fundingFlip) Reason() types.ExitReason       { return types.ExitFundingFlip }
func (fundingFlip) ShouldExit(pos types.Position, currentDivergence decimal.Decimal, _ decimal.Decimal, _ time.Time) bool {
	return currentDivergence.LessThanOrEqual(decimal.Zero)
}

type profitErosion struct{ cfg Config }

func (p profitErosion) Priority() int           { return 2 }
func (profitErosion) Reason() types.ExitReason  { return types.ExitProfitErosion }
func (p profitErosion) ShouldExit(pos types.Position, currentDivergence decimal.Decimal, _ decimal.Decimal, _ time.Time) bool {
	if pos.EntryDivergence.IsZero() {
		return false
	}
	ratio := currentDivergence.Div(pos.EntryDivergence)
	return ratio.LessThan(p.cfg.ErosionThreshold)
}

type timeLimit struct{ cfg Config }

func (timeLimit) Priority() int               { return 3 }
func (timeLimit) Reason() types.ExitReason    { return types.ExitTimeLimit }
func (t timeLimit) ShouldExit(pos types.Position, _ decimal.Decimal, _ decimal.Decimal, now time.Time) bool {
	return pos.AgeHours(now) >= t.cfg.MaxAgeHours
}

// betterOpportunity exits toward a superior pair for the same symbol. A
// hysteresis counter (see DESIGN.md) is tracked externally by the caller
// (StrategyOrchestrator) across cycles since Predicate.ShouldExit is pure
// and must not hold state; this predicate reports the instantaneous
// condition only.
type betterOpportunity struct{ cfg Config }

func (betterOpportunity) Priority() int              { return 4 }
func (betterOpportunity) Reason() types.ExitReason   { return types.ExitBetterOpportunity }
func (b betterOpportunity) ShouldExit(pos types.Position, _ decimal.Decimal, bestAvailableAPY decimal.Decimal, _ time.Time) bool {
	if !b.cfg.EnableBetterOpportunity {
		return false
	}
	currentAPY := pos.EntryDivergence
	return bestAvailableAPY.Sub(currentAPY).GreaterThan(b.cfg.MinImprovement)
}

// Evaluator runs all configured predicates in priority order and
// short-circuits on the first match.
type Evaluator struct {
	cfg        Config
	predicates []Predicate
}

// New builds the standard priority-ordered predicate chain.
func New(cfg Config) *Evaluator {
	return &Evaluator{
		cfg: cfg,
		predicates: []Predicate{
			fundingFlip{},
			profitErosion{cfg: cfg},
			timeLimit{cfg: cfg},
			betterOpportunity{cfg: cfg},
		},
	}
}

// HysteresisCycles is the number of consecutive BetterOpportunity hits a
// caller must observe for the same position before acting on it (spec §9
// Open Question 1): a single cycle's improvement can be noise, so
// StrategyOrchestrator debounces across cycles using this threshold rather
// than exiting on the first match.
func (e *Evaluator) HysteresisCycles() int {
	return e.cfg.HysteresisCycles
}

// Evaluate returns the first matching predicate's verdict, or
// should_exit=false if none match.
func (e *Evaluator) Evaluate(pos types.Position, currentDivergence, bestAvailableAPY decimal.Decimal, now time.Time) (shouldExit bool, reason types.ExitReason) {
	for _, p := range e.predicates {
		if p.ShouldExit(pos, currentDivergence, bestAvailableAPY, now) {
			return true, p.Reason()
		}
	}
	return false, ""
}
