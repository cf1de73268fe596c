// Package orchestrator implements StrategyOrchestrator: the three-phase
// control loop (Monitor / Close / Open) that owns Position lifecycle,
// capacity gating, and session policy. Grounded in the teacher's
// core/engine.go mainLoop/positionMonitorLoop shape, generalized from a
// single-feed prediction-market loop to the funding-arbitrage cycle of spec
// §4.11, driven by a ticker exactly like the teacher's engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/alert"
	"github.com/fundingarb/engine/internal/analyzer"
	"github.com/fundingarb/engine/internal/atomicx"
	"github.com/fundingarb/engine/internal/execution"
	"github.com/fundingarb/engine/internal/fundingsvc"
	"github.com/fundingarb/engine/internal/risk"
	"github.com/fundingarb/engine/internal/storage"
	"github.com/fundingarb/engine/internal/telemetry"
	"github.com/fundingarb/engine/internal/types"
	"github.com/fundingarb/engine/internal/venue"
)

// Config mirrors the subset of config.Strategy the orchestrator consumes
// directly.
type Config struct {
	MaxPositions             int
	MaxPositionSizeUSD       decimal.Decimal
	MinProfitAPY             decimal.Decimal
	MaxOIUSD                 decimal.Decimal
	SinglePositionPerSession bool
	TickInterval             time.Duration
	CooldownSeconds          int
	MaxNewPerCycle           int // default 1
}

// ErrIrrecoverableIncident is returned by Run when an atomic-order rollback
// exhausted its retries and escalated to an Incident (spec §7): the process
// is expected to terminate rather than keep trading with an unknown residual
// position on a venue.
var ErrIrrecoverableIncident = errors.New("orchestrator: irrecoverable rollback incident")

// CycleReport is the structured summary emitted once per execute_cycle
// (spec §7, shape specified in SPEC_FULL.md §D).
type CycleReport struct {
	CycleID                 int64
	StartedAt               time.Time
	Duration                time.Duration
	PositionsMonitored      int
	OpportunitiesConsidered int
	EntriesAttempted        int
	EntriesSucceeded        int
	ExitsTriggered          int
	RollbackIncidents       int
}

// Orchestrator runs the three-phase cycle against a set of venue adapters.
type Orchestrator struct {
	cfg       Config
	venues    map[string]venue.Adapter
	store     *storage.Store
	analyzer  *analyzer.Analyzer
	evaluator *risk.Evaluator
	atomic    *atomicx.Executor
	funding   *fundingsvc.Client
	notifier  alert.Notifier

	mu               sync.Mutex // serializes cycle bookkeeping (cooldowns, session flag)
	lastCloseBySymbol map[string]time.Time
	sessionOpened     bool
	cycleID           int64

	positionLocks sync.Map // position ID -> *sync.Mutex, per-Position serialization of Phase 2

	betterOppStreak sync.Map // position ID -> int, consecutive BetterOpportunity hits (spec §9 Open Question 1)
}

// New constructs an Orchestrator.
func New(cfg Config, venues map[string]venue.Adapter, store *storage.Store, az *analyzer.Analyzer, evaluator *risk.Evaluator, atomic *atomicx.Executor, funding *fundingsvc.Client, notifier alert.Notifier) *Orchestrator {
	if cfg.MaxNewPerCycle == 0 {
		cfg.MaxNewPerCycle = 1
	}
	return &Orchestrator{
		cfg:               cfg,
		venues:            venues,
		store:             store,
		analyzer:          az,
		evaluator:         evaluator,
		atomic:            atomic,
		funding:           funding,
		notifier:          notifier,
		lastCloseBySymbol: make(map[string]time.Time),
	}
}

func (o *Orchestrator) positionLock(id string) *sync.Mutex {
	l, _ := o.positionLocks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Run drives execute_cycle on cfg.TickInterval until ctx is canceled. On
// cancellation it gives the in-flight cycle graceShutdown to finish before
// returning.
func (o *Orchestrator) Run(ctx context.Context, graceShutdown time.Duration) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	if err := o.reconcileOnStartup(ctx); err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed")
	}

	// Cycles run under their own context, canceled graceShutdown after ctx.
	cycleCtx, cancelCycles := context.WithCancel(context.Background())
	defer cancelCycles()
	stop := context.AfterFunc(ctx, func() { time.AfterFunc(graceShutdown, cancelCycles) })
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report, err := o.executeCycle(cycleCtx)
			if err != nil {
				log.Error().Err(err).Msg("cycle failed")
				if errors.Is(err, ErrIrrecoverableIncident) {
					return err
				}
				continue
			}
			log.Info().
				Int64("cycle_id", report.CycleID).
				Dur("duration", report.Duration).
				Int("positions_monitored", report.PositionsMonitored).
				Int("opportunities_considered", report.OpportunitiesConsidered).
				Int("entries_attempted", report.EntriesAttempted).
				Int("entries_succeeded", report.EntriesSucceeded).
				Int("exits_triggered", report.ExitsTriggered).
				Int("rollback_incidents", report.RollbackIncidents).
				Msg("cycle complete")
		}
	}
}

// reconcileOnStartup handles positions a previous run left OPENING or
// CLOSING. Every OPENING position gets a reduce-only market order on both
// legs for its size and is closed with reason RECONCILED_ABANDONED; neither
// venue's order status is queried first, and no RollbackIncidentRecord is
// written. CLOSING positions are only logged and stay in the open set.
func (o *Orchestrator) reconcileOnStartup(ctx context.Context) error {
	open, err := o.store.ListOpen()
	if err != nil {
		return err
	}
	for _, pos := range open {
		switch pos.Status {
		case types.StatusOpening:
			log.Warn().Str("position_id", pos.ID).Msg("reconciling OPENING position found at startup")
			if err := o.forceCloseFilledLeg(ctx, pos); err != nil {
				log.Error().Err(err).Str("position_id", pos.ID).Msg("force-close during reconciliation failed")
			}
		case types.StatusClosing:
			log.Warn().Str("position_id", pos.ID).Msg("reconciling CLOSING position found at startup, will re-drive")
		}
	}
	return nil
}

func (o *Orchestrator) forceCloseFilledLeg(ctx context.Context, pos types.Position) error {
	longAdapter, okL := o.venues[pos.LongVenue]
	shortAdapter, okS := o.venues[pos.ShortVenue]
	if !okL || !okS {
		return fmt.Errorf("orchestrator: unknown venue for position %s", pos.ID)
	}
	for _, leg := range []struct {
		adapter venue.Adapter
		side    types.Side
	}{
		{longAdapter, types.SideSell},
		{shortAdapter, types.SideBuy},
	} {
		clientID, err := leg.adapter.PlaceMarket(ctx, pos.Symbol, leg.side, pos.SizeUSD, true)
		if err != nil {
			log.Error().Err(err).Str("position_id", pos.ID).Str("venue", leg.adapter.Name()).Msg("reconciliation force-close failed")
			continue
		}
		_, _ = leg.adapter.OrderStatus(ctx, clientID)
	}
	return o.store.Close(pos.ID, types.ExitReason("RECONCILED_ABANDONED"), decimal.Zero)
}

// executeCycle runs Phase 1 (Monitor), Phase 2 (Close), Phase 3 (Open) in
// sequence. Phase 1 processes positions in parallel (read-mostly); Phase 2
// takes each Position's mutex for the duration of its action on it.
func (o *Orchestrator) executeCycle(ctx context.Context) (CycleReport, error) {
	started := time.Now()
	o.mu.Lock()
	o.cycleID++
	cycleID := o.cycleID
	o.mu.Unlock()

	telemetry.CyclesRun.Inc()
	report := CycleReport{CycleID: cycleID, StartedAt: started}

	positions, err := o.store.ListOpen()
	if err != nil {
		return report, fmt.Errorf("orchestrator: list open positions: %w", err)
	}
	report.PositionsMonitored = len(positions)
	telemetry.PositionsMonitored.Set(float64(len(positions)))

	o.monitor(ctx, positions)

	exits := o.closePhase(ctx, positions)
	report.ExitsTriggered = exits.triggered
	report.RollbackIncidents = exits.rollbacks

	if o.canOpenThisCycle() {
		opened := o.openPhase(ctx)
		report.OpportunitiesConsidered = opened.considered
		report.EntriesAttempted = opened.attempted
		report.EntriesSucceeded = opened.succeeded
		report.RollbackIncidents += opened.rollbacks
	}

	if stillOpen, err := o.store.ListOpen(); err == nil {
		telemetry.OpenPositions.Set(float64(len(stillOpen)))
	}

	report.Duration = time.Since(started)
	if report.RollbackIncidents > 0 {
		return report, ErrIrrecoverableIncident
	}
	return report, nil
}

// monitor is Phase 1: refreshes current_divergence, the long/short rates and
// last_check_at for every open position, concurrently. It records no funding
// payments and leaves cumulative_funding_usd unchanged.
func (o *Orchestrator) monitor(ctx context.Context, positions []types.Position) {
	var wg sync.WaitGroup
	for i := range positions {
		pos := positions[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.monitorOne(ctx, pos)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) monitorOne(ctx context.Context, pos types.Position) {
	divergence, longRate, shortRate, err := o.funding.Compare(ctx, pos.Symbol, pos.LongVenue, pos.ShortVenue)
	if err != nil {
		log.Warn().Err(err).Str("position_id", pos.ID).Msg("funding compare failed")
		return
	}
	pos.CurrentDivergence = divergence
	pos.EntryLongRate, pos.EntryShortRate = longRate, shortRate // refreshed view, not the original entry
	pos.LastCheckAt = time.Now()
	if err := o.store.Update(pos); err != nil {
		log.Error().Err(err).Str("position_id", pos.ID).Msg("failed to persist monitor update")
	}
}

type closeOutcome struct {
	triggered int
	rollbacks int
}

// closePhase is Phase 2: consults RiskEvaluator for every open position and
// drives any triggered exit to CLOSED via an atomic close of both legs. The
// close legs are not sent reduce-only, and atomicx runs any hedge with the
// opening hedge profile.
func (o *Orchestrator) closePhase(ctx context.Context, positions []types.Position) closeOutcome {
	var outcome closeOutcome
	for _, pos := range positions {
		lock := o.positionLock(pos.ID)
		lock.Lock()
		bestAPY := o.bestAvailableAPY(ctx, pos.Symbol)
		shouldExit, reason := o.evaluator.Evaluate(pos, pos.CurrentDivergence, bestAPY, time.Now())
		if shouldExit && reason == types.ExitBetterOpportunity && !o.debounceBetterOpportunity(pos.ID) {
			shouldExit = false
		} else if reason != types.ExitBetterOpportunity {
			o.betterOppStreak.Delete(pos.ID)
		}
		if shouldExit {
			outcome.triggered++
			telemetry.ExitsTriggered.WithLabelValues(string(reason)).Inc()
			if reason == types.ExitFundingFlip {
				o.notifier.FundingFlip(pos.ID, pos.Symbol, pos.CurrentDivergence)
			}
			if incident := o.closePosition(ctx, pos, reason); incident {
				outcome.rollbacks++
			}
		}
		lock.Unlock()
	}
	return outcome
}

// bestAvailableAPY queries the funding aggregation service for the best
// currently available pair on this symbol, for RiskEvaluator's
// BetterOpportunity predicate. A lookup failure or no-opportunity result is
// not an error here: it just means BetterOpportunity can't fire this cycle.
func (o *Orchestrator) bestAvailableAPY(ctx context.Context, symbol string) decimal.Decimal {
	best, ok, err := o.funding.Best(ctx, symbol)
	if err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("best-opportunity lookup failed")
		return decimal.Zero
	}
	if !ok {
		return decimal.Zero
	}
	return best.NetProfitAPY
}

// debounceBetterOpportunity implements spec §9 Open Question 1: a position
// only exits on BetterOpportunity once it has evaluated true for
// HysteresisCycles consecutive cycles, so a single noisy cycle can't flip a
// healthy position. Returns true once the streak has reached threshold.
func (o *Orchestrator) debounceBetterOpportunity(positionID string) bool {
	threshold := o.evaluator.HysteresisCycles()
	if threshold <= 1 {
		return true
	}
	v, _ := o.betterOppStreak.LoadOrStore(positionID, 0)
	streak := v.(int) + 1
	o.betterOppStreak.Store(positionID, streak)
	return streak >= threshold
}

func (o *Orchestrator) closePosition(ctx context.Context, pos types.Position, reason types.ExitReason) (incidentRecorded bool) {
	pos.Status = types.StatusClosing
	if err := o.store.Update(pos); err != nil {
		log.Error().Err(err).Str("position_id", pos.ID).Msg("failed to mark position CLOSING")
	}

	longAdapter, okL := o.venues[pos.LongVenue]
	shortAdapter, okS := o.venues[pos.ShortVenue]
	if !okL || !okS {
		log.Error().Str("position_id", pos.ID).Msg("unknown venue at close time")
		return false
	}

	result, err := o.atomic.ExecuteAtomic(ctx,
		atomicx.LegRequest{Venue: longAdapter, Symbol: pos.Symbol, Side: types.SideSell, SizeUSD: pos.SizeUSD, Mode: execution.LimitWithFallback},
		atomicx.LegRequest{Venue: shortAdapter, Symbol: pos.Symbol, Side: types.SideBuy, SizeUSD: pos.SizeUSD, Mode: execution.LimitWithFallback},
		true,
	)
	if err != nil {
		log.Error().Err(err).Str("position_id", pos.ID).Msg("close execution failed")
	}

	if result.Incident != nil {
		telemetry.RollbackIncidents.Inc()
		o.notifier.RollbackIncident(pos.Symbol, result.Incident.ResidualQty, result.Incident.Venue, result.Incident.LastError)
		pos.Status = types.StatusFailed
		_ = o.store.Update(pos)
		return true
	}

	realizedPnL := estimateRealizedPnL(pos, result)
	if err := o.store.Close(pos.ID, reason, realizedPnL); err != nil {
		log.Error().Err(err).Str("position_id", pos.ID).Msg("failed to persist close")
	}

	o.mu.Lock()
	o.lastCloseBySymbol[pos.Symbol] = time.Now()
	o.mu.Unlock()
	return false
}

func estimateRealizedPnL(pos types.Position, result atomicx.Result) decimal.Decimal {
	longPnL := result.LegA.AvgPrice.Sub(pos.EntryLongPrice)
	shortPnL := pos.EntryShortPrice.Sub(result.LegB.AvgPrice)
	return longPnL.Add(shortPnL).Add(pos.CumulativeFundingUSD).Sub(pos.TotalFeesUSD).Sub(result.RollbackCostUSD)
}

func (o *Orchestrator) canOpenThisCycle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cfg.SinglePositionPerSession && o.sessionOpened {
		return false
	}
	open, err := o.store.ListOpen()
	if err != nil {
		return false
	}
	return len(open) < o.cfg.MaxPositions
}

type openOutcome struct {
	considered int
	attempted  int
	succeeded  int
	rollbacks  int
}

// openPhase is Phase 3: queries ranked opportunities and attempts up to
// max_new_per_cycle atomic entries, honoring per-symbol cooldown.
func (o *Orchestrator) openPhase(ctx context.Context) openOutcome {
	var outcome openOutcome

	raw, err := o.funding.Opportunities(ctx, o.cfg.MinProfitAPY, o.cfg.MaxOIUSD, o.venueNames(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("funding opportunities request failed")
		return outcome
	}

	opportunities := make([]types.Opportunity, 0, len(raw))
	for _, r := range raw {
		opportunities = append(opportunities, types.Opportunity{
			Symbol: r.Symbol, LongVenue: r.LongDex, ShortVenue: r.ShortDex,
			LongRate: r.LongRate, ShortRate: r.ShortRate, Divergence: r.Divergence,
			EstNetAPY: r.NetProfitAPY, LongOIUSD: r.LongOIUSD, ShortOIUSD: r.ShortOIUSD,
			Timestamp: time.Now(),
		})
		telemetry.OpportunitiesConsidered.WithLabelValues(r.Symbol).Inc()
	}
	outcome.considered = len(opportunities)
	ranked := analyzer.Rank(opportunities)

	for _, opp := range ranked {
		if outcome.attempted >= o.cfg.MaxNewPerCycle {
			break
		}
		if o.inCooldown(opp.Symbol) {
			continue
		}
		longAdapter, okL := o.venues[opp.LongVenue]
		shortAdapter, okS := o.venues[opp.ShortVenue]
		if !okL || !okS {
			continue
		}

		outcome.attempted++
		telemetry.EntriesAttempted.Inc()
		succeeded, incident := o.openOne(ctx, opp, longAdapter, shortAdapter)
		if incident {
			outcome.rollbacks++
		}
		if succeeded {
			outcome.succeeded++
			o.mu.Lock()
			o.sessionOpened = true
			o.mu.Unlock()
		}
	}
	return outcome
}

func (o *Orchestrator) inCooldown(symbol string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	last, ok := o.lastCloseBySymbol[symbol]
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(o.cfg.CooldownSeconds)*time.Second
}

func (o *Orchestrator) venueNames() []string {
	names := make([]string, 0, len(o.venues))
	for name := range o.venues {
		names = append(names, name)
	}
	return names
}

func (o *Orchestrator) openOne(ctx context.Context, opp types.Opportunity, longAdapter, shortAdapter venue.Adapter) (succeeded, incident bool) {
	sizeUSD := o.cfg.MaxPositionSizeUSD

	result, err := o.atomic.ExecuteAtomic(ctx,
		atomicx.LegRequest{Venue: longAdapter, Symbol: opp.Symbol, Side: types.SideBuy, SizeUSD: sizeUSD, Mode: execution.LimitWithFallback},
		atomicx.LegRequest{Venue: shortAdapter, Symbol: opp.Symbol, Side: types.SideSell, SizeUSD: sizeUSD, Mode: execution.LimitWithFallback},
		true,
	)
	if err != nil {
		log.Warn().Err(err).Str("symbol", opp.Symbol).Msg("atomic entry failed")
	}
	if result.Incident != nil {
		telemetry.RollbackIncidents.Inc()
		o.notifier.RollbackIncident(opp.Symbol, result.Incident.ResidualQty, result.Incident.Venue, result.Incident.LastError)
		return false, true
	}
	if !result.AllFilled {
		return false, false
	}

	pos := types.Position{
		Symbol:            opp.Symbol,
		LongVenue:         opp.LongVenue,
		ShortVenue:        opp.ShortVenue,
		SizeUSD:           sizeUSD,
		EntryLongPrice:    result.LegA.AvgPrice,
		EntryShortPrice:   result.LegB.AvgPrice,
		EntryLongRate:     opp.LongRate,
		EntryShortRate:    opp.ShortRate,
		EntryDivergence:   opp.Divergence,
		CurrentDivergence: opp.Divergence,
		TotalFeesUSD:      result.LegA.FeesPaid.Add(result.LegB.FeesPaid),
		OpenedAt:          time.Now(),
		LastCheckAt:       time.Now(),
		Status:            types.StatusOpen,
	}
	if _, err := o.store.Create(pos); err != nil {
		log.Error().Err(err).Str("symbol", opp.Symbol).Msg("failed to persist new position")
		return false, false
	}

	telemetry.EntriesSucceeded.Inc()
	return true, false
}
