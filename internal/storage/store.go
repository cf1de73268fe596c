// Package storage implements PositionStore: the durable, write-ahead
// journal of positions and funding payments. Grounded in the teacher's
// internal/database/database.go gorm-model-and-methods shape and
// execution/reconciler.go's restart-recovery pattern, generalized from the
// teacher's prediction-market trade ledger to the funding-arbitrage Position
// schema of spec §6. Backend is abstract: sqlite for local/dev and tests,
// postgres for production, selected by DSN scheme.
package storage

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fundingarb/engine/internal/types"
)

// ErrNotFound is returned by Get when no position exists for the given id.
var ErrNotFound = errors.New("storage: position not found")

// PositionRecord is the gorm model for the `positions` table (spec §6).
type PositionRecord struct {
	ID                   string          `gorm:"column:id;primaryKey"`
	Symbol               string          `gorm:"column:symbol;index"`
	LongVenue            string          `gorm:"column:long_venue"`
	ShortVenue           string          `gorm:"column:short_venue"`
	SizeUSD              decimal.Decimal `gorm:"column:size_usd;type:numeric"`
	EntryLongPrice       decimal.Decimal `gorm:"column:entry_long_price;type:numeric"`
	EntryShortPrice      decimal.Decimal `gorm:"column:entry_short_price;type:numeric"`
	EntryLongRate        decimal.Decimal `gorm:"column:entry_long_rate;type:numeric"`
	EntryShortRate       decimal.Decimal `gorm:"column:entry_short_rate;type:numeric"`
	EntryDivergence      decimal.Decimal `gorm:"column:entry_divergence;type:numeric"`
	CurrentDivergence    decimal.Decimal `gorm:"column:current_divergence;type:numeric"`
	Status               string          `gorm:"column:status;index"`
	ExitReason           string          `gorm:"column:exit_reason"`
	OpenedAt             time.Time       `gorm:"column:opened_at"`
	LastCheckAt          time.Time       `gorm:"column:last_check_at"`
	ClosedAt             *time.Time      `gorm:"column:closed_at"`
	RealizedPnLUSD       decimal.Decimal `gorm:"column:realized_pnl_usd;type:numeric"`
	CumulativeFundingUSD decimal.Decimal `gorm:"column:cumulative_funding_usd;type:numeric;default:0"`
	TotalFeesUSD         decimal.Decimal `gorm:"column:total_fees_usd;type:numeric;default:0"`
	Metadata             string          `gorm:"column:metadata;type:jsonb"`
}

func (PositionRecord) TableName() string { return "positions" }

// FundingPaymentRecord is the gorm model for `funding_payments`.
type FundingPaymentRecord struct {
	ID         string          `gorm:"column:id;primaryKey"`
	PositionID string          `gorm:"column:position_id;index"`
	Venue      string          `gorm:"column:venue;uniqueIndex:idx_venue_symbol_paid_at"`
	Symbol     string          `gorm:"column:symbol;uniqueIndex:idx_venue_symbol_paid_at"`
	AmountUSD  decimal.Decimal `gorm:"column:amount_usd;type:numeric"`
	PaidAt     time.Time       `gorm:"column:paid_at;uniqueIndex:idx_venue_symbol_paid_at"`
}

func (FundingPaymentRecord) TableName() string { return "funding_payments" }

// StrategyStateRecord is the gorm model for `strategy_state`: named JSON
// state blobs written by SaveStrategyState and read by LoadStrategyState.
// The orchestrator keeps its cooldown timestamps and hysteresis counters in
// memory and does not persist them here.
type StrategyStateRecord struct {
	Name      string    `gorm:"column:name;primaryKey"`
	StateData string    `gorm:"column:state_data;type:jsonb"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (StrategyStateRecord) TableName() string { return "strategy_state" }

// Store is the PositionStore implementation.
type Store struct {
	db *gorm.DB
}

// Open connects to a postgres or sqlite backend based on the DSN scheme and
// auto-migrates the schema.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("position store connected (postgres)")
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("position store connected (sqlite)")
	}

	if err := db.AutoMigrate(&PositionRecord{}, &FundingPaymentRecord{}, &StrategyStateRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func toRecord(p types.Position) PositionRecord {
	var closedAt *time.Time
	if !p.ClosedAt.IsZero() {
		t := p.ClosedAt
		closedAt = &t
	}
	return PositionRecord{
		ID:                   p.ID,
		Symbol:               p.Symbol,
		LongVenue:            p.LongVenue,
		ShortVenue:           p.ShortVenue,
		SizeUSD:              p.SizeUSD,
		EntryLongPrice:       p.EntryLongPrice,
		EntryShortPrice:      p.EntryShortPrice,
		EntryLongRate:        p.EntryLongRate,
		EntryShortRate:       p.EntryShortRate,
		EntryDivergence:      p.EntryDivergence,
		CurrentDivergence:    p.CurrentDivergence,
		Status:               string(p.Status),
		ExitReason:           string(p.ExitReason),
		OpenedAt:             p.OpenedAt,
		LastCheckAt:          p.LastCheckAt,
		ClosedAt:             closedAt,
		RealizedPnLUSD:       p.RealizedPnLUSD,
		CumulativeFundingUSD: p.CumulativeFundingUSD,
		TotalFeesUSD:         p.TotalFeesUSD,
	}
}

func fromRecord(r PositionRecord) types.Position {
	p := types.Position{
		ID:                   r.ID,
		Symbol:               r.Symbol,
		LongVenue:            r.LongVenue,
		ShortVenue:           r.ShortVenue,
		SizeUSD:              r.SizeUSD,
		EntryLongPrice:       r.EntryLongPrice,
		EntryShortPrice:      r.EntryShortPrice,
		EntryLongRate:        r.EntryLongRate,
		EntryShortRate:       r.EntryShortRate,
		EntryDivergence:      r.EntryDivergence,
		CurrentDivergence:    r.CurrentDivergence,
		Status:               types.PositionStatus(r.Status),
		ExitReason:           types.ExitReason(r.ExitReason),
		OpenedAt:             r.OpenedAt,
		LastCheckAt:          r.LastCheckAt,
		RealizedPnLUSD:       r.RealizedPnLUSD,
		CumulativeFundingUSD: r.CumulativeFundingUSD,
		TotalFeesUSD:         r.TotalFeesUSD,
	}
	if r.ClosedAt != nil {
		p.ClosedAt = *r.ClosedAt
	}
	return p
}

// Create inserts a new Position. A UUID is generated if the caller hasn't
// set one.
func (s *Store) Create(p types.Position) (types.Position, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	rec := toRecord(p)
	if err := s.db.Create(&rec).Error; err != nil {
		return p, err
	}
	return fromRecord(rec), nil
}

// Update persists every mutable field of an existing Position. Every
// status transition is flushed here before the corresponding venue action
// is considered durable, per spec §4.10's write-ahead requirement.
func (s *Store) Update(p types.Position) error {
	rec := toRecord(p)
	return s.db.Model(&PositionRecord{}).Where("id = ?", p.ID).Updates(&rec).Error
}

// Close transitions a Position to CLOSED with its exit reason and realized
// PnL.
func (s *Store) Close(positionID string, reason types.ExitReason, realizedPnL decimal.Decimal) error {
	now := time.Now()
	return s.db.Model(&PositionRecord{}).Where("id = ?", positionID).Updates(map[string]interface{}{
		"status":           string(types.StatusClosed),
		"exit_reason":      string(reason),
		"closed_at":        now,
		"realized_pnl_usd": realizedPnL,
	}).Error
}

// Get fetches a single Position by ID.
func (s *Store) Get(id string) (types.Position, error) {
	var rec PositionRecord
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Position{}, ErrNotFound
	}
	if err != nil {
		return types.Position{}, err
	}
	return fromRecord(rec), nil
}

// ListOpen returns every Position not in a terminal state.
func (s *Store) ListOpen() ([]types.Position, error) {
	var recs []PositionRecord
	err := s.db.Where("status IN ?", []string{string(types.StatusOpening), string(types.StatusOpen), string(types.StatusClosing)}).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// RecordFunding appends a funding payment. The backend's unique index on
// (venue, symbol, paid_at) enforces de-duplication; a conflicting insert is
// logged and dropped, see DESIGN.md Open Question 2.
func (s *Store) RecordFunding(payment types.FundingPayment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	rec := FundingPaymentRecord{
		ID:         payment.ID,
		PositionID: payment.PositionID,
		Venue:      payment.Venue,
		Symbol:     payment.Symbol,
		AmountUSD:  payment.AmountUSD,
		PaidAt:     payment.PaidAt,
	}
	err := s.db.Create(&rec).Error
	if err != nil {
		log.Warn().Err(err).Str("venue", payment.Venue).Str("symbol", payment.Symbol).Msg("funding payment insert conflict, dropping")
		return nil
	}
	return nil
}

// ListFunding returns every funding payment recorded against a Position.
func (s *Store) ListFunding(positionID string) ([]types.FundingPayment, error) {
	var recs []FundingPaymentRecord
	err := s.db.Where("position_id = ?", positionID).Order("paid_at asc").Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.FundingPayment, 0, len(recs))
	for _, r := range recs {
		out = append(out, types.FundingPayment{ID: r.ID, PositionID: r.PositionID, Venue: r.Venue, Symbol: r.Symbol, AmountUSD: r.AmountUSD, PaidAt: r.PaidAt})
	}
	return out, nil
}

// SaveStrategyState persists an arbitrary JSON-serializable state blob
// (e.g. per-symbol cooldowns, hysteresis counters) keyed by name.
func (s *Store) SaveStrategyState(name string, state interface{}) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	rec := StrategyStateRecord{Name: name, StateData: string(data), UpdatedAt: time.Now()}
	return s.db.Save(&rec).Error
}

// LoadStrategyState loads a previously saved state blob into out.
func (s *Store) LoadStrategyState(name string, out interface{}) error {
	var rec StrategyStateRecord
	if err := s.db.First(&rec, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(rec.StateData), out)
}
