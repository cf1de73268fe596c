// Package types holds the data model shared across the funding-arbitrage
// core, kept dependency-free to avoid import cycles between components.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	StatusOpening PositionStatus = "OPENING"
	StatusOpen    PositionStatus = "OPEN"
	StatusClosing PositionStatus = "CLOSING"
	StatusClosed  PositionStatus = "CLOSED"
	StatusFailed  PositionStatus = "FAILED"
)

// ExitReason identifies why a Position was moved to CLOSING/CLOSED.
type ExitReason string

const (
	ExitFundingFlip       ExitReason = "FUNDING_FLIP"
	ExitProfitErosion     ExitReason = "PROFIT_EROSION"
	ExitTimeLimit         ExitReason = "TIME_LIMIT"
	ExitBetterOpportunity ExitReason = "BETTER_OPPORTUNITY"
	ExitOperator          ExitReason = "OPERATOR"
)

// Side is a trading direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Venue describes a perpetual-futures exchange and its session-immutable
// trading parameters. One Venue value is constructed per exchange at
// startup and never mutated afterward.
type Venue struct {
	Name                 string // e.g. "lighter", "aster"
	FundingIntervalSec   int64
	MakerFeeRate         decimal.Decimal
	TakerFeeRate         decimal.Decimal
	LeverageSettable     bool // whether set_account_leverage is meaningful
	FullDepthWS          bool // false => WS only carries top-of-book
}

// RatePerSecond normalizes a raw per-interval funding rate for this venue.
func (v Venue) RatePerSecond(rawRate decimal.Decimal) decimal.Decimal {
	if v.FundingIntervalSec == 0 {
		return decimal.Zero
	}
	return rawRate.Div(decimal.NewFromInt(v.FundingIntervalSec))
}

// Symbol is a normalized underlying plus its per-venue trading increments.
type Symbol struct {
	Underlying string // e.g. "BTC"
	TickSize   decimal.Decimal
	LotSize    decimal.Decimal
	MinOrder   decimal.Decimal
}

// FundingRate is one venue's current funding rate observation for a symbol.
type FundingRate struct {
	Venue           string
	Symbol          string
	Rate            decimal.Decimal // raw per-interval rate
	IntervalSeconds int64
	NextPaymentTime time.Time
}

// RatePerSecond is Rate normalized to a per-second basis.
func (f FundingRate) RatePerSecond() decimal.Decimal {
	if f.IntervalSeconds == 0 {
		return decimal.Zero
	}
	return f.Rate.Div(decimal.NewFromInt(f.IntervalSeconds))
}

// Opportunity is a ranked candidate delta-neutral pair.
type Opportunity struct {
	Symbol      string
	LongVenue   string
	ShortVenue  string
	LongRate    decimal.Decimal // per-second, after orientation
	ShortRate   decimal.Decimal // per-second, after orientation
	Divergence  decimal.Decimal // ShortRate - LongRate, must be > 0
	EstNetAPY   decimal.Decimal
	LongOIUSD   decimal.Decimal
	ShortOIUSD  decimal.Decimal
	Timestamp   time.Time
}

// MinOI returns the smaller of the two legs' open interest, used as the
// tiebreak in FundingAnalyzer.Rank.
func (o Opportunity) MinOI() decimal.Decimal {
	if o.LongOIUSD.LessThan(o.ShortOIUSD) {
		return o.LongOIUSD
	}
	return o.ShortOIUSD
}

// Position is the core entity tracked by the orchestrator across its
// lifetime. Identity is a UUID string.
type Position struct {
	ID                  string
	Symbol              string
	LongVenue           string
	ShortVenue           string
	SizeUSD             decimal.Decimal
	EntryLongPrice      decimal.Decimal
	EntryShortPrice     decimal.Decimal
	EntryLongRate       decimal.Decimal
	EntryShortRate      decimal.Decimal
	EntryDivergence     decimal.Decimal
	CurrentDivergence   decimal.Decimal
	CumulativeFundingUSD decimal.Decimal
	TotalFeesUSD        decimal.Decimal
	OpenedAt            time.Time
	LastCheckAt         time.Time
	Status              PositionStatus
	ExitReason          ExitReason
	ClosedAt            time.Time
	RealizedPnLUSD      decimal.Decimal
}

// AgeHours returns the Position's age in hours as of now.
func (p Position) AgeHours(now time.Time) float64 {
	return now.Sub(p.OpenedAt).Hours()
}

// OrderStatus is the lifecycle state of a TrackedOrder.
type OrderStatus string

const (
	OrderNew      OrderStatus = "NEW"
	OrderPlaced   OrderStatus = "PLACED"
	OrderPartial  OrderStatus = "PARTIAL"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
	OrderRejected OrderStatus = "REJECTED"
	OrderUnknown  OrderStatus = "UNKNOWN"
)

// IsTerminal reports whether the order cannot transition further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected:
		return true
	default:
		return false
	}
}

// TrackedOrder is a single venue order followed through its lifecycle.
type TrackedOrder struct {
	Venue         string
	Symbol        string
	ClientID      string
	VenueOrderID  string
	Side          Side
	RequestedQty  decimal.Decimal
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	FeesPaid      decimal.Decimal
	Status        OrderStatus
}

// Remaining is RequestedQty - FilledQty, floored at zero.
func (t TrackedOrder) Remaining() decimal.Decimal {
	r := t.RequestedQty.Sub(t.FilledQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// BookTicker is a best-bid/ask snapshot for a (venue, symbol) pair.
type BookTicker struct {
	Venue   string
	Symbol  string
	Bid     decimal.Decimal
	Ask     decimal.Decimal
	BidSize decimal.Decimal
	AskSize decimal.Decimal
	Seq     uint64
	TS      time.Time
}

// Mid is the midpoint of bid and ask.
func (b BookTicker) Mid() decimal.Decimal {
	return b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
}

// SpreadBps is the bid-ask spread in basis points of mid.
func (b BookTicker) SpreadBps() decimal.Decimal {
	mid := b.Mid()
	if mid.IsZero() {
		return decimal.Zero
	}
	return b.Ask.Sub(b.Bid).Div(mid).Mul(decimal.NewFromInt(10000))
}

// IsStale reports whether the ticker is older than the given limit.
func (b BookTicker) IsStale(now time.Time, limit time.Duration) bool {
	return now.Sub(b.TS) > limit
}

// FundingPayment is one observed or estimated funding settlement against a
// Position leg. Append-only.
type FundingPayment struct {
	ID         string
	PositionID string
	Venue      string
	Symbol     string
	AmountUSD  decimal.Decimal
	PaidAt     time.Time
}

// BookLevel is a single price/size level of an order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}
