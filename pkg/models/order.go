package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderKind distinguishes limit from market orders.
type OrderKind string

const (
	KindLimit  OrderKind = "limit"
	KindMarket OrderKind = "market"
)

// OrderState is the lifecycle state of an order (spec.md §3).
type OrderState string

const (
	OrderOpen            OrderState = "open"
	OrderPartiallyFilled OrderState = "partially-filled"
	OrderFilled          OrderState = "filled"
	OrderCancelled       OrderState = "cancelled"
	OrderRejected        OrderState = "rejected"
)

// MarketOrderPolicy controls what happens to an unfilled market order.
type MarketOrderPolicy string

const (
	PolicyPartialOK   MarketOrderPolicy = "partial-ok"
	PolicyAllOrNone   MarketOrderPolicy = "all-or-none"
)

// Order is a single resting or incoming order in an order-book market.
// Price is an integer tick in [1, PriceTickBound] representing a basis-point
// probability; Size and FilledSize are integer share counts. Limit orders
// carry Price; market orders ignore it.
type Order struct {
	ID             uuid.UUID
	MarketID       uuid.UUID
	UserID         uuid.UUID
	Side           Side
	OutcomeIndex   int
	Kind           OrderKind
	Price          int64 // ticks, limit only
	Size           int64
	FilledSize     int64
	State          OrderState
	Policy         MarketOrderPolicy
	SubmitTime     time.Time
	LastUpdateTime time.Time
}

// Residual returns the unfilled portion of the order's size.
func (o *Order) Residual() int64 {
	return o.Size - o.FilledSize
}

// IsTerminal reports whether the order can no longer be matched or cancelled.
func (o *Order) IsTerminal() bool {
	switch o.State {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// Trade is an immutable fill record. BuyerOrderID and SellerOrderID are both
// the zero UUID when the counterparty is an AMM pool (IsAMMCounterparty marks
// that case explicitly).
type Trade struct {
	ID            uuid.UUID
	MarketID      uuid.UUID
	BuyerOrderID  uuid.UUID
	SellerOrderID uuid.UUID
	IsAMMCounterparty bool
	OutcomeIndex  int
	Price         int64 // ticks
	Size          int64
	Timestamp     time.Time
}

// PriceTickBound is the default upper bound of the integer price grid
// (basis-point probabilities from 1 to 9999, i.e. 0.01%..99.99%).
const PriceTickBound = 9999

// TicksPerUnit is the scale denominator: a price of TicksPerUnit ticks would
// represent a probability of 100.00%. Collateral for a buy of size s at
// price p ticks is p*s ticks; collateral for a sell is (TicksPerUnit-p)*s.
const TicksPerUnit = 10000

// ticksPerUnitDecimal is TicksPerUnit as a decimal.Decimal, computed once.
var ticksPerUnitDecimal = decimal.NewFromInt(TicksPerUnit)

// Probability renders an order's limit price as a decimal probability in
// [0,1], the way the bookkeeper's account types expose decimal.Decimal
// externally while keeping internal arithmetic on integer ticks.
func (o *Order) Probability() decimal.Decimal {
	return decimal.NewFromInt(o.Price).Div(ticksPerUnitDecimal)
}

// Probability renders a trade's fill price as a decimal probability in [0,1].
func (t *Trade) Probability() decimal.Decimal {
	return decimal.NewFromInt(t.Price).Div(ticksPerUnitDecimal)
}
