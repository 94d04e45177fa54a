package system

import (
	"context"
	"time"
	"trade-system-go/internal/models"
)

// Ledger books trades and tracks cash and positions for the system.
// A declined order is reported either through a non-nil error or through a
// record whose business type differs from the one requested.
type Ledger interface {
	HasPosition(inst models.Instrument) bool
	Position(inst models.Instrument) models.PositionRecord
	HasShortPosition(inst models.Instrument) bool
	ShortPosition(inst models.Instrument) models.PositionRecord

	Buy(o models.Order) (models.TradeRecord, error)
	Sell(o models.Order) (models.TradeRecord, error)
	SellShort(o models.Order) (models.TradeRecord, error)
	BuyShort(o models.Order) (models.TradeRecord, error)

	// InitTime is the ledger's opening time. Bars before it are not traded.
	InitTime() time.Time
	SetBorrowPolicy(cash, stock bool)
	Reset()
	Clone() Ledger
}

// BookKeeper is implemented by ledgers whose cash and positions can be
// captured in a snapshot and restored from it.
type BookKeeper interface {
	Book() models.LedgerState
	RestoreBook(st models.LedgerState) error
}

// Signal decides when to enter and leave the market.
type Signal interface {
	ShouldBuy(t time.Time) bool
	ShouldSell(t time.Time) bool
	SetBars(inst models.Instrument, bars []models.Bar)
	Reset()
	Clone() Signal
}

// Environment is a market-wide validity filter.
type Environment interface {
	IsValid(t time.Time) bool
	SetQuery(q models.Query)
	Reset()
	Clone() Environment
}

// Condition is a per-instrument validity filter.
type Condition interface {
	IsValid(t time.Time) bool
	SetBars(inst models.Instrument, bars []models.Bar)
	Attach(l Ledger, sg Signal)
	Reset()
	Clone() Condition
}

// Sizer computes order quantities from price and per-unit risk.
type Sizer interface {
	BuyNumber(t time.Time, inst models.Instrument, price, risk float64, cause models.Cause) float64
	SellNumber(t time.Time, inst models.Instrument, price, risk float64, cause models.Cause) float64
	SellShortNumber(t time.Time, inst models.Instrument, price, risk float64, cause models.Cause) float64
	BuyShortNumber(t time.Time, inst models.Instrument, price, risk float64, cause models.Cause) float64

	BuyNotify(r models.TradeRecord)
	SellNotify(r models.TradeRecord)

	Attach(l Ledger)
	SetQuery(q models.Query)
	Reset()
	Clone() Sizer
}

// Stoploss prices a protective stop. The same contract serves the
// take-profit calculator. A zero price means no threshold.
type Stoploss interface {
	Price(t time.Time, price float64) float64
	ShortPrice(t time.Time, price float64) float64
	SetBars(inst models.Instrument, bars []models.Bar)
	Attach(l Ledger)
	Reset()
	Clone() Stoploss
}

// ProfitGoal prices the target exit. A zero price means no goal.
type ProfitGoal interface {
	GoalPrice(t time.Time, price float64) float64
	ShortGoalPrice(t time.Time, price float64) float64
	BuyNotify(r models.TradeRecord)
	SellNotify(r models.TradeRecord)
	SetBars(inst models.Instrument, bars []models.Bar)
	Attach(l Ledger)
	Reset()
	Clone() ProfitGoal
}

// Slippage turns a planned price into the price actually paid or received.
type Slippage interface {
	BuyPrice(t time.Time, planPrice float64) float64
	SellPrice(t time.Time, planPrice float64) float64
	SetBars(inst models.Instrument, bars []models.Bar)
	Reset()
	Clone() Slippage
}

// BarSource supplies the bar window for a run. Implementations are shared
// between clones and must be safe for concurrent reads.
type BarSource interface {
	Bars(ctx context.Context, inst models.Instrument, q models.Query) ([]models.Bar, error)
}

// Recorder receives counters about the system's decisions.
type Recorder interface {
	TradeRecorded(r models.TradeRecord)
	DelayResubmitted(inst string, business models.BusinessType)
	DelayDropped(inst string, business models.BusinessType)
	OrderRejected(inst string, business models.BusinessType, reason string)
}

// Observer is notified of every trade the system appends to its history.
// A single observer may be shared by many clones running in parallel.
type Observer interface {
	OnTrade(system string, r models.TradeRecord)
}

// Components is the full set of collaborators a System can be built with.
type Components struct {
	Ledger      Ledger
	Sizer       Sizer
	Environment Environment
	Condition   Condition
	Signal      Signal
	Stoploss    Stoploss
	TakeProfit  Stoploss
	ProfitGoal  ProfitGoal
	Slippage    Slippage
	Source      BarSource
}

// clone deep-copies every component. The bar source is shared.
func (c Components) clone() Components {
	out := Components{Source: c.Source}
	if c.Ledger != nil {
		out.Ledger = c.Ledger.Clone()
	}
	if c.Sizer != nil {
		out.Sizer = c.Sizer.Clone()
	}
	if c.Environment != nil {
		out.Environment = c.Environment.Clone()
	}
	if c.Condition != nil {
		out.Condition = c.Condition.Clone()
	}
	if c.Signal != nil {
		out.Signal = c.Signal.Clone()
	}
	if c.Stoploss != nil {
		out.Stoploss = c.Stoploss.Clone()
	}
	if c.TakeProfit != nil {
		out.TakeProfit = c.TakeProfit.Clone()
	}
	if c.ProfitGoal != nil {
		out.ProfitGoal = c.ProfitGoal.Clone()
	}
	if c.Slippage != nil {
		out.Slippage = c.Slippage.Clone()
	}
	return out
}
