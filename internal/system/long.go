package system

import (
	"fmt"
	"math"
	"time"
	"trade-system-go/internal/models"

	"go.uber.org/zap"
)

// roundLot rounds a quantity down to the instrument's minimum lot.
func (s *System) roundLot(number float64) float64 {
	if lot := s.instrument.MinTradeNumber; lot > 1 {
		return math.Floor(number/lot) * lot
	}
	return number
}

// openQuantity checks the sized quantity against the max trade number, then
// rounds it to the lot. A zero max trade number means unlimited.
func (s *System) openQuantity(number float64) (float64, bool) {
	if number <= 0 {
		return 0, false
	}
	if limit := s.instrument.MaxTradeNumber; limit > 0 && number > limit {
		return number, false
	}
	number = s.roundLot(number)
	return number, number > 0
}

func (s *System) buyPrice(t time.Time, plan float64) float64 {
	if s.slip == nil {
		return plan
	}
	return s.slip.BuyPrice(t, plan)
}

func (s *System) sellPrice(t time.Time, plan float64) float64 {
	if s.slip == nil {
		return plan
	}
	return s.slip.SellPrice(t, plan)
}

func (s *System) order(t time.Time, realPrice, number, stop, goal, plan float64, cause models.Cause) models.Order {
	return models.Order{
		Datetime:   t,
		Instrument: s.instrument,
		RealPrice:  realPrice,
		Number:     number,
		Stoploss:   stop,
		GoalPrice:  goal,
		PlanPrice:  plan,
		Cause:      cause,
	}
}

// transact sends the order to the ledger. A ledger error or a record of
// another business type is a decline.
func (s *System) transact(business models.BusinessType, o models.Order) (models.TradeRecord, bool) {
	var (
		tr  models.TradeRecord
		err error
	)
	switch business {
	case models.BusinessBuy:
		tr, err = s.ledger.Buy(o)
	case models.BusinessSell:
		tr, err = s.ledger.Sell(o)
	case models.BusinessSellShort:
		tr, err = s.ledger.SellShort(o)
	case models.BusinessBuyShort:
		tr, err = s.ledger.BuyShort(o)
	default:
		err = fmt.Errorf("unknown business %q", business)
	}
	if err != nil {
		s.reject(business, "ledger declined", zap.Error(err))
		return noTrade(), false
	}
	if tr.Business != business {
		s.reject(business, "ledger returned "+string(tr.Business))
		return noTrade(), false
	}
	return tr, true
}

func (s *System) buy(bar models.Bar, cause models.Cause) models.TradeRecord {
	if s.opts.Delay {
		s.submitRequest(models.BusinessBuy, bar, cause, 0)
		return noTrade()
	}
	return s.buyNow(bar, cause)
}

func (s *System) buyNow(bar models.Bar, cause models.Cause) models.TradeRecord {
	t, plan := bar.Datetime, bar.Close
	stop := s.stoplossPrice(t, plan)
	if plan <= stop {
		s.reject(models.BusinessBuy, "plan price not above stoploss",
			zap.Float64("plan", plan), zap.Float64("stoploss", stop))
		return noTrade()
	}
	number := s.sizer.BuyNumber(t, s.instrument, plan, plan-stop, cause)
	return s.openLong(t, plan, stop, s.goalPrice(t, plan), number, cause)
}

func (s *System) buyDelay(bar models.Bar, req *models.DelayRequest) models.TradeRecord {
	t, plan := bar.Datetime, bar.Open
	stop, goal, number := req.Stoploss, req.GoalPrice, req.Number
	if s.opts.DelayUseCurrentPrice {
		stop = s.stoplossPrice(t, plan)
		goal = s.goalPrice(t, plan)
		number = 0
		if plan > stop {
			number = s.sizer.BuyNumber(t, s.instrument, plan, plan-stop, req.Cause)
		}
	}
	if plan <= stop {
		s.reject(models.BusinessBuy, "plan price not above stoploss",
			zap.Float64("plan", plan), zap.Float64("stoploss", stop))
		return noTrade()
	}
	return s.openLong(t, plan, stop, goal, number, req.Cause)
}

func (s *System) openLong(t time.Time, plan, stop, goal, number float64, cause models.Cause) models.TradeRecord {
	number, ok := s.openQuantity(number)
	if !ok {
		s.reject(models.BusinessBuy, "quantity not tradable", zap.Float64("number", number))
		return noTrade()
	}

	realPrice := s.buyPrice(t, plan)
	tr, ok := s.transact(models.BusinessBuy, s.order(t, realPrice, number, stop, goal, plan, cause))
	if !ok {
		return noTrade()
	}

	s.buyDays = 0
	s.lastTakeProfit = s.takeProfitPrice(t, realPrice)
	s.record(tr)
	return tr
}

func (s *System) sell(bar models.Bar, cause models.Cause) models.TradeRecord {
	if s.opts.Delay {
		s.submitRequest(models.BusinessSell, bar, cause, 0)
		return noTrade()
	}
	return s.sellNow(bar, cause, 0)
}

// closeNumber is the quantity to close out of held. A fixed quantity wins;
// once price has crossed the stop the whole holding goes.
func closeNumber(fixed, held float64, crossed bool, sized func() float64) float64 {
	var number float64
	switch {
	case fixed > 0:
		number = fixed
	case crossed:
		number = held
	default:
		number = sized()
	}
	return math.Min(number, held)
}

func (s *System) sellNumber(t time.Time, plan, stop float64, cause models.Cause, fixed, held float64) float64 {
	return closeNumber(fixed, held, plan <= stop, func() float64 {
		return s.sizer.SellNumber(t, s.instrument, plan, plan-stop, cause)
	})
}

func (s *System) sellNow(bar models.Bar, cause models.Cause, fixed float64) models.TradeRecord {
	pos := s.ledger.Position(s.instrument)
	if pos.Number == 0 {
		return noTrade()
	}
	t, plan := bar.Datetime, bar.Close
	stop := s.stoplossPrice(t, plan)
	number := s.sellNumber(t, plan, stop, cause, fixed, pos.Number)
	return s.closeLong(t, plan, stop, s.goalPrice(t, plan), number, cause)
}

func (s *System) sellDelay(bar models.Bar, req *models.DelayRequest) models.TradeRecord {
	pos := s.ledger.Position(s.instrument)
	if pos.Number == 0 {
		return noTrade()
	}
	t, plan := bar.Datetime, bar.Open
	stop, goal := req.Stoploss, req.GoalPrice
	number := math.Min(req.Number, pos.Number)
	if s.opts.DelayUseCurrentPrice {
		stop = s.stoplossPrice(t, plan)
		goal = s.goalPrice(t, plan)
		var fixed float64
		if req.Cause == models.CauseAllocator {
			fixed = req.Number
		}
		number = s.sellNumber(t, plan, stop, req.Cause, fixed, pos.Number)
	}
	return s.closeLong(t, plan, stop, goal, number, req.Cause)
}

func (s *System) closeLong(t time.Time, plan, stop, goal, number float64, cause models.Cause) models.TradeRecord {
	if number <= 0 {
		s.reject(models.BusinessSell, "zero quantity")
		return noTrade()
	}

	realPrice := s.sellPrice(t, plan)
	tr, ok := s.transact(models.BusinessSell, s.order(t, realPrice, number, stop, goal, plan, cause))
	if !ok {
		return noTrade()
	}

	if s.ledger.HasPosition(s.instrument) {
		s.lastTakeProfit = s.takeProfitPrice(t, plan)
	} else {
		s.lastTakeProfit = 0
	}
	s.record(tr)
	return tr
}

// ForceSell closes part of the long position on behalf of an external
// allocator. The quantity is capped at the holding. With delayed execution
// the close is submitted for the next bar and a NONE record is returned.
func (s *System) ForceSell(bar models.Bar, number float64) (models.TradeRecord, error) {
	if number <= 0 {
		return noTrade(), fmt.Errorf("force sell %s: quantity must be positive, got %f", s.instrument.Code, number)
	}
	if s.ledger == nil || s.sizer == nil {
		return noTrade(), &ConfigurationError{System: s.name, Missing: "ledger or sizer"}
	}
	if !s.ledger.HasPosition(s.instrument) {
		return noTrade(), nil
	}
	if s.opts.Delay {
		s.submitRequest(models.BusinessSell, bar, models.CauseAllocator, number)
		return noTrade(), nil
	}
	return s.sellNow(bar, models.CauseAllocator, number), nil
}
