package system

import (
	"math"
	"time"
	"trade-system-go/internal/models"

	"go.uber.org/zap"
)

// shortRisk is the per-unit risk of a short. A zero stop means no stop and no
// measurable risk.
func shortRisk(plan, stop float64) float64 {
	if stop <= 0 {
		return 0
	}
	return stop - plan
}

// shortStopCrossed reports a plan price at or above a short stop.
func shortStopCrossed(plan, stop float64) bool {
	return stop > 0 && plan >= stop
}

func (s *System) sellShort(bar models.Bar, cause models.Cause) models.TradeRecord {
	if !s.opts.SupportBorrowStock {
		return noTrade()
	}
	if s.opts.Delay {
		s.submitRequest(models.BusinessSellShort, bar, cause, 0)
		return noTrade()
	}
	return s.sellShortNow(bar, cause)
}

func (s *System) sellShortNow(bar models.Bar, cause models.Cause) models.TradeRecord {
	t, plan := bar.Datetime, bar.Close
	stop := s.shortStoplossPrice(t, plan)
	if shortStopCrossed(plan, stop) {
		s.reject(models.BusinessSellShort, "plan price not below stoploss",
			zap.Float64("plan", plan), zap.Float64("stoploss", stop))
		return noTrade()
	}
	number := s.sizer.SellShortNumber(t, s.instrument, plan, shortRisk(plan, stop), cause)
	return s.openShort(t, plan, stop, s.shortGoalPrice(t, plan), number, cause)
}

func (s *System) sellShortDelay(bar models.Bar, req *models.DelayRequest) models.TradeRecord {
	if !s.opts.SupportBorrowStock {
		return noTrade()
	}
	t, plan := bar.Datetime, bar.Open
	stop, goal, number := req.Stoploss, req.GoalPrice, req.Number
	if s.opts.DelayUseCurrentPrice {
		stop = s.shortStoplossPrice(t, plan)
		goal = s.shortGoalPrice(t, plan)
		number = 0
		if !shortStopCrossed(plan, stop) {
			number = s.sizer.SellShortNumber(t, s.instrument, plan, shortRisk(plan, stop), req.Cause)
		}
	}
	if shortStopCrossed(plan, stop) {
		s.reject(models.BusinessSellShort, "plan price not below stoploss",
			zap.Float64("plan", plan), zap.Float64("stoploss", stop))
		return noTrade()
	}
	return s.openShort(t, plan, stop, goal, number, req.Cause)
}

func (s *System) openShort(t time.Time, plan, stop, goal, number float64, cause models.Cause) models.TradeRecord {
	number, ok := s.openQuantity(number)
	if !ok {
		s.reject(models.BusinessSellShort, "quantity not tradable", zap.Float64("number", number))
		return noTrade()
	}

	realPrice := s.sellPrice(t, plan)
	tr, ok := s.transact(models.BusinessSellShort, s.order(t, realPrice, number, stop, goal, plan, cause))
	if !ok {
		return noTrade()
	}

	s.shortDays = 0
	s.lastShortTakeProfit = s.shortTakeProfitPrice(t, realPrice)
	s.record(tr)
	return tr
}

func (s *System) buyShort(bar models.Bar, cause models.Cause) models.TradeRecord {
	if !s.opts.SupportBorrowStock {
		return noTrade()
	}
	if s.opts.Delay {
		s.submitRequest(models.BusinessBuyShort, bar, cause, 0)
		return noTrade()
	}
	return s.buyShortNow(bar, cause)
}

func (s *System) coverNumber(t time.Time, plan, stop float64, cause models.Cause, held float64) float64 {
	return closeNumber(0, held, shortStopCrossed(plan, stop), func() float64 {
		return s.sizer.BuyShortNumber(t, s.instrument, plan, shortRisk(plan, stop), cause)
	})
}

func (s *System) buyShortNow(bar models.Bar, cause models.Cause) models.TradeRecord {
	pos := s.ledger.ShortPosition(s.instrument)
	if pos.Number == 0 {
		return noTrade()
	}
	t, plan := bar.Datetime, bar.Close
	stop := s.shortStoplossPrice(t, plan)
	number := s.coverNumber(t, plan, stop, cause, pos.Number)
	return s.closeShort(t, plan, stop, s.shortGoalPrice(t, plan), number, cause)
}

func (s *System) buyShortDelay(bar models.Bar, req *models.DelayRequest) models.TradeRecord {
	pos := s.ledger.ShortPosition(s.instrument)
	if pos.Number == 0 {
		return noTrade()
	}
	t, plan := bar.Datetime, bar.Open
	stop, goal := req.Stoploss, req.GoalPrice
	number := math.Min(req.Number, pos.Number)
	if s.opts.DelayUseCurrentPrice {
		stop = s.shortStoplossPrice(t, plan)
		goal = s.shortGoalPrice(t, plan)
		number = s.coverNumber(t, plan, stop, req.Cause, pos.Number)
	}
	return s.closeShort(t, plan, stop, goal, number, req.Cause)
}

func (s *System) closeShort(t time.Time, plan, stop, goal, number float64, cause models.Cause) models.TradeRecord {
	if number <= 0 {
		s.reject(models.BusinessBuyShort, "zero quantity")
		return noTrade()
	}

	realPrice := s.buyPrice(t, plan)
	tr, ok := s.transact(models.BusinessBuyShort, s.order(t, realPrice, number, stop, goal, plan, cause))
	if !ok {
		return noTrade()
	}

	if s.ledger.HasShortPosition(s.instrument) {
		s.lastShortTakeProfit = s.shortTakeProfitPrice(t, plan)
	} else {
		s.lastShortTakeProfit = 0
	}
	s.record(tr)
	return tr
}
