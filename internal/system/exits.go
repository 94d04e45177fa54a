package system

import (
	"time"
	"trade-system-go/internal/models"
)

func (s *System) stoplossPrice(t time.Time, price float64) float64 {
	if s.stop == nil {
		return 0
	}
	return s.stop.Price(t, price)
}

func (s *System) shortStoplossPrice(t time.Time, price float64) float64 {
	if s.stop == nil {
		return 0
	}
	return s.stop.ShortPrice(t, price)
}

func (s *System) takeProfitPrice(t time.Time, price float64) float64 {
	if s.tp == nil {
		return 0
	}
	return s.tp.Price(t, price)
}

func (s *System) shortTakeProfitPrice(t time.Time, price float64) float64 {
	if s.tp == nil {
		return 0
	}
	return s.tp.ShortPrice(t, price)
}

func (s *System) goalPrice(t time.Time, price float64) float64 {
	if s.goal == nil {
		return 0
	}
	return s.goal.GoalPrice(t, price)
}

func (s *System) shortGoalPrice(t time.Time, price float64) float64 {
	if s.goal == nil {
		return 0
	}
	return s.goal.ShortGoalPrice(t, price)
}

// evaluateExits checks an open position against its stop, its profit goal
// and the ratcheted take-profit threshold, in that order, at the bar's close.
func (s *System) evaluateExits(bar models.Bar) models.TradeRecord {
	price := bar.Close

	if pos := s.ledger.Position(s.instrument); pos.Number != 0 {
		if price <= pos.Stoploss {
			return s.sell(bar, models.CauseStoploss)
		}
		if goal := s.goalPrice(bar.Datetime, price); goal > 0 && price >= goal {
			return s.sell(bar, models.CauseProfitGoal)
		}
		if tp := s.ratchetLong(s.takeProfitPrice(bar.Datetime, price)); tp != 0 && price <= tp {
			return s.sell(bar, models.CauseTakeProfit)
		}
		return noTrade()
	}

	if pos := s.ledger.ShortPosition(s.instrument); pos.Number != 0 {
		if pos.Stoploss > 0 && price >= pos.Stoploss {
			return s.buyShort(bar, models.CauseStoploss)
		}
		if goal := s.shortGoalPrice(bar.Datetime, price); goal > 0 && price <= goal {
			return s.buyShort(bar, models.CauseProfitGoal)
		}
		if tp := s.ratchetShort(s.shortTakeProfitPrice(bar.Datetime, price)); tp != 0 && price >= tp {
			return s.buyShort(bar, models.CauseTakeProfit)
		}
	}
	return noTrade()
}

// ratchetLong stores and returns the effective long take-profit threshold.
// With tp_monotonic the threshold never moves down while the position is open.
func (s *System) ratchetLong(candidate float64) float64 {
	if candidate == 0 {
		return 0
	}
	if s.opts.TPMonotonic && candidate < s.lastTakeProfit {
		candidate = s.lastTakeProfit
	}
	s.lastTakeProfit = candidate
	return candidate
}

// ratchetShort is the mirror of ratchetLong: a short threshold only moves down.
func (s *System) ratchetShort(candidate float64) float64 {
	if candidate == 0 {
		return 0
	}
	if s.opts.TPMonotonic && s.lastShortTakeProfit > 0 && candidate > s.lastShortTakeProfit {
		candidate = s.lastShortTakeProfit
	}
	s.lastShortTakeProfit = candidate
	return candidate
}
