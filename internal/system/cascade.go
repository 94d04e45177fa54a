package system

import (
	"trade-system-go/internal/models"

	"go.uber.org/zap"
)

func noTrade() models.TradeRecord {
	return models.TradeRecord{Business: models.BusinessNone}
}

// pick returns tr when it is a trade, otherwise the fallback candidate.
func pick(tr, candidate models.TradeRecord) models.TradeRecord {
	if tr.IsNull() {
		return candidate
	}
	return tr
}

// badBar reports a bar that cannot be traded: a flat bar, or a close outside
// the bar's range.
func badBar(bar models.Bar) bool {
	return bar.High == bar.Low || bar.Close > bar.High || bar.Close < bar.Low
}

// runMoment is the per-bar decision cascade. The first branch that produces
// a trade ends the cascade.
func (s *System) runMoment(bar models.Bar) models.TradeRecord {
	if s.ledger == nil || s.sizer == nil || s.signal == nil {
		return noTrade()
	}

	if badBar(bar) && !s.opts.CanTradeWhenHighEqLow {
		if s.pending != nil {
			s.resubmitPending(bar)
		}
		return noTrade()
	}

	candidate := s.processRequest(bar)

	if s.env != nil {
		valid := s.env.IsValid(bar.Datetime)
		if !valid {
			tr := s.closeAny(bar, models.CauseEnvironment)
			s.preEnvValid = false
			return pick(tr, candidate)
		}
		if !s.preEnvValid && s.opts.EnvOpenPosition {
			tr := s.buy(bar, models.CauseEnvironment)
			s.preEnvValid = true
			return pick(tr, candidate)
		}
		s.preEnvValid = true
	}

	if s.cond != nil {
		valid := s.cond.IsValid(bar.Datetime)
		if !valid {
			tr := s.closeAny(bar, models.CauseCondition)
			s.preCondValid = false
			return pick(tr, candidate)
		}
		if !s.preCondValid && s.opts.CondOpenPosition {
			tr := s.buy(bar, models.CauseCondition)
			s.preCondValid = true
			return pick(tr, candidate)
		}
		s.preCondValid = true
	}

	if s.signal.ShouldBuy(bar.Datetime) {
		var tr models.TradeRecord
		if s.ledger.HasShortPosition(s.instrument) {
			tr = s.buyShort(bar, models.CauseSignal)
		} else {
			tr = s.buy(bar, models.CauseSignal)
		}
		return pick(tr, candidate)
	}

	if !s.opts.IgnoreSellSignal && s.signal.ShouldSell(bar.Datetime) {
		tr := noTrade()
		if s.ledger.HasPosition(s.instrument) {
			tr = s.sell(bar, models.CauseSignal)
		} else if s.opts.SupportBorrowStock {
			tr = s.sellShort(bar, models.CauseSignal)
		}
		return pick(tr, candidate)
	}

	return pick(s.evaluateExits(bar), candidate)
}

// closeAny closes the long position, or covers the short one when no long
// position is held.
func (s *System) closeAny(bar models.Bar, cause models.Cause) models.TradeRecord {
	if s.ledger.HasPosition(s.instrument) {
		return s.sell(bar, cause)
	}
	if s.ledger.HasShortPosition(s.instrument) {
		return s.buyShort(bar, cause)
	}
	return noTrade()
}

// record appends a completed trade to the history and notifies the
// components and listeners that track fills.
func (s *System) record(tr models.TradeRecord) {
	s.trades = append(s.trades, tr)

	switch tr.Business {
	case models.BusinessBuy, models.BusinessBuyShort:
		s.sizer.BuyNotify(tr)
		if s.goal != nil {
			s.goal.BuyNotify(tr)
		}
	case models.BusinessSell, models.BusinessSellShort:
		s.sizer.SellNotify(tr)
		if s.goal != nil {
			s.goal.SellNotify(tr)
		}
	}

	if s.recorder != nil {
		s.recorder.TradeRecorded(tr)
	}
	if s.observer != nil {
		s.observer.OnTrade(s.name, tr)
	}
	s.logger.Info("trade",
		zap.String("instrument", tr.Instrument),
		zap.Time("datetime", tr.Datetime),
		zap.String("business", string(tr.Business)),
		zap.Float64("price", tr.RealPrice),
		zap.Float64("number", tr.Number),
		zap.Float64("stoploss", tr.Stoploss),
		zap.String("cause", string(tr.Cause)))
}

func (s *System) reject(business models.BusinessType, reason string, fields ...zap.Field) {
	if s.recorder != nil {
		s.recorder.OrderRejected(s.instrument.Code, business, reason)
	}
	s.logger.Debug("order rejected",
		append([]zap.Field{zap.String("business", string(business)), zap.String("reason", reason)}, fields...)...)
}
