package system

import (
	"trade-system-go/internal/models"

	"go.uber.org/zap"
)

// submitRequest defers an order to the next bar's open. Only one request is
// pending at a time: a trigger in the same direction refreshes the pending
// request and bumps its counter, a trigger in another direction replaces it.
// A positive fixed quantity pins the quantity of a closing request.
func (s *System) submitRequest(business models.BusinessType, bar models.Bar, cause models.Cause, fixed float64) {
	if req := s.pending; req != nil {
		if req.Business == business {
			if req.Count > s.opts.MaxDelayCount {
				s.dropPending("retry limit reached")
				return
			}
			req.Count++
			req.Datetime = bar.Datetime
			req.Cause = cause
			s.fillRequest(req, bar, fixed)
			return
		}
		s.logger.Warn("pending request replaced",
			zap.String("pending", string(req.Business)),
			zap.String("new", string(business)))
	}

	req := &models.DelayRequest{
		Business: business,
		Datetime: bar.Datetime,
		Cause:    cause,
		Count:    1,
	}
	s.fillRequest(req, bar, fixed)
	s.pending = req
}

// fillRequest computes the stop, goal and quantity of a request from the
// bar's close.
func (s *System) fillRequest(req *models.DelayRequest, bar models.Bar, fixed float64) {
	t, price := bar.Datetime, bar.Close
	switch req.Business {
	case models.BusinessBuy:
		req.Stoploss = s.stoplossPrice(t, price)
		req.GoalPrice = s.goalPrice(t, price)
		req.Number = 0
		if price > req.Stoploss {
			req.Number = s.sizer.BuyNumber(t, s.instrument, price, price-req.Stoploss, req.Cause)
		}
	case models.BusinessSell:
		req.Stoploss = s.stoplossPrice(t, price)
		req.GoalPrice = s.goalPrice(t, price)
		held := s.ledger.Position(s.instrument).Number
		req.Number = s.sellNumber(t, price, req.Stoploss, req.Cause, fixed, held)
	case models.BusinessSellShort:
		req.Stoploss = s.shortStoplossPrice(t, price)
		req.GoalPrice = s.shortGoalPrice(t, price)
		req.Number = 0
		if !shortStopCrossed(price, req.Stoploss) {
			req.Number = s.sizer.SellShortNumber(t, s.instrument, price, shortRisk(price, req.Stoploss), req.Cause)
		}
	case models.BusinessBuyShort:
		req.Stoploss = s.shortStoplossPrice(t, price)
		req.GoalPrice = s.shortGoalPrice(t, price)
		held := s.ledger.ShortPosition(s.instrument).Number
		req.Number = s.coverNumber(t, price, req.Stoploss, req.Cause, held)
	}
}

// resubmitPending carries the pending request over a bar that cannot be
// traded. The request keeps its cause and frozen prices; once it has been
// submitted max_delay_count+1 times the next attempt drops it.
func (s *System) resubmitPending(bar models.Bar) {
	req := s.pending
	if req.Count > s.opts.MaxDelayCount {
		s.dropPending("retry limit reached")
		return
	}
	req.Count++
	if s.recorder != nil {
		s.recorder.DelayResubmitted(s.instrument.Code, req.Business)
	}
	s.logger.Debug("pending request resubmitted",
		zap.String("business", string(req.Business)),
		zap.Int("count", req.Count),
		zap.Time("bar", bar.Datetime))
}

func (s *System) dropPending(reason string) {
	req := s.pending
	s.pending = nil
	if req == nil {
		return
	}
	if s.recorder != nil {
		s.recorder.DelayDropped(s.instrument.Code, req.Business)
	}
	s.logger.Info("pending request dropped",
		zap.String("business", string(req.Business)),
		zap.Int("count", req.Count),
		zap.String("reason", reason))
}

// processRequest resolves the pending request at the bar's open. The request
// is consumed whatever the outcome.
func (s *System) processRequest(bar models.Bar) models.TradeRecord {
	req := s.pending
	if req == nil {
		return noTrade()
	}
	s.pending = nil

	switch req.Business {
	case models.BusinessBuy:
		return s.buyDelay(bar, req)
	case models.BusinessSell:
		return s.sellDelay(bar, req)
	case models.BusinessSellShort:
		return s.sellShortDelay(bar, req)
	case models.BusinessBuyShort:
		return s.buyShortDelay(bar, req)
	}
	return noTrade()
}
