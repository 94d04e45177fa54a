package strategy

import (
	"math"
	"time"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"
)

// holding 封装卖出侧的共同逻辑：平仓时卖出全部持仓。
type holding struct {
	ledger system.Ledger
}

func (h *holding) Attach(l system.Ledger) { h.ledger = l }

func (h *holding) SellNumber(_ time.Time, inst models.Instrument, _, _ float64, _ models.Cause) float64 {
	if h.ledger == nil {
		return 0
	}
	return h.ledger.Position(inst).Number
}

func (h *holding) BuyShortNumber(_ time.Time, inst models.Instrument, _, _ float64, _ models.Cause) float64 {
	if h.ledger == nil {
		return 0
	}
	return h.ledger.ShortPosition(inst).Number
}

func (h *holding) BuyNotify(models.TradeRecord)  {}
func (h *holding) SellNotify(models.TradeRecord) {}
func (h *holding) SetQuery(models.Query)         {}
func (h *holding) Reset()                        {}

// FixedCountSizer 每次开仓固定数量
type FixedCountSizer struct {
	holding
	Count float64
}

func (s *FixedCountSizer) BuyNumber(time.Time, models.Instrument, float64, float64, models.Cause) float64 {
	return s.Count
}

func (s *FixedCountSizer) SellShortNumber(time.Time, models.Instrument, float64, float64, models.Cause) float64 {
	return s.Count
}

func (s *FixedCountSizer) Clone() system.Sizer {
	return &FixedCountSizer{holding: s.holding, Count: s.Count}
}

// FixedRiskSizer 每笔交易承担固定风险金额：数量 = Risk / 单位风险。
// 没有可度量的风险（无止损）时不开仓。
type FixedRiskSizer struct {
	holding
	Risk float64
}

func (s *FixedRiskSizer) number(risk float64) float64 {
	if risk <= 0 || s.Risk <= 0 {
		return 0
	}
	return math.Floor(s.Risk / risk)
}

func (s *FixedRiskSizer) BuyNumber(_ time.Time, _ models.Instrument, _, risk float64, _ models.Cause) float64 {
	return s.number(risk)
}

func (s *FixedRiskSizer) SellShortNumber(_ time.Time, _ models.Instrument, _, risk float64, _ models.Cause) float64 {
	return s.number(risk)
}

func (s *FixedRiskSizer) Clone() system.Sizer {
	return &FixedRiskSizer{holding: s.holding, Risk: s.Risk}
}
