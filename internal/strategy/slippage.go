package strategy

import (
	"time"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"
)

// PercentSlippage 按比例滑点：买入价上浮，卖出价下浮
type PercentSlippage struct {
	Percent float64
}

func (s *PercentSlippage) BuyPrice(_ time.Time, plan float64) float64 {
	return plan * (1 + s.Percent)
}

func (s *PercentSlippage) SellPrice(_ time.Time, plan float64) float64 {
	return plan * (1 - s.Percent)
}

func (s *PercentSlippage) SetBars(models.Instrument, []models.Bar) {}
func (s *PercentSlippage) Reset()                                  {}
func (s *PercentSlippage) Clone() system.Slippage                  { return &PercentSlippage{Percent: s.Percent} }
