package strategy

import (
	"time"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"
)

// PercentGoal 固定百分比目标价。Percent 为 0 时没有目标。
type PercentGoal struct {
	Percent float64
}

func (g *PercentGoal) GoalPrice(_ time.Time, price float64) float64 {
	if g.Percent <= 0 {
		return 0
	}
	return price * (1 + g.Percent)
}

func (g *PercentGoal) ShortGoalPrice(_ time.Time, price float64) float64 {
	if g.Percent <= 0 || g.Percent >= 1 {
		return 0
	}
	return price * (1 - g.Percent)
}

func (g *PercentGoal) BuyNotify(models.TradeRecord)            {}
func (g *PercentGoal) SellNotify(models.TradeRecord)           {}
func (g *PercentGoal) SetBars(models.Instrument, []models.Bar) {}
func (g *PercentGoal) Attach(system.Ledger)                    {}
func (g *PercentGoal) Reset()                                  {}
func (g *PercentGoal) Clone() system.ProfitGoal                { return &PercentGoal{Percent: g.Percent} }
