package ledger

import (
	"math"
	"trade-system-go/internal/models"
)

// CostModel 按成交金额计算交易成本：佣金按费率收取且不低于最低佣金，
// 印花税只在卖出（含卖空开仓）时收取。
type CostModel struct {
	CommissionRate float64
	MinCommission  float64
	StampTaxRate   float64
}

// NewCostModel 从账户配置创建成本模型
func NewCostModel(cfg models.LedgerConfig) CostModel {
	return CostModel{
		CommissionRate: cfg.CommissionRate,
		MinCommission:  cfg.MinCommission,
		StampTaxRate:   cfg.StampTaxRate,
	}
}

func (c CostModel) commission(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	return math.Max(amount*c.CommissionRate, c.MinCommission)
}

// BuyCost 计算买入成本
func (c CostModel) BuyCost(price, number float64) models.CostRecord {
	commission := c.commission(price * number)
	return models.CostRecord{
		Commission: commission,
		Total:      commission,
	}
}

// SellCost 计算卖出成本
func (c CostModel) SellCost(price, number float64) models.CostRecord {
	amount := price * number
	commission := c.commission(amount)
	tax := 0.0
	if amount > 0 {
		tax = amount * c.StampTaxRate
	}
	return models.CostRecord{
		Commission: commission,
		StampTax:   tax,
		Total:      commission + tax,
	}
}
