package reporter

import (
	"fmt"
	"io"
	"math"
	"time"
	"trade-system-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Result 是一个系统副本的运行结果，作为报告的输入
type Result struct {
	System         string
	Instrument     string
	InitialBalance float64
	Bars           []models.Bar
	Trades         []models.TradeRecord
}

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	System           string
	Instrument       string
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	ClosedTrades     int // 平仓交易笔数
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
	TotalCosts       float64
	EndingCash       float64
	EndingLongQty    float64 // 期末多头持仓数量
	EndingShortQty   float64 // 期末空头持仓数量
	StartTime        time.Time
	EndTime          time.Time
}

// EquityCurve 按每根K线收盘价重放成交，得到逐K线的权益。
// 成交记录中的 Cash 为成交后的现金余额。
func EquityCurve(initialBalance float64, bars []models.Bar, trades []models.TradeRecord) []float64 {
	curve := make([]float64, 0, len(bars))
	cash := initialBalance
	var long, short float64
	next := 0

	for _, bar := range bars {
		for next < len(trades) && !trades[next].Datetime.After(bar.Datetime) {
			t := trades[next]
			cash = t.Cash
			switch t.Business {
			case models.BusinessBuy:
				long += t.Number
			case models.BusinessSell:
				long -= t.Number
			case models.BusinessSellShort:
				short += t.Number
			case models.BusinessBuyShort:
				short -= t.Number
			}
			next++
		}
		curve = append(curve, cash+(long-short)*bar.Close)
	}
	return curve
}

// realizedPnL 以加权平均成本计算每笔平仓交易的盈亏（含双边成本）
func realizedPnL(trades []models.TradeRecord) []float64 {
	var pnls []float64
	var longQty, longCost, shortQty, shortCost float64

	for _, t := range trades {
		switch t.Business {
		case models.BusinessBuy:
			longQty += t.Number
			longCost += t.RealPrice*t.Number + t.Cost.Total
		case models.BusinessSell:
			if longQty <= 0 {
				continue
			}
			basis := longCost / longQty * t.Number
			pnls = append(pnls, t.RealPrice*t.Number-t.Cost.Total-basis)
			longCost -= basis
			longQty -= t.Number
		case models.BusinessSellShort:
			shortQty += t.Number
			shortCost += t.RealPrice*t.Number - t.Cost.Total
		case models.BusinessBuyShort:
			if shortQty <= 0 {
				continue
			}
			basis := shortCost / shortQty * t.Number
			pnls = append(pnls, basis-t.RealPrice*t.Number-t.Cost.Total)
			shortCost -= basis
			shortQty -= t.Number
		}
	}
	return pnls
}

// CalculateMetrics 根据一次运行的K线和成交计算指标
func CalculateMetrics(r Result) *Metrics {
	m := &Metrics{
		System:         r.System,
		Instrument:     r.Instrument,
		InitialBalance: r.InitialBalance,
		TotalTrades:    len(r.Trades),
		EndingCash:     r.InitialBalance,
	}
	if len(r.Bars) > 0 {
		m.StartTime = r.Bars[0].Datetime
		m.EndTime = r.Bars[len(r.Bars)-1].Datetime
	}

	for _, t := range r.Trades {
		m.TotalCosts += t.Cost.Total
		m.EndingCash = t.Cash
		switch t.Business {
		case models.BusinessBuy:
			m.EndingLongQty += t.Number
		case models.BusinessSell:
			m.EndingLongQty -= t.Number
		case models.BusinessSellShort:
			m.EndingShortQty += t.Number
		case models.BusinessBuyShort:
			m.EndingShortQty -= t.Number
		}
	}

	var totalProfit, totalLoss float64
	pnls := realizedPnL(r.Trades)
	m.ClosedTrades = len(pnls)
	for _, p := range pnls {
		if p > 0 {
			m.WinningTrades++
			totalProfit += p
		} else {
			m.LosingTrades++
			totalLoss += p
		}
	}
	if m.ClosedTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.ClosedTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 && totalLoss != 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}

	curve := EquityCurve(r.InitialBalance, r.Bars, r.Trades)
	if len(curve) > 0 {
		m.FinalBalance = curve[len(curve)-1]
	} else {
		m.FinalBalance = m.EndingCash
	}
	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}
	m.MaxDrawdown = calculateMaxDrawdown(curve) * 100

	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// GenerateReport 计算每个结果的指标并以表格形式写入 w
func GenerateReport(w io.Writer, runID string, results []Result) []*Metrics {
	all := make([]*Metrics, 0, len(results))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("回测结果报告 " + runID)
	t.AppendHeader(table.Row{"系统", "交易对", "回测周期", "初始资金", "最终资金", "收益率", "交易次数", "胜率", "盈亏比", "最大回撤", "总成本", "期末持仓"})

	var initial, final float64
	var trades int
	for _, r := range results {
		m := CalculateMetrics(r)
		all = append(all, m)
		initial += m.InitialBalance
		final += m.FinalBalance
		trades += m.TotalTrades

		t.AppendRow(table.Row{
			m.System,
			m.Instrument,
			fmt.Sprintf("%s ~ %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04")),
			fmt.Sprintf("%.2f", m.InitialBalance),
			fmt.Sprintf("%.2f", m.FinalBalance),
			fmt.Sprintf("%.2f%%", m.ProfitPercentage),
			m.TotalTrades,
			fmt.Sprintf("%.2f%%", m.WinRate),
			fmt.Sprintf("%.2f", m.AvgProfitLoss),
			fmt.Sprintf("%.2f%%", m.MaxDrawdown),
			fmt.Sprintf("%.2f", m.TotalCosts),
			fmt.Sprintf("%.4f / -%.4f", m.EndingLongQty, m.EndingShortQty),
		})
	}

	pct := 0.0
	if initial != 0 {
		pct = (final - initial) / initial * 100
	}
	t.AppendFooter(table.Row{"合计", "", "", fmt.Sprintf("%.2f", initial), fmt.Sprintf("%.2f", final), fmt.Sprintf("%.2f%%", pct), trades})
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.Render()

	return all
}

// RenderTrades 将成交明细以表格形式写入 w
func RenderTrades(w io.Writer, trades []models.TradeRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"时间", "交易对", "业务", "计划价", "成交价", "数量", "止损", "目标", "成本", "现金", "原因"})
	for _, r := range trades {
		t.AppendRow(table.Row{
			r.Datetime.Format("2006-01-02 15:04"),
			r.Instrument,
			string(r.Business),
			fmt.Sprintf("%.4f", r.PlanPrice),
			fmt.Sprintf("%.4f", r.RealPrice),
			fmt.Sprintf("%.4f", r.Number),
			fmt.Sprintf("%.4f", r.Stoploss),
			fmt.Sprintf("%.4f", r.GoalPrice),
			fmt.Sprintf("%.2f", r.Cost.Total),
			fmt.Sprintf("%.2f", r.Cash),
			string(r.Cause),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
