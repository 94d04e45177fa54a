package strategy

import (
	"context"
	"time"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"

	"go.uber.org/zap"
)

// aboveMA 标记收盘价高于 Period 均线的K线
func aboveMA(bars []models.Bar, period int) map[time.Time]bool {
	sma := smaByTime(bars, period)
	out := make(map[time.Time]bool, len(sma))
	for _, b := range bars {
		if ma, ok := sma[b.Datetime]; ok && b.Close > ma {
			out[b.Datetime] = true
		}
	}
	return out
}

// MAEnvironment 市场环境：参考指数收盘价站上均线时有效。
// 指数K线在 SetQuery 时从 Source 读取。
type MAEnvironment struct {
	Index  models.Instrument
	Period int
	Source system.BarSource

	valid  map[time.Time]bool
	logger *zap.Logger
}

func NewMAEnvironment(index models.Instrument, period int, src system.BarSource, logger *zap.Logger) *MAEnvironment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MAEnvironment{
		Index:  index,
		Period: period,
		Source: src,
		valid:  make(map[time.Time]bool),
		logger: logger,
	}
}

func (e *MAEnvironment) IsValid(t time.Time) bool { return e.valid[t] }

// SetQuery 加载指数K线。读取失败时环境在整个区间内无效。
func (e *MAEnvironment) SetQuery(q models.Query) {
	e.valid = make(map[time.Time]bool)
	if e.Source == nil {
		return
	}
	bars, err := e.Source.Bars(context.Background(), e.Index, q)
	if err != nil {
		e.logger.Error("加载市场环境K线失败", zap.String("index", e.Index.Code), zap.Error(err))
		return
	}
	e.valid = aboveMA(bars, e.Period)
}

func (e *MAEnvironment) Reset() { e.valid = make(map[time.Time]bool) }

func (e *MAEnvironment) Clone() system.Environment {
	return &MAEnvironment{
		Index:  e.Index,
		Period: e.Period,
		Source: e.Source,
		valid:  copyFlags(e.valid),
		logger: e.logger,
	}
}

// MACondition 系统条件：本标的收盘价站上均线时有效
type MACondition struct {
	Period int

	valid map[time.Time]bool
}

func NewMACondition(period int) *MACondition {
	return &MACondition{Period: period, valid: make(map[time.Time]bool)}
}

func (c *MACondition) IsValid(t time.Time) bool { return c.valid[t] }

func (c *MACondition) SetBars(_ models.Instrument, bars []models.Bar) {
	c.valid = aboveMA(bars, c.Period)
}

func (c *MACondition) Attach(system.Ledger, system.Signal) {}

func (c *MACondition) Reset() { c.valid = make(map[time.Time]bool) }

func (c *MACondition) Clone() system.Condition {
	return &MACondition{Period: c.Period, valid: copyFlags(c.valid)}
}
