package strategy

import (
	"time"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"

	"github.com/markcheno/go-talib"
)

// ATRStop 止损价 = 价格 -/+ Multiplier * ATR(Period)。ATR 未就绪的K线没有止损。
type ATRStop struct {
	Period     int
	Multiplier float64

	atr map[time.Time]float64
}

func NewATRStop(period int, multiplier float64) *ATRStop {
	return &ATRStop{Period: period, Multiplier: multiplier, atr: make(map[time.Time]float64)}
}

func (s *ATRStop) Price(t time.Time, price float64) float64 {
	atr, ok := s.atr[t]
	if !ok {
		return 0
	}
	if stop := price - s.Multiplier*atr; stop > 0 {
		return stop
	}
	return 0
}

func (s *ATRStop) ShortPrice(t time.Time, price float64) float64 {
	atr, ok := s.atr[t]
	if !ok {
		return 0
	}
	return price + s.Multiplier*atr
}

func (s *ATRStop) SetBars(_ models.Instrument, bars []models.Bar) {
	s.atr = make(map[time.Time]float64)
	if s.Period <= 0 || len(bars) <= s.Period {
		return
	}
	high, low, closes := ohlc(bars)
	atr := talib.Atr(high, low, closes, s.Period)
	for i := s.Period; i < len(bars); i++ {
		s.atr[bars[i].Datetime] = atr[i]
	}
}

func (s *ATRStop) Attach(system.Ledger) {}

func (s *ATRStop) Reset() { s.atr = make(map[time.Time]float64) }

func (s *ATRStop) Clone() system.Stoploss {
	return &ATRStop{Period: s.Period, Multiplier: s.Multiplier, atr: copyFloats(s.atr)}
}

// PercentStop 固定百分比止损
type PercentStop struct {
	Percent float64
}

func (s *PercentStop) Price(_ time.Time, price float64) float64 {
	if s.Percent <= 0 || s.Percent >= 1 {
		return 0
	}
	return price * (1 - s.Percent)
}

func (s *PercentStop) ShortPrice(_ time.Time, price float64) float64 {
	if s.Percent <= 0 {
		return 0
	}
	return price * (1 + s.Percent)
}

func (s *PercentStop) SetBars(models.Instrument, []models.Bar) {}
func (s *PercentStop) Attach(system.Ledger)                    {}
func (s *PercentStop) Reset()                                  {}
func (s *PercentStop) Clone() system.Stoploss                  { return &PercentStop{Percent: s.Percent} }

// TrailingTakeProfit 移动止赢：多头取最近 Period 根K线最高收盘价回撤 Percent，
// 空头取最低收盘价反弹 Percent。
type TrailingTakeProfit struct {
	Period  int
	Percent float64

	highest map[time.Time]float64
	lowest  map[time.Time]float64
}

func NewTrailingTakeProfit(period int, percent float64) *TrailingTakeProfit {
	return &TrailingTakeProfit{
		Period:  period,
		Percent: percent,
		highest: make(map[time.Time]float64),
		lowest:  make(map[time.Time]float64),
	}
}

func (s *TrailingTakeProfit) Price(t time.Time, _ float64) float64 {
	if h, ok := s.highest[t]; ok {
		return h * (1 - s.Percent)
	}
	return 0
}

func (s *TrailingTakeProfit) ShortPrice(t time.Time, _ float64) float64 {
	if l, ok := s.lowest[t]; ok {
		return l * (1 + s.Percent)
	}
	return 0
}

func (s *TrailingTakeProfit) SetBars(_ models.Instrument, bars []models.Bar) {
	s.Reset()
	if s.Period <= 0 || len(bars) < s.Period {
		return
	}
	_, _, closes := ohlc(bars)
	highest := talib.Max(closes, s.Period)
	lowest := talib.Min(closes, s.Period)
	for i := s.Period - 1; i < len(bars); i++ {
		s.highest[bars[i].Datetime] = highest[i]
		s.lowest[bars[i].Datetime] = lowest[i]
	}
}

func (s *TrailingTakeProfit) Attach(system.Ledger) {}

func (s *TrailingTakeProfit) Reset() {
	s.highest = make(map[time.Time]float64)
	s.lowest = make(map[time.Time]float64)
}

func (s *TrailingTakeProfit) Clone() system.Stoploss {
	return &TrailingTakeProfit{
		Period:  s.Period,
		Percent: s.Percent,
		highest: copyFloats(s.highest),
		lowest:  copyFloats(s.lowest),
	}
}
