package strategy

import (
	"time"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"

	"github.com/markcheno/go-talib"
)

// MACrossSignal 均线交叉信号：快线上穿慢线买入，下穿卖出。
type MACrossSignal struct {
	Fast int
	Slow int

	buys  map[time.Time]bool
	sells map[time.Time]bool
}

func NewMACrossSignal(fast, slow int) *MACrossSignal {
	return &MACrossSignal{
		Fast:  fast,
		Slow:  slow,
		buys:  make(map[time.Time]bool),
		sells: make(map[time.Time]bool),
	}
}

func (s *MACrossSignal) ShouldBuy(t time.Time) bool  { return s.buys[t] }
func (s *MACrossSignal) ShouldSell(t time.Time) bool { return s.sells[t] }

// SetBars 重新计算整个窗口上的交叉点
func (s *MACrossSignal) SetBars(_ models.Instrument, bars []models.Bar) {
	s.Reset()
	if s.Fast <= 0 || s.Slow <= s.Fast || len(bars) <= s.Slow {
		return
	}
	_, _, closes := ohlc(bars)
	fast := talib.Sma(closes, s.Fast)
	slow := talib.Sma(closes, s.Slow)
	for i := s.Slow; i < len(bars); i++ {
		prev := fast[i-1] - slow[i-1]
		cur := fast[i] - slow[i]
		switch {
		case prev <= 0 && cur > 0:
			s.buys[bars[i].Datetime] = true
		case prev >= 0 && cur < 0:
			s.sells[bars[i].Datetime] = true
		}
	}
}

func (s *MACrossSignal) Reset() {
	s.buys = make(map[time.Time]bool)
	s.sells = make(map[time.Time]bool)
}

func (s *MACrossSignal) Clone() system.Signal {
	return &MACrossSignal{
		Fast:  s.Fast,
		Slow:  s.Slow,
		buys:  copyFlags(s.buys),
		sells: copyFlags(s.sells),
	}
}
