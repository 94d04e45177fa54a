package strategy

import (
	"time"
	"trade-system-go/internal/models"

	"github.com/markcheno/go-talib"
)

// ohlc 把K线拆成 talib 需要的价格序列
func ohlc(bars []models.Bar) (high, low, closes []float64) {
	high = make([]float64, len(bars))
	low = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	for i, b := range bars {
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
	}
	return high, low, closes
}

// smaByTime 计算收盘价的简单移动平均，按K线时间索引。数据不足一个周期时返回空表。
func smaByTime(bars []models.Bar, period int) map[time.Time]float64 {
	out := make(map[time.Time]float64)
	if period <= 0 || len(bars) < period {
		return out
	}
	_, _, closes := ohlc(bars)
	sma := talib.Sma(closes, period)
	for i := period - 1; i < len(bars); i++ {
		out[bars[i].Datetime] = sma[i]
	}
	return out
}

func copyFloats(m map[time.Time]float64) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFlags(m map[time.Time]bool) map[time.Time]bool {
	out := make(map[time.Time]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
