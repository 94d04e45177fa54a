package ledger

import (
	"errors"
	"testing"
	"time"
	"trade-system-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var btc = models.Instrument{Code: "BTCUSDT", MinTradeNumber: 1, MaxTradeNumber: 1000}

func newTestLedger(t *testing.T, cfg models.LedgerConfig) *BacktestLedger {
	t.Helper()
	l, err := NewBacktestLedger(cfg, zap.NewNop())
	require.NoError(t, err)
	return l
}

func order(price, number float64) models.Order {
	return models.Order{
		Datetime:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Instrument: btc,
		RealPrice:  price,
		PlanPrice:  price,
		Number:     number,
		Stoploss:   price - 1,
		Cause:      models.CauseSignal,
	}
}

func TestCostModel(t *testing.T) {
	c := CostModel{CommissionRate: 0.001, MinCommission: 5, StampTaxRate: 0.001}

	small := c.BuyCost(10, 100)
	assert.Equal(t, 5.0, small.Commission, "minimum commission applies")
	assert.Equal(t, 0.0, small.StampTax)

	big := c.SellCost(100, 100)
	assert.InDelta(t, 10.0, big.Commission, 1e-9)
	assert.InDelta(t, 10.0, big.StampTax, 1e-9)
	assert.InDelta(t, 20.0, big.Total, 1e-9)

	assert.Equal(t, 0.0, c.BuyCost(10, 0).Total)
}

// TestBuySell verifies cash and position bookkeeping through a round trip.
func TestBuySell(t *testing.T) {
	l := newTestLedger(t, models.LedgerConfig{InitCash: 10000, CommissionRate: 0.001})

	tr, err := l.Buy(order(10, 100))
	require.NoError(t, err)
	assert.Equal(t, models.BusinessBuy, tr.Business)
	assert.NotEmpty(t, tr.ID)
	assert.InDelta(t, 10000-1000-1, l.Cash, 1e-9)
	assert.InDelta(t, l.Cash, tr.Cash, 1e-9)

	pos := l.Position(btc)
	assert.Equal(t, 100.0, pos.Number)
	assert.Equal(t, 9.0, pos.Stoploss)
	assert.Equal(t, 1000.0, pos.BuyMoney)

	tr, err = l.Sell(order(12, 40))
	require.NoError(t, err)
	assert.Equal(t, models.BusinessSell, tr.Business)
	assert.Equal(t, 60.0, l.Position(btc).Number)
	assert.InDelta(t, 600.0, l.Position(btc).BuyMoney, 1e-9)

	_, err = l.Sell(order(12, 60))
	require.NoError(t, err)
	assert.False(t, l.HasPosition(btc))
	assert.Len(t, l.Trades(), 3)
	assert.InDelta(t, 10000-1000+1200-1.0-0.48-0.72, l.Cash, 1e-9)
}

// TestLedgerRejections verifies the sentinel errors.
func TestLedgerRejections(t *testing.T) {
	l := newTestLedger(t, models.LedgerConfig{InitCash: 100})

	_, err := l.Buy(order(10, 100))
	assert.True(t, errors.Is(err, ErrInsufficientCash))

	_, err = l.Sell(order(10, 1))
	assert.True(t, errors.Is(err, ErrInsufficientPosition))

	_, err = l.SellShort(order(10, 1))
	assert.True(t, errors.Is(err, ErrBorrowNotAllowed))

	_, err = l.Buy(order(10, 0))
	assert.Error(t, err)
	assert.Empty(t, l.Trades())
	assert.Equal(t, 100.0, l.Cash)
}

// TestBorrowCash verifies a buy may overdraw cash when borrowing is allowed.
func TestBorrowCash(t *testing.T) {
	l := newTestLedger(t, models.LedgerConfig{InitCash: 100})
	l.SetBorrowPolicy(true, false)

	_, err := l.Buy(order(10, 20))
	require.NoError(t, err)
	assert.Equal(t, -100.0, l.Cash)
}

// TestShortRoundTrip verifies selling short and covering.
func TestShortRoundTrip(t *testing.T) {
	l := newTestLedger(t, models.LedgerConfig{InitCash: 1000})
	l.SetBorrowPolicy(false, true)

	tr, err := l.SellShort(order(10, 50))
	require.NoError(t, err)
	assert.Equal(t, models.BusinessSellShort, tr.Business)
	assert.True(t, l.HasShortPosition(btc))
	assert.False(t, l.HasPosition(btc))
	assert.Equal(t, 1500.0, l.Cash)
	assert.Equal(t, 900.0, l.Equity(map[string]float64{"BTCUSDT": 12}))

	_, err = l.BuyShort(order(8, 50))
	require.NoError(t, err)
	assert.False(t, l.HasShortPosition(btc))
	assert.Equal(t, 1100.0, l.Cash)

	_, err = l.BuyShort(order(8, 1))
	assert.True(t, errors.Is(err, ErrInsufficientPosition))
}

// TestInitTime verifies orders before the init date are refused.
func TestInitTime(t *testing.T) {
	l := newTestLedger(t, models.LedgerConfig{InitCash: 1000, InitDate: "2024-01-05"})
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), l.InitTime())

	_, err := l.Buy(order(10, 1))
	assert.Error(t, err)

	_, err = NewBacktestLedger(models.LedgerConfig{InitDate: "05/01/2024"}, nil)
	assert.Error(t, err)
}

// TestResetAndClone verifies clones are independent and Reset restores the start.
func TestResetAndClone(t *testing.T) {
	l := newTestLedger(t, models.LedgerConfig{InitCash: 1000})
	l.SetBorrowPolicy(false, true)
	_, err := l.Buy(order(10, 10))
	require.NoError(t, err)

	c, ok := l.Clone().(*BacktestLedger)
	require.True(t, ok)
	_, err = c.Sell(order(10, 10))
	require.NoError(t, err)
	assert.True(t, l.HasPosition(btc), "source keeps its position")
	assert.Len(t, l.Trades(), 1)
	assert.Len(t, c.Trades(), 2)

	_, err = c.SellShort(order(10, 1))
	assert.NoError(t, err, "borrow policy is copied")

	l.Reset()
	assert.Equal(t, 1000.0, l.Cash)
	assert.False(t, l.HasPosition(btc))
	assert.Empty(t, l.Trades())
}

// TestBookRestore verifies a book taken from one ledger reproduces its cash,
// positions and trade log in another.
func TestBookRestore(t *testing.T) {
	l := newTestLedger(t, models.LedgerConfig{InitCash: 10000, CommissionRate: 0.001})
	l.SetBorrowPolicy(false, true)
	_, err := l.Buy(order(10, 100))
	require.NoError(t, err)
	_, err = l.SellShort(order(10, 5))
	require.NoError(t, err)

	book := l.Book()
	require.Len(t, book.Long, 1)
	require.Len(t, book.Short, 1)
	assert.Len(t, book.Trades, 2)

	other := newTestLedger(t, models.LedgerConfig{InitCash: 10000, CommissionRate: 0.001})
	require.NoError(t, other.RestoreBook(book))
	assert.Equal(t, l.Cash, other.Cash)
	assert.Equal(t, l.TotalCosts, other.TotalCosts)
	assert.Equal(t, l.Position(btc), other.Position(btc))
	assert.Equal(t, l.ShortPosition(btc), other.ShortPosition(btc))
	assert.Equal(t, l.Trades(), other.Trades())
	assert.Equal(t, 10000.0, other.InitialCash)

	// the restored book is not shared with the snapshot
	book.Long[0].Number = 1
	assert.Equal(t, 100.0, other.Position(btc).Number)

	err = other.RestoreBook(models.LedgerState{Long: []models.PositionRecord{{Instrument: "BTCUSDT"}}})
	assert.Error(t, err)
	assert.Equal(t, 100.0, other.Position(btc).Number, "a bad book leaves the ledger untouched")
}
