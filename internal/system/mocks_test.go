package system

import (
	"context"
	"errors"
	"sync"
	"time"
	"trade-system-go/internal/models"
)

var errDeclined = errors.New("declined")

// mockLedger is an in-memory ledger that books every order at its real price.
type mockLedger struct {
	sync.Mutex
	initTime    time.Time
	long        map[string]models.PositionRecord
	short       map[string]models.PositionRecord
	orders      []models.Order
	decline     bool
	wrongType   bool
	borrowCash  bool
	borrowStock bool
	resets      int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		long:  make(map[string]models.PositionRecord),
		short: make(map[string]models.PositionRecord),
	}
}

func (m *mockLedger) HasPosition(inst models.Instrument) bool {
	m.Lock()
	defer m.Unlock()
	return m.long[inst.Code].Number > 0
}

func (m *mockLedger) Position(inst models.Instrument) models.PositionRecord {
	m.Lock()
	defer m.Unlock()
	return m.long[inst.Code]
}

func (m *mockLedger) HasShortPosition(inst models.Instrument) bool {
	m.Lock()
	defer m.Unlock()
	return m.short[inst.Code].Number > 0
}

func (m *mockLedger) ShortPosition(inst models.Instrument) models.PositionRecord {
	m.Lock()
	defer m.Unlock()
	return m.short[inst.Code]
}

func (m *mockLedger) book(book map[string]models.PositionRecord, o models.Order, business models.BusinessType, open bool) (models.TradeRecord, error) {
	m.Lock()
	defer m.Unlock()
	m.orders = append(m.orders, o)
	if m.decline {
		return models.TradeRecord{}, errDeclined
	}
	if m.wrongType {
		return models.TradeRecord{Business: models.BusinessNone}, nil
	}

	pos := book[o.Instrument.Code]
	if open {
		pos.Instrument = o.Instrument.Code
		if pos.Number == 0 {
			pos.TakeDatetime = o.Datetime
		}
		pos.Number += o.Number
		pos.Stoploss = o.Stoploss
		pos.GoalPrice = o.GoalPrice
	} else {
		pos.Number -= o.Number
	}
	if pos.Number <= 0 {
		delete(book, o.Instrument.Code)
	} else {
		book[o.Instrument.Code] = pos
	}

	return models.TradeRecord{
		Instrument: o.Instrument.Code,
		Datetime:   o.Datetime,
		Business:   business,
		PlanPrice:  o.PlanPrice,
		RealPrice:  o.RealPrice,
		GoalPrice:  o.GoalPrice,
		Number:     o.Number,
		Stoploss:   o.Stoploss,
		Cause:      o.Cause,
	}, nil
}

func (m *mockLedger) Buy(o models.Order) (models.TradeRecord, error) {
	return m.book(m.long, o, models.BusinessBuy, true)
}

func (m *mockLedger) Sell(o models.Order) (models.TradeRecord, error) {
	return m.book(m.long, o, models.BusinessSell, false)
}

func (m *mockLedger) SellShort(o models.Order) (models.TradeRecord, error) {
	return m.book(m.short, o, models.BusinessSellShort, true)
}

func (m *mockLedger) BuyShort(o models.Order) (models.TradeRecord, error) {
	return m.book(m.short, o, models.BusinessBuyShort, false)
}

func (m *mockLedger) InitTime() time.Time { return m.initTime }

func (m *mockLedger) SetBorrowPolicy(cash, stock bool) {
	m.Lock()
	defer m.Unlock()
	m.borrowCash, m.borrowStock = cash, stock
}

func (m *mockLedger) Reset() {
	m.Lock()
	defer m.Unlock()
	m.long = make(map[string]models.PositionRecord)
	m.short = make(map[string]models.PositionRecord)
	m.orders = nil
	m.resets++
}

func (m *mockLedger) Clone() Ledger {
	m.Lock()
	defer m.Unlock()
	out := newMockLedger()
	out.initTime = m.initTime
	out.decline = m.decline
	out.wrongType = m.wrongType
	for k, v := range m.long {
		out.long[k] = v
	}
	for k, v := range m.short {
		out.short[k] = v
	}
	out.orders = append([]models.Order(nil), m.orders...)
	return out
}

func (m *mockLedger) getOrders() []models.Order {
	m.Lock()
	defer m.Unlock()
	return append([]models.Order(nil), m.orders...)
}

// mockSignal fires on the datetimes it was told to.
type mockSignal struct {
	buys  map[time.Time]bool
	sells map[time.Time]bool
	bars  int
}

func newMockSignal() *mockSignal {
	return &mockSignal{buys: make(map[time.Time]bool), sells: make(map[time.Time]bool)}
}

func (m *mockSignal) ShouldBuy(t time.Time) bool  { return m.buys[t] }
func (m *mockSignal) ShouldSell(t time.Time) bool { return m.sells[t] }
func (m *mockSignal) SetBars(_ models.Instrument, bars []models.Bar) {
	m.bars = len(bars)
}
func (m *mockSignal) Reset() {}
func (m *mockSignal) Clone() Signal {
	out := newMockSignal()
	for k, v := range m.buys {
		out.buys[k] = v
	}
	for k, v := range m.sells {
		out.sells[k] = v
	}
	return out
}

// mockFilter is valid except on the datetimes listed in invalid.
type mockFilter struct {
	invalid map[time.Time]bool
	resets  int
}

func newMockFilter() *mockFilter {
	return &mockFilter{invalid: make(map[time.Time]bool)}
}

func (m *mockFilter) IsValid(t time.Time) bool                { return !m.invalid[t] }
func (m *mockFilter) SetQuery(models.Query)                   {}
func (m *mockFilter) SetBars(models.Instrument, []models.Bar) {}
func (m *mockFilter) Attach(Ledger, Signal)                   {}
func (m *mockFilter) Reset()                                  { m.resets++ }
func (m *mockFilter) clone() *mockFilter {
	out := newMockFilter()
	for k, v := range m.invalid {
		out.invalid[k] = v
	}
	return out
}

type mockEnvironment struct{ *mockFilter }

func (m mockEnvironment) Clone() Environment { return mockEnvironment{m.mockFilter.clone()} }

type mockCondition struct{ *mockFilter }

func (m mockCondition) Clone() Condition { return mockCondition{m.mockFilter.clone()} }

// mockSizer buys a fixed quantity and sells the whole holding.
type mockSizer struct {
	number    float64
	ledger    Ledger
	buys      []models.TradeRecord
	sells     []models.TradeRecord
	lastCause models.Cause
	resets    int
}

func (m *mockSizer) BuyNumber(_ time.Time, _ models.Instrument, _, _ float64, cause models.Cause) float64 {
	m.lastCause = cause
	return m.number
}

func (m *mockSizer) SellNumber(_ time.Time, inst models.Instrument, _, _ float64, _ models.Cause) float64 {
	return m.ledger.Position(inst).Number
}

func (m *mockSizer) SellShortNumber(_ time.Time, _ models.Instrument, _, _ float64, _ models.Cause) float64 {
	return m.number
}

func (m *mockSizer) BuyShortNumber(_ time.Time, inst models.Instrument, _, _ float64, _ models.Cause) float64 {
	return m.ledger.ShortPosition(inst).Number
}

func (m *mockSizer) BuyNotify(r models.TradeRecord)  { m.buys = append(m.buys, r) }
func (m *mockSizer) SellNotify(r models.TradeRecord) { m.sells = append(m.sells, r) }
func (m *mockSizer) Attach(l Ledger)                 { m.ledger = l }
func (m *mockSizer) SetQuery(models.Query)           {}
func (m *mockSizer) Reset()                          { m.resets++ }
func (m *mockSizer) Clone() Sizer {
	return &mockSizer{number: m.number, ledger: m.ledger}
}

// mockStop prices the long stop at price-offset and the short stop at price+offset.
// When prices is set it returns prices[t] for the long side instead.
type mockStop struct {
	offset float64
	prices map[time.Time]float64
}

func (m *mockStop) Price(t time.Time, price float64) float64 {
	if m.prices != nil {
		return m.prices[t]
	}
	if m.offset == 0 {
		return 0
	}
	return price - m.offset
}

func (m *mockStop) ShortPrice(t time.Time, price float64) float64 {
	if m.prices != nil {
		return m.prices[t]
	}
	if m.offset == 0 {
		return 0
	}
	return price + m.offset
}

func (m *mockStop) SetBars(models.Instrument, []models.Bar) {}
func (m *mockStop) Attach(Ledger)                           {}
func (m *mockStop) Reset()                                  {}
func (m *mockStop) Clone() Stoploss {
	out := &mockStop{offset: m.offset}
	if m.prices != nil {
		out.prices = make(map[time.Time]float64, len(m.prices))
		for k, v := range m.prices {
			out.prices[k] = v
		}
	}
	return out
}

// mockGoal returns a fixed goal for both sides.
type mockGoal struct {
	long, short float64
	buys, sells int
}

func (m *mockGoal) GoalPrice(time.Time, float64) float64      { return m.long }
func (m *mockGoal) ShortGoalPrice(time.Time, float64) float64 { return m.short }
func (m *mockGoal) BuyNotify(models.TradeRecord)              { m.buys++ }
func (m *mockGoal) SellNotify(models.TradeRecord)             { m.sells++ }
func (m *mockGoal) SetBars(models.Instrument, []models.Bar)   {}
func (m *mockGoal) Attach(Ledger)                             {}
func (m *mockGoal) Reset()                                    {}
func (m *mockGoal) Clone() ProfitGoal                         { return &mockGoal{long: m.long, short: m.short} }

// mockSlippage moves buys up and sells down by a fixed amount.
type mockSlippage struct{ amount float64 }

func (m *mockSlippage) BuyPrice(_ time.Time, p float64) float64  { return p + m.amount }
func (m *mockSlippage) SellPrice(_ time.Time, p float64) float64 { return p - m.amount }
func (m *mockSlippage) SetBars(models.Instrument, []models.Bar)  {}
func (m *mockSlippage) Reset()                                   {}
func (m *mockSlippage) Clone() Slippage                          { return &mockSlippage{amount: m.amount} }

type staticSource struct{ bars []models.Bar }

func (s staticSource) Bars(_ context.Context, _ models.Instrument, q models.Query) ([]models.Bar, error) {
	var out []models.Bar
	for _, b := range s.bars {
		if q.Contains(b.Datetime) {
			out = append(out, b)
		}
	}
	return out, nil
}

type mockRecorder struct {
	sync.Mutex
	trades      int
	resubmitted int
	dropped     int
	rejected    []string
}

func (m *mockRecorder) TradeRecorded(models.TradeRecord) {
	m.Lock()
	defer m.Unlock()
	m.trades++
}

func (m *mockRecorder) DelayResubmitted(string, models.BusinessType) {
	m.Lock()
	defer m.Unlock()
	m.resubmitted++
}

func (m *mockRecorder) DelayDropped(string, models.BusinessType) {
	m.Lock()
	defer m.Unlock()
	m.dropped++
}

func (m *mockRecorder) OrderRejected(_ string, _ models.BusinessType, reason string) {
	m.Lock()
	defer m.Unlock()
	m.rejected = append(m.rejected, reason)
}

type mockObserver struct {
	sync.Mutex
	seen map[string][]models.TradeRecord
}

func (m *mockObserver) OnTrade(system string, r models.TradeRecord) {
	m.Lock()
	defer m.Unlock()
	if m.seen == nil {
		m.seen = make(map[string][]models.TradeRecord)
	}
	m.seen[system] = append(m.seen[system], r)
}

var testInstrument = models.Instrument{Code: "BTCUSDT", MinTradeNumber: 1, MaxTradeNumber: 1000}

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

func bar(n int, open, high, low, close float64) models.Bar {
	return models.Bar{Datetime: day(n), Open: open, High: high, Low: low, Close: close, Volume: 1000}
}

// flatBar is a degenerate bar with high == low.
func flatBar(n int, price float64) models.Bar {
	return bar(n, price, price, price, price)
}

type fixture struct {
	sys    *System
	ledger *mockLedger
	signal *mockSignal
	sizer  *mockSizer
	stop   *mockStop
}

// newFixture builds a ready system with a 1.0 stop offset and a sizer of qty.
func newFixture(qty float64) *fixture {
	f := &fixture{
		ledger: newMockLedger(),
		signal: newMockSignal(),
		sizer:  &mockSizer{number: qty},
		stop:   &mockStop{offset: 1},
	}
	f.sys = New("test", Components{
		Ledger:   f.ledger,
		Signal:   f.signal,
		Sizer:    f.sizer,
		Stoploss: f.stop,
	}, nil)
	return f
}

func (f *fixture) prepare() error {
	return f.sys.Prepare(testInstrument)
}
