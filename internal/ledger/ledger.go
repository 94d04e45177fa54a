package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientCash 现金不足且不允许融资
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientPosition 持仓不足
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrBorrowNotAllowed 未开启融券时尝试卖空
	ErrBorrowNotAllowed = errors.New("borrowing stock not allowed")
)

const dateLayout = "2006-01-02"

var (
	_ system.Ledger     = (*BacktestLedger)(nil)
	_ system.BookKeeper = (*BacktestLedger)(nil)
)

// BacktestLedger 是回测用的模拟账户：维护现金、多空持仓与成交流水。
// 所有方法并发安全，但同一账户通常只被一个交易系统使用。
type BacktestLedger struct {
	mu sync.Mutex

	InitialCash float64
	Cash        float64
	TotalCosts  float64 // 累积交易成本

	initTime    time.Time
	cost        CostModel
	long        map[string]*models.PositionRecord
	short       map[string]*models.PositionRecord
	tradeLog    []models.TradeRecord
	borrowCash  bool
	borrowStock bool

	logger *zap.Logger
}

// NewBacktestLedger 根据账户配置创建模拟账户。init_date 为空表示不限制起始时间。
func NewBacktestLedger(cfg models.LedgerConfig, logger *zap.Logger) (*BacktestLedger, error) {
	if cfg.InitCash < 0 {
		return nil, fmt.Errorf("初始资金不能为负: %f", cfg.InitCash)
	}
	var initTime time.Time
	if cfg.InitDate != "" {
		t, err := time.ParseInLocation(dateLayout, cfg.InitDate, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("解析 init_date 失败: %w", err)
		}
		initTime = t
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BacktestLedger{
		InitialCash: cfg.InitCash,
		Cash:        cfg.InitCash,
		initTime:    initTime,
		cost:        NewCostModel(cfg),
		long:        make(map[string]*models.PositionRecord),
		short:       make(map[string]*models.PositionRecord),
		tradeLog:    make([]models.TradeRecord, 0),
		logger:      logger,
	}, nil
}

func (l *BacktestLedger) HasPosition(inst models.Instrument) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.long[inst.Code]
	return ok
}

// Position 返回多头持仓的副本，无持仓时返回零值
func (l *BacktestLedger) Position(inst models.Instrument) models.PositionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.long[inst.Code]; ok {
		return *p
	}
	return models.PositionRecord{}
}

func (l *BacktestLedger) HasShortPosition(inst models.Instrument) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.short[inst.Code]
	return ok
}

// ShortPosition 返回空头持仓的副本，无持仓时返回零值
func (l *BacktestLedger) ShortPosition(inst models.Instrument) models.PositionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.short[inst.Code]; ok {
		return *p
	}
	return models.PositionRecord{}
}

func (l *BacktestLedger) InitTime() time.Time { return l.initTime }

// SetBorrowPolicy 设置是否允许融资（现金为负）与融券（卖空）
func (l *BacktestLedger) SetBorrowPolicy(cash, stock bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.borrowCash = cash
	l.borrowStock = stock
}

// checkOrder 校验订单的通用字段。必须在持有锁的情况下调用。
func (l *BacktestLedger) checkOrder(o models.Order) error {
	if o.Instrument.IsNull() {
		return errors.New("订单缺少交易标的")
	}
	if o.Number <= 0 {
		return fmt.Errorf("订单数量必须为正: %f", o.Number)
	}
	if o.RealPrice <= 0 {
		return fmt.Errorf("成交价必须为正: %f", o.RealPrice)
	}
	if o.Datetime.Before(l.initTime) {
		return fmt.Errorf("订单时间 %s 早于账户建立时间 %s",
			o.Datetime.Format(time.RFC3339), l.initTime.Format(dateLayout))
	}
	return nil
}

// Buy 买入开多或加仓
func (l *BacktestLedger) Buy(o models.Order) (models.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOrder(o); err != nil {
		return models.TradeRecord{}, fmt.Errorf("buy %s: %w", o.Instrument.Code, err)
	}
	amount := o.RealPrice * o.Number
	cost := l.cost.BuyCost(o.RealPrice, o.Number)
	if need := amount + cost.Total; need > l.Cash && !l.borrowCash {
		return models.TradeRecord{}, fmt.Errorf("buy %s: need %.4f, have %.4f: %w",
			o.Instrument.Code, need, l.Cash, ErrInsufficientCash)
	}

	l.Cash -= amount + cost.Total
	l.TotalCosts += cost.Total
	l.open(l.long, o, amount, cost)
	return l.book(o, models.BusinessBuy, cost), nil
}

// Sell 卖出平多，数量不能超过持仓
func (l *BacktestLedger) Sell(o models.Order) (models.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOrder(o); err != nil {
		return models.TradeRecord{}, fmt.Errorf("sell %s: %w", o.Instrument.Code, err)
	}
	pos, ok := l.long[o.Instrument.Code]
	if !ok || pos.Number+1e-9 < o.Number {
		return models.TradeRecord{}, fmt.Errorf("sell %s: %w", o.Instrument.Code, ErrInsufficientPosition)
	}

	amount := o.RealPrice * o.Number
	cost := l.cost.SellCost(o.RealPrice, o.Number)
	l.Cash += amount - cost.Total
	l.TotalCosts += cost.Total
	l.reduce(l.long, pos, o.Number, cost)
	return l.book(o, models.BusinessSell, cost), nil
}

// SellShort 卖空开仓，需要开启融券
func (l *BacktestLedger) SellShort(o models.Order) (models.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.borrowStock {
		return models.TradeRecord{}, fmt.Errorf("sell short %s: %w", o.Instrument.Code, ErrBorrowNotAllowed)
	}
	if err := l.checkOrder(o); err != nil {
		return models.TradeRecord{}, fmt.Errorf("sell short %s: %w", o.Instrument.Code, err)
	}

	amount := o.RealPrice * o.Number
	cost := l.cost.SellCost(o.RealPrice, o.Number)
	l.Cash += amount - cost.Total
	l.TotalCosts += cost.Total
	l.open(l.short, o, amount, cost)
	return l.book(o, models.BusinessSellShort, cost), nil
}

// BuyShort 买入平空
func (l *BacktestLedger) BuyShort(o models.Order) (models.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOrder(o); err != nil {
		return models.TradeRecord{}, fmt.Errorf("buy short %s: %w", o.Instrument.Code, err)
	}
	pos, ok := l.short[o.Instrument.Code]
	if !ok || pos.Number+1e-9 < o.Number {
		return models.TradeRecord{}, fmt.Errorf("buy short %s: %w", o.Instrument.Code, ErrInsufficientPosition)
	}
	amount := o.RealPrice * o.Number
	cost := l.cost.BuyCost(o.RealPrice, o.Number)
	if need := amount + cost.Total; need > l.Cash && !l.borrowCash {
		return models.TradeRecord{}, fmt.Errorf("buy short %s: need %.4f, have %.4f: %w",
			o.Instrument.Code, need, l.Cash, ErrInsufficientCash)
	}

	l.Cash -= amount + cost.Total
	l.TotalCosts += cost.Total
	l.reduce(l.short, pos, o.Number, cost)
	return l.book(o, models.BusinessBuyShort, cost), nil
}

// open 建仓或加仓。必须在持有锁的情况下调用。
func (l *BacktestLedger) open(book map[string]*models.PositionRecord, o models.Order, amount float64, cost models.CostRecord) {
	pos, ok := book[o.Instrument.Code]
	if !ok {
		pos = &models.PositionRecord{
			Instrument:   o.Instrument.Code,
			TakeDatetime: o.Datetime,
		}
		book[o.Instrument.Code] = pos
	}
	pos.Number += o.Number
	pos.Stoploss = o.Stoploss
	pos.GoalPrice = o.GoalPrice
	pos.BuyMoney += amount
	pos.TotalCost += cost.Total
}

// reduce 减仓，持仓归零时删除。开仓金额按比例扣减。必须在持有锁的情况下调用。
func (l *BacktestLedger) reduce(book map[string]*models.PositionRecord, pos *models.PositionRecord, number float64, cost models.CostRecord) {
	remain := pos.Number - number
	if remain <= 1e-9 {
		delete(book, pos.Instrument)
		return
	}
	pos.BuyMoney *= remain / pos.Number
	pos.TotalCost += cost.Total
	pos.Number = remain
}

// book 生成成交记录并写入流水。必须在持有锁的情况下调用。
func (l *BacktestLedger) book(o models.Order, business models.BusinessType, cost models.CostRecord) models.TradeRecord {
	tr := models.TradeRecord{
		ID:         uuid.NewString(),
		Instrument: o.Instrument.Code,
		Datetime:   o.Datetime,
		Business:   business,
		PlanPrice:  o.PlanPrice,
		RealPrice:  o.RealPrice,
		GoalPrice:  o.GoalPrice,
		Number:     o.Number,
		Stoploss:   o.Stoploss,
		Cost:       cost,
		Cash:       l.Cash,
		Cause:      o.Cause,
	}
	l.tradeLog = append(l.tradeLog, tr)

	l.logger.Debug("ledger booked",
		zap.String("instrument", tr.Instrument),
		zap.String("business", string(business)),
		zap.Float64("price", tr.RealPrice),
		zap.Float64("number", tr.Number),
		zap.Float64("cost", cost.Total),
		zap.Float64("cash", l.Cash))
	return tr
}

// Trades 返回成交流水的副本
func (l *BacktestLedger) Trades() []models.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.TradeRecord, len(l.tradeLog))
	copy(out, l.tradeLog)
	return out
}

// Positions 返回全部多头持仓，按标的排序
func (l *BacktestLedger) Positions() []models.PositionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedPositions(l.long)
}

// ShortPositions 返回全部空头持仓，按标的排序
func (l *BacktestLedger) ShortPositions() []models.PositionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedPositions(l.short)
}

func sortedPositions(book map[string]*models.PositionRecord) []models.PositionRecord {
	out := make([]models.PositionRecord, 0, len(book))
	for _, p := range book {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Equity 计算账户权益 = 现金 + 多头市值 - 空头市值。
// prices 缺少某个持仓标的时按开仓均价估值。
func (l *BacktestLedger) Equity(prices map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	value := func(p *models.PositionRecord) float64 {
		if price, ok := prices[p.Instrument]; ok {
			return price * p.Number
		}
		return p.BuyMoney
	}
	equity := l.Cash
	for _, p := range l.long {
		equity += value(p)
	}
	for _, p := range l.short {
		equity -= value(p)
	}
	return equity
}

// Book 返回账户快照，用于持久化
func (l *BacktestLedger) Book() models.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	tradeLog := make([]models.TradeRecord, len(l.tradeLog))
	copy(tradeLog, l.tradeLog)
	return models.LedgerState{
		Cash:       l.Cash,
		TotalCosts: l.TotalCosts,
		Long:       sortedPositions(l.long),
		Short:      sortedPositions(l.short),
		Trades:     tradeLog,
	}
}

// RestoreBook 用快照覆盖现金、持仓与流水。初始资金与成本设置保持不变。
func (l *BacktestLedger) RestoreBook(st models.LedgerState) error {
	load := func(positions []models.PositionRecord) (map[string]*models.PositionRecord, error) {
		book := make(map[string]*models.PositionRecord, len(positions))
		for _, p := range positions {
			if p.Instrument == "" || p.Number <= 0 {
				return nil, fmt.Errorf("无效的持仓快照: %+v", p)
			}
			cp := p
			book[p.Instrument] = &cp
		}
		return book, nil
	}
	long, err := load(st.Long)
	if err != nil {
		return err
	}
	short, err := load(st.Short)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.Cash = st.Cash
	l.TotalCosts = st.TotalCosts
	l.long = long
	l.short = short
	l.tradeLog = append(make([]models.TradeRecord, 0, len(st.Trades)), st.Trades...)
	return nil
}

// Reset 恢复到初始资金，清空持仓与流水。融资融券设置保持不变。
func (l *BacktestLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Cash = l.InitialCash
	l.TotalCosts = 0
	l.long = make(map[string]*models.PositionRecord)
	l.short = make(map[string]*models.PositionRecord)
	l.tradeLog = make([]models.TradeRecord, 0)
}

// Clone 深拷贝账户，拷贝之间互不影响
func (l *BacktestLedger) Clone() system.Ledger {
	return l.clone()
}

func (l *BacktestLedger) clone() *BacktestLedger {
	l.mu.Lock()
	defer l.mu.Unlock()

	copyBook := func(book map[string]*models.PositionRecord) map[string]*models.PositionRecord {
		out := make(map[string]*models.PositionRecord, len(book))
		for k, p := range book {
			cp := *p
			out[k] = &cp
		}
		return out
	}
	tradeLog := make([]models.TradeRecord, len(l.tradeLog))
	copy(tradeLog, l.tradeLog)

	return &BacktestLedger{
		InitialCash: l.InitialCash,
		Cash:        l.Cash,
		TotalCosts:  l.TotalCosts,
		initTime:    l.initTime,
		cost:        l.cost,
		long:        copyBook(l.long),
		short:       copyBook(l.short),
		tradeLog:    tradeLog,
		borrowCash:  l.borrowCash,
		borrowStock: l.borrowStock,
		logger:      l.logger,
	}
}
