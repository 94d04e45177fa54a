package models

import (
	"fmt"
	"time"
)

// Config 定义了一次运行所需的全部配置
type Config struct {
	Symbol         string  `mapstructure:"symbol" json:"symbol"`                     // 交易标的代码，如 "BTCUSDT"
	MinTradeNumber float64 `mapstructure:"min_trade_number" json:"min_trade_number"` // 最小交易手数（>1 时按手数向下取整）
	MaxTradeNumber float64 `mapstructure:"max_trade_number" json:"max_trade_number"` // 单笔最大交易数量
	DataPath       string  `mapstructure:"data_path" json:"data_path"`               // 回测K线CSV文件路径
	ProfilePath    string  `mapstructure:"profile_path" json:"profile_path"`         // 策略组件配置文件 (YAML)
	DBPath         string  `mapstructure:"db_path" json:"db_path"`                   // badger 快照目录
	JournalPath    string  `mapstructure:"journal_path" json:"journal_path"`         // sqlite 交易流水文件
	Interval       string  `mapstructure:"interval" json:"interval"`                 // K线周期, e.g. "1m", "1h"
	WSBaseURL      string  `mapstructure:"ws_base_url" json:"ws_base_url"`           // 实时K线推送地址
	MetricsAddr    string  `mapstructure:"metrics_addr" json:"metrics_addr"`         // prometheus 指标监听地址，空则不启动

	DownloadRateLimit float64 `mapstructure:"download_rate_limit" json:"download_rate_limit"` // 下载K线时每秒请求数

	Ledger LedgerConfig `mapstructure:"ledger" json:"ledger"` // 账户配置
	System SystemParams `mapstructure:"system" json:"system"` // 交易系统参数
	Log    LogConfig    `mapstructure:"log" json:"log"`       // 日志配置
}

// Instrument 返回配置中描述的交易标的
func (c *Config) Instrument() Instrument {
	return Instrument{
		Code:           c.Symbol,
		MinTradeNumber: c.MinTradeNumber,
		MaxTradeNumber: c.MaxTradeNumber,
	}
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `mapstructure:"output" json:"output"`           // 输出模式: "console", "file", "both"
	File       string `mapstructure:"file" json:"file"`               // 日志文件路径
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `mapstructure:"compress" json:"compress"`       // 是否压缩旧日志文件
}

// LedgerConfig 定义了回测账户的资金与费用配置
type LedgerConfig struct {
	InitCash       float64 `mapstructure:"init_cash" json:"init_cash"`             // 初始资金
	InitDate       string  `mapstructure:"init_date" json:"init_date"`             // 账户建立日期 (YYYY-MM-DD)，早于该日期的K线不参与决策
	CommissionRate float64 `mapstructure:"commission_rate" json:"commission_rate"` // 佣金费率
	MinCommission  float64 `mapstructure:"min_commission" json:"min_commission"`   // 最低佣金
	StampTaxRate   float64 `mapstructure:"stamp_tax_rate" json:"stamp_tax_rate"`   // 印花税率（仅卖出收取）
}

// SystemParams 是交易系统的固定参数集合
type SystemParams struct {
	Delay                 bool `mapstructure:"delay" json:"delay"`                                           // 是否延迟到下一根K线开盘价成交
	DelayUseCurrentPrice  bool `mapstructure:"delay_use_current_price" json:"delay_use_current_price"`       // 延迟成交时是否按成交时价格重新计算止损/数量
	MaxDelayCount         int  `mapstructure:"max_delay_count" json:"max_delay_count"`                       // 延迟请求最大重试次数
	TPMonotonic           bool `mapstructure:"tp_monotonic" json:"tp_monotonic"`                             // 止赢价是否只朝有利方向移动
	TPDelayN              int  `mapstructure:"tp_delay_n" json:"tp_delay_n"`                                 // 止赢延迟K线数，仅作为参数保存，供自定义组件通过 GetParam 读取
	IgnoreSellSignal      bool `mapstructure:"ignore_sell_sg" json:"ignore_sell_sg"`                         // 忽略卖出信号
	CanTradeWhenHighEqLow bool `mapstructure:"can_trade_when_high_eq_low" json:"can_trade_when_high_eq_low"` // 一字板是否允许交易
	EnvOpenPosition       bool `mapstructure:"ev_open_position" json:"ev_open_position"`                     // 市场环境由无效转有效时是否开仓
	CondOpenPosition      bool `mapstructure:"cn_open_position" json:"cn_open_position"`                     // 系统条件由无效转有效时是否开仓
	SupportBorrowCash     bool `mapstructure:"support_borrow_cash" json:"support_borrow_cash"`               // 是否允许融资
	SupportBorrowStock    bool `mapstructure:"support_borrow_stock" json:"support_borrow_stock"`             // 是否允许融券（做空）
}

// DefaultSystemParams 返回系统参数的默认值
func DefaultSystemParams() SystemParams {
	return SystemParams{
		Delay:                true,
		DelayUseCurrentPrice: true,
		MaxDelayCount:        3,
		TPMonotonic:          true,
		TPDelayN:             3,
	}
}

// Bar 是一根K线
type Bar struct {
	Datetime time.Time `json:"datetime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Query 描述需要获取的K线范围。Last > 0 时只取最后 Last 根。
type Query struct {
	Start time.Time
	End   time.Time
	Last  int
}

// Contains 判断时间点是否落在查询范围内 [Start, End)
func (q Query) Contains(t time.Time) bool {
	if !q.Start.IsZero() && t.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !t.Before(q.End) {
		return false
	}
	return true
}

// Instrument 交易标的
type Instrument struct {
	Code           string  `json:"code"`
	MinTradeNumber float64 `json:"min_trade_number"`
	MaxTradeNumber float64 `json:"max_trade_number"`
}

// IsNull 判断是否为空标的
func (i Instrument) IsNull() bool {
	return i.Code == ""
}

// BusinessType 交易业务类型
type BusinessType string

const (
	BusinessNone      BusinessType = "NONE"
	BusinessBuy       BusinessType = "BUY"
	BusinessSell      BusinessType = "SELL"
	BusinessSellShort BusinessType = "SELL_SHORT" // 卖空开仓
	BusinessBuyShort  BusinessType = "BUY_SHORT"  // 买入平空
)

// Cause 标识触发交易的来源
type Cause string

const (
	CauseNone        Cause = ""
	CauseSignal      Cause = "SIGNAL"
	CauseEnvironment Cause = "ENVIRONMENT"
	CauseCondition   Cause = "CONDITION"
	CauseStoploss    Cause = "STOPLOSS"
	CauseProfitGoal  Cause = "PROFIT_GOAL"
	CauseTakeProfit  Cause = "TAKE_PROFIT"
	CauseAllocator   Cause = "ALLOCATOR"
)

// CostRecord 交易成本明细
type CostRecord struct {
	Commission float64 `json:"commission"` // 佣金
	StampTax   float64 `json:"stamp_tax"`  // 印花税
	Others     float64 `json:"others"`     // 其他费用
	Total      float64 `json:"total"`      // 总成本
}

// Order 是系统提交给账户的一次交易请求
type Order struct {
	Datetime   time.Time
	Instrument Instrument
	RealPrice  float64 // 考虑滑点后的实际成交价
	Number     float64
	Stoploss   float64
	GoalPrice  float64
	PlanPrice  float64 // 触发决策时的计划价格
	Cause      Cause
}

// TradeRecord 成交记录，一旦生成即不可变
type TradeRecord struct {
	ID         string       `json:"id"`
	Instrument string       `json:"instrument"`
	Datetime   time.Time    `json:"datetime"`
	Business   BusinessType `json:"business"`
	PlanPrice  float64      `json:"plan_price"`
	RealPrice  float64      `json:"real_price"`
	GoalPrice  float64      `json:"goal_price"`
	Number     float64      `json:"number"`
	Stoploss   float64      `json:"stoploss"`
	Cost       CostRecord   `json:"cost"`
	Cash       float64      `json:"cash"` // 成交后的现金余额
	Cause      Cause        `json:"cause"`
}

// IsNull 判断是否为空交易记录
func (r TradeRecord) IsNull() bool {
	return r.Business == "" || r.Business == BusinessNone
}

func (r TradeRecord) String() string {
	return fmt.Sprintf("%s %s %s price=%.4f num=%.4f stop=%.4f goal=%.4f cause=%s",
		r.Datetime.Format("2006-01-02 15:04"), r.Instrument, r.Business,
		r.RealPrice, r.Number, r.Stoploss, r.GoalPrice, r.Cause)
}

// PositionRecord 持仓记录，由账户维护，系统只读
type PositionRecord struct {
	Instrument   string    `json:"instrument"`
	TakeDatetime time.Time `json:"take_datetime"` // 建仓时间
	Number       float64   `json:"number"`        // 当前持仓数量
	Stoploss     float64   `json:"stoploss"`      // 当前止损价
	GoalPrice    float64   `json:"goal_price"`    // 当前目标价
	BuyMoney     float64   `json:"buy_money"`     // 累计买入（或卖空）金额
	TotalCost    float64   `json:"total_cost"`    // 累计交易成本
}

// DelayRequest 延迟交易请求，在下一根K线开盘时执行
type DelayRequest struct {
	Business  BusinessType `json:"business"`
	Datetime  time.Time    `json:"datetime"`
	Stoploss  float64      `json:"stoploss"`
	GoalPrice float64      `json:"goal_price"`
	Number    float64      `json:"number"`
	Cause     Cause        `json:"cause"`
	Count     int          `json:"count"` // 已提交次数
}
