package models

import "time"

// SystemState 定义了交易系统需要持久化的全部关键数据
type SystemState struct {
	RunID          string         `json:"run_id"`            // 运行的唯一标识符
	Name           string         `json:"name"`              // 系统名称
	Instrument     Instrument     `json:"instrument"`        // 交易标的
	Version        int            `json:"version"`           // 状态模型的版本号，用于未来迁移
	Params         SystemParams   `json:"params"`            // 系统参数
	Custom         map[string]any `json:"custom,omitempty"`  // 策略自定义参数
	PreEnvValid    bool           `json:"pre_env_valid"`     // 上一根K线市场环境是否有效
	PreCondValid   bool           `json:"pre_cond_valid"`    // 上一根K线系统条件是否有效
	BuyDays        int            `json:"buy_days"`          // 多头持仓K线数
	ShortDays      int            `json:"short_days"`        // 空头持仓K线数
	LastTakeProfit float64        `json:"last_take_profit"`  // 多头最近一次止赢价
	LastShortTP    float64        `json:"last_short_tp"`     // 空头最近一次止赢价
	Pending        *DelayRequest  `json:"pending,omitempty"` // 未决的延迟请求
	Trades         []TradeRecord  `json:"trades"`            // 交易历史
	Ledger         *LedgerState   `json:"ledger,omitempty"`  // 账户快照，账户不支持时为空
	LastUpdateTime time.Time      `json:"last_update_time"`  // 状态最后更新的时间戳
}

// LedgerState 账户快照：现金、多空持仓与成交流水
type LedgerState struct {
	Cash       float64          `json:"cash"`
	TotalCosts float64          `json:"total_costs"`
	Long       []PositionRecord `json:"long"`
	Short      []PositionRecord `json:"short"`
	Trades     []TradeRecord    `json:"trades"`
}

// CurrentStateVersion 当前状态模型版本。版本 2 增加了账户快照。
const CurrentStateVersion = 2
