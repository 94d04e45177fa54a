package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"trade-system-go/internal/models"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 TRADESYS_SYMBOL、TRADESYS_SYSTEM_DELAY
const EnvPrefix = "TRADESYS"

// LoadConfig 从指定路径加载配置文件（JSON或YAML，按扩展名判断）并解析到Config结构体中。
// 环境变量会覆盖文件中的同名配置。
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	cfg := &models.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	params := models.DefaultSystemParams()
	v.SetDefault("system.delay", params.Delay)
	v.SetDefault("system.delay_use_current_price", params.DelayUseCurrentPrice)
	v.SetDefault("system.max_delay_count", params.MaxDelayCount)
	v.SetDefault("system.tp_monotonic", params.TPMonotonic)
	v.SetDefault("system.tp_delay_n", params.TPDelayN)
	v.SetDefault("system.ignore_sell_sg", params.IgnoreSellSignal)
	v.SetDefault("system.can_trade_when_high_eq_low", params.CanTradeWhenHighEqLow)
	v.SetDefault("system.ev_open_position", params.EnvOpenPosition)
	v.SetDefault("system.cn_open_position", params.CondOpenPosition)
	v.SetDefault("system.support_borrow_cash", params.SupportBorrowCash)
	v.SetDefault("system.support_borrow_stock", params.SupportBorrowStock)

	v.SetDefault("min_trade_number", 1)
	v.SetDefault("max_trade_number", 1e9)
	v.SetDefault("interval", "1h")
	v.SetDefault("data_path", "data/{symbol}.csv")
	v.SetDefault("profile_path", "profile.yaml")
	v.SetDefault("ws_base_url", "wss://stream.binance.com:9443")
	v.SetDefault("download_rate_limit", 5)

	v.SetDefault("ledger.init_cash", 100000)
	v.SetDefault("ledger.commission_rate", 0.0003)
	v.SetDefault("ledger.min_commission", 0)
	v.SetDefault("ledger.stamp_tax_rate", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file", "logs/tradesys.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

func validate(cfg *models.Config) error {
	if cfg.Ledger.InitCash < 0 {
		return fmt.Errorf("ledger.init_cash 不能为负数: %f", cfg.Ledger.InitCash)
	}
	if cfg.System.MaxDelayCount < 0 {
		return fmt.Errorf("system.max_delay_count 不能为负数: %d", cfg.System.MaxDelayCount)
	}
	if cfg.MinTradeNumber <= 0 {
		return fmt.Errorf("min_trade_number 必须大于0: %f", cfg.MinTradeNumber)
	}
	if cfg.MaxTradeNumber < cfg.MinTradeNumber {
		return fmt.Errorf("max_trade_number (%f) 不能小于 min_trade_number (%f)", cfg.MaxTradeNumber, cfg.MinTradeNumber)
	}
	return nil
}
