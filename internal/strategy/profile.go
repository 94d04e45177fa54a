package strategy

import (
	"fmt"
	"os"
	"sort"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ComponentConfig describes one component in the profile YAML.
type ComponentConfig struct {
	Type       string                 `yaml:"type"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

// Profile is the top-level YAML structure selecting the components of a
// trading system. Optional components are omitted when absent.
type Profile struct {
	Name        string                 `yaml:"name"`
	Signal      ComponentConfig        `yaml:"signal"`
	Sizer       ComponentConfig        `yaml:"sizer"`
	Stoploss    *ComponentConfig       `yaml:"stoploss"`
	TakeProfit  *ComponentConfig       `yaml:"take_profit"`
	ProfitGoal  *ComponentConfig       `yaml:"profit_goal"`
	Slippage    *ComponentConfig       `yaml:"slippage"`
	Condition   *ComponentConfig       `yaml:"condition"`
	Environment *ComponentConfig       `yaml:"environment"`
	Options     map[string]interface{} `yaml:"options"`
}

// LoadProfile reads a component profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProfile(data)
}

// ParseProfile decodes a component profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if p.Signal.Type == "" {
		return nil, fmt.Errorf("profile %q: signal is required", p.Name)
	}
	if p.Sizer.Type == "" {
		return nil, fmt.Errorf("profile %q: sizer is required", p.Name)
	}
	return &p, nil
}

func (c ComponentConfig) intParam(key string, def int) (int, error) {
	v, ok := c.Parameters[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%s: parameter %s must be an integer, got %v", c.Type, key, v)
}

func (c ComponentConfig) floatParam(key string, def float64) (float64, error) {
	v, ok := c.Parameters[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("%s: parameter %s must be a number, got %v", c.Type, key, v)
}

func (c ComponentConfig) stringParam(key, def string) string {
	if v, ok := c.Parameters[key].(string); ok {
		return v
	}
	return def
}

// Build creates the components named by the profile. The ledger and bar
// source are left for the caller. envSource feeds the environment's index
// bars and is only required when an environment is configured.
func (p *Profile) Build(envSource system.BarSource, logger *zap.Logger) (system.Components, error) {
	var (
		c   system.Components
		err error
	)
	if c.Signal, err = buildSignal(p.Signal); err != nil {
		return c, err
	}
	if c.Sizer, err = buildSizer(p.Sizer); err != nil {
		return c, err
	}
	if p.Stoploss != nil {
		if c.Stoploss, err = buildStop(*p.Stoploss); err != nil {
			return c, err
		}
	}
	if p.TakeProfit != nil {
		if c.TakeProfit, err = buildStop(*p.TakeProfit); err != nil {
			return c, err
		}
	}
	if p.ProfitGoal != nil {
		if c.ProfitGoal, err = buildGoal(*p.ProfitGoal); err != nil {
			return c, err
		}
	}
	if p.Slippage != nil {
		if c.Slippage, err = buildSlippage(*p.Slippage); err != nil {
			return c, err
		}
	}
	if p.Condition != nil {
		if c.Condition, err = buildCondition(*p.Condition); err != nil {
			return c, err
		}
	}
	if p.Environment != nil {
		if envSource == nil {
			return c, fmt.Errorf("environment %s needs a bar source", p.Environment.Type)
		}
		if c.Environment, err = buildEnvironment(*p.Environment, envSource, logger); err != nil {
			return c, err
		}
	}
	return c, nil
}

// ApplyOptions sets the profile's options on sys in key order.
func (p *Profile) ApplyOptions(sys *system.System) error {
	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := sys.SetParam(k, p.Options[k]); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	return nil
}

func buildSignal(c ComponentConfig) (system.Signal, error) {
	switch c.Type {
	case "ma_cross":
		fast, err := c.intParam("fast", 5)
		if err != nil {
			return nil, err
		}
		slow, err := c.intParam("slow", 20)
		if err != nil {
			return nil, err
		}
		if fast <= 0 || slow <= fast {
			return nil, fmt.Errorf("ma_cross: need 0 < fast < slow, got %d/%d", fast, slow)
		}
		return NewMACrossSignal(fast, slow), nil
	}
	return nil, fmt.Errorf("unknown signal type %q", c.Type)
}

func buildSizer(c ComponentConfig) (system.Sizer, error) {
	switch c.Type {
	case "fixed_count":
		n, err := c.floatParam("count", 1)
		if err != nil {
			return nil, err
		}
		return &FixedCountSizer{Count: n}, nil
	case "fixed_risk":
		r, err := c.floatParam("risk", 0)
		if err != nil {
			return nil, err
		}
		if r <= 0 {
			return nil, fmt.Errorf("fixed_risk: risk must be positive")
		}
		return &FixedRiskSizer{Risk: r}, nil
	}
	return nil, fmt.Errorf("unknown sizer type %q", c.Type)
}

func buildStop(c ComponentConfig) (system.Stoploss, error) {
	switch c.Type {
	case "atr":
		period, err := c.intParam("period", 14)
		if err != nil {
			return nil, err
		}
		k, err := c.floatParam("multiplier", 2)
		if err != nil {
			return nil, err
		}
		return NewATRStop(period, k), nil
	case "percent":
		pct, err := c.floatParam("percent", 0.05)
		if err != nil {
			return nil, err
		}
		return &PercentStop{Percent: pct}, nil
	case "trailing":
		period, err := c.intParam("period", 10)
		if err != nil {
			return nil, err
		}
		pct, err := c.floatParam("percent", 0.05)
		if err != nil {
			return nil, err
		}
		return NewTrailingTakeProfit(period, pct), nil
	}
	return nil, fmt.Errorf("unknown stoploss type %q", c.Type)
}

func buildGoal(c ComponentConfig) (system.ProfitGoal, error) {
	if c.Type != "percent" {
		return nil, fmt.Errorf("unknown profit goal type %q", c.Type)
	}
	pct, err := c.floatParam("percent", 0)
	if err != nil {
		return nil, err
	}
	return &PercentGoal{Percent: pct}, nil
}

func buildSlippage(c ComponentConfig) (system.Slippage, error) {
	if c.Type != "percent" {
		return nil, fmt.Errorf("unknown slippage type %q", c.Type)
	}
	pct, err := c.floatParam("percent", 0)
	if err != nil {
		return nil, err
	}
	return &PercentSlippage{Percent: pct}, nil
}

func buildCondition(c ComponentConfig) (system.Condition, error) {
	if c.Type != "ma" {
		return nil, fmt.Errorf("unknown condition type %q", c.Type)
	}
	period, err := c.intParam("period", 20)
	if err != nil {
		return nil, err
	}
	return NewMACondition(period), nil
}

func buildEnvironment(c ComponentConfig, src system.BarSource, logger *zap.Logger) (system.Environment, error) {
	if c.Type != "ma" {
		return nil, fmt.Errorf("unknown environment type %q", c.Type)
	}
	period, err := c.intParam("period", 20)
	if err != nil {
		return nil, err
	}
	index := models.Instrument{Code: c.stringParam("index", "INDEX"), MinTradeNumber: 1}
	return NewMAEnvironment(index, period, src, logger), nil
}
