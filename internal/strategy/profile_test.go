package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"trade-system-go/internal/system"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleProfile = `
name: ma-cross-atr
signal:
  type: ma_cross
  parameters:
    fast: 5
    slow: 20
sizer:
  type: fixed_risk
  parameters:
    risk: 1000
stoploss:
  type: atr
  parameters:
    period: 14
    multiplier: 2.5
take_profit:
  type: trailing
  parameters:
    period: 10
    percent: 0.08
profit_goal:
  type: percent
  parameters:
    percent: 0.3
slippage:
  type: percent
  parameters:
    percent: 0.0005
condition:
  type: ma
  parameters:
    period: 60
options:
  delay: false
  max_delay_count: 2
  atr_window: 14
`

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfile), 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "ma-cross-atr", p.Name)

	c, err := p.Build(nil, zap.NewNop())
	require.NoError(t, err)

	sig, ok := c.Signal.(*MACrossSignal)
	require.True(t, ok)
	assert.Equal(t, 5, sig.Fast)
	assert.Equal(t, 20, sig.Slow)

	stop, ok := c.Stoploss.(*ATRStop)
	require.True(t, ok)
	assert.Equal(t, 2.5, stop.Multiplier)

	assert.IsType(t, &TrailingTakeProfit{}, c.TakeProfit)
	assert.IsType(t, &FixedRiskSizer{}, c.Sizer)
	assert.IsType(t, &PercentGoal{}, c.ProfitGoal)
	assert.IsType(t, &PercentSlippage{}, c.Slippage)
	assert.IsType(t, &MACondition{}, c.Condition)
	assert.Nil(t, c.Environment)

	sys := system.New(p.Name, c, nil)
	require.NoError(t, p.ApplyOptions(sys))
	v, _ := sys.GetParam("delay")
	assert.Equal(t, false, v)
	assert.Equal(t, 2, sys.Options().MaxDelayCount)
	v, ok = sys.GetParam("atr_window")
	require.True(t, ok)
	assert.Equal(t, 14, v)
}

func TestProfileErrors(t *testing.T) {
	_, err := ParseProfile([]byte("name: x\nsizer:\n  type: fixed_count\n"))
	assert.Error(t, err, "signal is required")

	p, err := ParseProfile([]byte("signal:\n  type: rsi\nsizer:\n  type: fixed_count\n"))
	require.NoError(t, err)
	_, err = p.Build(nil, nil)
	assert.Error(t, err)

	p, err = ParseProfile([]byte("signal:\n  type: ma_cross\nsizer:\n  type: fixed_count\nenvironment:\n  type: ma\n"))
	require.NoError(t, err)
	_, err = p.Build(nil, nil)
	assert.Error(t, err, "environment needs a bar source")

	p, err = ParseProfile([]byte("signal:\n  type: ma_cross\n  parameters:\n    fast: 1.5\nsizer:\n  type: fixed_count\n"))
	require.NoError(t, err)
	_, err = p.Build(nil, nil)
	assert.Error(t, err)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
