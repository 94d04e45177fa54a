package system

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"trade-system-go/internal/models"
)

// ErrOptionType is returned when an option is set with a value of the wrong type.
var ErrOptionType = errors.New("option type mismatch")

// Options holds the fixed system parameters plus strategy-defined custom
// options. A custom option keeps the type of its first value.
type Options struct {
	models.SystemParams
	custom map[string]any
}

// DefaultOptions returns the options a new System starts with.
func DefaultOptions() Options {
	return Options{SystemParams: models.DefaultSystemParams()}
}

// NewOptions wraps a parameter record loaded from configuration.
func NewOptions(p models.SystemParams) Options {
	return Options{SystemParams: p}
}

func (o *Options) boolField(key string) *bool {
	switch key {
	case "delay":
		return &o.Delay
	case "delay_use_current_price":
		return &o.DelayUseCurrentPrice
	case "tp_monotonic":
		return &o.TPMonotonic
	case "ignore_sell_sg":
		return &o.IgnoreSellSignal
	case "can_trade_when_high_eq_low":
		return &o.CanTradeWhenHighEqLow
	case "ev_open_position":
		return &o.EnvOpenPosition
	case "cn_open_position":
		return &o.CondOpenPosition
	case "support_borrow_cash":
		return &o.SupportBorrowCash
	case "support_borrow_stock":
		return &o.SupportBorrowStock
	}
	return nil
}

func (o *Options) intField(key string) *int {
	switch key {
	case "max_delay_count":
		return &o.MaxDelayCount
	case "tp_delay_n":
		return &o.TPDelayN
	}
	return nil
}

// Set assigns an option by name.
func (o *Options) Set(key string, value any) error {
	if p := o.boolField(key); p != nil {
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: %s expects bool, got %T", ErrOptionType, key, value)
		}
		*p = b
		return nil
	}
	if p := o.intField(key); p != nil {
		n, ok := toInt(value)
		if !ok {
			return fmt.Errorf("%w: %s expects int, got %T", ErrOptionType, key, value)
		}
		if n < 0 {
			return fmt.Errorf("%s must not be negative: %d", key, n)
		}
		*p = n
		return nil
	}

	if o.custom == nil {
		o.custom = make(map[string]any)
	}
	if old, ok := o.custom[key]; ok && reflect.TypeOf(old) != reflect.TypeOf(value) {
		return fmt.Errorf("%w: %s holds %T, got %T", ErrOptionType, key, old, value)
	}
	o.custom[key] = value
	return nil
}

// Get reads an option by name.
func (o *Options) Get(key string) (any, bool) {
	if p := o.boolField(key); p != nil {
		return *p, true
	}
	if p := o.intField(key); p != nil {
		return *p, true
	}
	v, ok := o.custom[key]
	return v, ok
}

// CustomKeys lists the custom option names in sorted order.
func (o *Options) CustomKeys() []string {
	keys := make([]string, 0, len(o.custom))
	for k := range o.custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o Options) clone() Options {
	out := Options{SystemParams: o.SystemParams}
	if o.custom != nil {
		out.custom = make(map[string]any, len(o.custom))
		for k, v := range o.custom {
			out.custom[k] = v
		}
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		// numbers decoded from JSON or YAML
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
