package system

import (
	"context"
	"fmt"
	"time"
	"trade-system-go/internal/models"

	"go.uber.org/zap"
)

// System drives one strategy through a stream of bars and decides, bar by
// bar, whether to open, close or adjust a position. It is not safe for
// concurrent use; run independent clones instead.
type System struct {
	name   string
	logger *zap.Logger

	ledger Ledger
	sizer  Sizer
	env    Environment
	cond   Condition
	signal Signal
	stop   Stoploss
	tp     Stoploss
	goal   ProfitGoal
	slip   Slippage
	source BarSource

	recorder Recorder
	observer Observer

	opts       Options
	instrument models.Instrument
	bars       []models.Bar

	preEnvValid  bool
	preCondValid bool

	buyDays   int
	shortDays int

	lastTakeProfit      float64
	lastShortTakeProfit float64

	pending *models.DelayRequest
	trades  []models.TradeRecord
}

// New creates a System with default options.
func New(name string, c Components, logger *zap.Logger) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &System{
		name:   name,
		logger: logger.With(zap.String("system", name)),
		opts:   DefaultOptions(),
		trades: make([]models.TradeRecord, 0),
	}
	s.setComponents(c)
	return s
}

func (s *System) setComponents(c Components) {
	s.ledger = c.Ledger
	s.sizer = c.Sizer
	s.env = c.Environment
	s.cond = c.Condition
	s.signal = c.Signal
	s.stop = c.Stoploss
	s.tp = c.TakeProfit
	s.goal = c.ProfitGoal
	s.slip = c.Slippage
	s.source = c.Source
}

// Components returns the collaborators currently attached.
func (s *System) Components() Components {
	return Components{
		Ledger:      s.ledger,
		Sizer:       s.sizer,
		Environment: s.env,
		Condition:   s.cond,
		Signal:      s.signal,
		Stoploss:    s.stop,
		TakeProfit:  s.tp,
		ProfitGoal:  s.goal,
		Slippage:    s.slip,
		Source:      s.source,
	}
}

func (s *System) Name() string { return s.name }

func (s *System) SetLedger(l Ledger)           { s.ledger = l }
func (s *System) SetSizer(m Sizer)             { s.sizer = m }
func (s *System) SetEnvironment(e Environment) { s.env = e }
func (s *System) SetCondition(c Condition)     { s.cond = c }
func (s *System) SetSignal(sg Signal)          { s.signal = sg }
func (s *System) SetStoploss(st Stoploss)      { s.stop = st }
func (s *System) SetTakeProfit(tp Stoploss)    { s.tp = tp }
func (s *System) SetProfitGoal(pg ProfitGoal)  { s.goal = pg }
func (s *System) SetSlippage(sp Slippage)      { s.slip = sp }
func (s *System) SetSource(src BarSource)      { s.source = src }
func (s *System) SetRecorder(r Recorder)       { s.recorder = r }
func (s *System) SetObserver(o Observer)       { s.observer = o }

// SetInstrument selects the instrument traded by RunMoment.
func (s *System) SetInstrument(inst models.Instrument) { s.instrument = inst }

func (s *System) Instrument() models.Instrument { return s.instrument }

// Options returns a copy of the current options.
func (s *System) Options() Options { return s.opts.clone() }

// SetOptions replaces the fixed parameters and keeps custom options.
func (s *System) SetOptions(p models.SystemParams) { s.opts.SystemParams = p }

// SetParam sets an option by name.
func (s *System) SetParam(key string, value any) error { return s.opts.Set(key, value) }

// GetParam reads an option by name.
func (s *System) GetParam(key string) (any, bool) { return s.opts.Get(key) }

// Trades returns a copy of the trade history.
func (s *System) Trades() []models.TradeRecord {
	out := make([]models.TradeRecord, len(s.trades))
	copy(out, s.trades)
	return out
}

// Pending returns a copy of the pending delayed request, or nil.
func (s *System) Pending() *models.DelayRequest {
	if s.pending == nil {
		return nil
	}
	req := *s.pending
	return &req
}

func (s *System) Bars() []models.Bar           { return s.bars }
func (s *System) BuyDays() int                 { return s.buyDays }
func (s *System) ShortDays() int               { return s.shortDays }
func (s *System) LastTakeProfit() float64      { return s.lastTakeProfit }
func (s *System) LastShortTakeProfit() float64 { return s.lastShortTakeProfit }

// ValidityFlags returns the sticky environment and condition flags of the previous bar.
func (s *System) ValidityFlags() (env, cond bool) { return s.preEnvValid, s.preCondValid }

// Reset clears all run state and resets every component. The ledger and the
// environment are only reset when asked, since they may be shared.
func (s *System) Reset(withLedger, withEnv bool) {
	if withLedger && s.ledger != nil {
		s.ledger.Reset()
	}
	if withEnv && s.env != nil {
		s.env.Reset()
	}
	if s.cond != nil {
		s.cond.Reset()
	}
	if s.sizer != nil {
		s.sizer.Reset()
	}
	if s.signal != nil {
		s.signal.Reset()
	}
	if s.stop != nil {
		s.stop.Reset()
	}
	if s.tp != nil {
		s.tp.Reset()
	}
	if s.goal != nil {
		s.goal.Reset()
	}
	if s.slip != nil {
		s.slip.Reset()
	}

	s.bars = nil
	s.preEnvValid = false
	s.preCondValid = false
	s.buyDays = 0
	s.shortDays = 0
	s.lastTakeProfit = 0
	s.lastShortTakeProfit = 0
	s.pending = nil
	s.trades = make([]models.TradeRecord, 0)
}

// Clone returns a fully independent copy: every component is cloned and all
// run state is copied. The bar source, recorder and observer are shared.
func (s *System) Clone() *System {
	out := &System{
		name:                s.name,
		logger:              s.logger,
		recorder:            s.recorder,
		observer:            s.observer,
		opts:                s.opts.clone(),
		instrument:          s.instrument,
		preEnvValid:         s.preEnvValid,
		preCondValid:        s.preCondValid,
		buyDays:             s.buyDays,
		shortDays:           s.shortDays,
		lastTakeProfit:      s.lastTakeProfit,
		lastShortTakeProfit: s.lastShortTakeProfit,
	}
	out.setComponents(s.Components().clone())
	out.attach()
	if s.bars != nil {
		out.bars = make([]models.Bar, len(s.bars))
		copy(out.bars, s.bars)
	}
	if s.pending != nil {
		req := *s.pending
		out.pending = &req
	}
	out.trades = make([]models.TradeRecord, len(s.trades))
	copy(out.trades, s.trades)
	return out
}

// attach wires the ledger into the components that query positions.
func (s *System) attach() {
	if s.ledger == nil {
		return
	}
	if s.cond != nil && s.signal != nil {
		s.cond.Attach(s.ledger, s.signal)
	}
	if s.sizer != nil {
		s.sizer.Attach(s.ledger)
	}
	if s.goal != nil {
		s.goal.Attach(s.ledger)
	}
	if s.stop != nil {
		s.stop.Attach(s.ledger)
	}
	if s.tp != nil {
		s.tp.Attach(s.ledger)
	}
}

func (s *System) configError(missing string) error {
	err := &ConfigurationError{System: s.name, Missing: missing}
	s.logger.Error("system not ready", zap.String("missing", missing))
	return err
}

// readyForRun checks the required collaborators and attaches the ledger.
func (s *System) readyForRun() error {
	if s.ledger == nil {
		return s.configError("ledger")
	}
	if s.sizer == nil {
		return s.configError("sizer")
	}
	if s.signal == nil {
		return s.configError("signal")
	}

	// a filter that has never been evaluated counts as invalid
	if s.env != nil {
		s.preEnvValid = false
	}
	if s.cond != nil {
		s.preCondValid = false
	}
	s.attach()

	s.ledger.SetBorrowPolicy(s.opts.SupportBorrowCash, s.opts.SupportBorrowStock)
	return nil
}

// setBars hands the bar window to every component that reads bars. The
// signal goes first because the condition may depend on it.
func (s *System) setBars(bars []models.Bar) {
	s.bars = bars
	s.signal.SetBars(s.instrument, bars)
	if s.cond != nil {
		s.cond.SetBars(s.instrument, bars)
	}
	if s.stop != nil {
		s.stop.SetBars(s.instrument, bars)
	}
	if s.tp != nil {
		s.tp.SetBars(s.instrument, bars)
	}
	if s.goal != nil {
		s.goal.SetBars(s.instrument, bars)
	}
	if s.slip != nil {
		s.slip.SetBars(s.instrument, bars)
	}
}

// Run fetches the bars of inst selected by q and feeds every bar at or after
// the ledger's init time through RunMoment. Missing collaborators abort the
// run with a *ConfigurationError before any bar is processed. Cancelling ctx
// stops the loop between bars and leaves any pending request unresolved.
func (s *System) Run(ctx context.Context, inst models.Instrument, q models.Query, reset bool) error {
	if inst.IsNull() {
		return s.configError("instrument")
	}
	s.instrument = inst

	if reset {
		s.Reset(true, true)
	}
	if err := s.readyForRun(); err != nil {
		return err
	}
	if s.source == nil {
		return s.configError("bar source")
	}

	bars, err := s.source.Bars(ctx, inst, q)
	if err != nil {
		return fmt.Errorf("load bars for %s: %w", inst.Code, err)
	}
	if len(bars) == 0 {
		s.logger.Warn("no bars to run", zap.String("instrument", inst.Code))
		return nil
	}

	if s.env != nil {
		s.env.SetQuery(q)
	}
	s.sizer.SetQuery(q)
	s.setBars(bars)

	return s.runBars(ctx, bars)
}

// RunBars runs an already loaded bar window, as Run does after fetching.
func (s *System) RunBars(ctx context.Context, inst models.Instrument, bars []models.Bar, reset bool) error {
	if inst.IsNull() {
		return s.configError("instrument")
	}
	s.instrument = inst
	if reset {
		s.Reset(true, true)
	}
	if err := s.readyForRun(); err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}
	s.setBars(bars)
	return s.runBars(ctx, bars)
}

func (s *System) runBars(ctx context.Context, bars []models.Bar) error {
	initTime := s.ledger.InitTime()
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if bar.Datetime.Before(initTime) {
			continue
		}
		s.RunMoment(bar)
	}
	s.logger.Info("run finished",
		zap.String("instrument", s.instrument.Code),
		zap.Int("bars", len(bars)),
		zap.Int("trades", len(s.trades)))
	return nil
}

// Prepare validates and wires the system for bar-by-bar use through
// AppendBar, without fetching a window.
func (s *System) Prepare(inst models.Instrument) error {
	if inst.IsNull() {
		return s.configError("instrument")
	}
	s.instrument = inst
	return s.readyForRun()
}

// AppendBar extends the loaded window with a newly closed bar, hands the
// window to the components and runs the bar. Prepare must have succeeded.
func (s *System) AppendBar(bar models.Bar) models.TradeRecord {
	if n := len(s.bars); n > 0 && !bar.Datetime.After(s.bars[n-1].Datetime) {
		s.logger.Warn("ignoring out of order bar", zap.Time("datetime", bar.Datetime))
		return noTrade()
	}
	n := len(s.bars)
	s.setBars(append(s.bars[:n:n], bar))
	return s.RunMoment(bar)
}

// RunMoment processes a single bar and returns the trade it produced, or a
// NONE record.
func (s *System) RunMoment(bar models.Bar) models.TradeRecord {
	s.buyDays++
	s.shortDays++
	return s.runMoment(bar)
}

// RunMomentAt processes the bar of the loaded window stamped t.
func (s *System) RunMomentAt(t time.Time) (models.TradeRecord, bool) {
	for _, bar := range s.bars {
		if bar.Datetime.Equal(t) {
			return s.RunMoment(bar), true
		}
	}
	return noTrade(), false
}

// Snapshot captures the run state for persistence.
func (s *System) Snapshot() models.SystemState {
	custom := make(map[string]any, len(s.opts.custom))
	for _, k := range s.opts.CustomKeys() {
		custom[k] = s.opts.custom[k]
	}
	st := models.SystemState{
		Name:           s.name,
		Instrument:     s.instrument,
		Version:        models.CurrentStateVersion,
		Params:         s.opts.SystemParams,
		Custom:         custom,
		PreEnvValid:    s.preEnvValid,
		PreCondValid:   s.preCondValid,
		BuyDays:        s.buyDays,
		ShortDays:      s.shortDays,
		LastTakeProfit: s.lastTakeProfit,
		LastShortTP:    s.lastShortTakeProfit,
		Pending:        s.Pending(),
		Trades:         s.Trades(),
		LastUpdateTime: time.Now(),
	}
	if bk, ok := s.ledger.(BookKeeper); ok {
		book := bk.Book()
		st.Ledger = &book
	}
	return st
}

// Restore loads run state captured by Snapshot. When the state carries a
// ledger book it is loaded into the ledger as well; other components are
// untouched.
func (s *System) Restore(st *models.SystemState) error {
	if st == nil {
		return fmt.Errorf("restore %s: nil state", s.name)
	}
	if st.Version < 1 || st.Version > models.CurrentStateVersion {
		return fmt.Errorf("restore %s: unsupported state version %d", s.name, st.Version)
	}
	opts := NewOptions(st.Params)
	for k, v := range st.Custom {
		if err := opts.Set(k, v); err != nil {
			return fmt.Errorf("restore %s: %w", s.name, err)
		}
	}
	if st.Ledger != nil {
		bk, ok := s.ledger.(BookKeeper)
		if !ok {
			return fmt.Errorf("restore %s: ledger %T cannot load a book", s.name, s.ledger)
		}
		if err := bk.RestoreBook(*st.Ledger); err != nil {
			return fmt.Errorf("restore %s: %w", s.name, err)
		}
	}
	s.opts = opts
	s.instrument = st.Instrument
	s.preEnvValid = st.PreEnvValid
	s.preCondValid = st.PreCondValid
	s.buyDays = st.BuyDays
	s.shortDays = st.ShortDays
	s.lastTakeProfit = st.LastTakeProfit
	s.lastShortTakeProfit = st.LastShortTP
	s.pending = nil
	if st.Pending != nil {
		req := *st.Pending
		s.pending = &req
	}
	s.trades = make([]models.TradeRecord, len(st.Trades))
	copy(s.trades, st.Trades)
	return nil
}
