package system

import (
	"context"
	"errors"
	"testing"
	"time"
	"trade-system-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestRunMissingCollaborators verifies Run fails fast with a ConfigurationError.
func TestRunMissingCollaborators(t *testing.T) {
	full := func() Components {
		return Components{
			Ledger: newMockLedger(),
			Signal: newMockSignal(),
			Sizer:  &mockSizer{number: 1},
			Source: staticSource{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Components)
		inst    models.Instrument
		missing string
	}{
		{"no ledger", func(c *Components) { c.Ledger = nil }, testInstrument, "ledger"},
		{"no sizer", func(c *Components) { c.Sizer = nil }, testInstrument, "sizer"},
		{"no signal", func(c *Components) { c.Signal = nil }, testInstrument, "signal"},
		{"no source", func(c *Components) { c.Source = nil }, testInstrument, "bar source"},
		{"null instrument", func(c *Components) {}, models.Instrument{}, "instrument"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := full()
			tc.mutate(&c)
			sys := New("broken", c, zap.NewNop())

			err := sys.Run(context.Background(), tc.inst, models.Query{}, false)
			require.Error(t, err)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.missing, cfgErr.Missing)
			assert.Equal(t, "broken", cfgErr.System)
			assert.True(t, errors.Is(err, ErrNotReady))
		})
	}
}

func fiveBars() []models.Bar {
	return []models.Bar{
		bar(1, 10, 10.5, 9.5, 10),
		bar(2, 10, 10.5, 9.5, 10.1),
		bar(3, 10.1, 10.5, 9.8, 10.2),
		bar(4, 10.2, 10.6, 10, 10.4),
		bar(5, 10.4, 10.8, 10.2, 10.6),
	}
}

// TestRunSkipsBarsBeforeInitTime verifies bars before the ledger's start are
// handed to the components but never traded.
func TestRunSkipsBarsBeforeInitTime(t *testing.T) {
	f := newFixture(10)
	f.sys.SetSource(staticSource{bars: fiveBars()})
	require.NoError(t, f.sys.SetParam("delay", false))
	f.ledger.initTime = day(3)
	f.signal.buys[day(1)] = true
	f.signal.buys[day(3)] = true

	err := f.sys.Run(context.Background(), testInstrument, models.Query{Start: day(1), End: day(10)}, false)
	require.NoError(t, err)

	assert.Equal(t, 5, f.signal.bars)
	orders := f.ledger.getOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, day(3), orders[0].Datetime)
}

// TestRunQueryWindow verifies only bars inside the query are loaded.
func TestRunQueryWindow(t *testing.T) {
	f := newFixture(10)
	f.sys.SetSource(staticSource{bars: fiveBars()})

	err := f.sys.Run(context.Background(), testInstrument, models.Query{Start: day(2), End: day(4)}, false)
	require.NoError(t, err)
	assert.Len(t, f.sys.Bars(), 2)
}

// TestRunCancelled verifies a cancelled context stops the loop.
func TestRunCancelled(t *testing.T) {
	f := newFixture(10)
	f.sys.SetSource(staticSource{bars: fiveBars()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.sys.Run(ctx, testInstrument, models.Query{}, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.ledger.getOrders())
}

// TestRunReset verifies the reset flag clears the ledger before running.
func TestRunReset(t *testing.T) {
	f := newFixture(10)
	f.sys.SetSource(staticSource{bars: fiveBars()})

	require.NoError(t, f.sys.Run(context.Background(), testInstrument, models.Query{}, false))
	assert.Equal(t, 0, f.ledger.resets)

	require.NoError(t, f.sys.Run(context.Background(), testInstrument, models.Query{}, true))
	assert.Equal(t, 1, f.ledger.resets)
	assert.Equal(t, 1, f.sizer.resets)
}

// TestRunBars verifies running a preloaded window.
func TestRunBars(t *testing.T) {
	f := newFixture(10)
	require.NoError(t, f.sys.SetParam("delay", false))
	f.signal.buys[day(2)] = true

	require.NoError(t, f.sys.RunBars(context.Background(), testInstrument, fiveBars(), false))
	trades := f.sys.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, day(2), trades[0].Datetime)
}

func stateWithoutClock(s *System) models.SystemState {
	st := s.Snapshot()
	st.LastUpdateTime = time.Time{}
	return st
}

// TestResetIdempotent verifies Reset clears run state and that a second
// Reset changes nothing.
func TestResetIdempotent(t *testing.T) {
	f := newFixture(10)
	env := mockEnvironment{newMockFilter()}
	f.sys.SetEnvironment(env)
	require.NoError(t, f.prepare())
	f.signal.buys[day(1)] = true
	f.signal.buys[day(2)] = true
	f.sys.RunMoment(bar(1, 10, 10.5, 9.5, 10))
	f.sys.RunMoment(bar(2, 10, 10.5, 9.5, 10))
	require.NotNil(t, f.sys.Pending())
	require.NotEmpty(t, f.sys.Trades())

	f.sys.Reset(false, false)
	first := stateWithoutClock(f.sys)
	assert.Nil(t, first.Pending)
	assert.Empty(t, first.Trades)
	assert.False(t, first.PreEnvValid)
	assert.Zero(t, first.BuyDays)
	assert.Zero(t, first.LastTakeProfit)
	assert.Equal(t, 0, f.ledger.resets, "ledger is kept unless asked")
	assert.Equal(t, 0, env.resets, "environment is kept unless asked")

	f.sys.Reset(false, false)
	assert.Equal(t, first, stateWithoutClock(f.sys))

	f.sys.Reset(true, true)
	assert.Equal(t, 1, f.ledger.resets)
	assert.Equal(t, 1, env.resets)
}

// TestCloneIndependent verifies a clone shares no mutable state with its source.
func TestCloneIndependent(t *testing.T) {
	f := newFixture(10)
	require.NoError(t, f.prepare())
	f.signal.buys[day(1)] = true
	f.sys.RunMoment(bar(1, 10, 10.5, 9.5, 10))
	require.NotNil(t, f.sys.Pending())

	clone := f.sys.Clone()
	require.NoError(t, clone.Prepare(testInstrument))
	assert.Equal(t, f.sys.Pending(), clone.Pending())

	tr := clone.RunMoment(bar(2, 10.2, 10.5, 9.8, 10.1))
	require.Equal(t, models.BusinessBuy, tr.Business)
	assert.Len(t, clone.Trades(), 1)

	assert.Empty(t, f.sys.Trades(), "source history is untouched")
	assert.NotNil(t, f.sys.Pending(), "source request is untouched")
	assert.Empty(t, f.ledger.getOrders(), "source ledger is untouched")

	require.NoError(t, clone.SetParam("delay", false))
	v, _ := f.sys.GetParam("delay")
	assert.Equal(t, true, v)

	cloned, ok := clone.Components().Ledger.(*mockLedger)
	require.True(t, ok)
	assert.True(t, cloned.HasPosition(testInstrument))
	assert.False(t, f.ledger.HasPosition(testInstrument))
}

// TestCloneSizesFromOwnLedger verifies a clone driven without Prepare sizes
// its exits from its own ledger, not the one it was cloned from.
func TestCloneSizesFromOwnLedger(t *testing.T) {
	f := newFixture(100)
	require.NoError(t, f.sys.SetParam("delay", false))
	require.NoError(t, f.prepare())
	f.signal.buys[day(1)] = true
	f.signal.sells[day(2)] = true

	tr := f.sys.RunMoment(bar(1, 10, 10.5, 9.5, 10))
	require.Equal(t, models.BusinessBuy, tr.Business)

	clone := f.sys.Clone()

	tr = f.sys.RunMoment(bar(2, 10.2, 10.5, 9.8, 10.1))
	require.Equal(t, models.BusinessSell, tr.Business)
	require.False(t, f.ledger.HasPosition(testInstrument))

	tr = clone.RunMoment(bar(2, 10.2, 10.5, 9.8, 10.1))
	require.Equal(t, models.BusinessSell, tr.Business)
	assert.Equal(t, 100.0, tr.Number)

	cloned := clone.Components()
	assert.Same(t, cloned.Ledger, cloned.Sizer.(*mockSizer).ledger)
	assert.False(t, cloned.Ledger.HasPosition(testInstrument))
}

// TestSnapshotRestore verifies run state survives a snapshot round trip.
func TestSnapshotRestore(t *testing.T) {
	f := newFixture(10)
	require.NoError(t, f.sys.SetParam("my_window", 20))
	require.NoError(t, f.prepare())
	f.signal.buys[day(1)] = true
	f.signal.buys[day(2)] = true
	f.sys.RunMoment(bar(1, 10, 10.5, 9.5, 10))
	f.sys.RunMoment(bar(2, 10.2, 10.5, 9.8, 10.1))

	st := f.sys.Snapshot()
	assert.Equal(t, models.CurrentStateVersion, st.Version)
	require.NotNil(t, st.Pending)

	restored := newFixture(10)
	require.NoError(t, restored.sys.Restore(&st))
	assert.Equal(t, f.sys.Trades(), restored.sys.Trades())
	assert.Equal(t, f.sys.Pending(), restored.sys.Pending())
	assert.Equal(t, f.sys.BuyDays(), restored.sys.BuyDays())
	assert.Equal(t, testInstrument, restored.sys.Instrument())
	v, ok := restored.sys.GetParam("my_window")
	require.True(t, ok)
	assert.Equal(t, 20, v)
	assert.Nil(t, st.Ledger, "the mock ledger keeps no book")

	withBook := st
	withBook.Ledger = &models.LedgerState{Cash: 1}
	assert.Error(t, restored.sys.Restore(&withBook), "a book needs a ledger that can load it")

	st.Version = 99
	assert.Error(t, restored.sys.Restore(&st))
	assert.Error(t, restored.sys.Restore(nil))
}

// TestRecorderAndObserver verifies listeners see every trade.
func TestRecorderAndObserver(t *testing.T) {
	f := newFixture(10)
	rec := &mockRecorder{}
	obs := &mockObserver{}
	f.sys.SetRecorder(rec)
	f.sys.SetObserver(obs)
	require.NoError(t, f.sys.SetParam("delay", false))
	require.NoError(t, f.prepare())

	f.signal.buys[day(1)] = true
	f.signal.sells[day(2)] = true
	f.sys.RunMoment(bar(1, 10, 10.5, 9.5, 10))
	f.sys.RunMoment(bar(2, 10, 10.5, 9.5, 10.2))

	assert.Equal(t, 2, rec.trades)
	require.Len(t, obs.seen["test"], 2)
	assert.Equal(t, models.BusinessSell, obs.seen["test"][1].Business)
}
