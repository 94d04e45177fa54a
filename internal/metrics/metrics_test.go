package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"trade-system-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.TradeRecorded(models.TradeRecord{Instrument: "BTCUSDT", Business: models.BusinessBuy, Cause: models.CauseSignal})
	m.TradeRecorded(models.TradeRecord{Instrument: "BTCUSDT", Business: models.BusinessBuy, Cause: models.CauseSignal})
	m.TradeRecorded(models.TradeRecord{Instrument: "BTCUSDT", Business: models.BusinessSell, Cause: models.CauseStoploss})
	m.DelayResubmitted("BTCUSDT", models.BusinessBuy)
	m.DelayDropped("BTCUSDT", models.BusinessBuy)
	m.OrderRejected("BTCUSDT", models.BusinessBuy, "ledger declined")
	m.SetEquity("BTCUSDT", 101000)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.trades.WithLabelValues("BTCUSDT", "BUY", "SIGNAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trades.WithLabelValues("BTCUSDT", "SELL", "STOPLOSS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resubmits.WithLabelValues("BTCUSDT", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("BTCUSDT", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejects.WithLabelValues("BTCUSDT", "BUY", "ledger declined")))
	assert.Equal(t, 101000.0, testutil.ToFloat64(m.equity.WithLabelValues("BTCUSDT")))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.DelayDropped("ETHUSDT", models.BusinessSell)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `tradesys_delay_drops_total{business="SELL",instrument="ETHUSDT"} 1`))
}
