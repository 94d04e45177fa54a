package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
	"trade-system-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleCSV = `open_time,open,high,low,close,volume,close_time
1704067200000,10,11,9,10.5,100,1704153599999
1704153600000,10.5,12,10,11.5,120,1704239999999
1704153600000,99,99,99,99,1,0
1704240000000,11.5,12.5,11,12,90,1704326399999
`

func TestReadBars(t *testing.T) {
	bars, err := ReadBars(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, bars, 3, "header and duplicate timestamp are skipped")

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bars[0].Datetime)
	assert.Equal(t, 10.5, bars[0].Close)
	assert.Equal(t, 120.0, bars[1].Volume)
}

func TestReadBarsDateFormats(t *testing.T) {
	bars, err := ReadBars(strings.NewReader("2024-01-01,1,2,0.5,1.5\n2024-01-02T00:00:00Z,1,2,0.5,1.5,10\n"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 0.0, bars[0].Volume)

	_, err = ReadBars(strings.NewReader("2024-01-01,1,2,0.5\n"))
	assert.Error(t, err)

	_, err = ReadBars(strings.NewReader("2024-01-01,1,2,0.5,1.5\n2024-01-02,x,2,0.5,1.5\n"))
	assert.Error(t, err)
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "BTCUSDT.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	src := NewCSVSource(map[string]string{"BTCUSDT": path})
	inst := models.Instrument{Code: "BTCUSDT"}

	bars, err := src.Bars(context.Background(), inst, models.Query{Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Len(t, bars, 2)

	bars, err = src.Bars(context.Background(), inst, models.Query{Last: 1})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 12.0, bars[0].Close)

	_, err = src.Bars(context.Background(), models.Instrument{Code: "ETHUSDT"}, models.Query{})
	assert.Error(t, err)

	src.Add("ETHUSDT", filepath.Join(t.TempDir(), "missing.csv"))
	_, err = src.Bars(context.Background(), models.Instrument{Code: "ETHUSDT"}, models.Query{})
	assert.Error(t, err)
}

func klineMessage(start int64, closePrice string, closed bool) string {
	x := "false"
	if closed {
		x = "true"
	}
	return `{"e":"kline","s":"BTCUSDT","k":{"t":` + strconv.FormatInt(start, 10) + `,"o":"10","h":"11","l":"9","c":"` + closePrice + `","v":"5","x":` + x + `}}`
}

func TestParseKline(t *testing.T) {
	bar, closed, err := ParseKline([]byte(klineMessage(1704067200000, "10.5", true)))
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, 10.5, bar.Close)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bar.Datetime)

	_, _, err = ParseKline([]byte(`{"e":"aggTrade","p":"1"}`))
	assert.Error(t, err)
}

func recv(t *testing.T, out <-chan models.Bar) models.Bar {
	t.Helper()
	select {
	case bar := <-out:
		return bar
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a bar")
	}
	return models.Bar{}
}

// TestKlineStream verifies only closed klines are forwarded.
func TestKlineStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/btcusdt@kline_1m", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{
			klineMessage(1704067200000, "10.2", false),
			klineMessage(1704067200000, "10.5", true),
			"not json",
			klineMessage(1704067260000, "10.7", true),
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// keep the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	stream := NewKlineStream(wsURL, "BTCUSDT", "1m", zap.NewNop())
	stream.RetryDelay = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make(chan models.Bar, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- stream.Run(ctx, out) }()

	first := recv(t, out)
	second := recv(t, out)
	assert.Equal(t, 10.5, first.Close)
	assert.Equal(t, 10.7, second.Close)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
