package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"trade-system-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
)

// KlineStream 订阅币安K线推送，只转发已收盘的K线。连接断开后自动重连。
type KlineStream struct {
	BaseURL    string
	Symbol     string
	Interval   string
	RetryDelay time.Duration

	logger *zap.Logger
}

func NewKlineStream(baseURL, symbol, interval string, logger *zap.Logger) *KlineStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineStream{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Symbol:     symbol,
		Interval:   interval,
		RetryDelay: 5 * time.Second,
		logger:     logger,
	}
}

// URL 返回订阅地址
func (s *KlineStream) URL() string {
	return fmt.Sprintf("%s/ws/%s@kline_%s", s.BaseURL, strings.ToLower(s.Symbol), s.Interval)
}

// Run 持续把收盘K线写入 out，直到 ctx 取消。返回 ctx 的错误。
func (s *KlineStream) Run(ctx context.Context, out chan<- models.Bar) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL(), nil)
		if err != nil {
			s.logger.Warn("WebSocket连接失败，稍后重试", zap.Error(err), zap.Duration("retry", s.RetryDelay))
		} else {
			s.logger.Info("WebSocket连接成功", zap.String("url", s.URL()))
			if err := s.handle(ctx, conn, out); err != nil && ctx.Err() == nil {
				s.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.RetryDelay):
		}
	}
}

// handle 处理一个已建立的连接，维持心跳，直到连接断开或 ctx 取消
func (s *KlineStream) handle(ctx context.Context, conn *websocket.Conn, out chan<- models.Bar) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					s.logger.Debug("发送Ping失败", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// 解除阻塞中的 ReadMessage
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取消息失败: %w", err)
		}

		bar, closed, err := ParseKline(message)
		if err != nil {
			s.logger.Debug("解析K线失败", zap.Error(err))
			continue
		}
		if !closed {
			continue
		}
		select {
		case out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type klineEvent struct {
	Event string `json:"e"`
	Kline struct {
		StartTime int64  `json:"t"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

// ParseKline 解析一条K线推送，返回K线及其是否已收盘
func ParseKline(message []byte) (models.Bar, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return models.Bar{}, false, err
	}
	if ev.Event != "kline" {
		return models.Bar{}, false, errors.New("not a kline event: " + ev.Event)
	}

	k := ev.Kline
	var vals [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Bar{}, false, fmt.Errorf("转换价格失败: %w", err)
		}
		vals[i] = v
	}
	return models.Bar{
		Datetime: time.UnixMilli(k.StartTime).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, k.IsClosed, nil
}
