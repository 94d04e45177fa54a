package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KlineFetcher 抽象了分页获取K线的接口，便于替换为测试桩
type KlineFetcher interface {
	Klines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]*binance.Kline, error)
}

type binanceFetcher struct {
	client *binance.Client
}

func (f *binanceFetcher) Klines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]*binance.Kline, error) {
	return f.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start.UnixMilli()).
		Limit(limit).
		Do(ctx)
}

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	fetcher KlineFetcher
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewKlineDownloader 创建一个新的下载器实例。perSecond 限制每秒请求数，<=0 时为 5。
func NewKlineDownloader(perSecond float64, logger *zap.Logger) *KlineDownloader {
	// 公共接口不需要API Key
	return NewKlineDownloaderWithFetcher(&binanceFetcher{client: binance.NewClient("", "")}, perSecond, logger)
}

// NewKlineDownloaderWithFetcher 使用自定义的数据来源创建下载器
func NewKlineDownloaderWithFetcher(f KlineFetcher, perSecond float64, logger *zap.Logger) *KlineDownloader {
	if perSecond <= 0 {
		perSecond = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineDownloader{
		fetcher: f,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger,
	}
}

// DownloadKlines 下载指定交易对、周期和时间范围内的K线数据，并保存到CSV文件。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("file", filePath))
		return nil
	}

	d.logger.Info("开始下载K线数据",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.String("start", startTime.Format("2006-01-02")),
		zap.String("end", endTime.Format("2006-01-02")))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}

	// 先写临时文件，完成后再改名，避免中断留下残缺的缓存
	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", tmpPath, err)
	}
	defer os.Remove(tmpPath)

	if err := d.writeKlines(ctx, file, symbol, interval, startTime, endTime); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("关闭文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("保存文件失败: %w", err)
	}

	d.logger.Info("成功下载K线数据", zap.String("file", filePath))
	return nil
}

func (d *KlineDownloader) writeKlines(ctx context.Context, file *os.File, symbol, interval string, startTime, endTime time.Time) error {
	writer := csv.NewWriter(file)

	header := []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}

	for t := startTime; t.Before(endTime); {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		klines, err := d.fetcher.Klines(ctx, symbol, interval, t, 1000) // 币安单次请求最多1000条
		if err != nil {
			return fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			if k.OpenTime >= endTime.UnixMilli() {
				break
			}
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %w", err)
			}
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("已下载数据", zap.Time("until", t))
	}

	writer.Flush()
	return writer.Error()
}
