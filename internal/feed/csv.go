package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"trade-system-go/internal/models"
)

// CSVSource 从CSV文件读取K线，每个标的一个文件。
// 文件首次读取后缓存在内存中，可被多个交易系统副本并发读取。
type CSVSource struct {
	mu    sync.Mutex
	paths map[string]string
	cache map[string][]models.Bar
}

// NewCSVSource 创建数据源，paths 为 标的代码 -> 文件路径
func NewCSVSource(paths map[string]string) *CSVSource {
	s := &CSVSource{
		paths: make(map[string]string, len(paths)),
		cache: make(map[string][]models.Bar),
	}
	for code, p := range paths {
		s.paths[code] = p
	}
	return s
}

// Add 注册或替换一个标的的数据文件
func (s *CSVSource) Add(code, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[code] = path
	delete(s.cache, code)
}

// Bars 返回查询范围内的K线，按时间升序
func (s *CSVSource) Bars(ctx context.Context, inst models.Instrument, q models.Query) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := s.load(inst.Code)
	if err != nil {
		return nil, err
	}

	out := make([]models.Bar, 0, len(all))
	for _, b := range all {
		if q.Contains(b.Datetime) {
			out = append(out, b)
		}
	}
	if q.Last > 0 && len(out) > q.Last {
		out = out[len(out)-q.Last:]
	}
	return out, nil
}

func (s *CSVSource) load(code string) ([]models.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bars, ok := s.cache[code]; ok {
		return bars, nil
	}
	path, ok := s.paths[code]
	if !ok {
		return nil, fmt.Errorf("标的 %s 没有配置数据文件", code)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开数据文件 %s: %w", path, err)
	}
	defer file.Close()

	bars, err := ReadBars(file)
	if err != nil {
		return nil, fmt.Errorf("解析数据文件 %s 失败: %w", path, err)
	}
	s.cache[code] = bars
	return bars, nil
}

// ReadBars 解析K线CSV。列顺序为 时间,开,高,低,收[,量,...]，多余的列被忽略。
// 时间可以是毫秒时间戳、RFC3339 或 YYYY-MM-DD。首行无法解析为时间时视为表头。
// 时间不递增的行被丢弃。
func ReadBars(r io.Reader) ([]models.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []models.Bar
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 5 {
			return nil, fmt.Errorf("第 %d 行列数不足: %d", line, len(record))
		}

		t, err := parseTime(record[0])
		if err != nil {
			if line == 1 {
				continue // 表头
			}
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		bar, err := parseBar(t, record)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		if n := len(bars); n > 0 && !bar.Datetime.After(bars[n-1].Datetime) {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("无法解析时间 %q", s)
}

func parseBar(t time.Time, record []string) (models.Bar, error) {
	var vals [5]float64
	for i := 1; i < len(record) && i <= 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("第 %d 列: %w", i+1, err)
		}
		vals[i-1] = v
	}
	return models.Bar{
		Datetime: t,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}
