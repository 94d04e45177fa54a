package runner

import (
	"context"
	"fmt"
	"trade-system-go/internal/models"
	"trade-system-go/internal/system"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewRunID 生成一个短的运行标识（UUID 的 base62 编码）
func NewRunID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}

// Job 描述一个标的的回测任务
type Job struct {
	Instrument models.Instrument
	Query      models.Query
}

// Outcome 是一个副本的运行结果。副本在运行结束后归调用方所有。
type Outcome struct {
	Instrument models.Instrument
	System     *system.System
	Equity     float64
}

// Publisher 接收每个副本运行结束时的快照
type Publisher interface {
	Publish(state models.SystemState)
}

// EquityGauge 记录副本运行结束时的权益
type EquityGauge interface {
	SetEquity(inst string, equity float64)
}

type equityLedger interface {
	Equity(prices map[string]float64) float64
}

// Runner 从一个原型系统为每个标的克隆出独立副本，并发运行。
type Runner struct {
	proto       *system.System
	parallelism int
	publisher   Publisher
	gauge       EquityGauge
	logger      *zap.Logger
}

// New 创建 Runner。parallelism <= 0 表示不限制并发数。
func New(proto *system.System, parallelism int, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{proto: proto, parallelism: parallelism, logger: logger}
}

func (r *Runner) SetPublisher(p Publisher)     { r.publisher = p }
func (r *Runner) SetEquityGauge(g EquityGauge) { r.gauge = g }

// Run 为每个任务运行一个副本，结果按任务顺序返回。
// 任一副本出错会取消其余副本，并返回第一个错误。
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Outcome, error) {
	outcomes := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}

	for i, job := range jobs {
		i, job := i, job
		clone := r.proto.Clone()
		g.Go(func() error {
			if err := clone.Run(gctx, job.Instrument, job.Query, true); err != nil {
				return fmt.Errorf("run %s: %w", job.Instrument.Code, err)
			}
			outcomes[i] = r.finish(clone, job.Instrument)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (r *Runner) finish(s *system.System, inst models.Instrument) Outcome {
	out := Outcome{Instrument: inst, System: s}

	if l, ok := s.Components().Ledger.(equityLedger); ok {
		prices := map[string]float64{}
		if bars := s.Bars(); len(bars) > 0 {
			prices[inst.Code] = bars[len(bars)-1].Close
		}
		out.Equity = l.Equity(prices)
		if r.gauge != nil {
			r.gauge.SetEquity(inst.Code, out.Equity)
		}
	}
	if r.publisher != nil {
		r.publisher.Publish(s.Snapshot())
	}

	r.logger.Info("副本运行完成",
		zap.String("system", s.Name()),
		zap.String("instrument", inst.Code),
		zap.Int("trades", len(s.Trades())),
		zap.Float64("equity", out.Equity))
	return out
}
