package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"trade-system-go/internal/config"
	"trade-system-go/internal/downloader"
	"trade-system-go/internal/feed"
	"trade-system-go/internal/ledger"
	"trade-system-go/internal/logger"
	"trade-system-go/internal/metrics"
	"trade-system-go/internal/models"
	"trade-system-go/internal/persistence"
	"trade-system-go/internal/reporter"
	"trade-system-go/internal/runner"
	"trade-system-go/internal/statemanager"
	"trade-system-go/internal/storage"
	"trade-system-go/internal/strategy"
	"trade-system-go/internal/system"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const symbolPlaceholder = "{symbol}"

// dataPathFor 返回标的的数据文件路径。路径中的 {symbol} 会被替换为标的代码。
func dataPathFor(pattern, symbol string) string {
	return strings.ReplaceAll(pattern, symbolPlaceholder, symbol)
}

func parseSymbols(list, fallback string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 && fallback != "" {
		out = append(out, fallback)
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.yaml", "path to the config file")
	mode := flag.String("mode", "backtest", "running mode: backtest, download, paper or runs")
	symbols := flag.String("symbols", "", "comma separated symbols, defaults to the config symbol")
	startDate := flag.String("start", "", "start date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date (YYYY-MM-DD), exclusive")
	parallel := flag.Int("parallel", 0, "max clones running at once, 0 for no limit")
	resume := flag.String("resume", "", "paper mode: run id whose saved state is restored")
	showTrades := flag.Bool("trades", false, "print every trade after a backtest")
	runID := flag.String("run", "", "runs mode: show the trades and saved state of this run")
	purge := flag.Bool("purge", false, "runs mode: delete the saved state of -run")
	flag.Parse()

	// 加载配置前先使用默认日志配置
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	start, err1 := parseDate(*startDate)
	end, err2 := parseDate(*endDate)
	if err1 != nil || err2 != nil {
		logger.S().Fatalf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	codes := parseSymbols(*symbols, cfg.Symbol)
	if len(codes) == 0 {
		logger.S().Fatal("没有指定交易对，请设置 symbol 或 --symbols")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "download":
		err = runDownloadMode(ctx, cfg, codes, start, end)
	case "backtest":
		err = runBacktestMode(ctx, cfg, codes, models.Query{Start: start, End: end}, *parallel, *showTrades)
	case "paper":
		err = runPaperMode(ctx, cfg, codes[0], *resume)
	case "runs":
		err = runRunsMode(ctx, cfg, *runID, *purge)
	default:
		err = fmt.Errorf("未知的运行模式: %s。请选择 'backtest'、'download'、'paper' 或 'runs'", *mode)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.S().Fatal(err)
	}
}

// runDownloadMode 下载每个标的的历史K线到 data_path
func runDownloadMode(ctx context.Context, cfg *models.Config, codes []string, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return errors.New("下载模式需要 --start 和 --end")
	}
	if !strings.Contains(cfg.DataPath, symbolPlaceholder) && len(codes) > 1 {
		return fmt.Errorf("data_path 需要包含 %s 才能下载多个交易对", symbolPlaceholder)
	}

	d := downloader.NewKlineDownloader(cfg.DownloadRateLimit, logger.L())
	for _, code := range codes {
		if err := d.DownloadKlines(ctx, code, cfg.Interval, dataPathFor(cfg.DataPath, code), start, end); err != nil {
			return fmt.Errorf("下载 %s 失败: %w", code, err)
		}
	}
	return nil
}

// buildPrototype 按配置和策略文件组装原型交易系统
func buildPrototype(cfg *models.Config, src system.BarSource, log *zap.Logger) (*system.System, error) {
	profile, err := strategy.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("加载策略文件失败: %w", err)
	}
	components, err := profile.Build(src, log)
	if err != nil {
		return nil, err
	}

	l, err := ledger.NewBacktestLedger(cfg.Ledger, log)
	if err != nil {
		return nil, err
	}
	components.Ledger = l
	components.Source = src

	name := profile.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(cfg.ProfilePath), filepath.Ext(cfg.ProfilePath))
	}
	sys := system.New(name, components, log)
	sys.SetOptions(cfg.System)
	if err := profile.ApplyOptions(sys); err != nil {
		return nil, err
	}
	return sys, nil
}

type services struct {
	repo    persistence.StateRepository
	journal *storage.Journal
	manager *statemanager.StateManager
	metrics *metrics.Metrics
	server  *http.Server
}

// openServices 打开快照库、交易流水和指标服务。未配置的部分保持为空。
func openServices(runID string, cfg *models.Config, log *zap.Logger) (*services, error) {
	s := &services{}
	var journal statemanager.TradeJournal

	if cfg.DBPath != "" {
		repo, err := persistence.NewBadgerRepository(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s.repo = repo
	}
	if cfg.JournalPath != "" {
		j, err := storage.NewJournal(cfg.JournalPath)
		if err != nil {
			s.close()
			return nil, err
		}
		s.journal = j
		journal = j
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		s.close()
		return nil, err
	}
	s.metrics = m
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		s.server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("指标服务异常退出", zap.Error(err))
			}
		}()
		log.Info("指标服务已启动", zap.String("addr", cfg.MetricsAddr))
	}

	s.manager = statemanager.NewStateManager(runID, s.repo, journal, log)
	s.manager.Start()
	return s, nil
}

func (s *services) close() {
	if s.manager != nil {
		s.manager.Stop()
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.server.Shutdown(shutdownCtx)
		cancel()
	}
	if s.journal != nil {
		s.journal.Close()
	}
	if s.repo != nil {
		s.repo.Close()
	}
}

// runBacktestMode 为每个标的克隆一个交易系统并行回测，最后打印报告
func runBacktestMode(ctx context.Context, cfg *models.Config, codes []string, q models.Query, parallel int, showTrades bool) error {
	logger.S().Info("--- 启动回测模式 ---")
	log := logger.L()

	paths := make(map[string]string, len(codes))
	for _, code := range codes {
		paths[code] = dataPathFor(cfg.DataPath, code)
	}
	src := feed.NewCSVSource(paths)

	proto, err := buildPrototype(cfg, src, log)
	if err != nil {
		return err
	}

	runID := runner.NewRunID()
	svc, err := openServices(runID, cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	if svc.journal != nil {
		if err := svc.journal.CreateRun(ctx, runID, proto.Name(), time.Now()); err != nil {
			return err
		}
	}
	proto.SetRecorder(svc.metrics)
	proto.SetObserver(svc.manager)

	jobs := make([]runner.Job, 0, len(codes))
	for _, code := range codes {
		inst := cfg.Instrument()
		inst.Code = code
		jobs = append(jobs, runner.Job{Instrument: inst, Query: q})
	}

	r := runner.New(proto, parallel, log)
	r.SetPublisher(svc.manager)
	r.SetEquityGauge(svc.metrics)
	outcomes, err := r.Run(ctx, jobs)
	if err != nil {
		return err
	}
	// 等待所有成交和快照落盘
	svc.manager.Stop()

	logger.S().Info("回测结束。")
	results := make([]reporter.Result, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, reporter.Result{
			System:         o.System.Name(),
			Instrument:     o.Instrument.Code,
			InitialBalance: cfg.Ledger.InitCash,
			Bars:           o.System.Bars(),
			Trades:         o.System.Trades(),
		})
	}
	reporter.GenerateReport(os.Stdout, runID, results)
	if showTrades {
		reporter.RenderTrades(os.Stdout, svc.manager.Trades())
	}
	return nil
}

// runPaperMode 订阅实时K线，逐根收盘K线驱动交易系统（模拟账户）
func runPaperMode(ctx context.Context, cfg *models.Config, code string, resume string) error {
	logger.S().Info("--- 启动模拟交易模式 ---")
	log := logger.L()
	inst := cfg.Instrument()
	inst.Code = code

	var src *feed.CSVSource
	if cfg.DataPath != "" {
		src = feed.NewCSVSource(map[string]string{code: dataPathFor(cfg.DataPath, code)})
	}
	var barSource system.BarSource
	if src != nil {
		barSource = src
	}
	sys, err := buildPrototype(cfg, barSource, log)
	if err != nil {
		return err
	}

	runID := resume
	if runID == "" {
		runID = runner.NewRunID()
	}
	svc, err := openServices(runID, cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()
	// 恢复运行时预热产生的成交不入账，随后由快照覆盖系统与账户状态
	if resume == "" {
		sys.SetRecorder(svc.metrics)
		sys.SetObserver(svc.manager)
	}

	// 先用历史数据预热指标，再接续实时K线
	if src != nil {
		if err := sys.Run(ctx, inst, models.Query{}, true); err != nil {
			return fmt.Errorf("预热失败: %w", err)
		}
	} else if err := sys.Prepare(inst); err != nil {
		return err
	}

	if resume != "" {
		if svc.repo == nil {
			return errors.New("恢复运行需要配置 db_path")
		}
		state, err := svc.repo.LoadState(resume, code, sys.Name())
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("运行 %s 没有 %s/%s 的快照", resume, code, sys.Name())
		}
		if state.Ledger == nil {
			logger.S().Warnf("运行 %s 的快照不含账户数据，账户保持预热结果", resume)
		}
		if err := sys.Restore(state); err != nil {
			return err
		}
		sys.SetRecorder(svc.metrics)
		sys.SetObserver(svc.manager)
		logger.S().Infof("已恢复运行 %s，历史成交 %d 笔", resume, len(state.Trades))
	}
	if svc.journal != nil {
		if err := svc.journal.CreateRun(ctx, runID, sys.Name(), time.Now()); err != nil {
			return err
		}
	}

	stream := feed.NewKlineStream(cfg.WSBaseURL, code, cfg.Interval, log)
	bars := make(chan models.Bar, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- stream.Run(ctx, bars) }()

	logger.S().Infof("运行 %s 已开始，订阅 %s", runID, stream.URL())
	for {
		select {
		case bar := <-bars:
			tr := sys.AppendBar(bar)
			if !tr.IsNull() {
				logger.S().Infof("成交: %s", tr)
			}
			svc.manager.Publish(sys.Snapshot())
		case err := <-errCh:
			svc.manager.Publish(sys.Snapshot())
			logger.S().Info("模拟交易已停止，状态已保存。")
			return err
		}
	}
}

// runRunsMode 不带 -run 时列出全部运行；带 -run 时打印该运行的成交与快照，
// 加 -purge 时删除该运行的快照
func runRunsMode(ctx context.Context, cfg *models.Config, runID string, purge bool) error {
	if runID == "" {
		return listRuns(ctx, cfg)
	}
	if cfg.JournalPath == "" && cfg.DBPath == "" {
		return errors.New("未配置 journal_path 或 db_path")
	}

	if cfg.JournalPath != "" {
		j, err := storage.NewJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		trades, err := j.TradesByRun(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Printf("运行 %s 共 %d 笔成交\n", runID, len(trades))
		reporter.RenderTrades(os.Stdout, trades)
	}

	if cfg.DBPath == "" {
		return nil
	}
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	states, err := repo.ListStates(runID)
	if err != nil {
		return err
	}
	for _, st := range states {
		fmt.Printf("%s/%s  更新于 %s  成交 %d 笔  多头持仓K线 %d  空头持仓K线 %d",
			st.Instrument.Code, st.Name, st.LastUpdateTime.Format("2006-01-02 15:04:05"), len(st.Trades), st.BuyDays, st.ShortDays)
		if st.Pending != nil {
			fmt.Printf("  未决请求 %s", st.Pending.Business)
		}
		if st.Ledger != nil {
			fmt.Printf("  现金 %.2f", st.Ledger.Cash)
		}
		fmt.Println()
	}
	if purge {
		if err := repo.DeleteRun(runID); err != nil {
			return err
		}
		logger.S().Infof("已删除运行 %s 的 %d 个快照", runID, len(states))
	}
	return nil
}

// listRuns 列出交易流水中的历史运行
func listRuns(ctx context.Context, cfg *models.Config) error {
	if cfg.JournalPath == "" {
		return errors.New("未配置 journal_path")
	}
	j, err := storage.NewJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.ListRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-16s  %s  %d trades\n", r.RunID, r.Name, r.StartedAt.Format("2006-01-02 15:04:05"), r.Trades)
	}
	return nil
}
