package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"trade-system-go/internal/models"

	_ "modernc.org/sqlite" // Import the sqlite driver
)

// RunInfo 一次运行的元数据
type RunInfo struct {
	RunID     string
	Name      string
	StartedAt time.Time
	Trades    int
}

// Journal 是基于 sqlite 的交易流水，按运行记录每个系统副本产生的成交。
type Journal struct {
	db *sql.DB
}

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	if dataSourceName != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dataSourceName), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite 只允许单个写连接

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	createRunsTableSQL := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		started_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createRunsTableSQL); err != nil {
		return err
	}

	// 每条成交一行，时间以毫秒时间戳存储
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		system TEXT NOT NULL,
		instrument TEXT NOT NULL,
		datetime INTEGER NOT NULL,
		business TEXT NOT NULL,
		plan_price REAL NOT NULL,
		real_price REAL NOT NULL,
		goal_price REAL NOT NULL,
		number REAL NOT NULL,
		stoploss REAL NOT NULL,
		commission REAL NOT NULL,
		stamp_tax REAL NOT NULL,
		other_cost REAL NOT NULL,
		total_cost REAL NOT NULL,
		cash REAL NOT NULL,
		cause TEXT NOT NULL
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades (run_id, datetime);`)
	return err
}

// NewJournal 打开（必要时创建）交易流水库
func NewJournal(path string) (*Journal, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying DB handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// CreateRun 登记一次运行，重复登记时保留原记录
func (j *Journal) CreateRun(ctx context.Context, runID, name string, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (run_id, name, started_at) VALUES (?, ?, ?)`,
		runID, name, startedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	return nil
}

// InsertTrades 在一个事务中写入一批成交。相同ID的成交会被覆盖。
func (j *Journal) InsertTrades(ctx context.Context, runID, system string, trades []models.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR REPLACE INTO trades (id, run_id, system, instrument, datetime, business, plan_price, real_price, goal_price,
		number, stoploss, commission, stamp_tax, other_cost, total_cost, cash, cause)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			t.ID, runID, system, t.Instrument, t.Datetime.UnixMilli(), string(t.Business),
			t.PlanPrice, t.RealPrice, t.GoalPrice, t.Number, t.Stoploss,
			t.Cost.Commission, t.Cost.StampTax, t.Cost.Others, t.Cost.Total, t.Cash, string(t.Cause),
		); err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// TradesByRun 返回一次运行的全部成交，按时间、标的排序
func (j *Journal) TradesByRun(ctx context.Context, runID string) ([]models.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
	SELECT id, instrument, datetime, business, plan_price, real_price, goal_price, number, stoploss,
		commission, stamp_tax, other_cost, total_cost, cash, cause
	FROM trades
	WHERE run_id = ?
	ORDER BY datetime, instrument, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var ms int64
		var business, cause string
		if err := rows.Scan(
			&t.ID, &t.Instrument, &ms, &business, &t.PlanPrice, &t.RealPrice, &t.GoalPrice, &t.Number, &t.Stoploss,
			&t.Cost.Commission, &t.Cost.StampTax, &t.Cost.Others, &t.Cost.Total, &t.Cash, &cause,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Datetime = time.UnixMilli(ms).UTC()
		t.Business = models.BusinessType(business)
		t.Cause = models.Cause(cause)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListRuns 返回全部运行，最新的在前
func (j *Journal) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := j.db.QueryContext(ctx, `
	SELECT r.run_id, r.name, r.started_at, COUNT(t.id)
	FROM runs r LEFT JOIN trades t ON t.run_id = r.run_id
	GROUP BY r.run_id, r.name, r.started_at
	ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		var ms int64
		if err := rows.Scan(&r.RunID, &r.Name, &ms, &r.Trades); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.StartedAt = time.UnixMilli(ms).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
