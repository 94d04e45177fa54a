package persistence

import "trade-system-go/internal/models"

// StateRepository 定义了交易系统运行快照的持久化接口。
// 每个快照由 (RunID, 标的代码, 系统名称) 唯一确定。
type StateRepository interface {
	// SaveState 原子地保存一份系统快照，已存在则覆盖
	SaveState(state *models.SystemState) error

	// LoadState 读取指定快照。不存在时返回 (nil, nil)。
	LoadState(runID, instrument, name string) (*models.SystemState, error)

	// ListStates 返回一次运行的全部快照，按键排序
	ListStates(runID string) ([]*models.SystemState, error)

	// DeleteRun 删除一次运行的全部快照
	DeleteRun(runID string) error

	// Close gracefully closes the connection to the database.
	Close() error
}
