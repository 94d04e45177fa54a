package statemanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"trade-system-go/internal/models"
	"trade-system-go/internal/persistence"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	TradeEvent EventType = iota
	SnapshotEvent
)

// TradeJournal 接收成交流水，由 storage.Journal 实现
type TradeJournal interface {
	InsertTrades(ctx context.Context, runID, system string, trades []models.TradeRecord) error
}

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TradeEventData 某个系统副本产生的一笔成交
type TradeEventData struct {
	System string
	Trade  models.TradeRecord
}

type persistJob struct {
	state *models.SystemState
	trade *TradeEventData
}

// StateManager 汇总一次运行中所有系统副本的成交和快照，并异步持久化。
// 事件在单个 goroutine 中串行处理，副本可以并发地调用 OnTrade / Publish。
type StateManager struct {
	runID   string
	repo    persistence.StateRepository
	journal TradeJournal
	logger  *zap.Logger

	mu       sync.RWMutex
	trades   []models.TradeRecord
	bySystem map[string]int
	states   map[string]*models.SystemState
	failures int

	eventChannel    chan NormalizedEvent
	persistenceChan chan persistJob
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

// NewStateManager creates a new StateManager. repo and journal may be nil.
func NewStateManager(runID string, repo persistence.StateRepository, journal TradeJournal, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		runID:           runID,
		repo:            repo,
		journal:         journal,
		logger:          logger,
		bySystem:        make(map[string]int),
		states:          make(map[string]*models.SystemState),
		eventChannel:    make(chan NormalizedEvent, 1024),
		persistenceChan: make(chan persistJob, 128),
		stopChan:        make(chan struct{}),
	}
}

// RunID 返回本次运行的标识
func (sm *StateManager) RunID() string { return sm.runID }

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Info("StateManager started.", zap.String("run_id", sm.runID))
}

// Stop 处理完已排队的事件和持久化任务后返回。Stop 之后不能再分发事件。
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		sm.logger.Info("StateManager stopped.", zap.String("run_id", sm.runID))
	})
}

// DispatchEvent sends an event to the StateManager for processing.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	sm.eventChannel <- event
}

// OnTrade 实现 system.Observer
func (sm *StateManager) OnTrade(system string, r models.TradeRecord) {
	sm.DispatchEvent(NormalizedEvent{
		Type:      TradeEvent,
		Timestamp: time.Now(),
		Data:      TradeEventData{System: system, Trade: r},
	})
}

// Publish 提交一个系统快照
func (sm *StateManager) Publish(state models.SystemState) {
	sm.DispatchEvent(NormalizedEvent{
		Type:      SnapshotEvent,
		Timestamp: time.Now(),
		Data:      &state,
	})
}

// Trades 返回全部副本的成交，按时间和标的排序
func (sm *StateManager) Trades() []models.TradeRecord {
	sm.mu.RLock()
	out := make([]models.TradeRecord, len(sm.trades))
	copy(out, sm.trades)
	sm.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Datetime.Equal(out[j].Datetime) {
			return out[i].Datetime.Before(out[j].Datetime)
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

// TradeCount 返回某个系统名称下的成交笔数
func (sm *StateManager) TradeCount(system string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.bySystem[system]
}

// GetStateSnapshot returns a deep copy of the latest snapshot of one system, or nil.
func (sm *StateManager) GetStateSnapshot(instrument, name string) *models.SystemState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return deepCopy(sm.states[stateKey(instrument, name)])
}

// Failures 返回持久化失败的次数
func (sm *StateManager) Failures() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.failures
}

func stateKey(instrument, name string) string {
	return instrument + "/" + name
}

// deepCopy creates a deep copy of the SystemState to prevent data races.
func deepCopy(state *models.SystemState) *models.SystemState {
	if state == nil {
		return nil
	}

	stateCopy := *state
	if state.Custom != nil {
		stateCopy.Custom = make(map[string]any, len(state.Custom))
		for k, v := range state.Custom {
			stateCopy.Custom[k] = v
		}
	}
	if state.Pending != nil {
		pending := *state.Pending
		stateCopy.Pending = &pending
	}
	if state.Trades != nil {
		stateCopy.Trades = make([]models.TradeRecord, len(state.Trades))
		copy(stateCopy.Trades, state.Trades)
	}
	if state.Ledger != nil {
		book := *state.Ledger
		book.Long = append([]models.PositionRecord(nil), state.Ledger.Long...)
		book.Short = append([]models.PositionRecord(nil), state.Ledger.Short...)
		book.Trades = append([]models.TradeRecord(nil), state.Ledger.Trades...)
		stateCopy.Ledger = &book
	}
	return &stateCopy
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	defer close(sm.persistenceChan)

	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			// 处理剩余事件
			for {
				select {
				case event := <-sm.eventChannel:
					sm.processEvent(event)
				default:
					return
				}
			}
		}
	}
}

// persistenceLoop handles the asynchronous saving of snapshots and trades.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()

	for job := range sm.persistenceChan {
		var err error
		switch {
		case job.state != nil && sm.repo != nil:
			err = sm.repo.SaveState(job.state)
		case job.trade != nil && sm.journal != nil:
			err = sm.journal.InsertTrades(context.Background(), sm.runID, job.trade.System, []models.TradeRecord{job.trade.Trade})
		}
		if err != nil {
			sm.mu.Lock()
			sm.failures++
			sm.mu.Unlock()
			sm.logger.Error("CRITICAL: Failed to persist", zap.String("run_id", sm.runID), zap.Error(err))
		}
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	switch event.Type {
	case TradeEvent:
		data, ok := event.Data.(TradeEventData)
		if !ok {
			sm.logger.Warn("Received TradeEvent with unexpected data type", zap.String("type", fmt.Sprintf("%T", event.Data)))
			return
		}
		sm.mu.Lock()
		sm.trades = append(sm.trades, data.Trade)
		sm.bySystem[data.System]++
		sm.mu.Unlock()
		sm.persistenceChan <- persistJob{trade: &data}

	case SnapshotEvent:
		state, ok := event.Data.(*models.SystemState)
		if !ok || state == nil {
			sm.logger.Warn("Received SnapshotEvent with unexpected data type", zap.String("type", fmt.Sprintf("%T", event.Data)))
			return
		}
		state.RunID = sm.runID
		state.LastUpdateTime = event.Timestamp
		sm.mu.Lock()
		sm.states[stateKey(state.Instrument.Code, state.Name)] = state
		sm.mu.Unlock()
		// 发送深拷贝给持久化协程
		sm.persistenceChan <- persistJob{state: deepCopy(state)}

	default:
		sm.logger.Warn("Received unknown event", zap.Int("type", int(event.Type)))
	}
}
