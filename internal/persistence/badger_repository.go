package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"trade-system-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const keyPrefix = "state/"

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
// An empty dbPath opens an in-memory database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	// 关闭 badger 自带日志，错误仍通过返回值传递
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开badger数据库失败: %w", err)
	}
	return &badgerRepository{db: db}, nil
}

func runPrefix(runID string) []byte {
	return []byte(keyPrefix + runID + "/")
}

// StateKey 返回快照在库中的键
func StateKey(runID, instrument, name string) []byte {
	return []byte(keyPrefix + runID + "/" + instrument + "/" + name)
}

// SaveState 将快照序列化为JSON后写入
func (r *badgerRepository) SaveState(state *models.SystemState) error {
	if state == nil {
		return errors.New("state is nil")
	}
	if state.RunID == "" {
		return errors.New("state has no run id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	key := StateKey(state.RunID, state.Instrument.Code, state.Name)
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// LoadState loads one snapshot. A missing key is reported as (nil, nil).
func (r *badgerRepository) LoadState(runID, instrument, name string) (*models.SystemState, error) {
	var state models.SystemState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(StateKey(runID, instrument, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return decode(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *badgerRepository) ListStates(runID string) ([]*models.SystemState, error) {
	var states []*models.SystemState
	prefix := runPrefix(runID)

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			state := &models.SystemState{}
			if err := it.Item().Value(func(val []byte) error {
				return decode(val, state)
			}); err != nil {
				return fmt.Errorf("读取快照 %s 失败: %w", it.Item().Key(), err)
			}
			states = append(states, state)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (r *badgerRepository) DeleteRun(runID string) error {
	prefix := runPrefix(runID)
	var keys [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}

func decode(val []byte, state *models.SystemState) error {
	if len(val) == 0 {
		return errors.New("state value is empty in database")
	}
	return json.Unmarshal(val, state)
}
