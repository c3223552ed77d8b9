package kvstore

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"

	"rollupstate/logs"
)

// ============================================
// BadgerDB 版本化存储适配器
// ============================================

// 子空间标记
const (
	spaceData byte = 'd'
	spaceMeta byte = 'm'
)

// BadgerOptions 打开 BadgerDB 的参数
type BadgerOptions struct {
	Dir              string
	SyncWrites       bool
	ValueLogFileSize int64
	// InMemory 不落盘，Dir 被忽略
	InMemory bool
}

// OpenBadger 打开 BadgerDB，关闭 badger 自带日志
func OpenBadger(o BadgerOptions) (*badger.DB, error) {
	opts := badger.DefaultOptions(o.Dir).WithLogger(nil).WithSyncWrites(o.SyncWrites)
	if o.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if o.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(o.ValueLogFileSize)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger at %q", o.Dir)
	}
	return db, nil
}

// BadgerStore 实现 VersionedKVStore，使用 BadgerDB 作为后端
// 数据 Key: [prefix]['d'][uvarint len][key][8 字节 BE version]
// 版本计数: [prefix]['m']
type BadgerStore struct {
	db     *badger.DB
	prefix []byte // 命名空间前缀
	mu     sync.RWMutex
	closed bool
	log    logs.Logger
}

// NewBadgerStore 在 db 的 prefix 命名空间下创建版本化存储，db 由调用方管理
func NewBadgerStore(db *badger.DB, prefix []byte) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: append([]byte{}, prefix...),
		log:    logs.NewLogger("KVStore"),
	}
}

func (s *BadgerStore) dataKey(key []byte, version Version) []byte {
	out := append(append([]byte{}, s.prefix...), spaceData)
	return append(out, EncodeVersionedKey(key, version)...)
}

func (s *BadgerStore) dataPrefix(key []byte) []byte {
	out := append(append([]byte{}, s.prefix...), spaceData)
	return append(out, keyPrefix(key)...)
}

func (s *BadgerStore) metaKey() []byte {
	return append(append([]byte{}, s.prefix...), spaceMeta)
}

// GetLatestValueAtOrBefore 反向迭代定位 <= version 的最近版本
func (s *BadgerStore) GetLatestValueAtOrBefore(key []byte, version Version) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}

	var (
		value []byte
		found bool
	)
	prefix := s.dataPrefix(key)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(s.dataKey(key, version))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		value, found, err = decodeValue(raw)
		return err
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "read %x at version %d", key, version)
	}
	return value, found, nil
}

// NextVersion 读取版本计数
func (s *BadgerStore) NextVersion() (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	var next Version
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		next, err = s.readNext(txn)
		return err
	})
	return next, err
}

func (s *BadgerStore) readNext(txn *badger.Txn) (Version, error) {
	item, err := txn.Get(s.metaKey())
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read version counter")
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, errors.Wrap(err, "read version counter")
	}
	if len(raw) != 8 {
		panic("kvstore: corrupted version counter")
	}
	return Version(binary.BigEndian.Uint64(raw)), nil
}

// AppendVersionedBatch 单个事务内写入全部条目并推进版本计数
func (s *BadgerStore) AppendVersionedBatch(batch *VersionedBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		next, err := s.readNext(txn)
		if err != nil {
			return err
		}
		if err := checkAppend(batch, next); err != nil {
			return err
		}
		for _, e := range batch.Entries {
			if err := txn.Set(s.dataKey(e.Key, batch.Version), encodeValue(e)); err != nil {
				return err
			}
		}
		counter := binary.BigEndian.AppendUint64(nil, uint64(batch.Version)+1)
		return txn.Set(s.metaKey(), counter)
	})
	if err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			return err
		}
		return errors.Wrapf(err, "append batch at version %d", batch.Version)
	}
	s.log.Trace("appended version %d (%d entries)", batch.Version, len(batch.Entries))
	return nil
}

// Prune 删除 before 之前已被覆盖的历史版本
func (s *BadgerStore) Prune(before Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	space := append(append([]byte{}, s.prefix...), spaceData)
	var keysToDelete [][]byte

	// 收集需要删除的键；同一 key 的版本在迭代中连续且升序
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = space
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var (
			curKey  []byte
			visible []byte // 当前 key 在 before 时刻可见的条目
			older   [][]byte
		)
		flush := func() error {
			if visible == nil {
				return nil
			}
			keysToDelete = append(keysToDelete, older...)
			item, err := txn.Get(visible)
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(raw) > 0 && raw[0] == flagTombstone {
				keysToDelete = append(keysToDelete, visible)
			}
			visible, older = nil, nil
			return nil
		}

		for it.Rewind(); it.Valid(); it.Next() {
			full := it.Item().KeyCopy(nil)
			key, version, err := DecodeVersionedKey(full[len(space):])
			if err != nil {
				return err
			}
			if !bytes.Equal(key, curKey) {
				if err := flush(); err != nil {
					return err
				}
				curKey = append(curKey[:0], key...)
			}
			if version > before {
				continue
			}
			if visible != nil {
				older = append(older, visible)
			}
			visible = full
		}
		return flush()
	})
	if err != nil {
		return errors.Wrap(err, "scan for prune")
	}

	// 批量删除
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keysToDelete {
		if err := wb.Delete(key); err != nil {
			return errors.Wrap(err, "prune delete")
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.Wrap(err, "prune flush")
	}
	s.log.Debug("pruned %d entries before version %d", len(keysToDelete), before)
	return nil
}

// Close 关闭存储（不关闭 BadgerDB 本身）
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ============================================
// BadgerDB 旁路存储
// ============================================

// BadgerAccessoryStore 同一 BadgerDB 中独立前缀下的旁路存储
type BadgerAccessoryStore struct {
	db     *badger.DB
	prefix []byte
}

// NewBadgerAccessoryStore 创建旁路存储
func NewBadgerAccessoryStore(db *badger.DB, prefix []byte) *BadgerAccessoryStore {
	return &BadgerAccessoryStore{db: db, prefix: append([]byte{}, prefix...)}
}

func (s *BadgerAccessoryStore) key(k []byte) []byte {
	return append(append([]byte{}, s.prefix...), k...)
}

// GetValue 读取
func (s *BadgerAccessoryStore) GetValue(key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "accessory read %x", key)
	}
	return value, true, nil
}

// PutBatch 单事务写入
func (s *BadgerAccessoryStore) PutBatch(entries []Entry) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			var err error
			if e.Deleted {
				err = txn.Delete(s.key(e.Key))
			} else {
				err = txn.Set(s.key(e.Key), append([]byte{}, e.Value...))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "accessory write")
}
