package kvstore

import (
	"sort"
	"sync"
)

// ============================================
// 内存实现
// ============================================

// versionedEntry 单个版本的值
type versionedEntry struct {
	version Version
	value   []byte
	deleted bool
}

// MemStore 内存版本化存储，测试和验证方重放使用
type MemStore struct {
	mu   sync.RWMutex
	next Version
	// data: key -> []versionedEntry (按版本升序排列)
	data   map[string][]versionedEntry
	closed bool
}

// NewMemStore 创建空的内存存储
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]versionedEntry)}
}

// GetLatestValueAtOrBefore 二分查找 <= version 的最新条目
func (m *MemStore) GetLatestValueAtOrBefore(key []byte, version Version) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrStoreClosed
	}

	entries := m.data[string(key)]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].version > version })
	if idx == 0 {
		return nil, false, nil
	}
	found := entries[idx-1]
	if found.deleted {
		return nil, false, nil
	}
	return found.value, true, nil
}

// NextVersion 下一个可追加版本
func (m *MemStore) NextVersion() (Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	return m.next, nil
}

// AppendVersionedBatch 追加批次；版本单调，所以直接 append 即保持升序
func (m *MemStore) AppendVersionedBatch(batch *VersionedBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if err := checkAppend(batch, m.next); err != nil {
		return err
	}

	for _, e := range batch.Entries {
		k := string(e.Key)
		entry := versionedEntry{version: batch.Version, deleted: e.Deleted}
		if !e.Deleted {
			entry.value = append([]byte{}, e.Value...)
		}
		entries := m.data[k]
		// 同一批次内重复写入同一 key，后者覆盖
		if n := len(entries); n > 0 && entries[n-1].version == batch.Version {
			entries[n-1] = entry
		} else {
			entries = append(entries, entry)
		}
		m.data[k] = entries
	}
	m.next = batch.Version + 1
	return nil
}

// Prune 清理 before 之前已被覆盖的历史
func (m *MemStore) Prune(before Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	for k, entries := range m.data {
		idx := sort.Search(len(entries), func(i int) bool { return entries[i].version > before })
		if idx == 0 {
			continue
		}
		// entries[idx-1] 是 before 时刻可见的条目，保留它；墓碑也可一并删除
		keepFrom := idx - 1
		if entries[keepFrom].deleted {
			keepFrom = idx
		}
		kept := append([]versionedEntry(nil), entries[keepFrom:]...)
		if len(kept) == 0 {
			delete(m.data, k)
		} else {
			m.data[k] = kept
		}
	}
	return nil
}

// Close 关闭存储
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// ============================================
// 内存旁路存储
// ============================================

// MemAccessoryStore 内存旁路存储
type MemAccessoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemAccessoryStore 创建内存旁路存储
func NewMemAccessoryStore() *MemAccessoryStore {
	return &MemAccessoryStore{data: make(map[string][]byte)}
}

// GetValue 读取
func (m *MemAccessoryStore) GetValue(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

// PutBatch 写入或删除
func (m *MemAccessoryStore) PutBatch(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.Deleted {
			delete(m.data, string(e.Key))
			continue
		}
		m.data[string(e.Key)] = append([]byte{}, e.Value...)
	}
	return nil
}
