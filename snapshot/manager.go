package snapshot

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"

	"rollupstate/logs"
)

// ============================================
// 快照层
// ============================================

// SnapshotId 在途（尚未持久化）状态分叉的标识
type SnapshotId uint64

// Durable 代表持久存储本身，作为根层快照的父节点
const Durable SnapshotId = 0

var (
	ErrSnapshotExists   = errors.New("snapshot already registered")
	ErrSnapshotRetired  = errors.New("snapshot id already retired")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrUnknownParent    = errors.New("unknown parent snapshot")
	ErrParentNotSealed  = errors.New("parent snapshot not sealed")
	ErrAlreadySealed    = errors.New("snapshot already sealed")
	ErrNotSealed        = errors.New("snapshot not sealed")
	ErrHasChildren      = errors.New("snapshot has children")
	ErrNotRootLayer     = errors.New("snapshot is not the root-most layer")
)

// SnapshotLayerResolver 只读解析接口。
// found && value == nil 表示祖先链中已删除（墓碑），不应再回落到持久存储；
// !found 表示祖先链中没有写入，由调用方读持久存储。
// 返回的切片与层内数据共享，调用方不得修改。
type SnapshotLayerResolver interface {
	FetchValue(id SnapshotId, key []byte) (value []byte, found bool)
	FetchAccessoryValue(id SnapshotId, key []byte) (value []byte, found bool)
}

// Change 一次写入，Value 为 nil 表示删除
type Change struct {
	Key   []byte
	Value []byte
}

type layer struct {
	id       SnapshotId
	parent   SnapshotId
	sealed   bool
	children map[SnapshotId]struct{}

	values    map[string][]byte
	accessory map[string][]byte

	bloom          *layerBloom
	accessoryBloom *layerBloom
}

func (l *layer) lookup(key []byte, accessory bool) ([]byte, bool) {
	m := l.values
	if accessory {
		m = l.accessory
	}
	v, ok := m[string(key)]
	return v, ok
}

// Manager 快照层的所有者。
// 方法本身不加锁，并发使用时必须包在 RWLock 中：变更走 Write，查询走 Read
type Manager struct {
	layers    map[SnapshotId]*layer
	retired   *roaring64.Bitmap
	bloomBits uint
	log       logs.Logger
}

// NewManager 创建空管理器；bloomBits 为 0 时使用 DefaultBloomBits
func NewManager(bloomBits uint) *Manager {
	if bloomBits == 0 {
		bloomBits = DefaultBloomBits
	}
	return &Manager{
		layers:    make(map[SnapshotId]*layer),
		retired:   roaring64.New(),
		bloomBits: bloomBits,
		log:       logs.NewLogger("Snapshot"),
	}
}

// Begin 登记一个尚未产生写入的快照，parent 为 Durable 或已封存的快照
func (m *Manager) Begin(id, parent SnapshotId) error {
	if id == Durable {
		return fmt.Errorf("%w: id %d is reserved for durable storage", ErrSnapshotExists, id)
	}
	if m.retired.Contains(uint64(id)) {
		return fmt.Errorf("%w: %d", ErrSnapshotRetired, id)
	}
	if _, ok := m.layers[id]; ok {
		return fmt.Errorf("%w: %d", ErrSnapshotExists, id)
	}

	l := &layer{
		id:             id,
		parent:         parent,
		children:       make(map[SnapshotId]struct{}),
		values:         make(map[string][]byte),
		accessory:      make(map[string][]byte),
		bloom:          newLayerBloom(m.bloomBits),
		accessoryBloom: newLayerBloom(m.bloomBits),
	}
	if parent != Durable {
		p, ok := m.layers[parent]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownParent, parent)
		}
		if !p.sealed {
			return fmt.Errorf("%w: %d", ErrParentNotSealed, parent)
		}
		l.bloom.merge(p.bloom)
		l.accessoryBloom.merge(p.accessoryBloom)
		p.children[id] = struct{}{}
	}
	m.layers[id] = l
	m.log.Debug("begin snapshot %d on %d", id, parent)
	return nil
}

// Seal 写入快照产生的变更，之后该层不可再修改
func (m *Manager) Seal(id SnapshotId, changes, accessoryChanges []Change) error {
	l, ok := m.layers[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	}
	if l.sealed {
		return fmt.Errorf("%w: %d", ErrAlreadySealed, id)
	}
	for _, c := range changes {
		l.values[string(c.Key)] = cloneValue(c.Value)
		l.bloom.add(c.Key)
	}
	for _, c := range accessoryChanges {
		l.accessory[string(c.Key)] = cloneValue(c.Value)
		l.accessoryBloom.add(c.Key)
	}
	l.sealed = true
	m.log.Debug("sealed snapshot %d: %d changes, %d accessory", id, len(changes), len(accessoryChanges))
	return nil
}

// AddSnapshot Begin + Seal
func (m *Manager) AddSnapshot(id, parent SnapshotId, changes, accessoryChanges []Change) error {
	if err := m.Begin(id, parent); err != nil {
		return err
	}
	return m.Seal(id, changes, accessoryChanges)
}

// Discard 放弃一个叶子快照（分叉被废弃）
func (m *Manager) Discard(id SnapshotId) error {
	l, ok := m.layers[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	}
	if len(l.children) > 0 {
		return fmt.Errorf("%w: %d has %d", ErrHasChildren, id, len(l.children))
	}
	if p, ok := m.layers[l.parent]; ok {
		delete(p.children, id)
	}
	m.retire(id)
	m.log.Debug("discarded snapshot %d", id)
	return nil
}

// Finalize 根层快照的更新已提交到持久存储后调用：
// 移除该层，子快照直接挂到持久存储上
func (m *Manager) Finalize(id SnapshotId) error {
	l, ok := m.layers[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	}
	if l.parent != Durable {
		return fmt.Errorf("%w: %d has parent %d", ErrNotRootLayer, id, l.parent)
	}
	if !l.sealed {
		return fmt.Errorf("%w: %d", ErrNotSealed, id)
	}
	for child := range l.children {
		m.layers[child].parent = Durable
	}
	m.retire(id)
	m.log.Debug("finalized snapshot %d, %d children re-parented", id, len(l.children))
	return nil
}

func (m *Manager) retire(id SnapshotId) {
	delete(m.layers, id)
	m.retired.Add(uint64(id))
}

// Has 快照是否仍在管理中
func (m *Manager) Has(id SnapshotId) bool {
	_, ok := m.layers[id]
	return ok
}

// Parent 返回快照的父快照
func (m *Manager) Parent(id SnapshotId) (SnapshotId, bool) {
	l, ok := m.layers[id]
	if !ok {
		return 0, false
	}
	return l.parent, true
}

// IsRetired 快照是否已被放弃或最终化
func (m *Manager) IsRetired(id SnapshotId) bool {
	return m.retired.Contains(uint64(id))
}

// Len 在管快照数
func (m *Manager) Len() int { return len(m.layers) }

// FetchValue 从 id 所在层沿祖先链查找
func (m *Manager) FetchValue(id SnapshotId, key []byte) ([]byte, bool) {
	return m.fetch(id, key, false)
}

// FetchAccessoryValue 旁路存储的同等查询
func (m *Manager) FetchAccessoryValue(id SnapshotId, key []byte) ([]byte, bool) {
	return m.fetch(id, key, true)
}

func (m *Manager) fetch(id SnapshotId, key []byte, accessory bool) ([]byte, bool) {
	for cur := id; cur != Durable; {
		l, ok := m.layers[cur]
		if !ok {
			return nil, false
		}
		bloom := l.bloom
		if accessory {
			bloom = l.accessoryBloom
		}
		// 子层过滤器覆盖整条祖先链
		if !bloom.mayContain(key) {
			return nil, false
		}
		if v, ok := l.lookup(key, accessory); ok {
			return v, true
		}
		cur = l.parent
	}
	return nil, false
}

func cloneValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append([]byte{}, v...)
}
