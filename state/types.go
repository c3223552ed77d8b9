package state

import (
	"encoding/hex"

	"github.com/pkg/errors"

	jmt "rollupstate/jmt"
	"rollupstate/kvstore"
	"rollupstate/witness"
)

var (
	// ErrInvalidProof 证明无法针对给定根验证通过
	ErrInvalidProof = errors.New("invalid storage proof")
	// ErrUnsupportedOperation 仅验证模式下不支持的操作
	ErrUnsupportedOperation = errors.New("operation not supported in verification mode")
	// ErrAlreadyInitialized 存储已经写过创世版本
	ErrAlreadyInitialized = errors.New("storage already initialized")
	// ErrNoGenesis 查询时存储尚无创世根
	ErrNoGenesis = errors.New("storage has no genesis root")
	// ErrAccessoryCommit 持久版本已提交，但旁路写入失败；不要重试 Commit
	ErrAccessoryCommit = errors.New("accessory writes failed after state commit")
	// ErrVersionMismatch 提交时持久版本已经前进
	ErrVersionMismatch = kvstore.ErrVersionMismatch
	// ErrRootMismatch 见证重放得到的根与声明不符
	ErrRootMismatch = jmt.ErrRootMismatch
)

// StorageKey 不可变的存储 Key
type StorageKey struct {
	key string
}

// NewStorageKey 复制 b 构造 Key
func NewStorageKey(b []byte) StorageKey {
	return StorageKey{key: string(b)}
}

// Bytes 返回 Key 的副本
func (k StorageKey) Bytes() []byte { return []byte(k.key) }

// Hash 树路径
func (k StorageKey) Hash(h jmt.MerkleHasher) []byte { return h.Hash([]byte(k.key)) }

func (k StorageKey) String() string { return hex.EncodeToString([]byte(k.key)) }

// StorageValue 只读值；不存在用 nil *StorageValue 表示
type StorageValue struct {
	value []byte
}

// NewStorageValue 复制 b 构造值，写入方之后修改 b 不影响该值
func NewStorageValue(b []byte) *StorageValue {
	return &StorageValue{value: append([]byte{}, b...)}
}

// sharedValue 读取路径使用：b 来自存储、快照层或见证，不会再被修改，直接持有
func sharedValue(b []byte) *StorageValue {
	if b == nil {
		b = []byte{}
	}
	return &StorageValue{value: b}
}

// Bytes 返回底层字节。读取得到的值与存储共享，调用方不得修改
func (v *StorageValue) Bytes() []byte {
	if v == nil {
		return nil
	}
	return v.value
}

// Equal 比较两个可选值
func (v *StorageValue) Equal(other *StorageValue) bool {
	if v == nil || other == nil {
		return v == nil && other == nil
	}
	return string(v.value) == string(other.value)
}

// KeyValue 一次读或写；Value 为 nil 表示不存在 / 删除
type KeyValue struct {
	Key   StorageKey
	Value *StorageValue
}

// OrderedReadsAndWrites 一个批次按顺序的读写记录
type OrderedReadsAndWrites struct {
	OrderedReads  []KeyValue
	OrderedWrites []KeyValue
}

// Storage 宿主执行与验证方共用的存储接口
type Storage interface {
	Get(key StorageKey, w *witness.Witness) (*StorageValue, error)
	GetAccessory(key StorageKey) (*StorageValue, error)
	ComputeStateUpdate(accesses OrderedReadsAndWrites, w *witness.Witness) ([]byte, *PendingStateUpdate, error)
	Commit(update *PendingStateUpdate, accessoryWrites []KeyValue) error
	OpenProof(root []byte, proof *StorageProof) (StorageKey, *StorageValue, error)
	IsEmpty() (bool, error)
	GetWithProof(key StorageKey) (*StorageProof, error)
}

// ============================================
// 持久存储 Key 布局
// ============================================

var (
	nodePrefix     = []byte("jmt/n/")
	preimagePrefix = []byte("jmt/p/")
	rootKey        = []byte("jmt/r")
	valuePrefix    = []byte("val/")
)

func withPrefix(prefix, b []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(b))
	return append(append(out, prefix...), b...)
}

func nodeKey(hash []byte) []byte     { return withPrefix(nodePrefix, hash) }
func preimageKey(hash []byte) []byte { return withPrefix(preimagePrefix, hash) }
func valueKey(key []byte) []byte     { return withPrefix(valuePrefix, key) }

func toKeyHashWrites(h jmt.MerkleHasher, writes []KeyValue) []jmt.KeyHashWrite {
	out := make([]jmt.KeyHashWrite, len(writes))
	for i, kv := range writes {
		out[i] = jmt.KeyHashWrite{KeyHash: kv.Key.Hash(h), Key: kv.Key.Bytes()}
		if kv.Value != nil {
			out[i].Value = append([]byte{}, kv.Value.value...)
		}
	}
	return out
}
