package kvstore

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ============================================
// 版本化存储接口
// ============================================

// Version 状态版本号；创世占用版本 0
type Version uint64

var (
	// ErrNotFound 当 Key 不存在时返回
	ErrNotFound = errors.New("key not found")
	// ErrVersionMismatch 追加的批次版本不等于 NextVersion
	ErrVersionMismatch = errors.New("batch version does not match next version")
	// ErrStoreClosed 存储已关闭
	ErrStoreClosed = errors.New("store closed")
)

// Entry 一次写入；Deleted 为 true 时写入墓碑
type Entry struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// VersionedBatch 同一版本下原子追加的一组写入
type VersionedBatch struct {
	Version Version
	Entries []Entry
}

// VersionedKVStore 追加式的版本化 KV 存储
type VersionedKVStore interface {
	// GetLatestValueAtOrBefore 返回 key 在 version 及之前最近一次写入的值。
	// 从未写入或最近一次为墓碑时返回 found=false。返回值可能与存储共享，调用方不得修改
	GetLatestValueAtOrBefore(key []byte, version Version) ([]byte, bool, error)

	// NextVersion 下一个可追加的版本，空存储为 0
	NextVersion() (Version, error)

	// AppendVersionedBatch 原子追加批次，batch.Version 必须等于 NextVersion
	AppendVersionedBatch(batch *VersionedBatch) error
}

// Pruner 可选的历史清理能力
type Pruner interface {
	// Prune 删除 before 之前已被覆盖的历史版本，before 及之后的读取不受影响
	Prune(before Version) error
}

// AccessoryStore 不进入 Merkle 树、不带版本的旁路存储
type AccessoryStore interface {
	GetValue(key []byte) ([]byte, bool, error)
	PutBatch(entries []Entry) error
}

func checkAppend(batch *VersionedBatch, next Version) error {
	if batch == nil {
		return errors.New("nil batch")
	}
	if batch.Version != next {
		return fmt.Errorf("%w: got %d, next %d", ErrVersionMismatch, batch.Version, next)
	}
	return nil
}

// ============================================
// 版本化 Key 编码
// ============================================

// EncodeVersionedKey 编码版本化 Key
// 格式: [uvarint len(key)][key][8 字节 Big-Endian Version]
// 长度前缀保证一个 key 不会成为另一个 key 的前缀
func EncodeVersionedKey(key []byte, version Version) []byte {
	result := make([]byte, 0, binary.MaxVarintLen64+len(key)+8)
	result = binary.AppendUvarint(result, uint64(len(key)))
	result = append(result, key...)
	return binary.BigEndian.AppendUint64(result, uint64(version))
}

// keyPrefix 某个 key 所有版本共享的前缀
func keyPrefix(key []byte) []byte {
	result := make([]byte, 0, binary.MaxVarintLen64+len(key))
	result = binary.AppendUvarint(result, uint64(len(key)))
	return append(result, key...)
}

// DecodeVersionedKey 解码版本化 Key
func DecodeVersionedKey(versionedKey []byte) (key []byte, version Version, err error) {
	keyLen, n := binary.Uvarint(versionedKey)
	if n <= 0 {
		return nil, 0, errors.New("versioned key: bad length prefix")
	}
	rest := versionedKey[n:]
	if uint64(len(rest)) != keyLen+8 {
		return nil, 0, errors.Errorf("versioned key: %d bytes after prefix, want %d", len(rest), keyLen+8)
	}
	key = rest[:keyLen]
	version = Version(binary.BigEndian.Uint64(rest[keyLen:]))
	return key, version, nil
}

// 值编码: [flag][data]，flag=1 存活，flag=0 墓碑
const (
	flagTombstone byte = 0x00
	flagLive      byte = 0x01
)

func encodeValue(e Entry) []byte {
	if e.Deleted {
		return []byte{flagTombstone}
	}
	out := make([]byte, 1+len(e.Value))
	out[0] = flagLive
	copy(out[1:], e.Value)
	return out
}

func decodeValue(raw []byte) ([]byte, bool, error) {
	if len(raw) == 0 {
		return nil, false, errors.New("empty stored value")
	}
	switch raw[0] {
	case flagTombstone:
		return nil, false, nil
	case flagLive:
		// raw 由调用方独占（ValueCopy），直接切出值
		return raw[1:], true, nil
	}
	return nil, false, errors.Errorf("unknown value flag 0x%02x", raw[0])
}
