package smt

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"
	"sync"

	"golang.org/x/crypto/sha3"
)

// ============================================
// MerkleHasher 可插拔哈希
// ============================================

// MerkleHasher 定长输出的哈希函数，用于派生 KeyHash 以及组合树节点
type MerkleHasher interface {
	Hash(data []byte) []byte
	Size() int
}

// poolHasher 用 sync.Pool 复用 hash.Hash 实例
type poolHasher struct {
	pool *sync.Pool
	size int
}

// NewHasherFromHash 由 hash.Hash 构造函数创建 MerkleHasher
func NewHasherFromHash(newHash func() hash.Hash) MerkleHasher {
	return &poolHasher{
		pool: &sync.Pool{New: func() interface{} { return newHash() }},
		size: newHash().Size(),
	}
}

func (h *poolHasher) Hash(data []byte) []byte {
	hs := h.pool.Get().(hash.Hash)
	defer h.pool.Put(hs)
	hs.Reset()
	hs.Write(data)
	return hs.Sum(nil)
}

func (h *poolHasher) Size() int { return h.size }

// NewSHA256Hasher 默认哈希
func NewSHA256Hasher() MerkleHasher { return NewHasherFromHash(sha256.New) }

// NewSHA3Hasher SHA3-256
func NewSHA3Hasher() MerkleHasher { return NewHasherFromHash(sha3.New256) }

// NewKeccakHasher 以太坊风格 Keccak-256
func NewKeccakHasher() MerkleHasher { return NewHasherFromHash(sha3.NewLegacyKeccak256) }

// HasherByName 按配置名称选择哈希: sha256 / sha3 / keccak
func HasherByName(name string) (MerkleHasher, error) {
	switch strings.ToLower(name) {
	case "", "sha256":
		return NewSHA256Hasher(), nil
	case "sha3", "sha3-256":
		return NewSHA3Hasher(), nil
	case "keccak", "keccak256":
		return NewKeccakHasher(), nil
	default:
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
}

// ============================================
// JMTHasher 树哈希计算
// ============================================

// JMTHasher 在 MerkleHasher 之上提供叶子/内部节点摘要
type JMTHasher struct {
	hasher      MerkleHasher
	hashSize    int
	placeholder []byte
}

// NewJMTHasher 创建 JMT 哈希器
func NewJMTHasher(hasher MerkleHasher) *JMTHasher {
	return &JMTHasher{
		hasher:      hasher,
		hashSize:    hasher.Size(),
		placeholder: make([]byte, hasher.Size()),
	}
}

// HashSize 哈希长度
func (jh *JMTHasher) HashSize() int { return jh.hashSize }

// Placeholder 空子树哈希 (全零)
func (jh *JMTHasher) Placeholder() []byte { return jh.placeholder }

// IsPlaceholder 检查是否为占位符
func (jh *JMTHasher) IsPlaceholder(hash []byte) bool {
	return bytes.Equal(hash, jh.placeholder)
}

// Digest 任意数据的哈希
func (jh *JMTHasher) Digest(data []byte) []byte {
	return jh.hasher.Hash(data)
}

// KeyHash 原始 Key -> 树路径
func (jh *JMTHasher) KeyHash(key []byte) []byte {
	return jh.hasher.Hash(key)
}

// MaxDepth 树的最大深度 (Nibble 数量)，32 字节哈希为 64
func (jh *JMTHasher) MaxDepth() int {
	return jh.hashSize * 2
}

// DigestLeafNode 返回叶子哈希和编码
func (jh *JMTHasher) DigestLeafNode(keyHash, valueHash []byte) ([]byte, []byte) {
	encoded := EncodeLeafNode(&LeafNode{KeyHash: keyHash, ValueHash: valueHash})
	return jh.Digest(encoded), encoded
}

// DigestInternalNode 返回内部节点哈希和编码
func (jh *JMTHasher) DigestInternalNode(node *InternalNode) ([]byte, []byte) {
	encoded := EncodeInternalNode(node, jh.hashSize)
	return jh.Digest(encoded), encoded
}

// ParseLeafNode 解析叶子节点
func (jh *JMTHasher) ParseLeafNode(data []byte) (*LeafNode, error) {
	return DecodeLeafNode(data, jh.hashSize)
}

// ParseInternalNode 解析内部节点
func (jh *JMTHasher) ParseInternalNode(data []byte) (*InternalNode, error) {
	return DecodeInternalNode(data, jh.hashSize)
}

// ExtractSiblings 提取内部节点中除 pathNibble 外的非空子节点
func (jh *JMTHasher) ExtractSiblings(node *InternalNode, pathNibble byte) *SiblingInfo {
	info := &SiblingInfo{}
	for nibble := byte(0); nibble < 16; nibble++ {
		if nibble == pathNibble {
			continue
		}
		if child := node.GetChild(nibble); child != nil && !jh.IsPlaceholder(child) {
			info.Bitmap |= 1 << nibble
			info.Siblings = append(info.Siblings, child)
		}
	}
	return info
}

// restoreNode 由兄弟信息重建路径上的内部节点（路径子节点留空）
func (jh *JMTHasher) restoreNode(info *SiblingInfo, pathNibble byte) (*InternalNode, error) {
	if info.Bitmap&(1<<pathNibble) != 0 {
		return nil, fmt.Errorf("%w: sibling bitmap covers path nibble %d", ErrMalformedProof, pathNibble)
	}
	node := &InternalNode{}
	idx := 0
	for nibble := byte(0); nibble < 16; nibble++ {
		if info.Bitmap&(1<<nibble) == 0 {
			continue
		}
		if idx >= len(info.Siblings) {
			return nil, fmt.Errorf("%w: sibling count does not match bitmap", ErrMalformedProof)
		}
		sib := info.Siblings[idx]
		if len(sib) != jh.hashSize || jh.IsPlaceholder(sib) {
			return nil, fmt.Errorf("%w: invalid sibling hash", ErrMalformedProof)
		}
		node.SetChild(nibble, sib)
		idx++
	}
	if idx != len(info.Siblings) {
		return nil, fmt.Errorf("%w: sibling count does not match bitmap", ErrMalformedProof)
	}
	return node, nil
}
