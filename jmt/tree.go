package smt

import (
	"bytes"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ============================================
// Jellyfish Merkle Tree 16 叉实现
// ============================================
//
// 规范形态：空子树 = placeholder；只含一个叶子的子树直接用该叶子表示；
// 两个及以上叶子 = 内部节点。因此根只取决于 key/value 集合和哈希函数，
// 与写入历史无关。
//
// 节点按内容寻址（哈希 -> 编码），树本身不写存储，
// 新节点全部进入 NodeBatch，由调用方提交或丢弃。

// DefaultNodeCacheSize 默认节点缓存条目数
const DefaultNodeCacheSize = 10000

// TreeReader 按哈希读取已持久化的节点
// 节点不存在时返回 ErrNodeNotFound
type TreeReader interface {
	GetNode(nodeHash []byte) ([]byte, error)
}

// JellyfishMerkleTree 无状态的树计算器，根由调用方传入
type JellyfishMerkleTree struct {
	hasher *JMTHasher
	reader TreeReader

	// 节点不可变，缓存永远有效
	nodeCache *lru.Cache[string, []byte]
}

// NewJMT 创建 JMT；cacheSize <= 0 时关闭节点缓存
func NewJMT(reader TreeReader, hasher MerkleHasher, cacheSize int) *JellyfishMerkleTree {
	jmt := &JellyfishMerkleTree{
		hasher: NewJMTHasher(hasher),
		reader: reader,
	}
	if cacheSize > 0 {
		jmt.nodeCache, _ = lru.New[string, []byte](cacheSize)
	}
	return jmt
}

// Hasher 返回树哈希器
func (jmt *JellyfishMerkleTree) Hasher() *JMTHasher {
	return jmt.hasher
}

// EmptyRoot 空树根
func (jmt *JellyfishMerkleTree) EmptyRoot() []byte {
	return jmt.hasher.Placeholder()
}

// getNode 依次查 overlay、缓存、存储
func (jmt *JellyfishMerkleTree) getNode(hash []byte, overlay *NodeBatch) ([]byte, error) {
	if overlay != nil {
		if data, ok := overlay.GetNode(hash); ok {
			return data, nil
		}
	}
	if jmt.nodeCache != nil {
		if data, ok := jmt.nodeCache.Get(string(hash)); ok {
			return data, nil
		}
	}
	data, err := jmt.reader.GetNode(hash)
	if err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return nil, fmt.Errorf("%w: %x", ErrNodeNotFound, hash)
		}
		return nil, err
	}
	if jmt.nodeCache != nil {
		jmt.nodeCache.Add(string(hash), data)
	}
	return data, nil
}

// ============================================
// 读取与证明
// ============================================

// Get 返回 keyHash 在 root 下的 ValueHash
func (jmt *JellyfishMerkleTree) Get(root, keyHash []byte) ([]byte, bool, error) {
	proof, err := jmt.prove(root, keyHash, nil)
	if err != nil {
		return nil, false, err
	}
	if proof.Leaf == nil || !bytes.Equal(proof.Leaf.KeyHash, keyHash) {
		return nil, false, nil
	}
	return proof.Leaf.ValueHash, true, nil
}

// GetWithProof 生成 keyHash 在 root 下的存在/不存在证明
func (jmt *JellyfishMerkleTree) GetWithProof(root, keyHash []byte) (*SparseMerkleProof, error) {
	return jmt.prove(root, keyHash, nil)
}

// prove 沿 keyHash 路径下降，收集每层兄弟
func (jmt *JellyfishMerkleTree) prove(root, keyHash []byte, overlay *NodeBatch) (*SparseMerkleProof, error) {
	jh := jmt.hasher
	if len(keyHash) != jh.HashSize() {
		return nil, fmt.Errorf("key hash length %d, want %d", len(keyHash), jh.HashSize())
	}
	proof := &SparseMerkleProof{}
	if jh.IsPlaceholder(root) {
		return proof, nil
	}

	current := root
	for depth := 0; depth <= jh.MaxDepth(); depth++ {
		data, err := jmt.getNode(current, overlay)
		if err != nil {
			return nil, err
		}

		switch GetNodeType(data) {
		case NodeTypeLeaf:
			leaf, err := jh.ParseLeafNode(data)
			if err != nil {
				return nil, err
			}
			proof.Leaf = leaf
			return proof, nil

		case NodeTypeInternal:
			node, err := jh.ParseInternalNode(data)
			if err != nil {
				return nil, err
			}
			nibble := getNibbleAt(keyHash, depth)
			info := jh.ExtractSiblings(node, nibble)
			if len(info.Siblings) == 1 {
				info.SoleSibling, err = jmt.getNode(info.Siblings[0], overlay)
				if err != nil {
					return nil, err
				}
			}
			proof.Siblings = append(proof.Siblings, info)

			child := node.GetChild(nibble)
			if child == nil {
				// 空槽，不存在性证明
				return proof, nil
			}
			current = child

		default:
			return nil, fmt.Errorf("%w: unknown node type %d", ErrCorruptedNode, GetNodeType(data))
		}
	}
	return nil, fmt.Errorf("%w: path exceeds max depth", ErrCorruptedNode)
}

// ============================================
// 批量更新
// ============================================

// PutValueSetWithProof 在 root 上按顺序应用 writes。
// 返回新根、每个写入的证明以及新节点批次；存储不会被修改。
// 同一批次中靠后的写入能看到靠前写入产生的节点。
func (jmt *JellyfishMerkleTree) PutValueSetWithProof(root []byte, writes []KeyHashWrite) ([]byte, *UpdateMerkleProof, *NodeBatch, error) {
	jh := jmt.hasher
	batch := NewNodeBatch()
	update := &UpdateMerkleProof{Proofs: make([]*SparseMerkleProof, 0, len(writes))}

	current := root
	for i, w := range writes {
		proof, err := jmt.prove(current, w.KeyHash, batch)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("write %d: %w", i, err)
		}

		var valueHash []byte
		if w.Value != nil {
			valueHash = jh.Digest(w.Value)
		}
		next, err := jh.applyWrite(current, proof, w.KeyHash, valueHash, batch.putNode)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("write %d: %w", i, err)
		}

		update.Proofs = append(update.Proofs, proof)
		batch.putValue(w)
		current = next
	}
	return current, update, batch, nil
}
