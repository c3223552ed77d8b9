package smt

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrCorruptedNode 节点数据无法解析
	ErrCorruptedNode = errors.New("corrupted tree node")
	// ErrNodeNotFound 存储中缺少被引用的节点
	ErrNodeNotFound = errors.New("tree node not found")
	// ErrMalformedProof 证明结构不合法（编码损坏、兄弟数量不符等）
	ErrMalformedProof = errors.New("malformed proof")
	// ErrRootMismatch 证明推导出的根与声明的根不一致
	ErrRootMismatch = errors.New("root hash mismatch")
	// ErrValueMismatch 证明中的叶子与声明的 key/value 不一致
	ErrValueMismatch = errors.New("proof does not match claimed value")
)

// ============================================
// SparseMerkleProof
// ============================================

// SiblingInfo 单层兄弟信息
type SiblingInfo struct {
	// Bitmap 非空兄弟所在的 nibble（不含路径 nibble）
	Bitmap uint16
	// Siblings 非空兄弟哈希，按 nibble 升序
	Siblings [][]byte
	// SoleSibling 仅有一个兄弟时携带其节点编码，
	// 删除导致本层只剩该兄弟时，验证方据此判断是否上提叶子
	SoleSibling []byte
}

// SparseMerkleProof 从根到终点的路径证明
type SparseMerkleProof struct {
	// Leaf 路径终点的叶子；终点为空槽时为 nil
	Leaf *LeafNode
	// Siblings 从根 (depth 0) 到终点的每层兄弟
	Siblings []*SiblingInfo
}

// rootHash 由证明内容推导根哈希，并校验结构
func (p *SparseMerkleProof) rootHash(jh *JMTHasher, keyHash []byte) ([]byte, error) {
	if len(keyHash) != jh.HashSize() {
		return nil, fmt.Errorf("%w: key hash length %d", ErrMalformedProof, len(keyHash))
	}
	depth := len(p.Siblings)
	if depth > jh.MaxDepth() {
		return nil, fmt.Errorf("%w: proof deeper than tree", ErrMalformedProof)
	}

	current := jh.Placeholder()
	if p.Leaf != nil {
		if len(p.Leaf.KeyHash) != jh.HashSize() || len(p.Leaf.ValueHash) != jh.HashSize() {
			return nil, fmt.Errorf("%w: leaf hash length", ErrMalformedProof)
		}
		if countCommonNibblePrefix(p.Leaf.KeyHash, keyHash) < depth {
			return nil, fmt.Errorf("%w: leaf is off the key path", ErrMalformedProof)
		}
		current, _ = jh.DigestLeafNode(p.Leaf.KeyHash, p.Leaf.ValueHash)
	}

	for i := depth - 1; i >= 0; i-- {
		info := p.Siblings[i]
		if err := jh.checkSoleSibling(info); err != nil {
			return nil, err
		}
		nibble := getNibbleAt(keyHash, i)
		node, err := jh.restoreNode(info, nibble)
		if err != nil {
			return nil, err
		}
		if !jh.IsPlaceholder(current) {
			node.SetChild(nibble, current)
		}
		if node.ChildCount() == 0 {
			return nil, fmt.Errorf("%w: empty internal node on path", ErrMalformedProof)
		}
		current, _ = jh.DigestInternalNode(node)
	}
	return current, nil
}

// checkSoleSibling 校验 SoleSibling 与兄弟哈希匹配
func (jh *JMTHasher) checkSoleSibling(info *SiblingInfo) error {
	if len(info.Siblings) != 1 {
		if info.SoleSibling != nil {
			return fmt.Errorf("%w: sole sibling with %d siblings", ErrMalformedProof, len(info.Siblings))
		}
		return nil
	}
	if info.SoleSibling == nil {
		return fmt.Errorf("%w: missing sole sibling", ErrMalformedProof)
	}
	if !bytes.Equal(jh.Digest(info.SoleSibling), info.Siblings[0]) {
		return fmt.Errorf("%w: sole sibling does not hash to sibling", ErrMalformedProof)
	}
	switch GetNodeType(info.SoleSibling) {
	case NodeTypeLeaf, NodeTypeInternal:
		return nil
	default:
		return fmt.Errorf("%w: sole sibling has unknown node type", ErrMalformedProof)
	}
}

// Verify 校验证明：value 非 nil 为存在性证明，nil 为不存在性证明
func (p *SparseMerkleProof) Verify(hasher MerkleHasher, root, keyHash, value []byte) error {
	jh := NewJMTHasher(hasher)
	computed, err := p.rootHash(jh, keyHash)
	if err != nil {
		return err
	}
	if value != nil {
		if p.Leaf == nil || !bytes.Equal(p.Leaf.KeyHash, keyHash) {
			return fmt.Errorf("%w: key is absent under proof", ErrValueMismatch)
		}
		if !bytes.Equal(p.Leaf.ValueHash, jh.Digest(value)) {
			return fmt.Errorf("%w: value hash differs", ErrValueMismatch)
		}
	} else if p.Leaf != nil && bytes.Equal(p.Leaf.KeyHash, keyHash) {
		return fmt.Errorf("%w: key is present under proof", ErrValueMismatch)
	}
	if !bytes.Equal(computed, root) {
		return ErrRootMismatch
	}
	return nil
}

// ============================================
// 路径改写（树更新与验证方共用）
// ============================================

// applyWrite 在已校验的证明路径上应用一次写入，返回新根。
// valueHash 为 nil 表示删除。emit 非 nil 时接收新生成的节点。
func (jh *JMTHasher) applyWrite(root []byte, p *SparseMerkleProof, keyHash, valueHash []byte, emit func(hash, data []byte)) ([]byte, error) {
	if emit == nil {
		emit = func([]byte, []byte) {}
	}
	depth := len(p.Siblings)
	hitsKey := p.Leaf != nil && bytes.Equal(p.Leaf.KeyHash, keyHash)

	var current []byte
	currentIsLeaf := false

	switch {
	case valueHash == nil && !hitsKey:
		return root, nil
	case valueHash == nil:
		current = jh.Placeholder()
	case hitsKey && bytes.Equal(p.Leaf.ValueHash, valueHash):
		return root, nil
	case p.Leaf == nil || hitsKey:
		hash, data := jh.DigestLeafNode(keyHash, valueHash)
		emit(hash, data)
		current, currentIsLeaf = hash, true
	default:
		split, err := jh.splitLeaf(p.Leaf, keyHash, valueHash, depth, emit)
		if err != nil {
			return nil, err
		}
		current = split
	}

	for i := depth - 1; i >= 0; i-- {
		info := p.Siblings[i]
		nibble := getNibbleAt(keyHash, i)
		node, err := jh.restoreNode(info, nibble)
		if err != nil {
			return nil, err
		}
		if !jh.IsPlaceholder(current) {
			node.SetChild(nibble, current)
		}

		switch node.ChildCount() {
		case 0:
			current, currentIsLeaf = jh.Placeholder(), false
			continue
		case 1:
			if !jh.IsPlaceholder(current) && currentIsLeaf {
				// 单叶子子树上提
				continue
			}
			if jh.IsPlaceholder(current) {
				if err := jh.checkSoleSibling(info); err != nil {
					return nil, err
				}
				if IsLeafNodeData(info.SoleSibling) {
					current, currentIsLeaf = info.Siblings[0], true
					continue
				}
			}
		}
		hash, data := jh.DigestInternalNode(node)
		emit(hash, data)
		current, currentIsLeaf = hash, false
	}
	return current, nil
}

// splitLeaf 在 depth 处用包含两个叶子的子树替换已有叶子
func (jh *JMTHasher) splitLeaf(existing *LeafNode, keyHash, valueHash []byte, depth int, emit func(hash, data []byte)) ([]byte, error) {
	common := countCommonNibblePrefix(existing.KeyHash, keyHash)
	if common >= jh.MaxDepth() {
		return nil, fmt.Errorf("%w: key hash collision", ErrCorruptedNode)
	}
	if common < depth {
		return nil, fmt.Errorf("%w: leaf is off the key path", ErrMalformedProof)
	}

	existingHash, existingData := jh.DigestLeafNode(existing.KeyHash, existing.ValueHash)
	emit(existingHash, existingData)
	newHash, newData := jh.DigestLeafNode(keyHash, valueHash)
	emit(newHash, newData)

	fork := &InternalNode{}
	fork.SetChild(getNibbleAt(existing.KeyHash, common), existingHash)
	fork.SetChild(getNibbleAt(keyHash, common), newHash)
	current, data := jh.DigestInternalNode(fork)
	emit(current, data)

	for d := common - 1; d >= depth; d-- {
		wrap := &InternalNode{}
		wrap.SetChild(getNibbleAt(keyHash, d), current)
		current, data = jh.DigestInternalNode(wrap)
		emit(current, data)
	}
	return current, nil
}

// ============================================
// UpdateMerkleProof
// ============================================

// KeyHashWrite 一次有序写入；Value 为 nil 表示删除
type KeyHashWrite struct {
	KeyHash []byte
	Key     []byte
	Value   []byte
}

// UpdateMerkleProof 每个写入一份证明，依次针对写入前的中间根
type UpdateMerkleProof struct {
	Proofs []*SparseMerkleProof
}

// VerifyUpdate 从 oldRoot 出发重放 writes，确认结果等于 newRoot
func (u *UpdateMerkleProof) VerifyUpdate(hasher MerkleHasher, oldRoot, newRoot []byte, writes []KeyHashWrite) error {
	if len(u.Proofs) != len(writes) {
		return fmt.Errorf("%w: %d proofs for %d writes", ErrMalformedProof, len(u.Proofs), len(writes))
	}
	jh := NewJMTHasher(hasher)
	current := oldRoot
	for i, w := range writes {
		proof := u.Proofs[i]
		implied, err := proof.rootHash(jh, w.KeyHash)
		if err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
		if !bytes.Equal(implied, current) {
			return fmt.Errorf("write %d: %w", i, ErrRootMismatch)
		}
		var valueHash []byte
		if w.Value != nil {
			valueHash = jh.Digest(w.Value)
		}
		current, err = jh.applyWrite(current, proof, w.KeyHash, valueHash, nil)
		if err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
	}
	if !bytes.Equal(current, newRoot) {
		return ErrRootMismatch
	}
	return nil
}
