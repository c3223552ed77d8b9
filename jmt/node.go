package smt

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// ============================================
// JMT 16 叉节点
// ============================================

// NodeType 节点类型，同时作为序列化首字节
type NodeType byte

const (
	// NodeTypeNull 空节点 (placeholder)
	NodeTypeNull NodeType = 0
	// NodeTypeInternal 内部节点 (16 叉分支)
	NodeTypeInternal NodeType = 1
	// NodeTypeLeaf 叶子节点
	NodeTypeLeaf NodeType = 2
)

// InternalNode 16 叉内部节点
// ChildBitmap 第 i 位为 1 表示 nibble i 上有子节点，
// Children 只保存非空子节点哈希，顺序与置位顺序一致
type InternalNode struct {
	ChildBitmap uint16
	Children    [][]byte
}

// SetChild 设置 nibble 位置的子节点（已存在则覆盖）
func (n *InternalNode) SetChild(nibble byte, hash []byte) {
	if nibble > 15 {
		return
	}
	mask := uint16(1) << nibble
	idx := n.childIndex(nibble)
	if n.ChildBitmap&mask != 0 {
		n.Children[idx] = hash
		return
	}
	n.ChildBitmap |= mask
	n.Children = append(n.Children, nil)
	copy(n.Children[idx+1:], n.Children[idx:])
	n.Children[idx] = hash
}

// GetChild 返回 nibble 位置的子节点哈希，不存在返回 nil
func (n *InternalNode) GetChild(nibble byte) []byte {
	if nibble > 15 || n.ChildBitmap&(uint16(1)<<nibble) == 0 {
		return nil
	}
	return n.Children[n.childIndex(nibble)]
}

// ChildCount 非空子节点数量
func (n *InternalNode) ChildCount() int {
	return bits.OnesCount16(n.ChildBitmap)
}

// childIndex nibble 在 Children 中的下标 = bitmap 中低于它的置位数
func (n *InternalNode) childIndex(nibble byte) int {
	return bits.OnesCount16(n.ChildBitmap & (uint16(1)<<nibble - 1))
}

// LeafNode 叶子节点，只承诺 KeyHash 和 ValueHash，原始 Key 不进入树
type LeafNode struct {
	KeyHash   []byte
	ValueHash []byte
}

// ============================================
// 序列化
// ============================================

// InternalNode: [Type=1][Bitmap 2 bytes BE][Child1]...[ChildN]
// LeafNode:     [Type=2][KeyHash][ValueHash]

// EncodeInternalNode 序列化内部节点
func EncodeInternalNode(node *InternalNode, hashSize int) []byte {
	buf := make([]byte, 3+len(node.Children)*hashSize)
	buf[0] = byte(NodeTypeInternal)
	binary.BigEndian.PutUint16(buf[1:3], node.ChildBitmap)
	offset := 3
	for _, child := range node.Children {
		copy(buf[offset:offset+hashSize], child)
		offset += hashSize
	}
	return buf
}

// DecodeInternalNode 反序列化内部节点，长度必须精确匹配
func DecodeInternalNode(data []byte, hashSize int) (*InternalNode, error) {
	if len(data) < 3 || data[0] != byte(NodeTypeInternal) {
		return nil, fmt.Errorf("%w: not an internal node", ErrCorruptedNode)
	}
	bitmap := binary.BigEndian.Uint16(data[1:3])
	count := bits.OnesCount16(bitmap)
	if len(data) != 3+count*hashSize {
		return nil, fmt.Errorf("%w: internal node length %d, want %d", ErrCorruptedNode, len(data), 3+count*hashSize)
	}
	children := make([][]byte, count)
	for i := range children {
		start := 3 + i*hashSize
		children[i] = append([]byte(nil), data[start:start+hashSize]...)
	}
	return &InternalNode{ChildBitmap: bitmap, Children: children}, nil
}

// EncodeLeafNode 序列化叶子节点
func EncodeLeafNode(leaf *LeafNode) []byte {
	buf := make([]byte, 0, 1+len(leaf.KeyHash)+len(leaf.ValueHash))
	buf = append(buf, byte(NodeTypeLeaf))
	buf = append(buf, leaf.KeyHash...)
	return append(buf, leaf.ValueHash...)
}

// DecodeLeafNode 反序列化叶子节点
func DecodeLeafNode(data []byte, hashSize int) (*LeafNode, error) {
	if len(data) != 1+2*hashSize || data[0] != byte(NodeTypeLeaf) {
		return nil, fmt.Errorf("%w: not a leaf node", ErrCorruptedNode)
	}
	return &LeafNode{
		KeyHash:   append([]byte(nil), data[1:1+hashSize]...),
		ValueHash: append([]byte(nil), data[1+hashSize:]...),
	}, nil
}

// GetNodeType 读取序列化数据的节点类型
func GetNodeType(data []byte) NodeType {
	if len(data) == 0 {
		return NodeTypeNull
	}
	return NodeType(data[0])
}

// IsLeafNodeData 检查数据是否为叶子节点
func IsLeafNodeData(data []byte) bool {
	return GetNodeType(data) == NodeTypeLeaf
}
