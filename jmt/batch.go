package smt

import (
	"bytes"
	"sort"
)

// ============================================
// NodeBatch 一次更新产生的新节点与新值
// ============================================

// ValueChange 一个 KeyHash 在本批次中的最终值
type ValueChange struct {
	KeyHash []byte
	Key     []byte
	// Value 为 nil 表示删除
	Value []byte
}

// NodeEntry 一个新节点
type NodeEntry struct {
	Hash []byte
	Data []byte
}

// NodeBatch 只在内存中持有，由调用方决定落盘还是丢弃
type NodeBatch struct {
	nodes  map[string][]byte
	values map[string]*ValueChange
}

// NewNodeBatch 创建空批次
func NewNodeBatch() *NodeBatch {
	return &NodeBatch{
		nodes:  make(map[string][]byte),
		values: make(map[string]*ValueChange),
	}
}

func (b *NodeBatch) putNode(hash, data []byte) {
	b.nodes[string(hash)] = data
}

func (b *NodeBatch) putValue(w KeyHashWrite) {
	b.values[string(w.KeyHash)] = &ValueChange{KeyHash: w.KeyHash, Key: w.Key, Value: w.Value}
}

// GetNode 读取批次内节点
func (b *NodeBatch) GetNode(hash []byte) ([]byte, bool) {
	data, ok := b.nodes[string(hash)]
	return data, ok
}

// GetValue 读取批次内某 KeyHash 的最终值
func (b *NodeBatch) GetValue(keyHash []byte) (*ValueChange, bool) {
	v, ok := b.values[string(keyHash)]
	return v, ok
}

// NodeCount 新节点数量
func (b *NodeBatch) NodeCount() int { return len(b.nodes) }

// ValueCount 写入的不同 KeyHash 数量
func (b *NodeBatch) ValueCount() int { return len(b.values) }

// Nodes 按哈希排序输出，保证落盘批次确定
func (b *NodeBatch) Nodes() []NodeEntry {
	out := make([]NodeEntry, 0, len(b.nodes))
	for h, data := range b.nodes {
		out = append(out, NodeEntry{Hash: []byte(h), Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Hash, out[j].Hash) < 0 })
	return out
}

// Values 按 KeyHash 排序输出
func (b *NodeBatch) Values() []*ValueChange {
	out := make([]*ValueChange, 0, len(b.values))
	for _, v := range b.values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].KeyHash, out[j].KeyHash) < 0 })
	return out
}
