package state

import (
	jmt "rollupstate/jmt"
	"rollupstate/kvstore"
	"rollupstate/snapshot"
)

// PendingStateUpdate 一次 ComputeStateUpdate 的产物，尚未落盘。
// 生成后不可变，由调用方提交或丢弃。
type PendingStateUpdate struct {
	snapshotID  snapshot.SnapshotId
	baseVersion kvstore.Version
	version     kvstore.Version
	prevRoot    []byte
	root        []byte
	hasher      jmt.MerkleHasher
	batch       *jmt.NodeBatch
}

// SnapshotID 产生该更新的快照
func (u *PendingStateUpdate) SnapshotID() snapshot.SnapshotId { return u.snapshotID }

// BaseVersion 更新所基于的持久版本
func (u *PendingStateUpdate) BaseVersion() kvstore.Version { return u.baseVersion }

// Version 提交后产生的版本
func (u *PendingStateUpdate) Version() kvstore.Version { return u.version }

// PrevRoot 基础版本的根
func (u *PendingStateUpdate) PrevRoot() []byte { return u.prevRoot }

// Root 新根
func (u *PendingStateUpdate) Root() []byte { return u.root }

// NodeBatch 新节点与新值
func (u *PendingStateUpdate) NodeBatch() *jmt.NodeBatch { return u.batch }

// GetValue 本次更新在 Version() 写入的值。
// written=false 表示本次没有写这个 key；written && value==nil 表示删除
func (u *PendingStateUpdate) GetValue(key StorageKey) (value *StorageValue, written bool) {
	change, ok := u.batch.GetValue(key.Hash(u.hasher))
	if !ok {
		return nil, false
	}
	if change.Value == nil {
		return nil, true
	}
	return sharedValue(change.Value), true
}

// Changes 按 KeyHash 排序的写入，用于登记快照层
func (u *PendingStateUpdate) Changes() []snapshot.Change {
	values := u.batch.Values()
	out := make([]snapshot.Change, len(values))
	for i, v := range values {
		out[i] = snapshot.Change{Key: v.Key, Value: v.Value}
	}
	return out
}

// Entries 确定顺序的持久化条目：节点、值、原像、根
func (u *PendingStateUpdate) Entries() []kvstore.Entry {
	nodes := u.batch.Nodes()
	values := u.batch.Values()
	entries := make([]kvstore.Entry, 0, len(nodes)+2*len(values)+1)

	for _, n := range nodes {
		entries = append(entries, kvstore.Entry{Key: nodeKey(n.Hash), Value: n.Data})
	}
	for _, v := range values {
		if v.Value == nil {
			entries = append(entries, kvstore.Entry{Key: valueKey(v.Key), Deleted: true})
		} else {
			entries = append(entries, kvstore.Entry{Key: valueKey(v.Key), Value: v.Value})
		}
		entries = append(entries, kvstore.Entry{Key: preimageKey(v.KeyHash), Value: v.Key})
	}
	entries = append(entries, kvstore.Entry{Key: rootKey, Value: u.root})
	return entries
}
