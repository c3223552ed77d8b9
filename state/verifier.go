package state

import (
	"bytes"
	"fmt"

	jmt "rollupstate/jmt"
	"rollupstate/witness"
)

// ============================================
// VerifierStorage 仅验证模式
// ============================================

// VerifierStorage 只依赖见证重放读取与状态转换，不访问任何存储
type VerifierStorage struct {
	hasher jmt.MerkleHasher
	// trusted 非 nil 时，见证中的旧根必须与之相等；每次成功重放后更新为新根
	trusted []byte
}

var _ Storage = (*VerifierStorage)(nil)

// NewVerifierStorage 创建验证方存储；trustedRoot 可为 nil
func NewVerifierStorage(hasher jmt.MerkleHasher, trustedRoot []byte) *VerifierStorage {
	v := &VerifierStorage{hasher: hasher}
	if trustedRoot != nil {
		v.trusted = append([]byte{}, trustedRoot...)
	}
	return v
}

// TrustedRoot 当前信任的根
func (v *VerifierStorage) TrustedRoot() []byte { return v.trusted }

// Get 消费一条读取提示
func (v *VerifierStorage) Get(_ StorageKey, w *witness.Witness) (*StorageValue, error) {
	data, present, err := w.NextValue()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return sharedValue(data), nil
}

// ComputeStateUpdate 消费旧根、更新证明、新根，并按写入顺序重放验证。
// 不产生 PendingStateUpdate
func (v *VerifierStorage) ComputeStateUpdate(accesses OrderedReadsAndWrites, w *witness.Witness) ([]byte, *PendingStateUpdate, error) {
	prevRoot, err := w.NextRoot()
	if err != nil {
		return nil, nil, err
	}
	if v.trusted != nil && !bytes.Equal(prevRoot, v.trusted) {
		return nil, nil, fmt.Errorf("%w: witness starts from %x, trusted root is %x", ErrRootMismatch, prevRoot, v.trusted)
	}
	proof, err := w.NextProof()
	if err != nil {
		return nil, nil, err
	}
	newRoot, err := w.NextRoot()
	if err != nil {
		return nil, nil, err
	}

	writes := toKeyHashWrites(v.hasher, accesses.OrderedWrites)
	if err := proof.VerifyUpdate(v.hasher, prevRoot, newRoot, writes); err != nil {
		return nil, nil, err
	}
	v.trusted = append([]byte{}, newRoot...)
	return newRoot, nil, nil
}

// GetAccessory 旁路数据不进入见证
func (v *VerifierStorage) GetAccessory(StorageKey) (*StorageValue, error) {
	return nil, fmt.Errorf("%w: GetAccessory", ErrUnsupportedOperation)
}

// Commit 验证方从不落盘
func (v *VerifierStorage) Commit(*PendingStateUpdate, []KeyValue) error {
	return fmt.Errorf("%w: Commit", ErrUnsupportedOperation)
}

// GetWithProof 验证方没有树
func (v *VerifierStorage) GetWithProof(StorageKey) (*StorageProof, error) {
	return nil, fmt.Errorf("%w: GetWithProof", ErrUnsupportedOperation)
}

// IsEmpty 验证方不知道持久版本
func (v *VerifierStorage) IsEmpty() (bool, error) {
	return false, fmt.Errorf("%w: IsEmpty", ErrUnsupportedOperation)
}

// OpenProof 纯函数，验证方同样可用
func (v *VerifierStorage) OpenProof(root []byte, proof *StorageProof) (StorageKey, *StorageValue, error) {
	return OpenProof(root, proof, v.hasher)
}
