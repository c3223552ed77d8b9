package state

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	jmt "rollupstate/jmt"
)

// StorageProof key、可选值以及针对某个根的存在/不存在证明
type StorageProof struct {
	Key   StorageKey
	Value *StorageValue
	Proof *jmt.SparseMerkleProof
}

// OpenProof 验证证明；失败时返回包装了 ErrInvalidProof 的错误
func OpenProof(root []byte, proof *StorageProof, hasher jmt.MerkleHasher) (StorageKey, *StorageValue, error) {
	if proof == nil || proof.Proof == nil {
		return StorageKey{}, nil, fmt.Errorf("%w: empty proof", ErrInvalidProof)
	}
	// 空值以非 nil 的空切片传入，区分于不存在
	if err := proof.Proof.Verify(hasher, root, proof.Key.Hash(hasher), proof.Value.Bytes()); err != nil {
		return StorageKey{}, nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	return proof.Key, proof.Value, nil
}

// StorageProof { 1: Key (bytes), 2: Value (bytes, 缺省表示不存在), 3: SparseMerkleProof (bytes) }

// Marshal 编码；Proof 为 nil 时省略字段 3
func (p *StorageProof) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(p.Key.key))
	if p.Value != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Value.value)
	}
	// 缺失的证明不编码，解码端会按缺字段拒绝
	if p.Proof != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Proof.Marshal())
	}
	return b
}

// UnmarshalStorageProof 严格解码
func UnmarshalStorageProof(data []byte) (*StorageProof, error) {
	var (
		p    StorageProof
		seen [4]bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProof, protowire.ParseError(n))
		}
		if num < 1 || num > 3 || typ != protowire.BytesType || seen[num] {
			return nil, fmt.Errorf("%w: bad or duplicate field %d", ErrInvalidProof, num)
		}
		seen[num] = true
		data = data[n:]
		payload, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProof, protowire.ParseError(m))
		}
		data = data[m:]

		switch num {
		case 1:
			p.Key = NewStorageKey(payload)
		case 2:
			p.Value = NewStorageValue(payload)
		case 3:
			inner, err := jmt.UnmarshalSparseMerkleProof(payload)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
			}
			p.Proof = inner
		}
	}
	if !seen[1] || !seen[3] {
		return nil, fmt.Errorf("%w: missing key or proof", ErrInvalidProof)
	}
	return &p, nil
}
