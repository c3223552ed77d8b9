package smt

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ============================================
// Proof 编码 (protobuf wire 格式，手写字段)
// ============================================
//
// SparseMerkleProof { 1: Leaf (bytes, optional), 2: SiblingInfo (bytes, repeated) }
// Leaf              { 1: KeyHash (bytes), 2: ValueHash (bytes) }
// SiblingInfo       { 1: Bitmap (varint), 2: Sibling (bytes, repeated), 3: SoleSibling (bytes, optional) }
// UpdateMerkleProof { 1: SparseMerkleProof (bytes, repeated) }
//
// 解码是严格的：未知字段、重复的单值字段、错误的 wire type 都会被拒绝，
// 保证任意单比特篡改要么解码失败，要么改变证明内容。

// Marshal 编码 SparseMerkleProof
func (p *SparseMerkleProof) Marshal() []byte {
	var b []byte
	if p.Leaf != nil {
		var leaf []byte
		leaf = protowire.AppendTag(leaf, 1, protowire.BytesType)
		leaf = protowire.AppendBytes(leaf, p.Leaf.KeyHash)
		leaf = protowire.AppendTag(leaf, 2, protowire.BytesType)
		leaf = protowire.AppendBytes(leaf, p.Leaf.ValueHash)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, leaf)
	}
	for _, info := range p.Siblings {
		var sib []byte
		sib = protowire.AppendTag(sib, 1, protowire.VarintType)
		sib = protowire.AppendVarint(sib, uint64(info.Bitmap))
		for _, h := range info.Siblings {
			sib = protowire.AppendTag(sib, 2, protowire.BytesType)
			sib = protowire.AppendBytes(sib, h)
		}
		if info.SoleSibling != nil {
			sib = protowire.AppendTag(sib, 3, protowire.BytesType)
			sib = protowire.AppendBytes(sib, info.SoleSibling)
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, sib)
	}
	return b
}

// UnmarshalSparseMerkleProof 解码 SparseMerkleProof
func UnmarshalSparseMerkleProof(data []byte) (*SparseMerkleProof, error) {
	proof := &SparseMerkleProof{}
	err := walkFields(data, func(num protowire.Number, payload []byte, _ uint64) error {
		switch num {
		case 1:
			if proof.Leaf != nil {
				return fmt.Errorf("%w: duplicate leaf", ErrMalformedProof)
			}
			leaf, err := unmarshalLeaf(payload)
			if err != nil {
				return err
			}
			proof.Leaf = leaf
		case 2:
			info, err := unmarshalSiblingInfo(payload)
			if err != nil {
				return err
			}
			proof.Siblings = append(proof.Siblings, info)
		default:
			return fmt.Errorf("%w: unknown proof field %d", ErrMalformedProof, num)
		}
		return nil
	}, bytesField(1), bytesField(2))
	if err != nil {
		return nil, err
	}
	return proof, nil
}

func unmarshalLeaf(data []byte) (*LeafNode, error) {
	leaf := &LeafNode{}
	err := walkFields(data, func(num protowire.Number, payload []byte, _ uint64) error {
		switch num {
		case 1:
			if leaf.KeyHash != nil {
				return fmt.Errorf("%w: duplicate leaf key hash", ErrMalformedProof)
			}
			leaf.KeyHash = append([]byte{}, payload...)
		case 2:
			if leaf.ValueHash != nil {
				return fmt.Errorf("%w: duplicate leaf value hash", ErrMalformedProof)
			}
			leaf.ValueHash = append([]byte{}, payload...)
		}
		return nil
	}, bytesField(1), bytesField(2))
	if err != nil {
		return nil, err
	}
	if leaf.KeyHash == nil || leaf.ValueHash == nil {
		return nil, fmt.Errorf("%w: incomplete leaf", ErrMalformedProof)
	}
	return leaf, nil
}

func unmarshalSiblingInfo(data []byte) (*SiblingInfo, error) {
	info := &SiblingInfo{}
	seenBitmap := false
	err := walkFields(data, func(num protowire.Number, payload []byte, v uint64) error {
		switch num {
		case 1:
			if seenBitmap {
				return fmt.Errorf("%w: duplicate bitmap", ErrMalformedProof)
			}
			if v > 0xFFFF {
				return fmt.Errorf("%w: bitmap overflow", ErrMalformedProof)
			}
			info.Bitmap = uint16(v)
			seenBitmap = true
		case 2:
			info.Siblings = append(info.Siblings, append([]byte{}, payload...))
		case 3:
			if info.SoleSibling != nil {
				return fmt.Errorf("%w: duplicate sole sibling", ErrMalformedProof)
			}
			info.SoleSibling = append([]byte{}, payload...)
		}
		return nil
	}, varintField(1), bytesField(2), bytesField(3))
	if err != nil {
		return nil, err
	}
	if !seenBitmap {
		return nil, fmt.Errorf("%w: missing bitmap", ErrMalformedProof)
	}
	return info, nil
}

// Marshal 编码 UpdateMerkleProof
func (u *UpdateMerkleProof) Marshal() []byte {
	var b []byte
	for _, p := range u.Proofs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Marshal())
	}
	return b
}

// UnmarshalUpdateMerkleProof 解码 UpdateMerkleProof
func UnmarshalUpdateMerkleProof(data []byte) (*UpdateMerkleProof, error) {
	u := &UpdateMerkleProof{}
	err := walkFields(data, func(_ protowire.Number, payload []byte, _ uint64) error {
		p, err := UnmarshalSparseMerkleProof(payload)
		if err != nil {
			return err
		}
		u.Proofs = append(u.Proofs, p)
		return nil
	}, bytesField(1))
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ============================================
// 字段遍历
// ============================================

type fieldSpec struct {
	num protowire.Number
	typ protowire.Type
}

func bytesField(num protowire.Number) fieldSpec  { return fieldSpec{num, protowire.BytesType} }
func varintField(num protowire.Number) fieldSpec { return fieldSpec{num, protowire.VarintType} }

// walkFields 依次回调每个字段；只接受 allowed 中声明的 (字段号, wire type)
func walkFields(data []byte, fn func(num protowire.Number, payload []byte, varint uint64) error, allowed ...fieldSpec) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedProof, protowire.ParseError(n))
		}
		data = data[n:]

		ok := false
		for _, spec := range allowed {
			if spec.num == num && spec.typ == typ {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: unexpected field %d (wire type %d)", ErrMalformedProof, num, typ)
		}

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedProof, protowire.ParseError(m))
			}
			data = data[m:]
			if err := fn(num, nil, v); err != nil {
				return err
			}
		case protowire.BytesType:
			payload, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedProof, protowire.ParseError(m))
			}
			data = data[m:]
			if err := fn(num, payload, 0); err != nil {
				return err
			}
		}
	}
	return nil
}
