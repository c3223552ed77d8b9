package smt

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"
)

// ============================================
// Nibble 操作函数测试
// ============================================

func TestGetNibbleAt(t *testing.T) {
	// 32 字节 key hash 的首尾字节，外加 0x00 / 0xFF 边界
	keyHash := make([]byte, 32)
	keyHash[0] = 0x7E
	keyHash[1] = 0xFF
	keyHash[31] = 0x09

	cases := []struct {
		name     string
		position int
		want     byte
	}{
		{"first high", 0, 0x7},
		{"first low", 1, 0xE},
		{"all ones high", 2, 0xF},
		{"all ones low", 3, 0xF},
		{"zero byte", 4, 0x0},
		{"last high", 62, 0x0},
		{"last nibble", 63, 0x9},
	}
	for _, tc := range cases {
		if got := getNibbleAt(keyHash, tc.position); got != tc.want {
			t.Errorf("%s: getNibbleAt(%d) = 0x%X, want 0x%X", tc.name, tc.position, got, tc.want)
		}
	}

	// 路径上的 nibble 重新拼接后还原原始字节
	rebuilt := make([]byte, len(keyHash))
	for i := 0; i < len(keyHash)*2; i++ {
		rebuilt[i/2] = rebuilt[i/2]<<4 | getNibbleAt(keyHash, i)
	}
	if !bytes.Equal(rebuilt, keyHash) {
		t.Errorf("nibbles do not reassemble into the key hash: %x", rebuilt)
	}
}

func TestCountCommonNibblePrefix(t *testing.T) {
	tests := []struct {
		path1    []byte
		path2    []byte
		expected int
	}{
		{[]byte{0xAB, 0xCD}, []byte{0xAB, 0xCD}, 4},
		{[]byte{0xAB, 0xCD}, []byte{0xAB, 0xCE}, 3},
		{[]byte{0xAB, 0xCD}, []byte{0xAC, 0xCD}, 1},
		{[]byte{0xAB, 0xCD}, []byte{0xBB, 0xCD}, 0},
		{[]byte{0x12, 0x34}, []byte{0x12}, 2}, // 以较短路径为准
	}

	for i, tt := range tests {
		got := countCommonNibblePrefix(tt.path1, tt.path2)
		if got != tt.expected {
			t.Errorf("Test %d: countCommonNibblePrefix() = %d, want %d", i, got, tt.expected)
		}
	}
}

// ============================================
// 节点类型测试
// ============================================

func TestInternalNode_SetGetChild(t *testing.T) {
	node := &InternalNode{}

	hash1 := make([]byte, 32)
	hash1[0] = 0x01
	hash2 := make([]byte, 32)
	hash2[0] = 0x02

	node.SetChild(5, hash1)
	if node.ChildCount() != 1 {
		t.Errorf("ChildCount should be 1, got %d", node.ChildCount())
	}
	if got := node.GetChild(5); !bytes.Equal(got, hash1) {
		t.Errorf("GetChild(5) = %x, want %x", got, hash1)
	}
	if got := node.GetChild(3); got != nil {
		t.Errorf("GetChild(3) should be nil, got %x", got)
	}

	// 插入到已有子节点之前，Children 顺序要跟随 bitmap
	node.SetChild(3, hash2)
	if node.ChildCount() != 2 {
		t.Errorf("ChildCount should be 2, got %d", node.ChildCount())
	}
	if !bytes.Equal(node.Children[0], hash2) || !bytes.Equal(node.Children[1], hash1) {
		t.Errorf("children out of nibble order")
	}

	// 覆盖
	node.SetChild(5, hash2)
	if node.ChildCount() != 2 || !bytes.Equal(node.GetChild(5), hash2) {
		t.Errorf("SetChild should overwrite existing child")
	}
}

func TestInternalNode_Serialization(t *testing.T) {
	hashSize := 32
	node := &InternalNode{}

	hash1 := make([]byte, hashSize)
	hash1[0] = 0x01
	hash2 := make([]byte, hashSize)
	hash2[0] = 0x02

	node.SetChild(3, hash1)
	node.SetChild(10, hash2)

	encoded := EncodeInternalNode(node, hashSize)
	decoded, err := DecodeInternalNode(encoded, hashSize)
	if err != nil {
		t.Fatalf("DecodeInternalNode failed: %v", err)
	}

	if decoded.ChildBitmap != node.ChildBitmap {
		t.Errorf("Bitmap mismatch: %016b vs %016b", decoded.ChildBitmap, node.ChildBitmap)
	}
	if !bytes.Equal(decoded.GetChild(3), hash1) || !bytes.Equal(decoded.GetChild(10), hash2) {
		t.Errorf("children mismatch after decode")
	}

	// 长度必须精确
	if _, err := DecodeInternalNode(encoded[:len(encoded)-1], hashSize); !errors.Is(err, ErrCorruptedNode) {
		t.Errorf("truncated node should fail with ErrCorruptedNode, got %v", err)
	}
	if _, err := DecodeInternalNode(append(encoded, 0), hashSize); !errors.Is(err, ErrCorruptedNode) {
		t.Errorf("padded node should fail with ErrCorruptedNode, got %v", err)
	}
}

func TestLeafNode_Serialization(t *testing.T) {
	hashSize := sha256.Size

	keyHash := make([]byte, hashSize)
	valueHash := make([]byte, hashSize)
	keyHash[0] = 0xAB
	valueHash[0] = 0xCD

	encoded := EncodeLeafNode(&LeafNode{KeyHash: keyHash, ValueHash: valueHash})
	decoded, err := DecodeLeafNode(encoded, hashSize)
	if err != nil {
		t.Fatalf("DecodeLeafNode failed: %v", err)
	}
	if !bytes.Equal(decoded.KeyHash, keyHash) || !bytes.Equal(decoded.ValueHash, valueHash) {
		t.Errorf("leaf mismatch after decode")
	}

	if _, err := DecodeLeafNode(encoded[1:], hashSize); err == nil {
		t.Errorf("leaf without type byte should fail")
	}
}

func TestGetNodeType(t *testing.T) {
	if GetNodeType([]byte{byte(NodeTypeInternal), 0, 0}) != NodeTypeInternal {
		t.Errorf("Should detect internal node")
	}
	if GetNodeType([]byte{byte(NodeTypeLeaf)}) != NodeTypeLeaf {
		t.Errorf("Should detect leaf node")
	}
	if GetNodeType(nil) != NodeTypeNull {
		t.Errorf("Should detect null node")
	}
	if !IsLeafNodeData([]byte{byte(NodeTypeLeaf)}) {
		t.Errorf("IsLeafNodeData should return true")
	}
}

// ============================================
// 哈希器测试
// ============================================

func TestHasherByName(t *testing.T) {
	for _, name := range []string{"", "sha256", "SHA3", "keccak256"} {
		h, err := HasherByName(name)
		if err != nil {
			t.Fatalf("HasherByName(%q) failed: %v", name, err)
		}
		if h.Size() != 32 {
			t.Errorf("HasherByName(%q) size = %d, want 32", name, h.Size())
		}
	}
	if _, err := HasherByName("md5"); err == nil {
		t.Errorf("unknown hasher should fail")
	}

	data := []byte("hello")
	if bytes.Equal(NewSHA3Hasher().Hash(data), NewKeccakHasher().Hash(data)) {
		t.Errorf("sha3 and keccak must differ")
	}
	want := sha256.Sum256(data)
	if !bytes.Equal(NewSHA256Hasher().Hash(data), want[:]) {
		t.Errorf("sha256 hasher mismatch")
	}
}

func TestJMTHasher_RestoreNodeRejectsBadSiblings(t *testing.T) {
	jh := NewJMTHasher(NewSHA256Hasher())
	sib := jh.Digest([]byte("x"))

	// bitmap 覆盖路径 nibble
	if _, err := jh.restoreNode(&SiblingInfo{Bitmap: 1 << 4, Siblings: [][]byte{sib}}, 4); !errors.Is(err, ErrMalformedProof) {
		t.Errorf("expected ErrMalformedProof, got %v", err)
	}
	// 数量不符
	if _, err := jh.restoreNode(&SiblingInfo{Bitmap: 1<<1 | 1<<2, Siblings: [][]byte{sib}}, 4); !errors.Is(err, ErrMalformedProof) {
		t.Errorf("expected ErrMalformedProof, got %v", err)
	}
	// placeholder 不能作为兄弟
	if _, err := jh.restoreNode(&SiblingInfo{Bitmap: 1 << 1, Siblings: [][]byte{jh.Placeholder()}}, 4); !errors.Is(err, ErrMalformedProof) {
		t.Errorf("expected ErrMalformedProof, got %v", err)
	}
}
