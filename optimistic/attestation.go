// Package optimistic 乐观 rollup 的证明与挑战数据结构
package optimistic

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	jmt "rollupstate/jmt"
	"rollupstate/state"
)

var (
	// ErrInvalidBond 担保证明不成立
	ErrInvalidBond = errors.New("invalid proof of bond")
	// ErrMalformedAttestation 编码无法解析
	ErrMalformedAttestation = errors.New("malformed attestation")
)

// RootSize 状态根和区块哈希的固定长度
const RootSize = 32

// Attestation 声明某个 DA 区块把状态从 InitialStateRoot 转换到 PostStateRoot
type Attestation struct {
	InitialStateRoot [RootSize]byte
	DABlockHash      [RootSize]byte
	PostStateRoot    [RootSize]byte
	// 证明者在 InitialStateRoot 下已缴纳担保
	ProofOfBond state.StorageProof
}

// StateTransition 被证明的状态转换
type StateTransition struct {
	InitialStateRoot  [RootSize]byte
	FinalStateRoot    [RootSize]byte
	SlotHash          [RootSize]byte
	RewardedAddress   []byte
	ValidityCondition []byte
}

// ChallengeContents 挑战的公开输出
type ChallengeContents struct {
	ChallengerAddress []byte
	StateTransition   StateTransition
}

// Contradicts 挑战是否与证明冲突：同一起点、同一区块，但结果不同
func (c *ChallengeContents) Contradicts(a *Attestation) bool {
	st := &c.StateTransition
	return st.InitialStateRoot == a.InitialStateRoot &&
		st.SlotHash == a.DABlockHash &&
		st.FinalStateRoot != a.PostStateRoot
}

// VerifyProofOfBond 针对 InitialStateRoot 打开担保证明，返回担保值
func VerifyProofOfBond(a *Attestation, bondKey state.StorageKey, hasher jmt.MerkleHasher) (*state.StorageValue, error) {
	if hasher.Size() != RootSize {
		return nil, fmt.Errorf("%w: hasher digest is %d bytes", ErrInvalidBond, hasher.Size())
	}
	key, value, err := state.OpenProof(a.InitialStateRoot[:], &a.ProofOfBond, hasher)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBond, err)
	}
	if !bytes.Equal(key.Bytes(), bondKey.Bytes()) {
		return nil, fmt.Errorf("%w: proof is for key %s, expected %s", ErrInvalidBond, key, bondKey)
	}
	if value == nil || len(value.Bytes()) == 0 {
		return nil, fmt.Errorf("%w: attester %s is not bonded", ErrInvalidBond, bondKey)
	}
	return value, nil
}
