package optimistic

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"rollupstate/state"
)

// Attestation { 1: InitialStateRoot, 2: DABlockHash, 3: PostStateRoot, 4: StorageProof }
// StateTransition { 1: Initial, 2: Final, 3: SlotHash, 4: RewardedAddress, 5: ValidityCondition }
// ChallengeContents { 1: ChallengerAddress, 2: StateTransition }

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Marshal 编码
func (a *Attestation) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, a.InitialStateRoot[:])
	b = appendBytesField(b, 2, a.DABlockHash[:])
	b = appendBytesField(b, 3, a.PostStateRoot[:])
	b = appendBytesField(b, 4, a.ProofOfBond.Marshal())
	return b
}

// UnmarshalAttestation 严格解码，所有字段必填
func UnmarshalAttestation(data []byte) (*Attestation, error) {
	var a Attestation
	err := walkBytesFields(data, 4, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			return copyRoot(&a.InitialStateRoot, payload)
		case 2:
			return copyRoot(&a.DABlockHash, payload)
		case 3:
			return copyRoot(&a.PostStateRoot, payload)
		default:
			p, err := state.UnmarshalStorageProof(payload)
			if err != nil {
				return err
			}
			a.ProofOfBond = *p
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Marshal 编码
func (st *StateTransition) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, st.InitialStateRoot[:])
	b = appendBytesField(b, 2, st.FinalStateRoot[:])
	b = appendBytesField(b, 3, st.SlotHash[:])
	b = appendBytesField(b, 4, st.RewardedAddress)
	b = appendBytesField(b, 5, st.ValidityCondition)
	return b
}

// UnmarshalStateTransition 严格解码
func UnmarshalStateTransition(data []byte) (*StateTransition, error) {
	var st StateTransition
	err := walkBytesFields(data, 5, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			return copyRoot(&st.InitialStateRoot, payload)
		case 2:
			return copyRoot(&st.FinalStateRoot, payload)
		case 3:
			return copyRoot(&st.SlotHash, payload)
		case 4:
			st.RewardedAddress = append([]byte{}, payload...)
		case 5:
			st.ValidityCondition = append([]byte{}, payload...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Marshal 编码
func (c *ChallengeContents) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, c.ChallengerAddress)
	b = appendBytesField(b, 2, c.StateTransition.Marshal())
	return b
}

// UnmarshalChallengeContents 严格解码
func UnmarshalChallengeContents(data []byte) (*ChallengeContents, error) {
	var c ChallengeContents
	err := walkBytesFields(data, 2, func(num protowire.Number, payload []byte) error {
		if num == 1 {
			c.ChallengerAddress = append([]byte{}, payload...)
			return nil
		}
		st, err := UnmarshalStateTransition(payload)
		if err != nil {
			return err
		}
		c.StateTransition = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func copyRoot(dst *[RootSize]byte, payload []byte) error {
	if len(payload) != RootSize {
		return fmt.Errorf("%w: root is %d bytes", ErrMalformedAttestation, len(payload))
	}
	copy(dst[:], payload)
	return nil
}

// walkBytesFields 只接受 1..maxField 的 bytes 字段，每个字段必须恰好出现一次
func walkBytesFields(data []byte, maxField protowire.Number, fn func(protowire.Number, []byte) error) error {
	seen := make([]bool, maxField+1)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedAttestation, protowire.ParseError(n))
		}
		if num < 1 || num > maxField || typ != protowire.BytesType || seen[num] {
			return fmt.Errorf("%w: bad or duplicate field %d", ErrMalformedAttestation, num)
		}
		seen[num] = true
		data = data[n:]
		payload, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedAttestation, protowire.ParseError(m))
		}
		data = data[m:]
		if err := fn(num, payload); err != nil {
			return err
		}
	}
	for num := protowire.Number(1); num <= maxField; num++ {
		if !seen[num] {
			return fmt.Errorf("%w: missing field %d", ErrMalformedAttestation, num)
		}
	}
	return nil
}
