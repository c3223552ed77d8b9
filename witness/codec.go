package witness

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedWitness 见证编码损坏
var ErrMalformedWitness = errors.New("malformed witness")

// Witness { 1: Hint (bytes, repeated) }
// Hint    { 1: Kind (varint), 2: Data (bytes), 3: Present (varint) }

// Marshal 编码全部提示，不含消费进度
func (w *Witness) Marshal() []byte {
	var b []byte
	for _, h := range w.Hints() {
		var hb []byte
		hb = protowire.AppendTag(hb, 1, protowire.VarintType)
		hb = protowire.AppendVarint(hb, uint64(h.Kind))
		hb = protowire.AppendTag(hb, 2, protowire.BytesType)
		hb = protowire.AppendBytes(hb, h.Data)
		hb = protowire.AppendTag(hb, 3, protowire.VarintType)
		hb = protowire.AppendVarint(hb, protowire.EncodeBool(h.Present))
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, hb)
	}
	return b
}

// Unmarshal 解码见证，游标从头开始
func Unmarshal(data []byte) (*Witness, error) {
	w := New()
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWitness, protowire.ParseError(n))
		}
		if num != 1 || typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: unexpected field %d", ErrMalformedWitness, num)
		}
		data = data[n:]
		payload, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWitness, protowire.ParseError(m))
		}
		data = data[m:]
		h, err := unmarshalHint(payload)
		if err != nil {
			return nil, err
		}
		w.hints = append(w.hints, h)
	}
	return w, nil
}

func unmarshalHint(data []byte) (Hint, error) {
	var (
		h    Hint
		seen [4]bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Hint{}, fmt.Errorf("%w: %v", ErrMalformedWitness, protowire.ParseError(n))
		}
		data = data[n:]
		if num < 1 || num > 3 || seen[num] {
			return Hint{}, fmt.Errorf("%w: bad or duplicate hint field %d", ErrMalformedWitness, num)
		}
		seen[num] = true

		switch {
		case num == 2 && typ == protowire.BytesType:
			payload, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Hint{}, fmt.Errorf("%w: %v", ErrMalformedWitness, protowire.ParseError(m))
			}
			h.Data = append([]byte{}, payload...)
			data = data[m:]
		case num != 2 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Hint{}, fmt.Errorf("%w: %v", ErrMalformedWitness, protowire.ParseError(m))
			}
			data = data[m:]
			if num == 1 {
				if v < uint64(HintValue) || v > uint64(HintProof) {
					return Hint{}, fmt.Errorf("%w: unknown hint kind %d", ErrMalformedWitness, v)
				}
				h.Kind = HintKind(v)
			} else {
				if v > 1 {
					return Hint{}, fmt.Errorf("%w: bad present flag", ErrMalformedWitness)
				}
				h.Present = protowire.DecodeBool(v)
			}
		default:
			return Hint{}, fmt.Errorf("%w: wrong wire type for field %d", ErrMalformedWitness, num)
		}
	}
	if !seen[1] || !seen[2] || !seen[3] {
		return Hint{}, fmt.Errorf("%w: incomplete hint", ErrMalformedWitness)
	}
	if !h.Present && len(h.Data) > 0 {
		return Hint{}, fmt.Errorf("%w: absent value carries data", ErrMalformedWitness)
	}
	return h, nil
}
