// witness/witness.go
// 见证 - 宿主执行时按顺序记录的提示，验证方按相同顺序消费
package witness

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	jmt "rollupstate/jmt"
)

var (
	ErrWitnessExhausted = errors.New("witness exhausted")
	ErrHintKindMismatch = errors.New("witness hint kind mismatch")
)

// HintKind 提示类型
type HintKind uint8

const (
	// HintValue 一次读取的结果（可能不存在）
	HintValue HintKind = 1
	// HintRoot 状态根
	HintRoot HintKind = 2
	// HintProof 编码后的 UpdateMerkleProof
	HintProof HintKind = 3
)

func (k HintKind) String() string {
	switch k {
	case HintValue:
		return "value"
	case HintRoot:
		return "root"
	case HintProof:
		return "proof"
	}
	return fmt.Sprintf("hint(%d)", uint8(k))
}

// Hint 单条提示
// Present 只对 HintValue 有意义：false 表示读取结果为不存在
type Hint struct {
	Kind    HintKind
	Data    []byte
	Present bool
}

// Witness 有序提示累加器
// 单生产者/单消费者，内部锁只保证切片与游标一致
type Witness struct {
	mu     sync.Mutex
	hints  []Hint
	cursor int
}

// New 创建空见证
func New() *Witness {
	return &Witness{}
}

// AddHint 追加提示
func (w *Witness) AddHint(h Hint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h.Data = append([]byte(nil), h.Data...)
	w.hints = append(w.hints, h)
}

// AddValue 记录读取结果，value 为 nil 表示不存在
func (w *Witness) AddValue(value []byte) {
	w.AddHint(Hint{Kind: HintValue, Data: value, Present: value != nil})
}

// AddRoot 记录状态根
func (w *Witness) AddRoot(root []byte) {
	w.AddHint(Hint{Kind: HintRoot, Data: root, Present: true})
}

// AddProof 记录更新证明
func (w *Witness) AddProof(proof *jmt.UpdateMerkleProof) {
	w.AddHint(Hint{Kind: HintProof, Data: proof.Marshal(), Present: true})
}

// NextHint 按 FIFO 取出下一条提示
func (w *Witness) NextHint() (Hint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor >= len(w.hints) {
		return Hint{}, ErrWitnessExhausted
	}
	h := w.hints[w.cursor]
	w.cursor++
	return h, nil
}

// next 取出指定类型的提示；类型不符时不移动游标
func (w *Witness) next(kind HintKind) (Hint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor >= len(w.hints) {
		return Hint{}, fmt.Errorf("%w: want %s", ErrWitnessExhausted, kind)
	}
	h := w.hints[w.cursor]
	if h.Kind != kind {
		return Hint{}, fmt.Errorf("%w: want %s, got %s at %d", ErrHintKindMismatch, kind, h.Kind, w.cursor)
	}
	w.cursor++
	return h, nil
}

// NextValue 取出读取结果
func (w *Witness) NextValue() ([]byte, bool, error) {
	h, err := w.next(HintValue)
	if err != nil {
		return nil, false, err
	}
	if !h.Present {
		return nil, false, nil
	}
	return h.Data, true, nil
}

// NextRoot 取出状态根
func (w *Witness) NextRoot() ([]byte, error) {
	h, err := w.next(HintRoot)
	if err != nil {
		return nil, err
	}
	return h.Data, nil
}

// NextProof 取出并解码更新证明
func (w *Witness) NextProof() (*jmt.UpdateMerkleProof, error) {
	h, err := w.next(HintProof)
	if err != nil {
		return nil, err
	}
	return jmt.UnmarshalUpdateMerkleProof(h.Data)
}

// Hints 返回全部提示的副本
func (w *Witness) Hints() []Hint {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Hint, len(w.hints))
	copy(out, w.hints)
	return out
}

// Len 提示总数
func (w *Witness) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hints)
}

// Remaining 尚未消费的提示数
func (w *Witness) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hints) - w.cursor
}

// Equal 比较两份见证的提示序列（忽略消费进度）
func (w *Witness) Equal(other *Witness) bool {
	a, b := w.Hints(), other.Hints()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Present != b[i].Present || !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}
