package stats

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Op 被计时的存储操作
type Op string

const (
	OpGet          Op = "get"
	OpGetAccessory Op = "get_accessory"
	OpCompute      Op = "compute_state_update"
	OpCommit       Op = "commit"
	OpProve        Op = "get_with_proof"
)

// Summary 单个操作的耗时分位
type Summary struct {
	Count uint64        `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d mean=%s p50=%s p99=%s max=%s", s.Count, s.Mean, s.P50, s.P99, s.Max)
}

// window 最近 N 次样本的环形缓冲
type window struct {
	samples []time.Duration
	next    int
	full    bool
	count   uint64
	total   time.Duration
	max     time.Duration
}

func (w *window) add(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
	w.count++
	w.total += d
	if d > w.max {
		w.max = d
	}
}

func (w *window) summary() Summary {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	s := Summary{Count: w.count, Max: w.max}
	if w.count > 0 {
		s.Mean = w.total / time.Duration(w.count)
	}
	if n == 0 {
		return s
	}
	sorted := slices.Clone(w.samples[:n])
	slices.Sort(sorted)
	s.P50 = sorted[(n-1)*50/100]
	s.P99 = sorted[(n-1)*99/100]
	return s
}

// Recorder 按操作记录耗时；nil Recorder 的所有方法都是空操作
type Recorder struct {
	mu   sync.Mutex
	size int
	byOp map[Op]*window
}

// DefaultWindow 每个操作保留的样本数
const DefaultWindow = 2048

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Recorder{size: size, byOp: make(map[Op]*window)}
}

// Observe 记录从 start 到现在的耗时，配合 defer r.Observe(op, time.Now()) 使用
func (r *Recorder) Observe(op Op, start time.Time) {
	r.Record(op, time.Since(start))
}

func (r *Recorder) Record(op Op, d time.Duration) {
	if r == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.byOp[op]
	if !ok {
		w = &window{samples: make([]time.Duration, r.size)}
		r.byOp[op] = w
	}
	w.add(d)
}

// Summary 单个操作；没有样本时返回零值
func (r *Recorder) Summary(op Op) Summary {
	if r == nil {
		return Summary{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.byOp[op]; ok {
		return w.summary()
	}
	return Summary{}
}

// Snapshot 所有操作的统计；reset 为 true 时清空，用于区间监控
func (r *Recorder) Snapshot(reset bool) map[Op]Summary {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Op]Summary, len(r.byOp))
	for op, w := range r.byOp {
		out[op] = w.summary()
	}
	if reset {
		r.byOp = make(map[Op]*window)
	}
	return out
}
