package snapshot

import "sync"

// ============================================
// 读写能力对象
// ============================================
//
// RWLock 由状态的所有者持有，可读可写；
// ReadOnlyLock 只暴露 Read，交给存储引擎等只读方。
// 二者共享同一把锁，复制 ReadOnlyLock 不会复制状态。

// RWLock 所有者侧的读写锁
type RWLock[T any] struct {
	mu *sync.RWMutex
	v  T
}

// NewRWLock 用 v 创建读写锁
func NewRWLock[T any](v T) *RWLock[T] {
	return &RWLock[T]{mu: &sync.RWMutex{}, v: v}
}

// Read 持读锁执行 fn，可与其他 Read 并发
func (l *RWLock[T]) Read(fn func(T)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.v)
}

// Write 持写锁执行 fn，与所有读写互斥
func (l *RWLock[T]) Write(fn func(T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.v)
}

// ReadOnly 派生只读能力
func (l *RWLock[T]) ReadOnly() ReadOnlyLock[T] {
	return ReadOnlyLock[T]{mu: l.mu, v: l.v}
}

// ReadOnlyLock 只读能力，值类型，可自由复制
type ReadOnlyLock[T any] struct {
	mu *sync.RWMutex
	v  T
}

// Read 持读锁执行 fn；零值没有锁，直接执行
func (r ReadOnlyLock[T]) Read(fn func(T)) {
	if r.mu == nil {
		fn(r.v)
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.v)
}

// Narrow 把只读能力收窄为 v 的另一视图（通常是接口），锁保持共享
func Narrow[T, R any](r ReadOnlyLock[T], view func(T) R) ReadOnlyLock[R] {
	return ReadOnlyLock[R]{mu: r.mu, v: view(r.v)}
}

// ResolverOf 从 Manager 的所有者锁派生存储引擎使用的只读解析器
func ResolverOf(l *RWLock[*Manager]) ReadOnlyLock[SnapshotLayerResolver] {
	return Narrow(l.ReadOnly(), func(m *Manager) SnapshotLayerResolver { return m })
}

// NoLayers 没有任何在途快照的解析器，所有读取落到持久存储
func NoLayers() ReadOnlyLock[SnapshotLayerResolver] {
	return ReadOnlyLock[SnapshotLayerResolver]{v: emptyResolver{}}
}

type emptyResolver struct{}

func (emptyResolver) FetchValue(SnapshotId, []byte) ([]byte, bool)          { return nil, false }
func (emptyResolver) FetchAccessoryValue(SnapshotId, []byte) ([]byte, bool) { return nil, false }
