package state

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	jmt "rollupstate/jmt"
	"rollupstate/kvstore"
	"rollupstate/logs"
	"rollupstate/snapshot"
	"rollupstate/stats"
	"rollupstate/witness"
)

// ============================================
// ProverStorage 宿主执行使用的存储引擎
// ============================================

// nodeReader 从版本化存储按哈希读取节点；节点内容寻址，读最新版本即可
type nodeReader struct {
	db kvstore.VersionedKVStore
}

func (r nodeReader) GetNode(hash []byte) ([]byte, error) {
	data, found, err := r.db.GetLatestValueAtOrBefore(nodeKey(hash), math.MaxUint64)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, jmt.ErrNodeNotFound
	}
	return data, nil
}

type proverOptions struct {
	nodeCacheSize int
	log           logs.Logger
	latency       *stats.Recorder
}

// Option 构造参数
type Option func(*proverOptions)

// WithNodeCacheSize 树节点缓存大小，<= 0 关闭缓存
func WithNodeCacheSize(n int) Option {
	return func(o *proverOptions) { o.nodeCacheSize = n }
}

// WithLogger 注入日志器
func WithLogger(l logs.Logger) Option {
	return func(o *proverOptions) { o.log = l }
}

// WithLatency 记录各操作耗时
func WithLatency(r *stats.Recorder) Option {
	return func(o *proverOptions) { o.latency = r }
}

// ProverStorage 绑定一个快照 id 与一个只读的父层解析器。
// 每个批次创建一个：若干次 Get，一次 ComputeStateUpdate，然后交出 PendingStateUpdate
type ProverStorage struct {
	id        snapshot.SnapshotId
	db        kvstore.VersionedKVStore
	accessory kvstore.AccessoryStore
	parent    snapshot.ReadOnlyLock[snapshot.SnapshotLayerResolver]
	hasher    jmt.MerkleHasher
	tree      *jmt.JellyfishMerkleTree
	log       logs.Logger
	latency   *stats.Recorder
}

var _ Storage = (*ProverStorage)(nil)

// NewProverStorage 创建存储引擎；accessory 可为 nil（此时旁路读取只看快照层）
func NewProverStorage(
	id snapshot.SnapshotId,
	db kvstore.VersionedKVStore,
	accessory kvstore.AccessoryStore,
	parent snapshot.ReadOnlyLock[snapshot.SnapshotLayerResolver],
	hasher jmt.MerkleHasher,
	opts ...Option,
) *ProverStorage {
	o := proverOptions{nodeCacheSize: jmt.DefaultNodeCacheSize, log: logs.NewLogger("State")}
	for _, opt := range opts {
		opt(&o)
	}
	return &ProverStorage{
		id:        id,
		db:        db,
		accessory: accessory,
		parent:    parent,
		hasher:    hasher,
		tree:      jmt.NewJMT(nodeReader{db: db}, hasher, o.nodeCacheSize),
		log:       o.log,
		latency:   o.latency,
	}
}

// SnapshotID 绑定的快照
func (s *ProverStorage) SnapshotID() snapshot.SnapshotId { return s.id }

// Hasher 使用的哈希
func (s *ProverStorage) Hasher() jmt.MerkleHasher { return s.hasher }

// Get 先查快照祖先链，再查最新持久版本；结果（包括不存在）总是写入见证
func (s *ProverStorage) Get(key StorageKey, w *witness.Witness) (*StorageValue, error) {
	defer s.latency.Observe(stats.OpGet, time.Now())
	var (
		layered []byte
		found   bool
	)
	s.parent.Read(func(r snapshot.SnapshotLayerResolver) {
		layered, found = r.FetchValue(s.id, key.Bytes())
	})

	var value *StorageValue
	if found {
		if layered != nil {
			value = sharedValue(layered)
		}
	} else {
		durable, err := s.readDurable(key)
		if err != nil {
			return nil, err
		}
		value = durable
	}

	w.AddValue(value.Bytes())
	return value, nil
}

func (s *ProverStorage) readDurable(key StorageKey) (*StorageValue, error) {
	next, err := s.db.NextVersion()
	if err != nil {
		return nil, errors.Wrap(err, "read next version")
	}
	raw, ok, err := s.db.GetLatestValueAtOrBefore(valueKey(key.Bytes()), next)
	if err != nil {
		return nil, errors.Wrapf(err, "read key %s", key)
	}
	if !ok {
		return nil, nil
	}
	return sharedValue(raw), nil
}

// GetAccessory 快照层旁路值优先，其次旁路存储
func (s *ProverStorage) GetAccessory(key StorageKey) (*StorageValue, error) {
	defer s.latency.Observe(stats.OpGetAccessory, time.Now())
	var (
		layered []byte
		found   bool
	)
	s.parent.Read(func(r snapshot.SnapshotLayerResolver) {
		layered, found = r.FetchAccessoryValue(s.id, key.Bytes())
	})
	if found {
		if layered == nil {
			return nil, nil
		}
		return sharedValue(layered), nil
	}
	if s.accessory == nil {
		return nil, nil
	}
	raw, ok, err := s.accessory.GetValue(key.Bytes())
	if err != nil {
		return nil, errors.Wrapf(err, "read accessory key %s", key)
	}
	if !ok {
		return nil, nil
	}
	return sharedValue(raw), nil
}

// baseRoot 返回最新持久版本及其根；没有创世根时 panic
func (s *ProverStorage) baseRoot() (kvstore.Version, kvstore.Version, []byte, error) {
	next, err := s.db.NextVersion()
	if err != nil {
		return 0, 0, nil, errors.Wrap(err, "read next version")
	}
	if next == 0 {
		panic("state: storage has no genesis root, call InitGenesis first")
	}
	base := next - 1
	root, ok, err := s.db.GetLatestValueAtOrBefore(rootKey, base)
	if err != nil {
		return 0, 0, nil, errors.Wrapf(err, "read root at version %d", base)
	}
	if !ok {
		panic(fmt.Sprintf("state: missing root at version %d", base))
	}
	return base, next, root, nil
}

// ComputeStateUpdate 在最新持久根上按顺序应用写入。
// 见证依次记录：旧根、更新证明、新根。
func (s *ProverStorage) ComputeStateUpdate(accesses OrderedReadsAndWrites, w *witness.Witness) ([]byte, *PendingStateUpdate, error) {
	defer s.latency.Observe(stats.OpCompute, time.Now())
	base, next, prevRoot, err := s.baseRoot()
	if err != nil {
		return nil, nil, err
	}
	writes := toKeyHashWrites(s.hasher, accesses.OrderedWrites)

	w.AddRoot(prevRoot)
	newRoot, proof, batch, err := s.tree.PutValueSetWithProof(prevRoot, writes)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "apply %d writes on version %d", len(writes), base)
	}
	w.AddProof(proof)
	w.AddRoot(newRoot)

	s.log.Debug("snapshot %d: computed root %x over version %d (%d writes, %d nodes)",
		s.id, newRoot, base, len(writes), batch.NodeCount())

	return newRoot, &PendingStateUpdate{
		snapshotID:  s.id,
		baseVersion: base,
		version:     next,
		prevRoot:    prevRoot,
		root:        newRoot,
		hasher:      s.hasher,
		batch:       batch,
	}, nil
}

// Commit 把更新写入持久存储，版本前进一步；旁路写入随后落到旁路存储。
// 旁路写入失败时版本已经落盘，返回的错误包装 ErrAccessoryCommit
func (s *ProverStorage) Commit(update *PendingStateUpdate, accessoryWrites []KeyValue) error {
	defer s.latency.Observe(stats.OpCommit, time.Now())
	if update == nil {
		return errors.New("nil state update")
	}
	// 前置条件在任何写入之前检查
	if len(accessoryWrites) > 0 && s.accessory == nil {
		return errors.New("accessory writes without accessory store")
	}
	err := s.db.AppendVersionedBatch(&kvstore.VersionedBatch{
		Version: update.Version(),
		Entries: update.Entries(),
	})
	if err != nil {
		if errors.Is(err, kvstore.ErrVersionMismatch) {
			return err
		}
		return errors.Wrapf(err, "commit version %d", update.Version())
	}

	if len(accessoryWrites) > 0 {
		entries := make([]kvstore.Entry, len(accessoryWrites))
		for i, kv := range accessoryWrites {
			entries[i] = kvstore.Entry{Key: kv.Key.Bytes(), Value: kv.Value.Bytes(), Deleted: kv.Value == nil}
		}
		if err := s.accessory.PutBatch(entries); err != nil {
			return fmt.Errorf("%w: version %d landed: %w", ErrAccessoryCommit, update.Version(), err)
		}
	}

	s.log.Info("snapshot %d: committed version %d root %x", update.SnapshotID(), update.Version(), update.Root())
	return nil
}

// OpenProof 验证证明并返回其中的 key / value
func (s *ProverStorage) OpenProof(root []byte, proof *StorageProof) (StorageKey, *StorageValue, error) {
	return OpenProof(root, proof, s.hasher)
}

// IsEmpty 创世之后没有任何提交
func (s *ProverStorage) IsEmpty() (bool, error) {
	next, err := s.db.NextVersion()
	if err != nil {
		return false, errors.Wrap(err, "read next version")
	}
	return next <= 1, nil
}

// LatestVersion 最新持久版本及其根
func (s *ProverStorage) LatestVersion() (kvstore.Version, []byte, error) {
	next, err := s.db.NextVersion()
	if err != nil {
		return 0, nil, errors.Wrap(err, "read next version")
	}
	if next == 0 {
		return 0, nil, ErrNoGenesis
	}
	root, err := s.RootAt(next - 1)
	return next - 1, root, err
}

// RootAt 指定持久版本的根
func (s *ProverStorage) RootAt(version kvstore.Version) ([]byte, error) {
	root, ok, err := s.db.GetLatestValueAtOrBefore(rootKey, version)
	if err != nil {
		return nil, errors.Wrapf(err, "read root at version %d", version)
	}
	if !ok {
		return nil, ErrNoGenesis
	}
	return root, nil
}

// GetWithProof 最新持久版本上 key 的值与存在/不存在证明
func (s *ProverStorage) GetWithProof(key StorageKey) (*StorageProof, error) {
	next, err := s.db.NextVersion()
	if err != nil {
		return nil, errors.Wrap(err, "read next version")
	}
	if next == 0 {
		return nil, ErrNoGenesis
	}
	return s.GetWithProofAtVersion(key, next-1)
}

// GetWithProofAtVersion 指定持久版本上的证明
func (s *ProverStorage) GetWithProofAtVersion(key StorageKey, version kvstore.Version) (*StorageProof, error) {
	defer s.latency.Observe(stats.OpProve, time.Now())
	root, err := s.RootAt(version)
	if err != nil {
		return nil, err
	}
	proof, err := s.tree.GetWithProof(root, key.Hash(s.hasher))
	if err != nil {
		return nil, errors.Wrapf(err, "prove key %s at version %d", key, version)
	}
	raw, ok, err := s.db.GetLatestValueAtOrBefore(valueKey(key.Bytes()), version)
	if err != nil {
		return nil, errors.Wrapf(err, "read key %s at version %d", key, version)
	}
	sp := &StorageProof{Key: key, Proof: proof}
	if ok {
		sp.Value = sharedValue(raw)
	}
	return sp, nil
}
