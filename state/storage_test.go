package state

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	jmt "rollupstate/jmt"
	"rollupstate/kvstore"
	"rollupstate/logs"
	"rollupstate/snapshot"
	"rollupstate/witness"
)

// ============================================
// 测试辅助
// ============================================

func key(s string) StorageKey { return NewStorageKey([]byte(s)) }

func kv(k, v string) KeyValue { return KeyValue{Key: key(k), Value: NewStorageValue([]byte(v))} }

func del(k string) KeyValue { return KeyValue{Key: key(k)} }

func newGenesisStore(t *testing.T, writes ...KeyValue) *kvstore.MemStore {
	t.Helper()
	db := kvstore.NewMemStore()
	_, err := InitGenesis(db, jmt.NewSHA256Hasher(), writes)
	require.NoError(t, err)
	return db
}

func newProver(id snapshot.SnapshotId, db kvstore.VersionedKVStore, parent snapshot.ReadOnlyLock[snapshot.SnapshotLayerResolver]) *ProverStorage {
	return NewProverStorage(id, db, kvstore.NewMemAccessoryStore(), parent, jmt.NewSHA256Hasher(), WithLogger(logs.Nop()))
}

func computeAndCommit(t *testing.T, s *ProverStorage, writes ...KeyValue) *PendingStateUpdate {
	t.Helper()
	_, update, err := s.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: writes}, witness.New())
	require.NoError(t, err)
	require.NoError(t, s.Commit(update, nil))
	return update
}

func mustGet(t *testing.T, s Storage, k string, w *witness.Witness) *StorageValue {
	t.Helper()
	v, err := s.Get(key(k), w)
	require.NoError(t, err)
	return v
}

// ============================================
// 版本与证明
// ============================================

func TestProverStorage_TwoRootsScenario(t *testing.T) {
	db := newGenesisStore(t)
	s := newProver(1, db, snapshot.NoLayers())

	empty, err := s.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty, "only genesis committed")

	u1 := computeAndCommit(t, s, kv("A", "1"))
	assert.Equal(t, kvstore.Version(0), u1.BaseVersion())
	assert.Equal(t, kvstore.Version(1), u1.Version())
	r1 := u1.Root()

	empty, err = s.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	u2 := computeAndCommit(t, s, kv("A", "2"), kv("B", "1"))
	assert.Equal(t, kvstore.Version(1), u2.BaseVersion())
	assert.Equal(t, kvstore.Version(2), u2.Version())
	assert.Equal(t, r1, u2.PrevRoot())
	r2 := u2.Root()
	require.NotEqual(t, r1, r2)

	latest, root, err := s.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, kvstore.Version(2), latest)
	assert.Equal(t, r2, root)

	proofR2, err := s.GetWithProof(key("A"))
	require.NoError(t, err)
	k, v, err := s.OpenProof(r2, proofR2)
	require.NoError(t, err)
	assert.Equal(t, "A", string(k.Bytes()))
	assert.Equal(t, "2", string(v.Bytes()))

	proofR1, err := s.GetWithProofAtVersion(key("A"), 1)
	require.NoError(t, err)
	_, v, err = s.OpenProof(r1, proofR1)
	require.NoError(t, err)
	assert.Equal(t, "1", string(v.Bytes()))

	_, _, err = s.OpenProof(r1, proofR2)
	require.ErrorIs(t, err, ErrInvalidProof)

	// 创世版本中 B 不存在
	proofB, err := s.GetWithProofAtVersion(key("B"), 0)
	require.NoError(t, err)
	assert.Nil(t, proofB.Value)
	genesisRoot, err := s.RootAt(0)
	require.NoError(t, err)
	_, v, err = s.OpenProof(genesisRoot, proofB)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestProverStorage_PendingValueVisibleAtItsVersion(t *testing.T) {
	db := newGenesisStore(t, kv("A", "0"))
	s := newProver(1, db, snapshot.NoLayers())

	_, update, err := s.ComputeStateUpdate(OrderedReadsAndWrites{
		OrderedWrites: []KeyValue{kv("A", "1"), kv("B", "x"), del("A"), kv("C", "")},
	}, witness.New())
	require.NoError(t, err)

	v, written := update.GetValue(key("A"))
	assert.True(t, written)
	assert.Nil(t, v, "last write to A is a delete")
	v, written = update.GetValue(key("C"))
	assert.True(t, written)
	require.NotNil(t, v, "empty value is a value")
	_, written = update.GetValue(key("Z"))
	assert.False(t, written)

	require.NoError(t, s.Commit(update, nil))
	assert.Nil(t, mustGet(t, s, "A", witness.New()))
	assert.Equal(t, "x", string(mustGet(t, s, "B", witness.New()).Bytes()))

	// 提交后 Version() 处读到的正是 GetValue 的结果
	raw, found, err := db.GetLatestValueAtOrBefore(valueKey([]byte("B")), update.Version())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "x", string(raw))
	_, found, err = db.GetLatestValueAtOrBefore(valueKey([]byte("B")), update.BaseVersion())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProverStorage_GenesisRequired(t *testing.T) {
	s := newProver(1, kvstore.NewMemStore(), snapshot.NoLayers())
	require.Panics(t, func() {
		_, _, _ = s.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("A", "1")}}, witness.New())
	})
	_, err := s.GetWithProof(key("A"))
	require.ErrorIs(t, err, ErrNoGenesis)
}

func TestInitGenesis(t *testing.T) {
	db := kvstore.NewMemStore()
	hasher := jmt.NewSHA256Hasher()
	root, err := InitGenesis(db, hasher, []KeyValue{kv("a", "1"), kv("b", "2")})
	require.NoError(t, err)

	_, err = InitGenesis(db, hasher, nil)
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	s := newProver(1, db, snapshot.NoLayers())
	proof, err := s.GetWithProof(key("b"))
	require.NoError(t, err)
	_, v, err := OpenProof(root, proof, hasher)
	require.NoError(t, err)
	assert.Equal(t, "2", string(v.Bytes()))

	emptyRoot, err := InitGenesis(kvstore.NewMemStore(), hasher, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, hasher.Size()), emptyRoot)
}

func TestProverStorage_StaleCommit(t *testing.T) {
	db := newGenesisStore(t)
	a := newProver(1, db, snapshot.NoLayers())
	b := newProver(2, db, snapshot.NoLayers())

	_, ua, err := a.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("x", "a")}}, witness.New())
	require.NoError(t, err)
	_, ub, err := b.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("x", "b")}}, witness.New())
	require.NoError(t, err)
	require.Equal(t, ua.Version(), ub.Version())

	require.NoError(t, a.Commit(ua, nil))
	require.ErrorIs(t, b.Commit(ub, nil), ErrVersionMismatch)
	assert.Equal(t, "a", string(mustGet(t, b, "x", witness.New()).Bytes()))
}

func TestProverStorage_CommitChecksAccessoryStoreFirst(t *testing.T) {
	db := newGenesisStore(t)
	s := NewProverStorage(1, db, nil, snapshot.NoLayers(), jmt.NewSHA256Hasher(), WithLogger(logs.Nop()))

	_, update, err := s.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("A", "1")}}, witness.New())
	require.NoError(t, err)

	require.Error(t, s.Commit(update, []KeyValue{kv("idx", "1")}))
	next, err := db.NextVersion()
	require.NoError(t, err)
	assert.Equal(t, kvstore.Version(1), next, "rejected commit must not advance the version")

	// 同一个更新仍可提交
	require.NoError(t, s.Commit(update, nil))
	assert.Equal(t, "1", string(mustGet(t, s, "A", witness.New()).Bytes()))
}

type failingAccessory struct{ kvstore.MemAccessoryStore }

func (*failingAccessory) PutBatch([]kvstore.Entry) error { return errors.New("disk full") }

func TestProverStorage_AccessoryFailureAfterCommit(t *testing.T) {
	db := newGenesisStore(t)
	s := NewProverStorage(1, db, &failingAccessory{}, snapshot.NoLayers(), jmt.NewSHA256Hasher(), WithLogger(logs.Nop()))

	_, update, err := s.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("A", "1")}}, witness.New())
	require.NoError(t, err)

	err = s.Commit(update, []KeyValue{kv("idx", "1")})
	require.ErrorIs(t, err, ErrAccessoryCommit)
	next, err := db.NextVersion()
	require.NoError(t, err)
	assert.Equal(t, kvstore.Version(2), next, "state version landed")
	assert.Equal(t, "1", string(mustGet(t, s, "A", witness.New()).Bytes()))
}

func TestProverStorage_StoreFailuresSurface(t *testing.T) {
	db := newGenesisStore(t, kv("A", "1"))
	s := newProver(1, db, snapshot.NoLayers())

	_, update, err := s.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("B", "2")}}, witness.New())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	w := witness.New()
	_, err = s.Get(key("A"), w)
	assert.ErrorIs(t, err, kvstore.ErrStoreClosed)
	assert.Equal(t, 0, w.Len(), "failed read must not leave a hint")

	_, _, err = s.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("C", "3")}}, w)
	assert.ErrorIs(t, err, kvstore.ErrStoreClosed)
	assert.Equal(t, 0, w.Len())

	assert.ErrorIs(t, s.Commit(update, nil), kvstore.ErrStoreClosed)

	_, err = s.GetWithProof(key("A"))
	assert.ErrorIs(t, err, kvstore.ErrStoreClosed)
}

func TestProverStorage_ReadsShareStoredValues(t *testing.T) {
	db := newGenesisStore(t)
	s := newProver(1, db, snapshot.NoLayers())

	buf := []byte("1")
	written := KeyValue{Key: key("a"), Value: NewStorageValue(buf)}
	buf[0] = 'X'
	computeAndCommit(t, s, written, kv("empty", ""))

	first := mustGet(t, s, "a", witness.New())
	second := mustGet(t, s, "a", witness.New())
	assert.Equal(t, "1", string(first.Bytes()))
	assert.Same(t, &first.Bytes()[0], &second.Bytes()[0])

	proof, err := s.GetWithProof(key("a"))
	require.NoError(t, err)
	assert.Same(t, &first.Bytes()[0], &proof.Value.Bytes()[0])

	// 共享读取下空值仍与不存在区分
	empty := mustGet(t, s, "empty", witness.New())
	require.NotNil(t, empty)
	assert.NotNil(t, empty.Bytes())
	assert.Empty(t, empty.Bytes())
	assert.Nil(t, mustGet(t, s, "missing", witness.New()))
}

// ============================================
// 确定性与见证重放
// ============================================

func runBatch(t *testing.T, s Storage, reads []string, writes []KeyValue, w *witness.Witness) []byte {
	t.Helper()
	for _, r := range reads {
		_, err := s.Get(key(r), w)
		require.NoError(t, err)
	}
	root, _, err := s.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: writes}, w)
	require.NoError(t, err)
	return root
}

func TestProverStorage_Determinism(t *testing.T) {
	writes := []KeyValue{kv("k1", "v1"), kv("k2", "v2"), del("g1"), kv("k1", "v1b")}
	reads := []string{"g1", "g2", "missing"}

	var (
		roots     [][]byte
		witnesses []*witness.Witness
	)
	for i := 0; i < 2; i++ {
		db := newGenesisStore(t, kv("g1", "a"), kv("g2", "b"))
		w := witness.New()
		roots = append(roots, runBatch(t, newProver(1, db, snapshot.NoLayers()), reads, writes, w))
		witnesses = append(witnesses, w)
	}
	assert.Equal(t, roots[0], roots[1])
	assert.True(t, witnesses[0].Equal(witnesses[1]))
	assert.Equal(t, witnesses[0].Marshal(), witnesses[1].Marshal())
	assert.Equal(t, len(reads)+3, witnesses[0].Len(), "one hint per read plus prev root, proof, new root")
}

func TestWitnessReplay(t *testing.T) {
	db := newGenesisStore(t, kv("g1", "a"), kv("g2", "b"), kv("g3", "c"))
	prover := newProver(1, db, snapshot.NoLayers())
	genesisRoot, err := prover.RootAt(0)
	require.NoError(t, err)

	reads := []string{"g1", "nope", "g3"}
	writes := []KeyValue{kv("g1", "a2"), del("g2"), kv("n1", "x"), del("never")}

	w := witness.New()
	hostValues := make([]*StorageValue, 0, len(reads))
	for _, r := range reads {
		hostValues = append(hostValues, mustGet(t, prover, r, w))
	}
	hostRoot, _, err := prover.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: writes}, w)
	require.NoError(t, err)

	// 见证经过序列化后交给验证方
	shipped, err := witness.Unmarshal(w.Marshal())
	require.NoError(t, err)

	verifier := NewVerifierStorage(jmt.NewSHA256Hasher(), genesisRoot)
	for i, r := range reads {
		v := mustGet(t, verifier, r, shipped)
		assert.True(t, v.Equal(hostValues[i]), "read %s", r)
	}
	verifierRoot, pending, err := verifier.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: writes}, shipped)
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.Equal(t, hostRoot, verifierRoot)
	assert.Equal(t, hostRoot, verifier.TrustedRoot())
	assert.Equal(t, 0, shipped.Remaining())

	// 篡改写入则重放失败
	replay, err := witness.Unmarshal(w.Marshal())
	require.NoError(t, err)
	for range reads {
		_, _, err := replay.NextValue()
		require.NoError(t, err)
	}
	forged := append([]KeyValue(nil), writes...)
	forged[0] = kv("g1", "forged")
	_, _, err = NewVerifierStorage(jmt.NewSHA256Hasher(), nil).ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: forged}, replay)
	require.Error(t, err)
}

func TestVerifierStorage_TrustedRootMismatch(t *testing.T) {
	db := newGenesisStore(t, kv("a", "1"))
	w := witness.New()
	runBatch(t, newProver(1, db, snapshot.NoLayers()), nil, []KeyValue{kv("a", "2")}, w)

	verifier := NewVerifierStorage(jmt.NewSHA256Hasher(), bytes.Repeat([]byte{7}, 32))
	_, _, err := verifier.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("a", "2")}}, w)
	require.ErrorIs(t, err, ErrRootMismatch)
}

func TestVerifierStorage_UnsupportedOperations(t *testing.T) {
	v := NewVerifierStorage(jmt.NewSHA256Hasher(), nil)

	_, err := v.GetAccessory(key("a"))
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	require.ErrorIs(t, v.Commit(nil, nil), ErrUnsupportedOperation)
	_, err = v.GetWithProof(key("a"))
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = v.IsEmpty()
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = v.Get(key("a"), witness.New())
	require.ErrorIs(t, err, witness.ErrWitnessExhausted)
}

// ============================================
// 快照层
// ============================================

func TestProverStorage_LayerPrecedence(t *testing.T) {
	db := newGenesisStore(t, kv("A", "durable"), kv("B", "durable"), kv("C", "durable"))
	owner := snapshot.NewRWLock(snapshot.NewManager(0))
	owner.Write(func(m *snapshot.Manager) {
		require.NoError(t, m.AddSnapshot(1, snapshot.Durable,
			[]snapshot.Change{{Key: []byte("A"), Value: []byte("speculative")}, {Key: []byte("B")}},
			[]snapshot.Change{{Key: []byte("idx"), Value: []byte("layer")}},
		))
		require.NoError(t, m.Begin(2, 1))
	})

	s := newProver(2, db, snapshot.ResolverOf(owner))
	w := witness.New()
	assert.Equal(t, "speculative", string(mustGet(t, s, "A", w).Bytes()))
	assert.Nil(t, mustGet(t, s, "B", w), "tombstone in ancestry hides the durable value")
	assert.Equal(t, "durable", string(mustGet(t, s, "C", w).Bytes()))

	// 每次读取都进入见证，包括来自快照层的结果
	require.Equal(t, 3, w.Len())
	v, present, err := w.NextValue()
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "speculative", string(v))
	_, present, err = w.NextValue()
	require.NoError(t, err)
	assert.False(t, present)

	acc, err := s.GetAccessory(key("idx"))
	require.NoError(t, err)
	assert.Equal(t, "layer", string(acc.Bytes()))
}

func TestProverStorage_IdempotentAbsence(t *testing.T) {
	db := newGenesisStore(t, kv("other", "1"))
	s := newProver(1, db, snapshot.NoLayers())

	w := witness.New()
	assert.Nil(t, mustGet(t, s, "ghost", w))
	computeAndCommit(t, s, kv("other", "2"), kv("another", "3"))
	assert.Nil(t, mustGet(t, s, "ghost", w))

	for i := 0; i < 2; i++ {
		_, present, err := w.NextValue()
		require.NoError(t, err)
		assert.False(t, present, "absence recorded in witness")
	}
}

func TestProverStorage_SiblingSnapshots(t *testing.T) {
	db := newGenesisStore(t)
	owner := snapshot.NewRWLock(snapshot.NewManager(0))
	owner.Write(func(m *snapshot.Manager) {
		require.NoError(t, m.AddSnapshot(1, snapshot.Durable, []snapshot.Change{{Key: []byte("base"), Value: []byte("p")}}, nil))
		require.NoError(t, m.Begin(2, 1))
		require.NoError(t, m.Begin(3, 1))
	})
	resolver := snapshot.ResolverOf(owner)

	ids := []snapshot.SnapshotId{2, 3}
	storages := make([]*ProverStorage, len(ids))
	updates := make([]*PendingStateUpdate, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		storages[i] = newProver(id, db, resolver)
		g.Go(func() error {
			s := storages[i]
			w := witness.New()
			own := fmt.Sprintf("own-%d", id)
			v, err := s.Get(key("base"), w)
			if err != nil {
				return err
			}
			if string(v.Bytes()) != "p" {
				return fmt.Errorf("snapshot %d: parent value not visible", id)
			}
			_, update, err := s.ComputeStateUpdate(OrderedReadsAndWrites{
				OrderedWrites: []KeyValue{kv(own, own)},
			}, w)
			updates[i] = update
			return err
		})
	}
	require.NoError(t, g.Wait())

	owner.Write(func(m *snapshot.Manager) {
		for i, id := range ids {
			require.NoError(t, m.Seal(id, updates[i].Changes(), nil))
		}
	})

	w := witness.New()
	assert.Equal(t, "own-2", string(mustGet(t, storages[0], "own-2", w).Bytes()))
	assert.Nil(t, mustGet(t, storages[0], "own-3", w))
	assert.Equal(t, "own-3", string(mustGet(t, storages[1], "own-3", w).Bytes()))
	assert.Nil(t, mustGet(t, storages[1], "own-2", w))
}

func TestProverStorage_FinalizeFlow(t *testing.T) {
	db := newGenesisStore(t)
	owner := snapshot.NewRWLock(snapshot.NewManager(0))
	resolver := snapshot.ResolverOf(owner)
	owner.Write(func(m *snapshot.Manager) { require.NoError(t, m.Begin(1, snapshot.Durable)) })

	s1 := newProver(1, db, resolver)
	_, u1, err := s1.ComputeStateUpdate(OrderedReadsAndWrites{OrderedWrites: []KeyValue{kv("A", "1")}}, witness.New())
	require.NoError(t, err)

	owner.Write(func(m *snapshot.Manager) {
		require.NoError(t, m.Seal(1, u1.Changes(), []snapshot.Change{{Key: []byte("acc"), Value: []byte("pending")}}))
		require.NoError(t, m.Begin(2, 1))
	})
	s2 := newProver(2, db, resolver)
	assert.Equal(t, "1", string(mustGet(t, s2, "A", witness.New()).Bytes()), "read through the unfinalized parent")

	require.NoError(t, s1.Commit(u1, []KeyValue{kv("acc", "pending")}))
	owner.Write(func(m *snapshot.Manager) { require.NoError(t, m.Finalize(1)) })

	assert.Equal(t, "1", string(mustGet(t, s2, "A", witness.New()).Bytes()), "same value now from durable storage")
	acc, err := s2.GetAccessory(key("acc"))
	require.NoError(t, err)
	assert.Equal(t, "pending", string(acc.Bytes()))
}

// ============================================
// 证明编码
// ============================================

func TestStorageProof_BitFlip(t *testing.T) {
	db := newGenesisStore(t)
	s := newProver(1, db, snapshot.NoLayers())
	computeAndCommit(t, s, kv("A", "1"), kv("B", "2"), kv("C", "3"))
	_, root, err := s.LatestVersion()
	require.NoError(t, err)

	for _, k := range []string{"B", "absent"} {
		proof, err := s.GetWithProof(key(k))
		require.NoError(t, err)
		encoded := proof.Marshal()

		decoded, err := UnmarshalStorageProof(encoded)
		require.NoError(t, err)
		_, _, err = s.OpenProof(root, decoded)
		require.NoError(t, err, k)

		for bit := 0; bit < len(encoded)*8; bit++ {
			tampered := append([]byte(nil), encoded...)
			tampered[bit/8] ^= 1 << (bit % 8)
			p, err := UnmarshalStorageProof(tampered)
			if err != nil {
				require.ErrorIs(t, err, ErrInvalidProof)
				continue
			}
			opened, _, err := s.OpenProof(root, p)
			if err == nil {
				// 不存在证明改动 key 后可能恰好证明另一个 key 不存在，但绝不能仍是原来的声明
				require.Nil(t, proof.Value, "%s: bit %d", k, bit)
				require.NotEqual(t, k, string(opened.Bytes()), "%s: bit %d", k, bit)
				continue
			}
			require.ErrorIs(t, err, ErrInvalidProof, "%s: bit %d", k, bit)
		}

		for bit := 0; bit < len(root)*8; bit++ {
			tamperedRoot := append([]byte(nil), root...)
			tamperedRoot[bit/8] ^= 1 << (bit % 8)
			_, _, err := s.OpenProof(tamperedRoot, proof)
			require.ErrorIs(t, err, ErrInvalidProof)
		}
	}
}

func TestStorageProof_MarshalWithoutProof(t *testing.T) {
	p := &StorageProof{Key: key("a"), Value: NewStorageValue([]byte("1"))}
	var encoded []byte
	require.NotPanics(t, func() { encoded = p.Marshal() })

	_, err := UnmarshalStorageProof(encoded)
	require.ErrorIs(t, err, ErrInvalidProof)
	_, _, err = OpenProof(nil, p, jmt.NewSHA256Hasher())
	require.ErrorIs(t, err, ErrInvalidProof)
}

// ============================================
// BadgerDB 端到端
// ============================================

func TestProverStorage_Badger(t *testing.T) {
	dir := t.TempDir()
	hasher := jmt.NewKeccakHasher()

	db, err := kvstore.OpenBadger(kvstore.BadgerOptions{Dir: dir})
	require.NoError(t, err)
	store := kvstore.NewBadgerStore(db, []byte("state/"))
	accessory := kvstore.NewBadgerAccessoryStore(db, []byte("acc/"))

	_, err = InitGenesis(store, hasher, []KeyValue{kv("g", "0")})
	require.NoError(t, err)

	s := NewProverStorage(1, store, accessory, snapshot.NoLayers(), hasher)
	var root []byte
	for i := 0; i < 5; i++ {
		_, update, err := s.ComputeStateUpdate(OrderedReadsAndWrites{
			OrderedWrites: []KeyValue{kv(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i)), kv("g", fmt.Sprint(i))},
		}, witness.New())
		require.NoError(t, err)
		require.NoError(t, s.Commit(update, []KeyValue{kv("height", fmt.Sprint(i))}))
		root = update.Root()
	}
	require.NoError(t, db.Close())

	db, err = kvstore.OpenBadger(kvstore.BadgerOptions{Dir: dir})
	require.NoError(t, err)
	defer db.Close()
	store = kvstore.NewBadgerStore(db, []byte("state/"))
	s = NewProverStorage(2, store, kvstore.NewBadgerAccessoryStore(db, []byte("acc/")), snapshot.NoLayers(), hasher)

	version, latest, err := s.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, kvstore.Version(5), version)
	assert.Equal(t, root, latest)

	proof, err := s.GetWithProof(key("k3"))
	require.NoError(t, err)
	_, v, err := s.OpenProof(root, proof)
	require.NoError(t, err)
	assert.Equal(t, "v3", string(v.Bytes()))

	acc, err := s.GetAccessory(key("height"))
	require.NoError(t, err)
	assert.Equal(t, "4", string(acc.Bytes()))

	// 清理历史后最新状态仍可证明
	require.NoError(t, store.Prune(5))
	proof, err = s.GetWithProof(key("g"))
	require.NoError(t, err)
	_, v, err = s.OpenProof(root, proof)
	require.NoError(t, err)
	assert.Equal(t, "4", string(v.Bytes()))
}
