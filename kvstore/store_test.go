package kvstore

import (
	"fmt"
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prunableStore interface {
	VersionedKVStore
	Pruner
	Close() error
}

func createTestBadgerDB(t *testing.T) *badger.DB {
	db, err := OpenBadger(BadgerOptions{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// forEachBackend 同一组用例分别跑内存与 BadgerDB 实现
func forEachBackend(t *testing.T, fn func(t *testing.T, store prunableStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemStore())
	})
	t.Run("badger", func(t *testing.T) {
		fn(t, NewBadgerStore(createTestBadgerDB(t), []byte("state/")))
	})
}

func appendBatch(t *testing.T, store VersionedKVStore, entries ...Entry) Version {
	t.Helper()
	next, err := store.NextVersion()
	require.NoError(t, err)
	require.NoError(t, store.AppendVersionedBatch(&VersionedBatch{Version: next, Entries: entries}))
	return next
}

func put(key, value string) Entry { return Entry{Key: []byte(key), Value: []byte(value)} }
func del(key string) Entry        { return Entry{Key: []byte(key), Deleted: true} }

func TestStore_EmptyStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store prunableStore) {
		next, err := store.NextVersion()
		require.NoError(t, err)
		assert.Equal(t, Version(0), next)

		_, found, err := store.GetLatestValueAtOrBefore([]byte("a"), 100)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestStore_VersionedQuery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store prunableStore) {
		v0 := appendBatch(t, store, put("a", "a0"), put("b", "b0"))
		v1 := appendBatch(t, store, put("a", "a1"))
		v2 := appendBatch(t, store, del("b"), put("c", ""))
		require.Equal(t, []Version{0, 1, 2}, []Version{v0, v1, v2})

		cases := []struct {
			key     string
			version Version
			want    string
			found   bool
		}{
			{"a", 0, "a0", true},
			{"a", 1, "a1", true},
			{"a", 50, "a1", true},
			{"b", 1, "b0", true},
			{"b", 2, "", false}, // 墓碑遮蔽旧版本
			{"c", 1, "", false},
			{"c", 2, "", true}, // 空值不等于不存在
			{"missing", 2, "", false},
		}
		for _, tc := range cases {
			got, found, err := store.GetLatestValueAtOrBefore([]byte(tc.key), tc.version)
			require.NoError(t, err)
			assert.Equal(t, tc.found, found, "%s@%d", tc.key, tc.version)
			if tc.found {
				assert.Equal(t, tc.want, string(got), "%s@%d", tc.key, tc.version)
			}
		}

		next, err := store.NextVersion()
		require.NoError(t, err)
		assert.Equal(t, Version(3), next)
	})
}

func TestStore_VersionMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store prunableStore) {
		appendBatch(t, store, put("a", "1"))

		err := store.AppendVersionedBatch(&VersionedBatch{Version: 0, Entries: []Entry{put("a", "2")}})
		require.ErrorIs(t, err, ErrVersionMismatch)
		err = store.AppendVersionedBatch(&VersionedBatch{Version: 5, Entries: []Entry{put("a", "2")}})
		require.ErrorIs(t, err, ErrVersionMismatch)

		// 失败的追加不产生任何写入
		got, found, err := store.GetLatestValueAtOrBefore([]byte("a"), 10)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "1", string(got))
	})
}

func TestStore_DuplicateKeyInBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store prunableStore) {
		appendBatch(t, store, put("a", "first"), put("a", "second"))
		got, found, err := store.GetLatestValueAtOrBefore([]byte("a"), 0)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "second", string(got))
	})
}

func TestStore_KeyPrefixIsolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store prunableStore) {
		// "ab" 不能被当成 "a" 的某个版本
		appendBatch(t, store, put("ab", "x"))
		_, found, err := store.GetLatestValueAtOrBefore([]byte("a"), 10)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestStore_Prune(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store prunableStore) {
		for i := 0; i < 5; i++ {
			appendBatch(t, store, put("a", fmt.Sprintf("a%d", i)))
		}
		appendBatch(t, store, del("b"))       // v5
		appendBatch(t, store, put("b", "b6")) // v6

		require.NoError(t, store.Prune(3))

		for v := Version(3); v <= 6; v++ {
			got, found, err := store.GetLatestValueAtOrBefore([]byte("a"), v)
			require.NoError(t, err)
			require.True(t, found)
			want := fmt.Sprintf("a%d", v)
			if v > 4 {
				want = "a4"
			}
			assert.Equal(t, want, string(got))
		}
		// 被覆盖的历史不再可读
		_, found, err := store.GetLatestValueAtOrBefore([]byte("a"), 1)
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, store.Prune(6))
		got, found, err := store.GetLatestValueAtOrBefore([]byte("b"), 6)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "b6", string(got))
	})
}

func TestStore_Closed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store prunableStore) {
		require.NoError(t, store.Close())
		_, err := store.NextVersion()
		require.ErrorIs(t, err, ErrStoreClosed)
		_, _, err = store.GetLatestValueAtOrBefore([]byte("a"), 0)
		require.ErrorIs(t, err, ErrStoreClosed)
	})
}

func TestMemStore_CopyOnWrite(t *testing.T) {
	store := NewMemStore()
	buf := []byte("v0")
	v := appendBatch(t, store, Entry{Key: []byte("a"), Value: buf})
	buf[0] = 'X'

	first, found, err := store.GetLatestValueAtOrBefore([]byte("a"), v)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v0", string(first))

	// 读取直接返回已存储的切片
	second, _, err := store.GetLatestValueAtOrBefore([]byte("a"), v)
	require.NoError(t, err)
	assert.Same(t, &first[0], &second[0])

	acc := NewMemAccessoryStore()
	buf = []byte("m")
	require.NoError(t, acc.PutBatch([]Entry{{Key: []byte("k"), Value: buf}}))
	buf[0] = 'X'
	got, _, err := acc.GetValue([]byte("k"))
	require.NoError(t, err)
	again, _, err := acc.GetValue([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "m", string(got))
	assert.Same(t, &got[0], &again[0])
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenBadger(BadgerOptions{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	store := NewBadgerStore(db, []byte("s/"))
	appendBatch(t, store, put("a", "1"))
	appendBatch(t, store, put("a", "2"))
	require.NoError(t, db.Close())

	db, err = OpenBadger(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	defer db.Close()
	store = NewBadgerStore(db, []byte("s/"))

	next, err := store.NextVersion()
	require.NoError(t, err)
	assert.Equal(t, Version(2), next)
	got, found, err := store.GetLatestValueAtOrBefore([]byte("a"), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", string(got))

	// 同一 db 的不同前缀互不可见
	other := NewBadgerStore(db, []byte("t/"))
	next, err = other.NextVersion()
	require.NoError(t, err)
	assert.Equal(t, Version(0), next)
}

func TestVersionedKeyCodec(t *testing.T) {
	encoded := EncodeVersionedKey([]byte("key"), 42)
	key, version, err := DecodeVersionedKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, "key", string(key))
	assert.Equal(t, Version(42), version)

	_, _, err = DecodeVersionedKey(encoded[:len(encoded)-1])
	require.Error(t, err)
}

func TestAccessoryStores(t *testing.T) {
	stores := map[string]AccessoryStore{
		"memory": NewMemAccessoryStore(),
		"badger": NewBadgerAccessoryStore(createTestBadgerDB(t), []byte("acc/")),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.PutBatch([]Entry{put("x", "1"), put("y", "2")}))
			require.NoError(t, store.PutBatch([]Entry{del("x"), put("y", "3")}))

			_, found, err := store.GetValue([]byte("x"))
			require.NoError(t, err)
			assert.False(t, found)

			got, found, err := store.GetValue([]byte("y"))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "3", string(got))
		})
	}
}
