package state

import (
	"github.com/pkg/errors"

	jmt "rollupstate/jmt"
	"rollupstate/kvstore"
	"rollupstate/snapshot"
)

// InitGenesis 把初始 key 集合写成版本 0，返回创世根；空集合得到 placeholder 根
func InitGenesis(db kvstore.VersionedKVStore, hasher jmt.MerkleHasher, writes []KeyValue) ([]byte, error) {
	next, err := db.NextVersion()
	if err != nil {
		return nil, errors.Wrap(err, "read next version")
	}
	if next != 0 {
		return nil, errors.Wrapf(ErrAlreadyInitialized, "next version is %d", next)
	}

	tree := jmt.NewJMT(nodeReader{db: db}, hasher, 0)
	root, _, batch, err := tree.PutValueSetWithProof(tree.EmptyRoot(), toKeyHashWrites(hasher, writes))
	if err != nil {
		return nil, errors.Wrap(err, "build genesis tree")
	}
	update := &PendingStateUpdate{
		snapshotID: snapshot.Durable,
		version:    0,
		prevRoot:   tree.EmptyRoot(),
		root:       root,
		hasher:     hasher,
		batch:      batch,
	}
	if err := db.AppendVersionedBatch(&kvstore.VersionedBatch{Version: 0, Entries: update.Entries()}); err != nil {
		return nil, errors.Wrap(err, "write genesis")
	}
	return root, nil
}
