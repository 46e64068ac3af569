package directory

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/buntdb"
)

// BuntSnapshotter persists the latest directory State into a buntdb
// database under a single key, for local debugging and warm-restart hints.
// It is advisory: a Directory rebuilds correct state from gossip regardless
// of whether a snapshot exists or is stale, since the CRDT merge is
// idempotent and commutative.
type BuntSnapshotter struct {
	db *buntdb.DB
}

const snapshotKey = "directory:state"

// OpenBuntSnapshotter opens (creating if necessary) a buntdb file at path.
// Pass ":memory:" for a non-persistent store, useful in tests that still
// want to exercise the Snapshotter interface.
func OpenBuntSnapshotter(path string) (*BuntSnapshotter, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("directory: open buntdb: %w", err)
	}
	return &BuntSnapshotter{db: db}, nil
}

// Save implements Snapshotter.
func (b *BuntSnapshotter) Save(state State) error {
	data, err := json.Marshal(stateForHash(state))
	if err != nil {
		return fmt.Errorf("directory: marshal snapshot: %w", err)
	}
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(snapshotKey, string(data), nil)
		return err
	})
}

// LastSnapshot returns the most recently saved snapshot payload, for
// operator inspection; it is not decoded back into a State since the
// Address values it names are router-local and meaningless across a
// process restart.
func (b *BuntSnapshotter) LastSnapshot() (string, error) {
	var out string
	err := b.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(snapshotKey)
		if err != nil {
			return err
		}
		out = val
		return nil
	})
	if err != nil {
		if err == buntdb.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// Close releases the underlying buntdb file handle.
func (b *BuntSnapshotter) Close() error {
	return b.db.Close()
}
