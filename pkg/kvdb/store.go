// Package kvdb adapts github.com/cometbft/cometbft-db's backend-agnostic
// dbm.DB into the narrow, namespaced key-value primitive pkg/ledger and
// pkg/host need, so neither package has to import cometbft-db or reason
// about key collisions between the things they each persist under one
// opened database handle.
package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// Store owns one opened dbm.DB handle (mem, GoLevelDB, or Badger,
// whichever the process configured) and hands out prefix-scoped
// Namespaces over it, so a single on-disk database can back both the
// Authority-Set Ledger and the host's known-relay-header-hash set
// without their keys colliding.
type Store struct {
	db dbm.DB
}

// Open opens (or creates) a dbm.DB named name of the given backend under
// dir, and wraps it in a Store.
func Open(name string, backend dbm.BackendType, dir string) (*Store, error) {
	db, err := dbm.NewDB(name, backend, dir)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Namespace returns a key-value view scoped under prefix. Two Namespaces
// from the same Store never observe each other's keys as long as no
// prefix is another's proper prefix.
func (s *Store) Namespace(prefix string) *Namespace {
	return &Namespace{db: s.db, prefix: []byte(prefix + "/")}
}

// Namespace is a prefix-scoped view over a Store, satisfying both
// ledger.KV and host.KV.
type Namespace struct {
	db     dbm.DB
	prefix []byte
}

func (n *Namespace) scoped(key []byte) []byte {
	full := make([]byte, 0, len(n.prefix)+len(key))
	full = append(full, n.prefix...)
	full = append(full, key...)
	return full
}

// Get returns the value stored under key within this namespace, or nil
// if absent.
func (n *Namespace) Get(key []byte) ([]byte, error) {
	return n.db.Get(n.scoped(key))
}

// Set writes value under key within this namespace, synchronously so a
// crash immediately after a successful Set never loses the write.
func (n *Namespace) Set(key, value []byte) error {
	return n.db.SetSync(n.scoped(key), value)
}
