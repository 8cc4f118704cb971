// Package store performs the terminal scan: after the workload has crashed
// or exited, it opens the surviving on-disk store read-only, reads back
// every key referenced anywhere in the history, and assembles the synthetic
// point-read transaction the encoder treats as having observed the
// database's final state.
package store

import (
	"fmt"
	"sort"

	"github.com/jgraettinger/gorocksdb"
	log "github.com/sirupsen/logrus"

	"github.com/estuary/sercheck/internal/history"
)

// Store is the minimal read interface the terminal scan needs against the
// recovered database. It's satisfied by *RocksStore, and lets Scan be
// tested against an in-memory fake rather than a real on-disk database.
type Store interface {
	// Get returns the value for key, or nil if the key is absent.
	Get(key []byte) (*history.Bytes, error)
	// Iter returns every key durably present in the store (RocksStore
	// returns them in key order), used to detect keys the history never
	// mentions.
	Iter() ([][]byte, error)
	// Close releases resources held by the store.
	Close()
}

// ExNihiloError reports a key durably present in the recovered store that
// no transaction spec ever referenced -- a fatal structural violation: the
// store holds a value nothing in the observed history could have written.
type ExNihiloError struct {
	Key []byte
}

func (e *ExNihiloError) Error() string {
	return fmt.Sprintf("store: key %x is present in the recovered store but named by no transaction spec", e.Key)
}

// RocksStore opens an existing RocksDB directory read-only, matching the
// reference checker's recovery contract: it never writes, and it never
// creates a database that isn't already there.
type RocksStore struct {
	db  *gorocksdb.DB
	ro  *gorocksdb.ReadOptions
	opt *gorocksdb.Options
}

// Open recovers the database rooted at dir in read-only mode. A missing or
// corrupt directory is a fatal condition for the checker, surfaced here as
// a plain error for the caller to report.
func Open(dir string) (*RocksStore, error) {
	opt := gorocksdb.NewDefaultOptions()
	db, err := gorocksdb.OpenDbForReadOnly(opt, dir, false)
	if err != nil {
		return nil, fmt.Errorf("store: opening %q read-only: %w", dir, err)
	}
	log.WithField("dir", dir).Debug("recovered store for terminal scan")
	return &RocksStore{db: db, ro: gorocksdb.NewDefaultReadOptions(), opt: opt}, nil
}

// Get implements Store.
func (s *RocksStore) Get(key []byte) (*history.Bytes, error) {
	slice, err := s.db.Get(s.ro, key)
	if err != nil {
		return nil, fmt.Errorf("store: get %x: %w", key, err)
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, nil
	}
	v := history.Bytes(append([]byte(nil), slice.Data()...))
	return &v, nil
}

// Iter implements Store by walking the full keyspace with a RocksDB
// iterator.
func (s *RocksStore) Iter() ([][]byte, error) {
	it := s.db.NewIterator(s.ro)
	defer it.Close()

	var keys [][]byte
	for it.SeekToFirst(); it.Valid(); it.Next() {
		k := it.Key()
		keys = append(keys, append([]byte(nil), k.Data()...))
		k.Free()
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating keyspace: %w", err)
	}
	return keys, nil
}

// Close implements Store.
func (s *RocksStore) Close() {
	s.ro.Destroy()
	s.db.Close()
	s.opt.Destroy()
}

// Scan builds the synthetic point-read transaction appended to h: the
// union of every key any spec in h ever touched, read back from st, at a
// synthetic timestamp strictly following every observed end. It first
// walks the store's full keyspace and fails with an *ExNihiloError if any
// durable key was never named by any spec -- a fatal structural violation
// the dependency encoder can't express, since it only ever sees the keys
// the history already mentions.
func Scan(st Store, h *history.History) error {
	keys := collectKeys(h)

	named := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		named[string(k)] = struct{}{}
	}
	storedKeys, err := st.Iter()
	if err != nil {
		return err
	}
	for _, k := range storedKeys {
		if _, ok := named[string(k)]; !ok {
			return &ExNihiloError{Key: k}
		}
	}

	results := make([]*history.Bytes, len(keys))
	spec := history.TransactionSpec{Ops: make([]history.Operation, len(keys))}
	for i, key := range keys {
		k := key
		v, err := st.Get(k)
		if err != nil {
			return err
		}
		results[i] = v
		spec.Ops[i] = history.Operation{Get: &history.GetOp{Key: history.Bytes(k)}}
	}

	at := history.PointReadTimestamp(h.MaxTimestamp())
	h.AppendPointRead(spec, results, at)

	log.WithFields(log.Fields{"n_keys": len(keys), "timestamp": at}).Info("completed terminal scan")
	return nil
}

// collectKeys returns every distinct key referenced by any operation in
// h, sorted for deterministic point-read op ordering.
func collectKeys(h *history.History) [][]byte {
	seen := make(map[string]struct{})
	for _, tx := range h.Transactions {
		for _, op := range tx.Spec.Ops {
			seen[string(op.Key())] = struct{}{}
		}
	}
	keys := make([][]byte, 0, len(seen))
	for k := range seen {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i]) < string(keys[j])
	})
	return keys
}
