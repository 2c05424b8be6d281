// Package storage persists order records in Pebble so the book and user
// indices can be rebuilt after restart. Every engine mutation is written
// through with pebble.Sync before the call returns.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/acmedex/matchbook/pkg/app/core/ledger"
)

type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// NextOrderID atomically advances and returns the monotonic order id
// sequence. Ids start at 1.
func (s *Store) NextOrderID() (uint64, error) {
	var next uint64 = 1
	val, closer, err := s.db.Get([]byte(keySequence))
	if err == nil {
		next = binary.BigEndian.Uint64(val) + 1
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return 0, fmt.Errorf("read sequence: %w", err)
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := s.db.Set([]byte(keySequence), buf, pebble.Sync); err != nil {
		return 0, fmt.Errorf("write sequence: %w", err)
	}
	return next, nil
}

// SaveOrder upserts the order record and its owner marker.
func (s *Store) SaveOrder(o *ledger.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order %d: %w", o.ID, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(orderKey(o.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set(ownerKey(o.Owner, o.ID), nil, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("save order %d: %w", o.ID, err)
	}
	return nil
}

// LoadOrder returns the stored record for id, or (nil, nil) when absent.
func (s *Store) LoadOrder(id uint64) (*ledger.Order, error) {
	val, closer, err := s.db.Get(orderKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}
	defer closer.Close()

	var o ledger.Order
	if err := json.Unmarshal(val, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order %d: %w", id, err)
	}
	return &o, nil
}

// LoadOpenOrders scans every stored order and returns the ones that are
// still open, in id (arrival) order. Closed records stay on disk for audit
// but are skipped here.
func (s *Store) LoadOpenOrders() ([]*ledger.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	defer iter.Close()

	var out []*ledger.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o ledger.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("unmarshal order at %q: %w", iter.Key(), err)
		}
		if o.IsClosed() {
			continue
		}
		out = append(out, &o)
	}
	return out, nil
}

// OrderIDsByOwner scans the owner marker keys and returns the owner's order
// ids in arrival order.
func (s *Store) OrderIDsByOwner(addr common.Address) ([]uint64, error) {
	prefix := ownerPrefix(addr)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate owner orders: %w", err)
	}
	defer iter.Close()

	var ids []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		var id uint64
		if _, err := fmt.Sscanf(string(key[len(prefix):]), "%d", &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
