package storage

import (
	"errors"
	"fmt"

	"github.com/omnia-iot/omnia-backend/interfaces"
)

// ErrStop ends a Range early without reporting an error.
var ErrStop = errors.New("stop iteration")

// Store is a typed view over one region. Keys are ordered bytewise.
type Store[K ~string, V any] struct {
	db     *DB
	region Region
}

// NewStore binds a typed view to region.
func NewStore[K ~string, V any](db *DB, region Region) *Store[K, V] {
	return &Store[K, V]{db: db, region: region}
}

// Region returns the region label.
func (s *Store[K, V]) Region() Region {
	return s.region
}

// In returns a view of the store bound to an open transaction.
func (s *Store[K, V]) In(tx *Tx) TxStore[K, V] {
	return TxStore[K, V]{tx: tx, region: s.region}
}

func (s *Store[K, V]) Create(key K, value V) error {
	return s.db.Update(func(tx *Tx) error {
		return s.In(tx).Create(key, value)
	})
}

func (s *Store[K, V]) Read(key K) (V, error) {
	var value V
	err := s.db.View(func(tx *Tx) error {
		var err error
		value, err = s.In(tx).Read(key)
		return err
	})
	return value, err
}

func (s *Store[K, V]) Update(key K, value V) error {
	return s.db.Update(func(tx *Tx) error {
		return s.In(tx).Update(key, value)
	})
}

func (s *Store[K, V]) Put(key K, value V) error {
	return s.db.Update(func(tx *Tx) error {
		return s.In(tx).Put(key, value)
	})
}

func (s *Store[K, V]) Delete(key K) (V, error) {
	var value V
	err := s.db.Update(func(tx *Tx) error {
		var err error
		value, err = s.In(tx).Delete(key)
		return err
	})
	return value, err
}

func (s *Store[K, V]) Exists(key K) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *Tx) error {
		var err error
		exists, err = s.In(tx).Exists(key)
		return err
	})
	return exists, err
}

func (s *Store[K, V]) Range(fn func(key K, value V) error) error {
	return s.db.View(func(tx *Tx) error {
		return s.In(tx).Range(fn)
	})
}

func (s *Store[K, V]) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *Tx) error {
		var err error
		n, err = s.In(tx).Len()
		return err
	})
	return n, err
}

// TxStore is a Store bound to a transaction.
type TxStore[K ~string, V any] struct {
	tx     *Tx
	region Region
}

// Create inserts value under key. It fails with AlreadyExists if the key is present.
func (s TxStore[K, V]) Create(key K, value V) error {
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return err
	}
	if b.Get([]byte(key)) != nil {
		return interfaces.AlreadyExists(s.region.String(), string(key))
	}
	return s.put(key, value)
}

// Read returns the value under key or NotFound.
func (s TxStore[K, V]) Read(key K) (V, error) {
	var value V
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return value, err
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return value, interfaces.NotFound(s.region.String(), string(key))
	}
	if err := decodeValue(raw, &value); err != nil {
		return value, fmt.Errorf("decoding %s %q: %w", s.region, string(key), err)
	}
	return value, nil
}

// Update replaces the value under key. It fails with NotFound if absent.
func (s TxStore[K, V]) Update(key K, value V) error {
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return err
	}
	if b.Get([]byte(key)) == nil {
		return interfaces.NotFound(s.region.String(), string(key))
	}
	return s.put(key, value)
}

// Put writes value under key whether or not it exists.
func (s TxStore[K, V]) Put(key K, value V) error {
	return s.put(key, value)
}

// Delete removes key and returns the value it held, or NotFound.
func (s TxStore[K, V]) Delete(key K) (V, error) {
	value, err := s.Read(key)
	if err != nil {
		return value, err
	}
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return value, err
	}
	if err := b.Delete([]byte(key)); err != nil {
		return value, fmt.Errorf("deleting %s %q: %w", s.region, string(key), err)
	}
	return value, nil
}

func (s TxStore[K, V]) Exists(key K) (bool, error) {
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return false, err
	}
	return b.Get([]byte(key)) != nil, nil
}

// Range calls fn for every entry in key order. Returning ErrStop ends the
// iteration early. fn must not write to the same region.
func (s TxStore[K, V]) Range(fn func(key K, value V) error) error {
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return err
	}
	c := b.Cursor()
	for k, raw := c.First(); k != nil; k, raw = c.Next() {
		var value V
		if err := decodeValue(raw, &value); err != nil {
			return fmt.Errorf("decoding %s %q: %w", s.region, string(k), err)
		}
		if err := fn(K(k), value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Keys returns every key in order.
func (s TxStore[K, V]) Keys() ([]K, error) {
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return nil, err
	}
	var keys []K
	err = b.ForEach(func(k, _ []byte) error {
		keys = append(keys, K(k))
		return nil
	})
	return keys, err
}

func (s TxStore[K, V]) Len() (int, error) {
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return 0, err
	}
	n := 0
	err = b.ForEach(func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

func (s TxStore[K, V]) put(key K, value V) error {
	b, err := s.tx.bucket(s.region)
	if err != nil {
		return err
	}
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encoding %s %q: %w", s.region, string(key), err)
	}
	if err := b.Put([]byte(key), raw); err != nil {
		return fmt.Errorf("writing %s %q: %w", s.region, string(key), err)
	}
	return nil
}
