package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// DB is the bbolt database holding every region.
type DB struct {
	bolt    *bbolt.DB
	log     *slog.Logger
	noSync  bool
	timeout time.Duration
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		db.log = logger
	}
}

// WithNoSync disables fsync per transaction. Only for tests.
func WithNoSync(noSync bool) Option {
	return func(db *DB) {
		db.noSync = noSync
	}
}

// WithTimeout bounds how long Open waits for the file lock.
func WithTimeout(timeout time.Duration) Option {
	return func(db *DB) {
		db.timeout = timeout
	}
}

// Open opens or creates the database at path, creates missing regions and
// upgrades the value layout to CurrentLayoutVersion.
func Open(path string, opts ...Option) (*DB, error) {
	db := &DB{
		log:     slog.Default(),
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(db)
	}

	b, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: db.timeout,
		NoSync:  db.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.bolt = b

	if err := db.createBuckets(); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		_ = b.Close()
		return nil, err
	}

	db.log.Debug("opened database", "path", path, "noSync", db.noSync)
	return db, nil
}

func (db *DB) createBuckets() error {
	return db.bolt.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("creating bucket %s: %w", bucketMeta, err)
		}
		for _, region := range Regions() {
			if _, err := tx.CreateBucketIfNotExists(region.bucketName()); err != nil {
				return fmt.Errorf("creating bucket for %s: %w", region, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (db *DB) Close() error {
	if db.bolt == nil {
		return nil
	}
	db.log.Debug("closing database")
	return db.bolt.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.bolt.Path()
}

// Update runs fn in a read-write transaction. Every write made by fn is
// committed atomically, or none is when fn returns an error.
func (db *DB) Update(fn func(tx *Tx) error) error {
	return db.bolt.Update(func(btx *bbolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// View runs fn in a read-only transaction.
func (db *DB) View(fn func(tx *Tx) error) error {
	return db.bolt.View(func(btx *bbolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// WriteSnapshot writes a consistent copy of the database file to w.
func (db *DB) WriteSnapshot(w io.Writer) (int64, error) {
	var n int64
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}

// Tx is an open transaction shared by the stores of several regions.
type Tx struct {
	tx *bbolt.Tx
}

var errRegionMissing = errors.New("region bucket missing")

func (tx *Tx) bucket(region Region) (*bbolt.Bucket, error) {
	b := tx.tx.Bucket(region.bucketName())
	if b == nil {
		return nil, fmt.Errorf("%w: %s", errRegionMissing, region)
	}
	return b, nil
}
