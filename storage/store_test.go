package storage

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "registry.db"), WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStoreCRUD(t *testing.T) {
	db := openTestDB(t)
	personas := NewStore[interfaces.PrincipalID, interfaces.VirtualPersona](db, RegionPersonas)

	alice := interfaces.VirtualPersona{PrincipalID: "alice", IP: "198.51.100.7"}

	_, err := personas.Read("alice")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
	assert.Equal(t, "NotFound(persona)", interfaces.ErrorTag(err))

	require.NoError(t, personas.Create("alice", alice))

	err = personas.Create("alice", alice)
	assert.True(t, errors.Is(err, interfaces.ErrAlreadyExists))
	assert.Equal(t, "AlreadyExists(persona)", interfaces.ErrorTag(err))

	got, err := personas.Read("alice")
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	alice.UserEnvUID = "env-1"
	require.NoError(t, personas.Update("alice", alice))
	got, err = personas.Read("alice")
	require.NoError(t, err)
	assert.Equal(t, interfaces.EnvironmentUID("env-1"), got.UserEnvUID)

	err = personas.Update("bob", alice)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	removed, err := personas.Delete("alice")
	require.NoError(t, err)
	assert.Equal(t, alice, removed)

	_, err = personas.Delete("alice")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	exists, err := personas.Exists("alice")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreRangeIsOrdered(t *testing.T) {
	db := openTestDB(t)
	index := NewStore[string, interfaces.EnvironmentUID](db, RegionEnvironmentIndex)

	for _, ip := range []string{"10.0.0.9", "10.0.0.1", "192.168.1.4", "10.0.0.10"} {
		require.NoError(t, index.Put(ip, interfaces.EnvironmentUID("env-"+ip)))
	}

	var keys []string
	require.NoError(t, index.Range(func(k string, _ interfaces.EnvironmentUID) error {
		keys = append(keys, k)
		return nil
	}))
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.10", "10.0.0.9", "192.168.1.4"}, keys)

	var first []string
	require.NoError(t, index.Range(func(k string, _ interfaces.EnvironmentUID) error {
		first = append(first, k)
		if len(first) == 2 {
			return ErrStop
		}
		return nil
	}))
	assert.Len(t, first, 2)

	n, err := index.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestUpdateIsAtomicAcrossRegions(t *testing.T) {
	db := openTestDB(t)
	initialized := NewStore[string, interfaces.InitializedGateway](db, RegionInitializedGateways)
	registered := NewStore[interfaces.PrincipalID, interfaces.RegisteredGateway](db, RegionRegisteredGateways)

	require.NoError(t, initialized.Create("10.0.0.5", interfaces.InitializedGateway{PrincipalID: "gw"}))

	failure := errors.New("environment vanished")
	err := db.Update(func(tx *Tx) error {
		if _, err := initialized.In(tx).Delete("10.0.0.5"); err != nil {
			return err
		}
		if err := registered.In(tx).Create("gw", interfaces.RegisteredGateway{PrincipalID: "gw"}); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)

	exists, err := initialized.Exists("10.0.0.5")
	require.NoError(t, err)
	assert.True(t, exists, "delete must be rolled back")

	exists, err = registered.Exists("gw")
	require.NoError(t, err)
	assert.False(t, exists, "create must be rolled back")
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")

	db, err := Open(path)
	require.NoError(t, err)
	keys := NewStore[interfaces.AccessKeyUID, interfaces.AccessKey](db, RegionAccessKeys)
	key := interfaces.AccessKey{
		Key:             "k1",
		Owner:           "alice",
		TransactionHash: "0xabc",
		Counter:         2,
		UsedNonces:      []interfaces.Nonce{interfaces.NonceFromUint64(1), interfaces.NonceFromUint64(2)},
	}
	require.NoError(t, keys.Create("k1", key))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := NewStore[interfaces.AccessKeyUID, interfaces.AccessKey](db, RegionAccessKeys).Read("k1")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	version, err := db.LayoutVersion()
	require.NoError(t, err)
	assert.Equal(t, CurrentLayoutVersion, version)
}

func TestOpenMigratesLegacyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, raw.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(RegionPersonas.bucketName())
		if err != nil {
			return err
		}
		if err := b.Put([]byte("alice"), []byte(`{"principal_id":"alice","ip":"198.51.100.7","user_env_uid":"env-1"}`)); err != nil {
			return err
		}
		idx, err := tx.CreateBucketIfNotExists(RegionEnvironmentIndex.bucketName())
		if err != nil {
			return err
		}
		return idx.Put([]byte("198.51.100.7"), []byte(`"env-1"`))
	}))
	require.NoError(t, raw.Close())

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	persona, err := NewStore[interfaces.PrincipalID, interfaces.VirtualPersona](db, RegionPersonas).Read("alice")
	require.NoError(t, err)
	assert.Equal(t, interfaces.VirtualPersona{PrincipalID: "alice", IP: "198.51.100.7", UserEnvUID: "env-1"}, persona)

	env, err := NewStore[string, interfaces.EnvironmentUID](db, RegionEnvironmentIndex).Read("198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, interfaces.EnvironmentUID("env-1"), env)

	require.NoError(t, db.View(func(tx *Tx) error {
		b, err := tx.bucket(RegionPersonas)
		require.NoError(t, err)
		assert.Equal(t, envelopeCBOR, b.Get([]byte("alice"))[0])
		return nil
	}))

	version, err := db.LayoutVersion()
	require.NoError(t, err)
	assert.Equal(t, CurrentLayoutVersion, version)
}

func TestOpenRejectsNewerLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")

	raw, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, raw.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], CurrentLayoutVersion+1)
		return b.Put(keyLayoutVersion, v[:])
	}))
	require.NoError(t, raw.Close())

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer than supported")
}
