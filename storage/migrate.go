package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"go.etcd.io/bbolt"
)

// CurrentLayoutVersion is the value layout written by this build.
const CurrentLayoutVersion uint32 = 2

// legacyLayoutVersion is assumed for a populated database without a version.
const legacyLayoutVersion uint32 = 1

// Migration upgrades the layout from From to From+1.
type Migration struct {
	From        uint32
	Description string
	Apply       func(tx *bbolt.Tx) (int, error)
}

var migrations = []Migration{
	{
		From:        1,
		Description: "re-encode JSON values as CBOR envelopes",
		Apply:       reencodeLegacyValues,
	},
}

// regionValue allocates the value type stored in a region.
func regionValue(region Region) (any, error) {
	switch region {
	case RegionPersonas:
		return new(interfaces.VirtualPersona), nil
	case RegionEnvironments:
		return new(interfaces.Environment), nil
	case RegionEnvironmentIndex:
		return new(interfaces.EnvironmentUID), nil
	case RegionRegisteredGateways:
		return new(interfaces.RegisteredGateway), nil
	case RegionIPChallenges:
		return new(interfaces.IPChallenge), nil
	case RegionInitializedGateways:
		return new(interfaces.InitializedGateway), nil
	case RegionPairingMailbox:
		return new(interfaces.Update), nil
	case RegionRegisteredDevices:
		return new(interfaces.RegisteredDevice), nil
	case RegionAccessKeys:
		return new(interfaces.AccessKey), nil
	case RegionSpentTransfers:
		return new(interfaces.SpentTransfer), nil
	}
	return nil, fmt.Errorf("no value type for %s", region)
}

// LayoutVersion returns the layout version recorded in the meta bucket.
func (db *DB) LayoutVersion() (uint32, error) {
	var version uint32
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		version = readLayoutVersion(tx)
		return nil
	})
	return version, err
}

func readLayoutVersion(tx *bbolt.Tx) uint32 {
	meta := tx.Bucket(bucketMeta)
	if meta == nil {
		return 0
	}
	raw := meta.Get(keyLayoutVersion)
	if len(raw) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(raw)
}

func writeLayoutVersion(tx *bbolt.Tx, version uint32) error {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], version)
	return tx.Bucket(bucketMeta).Put(keyLayoutVersion, raw[:])
}

func isEmpty(tx *bbolt.Tx) bool {
	for _, region := range Regions() {
		b := tx.Bucket(region.bucketName())
		if b == nil {
			continue
		}
		if k, _ := b.Cursor().First(); k != nil {
			return false
		}
	}
	return true
}

// migrate runs pending migrations in one transaction.
func (db *DB) migrate() error {
	return db.bolt.Update(func(tx *bbolt.Tx) error {
		version := readLayoutVersion(tx)
		if version == 0 {
			if isEmpty(tx) {
				return writeLayoutVersion(tx, CurrentLayoutVersion)
			}
			version = legacyLayoutVersion
		}
		if version > CurrentLayoutVersion {
			return fmt.Errorf("database layout %d is newer than supported layout %d", version, CurrentLayoutVersion)
		}

		for _, m := range migrations {
			if m.From != version {
				continue
			}
			rewritten, err := m.Apply(tx)
			if err != nil {
				return fmt.Errorf("migrating layout %d: %w", m.From, err)
			}
			version = m.From + 1
			db.log.Info("migrated database layout",
				"description", m.Description,
				"version", version,
				"rewritten", rewritten)
		}

		if version != CurrentLayoutVersion {
			return fmt.Errorf("no migration path from layout %d", version)
		}
		return writeLayoutVersion(tx, version)
	})
}

func reencodeLegacyValues(tx *bbolt.Tx) (int, error) {
	rewritten := 0
	for _, region := range Regions() {
		b := tx.Bucket(region.bucketName())
		if b == nil {
			continue
		}

		type entry struct{ key, raw []byte }
		var pending []entry
		err := b.ForEach(func(k, v []byte) error {
			if isLegacyJSON(v) {
				pending = append(pending, entry{
					key: append([]byte(nil), k...),
					raw: append([]byte(nil), v...),
				})
			}
			return nil
		})
		if err != nil {
			return rewritten, err
		}

		for _, e := range pending {
			value, err := regionValue(region)
			if err != nil {
				return rewritten, err
			}
			if err := decodeValue(e.raw, value); err != nil {
				return rewritten, fmt.Errorf("decoding legacy %s %q: %w", region, e.key, err)
			}
			encoded, err := encodeValue(value)
			if err != nil {
				return rewritten, err
			}
			if err := b.Put(e.key, encoded); err != nil {
				return rewritten, err
			}
			rewritten++
		}
	}
	return rewritten, nil
}
