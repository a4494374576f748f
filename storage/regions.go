package storage

import "fmt"

// Region is the persistence label of one entity family.
type Region uint8

const (
	RegionPersonas Region = iota
	RegionEnvironments
	RegionEnvironmentIndex
	RegionRegisteredGateways
	RegionIPChallenges
	RegionInitializedGateways
	RegionPairingMailbox
	RegionRegisteredDevices
	RegionAccessKeys
	RegionSpentTransfers
)

var regionNames = [...]string{
	RegionPersonas:            "persona",
	RegionEnvironments:        "environment",
	RegionEnvironmentIndex:    "environment index",
	RegionRegisteredGateways:  "registered gateway",
	RegionIPChallenges:        "ip challenge",
	RegionInitializedGateways: "initialized gateway",
	RegionPairingMailbox:      "gateway update",
	RegionRegisteredDevices:   "registered device",
	RegionAccessKeys:          "access key",
	RegionSpentTransfers:      "spent transfer",
}

// String returns the entity name used in NotFound and AlreadyExists errors.
func (r Region) String() string {
	if int(r) < len(regionNames) {
		return regionNames[r]
	}
	return fmt.Sprintf("region-%d", uint8(r))
}

func (r Region) bucketName() []byte {
	return []byte(fmt.Sprintf("region-%02d", uint8(r)))
}

// Regions lists every region in label order.
func Regions() []Region {
	regions := make([]Region, len(regionNames))
	for i := range regionNames {
		regions[i] = Region(i)
	}
	return regions
}

var (
	bucketMeta       = []byte("meta")
	keyLayoutVersion = []byte("layout_version")
)
