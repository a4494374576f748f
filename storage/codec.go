package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/omnia-iot/omnia-backend/codec"
)

const (
	// envelopeCBOR prefixes values written by layout 2.
	envelopeCBOR byte = 0x02
)

func encodeValue(v any) ([]byte, error) {
	payload, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 0, len(payload)+1)
	raw = append(raw, envelopeCBOR)
	return append(raw, payload...), nil
}

// decodeValue accepts CBOR envelopes and the bare JSON values of layout 1.
func decodeValue(raw []byte, v any) error {
	if len(raw) == 0 {
		return errors.New("empty value")
	}
	switch raw[0] {
	case envelopeCBOR:
		return codec.Unmarshal(raw[1:], v)
	case '{', '[', '"':
		return json.Unmarshal(raw, v)
	default:
		return fmt.Errorf("unknown value encoding 0x%02x", raw[0])
	}
}

func isLegacyJSON(raw []byte) bool {
	return len(raw) > 0 && raw[0] != envelopeCBOR
}
