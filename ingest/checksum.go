package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// RecordKey forms the globally unique primary key for an entity:
// source id and natural key joined with ':'.
func RecordKey(sourceID, naturalKey string) string {
	return sourceID + ":" + naturalKey
}

// FieldChecksum computes a deterministic digest over the comparison-field
// subset of a record. Fields outside the comparison set may churn without
// producing a different checksum; that is the point.
//
// encoding/json marshals map keys in sorted order, which makes the digest
// independent of field insertion order.
func FieldChecksum(fields map[string]interface{}, compare []string) string {
	subset := make(map[string]interface{}, len(compare))
	for _, name := range compare {
		if v, ok := fields[name]; ok {
			subset[name] = v
		}
	}

	data, err := json.Marshal(subset)
	if err != nil {
		// Fields come from json.Unmarshal, so re-marshaling cannot fail;
		// an empty digest would silently classify everything as changed.
		panic("ingest: unmarshalable field set: " + err.Error())
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
