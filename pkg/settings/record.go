// ABOUTME: Stored settings record and its msgpack encoding
// ABOUTME: Each record carries the origin view that wrote it
package settings

import (
	"bytes"
	"fmt"

	"github.com/classclock/classclock-go/pkg/timesync"
	"github.com/vmihailenco/msgpack/v5"
)

// Key is the storage key of the time sync settings
const Key = "timeSync"

// record is what gets persisted under Key
type record struct {
	Origin   string            `json:"origin"`
	Settings timesync.Settings `json:"settings"`
}

func encodeRecord(r record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(&r); err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (record, error) {
	var r record
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&r); err != nil {
		return record{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return r, nil
}
