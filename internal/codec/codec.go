// Package codec provides encode/decode interfaces for result snapshots.
package codec

import (
	"fmt"
	"strings"
)

// Codec encodes and decodes snapshot documents.
type Codec interface {
	// Marshal serializes v into bytes.
	Marshal(v any) ([]byte, error)
	// Unmarshal deserializes data into v (must be a pointer).
	Unmarshal(data []byte, v any) error
	// Name returns the codec identifier used in flags and diagnostics.
	Name() string
}

// ByName returns the codec registered under name ("json" or "msgpack").
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "msgpack", "mp":
		return MsgPack{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
